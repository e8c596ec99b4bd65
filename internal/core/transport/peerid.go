package transport

import (
	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// RandomPeerID derives a non-zero peer id from a fresh random UUID.
func RandomPeerID() PeerID {
	for {
		u := uuid.New()
		if id := PeerID(xxhash.Sum64(u[:])); id != 0 {
			return id
		}
	}
}

// ResolvePeerID returns configured, or a random id when configured is zero.
func ResolvePeerID(configured uint64) PeerID {
	if configured != 0 {
		return PeerID(configured)
	}
	return RandomPeerID()
}
