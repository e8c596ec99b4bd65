package replication

import (
	"encoding/binary"
	"errors"
	"math"
	"math/rand/v2"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/peersync/internal/core/protocol"
)

var ErrStaticIDsExhausted = errors.New("static entity ids exhausted")

// IDAllocator mints static entity ids. An id is only handed out again after
// Release.
//
// Peers mint independently, so the cursor starts at a random point and is
// moved to a point derived from the local peer id on Connect. Two peers then
// walk disjoint stretches of the id space unless their cursors land close.
type IDAllocator struct {
	mu   sync.Mutex
	next uint32
	used map[protocol.StaticEntityID]struct{}
}

func NewIDAllocator() *IDAllocator {
	return &IDAllocator{
		next: rand.Uint32N(math.MaxUint16 + 1),
		used: make(map[protocol.StaticEntityID]struct{}),
	}
}

// Seed moves the cursor. Reserved ids stay reserved.
func (a *IDAllocator) Seed(cursor protocol.StaticEntityID) {
	a.mu.Lock()
	a.next = uint32(cursor)
	a.mu.Unlock()
}

// CursorFor derives the allocation cursor of peer.
func CursorFor(peer protocol.PeerID) protocol.StaticEntityID {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(peer))
	return protocol.StaticEntityID(xxhash.Sum64(b[:]) & math.MaxUint16)
}

// Next returns the first free id at or after the cursor, wrapping once.
func (a *IDAllocator) Next() (protocol.StaticEntityID, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for range math.MaxUint16 + 1 {
		id := protocol.StaticEntityID(a.next)
		a.next = (a.next + 1) & math.MaxUint16
		if _, taken := a.used[id]; !taken {
			a.used[id] = struct{}{}
			return id, nil
		}
	}
	return 0, ErrStaticIDsExhausted
}

// Reserve marks id as used. It reports false if it already was.
func (a *IDAllocator) Reserve(id protocol.StaticEntityID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, taken := a.used[id]; taken {
		return false
	}
	a.used[id] = struct{}{}
	return true
}

func (a *IDAllocator) Release(id protocol.StaticEntityID) {
	a.mu.Lock()
	delete(a.used, id)
	a.mu.Unlock()
}

func (a *IDAllocator) InUse(id protocol.StaticEntityID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, taken := a.used[id]
	return taken
}
