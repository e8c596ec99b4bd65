// Package transport defines the packet transport the replication engine runs
// on, plus the building blocks shared by its adapters.
//
// A Transport is a poll-style, message-oriented peer mesh: adapters run their
// own goroutines and push received packets into an Inbox, while the engine
// only ever performs zero-wait checks from its tick.
package transport

import (
	"context"
	"errors"

	"github.com/zeusync/peersync/internal/core/protocol"
)

type PeerID = protocol.PeerID

// SendMode selects the delivery guarantee of a packet.
type SendMode uint8

const (
	// Reliable packets arrive exactly once and in send order per peer.
	Reliable SendMode = iota
	// Unreliable packets may be lost, duplicated or reordered.
	Unreliable
)

func (m SendMode) String() string {
	switch m {
	case Reliable:
		return "reliable"
	case Unreliable:
		return "unreliable"
	default:
		return "unknown"
	}
}

// Kind names a transport adapter in configuration.
type Kind string

const (
	KindQUIC      Kind = "quic"
	KindWebSocket Kind = "websocket"
	KindMemory    Kind = "memory"
)

var (
	ErrPeerNotFound   = errors.New("peer not found")
	ErrShortBuffer    = errors.New("buffer too small for packet")
	ErrClosed         = errors.New("transport closed")
	ErrNotConnected   = errors.New("transport not connected")
	ErrNoPacket       = errors.New("no packet available")
	ErrAppIDMismatch  = errors.New("remote app id mismatch")
	ErrFrameTooLarge  = errors.New("frame too large")
	ErrUnknownKind    = errors.New("unknown transport kind")
	ErrAlreadyStarted = errors.New("transport already connected")
)

// Transport is the capability the replication session drives.
type Transport interface {
	// Connect joins the session identified by appID and returns the local
	// peer id.
	Connect(ctx context.Context, appID uint32) (PeerID, error)
	// PacketAvailable reports the size of the next packet without blocking.
	PacketAvailable() (size int, ok bool)
	// ReadPacket pops the next packet into buf. When buf is too small it
	// returns ErrShortBuffer and leaves the packet queued.
	ReadPacket(buf []byte) (PeerID, int, error)
	// SendPacket sends data to peer. data may be reused after return.
	SendPacket(peer PeerID, mode SendMode, data []byte) error
	// Peers lists the currently connected remote peers.
	Peers() []PeerID
	Close() error
}
