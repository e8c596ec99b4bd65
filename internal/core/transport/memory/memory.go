// Package memory is an in-process transport. Every Endpoint created from the
// same Hub and connected with the same app id sees every other one, which
// makes it the loopback used by tests and single-process demos.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/zeusync/peersync/internal/core/transport"
)

var _ transport.Transport = (*Endpoint)(nil)

// DropFunc decides whether an unreliable packet is lost in flight.
type DropFunc func(from, to transport.PeerID, data []byte) bool

// Hub connects endpoints.
type Hub struct {
	mu        sync.RWMutex
	endpoints map[transport.PeerID]member
	drop      DropFunc
	inboxSize int
}

type Option func(*Hub)

// WithUnreliableDrop installs a loss model for unreliable packets.
func WithUnreliableDrop(fn DropFunc) Option {
	return func(h *Hub) { h.drop = fn }
}

// WithInboxSize bounds each endpoint's inbox.
func WithInboxSize(n int) Option {
	return func(h *Hub) { h.inboxSize = n }
}

type member struct {
	ep    *Endpoint
	appID uint32
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{endpoints: make(map[transport.PeerID]member)}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Endpoint returns a new unconnected endpoint. A zero id is replaced with a
// random one on Connect.
func (h *Hub) Endpoint(id transport.PeerID) *Endpoint {
	return &Endpoint{hub: h, id: id, inbox: transport.NewInbox(h.inboxSize)}
}

// Pending counts packets queued across every connected endpoint.
func (h *Hub) Pending() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, m := range h.endpoints {
		n += m.ep.inbox.Len()
	}
	return n
}

// Disconnect removes id from the hub as if its process vanished, without the
// endpoint calling Close.
func (h *Hub) Disconnect(id transport.PeerID) {
	h.mu.Lock()
	m, ok := h.endpoints[id]
	delete(h.endpoints, id)
	h.mu.Unlock()
	if ok {
		m.ep.mu.Lock()
		m.ep.connected = false
		m.ep.mu.Unlock()
	}
}

func (h *Hub) lookup(id transport.PeerID) (member, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.endpoints[id]
	return m, ok
}

// Endpoint is one peer attached to a Hub.
type Endpoint struct {
	hub   *Hub
	inbox *transport.Inbox

	mu        sync.RWMutex
	id        transport.PeerID
	appID     uint32
	connected bool
	closed    bool
}

func (e *Endpoint) Connect(ctx context.Context, appID uint32) (transport.PeerID, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, transport.ErrClosed
	}
	if e.connected {
		return 0, transport.ErrAlreadyStarted
	}

	e.hub.mu.Lock()
	defer e.hub.mu.Unlock()
	for e.id == 0 {
		id := transport.RandomPeerID()
		if _, taken := e.hub.endpoints[id]; !taken {
			e.id = id
		}
	}
	if _, taken := e.hub.endpoints[e.id]; taken {
		return 0, transport.ErrAlreadyStarted
	}
	e.hub.endpoints[e.id] = member{ep: e, appID: appID}
	e.appID = appID
	e.connected = true
	return e.id, nil
}

func (e *Endpoint) PacketAvailable() (int, bool) {
	return e.inbox.Peek()
}

func (e *Endpoint) ReadPacket(buf []byte) (transport.PeerID, int, error) {
	return e.inbox.Pop(buf)
}

func (e *Endpoint) SendPacket(peer transport.PeerID, mode transport.SendMode, data []byte) error {
	e.mu.RLock()
	from, appID, connected := e.id, e.appID, e.connected
	e.mu.RUnlock()
	if !connected {
		return transport.ErrNotConnected
	}

	target, ok := e.hub.lookup(peer)
	if !ok || target.appID != appID {
		return transport.ErrPeerNotFound
	}
	if mode == transport.Unreliable && e.hub.drop != nil && e.hub.drop(from, peer, data) {
		return nil
	}

	cp := make([]byte, len(data))
	copy(cp, data)
	target.ep.inbox.Push(transport.Packet{From: from, Data: cp})
	return nil
}

func (e *Endpoint) Peers() []transport.PeerID {
	e.mu.RLock()
	self, appID, connected := e.id, e.appID, e.connected
	e.mu.RUnlock()
	if !connected {
		return nil
	}

	e.hub.mu.RLock()
	peers := make([]transport.PeerID, 0, len(e.hub.endpoints))
	for id, m := range e.hub.endpoints {
		if id != self && m.appID == appID {
			peers = append(peers, id)
		}
	}
	e.hub.mu.RUnlock()

	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}

func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	wasConnected := e.connected
	e.connected = false
	id := e.id
	e.mu.Unlock()

	if wasConnected {
		e.hub.mu.Lock()
		if m, ok := e.hub.endpoints[id]; ok && m.ep == e {
			delete(e.hub.endpoints, id)
		}
		e.hub.mu.Unlock()
	}
	e.inbox.Reset()
	return nil
}

// ID returns the endpoint's peer id, zero before Connect.
func (e *Endpoint) ID() transport.PeerID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.id
}
