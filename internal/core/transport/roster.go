package transport

import (
	"sort"
	"sync"
)

// Roster tracks the live connections of an adapter keyed by peer id.
type Roster[C any] struct {
	mu    sync.RWMutex
	conns map[PeerID]C
}

func NewRoster[C any]() *Roster[C] {
	return &Roster[C]{conns: make(map[PeerID]C)}
}

// Add stores conn for id unless one is already present; it returns the
// connection that ended up in the roster and whether conn was stored.
func (r *Roster[C]) Add(id PeerID, conn C) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.conns[id]; ok {
		return existing, false
	}
	r.conns[id] = conn
	return conn, true
}

// Replace stores conn for id and returns the previous connection, if any.
func (r *Roster[C]) Replace(id PeerID, conn C) (C, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.conns[id]
	r.conns[id] = conn
	return prev, ok
}

func (r *Roster[C]) Get(id PeerID) (C, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[id]
	return c, ok
}

// RemoveIf deletes id only while it still maps to a connection for which
// match returns true.
func (r *Roster[C]) RemoveIf(id PeerID, match func(C) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.conns[id]
	if !ok || !match(c) {
		return false
	}
	delete(r.conns, id)
	return true
}

// IDs returns the connected peer ids in ascending order.
func (r *Roster[C]) IDs() []PeerID {
	r.mu.RLock()
	ids := make([]PeerID, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Drain empties the roster and returns every connection it held.
func (r *Roster[C]) Drain() []C {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]C, 0, len(r.conns))
	for id, c := range r.conns {
		out = append(out, c)
		delete(r.conns, id)
	}
	return out
}

func (r *Roster[C]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
