// Package models holds the minimal entity world the replication engine
// attaches networked components to. Game code owns the components; the world
// only tracks which entity holds which components and the parent/child links
// used for recursive despawn.
package models

import (
	"errors"
	"fmt"
	"sync"

	"github.com/zeusync/peersync/pkg/encoding"
)

type EntityID uint64

var ErrEntityNotFound = errors.New("entity not found")

type entity struct {
	parent     EntityID
	hasParent  bool
	children   []EntityID
	components []encoding.Serializable
}

// World is a concurrency-safe entity table. Component values themselves are
// not locked; they are mutated from the single tick goroutine.
type World struct {
	mu       sync.RWMutex
	next     EntityID
	entities map[EntityID]*entity
}

func NewWorld() *World {
	return &World{
		entities: make(map[EntityID]*entity),
	}
}

// Spawn creates a root entity holding components.
func (w *World) Spawn(components ...encoding.Serializable) EntityID {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.spawnLocked(components)
}

// SpawnChild creates an entity that is despawned together with parent.
func (w *World) SpawnChild(parent EntityID, components ...encoding.Serializable) (EntityID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, ok := w.entities[parent]
	if !ok {
		return 0, fmt.Errorf("%w: parent %d", ErrEntityNotFound, parent)
	}
	id := w.spawnLocked(components)
	w.entities[id].parent = parent
	w.entities[id].hasParent = true
	p.children = append(p.children, id)
	return id, nil
}

func (w *World) spawnLocked(components []encoding.Serializable) EntityID {
	w.next++
	id := w.next
	e := &entity{}
	for _, c := range components {
		e.put(c)
	}
	w.entities[id] = e
	return id
}

// put replaces a component with the same stable id, or appends it.
func (e *entity) put(c encoding.Serializable) {
	if c == nil {
		return
	}
	for i, existing := range e.components {
		if existing.StableTypeID() == c.StableTypeID() {
			e.components[i] = c
			return
		}
	}
	e.components = append(e.components, c)
}

// AddComponents attaches components to id, replacing any with the same
// stable id.
func (w *World) AddComponents(id EntityID, components ...encoding.Serializable) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return fmt.Errorf("%w: %d", ErrEntityNotFound, id)
	}
	for _, c := range components {
		e.put(c)
	}
	return nil
}

// Components returns the live components of id in attach order. The slice is
// a copy; the components are not.
func (w *World) Components(id EntityID) ([]encoding.Serializable, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	out := make([]encoding.Serializable, len(e.components))
	copy(out, e.components)
	return out, true
}

// Component returns the component of id with the given stable id.
func (w *World) Component(id EntityID, stable encoding.StableID) (encoding.Serializable, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	e, ok := w.entities[id]
	if !ok {
		return nil, false
	}
	return encoding.FindByID(e.components, stable)
}

func (w *World) Exists(id EntityID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.entities[id]
	return ok
}

func (w *World) Parent(id EntityID) (EntityID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[id]
	if !ok || !e.hasParent {
		return 0, false
	}
	return e.parent, true
}

func (w *World) Children(id EntityID) []EntityID {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entities[id]
	if !ok {
		return nil
	}
	return append([]EntityID(nil), e.children...)
}

// Despawn removes id and all of its descendants. It returns the number of
// entities removed; zero when id does not exist.
func (w *World) Despawn(id EntityID) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	e, ok := w.entities[id]
	if !ok {
		return 0
	}
	if e.hasParent {
		if p, ok := w.entities[e.parent]; ok {
			p.children = removeID(p.children, id)
		}
	}

	removed := 0
	stack := []EntityID{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		ce, ok := w.entities[cur]
		if !ok {
			continue
		}
		stack = append(stack, ce.children...)
		delete(w.entities, cur)
		removed++
	}
	return removed
}

func (w *World) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.entities)
}

func removeID(ids []EntityID, id EntityID) []EntityID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}
