// Package registry maps replicable component types to stable wire ids.
//
// Ids are assigned by the application, never derived from process-local type
// metadata, so every peer that registers the same table agrees on them.
package registry

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/zeusync/peersync/pkg/encoding"
)

// ReservedID is used by the wire codec and can never be registered.
const ReservedID encoding.StableID = 0xFFFF

var (
	ErrReservedID        = errors.New("stable id is reserved")
	ErrIDTaken           = errors.New("stable id already registered to another type")
	ErrTypeRegistered    = errors.New("type already registered under another stable id")
	ErrUnknownID         = errors.New("stable id not registered")
	ErrUnregisteredType  = errors.New("type not registered")
	ErrFactoryIDMismatch = errors.New("factory produced component with wrong stable id")
)

// Factory builds an empty component ready to receive FromBytes.
type Factory func() encoding.Serializable

type entry struct {
	id      encoding.StableID
	name    string
	typ     reflect.Type
	factory Factory
}

// Registry is a concurrency-safe table of component types.
type Registry struct {
	mu     sync.RWMutex
	byID   map[encoding.StableID]entry
	byType map[reflect.Type]encoding.StableID
}

// Default is the process-wide table used by Register and friends when no
// explicit registry is passed around.
var Default = New()

func New() *Registry {
	return &Registry{
		byID:   make(map[encoding.StableID]entry),
		byType: make(map[reflect.Type]encoding.StableID),
	}
}

// Register binds T to id. Registering the same T under the same id again is
// a no-op; any other collision is an error.
func Register[T any](r *Registry, id encoding.StableID) (encoding.StableID, error) {
	typ := reflect.TypeFor[T]()
	return id, r.add(entry{
		id:   id,
		name: typ.String(),
		typ:  typ,
		factory: func() encoding.Serializable {
			var zero T
			return encoding.NewValue(id, zero)
		},
	})
}

// MustRegister is Register for package-level init tables.
func MustRegister[T any](r *Registry, id encoding.StableID) encoding.StableID {
	id, err := Register[T](r, id)
	if err != nil {
		panic(err)
	}
	return id
}

// RegisterFactory binds a hand-written Serializable implementation to id.
// name must be identical on every peer; it feeds the table digest.
func (r *Registry) RegisterFactory(id encoding.StableID, name string, factory Factory) error {
	sample := factory()
	if sample == nil || sample.StableTypeID() != id {
		return fmt.Errorf("%w: %q for id %d", ErrFactoryIDMismatch, name, id)
	}
	return r.add(entry{
		id:      id,
		name:    name,
		typ:     reflect.TypeOf(sample),
		factory: factory,
	})
}

func (r *Registry) add(e entry) error {
	if e.id == ReservedID {
		return fmt.Errorf("%w: %#x", ErrReservedID, uint16(e.id))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.byType[e.typ]; ok {
		if existing == e.id {
			return nil
		}
		return fmt.Errorf("%w: %s has id %d, requested %d", ErrTypeRegistered, e.name, existing, e.id)
	}
	if taken, ok := r.byID[e.id]; ok {
		return fmt.Errorf("%w: id %d belongs to %s", ErrIDTaken, e.id, taken.name)
	}

	r.byID[e.id] = e
	r.byType[e.typ] = e.id
	return nil
}

// IDOf returns the stable id registered for T.
func IDOf[T any](r *Registry) (encoding.StableID, error) {
	typ := reflect.TypeFor[T]()
	r.mu.RLock()
	id, ok := r.byType[typ]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnregisteredType, typ)
	}
	return id, nil
}

// NewComponent builds a component of type T carrying its registered stable id.
func NewComponent[T any](r *Registry, value T) (*encoding.Value[T], error) {
	id, err := IDOf[T](r)
	if err != nil {
		return nil, err
	}
	return encoding.NewValue(id, value), nil
}

// Lookup returns the registered type name for id.
func (r *Registry) Lookup(id encoding.StableID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e.name, ok
}

// Factory builds an empty component for id.
func (r *Registry) Factory(id encoding.StableID) (encoding.Serializable, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownID, id)
	}
	return e.factory(), nil
}

// IDs returns every registered id in ascending order.
func (r *Registry) IDs() []encoding.StableID {
	r.mu.RLock()
	ids := make([]encoding.StableID, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// Digest hashes the sorted (id, name) table. Peers exchange it on join to
// detect schema drift.
func (r *Registry) Digest() uint64 {
	ids := r.IDs()

	r.mu.RLock()
	defer r.mu.RUnlock()

	h := xxhash.New()
	buf := make([]byte, 0, 64)
	for _, id := range ids {
		buf = strconv.AppendUint(buf[:0], uint64(id), 10)
		buf = append(buf, ':')
		buf = append(buf, r.byID[id].name...)
		buf = append(buf, '\n')
		_, _ = h.Write(buf)
	}
	return h.Sum64()
}
