// Package encoding defines the byte-serialization capability every replicable
// component implements, and a generic CBOR-backed implementation of it.
package encoding

import "errors"

// StableID identifies a component type on the wire. Unlike a process-local
// type identity it must be the same in every peer's binary.
type StableID uint16

var (
	ErrEncodeFailed = errors.New("component encode failed")
	ErrDecodeFailed = errors.New("component decode failed")
)

// Serializable is implemented by any component type that takes part in
// replication.
type Serializable interface {
	// ToBytes encodes the current value.
	ToBytes() ([]byte, error)
	// FromBytes overwrites the value in place. On error the value is unchanged.
	FromBytes(data []byte) error
	// ByteLength is the length ToBytes would currently produce.
	ByteLength() int
	// StableTypeID is the registered wire identifier of the type.
	StableTypeID() StableID
}

// FindByID returns the first component whose StableTypeID equals id.
func FindByID(components []Serializable, id StableID) (Serializable, bool) {
	for _, c := range components {
		if c != nil && c.StableTypeID() == id {
			return c, true
		}
	}
	return nil, false
}
