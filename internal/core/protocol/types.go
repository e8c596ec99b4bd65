package protocol

import (
	"fmt"
	"strconv"
)

// PeerID identifies a peer within a transport session.
type PeerID uint64

func (p PeerID) String() string {
	return strconv.FormatUint(uint64(p), 16)
}

// StaticEntityID correlates a Master with its Slaves on every peer.
type StaticEntityID uint16

// EventType is the leading discriminant of every packet. The numeric values
// are part of the wire contract: append only, never renumber.
type EventType uint8

const (
	EventTypeEntityCreate EventType = iota
	EventTypeEntityDelete
	EventTypeEntityUpdate
	EventTypePlayerJoin
	EventTypePlayerLeave
	EventTypeEvent

	// EventTypeCount is the number of defined event types.
	EventTypeCount = 6
)

// EventType string representation
func (t EventType) String() string {
	switch t {
	case EventTypeEntityCreate:
		return "entity_create"
	case EventTypeEntityDelete:
		return "entity_delete"
	case EventTypeEntityUpdate:
		return "entity_update"
	case EventTypePlayerJoin:
		return "player_join"
	case EventTypePlayerLeave:
		return "player_leave"
	case EventTypeEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the defined event types.
func (t EventType) Valid() bool {
	return t < EventTypeCount
}

// IsSync reports whether packets of this type use the entity sync framing
// rather than the generic event framing.
func (t EventType) IsSync() bool {
	switch t {
	case EventTypeEntityCreate, EventTypeEntityDelete, EventTypeEntityUpdate:
		return true
	default:
		return false
	}
}

// ParseEventType validates a raw discriminant byte.
func ParseEventType(b byte) (EventType, error) {
	t := EventType(b)
	if !t.Valid() {
		return t, NewProtocolError(ErrorCodeUnknownEventType, "unknown event type", ErrUnknownEventType).
			WithContext("discriminant", b)
	}
	return t, nil
}

// ObjectInfo is the per-entity flag byte carried by EntityCreate.
type ObjectInfo struct {
	PeriodicSync             bool
	DestroyOnOwnerDisconnect bool
}

const (
	objectInfoPeriodicSync uint8 = 1 << iota
	objectInfoDestroyOnOwnerDisconnect
)

func (o ObjectInfo) Byte() uint8 {
	var b uint8
	if o.PeriodicSync {
		b |= objectInfoPeriodicSync
	}
	if o.DestroyOnOwnerDisconnect {
		b |= objectInfoDestroyOnOwnerDisconnect
	}
	return b
}

func ObjectInfoFromByte(b uint8) ObjectInfo {
	return ObjectInfo{
		PeriodicSync:             b&objectInfoPeriodicSync != 0,
		DestroyOnOwnerDisconnect: b&objectInfoDestroyOnOwnerDisconnect != 0,
	}
}
