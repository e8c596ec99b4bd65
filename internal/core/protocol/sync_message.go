package protocol

import (
	"encoding/binary"
	"math"

	"github.com/zeusync/peersync/pkg/encoding"
)

const (
	// SyncHeaderSize is the kind byte plus the u16 static entity id.
	SyncHeaderSize = 3
	// CreateHeaderSize adds the object info byte and the component count.
	CreateHeaderSize = SyncHeaderSize + 2
	// TupleHeaderSize is the u16 stable id plus the u8 payload length.
	TupleHeaderSize = 3

	MaxComponentPayload           = math.MaxUint8
	DefaultMaxComponentsPerEntity = 32
	MaxComponentsPerEntityLimit   = math.MaxUint8

	// SequenceComponentID is reserved for the update sequence tuple. Peers
	// that do not know it skip it like any unmatched component.
	SequenceComponentID encoding.StableID = math.MaxUint16
	sequencePayloadSize                   = 4
)

// ComponentTuple is one replicated component on the wire.
type ComponentTuple struct {
	ID      encoding.StableID
	Payload []byte
}

// CreateMessage announces a new networked entity:
//
//	[u8 kind][u16 LE static_id][u8 object_info][u8 count] count x tuple
type CreateMessage struct {
	StaticID   StaticEntityID
	Info       ObjectInfo
	Components []ComponentTuple
}

// UpdateMessage carries a full component snapshot:
//
//	[u8 kind][u16 LE static_id] tuple... (until end of packet)
//
// When HasSequence is set the first tuple is the reserved sequence tuple.
type UpdateMessage struct {
	StaticID    StaticEntityID
	Sequence    uint32
	HasSequence bool
	Components  []ComponentTuple
}

func normalizeMax(maxComponents int) int {
	if maxComponents <= 0 {
		return DefaultMaxComponentsPerEntity
	}
	if maxComponents > MaxComponentsPerEntityLimit {
		return MaxComponentsPerEntityLimit
	}
	return maxComponents
}

func appendSyncHeader(dst []byte, kind EventType, id StaticEntityID) []byte {
	dst = append(dst, byte(kind))
	return binary.LittleEndian.AppendUint16(dst, uint16(id))
}

func appendTuples(dst []byte, tuples []ComponentTuple) ([]byte, error) {
	for _, c := range tuples {
		if c.ID == SequenceComponentID {
			return dst, frameError(ErrReservedComponent, "component id %#x is reserved", uint16(c.ID))
		}
		if len(c.Payload) > MaxComponentPayload {
			return dst, frameError(ErrComponentTooLarge, "component %d payload of %d bytes exceeds %d", c.ID, len(c.Payload), MaxComponentPayload)
		}
		dst = binary.LittleEndian.AppendUint16(dst, uint16(c.ID))
		dst = append(dst, byte(len(c.Payload)))
		dst = append(dst, c.Payload...)
	}
	return dst, nil
}

func tuplesSize(tuples []ComponentTuple) int {
	n := 0
	for _, c := range tuples {
		n += TupleHeaderSize + len(c.Payload)
	}
	return n
}

// EncodeCreate renders an EntityCreate message.
func EncodeCreate(msg CreateMessage, maxComponents int) ([]byte, error) {
	maxComponents = normalizeMax(maxComponents)
	if len(msg.Components) > maxComponents {
		return nil, frameError(ErrTooManyComponents, "entity %d has %d components, limit %d", msg.StaticID, len(msg.Components), maxComponents)
	}

	buf := make([]byte, 0, CreateHeaderSize+tuplesSize(msg.Components))
	buf = appendSyncHeader(buf, EventTypeEntityCreate, msg.StaticID)
	buf = append(buf, msg.Info.Byte(), byte(len(msg.Components)))
	return appendTuples(buf, msg.Components)
}

// EncodeUpdate renders an EntityUpdate message.
func EncodeUpdate(msg UpdateMessage, maxComponents int) ([]byte, error) {
	maxComponents = normalizeMax(maxComponents)
	if len(msg.Components) > maxComponents {
		return nil, frameError(ErrTooManyComponents, "entity %d has %d components, limit %d", msg.StaticID, len(msg.Components), maxComponents)
	}

	size := SyncHeaderSize + tuplesSize(msg.Components)
	if msg.HasSequence {
		size += TupleHeaderSize + sequencePayloadSize
	}
	buf := make([]byte, 0, size)
	buf = appendSyncHeader(buf, EventTypeEntityUpdate, msg.StaticID)
	if msg.HasSequence {
		buf = binary.LittleEndian.AppendUint16(buf, uint16(SequenceComponentID))
		buf = append(buf, sequencePayloadSize)
		buf = binary.LittleEndian.AppendUint32(buf, msg.Sequence)
	}
	return appendTuples(buf, msg.Components)
}

// EncodeDelete renders an EntityDelete message.
func EncodeDelete(id StaticEntityID) []byte {
	return appendSyncHeader(make([]byte, 0, SyncHeaderSize), EventTypeEntityDelete, id)
}

// PeekSyncHeader reads the kind and static id of an entity sync message.
func PeekSyncHeader(data []byte) (EventType, StaticEntityID, error) {
	if len(data) == 0 {
		return 0, 0, frameError(ErrTruncatedFrame, "empty sync message")
	}
	kind, err := ParseEventType(data[0])
	if err != nil {
		return kind, 0, err
	}
	if !kind.IsSync() {
		return kind, 0, frameError(ErrUnexpectedKind, "%s is not an entity sync message", kind)
	}
	if len(data) < SyncHeaderSize {
		return kind, 0, frameError(ErrTruncatedFrame, "sync header needs %d bytes, got %d", SyncHeaderSize, len(data))
	}
	return kind, StaticEntityID(binary.LittleEndian.Uint16(data[1:3])), nil
}

func expectKind(data []byte, want EventType) (StaticEntityID, error) {
	kind, id, err := PeekSyncHeader(data)
	if err != nil {
		return 0, err
	}
	if kind != want {
		return 0, frameError(ErrUnexpectedKind, "expected %s, got %s", want, kind)
	}
	return id, nil
}

// readTuple parses one tuple at off. Payloads alias data.
func readTuple(data []byte, off int) (ComponentTuple, int, error) {
	if len(data)-off < TupleHeaderSize {
		return ComponentTuple{}, off, frameError(ErrTruncatedFrame, "tuple header at offset %d is truncated", off)
	}
	id := encoding.StableID(binary.LittleEndian.Uint16(data[off : off+2]))
	length := int(data[off+2])
	off += TupleHeaderSize
	if len(data)-off < length {
		return ComponentTuple{}, off, frameError(ErrTruncatedFrame, "component %d declares %d bytes, %d remain", id, length, len(data)-off)
	}
	return ComponentTuple{ID: id, Payload: data[off : off+length]}, off + length, nil
}

// DecodeCreate parses an EntityCreate message. Component payloads alias data.
func DecodeCreate(data []byte, maxComponents int) (CreateMessage, error) {
	maxComponents = normalizeMax(maxComponents)
	id, err := expectKind(data, EventTypeEntityCreate)
	if err != nil {
		return CreateMessage{}, err
	}
	if len(data) < CreateHeaderSize {
		return CreateMessage{}, frameError(ErrTruncatedFrame, "create header needs %d bytes, got %d", CreateHeaderSize, len(data))
	}

	msg := CreateMessage{
		StaticID: id,
		Info:     ObjectInfoFromByte(data[3]),
	}
	count := int(data[4])
	if count > maxComponents {
		return CreateMessage{}, frameError(ErrTooManyComponents, "entity %d declares %d components, limit %d", id, count, maxComponents)
	}

	msg.Components = make([]ComponentTuple, 0, count)
	off := CreateHeaderSize
	for i := 0; i < count; i++ {
		var tuple ComponentTuple
		tuple, off, err = readTuple(data, off)
		if err != nil {
			return CreateMessage{}, err
		}
		if tuple.ID == SequenceComponentID {
			return CreateMessage{}, frameError(ErrReservedComponent, "create for entity %d uses reserved component id", id)
		}
		msg.Components = append(msg.Components, tuple)
	}
	if off != len(data) {
		return CreateMessage{}, frameError(ErrLengthMismatch, "create for entity %d has %d trailing bytes", id, len(data)-off)
	}
	return msg, nil
}

// DecodeUpdate parses an EntityUpdate message. Decoding stops with
// ErrTooManyComponents as soon as the stream exceeds maxComponents, so a
// hostile packet cannot drive unbounded work. Component payloads alias data.
func DecodeUpdate(data []byte, maxComponents int) (UpdateMessage, error) {
	maxComponents = normalizeMax(maxComponents)
	id, err := expectKind(data, EventTypeEntityUpdate)
	if err != nil {
		return UpdateMessage{}, err
	}

	msg := UpdateMessage{StaticID: id}
	off := SyncHeaderSize
	for off < len(data) {
		var tuple ComponentTuple
		tuple, off, err = readTuple(data, off)
		if err != nil {
			return UpdateMessage{}, err
		}

		if tuple.ID == SequenceComponentID {
			if msg.HasSequence || len(msg.Components) > 0 {
				return UpdateMessage{}, frameError(ErrReservedComponent, "sequence tuple for entity %d must come first and only once", id)
			}
			if len(tuple.Payload) != sequencePayloadSize {
				return UpdateMessage{}, frameError(ErrLengthMismatch, "sequence tuple for entity %d has %d bytes", id, len(tuple.Payload))
			}
			msg.Sequence = binary.LittleEndian.Uint32(tuple.Payload)
			msg.HasSequence = true
			continue
		}

		if len(msg.Components) >= maxComponents {
			return UpdateMessage{}, frameError(ErrTooManyComponents, "update for entity %d exceeds %d components", id, maxComponents)
		}
		msg.Components = append(msg.Components, tuple)
	}
	return msg, nil
}

// DecodeDelete parses an EntityDelete message.
func DecodeDelete(data []byte) (StaticEntityID, error) {
	id, err := expectKind(data, EventTypeEntityDelete)
	if err != nil {
		return 0, err
	}
	if len(data) != SyncHeaderSize {
		return 0, frameError(ErrLengthMismatch, "delete for entity %d has %d trailing bytes", id, len(data)-SyncHeaderSize)
	}
	return id, nil
}

// SequenceNewer reports whether a is newer than b in serial number
// arithmetic, so the comparison survives wraparound.
func SequenceNewer(a, b uint32) bool {
	return int32(a-b) > 0
}
