package protocol

import (
	"encoding/binary"
	"math"
)

const (
	// EventHeaderSize is the discriminant byte plus the u16 payload length.
	EventHeaderSize = 3
	// MaxEventPayload is the largest payload the u16 length field can carry.
	MaxEventPayload = math.MaxUint16
)

// Event is a tagged, length-prefixed message:
//
//	[u8 type][u16 LE payload length][payload]
//
// The length field counts payload bytes only.
type Event struct {
	Type    EventType
	Payload []byte

	// From is filled in on receipt and never encoded.
	From PeerID
}

func NewEvent(t EventType, payload []byte) Event {
	return Event{Type: t, Payload: payload}
}

// EncodeEvent renders e in the generic event framing.
func EncodeEvent(e Event) ([]byte, error) {
	return AppendEvent(make([]byte, 0, EventHeaderSize+len(e.Payload)), e)
}

// AppendEvent appends the framed event to dst.
func AppendEvent(dst []byte, e Event) ([]byte, error) {
	if !e.Type.Valid() {
		return dst, frameError(ErrUnknownEventType, "cannot encode event type %d", uint8(e.Type))
	}
	if len(e.Payload) > MaxEventPayload {
		return dst, frameError(ErrPayloadTooLarge, "event payload of %d bytes exceeds %d", len(e.Payload), MaxEventPayload)
	}
	dst = append(dst, byte(e.Type))
	dst = binary.LittleEndian.AppendUint16(dst, uint16(len(e.Payload)))
	return append(dst, e.Payload...), nil
}

// DecodeEvent parses a generic event frame. The frame must contain exactly
// the number of payload bytes its length field declares. The returned payload
// does not alias data.
func DecodeEvent(data []byte) (Event, error) {
	if len(data) == 0 {
		return Event{}, frameError(ErrTruncatedFrame, "empty event frame")
	}
	t, err := ParseEventType(data[0])
	if err != nil {
		return Event{}, err
	}
	if len(data) < EventHeaderSize {
		return Event{}, frameError(ErrTruncatedFrame, "event header needs %d bytes, got %d", EventHeaderSize, len(data))
	}

	length := int(binary.LittleEndian.Uint16(data[1:3]))
	body := data[EventHeaderSize:]
	switch {
	case len(body) < length:
		return Event{}, frameError(ErrTruncatedFrame, "event declares %d payload bytes, got %d", length, len(body))
	case len(body) > length:
		return Event{}, frameError(ErrLengthMismatch, "event declares %d payload bytes, frame carries %d", length, len(body))
	}

	payload := make([]byte, length)
	copy(payload, body)
	return Event{Type: t, Payload: payload}, nil
}

// EventTypeOf reads the leading discriminant of any packet.
func EventTypeOf(data []byte) (EventType, error) {
	if len(data) == 0 {
		return 0, frameError(ErrTruncatedFrame, "empty packet")
	}
	return ParseEventType(data[0])
}
