package transport

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// FrameHeaderSize is the big-endian u32 length prefix used on streams.
	FrameHeaderSize = 4
	// MaxFrameSize bounds a single stream frame.
	MaxFrameSize = 1 << 20

	// HelloSize is the handshake frame: u64 peer id, u32 app id.
	HelloSize = 12
)

// WriteFrame writes a length-prefixed frame to w in a single Write call.
func WriteFrame(w io.Writer, data []byte) error {
	if len(data) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(data))
	}
	buf := make([]byte, FrameHeaderSize+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[FrameHeaderSize:], data)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame from r.
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [FrameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Hello is the handshake both ends of a connection exchange first.
type Hello struct {
	Peer  PeerID
	AppID uint32
}

func (h Hello) Marshal() []byte {
	buf := make([]byte, HelloSize)
	binary.LittleEndian.PutUint64(buf, uint64(h.Peer))
	binary.LittleEndian.PutUint32(buf[8:], h.AppID)
	return buf
}

func UnmarshalHello(data []byte) (Hello, error) {
	if len(data) != HelloSize {
		return Hello{}, fmt.Errorf("hello frame has %d bytes, want %d", len(data), HelloSize)
	}
	return Hello{
		Peer:  PeerID(binary.LittleEndian.Uint64(data)),
		AppID: binary.LittleEndian.Uint32(data[8:]),
	}, nil
}

// Check validates a remote hello against the local session.
func (h Hello) Check(local PeerID, appID uint32) error {
	if h.AppID != appID {
		return fmt.Errorf("%w: got %d, want %d", ErrAppIDMismatch, h.AppID, appID)
	}
	if h.Peer == 0 || h.Peer == local {
		return fmt.Errorf("invalid remote peer id %s", h.Peer)
	}
	return nil
}
