package transport

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInbox_FIFOAndShortBuffer(t *testing.T) {
	in := NewInbox(0)
	_, ok := in.Peek()
	assert.False(t, ok)

	require.True(t, in.Push(Packet{From: 1, Data: []byte("first")}))
	require.True(t, in.Push(Packet{From: 2, Data: []byte("second!")}))

	size, ok := in.Peek()
	require.True(t, ok)
	assert.Equal(t, 5, size)

	small := make([]byte, 2)
	_, n, err := in.Pop(small)
	assert.ErrorIs(t, err, ErrShortBuffer)
	assert.Equal(t, 5, n)
	assert.Equal(t, 2, in.Len())

	buf := make([]byte, 16)
	from, n, err := in.Pop(buf)
	require.NoError(t, err)
	assert.Equal(t, PeerID(1), from)
	assert.Equal(t, "first", string(buf[:n]))

	from, n, err = in.Pop(buf)
	require.NoError(t, err)
	assert.Equal(t, PeerID(2), from)
	assert.Equal(t, "second!", string(buf[:n]))

	_, _, err = in.Pop(buf)
	assert.ErrorIs(t, err, ErrNoPacket)
}

func TestInbox_LimitDrops(t *testing.T) {
	in := NewInbox(2)
	assert.True(t, in.Push(Packet{Data: []byte{1}}))
	assert.True(t, in.Push(Packet{Data: []byte{2}}))
	assert.False(t, in.Push(Packet{Data: []byte{3}}))
	assert.Equal(t, uint64(1), in.Dropped())

	in.Reset()
	assert.Equal(t, 0, in.Len())
}

func TestInbox_CompactsUnderSteadyLoad(t *testing.T) {
	in := NewInbox(0)
	buf := make([]byte, 1)
	for i := 0; i < 1000; i++ {
		in.Push(Packet{Data: []byte{byte(i)}})
		in.Push(Packet{Data: []byte{byte(i)}})
		_, _, err := in.Pop(buf)
		require.NoError(t, err)
	}
	assert.Equal(t, 1000, in.Len())
	for i := 0; i < 1000; i++ {
		_, _, err := in.Pop(buf)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, in.Len())
}

func TestRoster(t *testing.T) {
	r := NewRoster[string]()
	got, added := r.Add(2, "b")
	assert.True(t, added)
	assert.Equal(t, "b", got)

	got, added = r.Add(2, "b2")
	assert.False(t, added)
	assert.Equal(t, "b", got)

	r.Add(1, "a")
	assert.Equal(t, []PeerID{1, 2}, r.IDs())

	assert.False(t, r.RemoveIf(2, func(c string) bool { return c == "b2" }))
	assert.True(t, r.RemoveIf(2, func(c string) bool { return c == "b" }))
	_, ok := r.Get(2)
	assert.False(t, ok)

	prev, had := r.Replace(1, "a2")
	assert.True(t, had)
	assert.Equal(t, "a", prev)

	assert.Equal(t, []string{"a2"}, r.Drain())
	assert.Equal(t, 0, r.Len())
}

func TestFrame_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("abc")))
	require.NoError(t, WriteFrame(&buf, nil))

	data, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), data)

	data, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = ReadFrame(&buf)
	assert.ErrorIs(t, err, io.EOF)

	assert.ErrorIs(t, WriteFrame(&buf, make([]byte, MaxFrameSize+1)), ErrFrameTooLarge)

	_, err = ReadFrame(bytes.NewReader([]byte{0xFF, 0xFF, 0xFF, 0xFF}))
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestHello(t *testing.T) {
	h := Hello{Peer: 0xABCDEF, AppID: 480}
	decoded, err := UnmarshalHello(h.Marshal())
	require.NoError(t, err)
	assert.Equal(t, h, decoded)

	require.NoError(t, decoded.Check(1, 480))
	assert.ErrorIs(t, decoded.Check(1, 481), ErrAppIDMismatch)
	assert.Error(t, decoded.Check(0xABCDEF, 480))

	_, err = UnmarshalHello([]byte{1, 2})
	assert.Error(t, err)
}

func TestResolvePeerID(t *testing.T) {
	assert.Equal(t, PeerID(9), ResolvePeerID(9))
	a := ResolvePeerID(0)
	b := ResolvePeerID(0)
	assert.NotZero(t, a)
	assert.NotEqual(t, a, b)
}

func TestSendModeString(t *testing.T) {
	assert.Equal(t, "reliable", Reliable.String())
	assert.Equal(t, "unreliable", Unreliable.String())
	assert.Equal(t, "unknown", SendMode(9).String())
}
