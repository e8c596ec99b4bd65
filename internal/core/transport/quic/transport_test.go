package quic

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/transport"
)

const appID = 480

func startPair(t *testing.T) (*Transport, *Transport) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := New(Config{ListenAddr: "127.0.0.1:0", PeerID: 1}, log.NewNop())
	_, err := a.Connect(ctx, appID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	b := New(Config{PeerID: 2, Peers: []string{a.Addr().String()}}, log.NewNop())
	_, err = b.Connect(ctx, appID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	return a, b
}

func readOne(t *testing.T, tr *Transport) (transport.PeerID, []byte) {
	t.Helper()
	var size int
	require.Eventually(t, func() bool {
		var ok bool
		size, ok = tr.PacketAvailable()
		return ok
	}, 5*time.Second, 5*time.Millisecond)

	buf := make([]byte, size)
	from, n, err := tr.ReadPacket(buf)
	require.NoError(t, err)
	return from, buf[:n]
}

func TestQUIC_HandshakeAndReliable(t *testing.T) {
	a, b := startPair(t)
	assert.Equal(t, []transport.PeerID{2}, a.Peers())
	assert.Equal(t, []transport.PeerID{1}, b.Peers())

	for i := 0; i < 10; i++ {
		require.NoError(t, b.SendPacket(1, transport.Reliable, []byte{byte(i)}))
	}
	for i := 0; i < 10; i++ {
		from, data := readOne(t, a)
		assert.Equal(t, transport.PeerID(2), from)
		assert.Equal(t, []byte{byte(i)}, data)
	}
}

func TestQUIC_Unreliable(t *testing.T) {
	a, b := startPair(t)

	require.NoError(t, a.SendPacket(2, transport.Unreliable, []byte("snapshot")))
	from, data := readOne(t, b)
	assert.Equal(t, transport.PeerID(1), from)
	assert.Equal(t, []byte("snapshot"), data)

	large := bytes.Repeat([]byte{7}, 8000)
	require.NoError(t, a.SendPacket(2, transport.Unreliable, large))
	_, data = readOne(t, b)
	assert.Equal(t, large, data)
}

func TestQUIC_UnknownPeer(t *testing.T) {
	a, _ := startPair(t)
	assert.ErrorIs(t, a.SendPacket(99, transport.Reliable, nil), transport.ErrPeerNotFound)
}

func TestQUIC_AppIDMismatchRejected(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a := New(Config{ListenAddr: "127.0.0.1:0", PeerID: 1, HandshakeTimeout: time.Second}, log.NewNop())
	_, err := a.Connect(ctx, appID)
	require.NoError(t, err)
	defer func() { _ = a.Close() }()

	b := New(Config{PeerID: 2, HandshakeTimeout: time.Second}, log.NewNop())
	_, err = b.Connect(ctx, appID+1)
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	assert.Error(t, b.Dial(ctx, a.Addr().String()))
	assert.Empty(t, a.Peers())
	assert.Empty(t, b.Peers())
}

func TestQUIC_PeerCloseRemovesPeer(t *testing.T) {
	a, b := startPair(t)
	require.NoError(t, b.Close())

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.ErrorIs(t, b.SendPacket(1, transport.Reliable, nil), transport.ErrPeerNotFound)
}

func TestQUIC_Lifecycle(t *testing.T) {
	tr := New(Config{}, log.NewNop())
	assert.ErrorIs(t, tr.Dial(context.Background(), "127.0.0.1:1"), transport.ErrNotConnected)
	assert.Nil(t, tr.Addr())

	id, err := tr.Connect(context.Background(), appID)
	require.NoError(t, err)
	assert.NotZero(t, id)

	_, err = tr.Connect(context.Background(), appID)
	assert.ErrorIs(t, err, transport.ErrAlreadyStarted)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	_, err = tr.Connect(context.Background(), appID)
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestQUIC_RegisterAfterCloseIsRejected(t *testing.T) {
	a, _ := startPair(t)
	pc, ok := a.roster.Get(2)
	require.True(t, ok)

	require.NoError(t, a.Close())
	a.register(&peerConn{id: 3, dialer: 3, conn: pc.conn, stream: pc.stream})

	assert.Empty(t, a.Peers())
	assert.ErrorIs(t, a.SendPacket(3, transport.Reliable, []byte{1}), transport.ErrPeerNotFound)
}
