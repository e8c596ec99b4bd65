package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/transport"
)

const appID = 480

func connected(t *testing.T, cfg Config) *Transport {
	t.Helper()
	tr := New(cfg, log.NewNop())
	_, err := tr.Connect(context.Background(), appID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func websocketURL(serverURL string) string {
	return "ws://" + strings.TrimPrefix(serverURL, "http://") + Path
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

func TestWebSocket_OverHTTPTest(t *testing.T) {
	a := connected(t, Config{PeerID: 1})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	b := connected(t, Config{PeerID: 2})
	require.NoError(t, b.Dial(context.Background(), websocketURL(srv.URL)))

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	for i := 0; i < 5; i++ {
		mode := transport.Reliable
		if i%2 == 1 {
			mode = transport.Unreliable
		}
		require.NoError(t, b.SendPacket(1, mode, []byte{byte(i)}))
	}
	for i := 0; i < 5; i++ {
		from, data := readOne(t, a)
		assert.Equal(t, transport.PeerID(2), from)
		assert.Equal(t, []byte{byte(i)}, data)
	}

	require.NoError(t, a.SendPacket(2, transport.Reliable, []byte("pong")))
	from, data := readOne(t, b)
	assert.Equal(t, transport.PeerID(1), from)
	assert.Equal(t, []byte("pong"), data)
}

func TestWebSocket_ListenAndDialOnConnect(t *testing.T) {
	a := connected(t, Config{PeerID: 1, ListenAddr: "127.0.0.1:0"})
	b := connected(t, Config{PeerID: 2, Peers: []string{a.Addr().String()}})

	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1 && len(b.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, b.Close())
	require.Eventually(t, func() bool {
		return len(a.Peers()) == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWebSocket_HandlerBeforeConnect(t *testing.T) {
	tr := New(Config{}, log.NewNop())
	rec := httptest.NewRecorder()
	tr.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, Path, nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	assert.ErrorIs(t, tr.Dial(context.Background(), "127.0.0.1:1"), transport.ErrNotConnected)
}

func TestWebSocket_AppIDMismatch(t *testing.T) {
	a := connected(t, Config{PeerID: 1})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	b := New(Config{PeerID: 2, HandshakeTimeout: time.Second}, log.NewNop())
	_, err := b.Connect(context.Background(), appID+1)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	assert.Error(t, b.Dial(context.Background(), websocketURL(srv.URL)))
	assert.Empty(t, a.Peers())
	assert.Empty(t, b.Peers())
}

func TestWebSocket_UnknownPeer(t *testing.T) {
	a := connected(t, Config{PeerID: 1})
	assert.ErrorIs(t, a.SendPacket(5, transport.Reliable, nil), transport.ErrPeerNotFound)
}

func TestWebSocket_RegisterAfterCloseIsRejected(t *testing.T) {
	a := connected(t, Config{PeerID: 1})
	srv := httptest.NewServer(a.Handler())
	t.Cleanup(srv.Close)

	b := connected(t, Config{PeerID: 2})
	require.NoError(t, b.Dial(context.Background(), websocketURL(srv.URL)))
	require.Eventually(t, func() bool {
		return len(a.Peers()) == 1
	}, 5*time.Second, 10*time.Millisecond)
	pc, ok := a.roster.Get(2)
	require.True(t, ok)

	require.NoError(t, a.Close())
	a.register(&peerConn{id: 3, dialer: 3, conn: pc.conn})

	assert.Empty(t, a.Peers())
	assert.ErrorIs(t, a.SendPacket(3, transport.Reliable, []byte{1}), transport.ErrPeerNotFound)
}
