// Package websocket runs the packet transport over WebSocket connections.
// A WebSocket is a single ordered stream, so both send modes share it and
// unreliable packets are simply delivered reliably.
package websocket

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/transport"
)

var _ transport.Transport = (*Transport)(nil)

const (
	// Path is the HTTP path peers upgrade on.
	Path = "/peersync"

	defaultHandshakeTimeout = 5 * time.Second
	defaultWriteTimeout     = 5 * time.Second
)

type Config struct {
	// ListenAddr is the TCP address to serve on. Empty disables listening;
	// Handler can still be mounted on an external server.
	ListenAddr string
	// Peers are dialed on Connect, as host:port or full ws:// URLs.
	Peers            []string
	PeerID           transport.PeerID
	InboxSize        int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

type peerConn struct {
	id     transport.PeerID
	dialer transport.PeerID
	conn   *websocket.Conn

	writeMu sync.Mutex
}

func (p *peerConn) write(data []byte, timeout time.Duration) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if timeout > 0 {
		_ = p.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	if err := p.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

func (p *peerConn) close() error {
	p.writeMu.Lock()
	_ = p.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	p.writeMu.Unlock()
	return p.conn.Close()
}

// Transport implements transport.Transport over WebSocket.
type Transport struct {
	cfg      Config
	logger   log.Log
	upgrader websocket.Upgrader
	dialer   *websocket.Dialer
	inbox    *transport.Inbox
	roster   *transport.Roster[*peerConn]

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	local    transport.PeerID
	appID    uint32
	group    errgroup.Group
	started  bool
	closed   bool
}

func New(cfg Config, logger log.Log) *Transport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Transport{
		cfg:    cfg,
		logger: logger.With(log.String("component", "transport"), log.String("kind", string(transport.KindWebSocket))),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(*http.Request) bool {
				return true
			},
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			ReadBufferSize:   4096,
			WriteBufferSize:  4096,
		},
		inbox:  transport.NewInbox(cfg.InboxSize),
		roster: transport.NewRoster[*peerConn](),
	}
}

func (t *Transport) Connect(ctx context.Context, appID uint32) (transport.PeerID, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return 0, transport.ErrClosed
	}
	if t.started {
		t.mu.Unlock()
		return 0, transport.ErrAlreadyStarted
	}

	t.local = t.cfg.PeerID
	if t.local == 0 {
		t.local = transport.RandomPeerID()
	}
	t.appID = appID

	if t.cfg.ListenAddr != "" {
		listener, err := net.Listen("tcp", t.cfg.ListenAddr)
		if err != nil {
			t.mu.Unlock()
			return 0, errors.Wrapf(err, "failed to listen on %s", t.cfg.ListenAddr)
		}
		mux := http.NewServeMux()
		mux.Handle(Path, t.Handler())
		t.server = &http.Server{Handler: mux, ReadHeaderTimeout: t.cfg.HandshakeTimeout}
		t.listener = listener
		server := t.server
		t.group.Go(func() error {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				t.logger.Warn("Server stopped", log.Error(err))
			}
			return nil
		})
		t.logger.Info("Listening", log.String("addr", listener.Addr().String()))
	}
	t.started = true
	local := t.local
	t.mu.Unlock()

	for _, addr := range t.cfg.Peers {
		if err := t.Dial(ctx, addr); err != nil {
			t.logger.Warn("Peer unreachable", log.String("addr", addr), log.Error(err))
		}
	}
	return local, nil
}

// Addr returns the bound listen address, nil when not listening.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

func (t *Transport) session() (transport.PeerID, uint32, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.local, t.appID, t.started && !t.closed
}

// Handler upgrades inbound peers. It answers 503 until Connect.
func (t *Transport) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		local, appID, ok := t.session()
		if !ok {
			http.Error(w, "transport not connected", http.StatusServiceUnavailable)
			return
		}

		conn, err := t.upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.logger.Warn("Upgrade failed", log.String("remote", r.RemoteAddr), log.Error(err))
			return
		}

		hello, err := t.readHello(conn, local, appID)
		if err != nil {
			t.logger.Warn("Rejected inbound peer", log.String("remote", r.RemoteAddr), log.Error(err))
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "hello"),
				time.Now().Add(time.Second))
			_ = conn.Close()
			return
		}

		pc := &peerConn{id: hello.Peer, dialer: hello.Peer, conn: conn}
		if err = pc.write(transport.Hello{Peer: local, AppID: appID}.Marshal(), t.cfg.WriteTimeout); err != nil {
			_ = conn.Close()
			return
		}
		t.register(pc)
	})
}

// Dial connects to addr and performs the hello exchange.
func (t *Transport) Dial(ctx context.Context, addr string) error {
	local, appID, ok := t.session()
	if !ok {
		return transport.ErrNotConnected
	}

	url := addr
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		url = "ws://" + addr + Path
	}

	conn, resp, err := t.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return errors.Wrapf(err, "failed to dial %s", url)
	}

	pc := &peerConn{dialer: local, conn: conn}
	if err = pc.write(transport.Hello{Peer: local, AppID: appID}.Marshal(), t.cfg.WriteTimeout); err != nil {
		_ = conn.Close()
		return err
	}
	hello, err := t.readHello(conn, local, appID)
	if err != nil {
		_ = pc.close()
		return errors.Wrapf(err, "hello from %s", url)
	}
	pc.id = hello.Peer
	t.register(pc)
	return nil
}

func (t *Transport) readHello(conn *websocket.Conn, local transport.PeerID, appID uint32) (transport.Hello, error) {
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	kind, data, err := conn.ReadMessage()
	if err != nil {
		return transport.Hello{}, errors.Wrap(err, "failed to read hello")
	}
	if kind != websocket.BinaryMessage {
		return transport.Hello{}, errors.New("hello must be a binary message")
	}
	hello, err := transport.UnmarshalHello(data)
	if err != nil {
		return transport.Hello{}, err
	}
	return hello, hello.Check(local, appID)
}

// register adds pc to the roster and starts its read loop. When both peers
// dialed each other, the connection initiated by the lower id wins. The
// session check, the roster add and the loop start share t.mu so Close
// never misses a connection or races its group.Wait.
func (t *Transport) register(pc *peerConn) {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		_ = pc.close()
		return
	}
	local := t.local

	existing, added := t.roster.Add(pc.id, pc)
	if !added {
		winner := min(local, pc.id)
		if pc.dialer != winner || existing.dialer == winner {
			t.mu.Unlock()
			_ = pc.close()
			return
		}
		t.roster.Replace(pc.id, pc)
	}
	t.group.Go(func() error {
		t.readLoop(pc)
		return nil
	})
	t.mu.Unlock()

	if !added {
		_ = existing.close()
	}
	t.logger.Info("Peer connected",
		log.Stringer("peer_id", pc.id),
		log.String("remote", pc.conn.RemoteAddr().String()))
}

func (t *Transport) readLoop(pc *peerConn) {
	for {
		kind, data, err := pc.conn.ReadMessage()
		if err != nil {
			t.drop(pc, err)
			return
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		t.inbox.Push(transport.Packet{From: pc.id, Data: data})
	}
}

func (t *Transport) drop(pc *peerConn, err error) {
	if !t.roster.RemoveIf(pc.id, func(c *peerConn) bool { return c == pc }) {
		return
	}
	if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		t.logger.Warn("Peer connection lost", log.Stringer("peer_id", pc.id), log.Error(err))
	} else {
		t.logger.Info("Peer disconnected", log.Stringer("peer_id", pc.id))
	}
	_ = pc.conn.Close()
}

func (t *Transport) PacketAvailable() (int, bool) {
	return t.inbox.Peek()
}

func (t *Transport) ReadPacket(buf []byte) (transport.PeerID, int, error) {
	return t.inbox.Pop(buf)
}

func (t *Transport) SendPacket(peer transport.PeerID, _ transport.SendMode, data []byte) error {
	pc, ok := t.roster.Get(peer)
	if !ok {
		return transport.ErrPeerNotFound
	}
	return errors.Wrapf(pc.write(data, t.cfg.WriteTimeout), "send to %s", peer)
}

func (t *Transport) Peers() []transport.PeerID {
	return t.roster.IDs()
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	server := t.server
	t.mu.Unlock()

	var err error
	if server != nil {
		err = server.Close()
	}
	for _, pc := range t.roster.Drain() {
		_ = pc.close()
	}
	_ = t.group.Wait()
	t.inbox.Reset()
	return err
}
