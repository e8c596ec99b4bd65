// Package quic runs the packet transport over QUIC. Each peer pair shares
// one connection: reliable packets are length-prefixed frames on a single
// bidirectional stream, unreliable packets are QUIC datagrams, falling back
// to the stream when a datagram would be too large.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/transport"
)

var _ transport.Transport = (*Transport)(nil)

const (
	codeNormal    quic.ApplicationErrorCode = 0
	codeDuplicate quic.ApplicationErrorCode = 1
	codeHandshake quic.ApplicationErrorCode = 2

	defaultHandshakeTimeout = 5 * time.Second
)

type Config struct {
	// ListenAddr is the UDP address to accept peers on. Empty disables
	// listening.
	ListenAddr string
	// Peers are dialed on Connect.
	Peers []string
	// PeerID is the local id; zero picks a random one.
	PeerID           transport.PeerID
	InboxSize        int
	HandshakeTimeout time.Duration
	// TLS overrides the generated self-signed server config.
	TLS *tls.Config
}

type peerConn struct {
	id     transport.PeerID
	dialer transport.PeerID
	conn   *quic.Conn
	stream *quic.Stream

	writeMu sync.Mutex
}

func (p *peerConn) writeFrame(data []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return transport.WriteFrame(p.stream, data)
}

// Transport implements transport.Transport over QUIC.
type Transport struct {
	cfg        Config
	logger     log.Log
	quicConfig *quic.Config
	inbox      *transport.Inbox
	roster     *transport.Roster[*peerConn]

	mu       sync.Mutex
	listener *quic.Listener
	local    transport.PeerID
	appID    uint32
	runCtx   context.Context
	cancel   context.CancelFunc
	group    errgroup.Group
	started  bool
	closed   bool
}

func New(cfg Config, logger log.Log) *Transport {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Transport{
		cfg:    cfg,
		logger: logger.With(log.String("component", "transport"), log.String("kind", string(transport.KindQUIC))),
		quicConfig: &quic.Config{
			MaxIdleTimeout:  30 * time.Second,
			KeepAlivePeriod: 10 * time.Second,
			EnableDatagrams: true,
		},
		inbox:  transport.NewInbox(cfg.InboxSize),
		roster: transport.NewRoster[*peerConn](),
	}
}

// Connect starts listening, dials the configured peers and returns the local
// peer id. Peers that cannot be reached are logged and skipped.
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
	t.runCtx, t.cancel = context.WithCancel(context.Background())

	if t.cfg.ListenAddr != "" {
		tlsConf := t.cfg.TLS
		if tlsConf == nil {
			var err error
			if tlsConf, err = GenerateTLSConfig(); err != nil {
				t.cancel()
				t.mu.Unlock()
				return 0, err
			}
		}
		listener, err := quic.ListenAddr(t.cfg.ListenAddr, tlsConf, t.quicConfig)
		if err != nil {
			t.cancel()
			t.mu.Unlock()
			return 0, fmt.Errorf("listen on %s: %w", t.cfg.ListenAddr, err)
		}
		t.listener = listener
		t.group.Go(func() error {
			return t.acceptLoop(t.runCtx, listener)
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

// Dial connects to addr and performs the hello exchange.
func (t *Transport) Dial(ctx context.Context, addr string) error {
	t.mu.Lock()
	if !t.started || t.closed {
		t.mu.Unlock()
		return transport.ErrNotConnected
	}
	local, appID := t.local, t.appID
	t.mu.Unlock()

	conn, err := quic.DialAddr(ctx, addr, clientTLSConfig(), t.quicConfig)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		_ = conn.CloseWithError(codeHandshake, "open stream")
		return fmt.Errorf("open stream to %s: %w", addr, err)
	}

	if err = transport.WriteFrame(stream, transport.Hello{Peer: local, AppID: appID}.Marshal()); err != nil {
		_ = conn.CloseWithError(codeHandshake, "hello")
		return fmt.Errorf("send hello to %s: %w", addr, err)
	}
	hello, err := t.readHello(stream, local, appID)
	if err != nil {
		_ = conn.CloseWithError(codeHandshake, "hello")
		return fmt.Errorf("hello from %s: %w", addr, err)
	}

	t.register(&peerConn{id: hello.Peer, dialer: local, conn: conn, stream: stream})
	return nil
}

func (t *Transport) readHello(stream *quic.Stream, local transport.PeerID, appID uint32) (transport.Hello, error) {
	_ = stream.SetReadDeadline(time.Now().Add(t.cfg.HandshakeTimeout))
	defer func() { _ = stream.SetReadDeadline(time.Time{}) }()

	frame, err := transport.ReadFrame(stream)
	if err != nil {
		return transport.Hello{}, err
	}
	hello, err := transport.UnmarshalHello(frame)
	if err != nil {
		return transport.Hello{}, err
	}
	return hello, hello.Check(local, appID)
}

func (t *Transport) acceptLoop(ctx context.Context, listener *quic.Listener) error {
	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, quic.ErrServerClosed) {
				return nil
			}
			t.logger.Warn("Accept failed", log.Error(err))
			return nil
		}
		t.group.Go(func() error {
			t.handshakeInbound(ctx, conn)
			return nil
		})
	}
}

func (t *Transport) handshakeInbound(ctx context.Context, conn *quic.Conn) {
	t.mu.Lock()
	local, appID := t.local, t.appID
	t.mu.Unlock()

	hctx, cancel := context.WithTimeout(ctx, t.cfg.HandshakeTimeout)
	defer cancel()

	stream, err := conn.AcceptStream(hctx)
	if err != nil {
		_ = conn.CloseWithError(codeHandshake, "no stream")
		return
	}
	hello, err := t.readHello(stream, local, appID)
	if err != nil {
		t.logger.Warn("Rejected inbound peer",
			log.String("remote", conn.RemoteAddr().String()),
			log.Error(err))
		_ = conn.CloseWithError(codeHandshake, "hello")
		return
	}
	if err = transport.WriteFrame(stream, transport.Hello{Peer: local, AppID: appID}.Marshal()); err != nil {
		_ = conn.CloseWithError(codeHandshake, "hello")
		return
	}

	t.register(&peerConn{id: hello.Peer, dialer: hello.Peer, conn: conn, stream: stream})
}

// register adds pc to the roster and starts its read loops. When both peers
// dialed each other, the connection initiated by the lower id wins on both
// sides. The closed check, the roster add and the loop start share t.mu so
// Close never misses a connection or races its group.Wait.
func (t *Transport) register(pc *peerConn) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = pc.conn.CloseWithError(codeNormal, "closing")
		return
	}
	runCtx, local := t.runCtx, t.local

	existing, added := t.roster.Add(pc.id, pc)
	if !added {
		winner := min(local, pc.id)
		if pc.dialer != winner || existing.dialer == winner {
			t.mu.Unlock()
			_ = pc.conn.CloseWithError(codeDuplicate, "duplicate connection")
			return
		}
		t.roster.Replace(pc.id, pc)
	}
	t.group.Go(func() error {
		t.streamLoop(pc)
		return nil
	})
	t.group.Go(func() error {
		t.datagramLoop(runCtx, pc)
		return nil
	})
	t.mu.Unlock()

	if !added {
		_ = existing.conn.CloseWithError(codeDuplicate, "duplicate connection")
	}
	t.logger.Info("Peer connected",
		log.Stringer("peer_id", pc.id),
		log.String("remote", pc.conn.RemoteAddr().String()))
}

func (t *Transport) streamLoop(pc *peerConn) {
	for {
		data, err := transport.ReadFrame(pc.stream)
		if err != nil {
			t.drop(pc, err)
			return
		}
		t.inbox.Push(transport.Packet{From: pc.id, Data: data})
	}
}

func (t *Transport) datagramLoop(ctx context.Context, pc *peerConn) {
	for {
		data, err := pc.conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		t.inbox.Push(transport.Packet{From: pc.id, Data: data})
	}
}

func (t *Transport) drop(pc *peerConn, err error) {
	if !t.roster.RemoveIf(pc.id, func(c *peerConn) bool { return c == pc }) {
		return
	}
	t.logger.Info("Peer disconnected", log.Stringer("peer_id", pc.id), log.Error(err))
	_ = pc.conn.CloseWithError(codeNormal, "")
}

func (t *Transport) PacketAvailable() (int, bool) {
	return t.inbox.Peek()
}

func (t *Transport) ReadPacket(buf []byte) (transport.PeerID, int, error) {
	return t.inbox.Pop(buf)
}

func (t *Transport) SendPacket(peer transport.PeerID, mode transport.SendMode, data []byte) error {
	pc, ok := t.roster.Get(peer)
	if !ok {
		return transport.ErrPeerNotFound
	}

	if mode == transport.Unreliable {
		err := pc.conn.SendDatagram(data)
		if err == nil {
			return nil
		}
		var tooLarge *quic.DatagramTooLargeError
		if !errors.As(err, &tooLarge) {
			return fmt.Errorf("send datagram to %s: %w", peer, err)
		}
	}

	if err := pc.writeFrame(data); err != nil {
		return fmt.Errorf("send frame to %s: %w", peer, err)
	}
	return nil
}

func (t *Transport) Peers() []transport.PeerID {
	return t.roster.IDs()
}

// Close closes every connection and waits for the transport goroutines.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	listener, cancel := t.listener, t.cancel
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var errs []error
	if listener != nil {
		errs = append(errs, listener.Close())
	}
	for _, pc := range t.roster.Drain() {
		errs = append(errs, pc.conn.CloseWithError(codeNormal, "closing"))
	}
	_ = t.group.Wait()
	t.inbox.Reset()
	return errors.Join(errs...)
}
