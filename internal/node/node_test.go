package node

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/zeusync/peersync/internal/config"
	"github.com/zeusync/peersync/internal/core/events/bus"
	"github.com/zeusync/peersync/internal/core/models"
	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/observability/metrics"
	"github.com/zeusync/peersync/internal/core/registry"
	"github.com/zeusync/peersync/internal/core/replication"
	"github.com/zeusync/peersync/internal/core/transport"
	"github.com/zeusync/peersync/internal/core/transport/memory"
	"github.com/zeusync/peersync/internal/core/transport/quic"
	"github.com/zeusync/peersync/internal/core/transport/websocket"
	"github.com/zeusync/peersync/pkg/encoding"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type heading struct {
	Degrees int
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Transport.Kind = transport.KindMemory
	cfg.Networking.TickInterval = time.Millisecond
	cfg.Networking.MetricsInterval = 5 * time.Millisecond
	return cfg
}

func newTestNode(t *testing.T, hub *memory.Hub, id transport.PeerID, reg *registry.Registry) *Node {
	t.Helper()
	cfg := testConfig()
	return New(cfg, log.NewNop(), metrics.NewReplication(), bus.New(), reg, models.NewWorld(), hub.Endpoint(id))
}

func TestNode_RunReplicatesBetweenNodes(t *testing.T) {
	reg := registry.New()
	headingID := registry.MustRegister[heading](reg, 10)

	hub := memory.NewHub()
	a := newTestNode(t, hub, 1, reg)
	b := newTestNode(t, hub, 2, reg)

	comp := encoding.NewValue(headingID, heading{Degrees: 0})
	sid, err := a.Session.NewStaticID()
	require.NoError(t, err)
	_, err = a.Session.CreateNetworkedEntity([]encoding.Serializable{comp}, a.World.Spawn(), true, sid)
	require.NoError(t, err)

	ticks := make(chan replication.TickStats, 1)
	a.OnTick(func(stats replication.TickStats) {
		select {
		case ticks <- stats:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	for _, n := range []*Node{a, b} {
		go func() { done <- n.Run(ctx) }()
	}

	require.Eventually(t, func() bool {
		_, ok := b.Session.SlaveByStaticID(sid)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	select {
	case <-ticks:
	case <-time.After(time.Second):
		t.Fatal("tick hook never ran")
	}

	cancel()
	for range 2 {
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("node did not stop")
		}
	}

	assert.False(t, a.Session.Connected())
	assert.Positive(t, a.Metrics.UpdatesSent.Load())
	assert.Positive(t, b.Metrics.SyncMessagesApplied.Load())
}

func TestNode_RunFailsWhenConnectFails(t *testing.T) {
	hub := memory.NewHub()
	n := newTestNode(t, hub, 1, registry.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, n.Run(ctx), context.Canceled)
}

func TestNewTransport(t *testing.T) {
	cfg := testConfig()

	cfg.Transport.Kind = transport.KindQUIC
	tr, err := NewTransport(cfg, log.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &quic.Transport{}, tr)

	cfg.Transport.Kind = transport.KindWebSocket
	tr, err = NewTransport(cfg, log.NewNop())
	require.NoError(t, err)
	assert.IsType(t, &websocket.Transport{}, tr)

	cfg.Transport.Kind = transport.KindMemory
	cfg.Transport.PeerID = 99
	tr, err = NewTransport(cfg, log.NewNop())
	require.NoError(t, err)
	ep, ok := tr.(*memory.Endpoint)
	require.True(t, ok)
	assert.Equal(t, transport.PeerID(99), ep.ID())

	cfg.Transport.Kind = "smoke-signals"
	_, err = NewTransport(cfg, log.NewNop())
	assert.ErrorIs(t, err, transport.ErrUnknownKind)
}

func TestSignalWatcher_TracksPeerHealth(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	signals := bus.New()
	w := newSignalWatcher(signals, log.NewFromZap(zap.New(core), log.LevelDebug))
	require.NoError(t, w.start())

	publish := func(typ string, data any) {
		require.NoError(t, signals.Publish(bus.NewEvent(typ, "replication", data, nil)))
	}
	linkDown := errors.New("link down")
	publish(replication.SignalPeerJoined, replication.PeerSignal{Peer: 7, Reason: "joined"})
	publish(replication.SignalPeerUnhealthy, replication.PeerSignal{Peer: 7, Reason: "send failed", Err: linkDown})
	publish(replication.SignalPeerUnhealthy, replication.PeerSignal{Peer: 7, Reason: "send failed", Err: linkDown})

	assert.Equal(t, []transport.PeerID{7}, w.unhealthyPeers())
	assert.Equal(t, uint64(2), w.count(replication.SignalPeerUnhealthy))
	assert.Equal(t, 2, logs.FilterMessage("Peer unhealthy").Len())

	publish(replication.SignalPeerLeft, replication.PeerSignal{Peer: 7, Reason: "send failures", Err: linkDown})
	assert.Empty(t, w.unhealthyPeers())
	assert.Equal(t, 1, logs.FilterMessage("Unhealthy peer removed").Len())

	keys := make(map[string]bool)
	for _, f := range w.fields() {
		keys[f.Key] = true
	}
	assert.True(t, keys["signals_published"])
	assert.True(t, keys["signal."+replication.SignalPeerUnhealthy])
	assert.Equal(t, uint64(4), signals.GetMetrics().Published)

	w.stop()
	for _, typ := range watchedSignals {
		assert.Zero(t, signals.Subscribers(typ))
	}
	publish(replication.SignalPeerUnhealthy, replication.PeerSignal{Peer: 8})
	assert.Equal(t, uint64(2), w.count(replication.SignalPeerUnhealthy))
}

func TestNode_RunConsumesSessionSignals(t *testing.T) {
	reg := registry.New()
	hub := memory.NewHub()
	a := newTestNode(t, hub, 1, reg)
	b := newTestNode(t, hub, 2, reg)

	ctxA, cancelA := context.WithCancel(context.Background())
	ctxB, cancelB := context.WithCancel(context.Background())
	doneA := make(chan error, 1)
	doneB := make(chan error, 1)
	go func() { doneA <- a.Run(ctxA) }()
	go func() { doneB <- b.Run(ctxB) }()

	require.Eventually(t, func() bool {
		return b.SignalCount(replication.SignalPeerJoined) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancelA()
	require.NoError(t, <-doneA)
	require.Eventually(t, func() bool {
		return b.SignalCount(replication.SignalPeerLeft) > 0
	}, 2*time.Second, 5*time.Millisecond)

	cancelB()
	require.NoError(t, <-doneB)
	for _, typ := range watchedSignals {
		assert.Zero(t, b.Signals.Subscribers(typ), "subscriptions end with Run")
	}
}

func TestNode_StartHooksRunAfterConnect(t *testing.T) {
	reg := registry.New()
	headingID := registry.MustRegister[heading](reg, 10)
	hub := memory.NewHub()
	a := newTestNode(t, hub, 1, reg)
	b := newTestNode(t, hub, 2, reg)

	for _, n := range []*Node{a, b} {
		n.OnStart(func(context.Context) error {
			if !n.Session.Connected() {
				return replication.ErrNotConnected
			}
			sid, err := n.Session.NewStaticID()
			if err != nil {
				return err
			}
			comp := encoding.NewValue(headingID, heading{Degrees: int(n.Session.LocalPeer())})
			_, err = n.Session.CreateNetworkedEntity([]encoding.Serializable{comp}, n.World.Spawn(), true, sid)
			return err
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 2)
	for _, n := range []*Node{a, b} {
		go func() { done <- n.Run(ctx) }()
	}

	require.Eventually(t, func() bool {
		return len(a.Session.Slaves()) == 1 && len(b.Session.Slaves()) == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	for range 2 {
		require.NoError(t, <-done)
	}

	failing := newTestNode(t, hub, 3, reg)
	startErr := errors.New("no avatar")
	failing.OnStart(func(context.Context) error { return startErr })
	assert.ErrorIs(t, failing.Run(context.Background()), startErr)
	assert.False(t, failing.Session.Connected())
}
