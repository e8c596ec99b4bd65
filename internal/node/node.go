// Package node assembles a runnable peer: transport, replication session
// and the tick loop driving it.
package node

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zeusync/peersync/internal/config"
	"github.com/zeusync/peersync/internal/core/events/bus"
	"github.com/zeusync/peersync/internal/core/models"
	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/observability/metrics"
	"github.com/zeusync/peersync/internal/core/registry"
	"github.com/zeusync/peersync/internal/core/replication"
	"github.com/zeusync/peersync/internal/core/transport"
)

// TickFunc runs in the tick goroutine after every Tick. It is the place for
// game logic that mutates master components.
type TickFunc func(stats replication.TickStats)

// StartFunc runs once the session is connected, before the first tick.
// Static ids minted here are seeded from the local peer id.
type StartFunc func(ctx context.Context) error

type Node struct {
	Config    *config.Config
	Logger    log.Log
	Metrics   *metrics.Replication
	Signals   bus.EventBus
	Registry  *registry.Registry
	World     *models.World
	Transport transport.Transport
	Session   *replication.Session

	watcher *signalWatcher

	mu     sync.Mutex
	hooks  []TickFunc
	starts []StartFunc
}

func New(
	cfg *config.Config,
	logger log.Log,
	m *metrics.Replication,
	signals bus.EventBus,
	reg *registry.Registry,
	world *models.World,
	tr transport.Transport,
) *Node {
	session := replication.NewSession(cfg.Replication(), tr, world, reg,
		replication.WithLogger(logger),
		replication.WithMetrics(m),
		replication.WithSignals(signals),
	)
	nodeLogger := logger.Named("node")
	return &Node{
		Config:    cfg,
		Logger:    nodeLogger,
		Metrics:   m,
		Signals:   signals,
		Registry:  reg,
		World:     world,
		Transport: tr,
		Session:   session,
		watcher:   newSignalWatcher(signals, nodeLogger),
	}
}

// OnTick registers fn to run after every tick.
func (n *Node) OnTick(fn TickFunc) {
	n.mu.Lock()
	n.hooks = append(n.hooks, fn)
	n.mu.Unlock()
}

// OnStart registers fn to run after Connect. An error stops Run.
func (n *Node) OnStart(fn StartFunc) {
	n.mu.Lock()
	n.starts = append(n.starts, fn)
	n.mu.Unlock()
}

// SignalCount is the number of session signals of type typ seen while the
// node was running.
func (n *Node) SignalCount(typ string) uint64 {
	return n.watcher.count(typ)
}

// UnhealthyPeers lists the peers with send or read failures that have not
// left since.
func (n *Node) UnhealthyPeers() []transport.PeerID {
	return n.watcher.unhealthyPeers()
}

// Run connects the session, ticks it until ctx is done and then
// disconnects. It returns nil on cancellation.
func (n *Node) Run(ctx context.Context) error {
	if err := n.watcher.start(); err != nil {
		return fmt.Errorf("watch signals: %w", err)
	}
	defer n.watcher.stop()

	if err := n.Session.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	n.mu.Lock()
	starts := n.starts
	n.mu.Unlock()
	for _, fn := range starts {
		if err := fn(ctx); err != nil {
			if derr := n.Session.Disconnect(); derr != nil {
				n.Logger.Warn("Disconnect failed", log.Error(derr))
			}
			return fmt.Errorf("start: %w", err)
		}
	}
	n.Logger.Info("Node started",
		log.Stringer("peer_id", n.Session.LocalPeer()),
		log.String("transport", string(n.Config.Transport.Kind)),
		log.Duration("tick_interval", n.Config.Networking.TickInterval))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return n.tickLoop(gctx)
	})
	if interval := n.Config.Networking.MetricsInterval; interval > 0 {
		g.Go(func() error {
			return n.metricsLoop(gctx, interval)
		})
	}
	err := g.Wait()

	if derr := n.Session.Disconnect(); derr != nil {
		n.Logger.Warn("Disconnect failed", log.Error(derr))
	}
	n.Logger.Info("Node stopped", n.metricFields()...)
	return err
}

func (n *Node) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.Config.Networking.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			stats := n.Session.Tick()

			n.mu.Lock()
			hooks := n.hooks
			n.mu.Unlock()
			for _, fn := range hooks {
				fn(stats)
			}

			if stats.Duration > n.Config.Networking.TickInterval {
				n.Logger.Warn("Tick overran its interval",
					log.Duration("duration", stats.Duration),
					log.Int("packets", stats.PacketsIngested))
			}
		}
	}
}

func (n *Node) metricsLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n.Logger.Info("Replication metrics", n.metricFields()...)
		}
	}
}

func (n *Node) metricFields() []log.Field {
	return append(n.Metrics.Snapshot().Fields(), n.watcher.fields()...)
}
