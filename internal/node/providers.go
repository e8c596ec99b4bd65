package node

import (
	"fmt"

	"github.com/google/wire"

	"github.com/zeusync/peersync/internal/config"
	"github.com/zeusync/peersync/internal/core/events/bus"
	"github.com/zeusync/peersync/internal/core/models"
	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/observability/metrics"
	"github.com/zeusync/peersync/internal/core/registry"
	"github.com/zeusync/peersync/internal/core/transport"
	"github.com/zeusync/peersync/internal/core/transport/memory"
	"github.com/zeusync/peersync/internal/core/transport/quic"
	"github.com/zeusync/peersync/internal/core/transport/websocket"
)

// ProviderSet builds a Node from a *config.Config.
var ProviderSet = wire.NewSet(
	ProvideLogger,
	metrics.NewReplication,
	bus.New,
	ProvideRegistry,
	models.NewWorld,
	NewTransport,
	New,
)

// LocalHub connects every memory-transport node of this process.
var LocalHub = memory.NewHub()

func ProvideLogger(cfg *config.Config) log.Log {
	return log.New(cfg.LogLevel())
}

// ProvideRegistry returns the process-wide component registry, which is
// where package init code registers replicated component types.
func ProvideRegistry() *registry.Registry {
	return registry.Default
}

// NewTransport builds the adapter selected by cfg.Transport.Kind.
func NewTransport(cfg *config.Config, logger log.Log) (transport.Transport, error) {
	t := cfg.Transport
	switch t.Kind {
	case transport.KindQUIC:
		return quic.New(quic.Config{
			ListenAddr:       t.ListenAddr,
			Peers:            t.Peers,
			PeerID:           transport.ResolvePeerID(t.PeerID),
			InboxSize:        t.InboxSize,
			HandshakeTimeout: t.HandshakeTimeout,
		}, logger), nil
	case transport.KindWebSocket:
		return websocket.New(websocket.Config{
			ListenAddr:       t.ListenAddr,
			Peers:            t.Peers,
			PeerID:           transport.ResolvePeerID(t.PeerID),
			InboxSize:        t.InboxSize,
			HandshakeTimeout: t.HandshakeTimeout,
			WriteTimeout:     t.WriteTimeout,
		}, logger), nil
	case transport.KindMemory:
		return LocalHub.Endpoint(transport.PeerID(t.PeerID)), nil
	default:
		return nil, fmt.Errorf("%w: %q", transport.ErrUnknownKind, t.Kind)
	}
}
