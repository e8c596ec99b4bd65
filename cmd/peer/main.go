package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zeusync/peersync/internal/config"
	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/protocol"
	"github.com/zeusync/peersync/internal/core/registry"
	"github.com/zeusync/peersync/internal/core/replication"
	"github.com/zeusync/peersync/internal/injector"
	"github.com/zeusync/peersync/internal/node"
	"github.com/zeusync/peersync/pkg/encoding"
)

// Position is a replicated 2D position.
type Position struct {
	X float64
	Y float64
}

// Label is a replicated display name.
type Label string

var (
	positionID = registry.MustRegister[Position](registry.Default, 1)
	labelID    = registry.MustRegister[Label](registry.Default, 2)
)

func main() {
	configPath := flag.String("config", "", "path to the peer YAML config")
	name := flag.String("name", "", "label replicated with this peer's entity")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error loading config:", err)
		os.Exit(1)
	}

	n, err := injector.InitializeNode(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error building node:", err)
		os.Exit(1)
	}
	defer func() { _ = n.Logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err = setupAvatar(n, *name); err != nil {
		n.Logger.Error("Error creating avatar", log.Error(err))
		os.Exit(1)
	}

	if err = n.Run(ctx); err != nil {
		n.Logger.Error("Node failed", log.Error(err))
		os.Exit(1)
	}
}

// setupAvatar creates one periodically synced master once the node is
// connected. It circles the origin, and the remote peers' avatars are logged
// once a second.
func setupAvatar(n *node.Node, name string) error {
	if name == "" {
		host, _ := os.Hostname()
		name = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	pos, err := registry.NewComponent(n.Registry, Position{X: 1})
	if err != nil {
		return err
	}
	label, err := registry.NewComponent(n.Registry, Label(name))
	if err != nil {
		return err
	}

	// Minted after Connect so the id comes from this peer's stretch of the
	// id space.
	n.OnStart(func(context.Context) error {
		sid, err := n.Session.NewStaticID()
		if err != nil {
			return err
		}
		components := []encoding.Serializable{pos, label}
		if _, err = n.Session.CreateNetworkedEntity(components, n.World.Spawn(), true, sid); err != nil {
			return err
		}
		n.Logger.Info("Avatar created", log.String("name", name), log.Uint16("static_id", uint16(sid)))
		return nil
	})

	interval := n.Config.Networking.TickInterval
	reportEvery := max(1, int(time.Second/interval))
	var (
		angle float64
		ticks int
	)
	n.OnTick(func(replication.TickStats) {
		angle += 2 * math.Pi * interval.Seconds() / 5
		pos.Set(Position{X: math.Cos(angle), Y: math.Sin(angle)})

		for _, e := range n.Session.DrainEventIn(protocol.EventTypePlayerJoin) {
			n.Logger.Info("Player joined", log.Stringer("remote_peer", e.From))
		}
		for _, e := range n.Session.DrainEventIn(protocol.EventTypePlayerLeave) {
			n.Logger.Info("Player left", log.Stringer("remote_peer", e.From))
		}
		n.Session.DrainEventIn(protocol.EventTypeEntityCreate)
		n.Session.DrainEventIn(protocol.EventTypeEntityDelete)
		n.Session.DrainEventIn(protocol.EventTypeEvent)

		ticks++
		if ticks%reportEvery == 0 {
			reportSlaves(n)
		}
	})
	return nil
}

func reportSlaves(n *node.Node) {
	for _, slave := range n.Session.Slaves() {
		fields := []log.Field{
			log.Uint16("static_id", uint16(slave.StaticID)),
			log.Stringer("owner", slave.Owner),
		}
		if c, ok := n.World.Component(slave.Entity, labelID); ok {
			fields = append(fields, log.String("name", string(c.(*encoding.Value[Label]).Get())))
		}
		if c, ok := n.World.Component(slave.Entity, positionID); ok {
			p := c.(*encoding.Value[Position]).Get()
			fields = append(fields, log.Float64("x", p.X), log.Float64("y", p.Y))
		}
		n.Logger.Info("Remote avatar", fields...)
	}
}
