package metrics

import (
	"sync/atomic"
	"time"

	"github.com/zeusync/peersync/internal/core/observability/log"
)

// Counter is a monotonically increasing value safe for concurrent use.
type Counter struct {
	v atomic.Uint64
}

func (c *Counter) Inc() {
	c.v.Add(1)
}

func (c *Counter) Add(n uint64) {
	c.v.Add(n)
}

func (c *Counter) Load() uint64 {
	return c.v.Load()
}

// Gauge holds the last value set.
type Gauge struct {
	v atomic.Int64
}

func (g *Gauge) Set(v int64) {
	g.v.Store(v)
}

func (g *Gauge) Load() int64 {
	return g.v.Load()
}

// Replication collects the diagnostic counters of one replication session.
type Replication struct {
	CreatedAt time.Time

	Ticks               Counter
	PacketsIngested     Counter
	PacketsIgnored      Counter
	EventsSent          Counter
	EventsReceived      Counter
	EventsDropped       Counter
	SyncMessagesApplied Counter
	UpdatesSent         Counter
	StaleUpdates        Counter
	UnmatchedComponents Counter
	ProtocolErrors      Counter
	SendFailures        Counter
	ReadFailures        Counter
	EntitiesCreated     Counter
	EntitiesDestroyed   Counter
	StaticIDRekeys      Counter

	Peers   Gauge
	Masters Gauge
	Slaves  Gauge
}

func NewReplication() *Replication {
	return &Replication{CreatedAt: time.Now()}
}

// Snapshot is a point-in-time copy of Replication.
type Snapshot struct {
	Uptime time.Duration

	Ticks               uint64
	PacketsIngested     uint64
	PacketsIgnored      uint64
	EventsSent          uint64
	EventsReceived      uint64
	EventsDropped       uint64
	SyncMessagesApplied uint64
	UpdatesSent         uint64
	StaleUpdates        uint64
	UnmatchedComponents uint64
	ProtocolErrors      uint64
	SendFailures        uint64
	ReadFailures        uint64
	EntitiesCreated     uint64
	EntitiesDestroyed   uint64
	StaticIDRekeys      uint64

	Peers   int64
	Masters int64
	Slaves  int64
}

func (r *Replication) Snapshot() Snapshot {
	return Snapshot{
		Uptime:              time.Since(r.CreatedAt),
		Ticks:               r.Ticks.Load(),
		PacketsIngested:     r.PacketsIngested.Load(),
		PacketsIgnored:      r.PacketsIgnored.Load(),
		EventsSent:          r.EventsSent.Load(),
		EventsReceived:      r.EventsReceived.Load(),
		EventsDropped:       r.EventsDropped.Load(),
		SyncMessagesApplied: r.SyncMessagesApplied.Load(),
		UpdatesSent:         r.UpdatesSent.Load(),
		StaleUpdates:        r.StaleUpdates.Load(),
		UnmatchedComponents: r.UnmatchedComponents.Load(),
		ProtocolErrors:      r.ProtocolErrors.Load(),
		SendFailures:        r.SendFailures.Load(),
		ReadFailures:        r.ReadFailures.Load(),
		EntitiesCreated:     r.EntitiesCreated.Load(),
		EntitiesDestroyed:   r.EntitiesDestroyed.Load(),
		StaticIDRekeys:      r.StaticIDRekeys.Load(),
		Peers:               r.Peers.Load(),
		Masters:             r.Masters.Load(),
		Slaves:              r.Slaves.Load(),
	}
}

// Fields renders the snapshot for a structured log line.
func (s Snapshot) Fields() []log.Field {
	return []log.Field{
		log.Duration("uptime", s.Uptime),
		log.Uint64("ticks", s.Ticks),
		log.Uint64("packets_ingested", s.PacketsIngested),
		log.Uint64("packets_ignored", s.PacketsIgnored),
		log.Uint64("events_sent", s.EventsSent),
		log.Uint64("events_received", s.EventsReceived),
		log.Uint64("events_dropped", s.EventsDropped),
		log.Uint64("sync_messages_applied", s.SyncMessagesApplied),
		log.Uint64("updates_sent", s.UpdatesSent),
		log.Uint64("stale_updates", s.StaleUpdates),
		log.Uint64("unmatched_components", s.UnmatchedComponents),
		log.Uint64("protocol_errors", s.ProtocolErrors),
		log.Uint64("send_failures", s.SendFailures),
		log.Uint64("read_failures", s.ReadFailures),
		log.Uint64("entities_created", s.EntitiesCreated),
		log.Uint64("entities_destroyed", s.EntitiesDestroyed),
		log.Uint64("static_id_rekeys", s.StaticIDRekeys),
		log.Int64("peers", s.Peers),
		log.Int64("masters", s.Masters),
		log.Int64("slaves", s.Slaves),
	}
}
