package replication

import (
	"context"
	"errors"
	"time"

	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/protocol"
	"github.com/zeusync/peersync/internal/core/transport"
)

// TickStats reports the work done by one Tick.
type TickStats struct {
	EventsFlushed       int
	PacketsIngested     int
	SyncMessagesApplied int
	UpdatesBroadcast    int
	EntitiesCollected   int
	Duration            time.Duration
}

// Tick runs Flush, Ingest, Apply, Broadcast and Collect in order.
func (s *Session) Tick() TickStats {
	start := time.Now()

	s.mu.Lock()
	defer s.unlock()

	stats := TickStats{
		EventsFlushed:       s.flushLocked(),
		PacketsIngested:     s.ingestLocked(),
		SyncMessagesApplied: s.applyLocked(),
		UpdatesBroadcast:    s.broadcastLocked(),
		EntitiesCollected:   s.collectLocked(),
	}
	stats.Duration = time.Since(start)
	s.metrics.Ticks.Inc()
	return stats
}

// Flush reconciles the roster with the transport and reliably broadcasts
// every queued outbound event in queue order.
func (s *Session) Flush() int {
	s.mu.Lock()
	defer s.unlock()
	return s.flushLocked()
}

// Ingest reads at most PacketPerFrameLimit packets from the transport and
// routes them. Packets beyond the budget stay queued for the next tick.
func (s *Session) Ingest() int {
	s.mu.Lock()
	defer s.unlock()
	return s.ingestLocked()
}

// Apply applies the sync messages buffered by Ingest to their slaves.
func (s *Session) Apply() int {
	s.mu.Lock()
	defer s.unlock()
	return s.applyLocked()
}

// Broadcast sends a full update for every master flagged for periodic sync
// or with a pending RequestSync.
func (s *Session) Broadcast() int {
	s.mu.Lock()
	defer s.unlock()
	return s.broadcastLocked()
}

// Collect despawns every master and slave marked for deletion.
func (s *Session) Collect() int {
	s.mu.Lock()
	defer s.unlock()
	return s.collectLocked()
}

// Run ticks every interval until ctx is done.
func (s *Session) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.Tick()
		}
	}
}

func (s *Session) syncRosterLocked() {
	live := s.transport.Peers()
	present := make(map[protocol.PeerID]struct{}, len(live))
	for _, id := range live {
		present[id] = struct{}{}
		if _, gone := s.departed[id]; gone {
			continue
		}
		s.addPeerLocked(id)
	}
	for _, id := range s.peerIDsLocked() {
		if _, ok := present[id]; !ok {
			s.removePeerLocked(id, "transport dropped", nil)
		}
	}
	for id := range s.departed {
		if _, ok := present[id]; !ok {
			delete(s.departed, id)
		}
	}
	for id := range s.rejected {
		if _, ok := present[id]; !ok {
			delete(s.rejected, id)
		}
	}
}

func (s *Session) flushLocked() int {
	if !s.connected {
		return 0
	}
	s.syncRosterLocked()

	n := len(s.outbound)
	flushed := 0
	for i := 0; i < n; i++ {
		var e protocol.Event
		select {
		case e = <-s.outbound:
		default:
			return flushed
		}

		if e.Type.IsSync() {
			s.metrics.EventsDropped.Inc()
			s.logger.Warn("Entity sync messages cannot be queued as events", log.Stringer("type", e.Type))
			continue
		}
		data, err := protocol.EncodeEvent(e)
		if err != nil {
			s.metrics.EventsDropped.Inc()
			s.logger.Warn("Outbound event dropped", log.Stringer("type", e.Type), log.Error(err))
			continue
		}
		if err = s.sendAllLocked(transport.Reliable, data); err != nil {
			s.logger.Debug("Event not delivered to every peer", log.Stringer("type", e.Type), log.Error(err))
		}
		s.metrics.EventsSent.Inc()
		flushed++
	}
	return flushed
}

func (s *Session) ingestLocked() int {
	if !s.connected {
		return 0
	}

	consumed := 0
	for consumed < s.cfg.PacketPerFrameLimit {
		size, ok := s.transport.PacketAvailable()
		if !ok {
			break
		}

		buf := s.buffers.Get(size)
		from, n, err := s.transport.ReadPacket(*buf)
		if errors.Is(err, transport.ErrNoPacket) {
			s.buffers.Put(buf)
			break
		}
		consumed++
		if err != nil {
			s.buffers.Put(buf)
			s.readFailureLocked(from, err)
			continue
		}

		*buf = (*buf)[:n]
		s.metrics.PacketsIngested.Inc()
		if !s.routeLocked(from, buf) {
			s.buffers.Put(buf)
		}
	}
	return consumed
}

// routeLocked dispatches one packet by its discriminant. It reports whether
// buf was retained in the pending sync buffer.
func (s *Session) routeLocked(from protocol.PeerID, buf *[]byte) bool {
	data := *buf
	kind, err := protocol.EventTypeOf(data)
	if err != nil {
		s.protocolErrorLocked(from, err)
		return false
	}

	if !s.acceptsLocked(from, kind) {
		s.metrics.PacketsIgnored.Inc()
		s.logger.Debug("Packet from a peer outside the roster ignored",
			log.Stringer("remote_peer", from),
			log.Stringer("type", kind))
		return false
	}

	switch kind {
	case protocol.EventTypeEntityUpdate, protocol.EventTypeEntityDelete:
		if _, _, err = protocol.PeekSyncHeader(data); err != nil {
			s.protocolErrorLocked(from, err)
			return false
		}
		s.pending = append(s.pending, syncMessage{from: from, buf: buf})
		return true

	case protocol.EventTypeEntityCreate:
		s.spawnSlaveLocked(from, data)
		return false

	default:
		e, err := protocol.DecodeEvent(data)
		if err != nil {
			s.protocolErrorLocked(from, err)
			return false
		}
		e.From = from
		switch e.Type {
		case protocol.EventTypePlayerJoin:
			if !s.handleJoinLocked(e) {
				return false
			}
		case protocol.EventTypePlayerLeave:
			s.handleLeaveLocked(e)
		}
		s.pushInbound(e)
		return false
	}
}

// acceptsLocked reports whether a packet of kind from may be processed. Only
// a join can bring a peer into the roster, and a leave may arrive after the
// transport already dropped the sender. Anything else from a peer outside
// the roster is ignored, as is everything from a peer turned away because
// the roster was full.
func (s *Session) acceptsLocked(from protocol.PeerID, kind protocol.EventType) bool {
	if _, full := s.rejected[from]; full && kind != protocol.EventTypePlayerJoin {
		return false
	}
	if _, known := s.peers[from]; known {
		return true
	}
	return kind == protocol.EventTypePlayerJoin || kind == protocol.EventTypePlayerLeave
}

func (s *Session) broadcastLocked() int {
	sent := 0
	for _, sid := range s.masterIDsLocked() {
		m := s.masters[sid]
		if m.Info.PendingDelete || !(m.Info.PeriodicSync || m.syncRequested) {
			continue
		}
		if !s.world.Exists(m.Entity) {
			m.Info.PendingDelete = true
			continue
		}

		tuples, err := s.tuplesLocked(m.Entity, m.components)
		if err != nil {
			s.logger.Error("Snapshot failed", log.Uint16("static_id", uint16(sid)), log.Error(err))
			continue
		}
		m.seq++
		data, err := protocol.EncodeUpdate(protocol.UpdateMessage{
			StaticID:    sid,
			Sequence:    m.seq,
			HasSequence: true,
			Components:  tuples,
		}, s.cfg.MaxComponentsPerEntity)
		if err != nil {
			s.logger.Error("Encode update failed", log.Uint16("static_id", uint16(sid)), log.Error(err))
			continue
		}

		mode := transport.Unreliable
		if m.syncRequested {
			mode = transport.Reliable
		}
		if err = s.sendAllLocked(mode, data); err != nil {
			s.logger.Debug("Update not delivered to every peer",
				log.Uint16("static_id", uint16(sid)),
				log.Stringer("mode", mode),
				log.Error(err))
		}
		m.syncRequested = false
		s.metrics.UpdatesSent.Inc()
		sent++
	}
	return sent
}

func (s *Session) collectLocked() int {
	collected := 0
	for _, sid := range s.masterIDsLocked() {
		m := s.masters[sid]
		if !m.Info.PendingDelete && s.world.Exists(m.Entity) {
			continue
		}
		if s.connected {
			if err := s.sendAllLocked(transport.Reliable, protocol.EncodeDelete(sid)); err != nil {
				s.logger.Warn("Entity delete not delivered to every peer",
					log.Uint16("static_id", uint16(sid)),
					log.Error(err))
			}
		}
		s.world.Despawn(m.Entity)
		delete(s.masters, sid)
		s.ids.Release(sid)
		s.metrics.EntitiesDestroyed.Inc()
		collected++
	}

	for sid, slave := range s.slaves {
		if !slave.Info.PendingDelete {
			continue
		}
		s.world.Despawn(slave.Entity)
		delete(s.slaves, sid)
		s.ids.Release(sid)
		s.metrics.EntitiesDestroyed.Inc()
		s.pushInbound(protocol.Event{
			Type:    protocol.EventTypeEntityDelete,
			Payload: protocol.EncodeDelete(sid),
			From:    slave.Owner,
		})
		collected++
	}

	if collected > 0 {
		s.metrics.Masters.Set(int64(len(s.masters)))
		s.metrics.Slaves.Set(int64(len(s.slaves)))
		s.checkBudgetLocked()
	}
	return collected
}
