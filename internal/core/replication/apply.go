package replication

import (
	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/protocol"
	"github.com/zeusync/peersync/pkg/encoding"
)

// spawnSlaveLocked handles an EntityCreate from a remote owner. A repeated
// create from the same owner refreshes the existing slave in place.
func (s *Session) spawnSlaveLocked(from protocol.PeerID, data []byte) {
	msg, err := protocol.DecodeCreate(data, s.cfg.MaxComponentsPerEntity)
	if err != nil {
		s.protocolErrorLocked(from, err)
		return
	}
	sid := msg.StaticID

	// Both sides see the collision; the lower peer id keeps the id and the
	// other side moves its master.
	if m, ok := s.masters[sid]; ok {
		if from > s.local || !s.rekeyMasterLocked(m, from) {
			s.protocolErrorLocked(from, protocol.NewProtocolError(protocol.ErrorCodeStaticIDConflict,
				"create collides with a local master", ErrStaticIDInUse).
				WithContext("static_id", sid))
			return
		}
	}
	existing, refresh := s.slaves[sid]
	if refresh && existing.Owner != from {
		s.protocolErrorLocked(from, protocol.NewProtocolError(protocol.ErrorCodeStaticIDConflict,
			"create collides with a slave of another owner", ErrStaticIDInUse).
			WithContext("static_id", sid).
			WithContext("owner", existing.Owner))
		return
	}

	components := make([]encoding.Serializable, 0, len(msg.Components))
	for _, tuple := range msg.Components {
		c, err := s.registry.Factory(tuple.ID)
		if err != nil {
			s.unmatchedLocked(from, sid, tuple.ID)
			continue
		}
		if err = c.FromBytes(tuple.Payload); err != nil {
			s.protocolErrorLocked(from, protocol.NewProtocolError(protocol.ErrorCodeComponentRejected,
				"create component rejected", err).
				WithContext("static_id", sid).
				WithContext("stable_id", tuple.ID))
			return
		}
		components = append(components, c)
	}

	if refresh && s.world.Exists(existing.Entity) {
		if err = s.world.AddComponents(existing.Entity, components...); err != nil {
			s.logger.Error("Slave refresh failed", log.Uint16("static_id", uint16(sid)), log.Error(err))
			return
		}
		existing.Info = ReplicationInfo{PeriodicSync: msg.Info.PeriodicSync}
		existing.DestroyOnOwnerDisconnect = msg.Info.DestroyOnOwnerDisconnect
		existing.hasSeq = false
		s.logger.Debug("Slave refreshed", log.Uint16("static_id", uint16(sid)), log.Stringer("owner", from))
	} else {
		slave := &Slave{
			Info:                     ReplicationInfo{PeriodicSync: msg.Info.PeriodicSync},
			StaticID:                 sid,
			DestroyOnOwnerDisconnect: msg.Info.DestroyOnOwnerDisconnect,
			Owner:                    from,
			Entity:                   s.world.Spawn(components...),
		}
		s.slaves[sid] = slave
		s.ids.Reserve(sid)
		s.metrics.Slaves.Set(int64(len(s.slaves)))
		s.metrics.EntitiesCreated.Inc()
		s.checkBudgetLocked()
		s.logger.Debug("Slave spawned",
			log.Uint16("static_id", uint16(sid)),
			log.Stringer("owner", from),
			log.Int("components", len(components)))
	}

	payload := make([]byte, len(data))
	copy(payload, data)
	s.pushInbound(protocol.Event{Type: protocol.EventTypeEntityCreate, Payload: payload, From: from})
}

func (s *Session) applyLocked() int {
	pending := s.pending
	s.pending = s.pending[:0]

	applied := 0
	for _, msg := range pending {
		if s.applySyncLocked(msg.from, *msg.buf) {
			applied++
		}
		s.buffers.Put(msg.buf)
	}
	clear(pending)
	return applied
}

func (s *Session) applySyncLocked(from protocol.PeerID, data []byte) bool {
	kind, sid, err := protocol.PeekSyncHeader(data)
	if err != nil {
		s.protocolErrorLocked(from, err)
		return false
	}

	switch kind {
	case protocol.EventTypeEntityDelete:
		if _, err = protocol.DecodeDelete(data); err != nil {
			s.protocolErrorLocked(from, err)
			return false
		}
		slave, ok := s.slaves[sid]
		if !ok {
			return false
		}
		if !s.ownsLocked(from, slave) {
			return false
		}
		slave.Info.PendingDelete = true

	case protocol.EventTypeEntityUpdate:
		msg, err := protocol.DecodeUpdate(data, s.cfg.MaxComponentsPerEntity)
		if err != nil {
			s.protocolErrorLocked(from, err)
			return false
		}
		slave, ok := s.slaves[sid]
		if !ok {
			s.logger.Debug("Update for unknown entity dropped",
				log.Stringer("remote_peer", from),
				log.Uint16("static_id", uint16(sid)))
			return false
		}
		if !s.ownsLocked(from, slave) || slave.Info.PendingDelete {
			return false
		}
		if msg.HasSequence && slave.hasSeq && !protocol.SequenceNewer(msg.Sequence, slave.lastSeq) {
			s.metrics.StaleUpdates.Inc()
			return false
		}
		if !s.applyTuplesLocked(from, slave, msg.Components) {
			return false
		}
		if msg.HasSequence {
			slave.lastSeq = msg.Sequence
			slave.hasSeq = true
		}

	default:
		return false
	}

	s.metrics.SyncMessagesApplied.Inc()
	return true
}

func (s *Session) ownsLocked(from protocol.PeerID, slave *Slave) bool {
	if slave.Owner == from {
		return true
	}
	s.protocolErrorLocked(from, protocol.NewProtocolError(protocol.ErrorCodeNotOwner,
		"sync message from a peer that does not own the entity", nil).
		WithContext("static_id", slave.StaticID).
		WithContext("owner", slave.Owner))
	return false
}

type pendingWrite struct {
	target   encoding.Serializable
	previous []byte
}

// applyTuplesLocked overwrites the slave's live components from tuples. The
// update is all or nothing: if any component rejects its payload, the ones
// already written are restored.
func (s *Session) applyTuplesLocked(from protocol.PeerID, slave *Slave, tuples []protocol.ComponentTuple) bool {
	live, ok := s.world.Components(slave.Entity)
	if !ok {
		slave.Info.PendingDelete = true
		return false
	}

	written := make([]pendingWrite, 0, len(tuples))
	for _, tuple := range tuples {
		c, ok := encoding.FindByID(live, tuple.ID)
		if !ok {
			s.unmatchedLocked(from, slave.StaticID, tuple.ID)
			continue
		}
		previous, err := c.ToBytes()
		if err == nil {
			err = c.FromBytes(tuple.Payload)
		}
		if err != nil {
			for i := len(written) - 1; i >= 0; i-- {
				_ = written[i].target.FromBytes(written[i].previous)
			}
			s.protocolErrorLocked(from, protocol.NewProtocolError(protocol.ErrorCodeComponentRejected,
				"update component rejected", err).
				WithContext("static_id", slave.StaticID).
				WithContext("stable_id", tuple.ID))
			return false
		}
		written = append(written, pendingWrite{target: c, previous: previous})
	}
	return true
}
