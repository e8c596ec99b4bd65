package replication

import (
	"github.com/zeusync/peersync/internal/core/models"
	"github.com/zeusync/peersync/internal/core/protocol"
	"github.com/zeusync/peersync/pkg/encoding"
)

// ReplicationInfo is the per-entity replication state.
type ReplicationInfo struct {
	// PendingDelete marks the record for removal in the next Collect.
	PendingDelete bool
	// PeriodicSync resends a full snapshot every Broadcast.
	PeriodicSync bool
}

// Master is the authoritative replica of a networked entity owned by this
// peer.
type Master struct {
	Info                     ReplicationInfo
	StaticID                 protocol.StaticEntityID
	Entity                   models.EntityID
	DestroyOnOwnerDisconnect bool

	components    []encoding.StableID
	seq           uint32
	syncRequested bool
}

// Components lists the stable ids this master replicates, in wire order.
func (m *Master) Components() []encoding.StableID {
	return append([]encoding.StableID(nil), m.components...)
}

// Sequence is the sequence number of the last update sent.
func (m *Master) Sequence() uint32 {
	return m.seq
}

func (m *Master) objectInfo() protocol.ObjectInfo {
	return protocol.ObjectInfo{
		PeriodicSync:             m.Info.PeriodicSync,
		DestroyOnOwnerDisconnect: m.DestroyOnOwnerDisconnect,
	}
}

// Slave is the local projection of a remote Master. Only the Apply step
// mutates it.
type Slave struct {
	Info                     ReplicationInfo
	StaticID                 protocol.StaticEntityID
	DestroyOnOwnerDisconnect bool
	Owner                    protocol.PeerID
	Entity                   models.EntityID

	lastSeq uint32
	hasSeq  bool
}

// LastSequence returns the sequence of the last applied update.
func (s *Slave) LastSequence() (uint32, bool) {
	return s.lastSeq, s.hasSeq
}

// MasterOption customizes CreateNetworkedEntity.
type MasterOption func(*Master)

// WithDestroyOnOwnerDisconnect controls whether remote slaves are destroyed
// when this peer leaves. Defaults to true.
func WithDestroyOnOwnerDisconnect(destroy bool) MasterOption {
	return func(m *Master) {
		m.DestroyOnOwnerDisconnect = destroy
	}
}
