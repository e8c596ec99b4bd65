// Package replication keeps networked entities consistent across peers.
//
// A Session owns the replication state of one network session: the Master
// records of entities this peer is authoritative for, the Slave records
// projecting remote Masters, the known peer roster and the event queues.
// Tick runs the five pipeline steps (Flush, Ingest, Apply, Broadcast,
// Collect) and is meant to be called once per frame from a single goroutine.
// QueueEventOut and DrainEventIn may be called from any goroutine.
package replication

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/zeusync/peersync/internal/core/events/bus"
	"github.com/zeusync/peersync/internal/core/models"
	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/observability/metrics"
	"github.com/zeusync/peersync/internal/core/protocol"
	"github.com/zeusync/peersync/internal/core/registry"
	"github.com/zeusync/peersync/internal/core/transport"
	"github.com/zeusync/peersync/pkg/encoding"
	"github.com/zeusync/peersync/pkg/generic"
)

// Config holds the networking options of a session.
type Config struct {
	// MaxPlayers bounds the roster, including the local peer.
	MaxPlayers int
	// MaxSyncedObjects is advisory: exceeding it only logs a warning.
	MaxSyncedObjects       int
	AppID                  uint32
	PacketPerFrameLimit    int
	MaxComponentsPerEntity int
	EventQueueSize         int
	// PeerFailureThreshold is the number of consecutive send failures after
	// which a peer is treated as disconnected.
	PeerFailureThreshold int
}

func DefaultConfig() Config {
	return Config{
		MaxPlayers:             32,
		MaxSyncedObjects:       1024,
		AppID:                  480,
		PacketPerFrameLimit:    64,
		MaxComponentsPerEntity: protocol.DefaultMaxComponentsPerEntity,
		EventQueueSize:         1024,
		PeerFailureThreshold:   3,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxPlayers <= 0 {
		c.MaxPlayers = def.MaxPlayers
	}
	if c.MaxSyncedObjects <= 0 {
		c.MaxSyncedObjects = def.MaxSyncedObjects
	}
	if c.PacketPerFrameLimit <= 0 {
		c.PacketPerFrameLimit = def.PacketPerFrameLimit
	}
	if c.MaxComponentsPerEntity <= 0 {
		c.MaxComponentsPerEntity = def.MaxComponentsPerEntity
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = def.EventQueueSize
	}
	if c.PeerFailureThreshold <= 0 {
		c.PeerFailureThreshold = def.PeerFailureThreshold
	}
	return c
}

type peerState struct {
	failures int
}

type syncMessage struct {
	from protocol.PeerID
	buf  *[]byte
}

type Option func(*Session)

func WithLogger(logger log.Log) Option {
	return func(s *Session) { s.logger = logger }
}

func WithMetrics(m *metrics.Replication) Option {
	return func(s *Session) { s.metrics = m }
}

// WithSignals publishes liveness and protocol signals on b.
func WithSignals(b bus.EventBus) Option {
	return func(s *Session) { s.signals = b }
}

func WithIDAllocator(a *IDAllocator) Option {
	return func(s *Session) { s.ids = a }
}

// Session is the replication state of one network session.
type Session struct {
	cfg       Config
	transport transport.Transport
	world     *models.World
	registry  *registry.Registry
	logger    log.Log
	metrics   *metrics.Replication
	signals   bus.EventBus
	ids       *IDAllocator
	buffers   *generic.BufferPool

	outbound chan protocol.Event
	inbound  [protocol.EventTypeCount]chan protocol.Event

	mu           sync.Mutex
	local        protocol.PeerID
	connected    bool
	peers        map[protocol.PeerID]*peerState
	rejected     map[protocol.PeerID]struct{}
	departed     map[protocol.PeerID]struct{}
	masters      map[protocol.StaticEntityID]*Master
	slaves       map[protocol.StaticEntityID]*Slave
	pending      []syncMessage
	queued       []bus.Event
	budgetWarned bool
}

func NewSession(cfg Config, tr transport.Transport, world *models.World, reg *registry.Registry, opts ...Option) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:       cfg,
		transport: tr,
		world:     world,
		registry:  reg,
		buffers:   generic.NewBufferPool(1500, protocol.EventHeaderSize+protocol.MaxEventPayload),
		outbound:  make(chan protocol.Event, cfg.EventQueueSize),
		peers:     make(map[protocol.PeerID]*peerState),
		rejected:  make(map[protocol.PeerID]struct{}),
		departed:  make(map[protocol.PeerID]struct{}),
		masters:   make(map[protocol.StaticEntityID]*Master),
		slaves:    make(map[protocol.StaticEntityID]*Slave),
	}
	for i := range s.inbound {
		s.inbound[i] = make(chan protocol.Event, cfg.EventQueueSize)
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.NewNop()
	}
	s.logger = s.logger.With(log.String("component", "replication"))
	if s.metrics == nil {
		s.metrics = metrics.NewReplication()
	}
	if s.signals == nil {
		s.signals = bus.New()
	}
	if s.ids == nil {
		s.ids = NewIDAllocator()
	}
	return s
}

// unlock releases the session lock and then publishes the signals queued
// while it was held, so handlers may call back into the session.
func (s *Session) unlock() {
	queued := s.queued
	s.queued = nil
	s.mu.Unlock()

	for _, e := range queued {
		if err := s.signals.Publish(e); err != nil {
			s.logger.Debug("Signal handler failed", log.String("signal", e.Type()), log.Error(err))
		}
	}
}

func (s *Session) emit(typ string, data any) {
	s.queued = append(s.queued, newSignal(typ, data))
}

// Connect joins the transport session, seeds the roster with the peers the
// transport already knows and announces this peer to them.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()

	if s.connected {
		return ErrAlreadyConnected
	}
	local, err := s.transport.Connect(ctx, s.cfg.AppID)
	if err != nil {
		return fmt.Errorf("transport connect: %w", err)
	}
	s.local = local
	s.connected = true
	s.ids.Seed(CursorFor(local))
	s.logger = s.logger.With(log.Stringer("peer_id", local))

	for _, id := range s.transport.Peers() {
		s.addPeerLocked(id)
	}
	s.logger.Info("Session connected",
		log.Uint32("app_id", s.cfg.AppID),
		log.Int("peers", len(s.peers)),
		log.Uint64("registry_digest", s.registry.Digest()))
	return nil
}

// Disconnect announces PlayerLeave, closes the transport and clears the
// roster. Slaves flagged DestroyOnOwnerDisconnect are despawned since no
// owner can update them anymore.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.unlock()

	if !s.connected {
		return nil
	}
	if leave, err := protocol.EncodeEvent(protocol.NewEvent(protocol.EventTypePlayerLeave, nil)); err == nil {
		_ = s.sendAllLocked(transport.Reliable, leave)
	}
	err := s.transport.Close()

	for id := range s.peers {
		delete(s.peers, id)
	}
	clear(s.rejected)
	clear(s.departed)
	s.metrics.Peers.Set(0)
	for _, msg := range s.pending {
		s.buffers.Put(msg.buf)
	}
	s.pending = s.pending[:0]

	for id, slave := range s.slaves {
		if slave.DestroyOnOwnerDisconnect {
			s.world.Despawn(slave.Entity)
			delete(s.slaves, id)
			s.ids.Release(id)
			s.metrics.EntitiesDestroyed.Inc()
		}
	}
	s.metrics.Slaves.Set(int64(len(s.slaves)))
	s.connected = false
	s.logger.Info("Session disconnected")

	if err != nil {
		return fmt.Errorf("transport close: %w", err)
	}
	return nil
}

// QueueEventOut enqueues e for the next Flush without blocking. It reports
// false when the outbound queue is full and the event was dropped.
func (s *Session) QueueEventOut(e protocol.Event) bool {
	select {
	case s.outbound <- e:
		return true
	default:
		s.metrics.EventsDropped.Inc()
		return false
	}
}

// DrainEventIn empties and returns the inbound queue for t. Each returned
// event carries its sender in From.
func (s *Session) DrainEventIn(t protocol.EventType) []protocol.Event {
	if !t.Valid() {
		return nil
	}
	ch := s.inbound[t]
	n := len(ch)
	if n == 0 {
		return nil
	}
	out := make([]protocol.Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case e := <-ch:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}

func (s *Session) pushInbound(e protocol.Event) {
	s.metrics.EventsReceived.Inc()
	select {
	case s.inbound[e.Type] <- e:
	default:
		s.metrics.EventsDropped.Inc()
		s.logger.Warn("Inbound queue full, event dropped", log.Stringer("type", e.Type))
	}
}

// SendAllReliable sends data to every known remote peer on the reliable
// channel. Per-peer failures are joined into the returned error.
func (s *Session) SendAllReliable(data []byte) error {
	s.mu.Lock()
	defer s.unlock()
	if !s.connected {
		return ErrNotConnected
	}
	return s.sendAllLocked(transport.Reliable, data)
}

// SendAllUnreliable is SendAllReliable on the best-effort channel.
func (s *Session) SendAllUnreliable(data []byte) error {
	s.mu.Lock()
	defer s.unlock()
	if !s.connected {
		return ErrNotConnected
	}
	return s.sendAllLocked(transport.Unreliable, data)
}

func (s *Session) sendAllLocked(mode transport.SendMode, data []byte) error {
	var errs []error
	for _, id := range s.peerIDsLocked() {
		if err := s.sendToLocked(id, mode, data); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Session) sendToLocked(id protocol.PeerID, mode transport.SendMode, data []byte) error {
	err := s.transport.SendPacket(id, mode, data)
	if err != nil {
		s.sendFailureLocked(id, err)
		return err
	}
	if p, ok := s.peers[id]; ok {
		p.failures = 0
	}
	return nil
}

func (s *Session) sendFailureLocked(id protocol.PeerID, err error) {
	s.metrics.SendFailures.Inc()
	p, ok := s.peers[id]
	if !ok {
		return
	}
	p.failures++
	s.logger.Debug("Send failed",
		log.Stringer("remote_peer", id),
		log.Int("consecutive_failures", p.failures),
		log.Error(err))
	s.emit(SignalPeerUnhealthy, PeerSignal{Peer: id, Reason: "send failed", Err: err})

	if p.failures >= s.cfg.PeerFailureThreshold {
		s.logger.Warn("Peer unresponsive, treating as disconnected",
			log.Stringer("remote_peer", id),
			log.Int("failures", p.failures))
		s.removePeerLocked(id, "send failures", err)
	}
}

func (s *Session) readFailureLocked(from protocol.PeerID, err error) {
	s.metrics.ReadFailures.Inc()
	s.logger.Warn("Packet read failed", log.Stringer("remote_peer", from), log.Error(err))
	s.emit(SignalPeerUnhealthy, PeerSignal{Peer: from, Reason: "read failed", Err: err})
}

func (s *Session) protocolErrorLocked(from protocol.PeerID, err error) {
	perr := protocol.AttributeTo(err, from)
	s.metrics.ProtocolErrors.Inc()
	s.logger.Warn("Protocol error",
		log.Stringer("remote_peer", from),
		log.Int("code", int(perr.Code)),
		log.Error(perr))
	s.emit(SignalProtocolError, ProtocolErrorSignal{Peer: from, Err: perr})
}

func (s *Session) unmatchedLocked(from protocol.PeerID, sid protocol.StaticEntityID, id encoding.StableID) {
	s.metrics.UnmatchedComponents.Inc()
	s.logger.Debug("Unmatched component",
		log.Stringer("remote_peer", from),
		log.Uint16("static_id", uint16(sid)),
		log.Uint16("stable_id", uint16(id)))
	s.emit(SignalComponentUnmatched, UnmatchedComponentSignal{Peer: from, StaticID: sid, Component: id})
}

func (s *Session) peerIDsLocked() []protocol.PeerID {
	ids := make([]protocol.PeerID, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// addPeerLocked registers id and sends it our PlayerJoin followed by an
// EntityCreate for every live master. Known peers get nothing, which is
// what terminates the join exchange.
func (s *Session) addPeerLocked(id protocol.PeerID) bool {
	if id == 0 || id == s.local {
		return false
	}
	if _, ok := s.peers[id]; ok {
		return false
	}
	if len(s.peers)+1 >= s.cfg.MaxPlayers {
		if _, warned := s.rejected[id]; !warned {
			s.rejected[id] = struct{}{}
			s.logger.Warn("Roster full, peer ignored",
				log.Stringer("remote_peer", id),
				log.Int("max_players", s.cfg.MaxPlayers))
		}
		return false
	}

	delete(s.rejected, id)
	s.peers[id] = &peerState{}
	s.metrics.Peers.Set(int64(len(s.peers)))
	s.logger.Info("Peer joined", log.Stringer("remote_peer", id))
	s.emit(SignalPeerJoined, PeerSignal{Peer: id, Reason: "joined"})

	digest := make([]byte, 8)
	binary.LittleEndian.PutUint64(digest, s.registry.Digest())
	join, err := protocol.EncodeEvent(protocol.NewEvent(protocol.EventTypePlayerJoin, digest))
	if err == nil {
		if s.sendToLocked(id, transport.Reliable, join) != nil {
			return true
		}
	}

	for _, sid := range s.masterIDsLocked() {
		m := s.masters[sid]
		if m.Info.PendingDelete {
			continue
		}
		data, err := s.encodeCreateLocked(m)
		if err != nil {
			s.logger.Error("Encode create failed", log.Uint16("static_id", uint16(sid)), log.Error(err))
			continue
		}
		if s.sendToLocked(id, transport.Reliable, data) != nil {
			break
		}
	}
	return true
}

// removePeerLocked forgets id and flags its slaves that should not outlive
// their owner.
func (s *Session) removePeerLocked(id protocol.PeerID, reason string, cause error) {
	if _, ok := s.peers[id]; !ok {
		return
	}
	delete(s.peers, id)
	s.metrics.Peers.Set(int64(len(s.peers)))

	flagged := 0
	for _, slave := range s.slaves {
		if slave.Owner == id && slave.DestroyOnOwnerDisconnect {
			slave.Info.PendingDelete = true
			flagged++
		}
	}
	s.logger.Info("Peer left",
		log.Stringer("remote_peer", id),
		log.String("reason", reason),
		log.Int("slaves_flagged", flagged))
	s.emit(SignalPeerLeft, PeerSignal{Peer: id, Reason: reason, Err: cause})
}

// handleJoinLocked reports whether the sender is in the roster afterwards.
func (s *Session) handleJoinLocked(e protocol.Event) bool {
	switch len(e.Payload) {
	case 0:
	case 8:
		if remote, local := binary.LittleEndian.Uint64(e.Payload), s.registry.Digest(); remote != local {
			s.logger.Warn("Peer component registry differs",
				log.Stringer("remote_peer", e.From),
				log.Uint64("remote_digest", remote),
				log.Uint64("local_digest", local))
		}
	default:
		s.protocolErrorLocked(e.From, protocol.NewProtocolError(protocol.ErrorCodeLengthMismatch,
			"player join payload must be a registry digest", protocol.ErrLengthMismatch).
			WithContext("length", len(e.Payload)))
	}
	delete(s.departed, e.From)
	s.addPeerLocked(e.From)
	_, ok := s.peers[e.From]
	return ok
}

func (s *Session) handleLeaveLocked(e protocol.Event) {
	s.departed[e.From] = struct{}{}
	s.removePeerLocked(e.From, "left", nil)
}

func (s *Session) masterIDsLocked() []protocol.StaticEntityID {
	ids := make([]protocol.StaticEntityID, 0, len(s.masters))
	for id := range s.masters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// tuplesLocked serializes the replicated components of entity in order.
func (s *Session) tuplesLocked(entity models.EntityID, ids []encoding.StableID) ([]protocol.ComponentTuple, error) {
	live, ok := s.world.Components(entity)
	if !ok {
		return nil, models.ErrEntityNotFound
	}
	tuples := make([]protocol.ComponentTuple, 0, len(ids))
	for _, id := range ids {
		c, ok := encoding.FindByID(live, id)
		if !ok {
			continue
		}
		payload, err := c.ToBytes()
		if err != nil {
			return nil, err
		}
		tuples = append(tuples, protocol.ComponentTuple{ID: id, Payload: payload})
	}
	return tuples, nil
}

func (s *Session) encodeCreateLocked(m *Master) ([]byte, error) {
	tuples, err := s.tuplesLocked(m.Entity, m.components)
	if err != nil {
		return nil, err
	}
	return protocol.EncodeCreate(protocol.CreateMessage{
		StaticID:   m.StaticID,
		Info:       m.objectInfo(),
		Components: tuples,
	}, s.cfg.MaxComponentsPerEntity)
}

// NewStaticID mints an unused static entity id. The id stays reserved until
// the entity it is given to is collected; a failed CreateNetworkedEntity
// releases it.
func (s *Session) NewStaticID() (protocol.StaticEntityID, error) {
	return s.ids.Next()
}

// CreateNetworkedEntity attaches components and a Master record to entity
// and reliably broadcasts an EntityCreate carrying every component. staticID
// must not be used by any live master or slave; ids minted by NewStaticID
// are reserved already. Nothing is attached when the create cannot be
// encoded. A failed broadcast does not undo the creation: the peers that
// missed it are handled by liveness.
func (s *Session) CreateNetworkedEntity(
	components []encoding.Serializable,
	entity models.EntityID,
	periodicSync bool,
	staticID protocol.StaticEntityID,
	opts ...MasterOption,
) (*Master, error) {
	s.mu.Lock()
	defer s.unlock()

	if _, ok := s.masters[staticID]; ok {
		return nil, fmt.Errorf("%w: %d is a local master", ErrStaticIDInUse, staticID)
	}
	if _, ok := s.slaves[staticID]; ok {
		return nil, fmt.Errorf("%w: %d is a remote slave", ErrStaticIDInUse, staticID)
	}

	m, data, err := s.prepareMasterLocked(components, entity, periodicSync, staticID, opts)
	if err == nil {
		err = s.world.AddComponents(entity, components...)
	}
	if err != nil {
		s.ids.Release(staticID)
		return nil, err
	}

	s.ids.Reserve(staticID)
	s.masters[staticID] = m
	s.metrics.Masters.Set(int64(len(s.masters)))
	s.metrics.EntitiesCreated.Inc()
	s.checkBudgetLocked()

	if err = s.sendAllLocked(transport.Reliable, data); err != nil {
		s.logger.Warn("Entity create not delivered to every peer",
			log.Uint16("static_id", uint16(staticID)),
			log.Error(err))
	}
	return m, nil
}

// prepareMasterLocked validates a create and encodes its EntityCreate from
// the components passed in, before anything touches the world.
func (s *Session) prepareMasterLocked(
	components []encoding.Serializable,
	entity models.EntityID,
	periodicSync bool,
	staticID protocol.StaticEntityID,
	opts []MasterOption,
) (*Master, []byte, error) {
	if len(components) > s.cfg.MaxComponentsPerEntity {
		return nil, nil, fmt.Errorf("%w: %d components, limit %d",
			protocol.ErrTooManyComponents, len(components), s.cfg.MaxComponentsPerEntity)
	}
	if !s.world.Exists(entity) {
		return nil, nil, fmt.Errorf("%w: %d", models.ErrEntityNotFound, entity)
	}

	ids := make([]encoding.StableID, 0, len(components))
	tuples := make([]protocol.ComponentTuple, 0, len(components))
	for _, c := range components {
		if c == nil {
			continue
		}
		id := c.StableTypeID()
		if id == protocol.SequenceComponentID {
			return nil, nil, fmt.Errorf("%w: component id %d", protocol.ErrReservedComponent, id)
		}
		if slices.Contains(ids, id) {
			return nil, nil, fmt.Errorf("%w: component id %d", ErrDuplicateComponent, id)
		}
		payload, err := c.ToBytes()
		if err != nil {
			return nil, nil, fmt.Errorf("encode component %d: %w", id, err)
		}
		ids = append(ids, id)
		tuples = append(tuples, protocol.ComponentTuple{ID: id, Payload: payload})
	}

	m := &Master{
		Info:                     ReplicationInfo{PeriodicSync: periodicSync},
		StaticID:                 staticID,
		Entity:                   entity,
		DestroyOnOwnerDisconnect: true,
		components:               ids,
	}
	for _, opt := range opts {
		opt(m)
	}

	data, err := protocol.EncodeCreate(protocol.CreateMessage{
		StaticID:   staticID,
		Info:       m.objectInfo(),
		Components: tuples,
	}, s.cfg.MaxComponentsPerEntity)
	if err != nil {
		return nil, nil, fmt.Errorf("encode create: %w", err)
	}
	return m, data, nil
}

// rekeyMasterLocked moves m to a freshly minted static id after a remote
// peer claimed its id. Peers that accepted the old id get an EntityDelete,
// then everyone gets an EntityCreate under the new one.
func (s *Session) rekeyMasterLocked(m *Master, claimedBy protocol.PeerID) bool {
	old := m.StaticID
	sid, err := s.ids.Next()
	if err != nil {
		s.logger.Error("Cannot move master off a contested static id",
			log.Uint16("static_id", uint16(old)),
			log.Error(err))
		return false
	}

	delete(s.masters, old)
	s.ids.Release(old)
	m.StaticID = sid
	m.syncRequested = false
	s.masters[sid] = m
	s.metrics.StaticIDRekeys.Inc()
	s.logger.Info("Master moved to a new static id",
		log.Uint16("old_static_id", uint16(old)),
		log.Uint16("static_id", uint16(sid)),
		log.Stringer("claimed_by", claimedBy))

	if err = s.sendAllLocked(transport.Reliable, protocol.EncodeDelete(old)); err != nil {
		s.logger.Debug("Entity delete not delivered to every peer", log.Uint16("static_id", uint16(old)), log.Error(err))
	}
	data, err := s.encodeCreateLocked(m)
	if err != nil {
		s.logger.Error("Encode create failed", log.Uint16("static_id", uint16(sid)), log.Error(err))
		return true
	}
	if err = s.sendAllLocked(transport.Reliable, data); err != nil {
		s.logger.Debug("Entity create not delivered to every peer", log.Uint16("static_id", uint16(sid)), log.Error(err))
	}
	return true
}

// DestroyNetworkedEntity marks a master for deletion; the next Collect
// broadcasts EntityDelete and despawns it.
func (s *Session) DestroyNetworkedEntity(staticID protocol.StaticEntityID) error {
	s.mu.Lock()
	defer s.unlock()

	m, ok := s.masters[staticID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMaster, staticID)
	}
	m.Info.PendingDelete = true
	return nil
}

// RequestSync makes the next Broadcast send a full update of the master on
// the reliable channel, whether or not it is periodically synced.
func (s *Session) RequestSync(staticID protocol.StaticEntityID) error {
	s.mu.Lock()
	defer s.unlock()

	m, ok := s.masters[staticID]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownMaster, staticID)
	}
	m.syncRequested = true
	return nil
}

func (s *Session) checkBudgetLocked() {
	total := len(s.masters) + len(s.slaves)
	switch {
	case total > s.cfg.MaxSyncedObjects && !s.budgetWarned:
		s.budgetWarned = true
		s.logger.Warn("Synced object budget exceeded",
			log.Int("synced_objects", total),
			log.Int("max_synced_objects", s.cfg.MaxSyncedObjects))
	case total <= s.cfg.MaxSyncedObjects:
		s.budgetWarned = false
	}
}

// Masters returns a snapshot of the local masters ordered by static id.
func (s *Session) Masters() []Master {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Master, 0, len(s.masters))
	for _, id := range s.masterIDsLocked() {
		out = append(out, *s.masters[id])
	}
	return out
}

// Slaves returns a snapshot of the slaves ordered by static id.
func (s *Session) Slaves() []Slave {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Slave, 0, len(s.slaves))
	for _, slave := range s.slaves {
		out = append(out, *slave)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StaticID < out[j].StaticID })
	return out
}

func (s *Session) SlaveByStaticID(id protocol.StaticEntityID) (Slave, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slave, ok := s.slaves[id]
	if !ok {
		return Slave{}, false
	}
	return *slave, true
}

// Peers returns the known remote peers in ascending order.
func (s *Session) Peers() []protocol.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerIDsLocked()
}

func (s *Session) LocalPeer() protocol.PeerID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *Session) Metrics() *metrics.Replication {
	return s.metrics
}

func (s *Session) Signals() bus.EventBus {
	return s.signals
}

func (s *Session) World() *models.World {
	return s.world
}
