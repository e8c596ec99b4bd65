package node

import (
	"sort"
	"sync"

	"github.com/zeusync/peersync/internal/core/events/bus"
	"github.com/zeusync/peersync/internal/core/observability/log"
	"github.com/zeusync/peersync/internal/core/protocol"
	"github.com/zeusync/peersync/internal/core/replication"
)

var watchedSignals = []string{
	replication.SignalPeerJoined,
	replication.SignalPeerLeft,
	replication.SignalPeerUnhealthy,
	replication.SignalProtocolError,
	replication.SignalComponentUnmatched,
}

// signalWatcher consumes the session signals of a running node. It tracks
// which peers are currently failing and counts every signal for the
// metrics log.
type signalWatcher struct {
	bus    bus.EventBus
	logger log.Log

	subs []bus.Subscription

	mu        sync.Mutex
	counts    map[string]uint64
	unhealthy map[protocol.PeerID]int
}

func newSignalWatcher(b bus.EventBus, logger log.Log) *signalWatcher {
	return &signalWatcher{
		bus:       b,
		logger:    logger,
		counts:    make(map[string]uint64, len(watchedSignals)),
		unhealthy: make(map[protocol.PeerID]int),
	}
}

func (w *signalWatcher) start() error {
	w.bus.AddObserver(w)
	for _, typ := range watchedSignals {
		sub, err := w.bus.Subscribe(typ, w.handle)
		if err != nil {
			w.stop()
			return err
		}
		w.subs = append(w.subs, sub)
	}
	return nil
}

func (w *signalWatcher) stop() {
	for _, sub := range w.subs {
		_ = w.bus.Unsubscribe(sub)
	}
	w.subs = nil
	w.bus.RemoveObserver(w)
}

func (w *signalWatcher) handle(e bus.Event) error {
	switch data := e.Data().(type) {
	case replication.PeerSignal:
		w.peerSignal(e.Type(), data)
	case replication.ProtocolErrorSignal:
		w.logger.Debug("Peer sent an invalid message",
			log.Stringer("remote_peer", data.Peer),
			log.Int("code", int(data.Err.Code)))
	case replication.UnmatchedComponentSignal:
		w.logger.Debug("Peer replicates an unregistered component",
			log.Stringer("remote_peer", data.Peer),
			log.Uint16("static_id", uint16(data.StaticID)),
			log.Uint16("stable_id", uint16(data.Component)))
	}
	return nil
}

func (w *signalWatcher) peerSignal(typ string, sig replication.PeerSignal) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch typ {
	case replication.SignalPeerUnhealthy:
		w.unhealthy[sig.Peer]++
		w.logger.Warn("Peer unhealthy",
			log.Stringer("remote_peer", sig.Peer),
			log.String("reason", sig.Reason),
			log.Int("failures", w.unhealthy[sig.Peer]),
			log.Error(sig.Err))
	case replication.SignalPeerLeft:
		if failures, ok := w.unhealthy[sig.Peer]; ok {
			delete(w.unhealthy, sig.Peer)
			w.logger.Info("Unhealthy peer removed",
				log.Stringer("remote_peer", sig.Peer),
				log.String("reason", sig.Reason),
				log.Int("failures", failures))
		}
	case replication.SignalPeerJoined:
		delete(w.unhealthy, sig.Peer)
	}
}

func (w *signalWatcher) OnPublish(eventType string, _ bus.Event) {
	w.mu.Lock()
	w.counts[eventType]++
	w.mu.Unlock()
}

func (w *signalWatcher) OnDelivered(eventType string, _ int, err error, _ int64) {
	if err != nil {
		w.logger.Debug("Signal handler failed", log.String("signal", eventType), log.Error(err))
	}
}

func (w *signalWatcher) count(typ string) uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.counts[typ]
}

func (w *signalWatcher) unhealthyPeers() []protocol.PeerID {
	w.mu.Lock()
	defer w.mu.Unlock()
	ids := make([]protocol.PeerID, 0, len(w.unhealthy))
	for id := range w.unhealthy {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// fields renders the signal counters for the metrics log.
func (w *signalWatcher) fields() []log.Field {
	m := w.bus.GetMetrics()
	fields := []log.Field{
		log.Uint64("signals_published", m.Published),
		log.Uint64("signal_handler_errors", m.Errors),
		log.Int("unhealthy_peers", len(w.unhealthyPeers())),
	}
	for _, typ := range watchedSignals {
		fields = append(fields, log.Uint64("signal."+typ, w.count(typ)))
	}
	return fields
}
