package replication

import (
	"github.com/zeusync/peersync/internal/core/events/bus"
	"github.com/zeusync/peersync/internal/core/protocol"
	"github.com/zeusync/peersync/pkg/encoding"
)

// Signal types published on the session's event bus.
const (
	SignalProtocolError      = "protocol.error"
	SignalComponentUnmatched = "component.unmatched"
	SignalPeerUnhealthy      = "peer.unhealthy"
	SignalPeerJoined         = "peer.joined"
	SignalPeerLeft           = "peer.left"

	signalSource = "replication"
)

// ProtocolErrorSignal is the payload of SignalProtocolError.
type ProtocolErrorSignal struct {
	Peer protocol.PeerID
	Err  *protocol.Error
}

// UnmatchedComponentSignal is the payload of SignalComponentUnmatched.
type UnmatchedComponentSignal struct {
	Peer      protocol.PeerID
	StaticID  protocol.StaticEntityID
	Component encoding.StableID
}

// PeerSignal is the payload of the peer liveness signals.
type PeerSignal struct {
	Peer   protocol.PeerID
	Reason string
	Err    error
}

func newSignal(typ string, data any) bus.Event {
	return bus.NewEvent(typ, signalSource, data, nil)
}
