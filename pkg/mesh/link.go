// Package mesh implements the mesh formation core: per-link state,
// the merge handshake, cluster-info propagation, the master-bit
// governor, disconnect handling, and the emergency-disconnect protocol,
// all driven from one node-level event loop.
package mesh

import (
	"time"

	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/radio"
	"github.com/beemesh/meshcore/pkg/wire"
)

// LinkState is where a mesh link sits in its lifecycle.
type LinkState int

const (
	LinkConnecting LinkState = iota
	LinkHandshaking
	LinkHandshakeDone
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkConnecting:
		return "connecting"
	case LinkHandshaking:
		return "handshaking"
	case LinkHandshakeDone:
		return "handshake_done"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Link is one point-to-point mesh connection and everything the core
// tracks about it: its role, its handshake progress, and the single
// coalescing cluster-info update slot the propagator flushes to it.
type Link struct {
	RadioLink radio.LinkID
	AsMaster  bool
	Partner   meshid.NodeID
	State     LinkState

	// ConnectionMasterBit is true if this link currently holds the
	// mesh-wide right to accept a merge. The node counts as the merge
	// owner only while every one of its handshake-done links holds it
	// (hasAllMasterBits), and a node with no links implicitly owns it.
	ConnectionMasterBit bool

	// ConnectedClusterSize is the size of the subtree reachable only
	// through this link, tracked independently of self.ClusterSize so
	// disconnects and handovers can reason about "the rest of the tree".
	ConnectedClusterSize int16

	HopsToSink int16

	HandshakeStartedAt time.Time

	// Pending is this link's single coalescing outbound cluster-info
	// update slot. Multiple logical events accumulate into it before the
	// propagator flushes.
	Pending       *wire.ClusterInfoUpdate
	NextSendCounter    uint8
	NextExpectedCounter uint8
}

// NewOutboundLink starts a link this node initiated as master.
func NewOutboundLink(radioLink radio.LinkID, partner meshid.NodeID) *Link {
	return &Link{RadioLink: radioLink, AsMaster: true, Partner: partner, State: LinkConnecting}
}

// NewInboundLink starts a link accepted from a peer acting as master.
func NewInboundLink(radioLink radio.LinkID) *Link {
	return &Link{RadioLink: radioLink, AsMaster: false, State: LinkConnecting}
}

// QueueDelta folds a cluster-size delta and/or hop change into this
// link's pending update, creating it if necessary.
func (l *Link) QueueDelta(sizeChange int16, hops int16, masterBitHandover bool) {
	if l.Pending == nil {
		l.Pending = &wire.ClusterInfoUpdate{HopsToSink: hops}
	}
	l.Pending.ClusterSizeChange += sizeChange
	l.Pending.HopsToSink = hops
	if masterBitHandover {
		l.Pending.ConnectionMasterBitHandover = true
	}
}

// HasPending reports whether there is an update queued for this link.
func (l *Link) HasPending() bool {
	return l.Pending != nil
}

// TakePending returns the queued update stamped with the next counter
// and clears the slot, or nil if nothing is queued.
func (l *Link) TakePending(sender, receiver meshid.NodeID) *wire.ClusterInfoUpdate {
	if l.Pending == nil {
		return nil
	}
	u := l.Pending
	u.Sender = sender
	u.Receiver = receiver
	u.Counter = l.NextSendCounter
	l.NextSendCounter = wire.NextCounter(l.NextSendCounter)
	l.Pending = nil
	return u
}
