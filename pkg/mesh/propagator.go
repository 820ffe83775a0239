package mesh

import (
	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/radio"
	"github.com/beemesh/meshcore/pkg/wire"
)

// broadcastDelta queues sizeChange on every link except skip (nil means
// none), recomputing each link's hops_to_sink via the short-sink oracle
// before queuing so the recipient always learns the current distance,
// not just the delta.
func (n *Node) broadcastDelta(sizeChange int16, skip *radio.LinkID) {
	for id, l := range n.links {
		if l.State != LinkHandshakeDone {
			continue
		}
		if skip != nil && id == *skip {
			continue
		}
		l.QueueDelta(sizeChange, n.hopsForLink(l), false)
	}
	n.flushPendingUpdates()
}

// hopsForLink computes what this node should tell the far end of l its
// hop-to-sink distance is: the node's own hops_to_sink recomputed
// without l's contribution (the minimum over its other handshake-done
// links' hops, plus one), or -1 if no other link leads to a sink. A
// sink-type device always reports hops_to_sink = 0 regardless of its
// links.
func (n *Node) hopsForLink(l *Link) int16 {
	if n.IsSink {
		return 0
	}
	best := int16(-1)
	for id, other := range n.links {
		if other == l || other.State != LinkHandshakeDone {
			continue
		}
		_ = id
		if other.HopsToSink < 0 {
			continue
		}
		if best == -1 || other.HopsToSink < best {
			best = other.HopsToSink
		}
	}
	if best == -1 {
		return -1
	}
	return best + 1
}

// recomputeHopsToSink is the short-sink oracle: this node's own distance
// to the nearest sink is the minimum over all handshake-done links' hops,
// plus one, or -1 if it has no path. A sink device is always 0.
func (n *Node) recomputeHopsToSink() {
	if n.IsSink {
		n.HopsToSink = 0
		return
	}
	best := int16(-1)
	for _, l := range n.links {
		if l.State != LinkHandshakeDone || l.HopsToSink < 0 {
			continue
		}
		if best == -1 || l.HopsToSink < best {
			best = l.HopsToSink
		}
	}
	if best == -1 {
		n.HopsToSink = -1
		return
	}
	n.HopsToSink = best + 1
}

// flushPendingUpdates sends every handshake-done link's queued update
// now; broadcastDelta calls it after queuing a delta.
func (n *Node) flushPendingUpdates() {
	for id, l := range n.links {
		if l.State != LinkHandshakeDone || !l.HasPending() {
			continue
		}
		u := l.TakePending(n.NodeID, l.Partner)
		data, err := u.Encode()
		if err != nil {
			n.logger.Error("propagator: failed to encode cluster-info update", "link", id, "error", err)
			continue
		}
		if err := n.radioCtl.Send(n.ctx, id, frameMessage(constants.KindClusterInfoUpdate, data)); err != nil {
			n.logger.Warn("propagator: send failed", "link", id, "error", err)
		}
	}
}

// handleInboundClusterInfoUpdate implements the inbound side of C7/C3's
// counter discipline: a gap or duplicate is a protocol mismatch, dropped
// without mutating any state.
func (n *Node) handleInboundClusterInfoUpdate(linkID radio.LinkID, data []byte) {
	l, ok := n.links[linkID]
	if !ok {
		return
	}
	u, err := wire.DecodeClusterInfoUpdate(data)
	if err != nil {
		n.logger.Warn("propagator: malformed cluster-info update", "link", linkID, "error", err)
		return
	}
	if u.Counter != l.NextExpectedCounter {
		n.logger.Warn("propagator: protocol mismatch, counter gap", "link", linkID, "got", u.Counter, "want", l.NextExpectedCounter)
		return
	}
	l.NextExpectedCounter = wire.NextCounter(l.NextExpectedCounter)

	n.ClusterSize += u.ClusterSizeChange
	l.ConnectedClusterSize += u.ClusterSizeChange
	if u.HopsToSink >= 0 {
		l.HopsToSink = u.HopsToSink + 1
	} else {
		l.HopsToSink = -1
	}
	if u.ConnectionMasterBitHandover {
		l.ConnectionMasterBit = true
	}

	n.recomputeHopsToSink()
	skip := linkID
	n.broadcastDelta(u.ClusterSizeChange, &skip)
	runMasterGovernor(n)
	n.discoveryFSM.KeepHighDiscoveryActive(n.now())
	n.republishBeacon()
}
