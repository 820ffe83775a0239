package mesh

import (
	"time"

	"github.com/beemesh/meshcore/pkg/codec/cborcanon"
	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/radio"
)

// handleHandshakeMessage dispatches one of the three handshake packets
// (C6) for linkID. Links that have already left LinkHandshaking ignore
// further handshake traffic — a retransmit or a stray duplicate must
// never re-run the winner/loser commit logic.
func (n *Node) handleHandshakeMessage(linkID radio.LinkID, kind uint8, payload []byte) {
	l, ok := n.links[linkID]
	if !ok || l.State != LinkHandshaking {
		return
	}

	switch kind {
	case constants.KindHandshakeHello:
		n.handleHello(linkID, l, payload)
	case constants.KindHandshakeAck1:
		n.handleAck1(linkID, l, payload)
	case constants.KindHandshakeAck2:
		n.handleAck2(linkID, l, payload)
	}
}

// handleHello processes the peer's HELLO: both sides now know each
// other's pre-merge cluster_id/cluster_size and can independently
// compute the deterministic winner. The loser sends ACK1; the winner
// waits for it to arrive.
func (n *Node) handleHello(linkID radio.LinkID, l *Link, payload []byte) {
	var hello HelloMsg
	if err := cborcanon.Unmarshal(payload, &hello); err != nil {
		n.logger.Warn("handshake: malformed HELLO", "link", linkID, "error", err)
		return
	}
	l.Partner = hello.SenderID

	won := winsMerge(n.ClusterSize, hello.ClusterSize, n.ClusterID, hello.ClusterID)
	if won {
		// Wait for the loser's ACK1.
		return
	}
	ack1 := newAck1(n, hello.ClusterID)
	if err := n.sendHandshake(linkID, constants.KindHandshakeAck1, ack1); err != nil {
		n.logger.Warn("handshake: failed to send ACK1", "link", linkID, "error", err)
	}
}

// handleAck1 is the winner's side: it absorbs one new direct member,
// commits the new link, broadcasts the size delta to every other link,
// and replies with ACK2 so the loser can commit too.
func (n *Node) handleAck1(linkID radio.LinkID, l *Link, payload []byte) {
	var ack1 Ack1Msg
	if err := cborcanon.Unmarshal(payload, &ack1); err != nil {
		n.logger.Warn("handshake: malformed ACK1", "link", linkID, "error", err)
		return
	}

	n.ClusterSize++
	if ack1.HopsToSink < 0 {
		l.HopsToSink = -1
	} else {
		l.HopsToSink = ack1.HopsToSink + 1
	}
	l.Partner = ack1.SenderID
	l.ConnectedClusterSize = 1
	l.State = LinkHandshakeDone
	l.ConnectionMasterBit = true

	n.candidates.Remove(ack1.SenderID)
	n.broadcastDelta(1, &linkID)

	ack2 := newAck2(n)
	if err := n.sendHandshake(linkID, constants.KindHandshakeAck2, ack2); err != nil {
		n.logger.Warn("handshake: failed to send ACK2", "link", linkID, "error", err)
	}

	n.finishHandshake(linkID, l)
}

// handleAck2 is the loser's side: it adopts the winner's cluster
// identity wholesale, "the other node knows best" about the new size.
func (n *Node) handleAck2(linkID radio.LinkID, l *Link, payload []byte) {
	var ack2 Ack2Msg
	if err := cborcanon.Unmarshal(payload, &ack2); err != nil {
		n.logger.Warn("handshake: malformed ACK2", "link", linkID, "error", err)
		return
	}

	l.ConnectedClusterSize = ack2.ClusterSize - 1
	l.Pending = nil // superseded by the adopted identity

	n.ClusterID = ack2.ClusterID
	n.ClusterSize = ack2.ClusterSize
	if ack2.HopsToSink < 0 {
		l.HopsToSink = -1
	} else {
		l.HopsToSink = ack2.HopsToSink + 1
	}
	l.Partner = ack2.SenderID
	l.State = LinkHandshakeDone
	// The winner keeps the master bit on this link; the loser holds none
	// of its own (I1/P2: exactly one side of a fresh merge owns it).
	l.ConnectionMasterBit = false

	n.candidates.Remove(ack2.SenderID)
	n.candidates.SetSelfClusterID(n.ClusterID)

	n.finishHandshake(linkID, l)
}

// finishHandshake runs the bookkeeping common to both roles: recompute
// hops-to-sink, re-evaluate the master-bit governor, and emit the
// second, size-delta-free cluster-info update spec.md §4.6 calls for
// ("this new link changes shortest-path-to-sink for the other side") —
// kept as its own wire send rather than coalesced into the first, per
// the open question in spec.md §9.
func (n *Node) finishHandshake(linkID radio.LinkID, l *Link) {
	n.recomputeHopsToSink()
	runMasterGovernor(n)
	n.broadcastDelta(0, &linkID)
	n.discoveryFSM.KeepHighDiscoveryActive(n.now())
	n.republishBeacon()
}

// checkHandshakeTimeouts tears down any link still in LinkHandshaking
// past constants.HandshakeTimeout (§5 timeouts, §7 link-layer failure).
func (n *Node) checkHandshakeTimeouts(now time.Time) {
	for id, l := range n.links {
		if l.State != LinkHandshaking {
			continue
		}
		if now.Sub(l.HandshakeStartedAt) < constants.HandshakeTimeout {
			continue
		}
		n.logger.Warn("handshake: timed out, disconnecting", "link", id)
		if err := n.radioCtl.Disconnect(n.ctx, id); err != nil {
			n.logger.Warn("handshake: timeout disconnect failed", "link", id, "error", err)
		}
	}
}
