package mesh

import (
	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/meshid"
)

// HelloMsg opens the three-packet merge handshake: both sides exchange
// identity and current cluster state.
type HelloMsg struct {
	Kind        uint8            `cbor:"kind"`
	SenderID    meshid.NodeID    `cbor:"sender"`
	ClusterID   meshid.ClusterID `cbor:"cluster_id"`
	ClusterSize int16            `cbor:"cluster_size"`
}

// Ack1Msg is sent by the side that loses the merge, once it has received
// the winner's HELLO and computed the deterministic outcome itself: it
// proposes the unified cluster identity (the winner's own, unchanged)
// and reports its own pre-merge size/hops. The winner reads only the hops
// from it; it counts the loser as one new member (cluster_size += 1) and
// sends the resulting absolute size in ACK2.
type Ack1Msg struct {
	Kind        uint8            `cbor:"kind"`
	SenderID    meshid.NodeID    `cbor:"sender"`
	ClusterID   meshid.ClusterID `cbor:"cluster_id"`
	ClusterSize int16            `cbor:"cluster_size"`
	HopsToSink  int16            `cbor:"hops_to_sink"`
}

// Ack2Msg closes the handshake, sent by the winner back to the loser,
// echoing the final agreed cluster identity and the absolute unified
// cluster size ("the other node knows best").
type Ack2Msg struct {
	Kind        uint8            `cbor:"kind"`
	SenderID    meshid.NodeID    `cbor:"sender"`
	ClusterID   meshid.ClusterID `cbor:"cluster_id"`
	ClusterSize int16            `cbor:"cluster_size"`
	HopsToSink  int16            `cbor:"hops_to_sink"`
}

func newHello(self *Node) HelloMsg {
	return HelloMsg{Kind: constants.KindHandshakeHello, SenderID: self.NodeID, ClusterID: self.ClusterID, ClusterSize: self.ClusterSize}
}

// winsMerge applies the deterministic winner/loser rule: the larger
// pre-merge cluster wins; ties break toward the bigger cluster id.
func winsMerge(selfSize, peerSize int16, selfClusterID, peerClusterID meshid.ClusterID) bool {
	if selfSize != peerSize {
		return selfSize > peerSize
	}
	return selfClusterID > peerClusterID
}

// newAck1 builds the loser's ACK1: it proposes the winner's (unchanged)
// cluster identity and reports the loser's own pre-merge size/hops; the
// winner uses only the hops (see handleAck1).
func newAck1(self *Node, winnerClusterID meshid.ClusterID) Ack1Msg {
	return Ack1Msg{
		Kind:        constants.KindHandshakeAck1,
		SenderID:    self.NodeID,
		ClusterID:   winnerClusterID,
		ClusterSize: self.ClusterSize,
		HopsToSink:  self.HopsToSink,
	}
}

// newAck2 builds the winner's ACK2: the absolute unified cluster id,
// size, and hops-to-sink, "the other node knows best".
func newAck2(self *Node) Ack2Msg {
	return Ack2Msg{
		Kind:        constants.KindHandshakeAck2,
		SenderID:    self.NodeID,
		ClusterID:   self.ClusterID,
		ClusterSize: self.ClusterSize,
		HopsToSink:  self.HopsToSink,
	}
}
