package mesh

import "github.com/beemesh/meshcore/pkg/radio"

// hasAllMasterBits reports whether every handshake-done link of this node
// currently holds the connection master bit — the mesh-wide merge-owner
// invariant (I1).
func hasAllMasterBits(links map[radio.LinkID]*Link) bool {
	for _, l := range links {
		if l.State != LinkHandshakeDone {
			continue
		}
		if !l.ConnectionMasterBit {
			return false
		}
	}
	return true
}

// runMasterGovernor re-evaluates the handover rule after any event that
// could shift subtree sizes: a link whose subtree outweighs the rest of
// the cluster gets the bit handed to it. Only an owner emits handover;
// non-owners are left untouched.
func runMasterGovernor(n *Node) {
	if !hasAllMasterBits(n.links) {
		return
	}
	for _, l := range n.links {
		if l.State != LinkHandshakeDone || !l.ConnectionMasterBit {
			continue
		}
		restOfCluster := n.ClusterSize - l.ConnectedClusterSize
		if l.ConnectedClusterSize > restOfCluster {
			l.ConnectionMasterBit = false
			l.QueueDelta(0, l.HopsToSink, true)
		}
	}
}
