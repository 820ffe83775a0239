package mesh

import (
	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/radio"
)

// DisconnectInput is everything the handler (C10) needs to know about a
// torn-down link. ReasonIAmSmaller marks the one reason that already
// implies the link layer cleaned up the rest of this node's links.
type DisconnectInput struct {
	Link                  radio.LinkID
	Reason                string
	StateBefore           LinkState
	HadMasterBit          bool
	PartnerSizeAtDisconnect int16
	PartnerClusterID      meshid.ClusterID
}

const ReasonIAmSmaller = "I_AM_SMALLER"

// handleDisconnect applies C10's split-by-master-bit rule and always
// forces HIGH discovery and re-runs the master-bit governor afterward.
func (n *Node) handleDisconnect(in DisconnectInput) {
	n.ConnectionLossCounter++
	delete(n.links, in.Link)

	if in.StateBefore < LinkHandshakeDone {
		n.afterDisconnect()
		return
	}

	if !in.HadMasterBit {
		n.logger.Info("disconnect: lost master-bit side of split, rebuilding identity", "reason", in.Reason)
		if in.Reason != ReasonIAmSmaller {
			n.forceDisconnectAllOtherLinks()
		}
		n.ClusterSize = 1
		newID, err := meshid.Generate(n.NodeID, n.ConnectionLossCounter)
		if err != nil {
			n.logger.Error("disconnect: failed to regenerate cluster id", "error", err)
		} else {
			n.ClusterID = newID
			n.candidates.SetSelfClusterID(newID)
		}
		n.republishBeacon()
	} else {
		n.logger.Info("disconnect: kept master-bit side, shrinking cluster", "partner_size", in.PartnerSizeAtDisconnect)
		n.ClusterSize -= in.PartnerSizeAtDisconnect
		n.broadcastDelta(-in.PartnerSizeAtDisconnect, nil)
	}

	n.afterDisconnect()
}

func (n *Node) afterDisconnect() {
	n.discoveryFSM.KeepHighDiscoveryActive(n.now())
	n.scheduleDelayedHighBroadcast()
	runMasterGovernor(n)
}

func (n *Node) forceDisconnectAllOtherLinks() {
	for id := range n.links {
		if err := n.radioCtl.Disconnect(n.ctx, id); err != nil {
			n.logger.Warn("disconnect: force-disconnect failed", "link", id, "error", err)
		}
	}
}
