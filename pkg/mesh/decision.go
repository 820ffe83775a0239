package mesh

import (
	"time"

	"github.com/beemesh/meshcore/internal/meshrand"
	"github.com/beemesh/meshcore/pkg/candidate"
	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/scoring"
)

// runDecisionTick is the decision engine (C5): on a coarse, jittered
// timer, pick the best action available given the current candidate
// buffer and link state.
func (n *Node) runDecisionTick(now time.Time) {
	self := n.scoringSelf()

	if n.freeOutboundSlots() > 0 {
		if best, score := scoring.BestAsMaster(n.candidates.Entries(), self, now); best != nil && score > 0 {
			n.connectAsMaster(best.Record.SenderID, now)
			n.consecutiveEmptyCycles = 0
			return
		}
	}

	if best, score := scoring.BestAsSlave(n.candidates.Entries(), self, now); best != nil && score > 0 {
		n.AckField = uint32(best.Record.ClusterID)
		n.republishBeacon()

		if n.freeOutboundSlots() == 0 || best.Record.FreeMeshIn == 0 {
			n.observeBetterCluster(now, best.Record.SenderID)
		} else {
			n.clearEmergencyObservation()
		}
		n.maybeDropForSingleInboundSlot(best, now)
		n.consecutiveEmptyCycles = 0
		return
	}

	n.clearEmergencyObservation()
	n.consecutiveEmptyCycles++
}

// connectAsMaster issues Connect-As-Master for the given candidate and,
// on success, bumps its attempt counter.
func (n *Node) connectAsMaster(target meshid.NodeID, now time.Time) {
	interval := constants.DefaultConnectInterval
	if n.IsLeaf {
		interval = constants.LeafConnectInterval
	}
	if _, err := n.radioCtl.ConnectAsMaster(n.ctx, target, interval); err != nil {
		n.logger.Warn("decision: connect-as-master failed", "target", target, "error", err)
	}
	n.candidates.RecordAttempt(target, now)
}

// maybeDropForSingleInboundSlot implements the single-inbound-slot
// variant of step 3: if this node only supports one inbound link, that
// slot is occupied, and a cluster at least as big as this node's is
// visible, drop the occupying link unless its handshake is still in
// progress. When the two cluster sizes are equal the drop also needs a
// low-probability RNG draw to pass, avoiding two symmetric nodes tearing
// down at once.
func (n *Node) maybeDropForSingleInboundSlot(best *candidate.Entry, now time.Time) {
	if !n.SingleInboundSlot {
		return
	}
	inbound := n.soleInboundLink()
	if inbound == nil {
		return
	}
	if best.Record.ClusterSize < n.ClusterSize {
		return
	}
	if inbound.State == LinkHandshaking {
		return
	}
	if n.ClusterSize == best.Record.ClusterSize {
		if !meshrand.Bool(constants.SingleSlotDropProbability) {
			return
		}
	}
	if err := n.radioCtl.Disconnect(n.ctx, inbound.RadioLink); err != nil {
		n.logger.Warn("decision: single-inbound-slot drop failed", "link", inbound.RadioLink, "error", err)
	}
}

func (n *Node) soleInboundLink() *Link {
	for _, l := range n.links {
		if !l.AsMaster {
			return l
		}
	}
	return nil
}

// scoringSelf snapshots the fields pkg/scoring needs from the current
// node state.
func (n *Node) scoringSelf() *scoring.Self {
	self := &scoring.Self{
		NodeID:      n.NodeID,
		ClusterID:   n.ClusterID,
		ClusterSize: n.ClusterSize,
		IsLeaf:      n.IsLeaf,
		ActiveLinks: n.activeLinkPartners(),
	}
	if n.PreferredPartners != nil {
		self.PreferredPartners = n.PreferredPartners
		self.Policy = n.PreferredPartnerPolicy
	}
	return self
}

// decisionInterval returns the jittered tick period.
func decisionInterval() time.Duration {
	return meshrand.Jitter(constants.DecisionTickInterval, constants.DecisionTickJitter)
}
