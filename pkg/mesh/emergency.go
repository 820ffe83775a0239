package mesh

import (
	"time"

	"github.com/beemesh/meshcore/internal/meshrand"
	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/meshid"
)

// EmergencyResult is the reply code an emergency-disconnect target sends
// back over the out-of-band access connection.
type EmergencyResult uint8

const (
	EmergencySuccess EmergencyResult = iota
	EmergencyCantDisconnectAnybody
	EmergencyNotAllConnectionsUsedUp
)

// emergencyState tracks how long "a strictly better cluster exists" has
// held, driving when to open the out-of-band probe.
type emergencyState struct {
	observedSince time.Time
	target        meshid.NodeID
	probing       bool
}

// observeBetterCluster is called from the decision tick whenever the
// best as-slave candidate scores above zero but cannot currently be
// connected to (no free outbound slot on our side, or the candidate
// advertises no free inbound slot).
func (n *Node) observeBetterCluster(now time.Time, candidate meshid.NodeID) {
	if n.emergency.target != candidate {
		n.emergency = emergencyState{observedSince: now, target: candidate}
		return
	}
	if n.emergency.probing {
		return
	}
	if now.Sub(n.emergency.observedSince) < constants.EmergencyTriggerDuration {
		return
	}
	n.beginEmergencyProbe(candidate)
}

// clearEmergencyObservation resets the timer once the condition that
// triggered it is no longer true (a slot opened up, or the candidate
// disappeared from the buffer).
func (n *Node) clearEmergencyObservation() {
	n.emergency = emergencyState{}
}

func (n *Node) beginEmergencyProbe(target meshid.NodeID) {
	n.emergency.probing = true
	n.logger.Info("emergency: opening out-of-band access connection", "target", target)
	if err := n.openAccessConnection(target); err != nil {
		n.logger.Warn("emergency: access connection failed, will retry", "target", target, "error", err)
		n.emergency = emergencyState{}
	}
}

// onEmergencyReply handles the access connection's reply and always
// tears the connection down and resets the timer, so the normal decision
// loop picks up any newly freed slot on the next tick.
func (n *Node) onEmergencyReply(result EmergencyResult) {
	n.logger.Info("emergency: reply received", "result", result)
	n.closeAccessConnection()
	n.emergency = emergencyState{}
}

// chooseEmergencyVictim implements the responder side of step 4: assign
// each outbound handshake-done link a removal probability proportional
// to how much smaller its subtree is than the rest of the cluster, then
// draw once from the resulting cumulative distribution.
//
// removal_probability(link) ∝ ((cluster_size-1) - connected_cluster_size) /
// ((handshaked-1) * (cluster_size-1))
//
// The denominator collapses to a degenerate (non-positive) value when
// the cluster has at most one member or only one handshake-done outbound
// link;
// original_source treats that case as "every remaining link is an
// equally valid victim" rather than undefined, so each qualifying link
// gets an equal weight of 1 instead of a computed probability.
func chooseEmergencyVictim(links []*Link, clusterSize int16) (*Link, error) {
	outbound := make([]*Link, 0, len(links))
	for _, l := range links {
		if l.AsMaster && l.State == LinkHandshakeDone {
			outbound = append(outbound, l)
		}
	}
	if len(outbound) == 0 {
		return nil, nil
	}

	handshaked := int16(len(outbound))
	denom := int32(handshaked-1) * int32(clusterSize-1)

	weights := make([]uint32, len(outbound))
	degenerate := denom <= 0
	for i, l := range outbound {
		if degenerate {
			weights[i] = 1
			continue
		}
		numer := int32(clusterSize-1) - int32(l.ConnectedClusterSize)
		if numer <= 0 {
			weights[i] = 1
			continue
		}
		scaled := numer * 65535 / denom
		if scaled < 1 {
			scaled = 1
		}
		weights[i] = uint32(scaled)
	}

	idx, err := meshrand.WeightedChoice(weights)
	if err != nil {
		return nil, err
	}
	if idx < 0 {
		return nil, nil
	}
	return outbound[idx], nil
}

// handleEmergencyDisconnectRequest is the responder side of the
// EMERGENCY_DISCONNECT trigger-action: pick a victim (if no outbound
// slot is already free) and disconnect it.
func (n *Node) handleEmergencyDisconnectRequest() EmergencyResult {
	if n.freeOutboundSlots() > 0 {
		return EmergencyNotAllConnectionsUsedUp
	}

	links := make([]*Link, 0, len(n.links))
	for _, l := range n.links {
		links = append(links, l)
	}
	victim, err := chooseEmergencyVictim(links, n.ClusterSize)
	if err != nil || victim == nil {
		return EmergencyCantDisconnectAnybody
	}

	if err := n.radioCtl.Disconnect(n.ctx, victim.RadioLink); err != nil {
		n.logger.Warn("emergency: failed to disconnect victim", "link", victim.RadioLink, "error", err)
		return EmergencyCantDisconnectAnybody
	}
	return EmergencySuccess
}

func (n *Node) freeOutboundSlots() int {
	used := 0
	for _, l := range n.links {
		if l.AsMaster {
			used++
		}
	}
	free := constants.MaxMeshLinks - used
	if free < 0 {
		return 0
	}
	return free
}
