// Package scoring implements the mesh formation core's pure cluster
// scoring functions: the as-master and as-slave formulas the decision
// engine uses to rank candidate buffer entries, and the preferred-partner
// modifier layered on top of either.
package scoring

import (
	"time"

	"github.com/beemesh/meshcore/pkg/candidate"
	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/meshid"
)

// PreferredPartnerPolicy controls how a candidate not on the preferred
// partners list is scored.
type PreferredPartnerPolicy int

const (
	// PolicyNone applies no preferred-partner modifier.
	PolicyNone PreferredPartnerPolicy = iota
	// PolicyPenalty divides the score of a non-preferred candidate.
	PolicyPenalty
	// PolicyIgnored zeroes the score of a non-preferred candidate.
	PolicyIgnored
)

// Self bundles the local node's state the scoring formulas read.
type Self struct {
	NodeID      meshid.NodeID
	ClusterID   meshid.ClusterID
	ClusterSize int16
	IsLeaf      bool

	// ActiveLinks is the set of node ids this node already holds a mesh
	// link to.
	ActiveLinks map[meshid.NodeID]bool

	// PreferredPartners, if non-nil, gates candidates under Policy.
	PreferredPartners map[meshid.NodeID]bool
	Policy            PreferredPartnerPolicy
}

func (s *Self) isPreferred(id meshid.NodeID) bool {
	if s.PreferredPartners == nil {
		return true
	}
	return s.PreferredPartners[id]
}

func applyPreferredModifier(score uint32, preferred bool, policy PreferredPartnerPolicy) uint32 {
	if preferred || score == 0 {
		return score
	}
	switch policy {
	case PolicyPenalty:
		reduced := score / constants.PreferredPartnerPenaltyDivisor
		if reduced < 1 {
			reduced = 1
		}
		return reduced
	case PolicyIgnored:
		return 0
	default:
		return score
	}
}

// commonRejections holds the rejections spec §4.4 applies to both the
// As-Master and As-Slave scores: age, same-cluster, and RSSI.
func commonRejections(e *candidate.Entry, self *Self, now time.Time) bool {
	if e.Age(now) > constants.MaxJoinMeAge {
		return true
	}
	if e.Record.ClusterID == self.ClusterID {
		return true
	}
	if e.RSSI < constants.StableConnectionRSSIThreshold {
		return true
	}
	return false
}

// masterOnlyRejections holds the rejections that only apply when scoring
// a candidate we would initiate a link to: backoff after repeated failed
// connect attempts, and already holding a link to that sender. Scoring as
// slave never reads attempt counters or active links (original_source's
// CalculateClusterScoreAsSlave does neither).
func masterOnlyRejections(e *candidate.Entry, self *Self, now time.Time) bool {
	if e.AttemptCount > constants.ConnectAttemptsBeforeBlacklisting {
		backoff := time.Duration(e.AttemptCount) * time.Second
		if e.LastConnectAttempt.Add(backoff).After(now) {
			return true
		}
	}
	if self.ActiveLinks[e.Record.SenderID] {
		return true
	}
	return false
}

// AsMaster scores e as a candidate we would initiate a link to. Score 0
// means never pick.
func AsMaster(e *candidate.Entry, self *Self, now time.Time) uint32 {
	if self.IsLeaf {
		return 0
	}
	if commonRejections(e, self, now) {
		return 0
	}
	if masterOnlyRejections(e, self, now) {
		return 0
	}
	if e.Record.FreeMeshIn == 0 {
		return 0
	}
	ack := meshid.ClusterID(e.Record.AckField)
	if ack != 0 && ack != self.ClusterID {
		return 0
	}
	if e.Record.ClusterSize > self.ClusterSize {
		return 0
	}

	score := uint32(e.Record.FreeMeshIn)*10000 + uint32(e.Record.FreeMeshOut)*100 + uint32(100+e.RSSI)
	return applyPreferredModifier(score, self.isPreferred(e.Record.SenderID), self.Policy)
}

// AsSlave scores e as a candidate cluster we would wait to be connected
// by. Score 0 means never pick.
func AsSlave(e *candidate.Entry, self *Self, now time.Time) uint32 {
	if commonRejections(e, self, now) {
		return 0
	}
	if e.Record.ClusterSize < self.ClusterSize {
		return 0
	}

	score := uint32(e.Record.ClusterSize)*10000 + uint32(e.Record.FreeMeshOut)*100 + uint32(100+e.RSSI)
	return applyPreferredModifier(score, self.isPreferred(e.Record.SenderID), self.Policy)
}

// BestAsMaster scans entries and returns the highest AsMaster score and
// the entry achieving it, or nil if every entry scores 0.
func BestAsMaster(entries []*candidate.Entry, self *Self, now time.Time) (*candidate.Entry, uint32) {
	return best(entries, self, now, AsMaster)
}

// BestAsSlave scans entries and returns the highest AsSlave score and the
// entry achieving it, or nil if every entry scores 0.
func BestAsSlave(entries []*candidate.Entry, self *Self, now time.Time) (*candidate.Entry, uint32) {
	return best(entries, self, now, AsSlave)
}

func best(entries []*candidate.Entry, self *Self, now time.Time, fn func(*candidate.Entry, *Self, time.Time) uint32) (*candidate.Entry, uint32) {
	var bestEntry *candidate.Entry
	var bestScore uint32
	for _, e := range entries {
		s := fn(e, self, now)
		if s > bestScore {
			bestScore = s
			bestEntry = e
		}
	}
	if bestScore == 0 {
		return nil, 0
	}
	return bestEntry, bestScore
}
