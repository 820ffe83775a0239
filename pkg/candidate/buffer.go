// Package candidate implements the mesh formation core's bounded
// candidate buffer: the small, fixed-size store of recently observed
// JOIN_ME records that the decision engine scores on every tick.
package candidate

import (
	"sync"
	"time"

	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/wire"
)

// Entry is one slot's content: the most recent JOIN_ME observation for a
// sender plus this node's connection-attempt history against it.
type Entry struct {
	Record              wire.JoinMeRecord
	RSSI                int
	ReceivedAt          time.Time
	LastConnectAttempt  time.Time
	AttemptCount        int
}

// Age reports how long ago this entry's record was observed, relative to
// now.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.ReceivedAt)
}

// Buffer is the fixed-size candidate store. It is not safe to share
// between goroutines except through its own methods, which are
// internally synchronized to let the radio goroutine feed observations
// while the decision engine scores concurrently if a caller chooses to
// run them on separate goroutines; the mesh package itself drives both
// from one loop.
type Buffer struct {
	mu        sync.Mutex
	slots     [constants.CandidateBufferSize]*Entry
	selfCID   meshid.ClusterID
}

// New creates an empty candidate buffer.
func New() *Buffer {
	return &Buffer{}
}

// SetSelfClusterID updates the cluster id used by rule 3 of Observe's
// slot-selection order (removing same-cluster chatter first).
func (b *Buffer) SetSelfClusterID(id meshid.ClusterID) {
	b.mu.Lock()
	b.selfCID = id
	b.mu.Unlock()
}

// ScoreFunc scores an entry for either the as-master or as-slave role.
// The candidate package is deliberately ignorant of the scoring formula;
// it is supplied by the caller (pkg/scoring) so the buffer's placement
// policy and the scorer's arithmetic stay independently testable.
type ScoreFunc func(e *Entry) uint32

// Observe records a JOIN_ME observation, selecting a slot per the
// four-rule policy: refresh an entry for the same sender; else take an
// empty slot; else evict the oldest same-cluster entry; else evict the
// lowest-scoring entry under scoreFn.
func (b *Buffer) Observe(rec wire.JoinMeRecord, rssi int, now time.Time, scoreFn ScoreFunc) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// Rule 1: refresh existing entry for the same sender.
	for i, s := range b.slots {
		if s != nil && s.Record.SenderID == rec.SenderID {
			b.slots[i] = &Entry{
				Record:             rec,
				RSSI:               rssi,
				ReceivedAt:         now,
				LastConnectAttempt: s.LastConnectAttempt,
				AttemptCount:       s.AttemptCount,
			}
			return
		}
	}

	newEntry := &Entry{Record: rec, RSSI: rssi, ReceivedAt: now}

	// Rule 2: empty slot.
	for i, s := range b.slots {
		if s == nil {
			b.slots[i] = newEntry
			return
		}
	}

	// Rule 3: oldest entry sharing our own cluster id.
	oldestSameClusterIdx := -1
	var oldestSameClusterTime time.Time
	for i, s := range b.slots {
		if s.Record.ClusterID == b.selfCID {
			if oldestSameClusterIdx == -1 || s.ReceivedAt.Before(oldestSameClusterTime) {
				oldestSameClusterIdx = i
				oldestSameClusterTime = s.ReceivedAt
			}
		}
	}
	if oldestSameClusterIdx != -1 {
		b.slots[oldestSameClusterIdx] = newEntry
		return
	}

	// Rule 4: lowest-scoring entry under the applicable scoring function.
	lowestIdx := 0
	lowestScore := scoreFn(b.slots[0])
	for i := 1; i < len(b.slots); i++ {
		s := scoreFn(b.slots[i])
		if s < lowestScore {
			lowestScore = s
			lowestIdx = i
		}
	}
	b.slots[lowestIdx] = newEntry
}

// Remove drops the entry for the given sender, if present. Used when a
// handshake with that sender completes (the mesh link replaces the
// candidate relationship).
func (b *Buffer) Remove(sender meshid.NodeID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.slots {
		if s != nil && s.Record.SenderID == sender {
			b.slots[i] = nil
			return
		}
	}
}

// RecordAttempt bumps the attempt counter and last-attempt timestamp for
// the given sender, capping the counter at MaxConnectAttempts.
func (b *Buffer) RecordAttempt(sender meshid.NodeID, now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.slots {
		if s != nil && s.Record.SenderID == sender {
			s.LastConnectAttempt = now
			if s.AttemptCount < constants.MaxConnectAttempts {
				s.AttemptCount++
			}
			return
		}
	}
}

// Entries returns a snapshot of all occupied slots.
func (b *Buffer) Entries() []*Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Entry, 0, len(b.slots))
	for _, s := range b.slots {
		if s != nil {
			cp := *s
			out = append(out, &cp)
		}
	}
	return out
}

// Len reports the number of occupied slots.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, s := range b.slots {
		if s != nil {
			n++
		}
	}
	return n
}
