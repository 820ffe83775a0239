package candidate

import (
	"testing"
	"time"

	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/wire"
)

func rec(sender meshid.NodeID, cluster meshid.ClusterID) wire.JoinMeRecord {
	return wire.JoinMeRecord{SenderID: sender, ClusterID: cluster, FreeMeshIn: 1, FreeMeshOut: 1}
}

func zeroScore(e *Entry) uint32 { return 0 }

func TestObserveFillsEmptySlotsFirst(t *testing.T) {
	b := New()
	now := time.Now()
	for i := 0; i < 5; i++ {
		b.Observe(rec(meshid.NodeID(i+1), meshid.ClusterID(100+i)), -40, now, zeroScore)
	}
	if b.Len() != 5 {
		t.Fatalf("Len = %d, want 5", b.Len())
	}
}

func TestObserveRefreshesSameSender(t *testing.T) {
	b := New()
	now := time.Now()
	b.Observe(rec(meshid.NodeID(1), meshid.ClusterID(100)), -40, now, zeroScore)
	b.RecordAttempt(meshid.NodeID(1), now)

	later := now.Add(time.Second)
	b.Observe(rec(meshid.NodeID(1), meshid.ClusterID(101)), -30, later, zeroScore)

	if b.Len() != 1 {
		t.Fatalf("Len = %d, want 1 (refresh, not new slot)", b.Len())
	}
	e := b.Entries()[0]
	if e.Record.ClusterID != meshid.ClusterID(101) {
		t.Errorf("entry not refreshed: %+v", e)
	}
	if e.AttemptCount != 1 {
		t.Errorf("attempt count lost on refresh: got %d, want 1", e.AttemptCount)
	}
}

func TestObserveEvictsOldestSameClusterWhenFull(t *testing.T) {
	b := New()
	b.SetSelfClusterID(meshid.ClusterID(999))
	now := time.Now()

	for i := 0; i < 10; i++ {
		b.Observe(rec(meshid.NodeID(i+1), meshid.ClusterID(1)), -40, now.Add(time.Duration(i)*time.Second), zeroScore)
	}
	// Now make one of them share self's cluster id, oldest among same-cluster entries.
	b.Observe(rec(meshid.NodeID(1), meshid.ClusterID(999)), -40, now, zeroScore)

	full := now.Add(100 * time.Second)
	b.Observe(rec(meshid.NodeID(11), meshid.ClusterID(1)), -40, full, zeroScore)

	for _, e := range b.Entries() {
		if e.Record.ClusterID == meshid.ClusterID(999) {
			t.Errorf("same-cluster entry was not evicted: %+v", e)
		}
	}
}

func TestObserveEvictsLowestScoringWhenFullAndNoSameCluster(t *testing.T) {
	b := New()
	b.SetSelfClusterID(meshid.ClusterID(999))
	now := time.Now()

	for i := 0; i < 10; i++ {
		b.Observe(rec(meshid.NodeID(i+1), meshid.ClusterID(uint32(100+i))), -40, now, zeroScore)
	}

	scoreBySender := func(e *Entry) uint32 {
		if e.Record.SenderID == meshid.NodeID(3) {
			return 0
		}
		return 100
	}
	b.Observe(rec(meshid.NodeID(99), meshid.ClusterID(500)), -40, now, scoreBySender)

	for _, e := range b.Entries() {
		if e.Record.SenderID == meshid.NodeID(3) {
			t.Error("lowest-scoring entry was not evicted")
		}
	}
	if b.Len() != 10 {
		t.Fatalf("Len = %d, want 10", b.Len())
	}
}

func TestRemoveDropsEntry(t *testing.T) {
	b := New()
	now := time.Now()
	b.Observe(rec(meshid.NodeID(1), meshid.ClusterID(1)), -40, now, zeroScore)
	b.Remove(meshid.NodeID(1))
	if b.Len() != 0 {
		t.Fatalf("Len = %d, want 0 after Remove", b.Len())
	}
}

func TestRecordAttemptCapsAtMax(t *testing.T) {
	b := New()
	now := time.Now()
	b.Observe(rec(meshid.NodeID(1), meshid.ClusterID(1)), -40, now, zeroScore)
	for i := 0; i < 30; i++ {
		b.RecordAttempt(meshid.NodeID(1), now)
	}
	e := b.Entries()[0]
	if e.AttemptCount != 20 {
		t.Errorf("AttemptCount = %d, want capped at 20", e.AttemptCount)
	}
}
