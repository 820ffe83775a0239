package mesh

import (
	"context"
	"testing"

	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/radio"
	"github.com/beemesh/meshcore/pkg/wire"
)

func newTestNode(t *testing.T, id meshid.NodeID) *Node {
	t.Helper()
	net := radio.NewFakeNetwork()
	fake := net.NewFake(id)
	n, err := New(Config{NodeID: id, NetworkID: 100, Radio: fake, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	n.ctx = context.Background()
	return n
}

// TestHandleInboundClusterInfoUpdateCounterGapDiscarded drives spec.md's
// counter-discipline invariant (P3/R2, scenario 6): an update whose
// counter does not immediately follow the last accepted one is a
// protocol mismatch and must be dropped without mutating any state.
func TestHandleInboundClusterInfoUpdateCounterGapDiscarded(t *testing.T) {
	n := newTestNode(t, 1)
	linkID := radio.LinkID(1)
	l := NewOutboundLink(linkID, meshid.NodeID(2))
	l.State = LinkHandshakeDone
	l.NextExpectedCounter = 5
	l.ConnectedClusterSize = 3
	n.links[linkID] = l
	n.ClusterSize = 4

	u := &wire.ClusterInfoUpdate{
		Sender:            meshid.NodeID(2),
		Receiver:          meshid.NodeID(1),
		ClusterSizeChange: 2,
		HopsToSink:        1,
		Counter:           9, // gap: not 5
	}
	data, err := u.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	n.handleInboundClusterInfoUpdate(linkID, data)

	if n.ClusterSize != 4 {
		t.Errorf("ClusterSize = %d, want unchanged 4", n.ClusterSize)
	}
	if l.ConnectedClusterSize != 3 {
		t.Errorf("ConnectedClusterSize = %d, want unchanged 3", l.ConnectedClusterSize)
	}
	if l.NextExpectedCounter != 5 {
		t.Errorf("NextExpectedCounter = %d, want unchanged 5", l.NextExpectedCounter)
	}
}

// TestHandleInboundClusterInfoUpdateAcceptsExpectedCounter is the
// counterpart: an update whose counter matches must be applied and the
// per-link expectation advanced by exactly one.
func TestHandleInboundClusterInfoUpdateAcceptsExpectedCounter(t *testing.T) {
	n := newTestNode(t, 1)
	linkID := radio.LinkID(1)
	l := NewOutboundLink(linkID, meshid.NodeID(2))
	l.State = LinkHandshakeDone
	l.NextExpectedCounter = 5
	l.ConnectedClusterSize = 3
	n.links[linkID] = l
	n.ClusterSize = 4

	u := &wire.ClusterInfoUpdate{
		Sender:            meshid.NodeID(2),
		Receiver:          meshid.NodeID(1),
		ClusterSizeChange: 2,
		HopsToSink:        1,
		Counter:           5,
	}
	data, err := u.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	n.handleInboundClusterInfoUpdate(linkID, data)

	if n.ClusterSize != 6 {
		t.Errorf("ClusterSize = %d, want 6", n.ClusterSize)
	}
	if l.ConnectedClusterSize != 5 {
		t.Errorf("ConnectedClusterSize = %d, want 5", l.ConnectedClusterSize)
	}
	if l.NextExpectedCounter != wire.NextCounter(5) {
		t.Errorf("NextExpectedCounter = %d, want %d", l.NextExpectedCounter, wire.NextCounter(5))
	}
	if l.HopsToSink != 2 {
		t.Errorf("HopsToSink = %d, want 2 (reported 1 + 1)", l.HopsToSink)
	}
}

// TestHandleInboundClusterInfoUpdateHandoverAdoptsMasterBit checks the
// handover flag: an inbound update carrying it must set this link's
// master bit even though this side never asked for it.
func TestHandleInboundClusterInfoUpdateHandoverAdoptsMasterBit(t *testing.T) {
	n := newTestNode(t, 1)
	linkID := radio.LinkID(1)
	l := NewOutboundLink(linkID, meshid.NodeID(2))
	l.State = LinkHandshakeDone
	l.ConnectionMasterBit = false
	n.links[linkID] = l
	n.ClusterSize = 2

	u := &wire.ClusterInfoUpdate{
		Sender:                      meshid.NodeID(2),
		Receiver:                    meshid.NodeID(1),
		HopsToSink:                  -1,
		ConnectionMasterBitHandover: true,
		Counter:                     0,
	}
	data, err := u.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	n.handleInboundClusterInfoUpdate(linkID, data)

	if !l.ConnectionMasterBit {
		t.Errorf("expected the master bit to be adopted from the handover flag")
	}
}

func TestHandleInboundClusterInfoUpdateUnknownLinkIgnored(t *testing.T) {
	n := newTestNode(t, 1)
	u := &wire.ClusterInfoUpdate{Sender: 2, Receiver: 1, Counter: 0}
	data, err := u.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	// Must not panic on a link id this node has no record of.
	n.handleInboundClusterInfoUpdate(radio.LinkID(99), data)
}
