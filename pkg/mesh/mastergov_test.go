package mesh

import (
	"testing"

	"github.com/beemesh/meshcore/pkg/radio"
)

func TestHasAllMasterBitsEmptyIsOwner(t *testing.T) {
	if !hasAllMasterBits(map[radio.LinkID]*Link{}) {
		t.Errorf("a node with no links should implicitly own the master bit")
	}
}

func TestHasAllMasterBitsAllTrue(t *testing.T) {
	links := map[radio.LinkID]*Link{
		1: {State: LinkHandshakeDone, ConnectionMasterBit: true},
		2: {State: LinkHandshakeDone, ConnectionMasterBit: true},
	}
	if !hasAllMasterBits(links) {
		t.Errorf("expected owner when every handshake-done link holds the bit")
	}
}

func TestHasAllMasterBitsOneFalse(t *testing.T) {
	links := map[radio.LinkID]*Link{
		1: {State: LinkHandshakeDone, ConnectionMasterBit: true},
		2: {State: LinkHandshakeDone, ConnectionMasterBit: false},
	}
	if hasAllMasterBits(links) {
		t.Errorf("expected non-owner when one handshake-done link lacks the bit")
	}
}

func TestHasAllMasterBitsIgnoresNonHandshakeDoneLinks(t *testing.T) {
	links := map[radio.LinkID]*Link{
		1: {State: LinkConnecting, ConnectionMasterBit: false},
	}
	// No handshake-done links at all: treated the same as no links.
	if !hasAllMasterBits(links) {
		t.Errorf("expected owner when there are no handshake-done links yet")
	}
}

func TestRunMasterGovernorHandsOverToBiggerSubtree(t *testing.T) {
	n := &Node{
		ClusterSize: 10,
		links: map[radio.LinkID]*Link{
			1: {State: LinkHandshakeDone, ConnectionMasterBit: true, ConnectedClusterSize: 7, HopsToSink: 2},
		},
		logger: discardLogger(),
	}

	runMasterGovernor(n)

	l := n.links[1]
	if l.ConnectionMasterBit {
		t.Errorf("expected the bit to be handed off when the subtree (7) outweighs the rest (3)")
	}
	if !l.HasPending() {
		t.Fatalf("expected a queued handover update")
	}
	u := l.TakePending(0, 0)
	if !u.ConnectionMasterBitHandover {
		t.Errorf("expected ConnectionMasterBitHandover set on the queued update")
	}
}

func TestRunMasterGovernorKeepsBitWhenSubtreeSmaller(t *testing.T) {
	n := &Node{
		ClusterSize: 10,
		links: map[radio.LinkID]*Link{
			1: {State: LinkHandshakeDone, ConnectionMasterBit: true, ConnectedClusterSize: 3},
		},
		logger: discardLogger(),
	}

	runMasterGovernor(n)

	if !n.links[1].ConnectionMasterBit {
		t.Errorf("expected the bit to stay when the subtree (3) does not outweigh the rest (7)")
	}
}

func TestRunMasterGovernorSkipsNonOwners(t *testing.T) {
	n := &Node{
		ClusterSize: 10,
		links: map[radio.LinkID]*Link{
			1: {State: LinkHandshakeDone, ConnectionMasterBit: false, ConnectedClusterSize: 9},
		},
		logger: discardLogger(),
	}

	runMasterGovernor(n)

	if n.links[1].HasPending() {
		t.Errorf("a non-owner must not run the handover rule")
	}
}
