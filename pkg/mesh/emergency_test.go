package mesh

import (
	"testing"

	"github.com/beemesh/meshcore/pkg/radio"
)

func TestChooseEmergencyVictimNoOutboundLinks(t *testing.T) {
	links := []*Link{
		{AsMaster: false, State: LinkHandshakeDone},
	}
	victim, err := chooseEmergencyVictim(links, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if victim != nil {
		t.Errorf("expected no victim when no outbound handshake-done links exist")
	}
}

func TestChooseEmergencyVictimSkipsNonHandshakeDone(t *testing.T) {
	links := []*Link{
		{AsMaster: true, State: LinkConnecting},
		{AsMaster: true, State: LinkHandshaking},
	}
	victim, err := chooseEmergencyVictim(links, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if victim != nil {
		t.Errorf("links still mid-connect must never be picked as a victim")
	}
}

func TestChooseEmergencyVictimDegenerateSingleLink(t *testing.T) {
	// Only one handshake-done outbound link: handshaked-1 == 0 makes the
	// denominator non-positive, so the degenerate equal-weight path applies
	// and the sole candidate must always be picked.
	l := &Link{AsMaster: true, State: LinkHandshakeDone, ConnectedClusterSize: 1}
	links := []*Link{l}

	victim, err := chooseEmergencyVictim(links, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if victim != l {
		t.Errorf("expected the only qualifying link to be chosen")
	}
}

func TestChooseEmergencyVictimTwoMemberClusterEqualWeights(t *testing.T) {
	// cluster_size == 2 with two outbound links gives a denominator of
	// (2-1)*(2-1) == 1, and with ConnectedClusterSize 0 each link's
	// numerator is 1, so both get the same weight of 65535; every link
	// must remain a possible pick.
	a := &Link{AsMaster: true, State: LinkHandshakeDone, ConnectedClusterSize: 0}
	b := &Link{AsMaster: true, State: LinkHandshakeDone, ConnectedClusterSize: 0}
	links := []*Link{a, b}

	seen := map[*Link]bool{}
	for i := 0; i < 50; i++ {
		victim, err := chooseEmergencyVictim(links, 2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if victim == nil {
			t.Fatalf("expected a victim, got nil")
		}
		seen[victim] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected both links to be reachable under equal weighting, saw %d distinct", len(seen))
	}
}

func TestChooseEmergencyVictimPrefersSmallerSubtree(t *testing.T) {
	small := &Link{AsMaster: true, State: LinkHandshakeDone, ConnectedClusterSize: 1}
	big := &Link{AsMaster: true, State: LinkHandshakeDone, ConnectedClusterSize: 20}
	links := []*Link{small, big}

	counts := map[*Link]int{}
	for i := 0; i < 200; i++ {
		victim, err := chooseEmergencyVictim(links, 25)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		counts[victim]++
	}
	if counts[small] <= counts[big] {
		t.Errorf("expected the smaller subtree to be picked more often: small=%d big=%d", counts[small], counts[big])
	}
}

func TestFreeOutboundSlots(t *testing.T) {
	n := &Node{
		links: map[radio.LinkID]*Link{
			1: {AsMaster: true, State: LinkHandshakeDone},
			2: {AsMaster: false, State: LinkHandshakeDone},
		},
	}
	// MaxMeshLinks(4) - 1 outbound link in use == 3 free.
	if got := n.freeOutboundSlots(); got != 3 {
		t.Errorf("freeOutboundSlots() = %d, want 3", got)
	}
}

func TestHandleEmergencyDisconnectRequestNotAllUsedUp(t *testing.T) {
	n := &Node{
		links:  map[radio.LinkID]*Link{},
		logger: discardLogger(),
	}
	if got := n.handleEmergencyDisconnectRequest(); got != EmergencyNotAllConnectionsUsedUp {
		t.Errorf("handleEmergencyDisconnectRequest() = %v, want EmergencyNotAllConnectionsUsedUp", got)
	}
}

func TestHandleEmergencyDisconnectRequestCantDisconnectAnybody(t *testing.T) {
	n := &Node{
		links: map[radio.LinkID]*Link{
			1: {AsMaster: true, State: LinkHandshaking},
			2: {AsMaster: true, State: LinkHandshaking},
			3: {AsMaster: true, State: LinkHandshaking},
			4: {AsMaster: true, State: LinkHandshaking},
		},
		logger: discardLogger(),
	}
	// All four slots used but none handshake-done, so there is no
	// qualifying victim even though we are saturated.
	if got := n.handleEmergencyDisconnectRequest(); got != EmergencyCantDisconnectAnybody {
		t.Errorf("handleEmergencyDisconnectRequest() = %v, want EmergencyCantDisconnectAnybody", got)
	}
}
