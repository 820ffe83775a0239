// Package radio abstracts the BLE-class radio underneath the mesh
// formation core: advertising, scanning, and point-to-point links. The
// core never touches a radio driver directly, only this interface, so the
// decision/handshake/propagation logic in pkg/mesh can run unmodified
// against a fake radio in tests.
package radio

import (
	"context"
	"time"

	"github.com/beemesh/meshcore/pkg/meshid"
)

// Controller is the boundary between the mesh formation core and the
// physical or simulated radio. All calls are non-blocking; radio-driven
// input reaches the core exclusively through the Events channel, never as
// a call back into the core from inside a Controller method.
type Controller interface {
	// AdvJobAdd starts (or replaces) the JOIN_ME advertisement payload and
	// interval for this node.
	AdvJobAdd(ctx context.Context, payload []byte, interval time.Duration) error

	// AdvJobRefresh updates the payload of the running advertisement job
	// without touching its interval.
	AdvJobRefresh(ctx context.Context, payload []byte) error

	// AdvJobRemove stops advertising entirely.
	AdvJobRemove(ctx context.Context) error

	// ScanStart begins passive scanning for JOIN_ME advertisements from
	// other nodes.
	ScanStart(ctx context.Context) error

	// ScanStop halts scanning.
	ScanStop(ctx context.Context) error

	// ConnectAsMaster opens a point-to-point link to the given peer,
	// initiating it with the given connection interval. The resulting link
	// surfaces as a LinkUp event carrying the assigned LinkID.
	ConnectAsMaster(ctx context.Context, peer meshid.NodeID, connInterval time.Duration) (LinkID, error)

	// OpenAccessConnection opens the short-lived, peer-to-peer out-of-band
	// connection the emergency-disconnect protocol (§4.10) uses: separate
	// from the mesh-merge link pool, never counted against
	// free_mesh_in/out_connections, and torn down as soon as its one
	// request/reply round-trip completes. The resulting LinkUp event on
	// both ends carries IsAccess true.
	OpenAccessConnection(ctx context.Context, peer meshid.NodeID) (LinkID, error)

	// Disconnect tears down a single link.
	Disconnect(ctx context.Context, link LinkID) error

	// ForceDisconnectAll tears down every link this node currently holds,
	// used when this node loses an emergency-disconnect victim draw.
	ForceDisconnectAll(ctx context.Context) error

	// Send transmits a framed message over an established link.
	Send(ctx context.Context, link LinkID, data []byte) error

	// Events returns the channel the core drains for all radio-originated
	// input: advertisement reports, link lifecycle, and inbound messages.
	Events() <-chan Event
}

// LinkID identifies one point-to-point radio connection. It is opaque to
// the mesh core; only the Controller implementation assigns and
// interprets it.
type LinkID uint32

// Event is the sum type of everything a Controller can push onto its
// event channel. Exactly one of the typed fields is non-nil/non-zero.
type Event struct {
	AdvReport *AdvReportEvent
	LinkUp    *LinkUpEvent
	LinkDown  *LinkDownEvent
	Message   *MessageEvent
}

// AdvReportEvent is a single observed JOIN_ME advertisement.
type AdvReportEvent struct {
	Payload   []byte
	RSSI      int
	Timestamp time.Time
}

// LinkUpEvent reports that a point-to-point link has been established,
// either because this node initiated it (AsMaster true) or accepted an
// inbound connection (AsMaster false).
type LinkUpEvent struct {
	Link     LinkID
	AsMaster bool

	// IsAccess marks a link opened by OpenAccessConnection rather than
	// ConnectAsMaster: the mesh merge handshake (C6) never runs on it.
	IsAccess bool
}

// LinkDownEvent reports that a link has been torn down, by either side or
// by radio failure.
type LinkDownEvent struct {
	Link   LinkID
	Reason string
}

// MessageEvent is an inbound framed message on an established link.
type MessageEvent struct {
	Link LinkID
	Data []byte
}
