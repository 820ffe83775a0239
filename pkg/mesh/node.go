package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/beemesh/meshcore/pkg/candidate"
	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/discovery"
	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/radio"
	"github.com/beemesh/meshcore/pkg/scoring"
	"github.com/beemesh/meshcore/pkg/security/keymux"
	"github.com/beemesh/meshcore/pkg/wire"
)

// Config bundles a node's static configuration. Radio and a valid NodeID
// are required; a nil Logger falls back to slog.Default() and a nil Clock
// to time.Now. Other zero-value fields are used as they are.
type Config struct {
	NodeID    meshid.NodeID
	NetworkID meshid.NetworkID

	IsLeaf            bool
	IsSink            bool
	SingleInboundSlot bool

	PreferredPartners      map[meshid.NodeID]bool
	PreferredPartnerPolicy scoring.PreferredPartnerPolicy

	Radio  radio.Controller
	Logger *slog.Logger

	// Clock lets tests substitute a deterministic time source; nil uses
	// time.Now.
	Clock func() time.Time

	// Keys, NetworkKey, and PeerNoiseKey configure the emergency-disconnect
	// out-of-band access connection (§4.10). A node without all three
	// simply never succeeds at opening one, which is a safe default: the
	// decision engine just keeps retrying under EmergencyRetryInterval.
	// Key distribution across the mesh is an external collaborator's
	// concern (spec.md §1); the core only consumes a lookup function.
	Keys         *keymux.NodeKeys
	NetworkKey   []byte
	PeerNoiseKey func(meshid.NodeID) ([32]byte, bool)

	// DelayedPostDisconnectRebroadcast resolves spec.md §9's "go back to
	// HIGH" Open Question as an optional feature: when set, a node
	// republishes its beacon a second time, DeferredRebootDelay after any
	// link disconnect, so nearby candidates observe the final
	// post-disconnect cluster size and identity even if they missed the
	// immediate update. Off by default because the
	// immediate broadcastDelta already carries the new size to every
	// existing link; this only helps candidates that are not yet linked.
	DelayedPostDisconnectRebroadcast bool
}

// Node is the mesh formation core's aggregate: one node's identity,
// cluster membership, links, candidate buffer, and discovery state,
// driven by a single event loop over its radio.Controller.
type Node struct {
	NodeID    meshid.NodeID
	NetworkID meshid.NetworkID

	IsLeaf            bool
	IsSink            bool
	SingleInboundSlot bool

	ClusterID              meshid.ClusterID
	ClusterSize            int16
	HopsToSink             int16
	AckField               uint32
	ConnectionLossCounter  uint16
	consecutiveEmptyCycles int

	PreferredPartners      map[meshid.NodeID]bool
	PreferredPartnerPolicy scoring.PreferredPartnerPolicy

	links      map[radio.LinkID]*Link
	candidates *candidate.Buffer

	discoveryFSM *discovery.StateMachine
	beacon       *discovery.Beacon

	emergency   emergencyState
	accessLinks map[radio.LinkID]*accessConn
	accessLink  radio.LinkID

	keys         *keymux.NodeKeys
	networkKey   []byte
	peerNoiseKey func(meshid.NodeID) ([32]byte, bool)

	delayedPostDisconnectRebroadcast bool
	pendingDelayedRebroadcastAt      time.Time

	radioCtl radio.Controller
	logger   *slog.Logger
	clock    func() time.Time

	advJobActive bool

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a node in its initial boot state: a fresh cluster id of
// size 1, HIGH discovery, and an empty candidate buffer.
func New(cfg Config) (*Node, error) {
	if cfg.Radio == nil {
		return nil, fmt.Errorf("mesh: Config.Radio is required")
	}
	if !cfg.NodeID.Valid() {
		return nil, fmt.Errorf("mesh: Config.NodeID must be a valid node id")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	clusterID, err := meshid.Generate(cfg.NodeID, 0)
	if err != nil {
		return nil, fmt.Errorf("mesh: generate initial cluster id: %w", err)
	}

	n := &Node{
		NodeID:            cfg.NodeID,
		NetworkID:         cfg.NetworkID,
		IsLeaf:            cfg.IsLeaf,
		IsSink:            cfg.IsSink,
		SingleInboundSlot: cfg.SingleInboundSlot,
		ClusterID:         clusterID,
		ClusterSize:       1,
		HopsToSink:        boolToHops(cfg.IsSink),
		PreferredPartners: cfg.PreferredPartners,
		PreferredPartnerPolicy: cfg.PreferredPartnerPolicy,
		links:             make(map[radio.LinkID]*Link),
		candidates:        candidate.New(),
		discoveryFSM:      discovery.NewStateMachine(clock()),
		beacon:            discovery.NewBeacon(cfg.NodeID, cfg.NetworkID),
		accessLinks:       make(map[radio.LinkID]*accessConn),
		keys:              cfg.Keys,
		networkKey:        cfg.NetworkKey,
		peerNoiseKey:      cfg.PeerNoiseKey,
		delayedPostDisconnectRebroadcast: cfg.DelayedPostDisconnectRebroadcast,
		radioCtl:          cfg.Radio,
		logger:            logger,
		clock:             clock,
		done:              make(chan struct{}),
	}
	n.candidates.SetSelfClusterID(n.ClusterID)
	return n, nil
}

func boolToHops(isSink bool) int16 {
	if isSink {
		return 0
	}
	return -1
}

func (n *Node) now() time.Time {
	return n.clock()
}

// Start launches the event loop goroutine: it drains the radio's event
// channel and fires the decision tick on its own jittered timer. Start
// returns once the loop goroutine is running; callers stop it via Stop.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.ctx != nil {
		return fmt.Errorf("mesh: node already started")
	}
	n.ctx, n.cancel = context.WithCancel(ctx)

	if err := n.radioCtl.ScanStart(n.ctx); err != nil {
		return fmt.Errorf("mesh: scan start: %w", err)
	}
	n.republishBeacon()

	go n.run()
	return nil
}

// Stop cancels the event loop and waits for it to exit.
func (n *Node) Stop() {
	n.mu.Lock()
	cancel := n.cancel
	n.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-n.done
}

func (n *Node) run() {
	defer close(n.done)

	ticker := time.NewTicker(decisionInterval())
	defer ticker.Stop()

	for {
		select {
		case <-n.ctx.Done():
			return
		case ev, ok := <-n.radioCtl.Events():
			if !ok {
				return
			}
			n.handleEvent(ev)
		case now := <-ticker.C:
			n.handleDiscoveryTick(now)
			n.checkHandshakeTimeouts(now)
			n.runDecisionTick(now)
			n.checkDelayedRebroadcast(now)
			ticker.Reset(decisionInterval())
		}
	}
}

func (n *Node) handleDiscoveryTick(now time.Time) {
	if _, changed := n.discoveryFSM.Tick(now); changed {
		n.advJobActive = false // interval changed; force AdvJobAdd over Refresh
		n.republishBeacon()
		if n.discoveryFSM.State() == discovery.Low {
			_ = n.radioCtl.ScanStop(n.ctx)
		}
	}
}

func (n *Node) handleEvent(ev radio.Event) {
	switch {
	case ev.AdvReport != nil:
		n.handleAdvReport(ev.AdvReport)
	case ev.LinkUp != nil:
		n.handleLinkUp(ev.LinkUp)
	case ev.LinkDown != nil:
		n.handleLinkDownEvent(ev.LinkDown)
	case ev.Message != nil:
		n.handleMessage(ev.Message)
	}
}

func (n *Node) handleAdvReport(ev *radio.AdvReportEvent) {
	rec, err := wire.Decode(ev.Payload)
	if err != nil {
		n.logger.Debug("mesh: dropping malformed JOIN_ME", "error", err)
		return
	}
	if rec.NetworkID != n.NetworkID {
		return
	}
	if rec.SenderID == n.NodeID {
		return
	}
	scoreFn := func(e *candidate.Entry) uint32 {
		self := n.scoringSelf()
		now := n.now()
		if e.Record.ClusterSize >= self.ClusterSize {
			return scoring.AsMaster(e, self, now)
		}
		return scoring.AsSlave(e, self, now)
	}
	n.candidates.Observe(*rec, ev.RSSI, ev.Timestamp, scoreFn)
	n.discoveryFSM.KeepHighDiscoveryActive(n.now())
}

func (n *Node) handleLinkUp(ev *radio.LinkUpEvent) {
	if ev.IsAccess {
		n.handleAccessLinkUp(ev)
		return
	}

	var l *Link
	if ev.AsMaster {
		l = NewOutboundLink(ev.Link, meshid.NodeID(constants.NodeIDInvalid))
	} else {
		l = NewInboundLink(ev.Link)
	}
	l.State = LinkHandshaking
	l.HandshakeStartedAt = n.now()
	n.links[ev.Link] = l
	n.discoveryFSM.KeepHighDiscoveryActive(n.now())

	// Both sides exchange HELLO on link-up (§4.6 step 1); whichever side
	// computes itself the loser on receiving the peer's HELLO sends ACK1.
	hello := newHello(n)
	if err := n.sendHandshake(ev.Link, constants.KindHandshakeHello, hello); err != nil {
		n.logger.Warn("mesh: failed to send HELLO", "link", ev.Link, "error", err)
	}
}

func (n *Node) handleLinkDownEvent(ev *radio.LinkDownEvent) {
	if _, ok := n.accessLinks[ev.Link]; ok {
		delete(n.accessLinks, ev.Link)
		if n.accessLink == ev.Link {
			n.accessLink = 0
		}
		return
	}

	l, ok := n.links[ev.Link]
	if !ok {
		return
	}
	n.handleDisconnect(DisconnectInput{
		Link:                    ev.Link,
		Reason:                  ev.Reason,
		StateBefore:             l.State,
		HadMasterBit:            l.ConnectionMasterBit,
		PartnerSizeAtDisconnect: l.ConnectedClusterSize,
		PartnerClusterID:        n.ClusterID,
	})
}

func (n *Node) handleMessage(ev *radio.MessageEvent) {
	if len(ev.Data) < 1 {
		return
	}
	kind := ev.Data[0]
	payload := ev.Data[1:]

	switch kind {
	case constants.KindClusterInfoUpdate:
		n.handleInboundClusterInfoUpdate(ev.Link, payload)
	case constants.KindHandshakeHello, constants.KindHandshakeAck1, constants.KindHandshakeAck2:
		n.handleHandshakeMessage(ev.Link, kind, payload)
	case constants.KindControl:
		if ac, ok := n.accessLinks[ev.Link]; ok {
			n.handleAccessControlMessage(ev.Link, ac, payload)
			return
		}
		n.handleControlMessage(ev.Link, payload)
	case constants.KindAccessHandshake:
		n.handleAccessHandshakeMessage(ev.Link, payload)
	}
}

// sendHandshake frames a handshake message with a 1-byte kind prefix
// followed by its canonical CBOR encoding and sends it on link.
func (n *Node) sendHandshake(link radio.LinkID, kind uint8, v interface{}) error {
	w := wire.ControlMessage{ModuleID: constants.ModuleIDNode, ActionType: kind}
	if err := w.EncodePayload(v); err != nil {
		return err
	}
	return n.radioCtl.Send(n.ctx, link, frameMessage(kind, w.Payload))
}

// frameMessage builds the 1-byte-kind-prefixed frame every message sent
// over an established link uses.
func frameMessage(kind uint8, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = kind
	copy(buf[1:], payload)
	return buf
}

func (n *Node) republishBeacon() {
	if n.discoveryFSM.State() == discovery.Off {
		return
	}
	freeIn := n.freeInboundSlots()

	// §4.1: a leaf with no free inbound slot has nothing to offer a master
	// and suspends advertising entirely rather than beacon uselessly.
	if n.IsLeaf && freeIn == 0 {
		if n.advJobActive {
			if err := n.radioCtl.AdvJobRemove(n.ctx); err != nil {
				n.logger.Warn("mesh: failed to remove advertisement job", "error", err)
				return
			}
			n.advJobActive = false
		}
		return
	}

	payload, err := n.beacon.Rebuild(discovery.Snapshot{
		ClusterID:   n.ClusterID,
		ClusterSize: n.ClusterSize,
		FreeMeshIn:  freeIn,
		FreeMeshOut: uint8(n.freeOutboundSlots()),
		HopsToSink:  n.HopsToSink,
		AckField:    n.AckField,
		DeviceType:  n.deviceType(),
	})
	if err != nil {
		n.logger.Error("mesh: failed to rebuild beacon", "error", err)
		return
	}
	if !n.advJobActive {
		if err := n.radioCtl.AdvJobAdd(n.ctx, payload, n.discoveryFSM.AdvInterval()); err != nil {
			n.logger.Warn("mesh: failed to add advertisement job", "error", err)
			return
		}
		n.advJobActive = true
		return
	}
	if err := n.radioCtl.AdvJobRefresh(n.ctx, payload); err != nil {
		n.logger.Warn("mesh: failed to refresh advertisement", "error", err)
	}
}

func (n *Node) deviceType() wire.DeviceType {
	switch {
	case n.IsSink:
		return wire.DeviceTypeSink
	case n.IsLeaf:
		return wire.DeviceTypeLeaf
	default:
		return wire.DeviceTypeStandard
	}
}

func (n *Node) freeInboundSlots() uint8 {
	if n.SingleInboundSlot {
		if n.soleInboundLink() != nil {
			return 0
		}
		return 1
	}
	used := 0
	for _, l := range n.links {
		if !l.AsMaster {
			used++
		}
	}
	free := constants.MaxMeshLinks - used
	if free < 0 {
		return 0
	}
	return uint8(free)
}

func (n *Node) activeLinkPartners() map[meshid.NodeID]bool {
	out := make(map[meshid.NodeID]bool, len(n.links))
	for _, l := range n.links {
		if l.Partner.Valid() {
			out[l.Partner] = true
		}
	}
	return out
}

// scheduleDelayedHighBroadcast implements the optional, config-gated half
// of spec.md §9's "go back to HIGH" Open Question (see DESIGN.md): a
// second beacon republish DeferredRebootDelay after any link disconnect
// (afterDisconnect calls it unconditionally), so candidates not yet linked to this node
// observe the final post-disconnect size. No-op unless
// Config.DelayedPostDisconnectRebroadcast is set. The actual republish
// happens on the decision tick in checkDelayedRebroadcast, keeping the
// mutation on the single event-loop goroutine instead of a timer
// goroutine racing against it.
func (n *Node) scheduleDelayedHighBroadcast() {
	if !n.delayedPostDisconnectRebroadcast {
		return
	}
	n.pendingDelayedRebroadcastAt = n.now().Add(constants.DeferredRebootDelay)
}

func (n *Node) checkDelayedRebroadcast(now time.Time) {
	if n.pendingDelayedRebroadcastAt.IsZero() {
		return
	}
	if now.Before(n.pendingDelayedRebroadcastAt) {
		return
	}
	n.pendingDelayedRebroadcastAt = time.Time{}
	n.republishBeacon()
}

