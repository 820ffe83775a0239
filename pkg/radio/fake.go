package radio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/beemesh/meshcore/pkg/meshid"
)

// Fake is an in-memory Controller used by mesh package tests and by the
// scenario harness to run several nodes against each other in a single
// process without a real radio.
type Fake struct {
	mu       sync.Mutex
	events   chan Event
	nextLink LinkID
	peer     map[LinkID]*Fake // local LinkID -> remote Fake
	remote   map[LinkID]LinkID
	adv      []byte
	scanning bool

	// Network is the shared registry every Fake in a scenario must join so
	// ConnectAsMaster can find the target node's Fake by NodeID.
	network *FakeNetwork
	self    meshid.NodeID
}

// FakeNetwork lets a test register several Fake controllers under their
// node ids so they can connect to each other and observe one another's
// advertisements.
type FakeNetwork struct {
	mu    sync.Mutex
	nodes map[meshid.NodeID]*Fake
}

func NewFakeNetwork() *FakeNetwork {
	return &FakeNetwork{nodes: make(map[meshid.NodeID]*Fake)}
}

// NewFake registers and returns a new Fake controller for nodeID.
func (n *FakeNetwork) NewFake(nodeID meshid.NodeID) *Fake {
	f := &Fake{
		events: make(chan Event, 256),
		peer:   make(map[LinkID]*Fake),
		remote: make(map[LinkID]LinkID),
		network: n,
		self:    nodeID,
	}
	n.mu.Lock()
	n.nodes[nodeID] = f
	n.mu.Unlock()
	return f
}

// broadcast delivers from's advertisement payload to the event channel
// of every other registered node that is currently scanning.
func (n *FakeNetwork) broadcast(from *Fake, payload []byte) {
	n.mu.Lock()
	targets := make([]*Fake, 0, len(n.nodes))
	for id, f := range n.nodes {
		if id != from.self {
			targets = append(targets, f)
		}
	}
	n.mu.Unlock()

	for _, t := range targets {
		t.mu.Lock()
		scanning := t.scanning
		t.mu.Unlock()
		if !scanning {
			continue
		}
		t.events <- Event{AdvReport: &AdvReportEvent{Payload: payload, RSSI: -50, Timestamp: fakeNow()}}
	}
}

func fakeNow() time.Time { return time.Now() }

func (f *Fake) AdvJobAdd(ctx context.Context, payload []byte, interval time.Duration) error {
	f.mu.Lock()
	f.adv = payload
	f.mu.Unlock()
	f.network.broadcast(f, payload)
	return nil
}

func (f *Fake) AdvJobRefresh(ctx context.Context, payload []byte) error {
	f.mu.Lock()
	f.adv = payload
	f.mu.Unlock()
	f.network.broadcast(f, payload)
	return nil
}

func (f *Fake) AdvJobRemove(ctx context.Context) error {
	f.mu.Lock()
	f.adv = nil
	f.mu.Unlock()
	return nil
}

func (f *Fake) ScanStart(ctx context.Context) error {
	f.mu.Lock()
	f.scanning = true
	f.mu.Unlock()
	return nil
}

func (f *Fake) ScanStop(ctx context.Context) error {
	f.mu.Lock()
	f.scanning = false
	f.mu.Unlock()
	return nil
}

func (f *Fake) ConnectAsMaster(ctx context.Context, peer meshid.NodeID, connInterval time.Duration) (LinkID, error) {
	return f.connect(peer, false)
}

// OpenAccessConnection establishes the same kind of peer-to-peer Fake link
// as ConnectAsMaster, but the resulting LinkUp events carry IsAccess true
// so the mesh package routes them to the out-of-band handshake instead of
// the mesh-merge one.
func (f *Fake) OpenAccessConnection(ctx context.Context, peer meshid.NodeID) (LinkID, error) {
	return f.connect(peer, true)
}

func (f *Fake) connect(peer meshid.NodeID, isAccess bool) (LinkID, error) {
	f.network.mu.Lock()
	target, ok := f.network.nodes[peer]
	f.network.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("radio: no such peer %s", peer)
	}

	f.mu.Lock()
	f.nextLink++
	localID := f.nextLink
	f.peer[localID] = target
	f.mu.Unlock()

	target.mu.Lock()
	target.nextLink++
	remoteID := target.nextLink
	target.peer[remoteID] = f
	target.remote[remoteID] = localID
	target.mu.Unlock()

	f.mu.Lock()
	f.remote[localID] = remoteID
	f.mu.Unlock()

	target.events <- Event{LinkUp: &LinkUpEvent{Link: remoteID, AsMaster: false, IsAccess: isAccess}}
	f.events <- Event{LinkUp: &LinkUpEvent{Link: localID, AsMaster: true, IsAccess: isAccess}}
	return localID, nil
}

func (f *Fake) Disconnect(ctx context.Context, link LinkID) error {
	f.mu.Lock()
	peer, ok := f.peer[link]
	remoteID := f.remote[link]
	delete(f.peer, link)
	delete(f.remote, link)
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("radio: no such link %d", link)
	}
	peer.events <- Event{LinkDown: &LinkDownEvent{Link: remoteID, Reason: "peer disconnected"}}
	f.events <- Event{LinkDown: &LinkDownEvent{Link: link, Reason: "local disconnect"}}
	return nil
}

func (f *Fake) ForceDisconnectAll(ctx context.Context) error {
	f.mu.Lock()
	links := make([]LinkID, 0, len(f.peer))
	for l := range f.peer {
		links = append(links, l)
	}
	f.mu.Unlock()
	for _, l := range links {
		if err := f.Disconnect(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

func (f *Fake) Send(ctx context.Context, link LinkID, data []byte) error {
	f.mu.Lock()
	peer, ok := f.peer[link]
	remoteID := f.remote[link]
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("radio: no such link %d", link)
	}
	peer.events <- Event{Message: &MessageEvent{Link: remoteID, Data: data}}
	return nil
}

func (f *Fake) Events() <-chan Event {
	return f.events
}
