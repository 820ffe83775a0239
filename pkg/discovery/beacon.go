package discovery

import (
	"sync"

	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/wire"
)

// Beacon owns the JOIN_ME payload a node advertises. Its Rebuild is
// triggered whenever any of {clusterId, clusterSize, free slot counts,
// ack target, hops} changes; the caller is responsible for noticing those
// changes and calling Rebuild, typically right before re-publishing to
// the radio.
type Beacon struct {
	mu     sync.Mutex
	record wire.JoinMeRecord
}

// NewBeacon creates a beacon for the given node and network, with the
// remaining fields left at zero until the first Rebuild.
func NewBeacon(nodeID meshid.NodeID, networkID meshid.NetworkID) *Beacon {
	return &Beacon{record: wire.JoinMeRecord{SenderID: nodeID, NetworkID: networkID}}
}

// Snapshot is the mutable state Rebuild folds into the advertised record.
type Snapshot struct {
	ClusterID       meshid.ClusterID
	ClusterSize     int16
	FreeMeshIn      uint8
	FreeMeshOut     uint8
	BatteryRuntime  uint8
	TxPower         int8
	DeviceType      wire.DeviceType
	HopsToSink      int16
	MeshWriteHandle uint16
	AckField        uint32
}

// Rebuild folds a fresh snapshot into the beacon's advertised record and
// returns the bit-exact payload ready for AdvJobAdd/AdvJobRefresh.
func (b *Beacon) Rebuild(s Snapshot) ([]byte, error) {
	b.mu.Lock()
	b.record.ClusterID = s.ClusterID
	b.record.ClusterSize = s.ClusterSize
	b.record.FreeMeshIn = s.FreeMeshIn
	b.record.FreeMeshOut = s.FreeMeshOut
	b.record.BatteryRuntime = s.BatteryRuntime
	b.record.TxPower = s.TxPower
	b.record.DeviceType = s.DeviceType
	b.record.HopsToSink = s.HopsToSink
	b.record.MeshWriteHandle = s.MeshWriteHandle
	b.record.AckField = s.AckField
	rec := b.record
	b.mu.Unlock()

	return rec.Encode()
}

// Current returns the last-built record without rebuilding.
func (b *Beacon) Current() wire.JoinMeRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.record
}
