package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/beemesh/meshcore/pkg/meshid"
)

// ClusterInfoUpdate is the coalescing delta packet exchanged over an
// established mesh link whenever cluster size, hop distance to sink, or
// master-bit ownership changes. Receivers reject a packet whose Counter
// does not immediately follow the last one they accepted for that link.
type ClusterInfoUpdate struct {
	Sender                     meshid.NodeID
	Receiver                   meshid.NodeID
	ClusterSizeChange          int16
	HopsToSink                 int16
	ConnectionMasterBitHandover bool
	Counter                    uint8
}

const clusterInfoWireSize = 2 + 2 + 2 + 2 + 1 + 1

// Encode serializes the update into its bit-exact little-endian layout.
func (u *ClusterInfoUpdate) Encode() ([]byte, error) {
	buf := make([]byte, clusterInfoWireSize)
	binary.LittleEndian.PutUint16(buf[0:2], uint16(u.Sender))
	binary.LittleEndian.PutUint16(buf[2:4], uint16(u.Receiver))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(u.ClusterSizeChange))
	binary.LittleEndian.PutUint16(buf[6:8], uint16(u.HopsToSink))
	if u.ConnectionMasterBitHandover {
		buf[8] = 1
	}
	buf[9] = u.Counter
	return buf, nil
}

// DecodeClusterInfoUpdate parses a packet produced by Encode.
func DecodeClusterInfoUpdate(data []byte) (*ClusterInfoUpdate, error) {
	if len(data) != clusterInfoWireSize {
		return nil, fmt.Errorf("wire: cluster-info update has wrong length %d, want %d", len(data), clusterInfoWireSize)
	}
	return &ClusterInfoUpdate{
		Sender:                      meshid.NodeID(binary.LittleEndian.Uint16(data[0:2])),
		Receiver:                    meshid.NodeID(binary.LittleEndian.Uint16(data[2:4])),
		ClusterSizeChange:           int16(binary.LittleEndian.Uint16(data[4:6])),
		HopsToSink:                  int16(binary.LittleEndian.Uint16(data[6:8])),
		ConnectionMasterBitHandover: data[8] != 0,
		Counter:                     data[9],
	}, nil
}

// NextCounter returns the counter value that must follow c on the wire,
// wrapping modulo 256 per the link's per-direction sequence.
func NextCounter(c uint8) uint8 {
	return c + 1
}
