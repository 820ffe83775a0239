// Package meshid implements the mesh's node, network, and cluster
// identifiers, including ClusterId generation and a proquint-style debug
// name purely for human-readable logging.
package meshid

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/beemesh/meshcore/pkg/constants"
	"lukechampine.com/blake3"
)

// NodeID is a 16-bit integer, unique within a network. 0 is reserved
// invalid; the high range is reserved for hop-limited broadcast addresses.
type NodeID uint16

// Valid reports whether the id is usable as a real node identifier.
func (n NodeID) Valid() bool {
	return n != NodeID(constants.NodeIDInvalid)
}

// IsBroadcast reports whether the id falls in the hop-limited broadcast
// range.
func (n NodeID) IsBroadcast() bool {
	return uint16(n) >= constants.NodeIDBroadcastRangeStart
}

func (n NodeID) String() string {
	return fmt.Sprintf("node-%d", uint16(n))
}

// NetworkID is a 16-bit integer identifying the network a node belongs to.
// JOIN_ME records carrying a different NetworkID are dropped on sight.
type NetworkID uint16

// ClusterID is derived as node_id | ((connection_loss_counter +
// random_boot_nonce) << 16), unique per (node, incarnation) so stale peers
// from a prior incarnation cannot accidentally merge with a rejoined
// subtree.
type ClusterID uint32

// Generate produces a fresh ClusterID for nodeID given the current
// connection-loss counter, mixing in a random boot nonce so the high bits
// are not predictable across incarnations.
func Generate(nodeID NodeID, connectionLossCounter uint16) (ClusterID, error) {
	var nonceBuf [2]byte
	if _, err := rand.Read(nonceBuf[:]); err != nil {
		return 0, fmt.Errorf("meshid: failed to read boot nonce: %w", err)
	}
	nonce := binary.BigEndian.Uint16(nonceBuf[:])

	high := uint32(connectionLossCounter) + uint32(nonce)
	return ClusterID(uint32(nodeID) | (high << 16)), nil
}

func (c ClusterID) String() string {
	return fmt.Sprintf("0x%08x", uint32(c))
}

// DebugName derives a short, human-debuggable proquint-style name from a
// NodeID+ClusterID pair. It never appears on the wire; it exists only to
// make log lines and test failures legible, the way the teacher's honeytag
// makes a BID legible.
func DebugName(nodeID NodeID, clusterID ClusterID) string {
	var buf [6]byte
	binary.BigEndian.PutUint16(buf[0:2], uint16(nodeID))
	binary.BigEndian.PutUint32(buf[2:6], uint32(clusterID))

	hasher := blake3.New(32, nil)
	hasher.Write(buf[:])
	hash := hasher.Sum(nil)

	fp32 := binary.BigEndian.Uint32(hash[:4])
	return encodeProquint32(fp32)
}

const (
	proquintConsonants = "bdfghjklmnprstvz"
	proquintVowels     = "aeiou"
)

// encodeProquint32 encodes a 32-bit value as two CVCVC proquints joined by
// '-', following the same bit layout as identity-derived debug tokens.
func encodeProquint32(value uint32) string {
	high := uint16(value >> 16)
	low := uint16(value & 0xFFFF)
	return encodeProquint16(high) + "-" + encodeProquint16(low)
}

func encodeProquint16(val uint16) string {
	result := make([]byte, 5)
	result[0] = proquintConsonants[(val>>12)&0x0F]
	result[1] = proquintVowels[(val>>10)&0x03]
	result[2] = proquintConsonants[(val>>6)&0x0F]
	result[3] = proquintVowels[(val>>4)&0x03]
	result[4] = proquintConsonants[val&0x0F]
	return string(result)
}
