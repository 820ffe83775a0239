// Package wire implements the mesh formation core's wire formats: the
// JOIN_ME discovery advertisement, the cluster-info update packet carried
// over established links, and the control-message envelope at the core
// boundary.
package wire

import (
	"encoding/binary"
	"fmt"

	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/meshid"
)

// DeviceType classifies a node's role in the mesh.
type DeviceType uint8

const (
	DeviceTypeStandard DeviceType = 0
	DeviceTypeLeaf     DeviceType = 1
	DeviceTypeSink     DeviceType = 2
)

// JoinMeRecord is the payload of a JOIN_ME v0 advertisement: a summary of
// the sender's current cluster membership and free slots.
type JoinMeRecord struct {
	NetworkID       meshid.NetworkID
	SenderID        meshid.NodeID
	ClusterID       meshid.ClusterID
	ClusterSize     int16
	FreeMeshIn      uint8
	FreeMeshOut     uint8
	BatteryRuntime  uint8
	TxPower         int8
	DeviceType      DeviceType
	HopsToSink      int16
	MeshWriteHandle uint16
	AckField        uint32
}

// Encode serializes the record into the bit-exact TLV advertisement layout:
// a BLE flags TLV followed by a manufacturer-specific TLV carrying the
// JOIN_ME fields in little-endian order.
func (r *JoinMeRecord) Encode() ([]byte, error) {
	buf := make([]byte, 0, constants.JoinMeWireSize)

	// Flags TLV: len=2 (type+value), type=0x01, value=0x06
	buf = append(buf, byte(constants.FlagsTLVLen), byte(constants.FlagsTLVType), byte(constants.FlagsTLVValue))

	// Manufacturer TLV header: len counts type+value bytes that follow.
	manufValue := make([]byte, constants.ManufTLVLen)
	binary.LittleEndian.PutUint16(manufValue[0:2], constants.CompanyID)
	manufValue[2] = constants.MeshIdentifier
	binary.LittleEndian.PutUint16(manufValue[3:5], uint16(r.NetworkID))
	manufValue[5] = constants.ServiceMsgTypeJoinMeV0
	binary.LittleEndian.PutUint16(manufValue[6:8], uint16(r.SenderID))
	binary.LittleEndian.PutUint32(manufValue[8:12], uint32(r.ClusterID))
	binary.LittleEndian.PutUint16(manufValue[12:14], uint16(r.ClusterSize))
	manufValue[14] = r.FreeMeshIn
	manufValue[15] = r.FreeMeshOut
	manufValue[16] = r.BatteryRuntime
	manufValue[17] = byte(r.TxPower)
	manufValue[18] = byte(r.DeviceType)
	binary.LittleEndian.PutUint16(manufValue[19:21], uint16(r.HopsToSink))
	binary.LittleEndian.PutUint16(manufValue[21:23], r.MeshWriteHandle)
	binary.LittleEndian.PutUint32(manufValue[23:27], r.AckField)

	manufLen := 1 + len(manufValue) // type byte + value bytes
	buf = append(buf, byte(manufLen), byte(constants.ManufTLVType))
	buf = append(buf, manufValue...)

	return buf, nil
}

// Decode parses a JOIN_ME advertisement produced by Encode. It never
// mutates the caller's record on error.
func Decode(data []byte) (*JoinMeRecord, error) {
	const flagsStructLen = 1 + constants.FlagsTLVLen // len byte + (type+value)
	const manufHeaderLen = 2                         // len byte + type byte

	if len(data) < flagsStructLen+manufHeaderLen+constants.ManufTLVLen {
		return nil, fmt.Errorf("wire: JOIN_ME record too short: %d bytes", len(data))
	}

	if data[0] != byte(constants.FlagsTLVLen) || data[1] != byte(constants.FlagsTLVType) {
		return nil, fmt.Errorf("wire: unexpected flags TLV header")
	}

	off := flagsStructLen
	manufLen := data[off]
	manufType := data[off+1]
	if manufType != byte(constants.ManufTLVType) {
		return nil, fmt.Errorf("wire: unexpected manufacturer TLV type 0x%02x", manufType)
	}
	if int(manufLen)-1 != constants.ManufTLVLen {
		return nil, fmt.Errorf("wire: unexpected manufacturer TLV length %d", manufLen)
	}

	v := data[off+2 : off+2+constants.ManufTLVLen]

	if binary.LittleEndian.Uint16(v[0:2]) != constants.CompanyID {
		return nil, fmt.Errorf("wire: unrecognized company id")
	}
	if v[2] != constants.MeshIdentifier {
		return nil, fmt.Errorf("wire: not a mesh advertisement")
	}
	if v[5] != constants.ServiceMsgTypeJoinMeV0 {
		return nil, fmt.Errorf("wire: unsupported service message type 0x%02x", v[5])
	}

	r := &JoinMeRecord{
		NetworkID:       meshid.NetworkID(binary.LittleEndian.Uint16(v[3:5])),
		SenderID:        meshid.NodeID(binary.LittleEndian.Uint16(v[6:8])),
		ClusterID:       meshid.ClusterID(binary.LittleEndian.Uint32(v[8:12])),
		ClusterSize:     int16(binary.LittleEndian.Uint16(v[12:14])),
		FreeMeshIn:      v[14],
		FreeMeshOut:     v[15],
		BatteryRuntime:  v[16],
		TxPower:         int8(v[17]),
		DeviceType:      DeviceType(v[18]),
		HopsToSink:      int16(binary.LittleEndian.Uint16(v[19:21])),
		MeshWriteHandle: binary.LittleEndian.Uint16(v[21:23]),
		AckField:        binary.LittleEndian.Uint32(v[23:27]),
	}
	return r, nil
}
