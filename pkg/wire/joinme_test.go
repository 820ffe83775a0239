package wire

import "testing"

func sampleRecord() *JoinMeRecord {
	return &JoinMeRecord{
		NetworkID:       0x1234,
		SenderID:        7,
		ClusterID:       0xAABBCCDD,
		ClusterSize:     3,
		FreeMeshIn:      2,
		FreeMeshOut:     1,
		BatteryRuntime:  200,
		TxPower:         -4,
		DeviceType:      DeviceTypeLeaf,
		HopsToSink:      -1,
		MeshWriteHandle: 0x55AA,
		AckField:        0xDEADBEEF,
	}
}

func TestJoinMeRoundTrip(t *testing.T) {
	in := sampleRecord()
	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(data) != 32 {
		t.Fatalf("encoded length = %d, want 32", len(data))
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if *out != *in {
		t.Errorf("round trip mismatch: got %+v, want %+v", out, in)
	}
}

func TestJoinMeDecodeTruncated(t *testing.T) {
	in := sampleRecord()
	data, _ := in.Encode()
	for _, n := range []int{0, 1, 3, 10, len(data) - 1} {
		if _, err := Decode(data[:n]); err == nil {
			t.Errorf("Decode(%d bytes) succeeded, want error", n)
		}
	}
}

func TestJoinMeDecodeRejectsWrongCompanyID(t *testing.T) {
	in := sampleRecord()
	data, _ := in.Encode()
	data[5] ^= 0xFF // corrupt company id low byte
	if _, err := Decode(data); err == nil {
		t.Error("Decode accepted a record with a corrupted company id")
	}
}

func TestJoinMeDecodeRejectsWrongFlagsHeader(t *testing.T) {
	in := sampleRecord()
	data, _ := in.Encode()
	data[0] = 9
	if _, err := Decode(data); err == nil {
		t.Error("Decode accepted a record with a corrupted flags TLV length")
	}
}
