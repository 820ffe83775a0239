package wire

import "testing"

type pingPayload struct {
	Nonce uint32 `cbor:"nonce"`
}

func TestControlMessageRoundTrip(t *testing.T) {
	in := &ControlMessage{ModuleID: 0, ActionType: 2, RequestHandle: 99}
	if err := in.EncodePayload(&pingPayload{Nonce: 42}); err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}

	data, err := in.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	out, err := DecodeControlMessage(data)
	if err != nil {
		t.Fatalf("DecodeControlMessage: %v", err)
	}
	if out.ModuleID != in.ModuleID || out.ActionType != in.ActionType || out.RequestHandle != in.RequestHandle {
		t.Errorf("envelope mismatch: got %+v, want %+v", out, in)
	}

	var p pingPayload
	if err := out.DecodePayload(&p); err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if p.Nonce != 42 {
		t.Errorf("payload nonce = %d, want 42", p.Nonce)
	}
}

func TestControlMessageDecodePayloadEmpty(t *testing.T) {
	m := &ControlMessage{}
	var p pingPayload
	if err := m.DecodePayload(&p); err == nil {
		t.Error("DecodePayload succeeded on an empty payload")
	}
}
