package wire

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/beemesh/meshcore/pkg/codec/cborcanon"
)

// ControlMessage is the envelope carried between the mesh core and the
// application modules layered on top of it. Unlike the JOIN_ME and
// cluster-info packets, which must be bit-exact to interoperate with
// constrained radios, control messages travel over an already-framed
// transport and get the canonical CBOR treatment the rest of the stack
// uses for everything off the radio's air interface.
type ControlMessage struct {
	ModuleID      uint8         `cbor:"module_id"`
	ActionType    uint8         `cbor:"action_type"`
	RequestHandle uint32        `cbor:"request_handle"`
	Payload       cbor.RawMessage `cbor:"payload"`
}

// Encode serializes the message as canonical CBOR.
func (m *ControlMessage) Encode() ([]byte, error) {
	data, err := cborcanon.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("wire: encode control message: %w", err)
	}
	return data, nil
}

// DecodeControlMessage parses a canonical CBOR control message envelope.
func DecodeControlMessage(data []byte) (*ControlMessage, error) {
	var m ControlMessage
	if err := cborcanon.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("wire: decode control message: %w", err)
	}
	return &m, nil
}

// DecodePayload unmarshals the message's payload into v.
func (m *ControlMessage) DecodePayload(v interface{}) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("wire: control message has no payload")
	}
	return cborcanon.Unmarshal(m.Payload, v)
}

// EncodePayload sets the message's payload to the canonical CBOR encoding
// of v.
func (m *ControlMessage) EncodePayload(v interface{}) error {
	data, err := cborcanon.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: encode control message payload: %w", err)
	}
	m.Payload = data
	return nil
}
