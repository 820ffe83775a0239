package keymux

import (
	"testing"

	"github.com/beemesh/meshcore/pkg/meshid"
)

func TestAccessHelloSignAndVerify(t *testing.T) {
	keys, err := GenerateNodeKeys()
	if err != nil {
		t.Fatalf("GenerateNodeKeys: %v", err)
	}
	networkKey := []byte("a shared network secret, any length")

	hello := &AccessHello{NodeID: meshid.NodeID(7), Nonce: 12345, NoiseKey: keys.NoisePublic[:]}
	if err := hello.Sign(networkKey, keys.SigningPrivate); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := hello.Verify(networkKey, keys.SigningPublic); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestAccessHelloVerifyRejectsWrongNetworkKey(t *testing.T) {
	keys, _ := GenerateNodeKeys()
	hello := &AccessHello{NodeID: meshid.NodeID(7), Nonce: 1, NoiseKey: keys.NoisePublic[:]}
	_ = hello.Sign([]byte("network-a"), keys.SigningPrivate)
	if err := hello.Verify([]byte("network-b"), keys.SigningPublic); err == nil {
		t.Error("Verify accepted a hello signed under a different network key")
	}
}

func TestAccessHelloVerifyRejectsTamperedField(t *testing.T) {
	keys, _ := GenerateNodeKeys()
	networkKey := []byte("network-a")
	hello := &AccessHello{NodeID: meshid.NodeID(7), Nonce: 1, NoiseKey: keys.NoisePublic[:]}
	_ = hello.Sign(networkKey, keys.SigningPrivate)
	hello.NodeID = meshid.NodeID(8)
	if err := hello.Verify(networkKey, keys.SigningPublic); err == nil {
		t.Error("Verify accepted a hello with a mutated field after signing")
	}
}

func TestHandshakeCompletesBetweenInitiatorAndResponder(t *testing.T) {
	initiatorKeys, _ := GenerateNodeKeys()
	responderKeys, _ := GenerateNodeKeys()
	networkKey := []byte("shared-network-key")

	initiator, err := NewInitiator(initiatorKeys, networkKey, responderKeys.NoisePublic[:])
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	responder, err := NewResponder(responderKeys, networkKey)
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}

	msg1, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("initiator WriteMessage: %v", err)
	}
	if _, err := responder.ReadMessage(msg1); err != nil {
		t.Fatalf("responder ReadMessage: %v", err)
	}

	msg2, err := responder.WriteMessage(nil)
	if err != nil {
		t.Fatalf("responder WriteMessage: %v", err)
	}
	if _, err := initiator.ReadMessage(msg2); err != nil {
		t.Fatalf("initiator ReadMessage: %v", err)
	}

	if !initiator.IsComplete() || !responder.IsComplete() {
		t.Error("handshake did not complete on both sides")
	}
}

func TestHandshakeEncryptDecryptRoundTripBothDirections(t *testing.T) {
	initiatorKeys, _ := GenerateNodeKeys()
	responderKeys, _ := GenerateNodeKeys()
	networkKey := []byte("shared-network-key")

	initiator, err := NewInitiator(initiatorKeys, networkKey, responderKeys.NoisePublic[:])
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	responder, err := NewResponder(responderKeys, networkKey)
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}

	msg1, err := initiator.WriteMessage(nil)
	if err != nil {
		t.Fatalf("initiator WriteMessage: %v", err)
	}
	if _, err := responder.ReadMessage(msg1); err != nil {
		t.Fatalf("responder ReadMessage: %v", err)
	}
	msg2, err := responder.WriteMessage(nil)
	if err != nil {
		t.Fatalf("responder WriteMessage: %v", err)
	}
	if _, err := initiator.ReadMessage(msg2); err != nil {
		t.Fatalf("initiator ReadMessage: %v", err)
	}

	trigger := []byte("emergency-disconnect-trigger")
	sealed, err := initiator.Encrypt(trigger)
	if err != nil {
		t.Fatalf("initiator Encrypt: %v", err)
	}
	opened, err := responder.Decrypt(sealed)
	if err != nil {
		t.Fatalf("responder Decrypt: %v", err)
	}
	if string(opened) != string(trigger) {
		t.Errorf("responder decrypted %q, want %q", opened, trigger)
	}

	ack := []byte("emergency-disconnect-ack")
	sealedAck, err := responder.Encrypt(ack)
	if err != nil {
		t.Fatalf("responder Encrypt: %v", err)
	}
	openedAck, err := initiator.Decrypt(sealedAck)
	if err != nil {
		t.Fatalf("initiator Decrypt: %v", err)
	}
	if string(openedAck) != string(ack) {
		t.Errorf("initiator decrypted %q, want %q", openedAck, ack)
	}
}

func TestHandshakeEncryptBeforeCompleteFails(t *testing.T) {
	initiatorKeys, _ := GenerateNodeKeys()
	responderKeys, _ := GenerateNodeKeys()
	initiator, err := NewInitiator(initiatorKeys, []byte("network-key"), responderKeys.NoisePublic[:])
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	if _, err := initiator.Encrypt([]byte("too early")); err == nil {
		t.Error("Encrypt succeeded before handshake completed")
	}
	if _, err := initiator.Decrypt([]byte("too early")); err == nil {
		t.Error("Decrypt succeeded before handshake completed")
	}
}
