package mesh

import (
	"testing"

	"github.com/beemesh/meshcore/pkg/security/keymux"
)

// TestHandleAccessControlMessageRejectsIncompleteHandshake drives the C11
// receipt-side gate directly (§4.10 steps 2-3): a control frame arriving on
// an access link whose Noise handshake never completed must be dropped
// without ever reaching handleEmergencyDisconnectTrigger.
func TestHandleAccessControlMessageRejectsIncompleteHandshake(t *testing.T) {
	n := newTestNode(t, 1)
	keys, err := keymux.GenerateNodeKeys()
	if err != nil {
		t.Fatalf("GenerateNodeKeys: %v", err)
	}
	hs, err := keymux.NewResponder(keys, []byte("network-key"))
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}
	ac := &accessConn{hs: hs, initiator: false}
	n.accessLinks[42] = ac

	n.handleAccessControlMessage(42, ac, []byte("not-a-real-ciphertext"))

	if _, ok := n.accessLinks[42]; ok {
		t.Error("access link was not dropped for an unauthenticated control frame")
	}
}

// TestHandleAccessControlMessageRejectsBadCiphertext exercises the second
// half of the gate: even a completed-looking handshake must actually
// decrypt the frame under the negotiated session key before it is
// dispatched as a control message.
func TestHandleAccessControlMessageRejectsBadCiphertext(t *testing.T) {
	n := newTestNode(t, 1)
	initiatorKeys, _ := keymux.GenerateNodeKeys()
	responderKeys, _ := keymux.GenerateNodeKeys()
	networkKey := []byte("shared-network-key")

	initiator, err := keymux.NewInitiator(initiatorKeys, networkKey, responderKeys.NoisePublic[:])
	if err != nil {
		t.Fatalf("NewInitiator: %v", err)
	}
	responder, err := keymux.NewResponder(responderKeys, networkKey)
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
	if !responder.IsComplete() {
		t.Fatal("responder handshake did not complete")
	}

	ac := &accessConn{hs: responder, initiator: false}
	n.accessLinks[7] = ac

	n.handleAccessControlMessage(7, ac, []byte("garbage-not-sealed-by-initiator"))

	if _, ok := n.accessLinks[7]; ok {
		t.Error("access link was not dropped for a frame that failed to decrypt")
	}
}
