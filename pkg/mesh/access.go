package mesh

import (
	"fmt"

	"github.com/beemesh/meshcore/pkg/codec/cborcanon"
	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/radio"
	"github.com/beemesh/meshcore/pkg/security/keymux"
	"github.com/beemesh/meshcore/pkg/wire"
)

// accessConn tracks one in-flight out-of-band access connection (§4.10):
// a short-lived Noise IK exchange authenticated under the network key,
// used only to deliver one EMERGENCY_DISCONNECT trigger and its reply.
type accessConn struct {
	hs        *keymux.Handshake
	initiator bool
	target    meshid.NodeID
}

// openAccessConnection dials target over a fresh out-of-band link and
// starts the initiator side of the Noise IK admission handshake. It
// requires the node to be configured with identity keys, a network key,
// and a way to look up the target's Noise static public key; a node
// without those (the common case in tests that don't exercise C11) simply
// cannot run the emergency-disconnect protocol, matching spec.md's framing
// of key material as an external collaborator concern.
func (n *Node) openAccessConnection(target meshid.NodeID) error {
	if n.keys == nil || n.peerNoiseKey == nil {
		return fmt.Errorf("mesh: node has no identity keys configured, cannot open an access connection")
	}
	peerKey, ok := n.peerNoiseKey(target)
	if !ok {
		return fmt.Errorf("mesh: no known noise key for target %s", target)
	}

	link, err := n.radioCtl.OpenAccessConnection(n.ctx, target)
	if err != nil {
		return fmt.Errorf("mesh: open access connection: %w", err)
	}

	hs, err := keymux.NewInitiator(n.keys, n.networkKey, peerKey[:])
	if err != nil {
		_ = n.radioCtl.Disconnect(n.ctx, link)
		return fmt.Errorf("mesh: new initiator handshake: %w", err)
	}
	n.accessLinks[link] = &accessConn{hs: hs, initiator: true, target: target}
	n.accessLink = link
	return nil
}

// closeAccessConnection tears down whatever access link is currently open,
// if any. Called after any emergency reply per §4.10 step 5, and safe to
// call when nothing is open.
func (n *Node) closeAccessConnection() {
	if n.accessLink == 0 {
		return
	}
	link := n.accessLink
	n.accessLink = 0
	delete(n.accessLinks, link)
	if err := n.radioCtl.Disconnect(n.ctx, link); err != nil {
		n.logger.Warn("emergency: failed to close access connection", "link", link, "error", err)
	}
}

// handleAccessLinkUp routes a LinkUp event whose IsAccess bit is set: the
// initiator side already registered its accessConn in openAccessConnection
// and sends the first Noise message now that the link exists; the
// responder side creates its accessConn and waits for that first message.
func (n *Node) handleAccessLinkUp(ev *radio.LinkUpEvent) {
	if ev.AsMaster {
		ac, ok := n.accessLinks[ev.Link]
		if !ok {
			return
		}
		hello, err := ac.hs.CreateHello(n.NodeID)
		if err != nil {
			n.logger.Warn("emergency: failed to build access hello", "error", err)
			n.closeAccessConnection()
			return
		}
		helloBytes, err := cborcanon.Marshal(hello)
		if err != nil {
			n.logger.Warn("emergency: failed to encode access hello", "error", err)
			n.closeAccessConnection()
			return
		}
		msg, err := ac.hs.WriteMessage(helloBytes)
		if err != nil {
			n.logger.Warn("emergency: initiator handshake write failed", "error", err)
			n.closeAccessConnection()
			return
		}
		if err := n.radioCtl.Send(n.ctx, ev.Link, frameMessage(constants.KindAccessHandshake, msg)); err != nil {
			n.logger.Warn("emergency: failed to send access handshake", "error", err)
			n.closeAccessConnection()
		}
		return
	}

	if n.keys == nil {
		// No identity configured to respond with; let the link idle out.
		return
	}
	hs, err := keymux.NewResponder(n.keys, n.networkKey)
	if err != nil {
		n.logger.Warn("emergency: failed to start responder handshake", "link", ev.Link, "error", err)
		return
	}
	n.accessLinks[ev.Link] = &accessConn{hs: hs, initiator: false}
}

// handleAccessHandshakeMessage processes one Noise IK frame on an access
// link. On the responder's first message it decodes and checks the
// initiator's AccessHello against the shared network key before letting
// the handshake proceed; a failed check drops the connection rather than
// completing the handshake.
func (n *Node) handleAccessHandshakeMessage(linkID radio.LinkID, payload []byte) {
	ac, ok := n.accessLinks[linkID]
	if !ok {
		return
	}

	out, err := ac.hs.ReadMessage(payload)
	if err != nil {
		n.logger.Warn("emergency: access handshake read failed", "link", linkID, "error", err)
		n.dropAccessLink(linkID)
		return
	}

	if !ac.initiator && len(out) > 0 {
		var hello keymux.AccessHello
		if err := cborcanon.Unmarshal(out, &hello); err != nil {
			n.logger.Warn("emergency: malformed access hello", "link", linkID, "error", err)
			n.dropAccessLink(linkID)
			return
		}
		if err := hello.VerifyNetworkMembership(n.networkKey); err != nil {
			n.logger.Warn("emergency: access hello failed network membership check", "link", linkID, "error", err)
			n.dropAccessLink(linkID)
			return
		}
		ac.target = hello.NodeID
	}

	if ac.hs.IsComplete() && !ac.initiator {
		return
	}

	if !ac.initiator {
		msg, err := ac.hs.WriteMessage(nil)
		if err != nil {
			n.logger.Warn("emergency: responder handshake write failed", "link", linkID, "error", err)
			n.dropAccessLink(linkID)
			return
		}
		if err := n.radioCtl.Send(n.ctx, linkID, frameMessage(constants.KindAccessHandshake, msg)); err != nil {
			n.logger.Warn("emergency: failed to send access handshake reply", "link", linkID, "error", err)
			n.dropAccessLink(linkID)
			return
		}
	}

	if ac.hs.IsComplete() && ac.initiator {
		// The admission handshake proved network membership in both
		// directions of the IK exchange; send the trigger now.
		n.sendEmergencyDisconnectTrigger(linkID, ac)
	}
}

// handleAccessControlMessage is the only path by which an
// ACTION_EMERGENCY_DISCONNECT trigger or ack is ever accepted (§4.10
// steps 2-3): the frame must arrive on a registered access connection
// whose Noise IK handshake has completed, and it must decrypt under that
// session's key. Regular mesh links never carry this action at all —
// handleControlMessage does not dispatch it — so holding a plain link,
// or an access link whose handshake never finished, gives an attacker no
// way to force a disconnect without the network key.
func (n *Node) handleAccessControlMessage(linkID radio.LinkID, ac *accessConn, payload []byte) {
	if !ac.hs.IsComplete() {
		n.logger.Warn("emergency: control frame on an unauthenticated access connection, dropping", "link", linkID)
		n.dropAccessLink(linkID)
		return
	}
	plaintext, err := ac.hs.Decrypt(payload)
	if err != nil {
		n.logger.Warn("emergency: access control frame failed to decrypt", "link", linkID, "error", err)
		n.dropAccessLink(linkID)
		return
	}
	msg, err := wire.DecodeControlMessage(plaintext)
	if err != nil {
		n.logger.Warn("emergency: malformed access control message", "link", linkID, "error", err)
		return
	}
	if msg.ModuleID != constants.ModuleIDNode {
		return
	}

	switch msg.ActionType {
	case constants.ActionEmergencyDisconnect:
		n.handleEmergencyDisconnectTrigger(linkID, ac, msg)
	case constants.ActionEmergencyDisconnectAck:
		n.handleEmergencyDisconnectAckMessage(msg)
	default:
		n.logger.Debug("emergency: unexpected action type on access connection", "action", msg.ActionType)
	}
}

// handleEmergencyDisconnectTrigger is the responder side of C11 (§4.10
// step 4): pick a victim per chooseEmergencyVictim and reply with the
// result, sealed under the same access session that delivered the
// trigger.
func (n *Node) handleEmergencyDisconnectTrigger(linkID radio.LinkID, ac *accessConn, msg *wire.ControlMessage) {
	result := n.handleEmergencyDisconnectRequest()
	reply := wire.ControlMessage{ModuleID: constants.ModuleIDNode, ActionType: constants.ActionEmergencyDisconnectAck, RequestHandle: msg.RequestHandle}
	if err := reply.EncodePayload(EmergencyDisconnectAckPayload{Result: uint8(result)}); err != nil {
		n.logger.Warn("emergency: failed to encode ack", "error", err)
		return
	}
	n.sendAccessControl(linkID, ac, &reply)
}

// sendAccessControl encrypts msg under the access connection's completed
// handshake and sends it as a KindControl frame. The access connection
// is the only place this core encrypts application traffic at the
// message level; ordinary mesh links are trusted implicitly once
// handshake_done, matching spec.md's scope for the mesh-formation
// handshake itself.
func (n *Node) sendAccessControl(linkID radio.LinkID, ac *accessConn, msg *wire.ControlMessage) {
	data, err := msg.Encode()
	if err != nil {
		n.logger.Warn("emergency: failed to encode access control envelope", "error", err)
		return
	}
	ciphertext, err := ac.hs.Encrypt(data)
	if err != nil {
		n.logger.Warn("emergency: failed to encrypt access control envelope", "error", err)
		return
	}
	if err := n.radioCtl.Send(n.ctx, linkID, frameMessage(constants.KindControl, ciphertext)); err != nil {
		n.logger.Warn("emergency: access control send failed", "link", linkID, "error", err)
	}
}

func (n *Node) dropAccessLink(linkID radio.LinkID) {
	delete(n.accessLinks, linkID)
	if n.accessLink == linkID {
		n.accessLink = 0
	}
	if err := n.radioCtl.Disconnect(n.ctx, linkID); err != nil {
		n.logger.Warn("emergency: failed to drop access link", "link", linkID, "error", err)
	}
}

// sendEmergencyDisconnectTrigger sends the ACTION_EMERGENCY_DISCONNECT
// control message to the responder once the admission handshake on
// linkID has completed (§4.10 step 3), sealed under that handshake's
// session key.
func (n *Node) sendEmergencyDisconnectTrigger(linkID radio.LinkID, ac *accessConn) {
	msg := &wire.ControlMessage{ModuleID: constants.ModuleIDNode, ActionType: constants.ActionEmergencyDisconnect}
	if err := msg.EncodePayload(struct{}{}); err != nil {
		n.logger.Warn("emergency: failed to encode trigger", "error", err)
		return
	}
	n.sendAccessControl(linkID, ac, msg)
}
