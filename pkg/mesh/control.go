package mesh

import (
	"time"

	"github.com/beemesh/meshcore/pkg/constants"
	"github.com/beemesh/meshcore/pkg/meshid"
	"github.com/beemesh/meshcore/pkg/radio"
	"github.com/beemesh/meshcore/pkg/scoring"
	"github.com/beemesh/meshcore/pkg/wire"
)

// SetDiscoveryPayload is ACTION_SET_DISCOVERY's body: force the discovery
// state machine into one of its three modes from outside the decision
// engine, e.g. an installer forcing OFF on an asset tag.
type SetDiscoveryPayload struct {
	Mode uint8 `cbor:"mode"` // 0=HIGH, 1=LOW, 2=OFF
}

const (
	discoveryModeHigh uint8 = 0
	discoveryModeLow  uint8 = 1
	discoveryModeOff  uint8 = 2
)

// PingPayload is ACTION_PING's body, echoed back unchanged.
type PingPayload struct {
	Nonce uint32 `cbor:"nonce"`
}

// SetPreferredConnectionsPayload is ACTION_SET_PREFERRED_CONNECTIONS's
// body: the partner set and the scoring policy to apply to it.
type SetPreferredConnectionsPayload struct {
	NodeIDs []meshid.NodeID               `cbor:"node_ids"`
	Policy  scoring.PreferredPartnerPolicy `cbor:"policy"`
}

// EmergencyDisconnectAckPayload carries the responder's EmergencyResult
// back to whoever issued the ACTION_EMERGENCY_DISCONNECT trigger.
type EmergencyDisconnectAckPayload struct {
	Result uint8 `cbor:"result"`
}

// handleControlMessage is the core's side of the C1 boundary: control
// traffic arriving in-band over an established mesh link, framed with
// KindControl and carrying a wire.ControlMessage envelope. Only
// ModuleIDNode is dispatched here; anything else is this core's signal
// that an application module above it owns the message, and is ignored.
func (n *Node) handleControlMessage(linkID radio.LinkID, payload []byte) {
	msg, err := wire.DecodeControlMessage(payload)
	if err != nil {
		n.logger.Warn("control: malformed message", "link", linkID, "error", err)
		return
	}
	if msg.ModuleID != constants.ModuleIDNode {
		return
	}

	switch msg.ActionType {
	case constants.ActionSetDiscovery:
		n.handleSetDiscovery(msg)
	case constants.ActionPing:
		n.handlePing(linkID, msg)
	case constants.ActionStartGenerateLoad, constants.ActionGenerateLoadChunk:
		n.logger.Debug("control: load-generation action is out of the mesh core's scope", "action", msg.ActionType)
	case constants.ActionResetNode:
		n.handleResetNode()
	case constants.ActionEmergencyDisconnect, constants.ActionEmergencyDisconnectAck:
		// §4.10 confines this action to the out-of-band access
		// connection; handleMessage routes it there when the link is a
		// registered access link (see handleAccessControlMessage). A
		// plain mesh link claiming this action never held the network
		// key check that action requires, so it is dropped here.
		n.logger.Warn("control: emergency-disconnect action received on a non-access link, dropping", "link", linkID, "action", msg.ActionType)
	case constants.ActionSetPreferredConnections:
		n.handleSetPreferredConnectionsMessage(msg)
	default:
		n.logger.Debug("control: unrecognized action type", "action", msg.ActionType)
	}
}

func (n *Node) handleSetDiscovery(msg *wire.ControlMessage) {
	var p SetDiscoveryPayload
	if err := msg.DecodePayload(&p); err != nil {
		n.logger.Warn("control: malformed SET_DISCOVERY payload", "error", err)
		return
	}
	switch p.Mode {
	case discoveryModeHigh:
		n.discoveryFSM.SetHigh(n.now())
		n.advJobActive = false
		_ = n.radioCtl.ScanStart(n.ctx)
		n.republishBeacon()
	case discoveryModeLow:
		n.discoveryFSM.SetLow()
		n.advJobActive = false
		n.republishBeacon()
	case discoveryModeOff:
		n.discoveryFSM.SetOff()
		_ = n.radioCtl.ScanStop(n.ctx)
		_ = n.radioCtl.AdvJobRemove(n.ctx)
		n.advJobActive = false
	}
}

func (n *Node) handlePing(linkID radio.LinkID, msg *wire.ControlMessage) {
	var p PingPayload
	if err := msg.DecodePayload(&p); err != nil {
		n.logger.Warn("control: malformed PING payload", "error", err)
		return
	}
	reply := wire.ControlMessage{ModuleID: constants.ModuleIDNode, ActionType: constants.ActionPing, RequestHandle: msg.RequestHandle}
	if err := reply.EncodePayload(p); err != nil {
		n.logger.Warn("control: failed to encode PING reply", "error", err)
		return
	}
	n.sendControl(linkID, &reply)
}

// handleResetNode defers to DeferredRebootDelay so the disconnect this
// reboot causes is observed by peers before the node actually goes down,
// matching the fatal-error reboot discipline the rest of the core uses.
func (n *Node) handleResetNode() {
	n.logger.Warn("control: reset requested, rebooting after deferred delay")
	go func() {
		select {
		case <-time.After(constants.DeferredRebootDelay):
		case <-n.ctx.Done():
			return
		}
		n.Stop()
	}()
}

func (n *Node) handleEmergencyDisconnectAckMessage(msg *wire.ControlMessage) {
	var p EmergencyDisconnectAckPayload
	if err := msg.DecodePayload(&p); err != nil {
		n.logger.Warn("control: malformed EMERGENCY_DISCONNECT ack payload", "error", err)
		return
	}
	n.onEmergencyReply(EmergencyResult(p.Result))
}

func (n *Node) handleSetPreferredConnectionsMessage(msg *wire.ControlMessage) {
	var p SetPreferredConnectionsPayload
	if err := msg.DecodePayload(&p); err != nil {
		n.logger.Warn("control: malformed SET_PREFERRED_CONNECTIONS payload", "error", err)
		return
	}
	prefs := make(map[meshid.NodeID]bool, len(p.NodeIDs))
	for _, id := range p.NodeIDs {
		prefs[id] = true
	}
	n.PreferredPartners = prefs
	n.PreferredPartnerPolicy = p.Policy
}

// sendControl frames and sends a control envelope on linkID.
func (n *Node) sendControl(linkID radio.LinkID, msg *wire.ControlMessage) {
	data, err := msg.Encode()
	if err != nil {
		n.logger.Warn("control: failed to encode envelope", "error", err)
		return
	}
	if err := n.radioCtl.Send(n.ctx, linkID, frameMessage(constants.KindControl, data)); err != nil {
		n.logger.Warn("control: send failed", "link", linkID, "error", err)
	}
}
