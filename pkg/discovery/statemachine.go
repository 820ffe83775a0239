// Package discovery implements the mesh formation core's discovery state
// machine and beacon publisher: HIGH/LOW/OFF advertising modes and the
// JOIN_ME payload that tracks the node's current cluster state.
package discovery

import (
	"sync"
	"time"

	"github.com/beemesh/meshcore/pkg/constants"
)

// State is one of the three discovery modes.
type State int

const (
	High State = iota
	Low
	Off
)

func (s State) String() string {
	switch s {
	case High:
		return "HIGH"
	case Low:
		return "LOW"
	case Off:
		return "OFF"
	default:
		return "UNKNOWN"
	}
}

// StateMachine tracks HIGH/LOW/OFF and the deadline at which HIGH decays
// to LOW absent further activity. It holds no radio handle itself; the
// caller (pkg/mesh) reacts to Transition results by telling the beacon
// publisher and radio.Controller to adjust intervals.
type StateMachine struct {
	mu       sync.Mutex
	state    State
	deadline time.Time
}

// NewStateMachine creates a machine already in HIGH, as a freshly booted
// enrolled non-asset node would be.
func NewStateMachine(now time.Time) *StateMachine {
	return &StateMachine{state: High, deadline: now.Add(constants.HighDiscoveryTimeout)}
}

// State returns the current mode.
func (m *StateMachine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// KeepHighDiscoveryActive extends the HIGH deadline, or re-enters HIGH
// from LOW. It is the single entry point every "there is more work to
// do" event calls: a new candidate, a merge, a disconnect, a cluster
// update.
func (m *StateMachine) KeepHighDiscoveryActive(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == Off {
		return
	}
	m.state = High
	m.deadline = now.Add(constants.HighDiscoveryTimeout)
}

// Tick advances the machine against the clock, dropping HIGH to LOW once
// its deadline passes. It returns true if the state changed.
func (m *StateMachine) Tick(now time.Time) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == High && !now.Before(m.deadline) {
		m.state = Low
		return Low, true
	}
	return m.state, false
}

// SetOff forces OFF, as issued by an explicit remote command.
func (m *StateMachine) SetOff() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Off
}

// SetLow forces LOW directly, as issued by an explicit remote command,
// without waiting for the HIGH deadline to pass.
func (m *StateMachine) SetLow() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = Low
}

// SetHigh re-enables discovery from OFF, entering HIGH.
func (m *StateMachine) SetHigh(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = High
	m.deadline = now.Add(constants.HighDiscoveryTimeout)
}

// AdvInterval returns the advertising interval for the current state.
// OFF has no meaningful interval; callers must stop advertising entirely
// instead of calling this.
func (m *StateMachine) AdvInterval() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == High {
		return constants.AdvIntervalHigh
	}
	return constants.AdvIntervalLow
}

// ActiveScan reports whether the current state calls for active (HIGH)
// or passive (LOW/OFF) scanning.
func (m *StateMachine) ActiveScan() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == High
}
