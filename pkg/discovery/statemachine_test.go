package discovery

import (
	"testing"
	"time"

	"github.com/beemesh/meshcore/pkg/constants"
)

func TestNewStateMachineStartsHigh(t *testing.T) {
	m := NewStateMachine(time.Now())
	if m.State() != High {
		t.Errorf("initial state = %v, want HIGH", m.State())
	}
}

func TestTickDropsToLowAfterTimeout(t *testing.T) {
	now := time.Now()
	m := NewStateMachine(now)
	state, changed := m.Tick(now.Add(constants.HighDiscoveryTimeout + time.Second))
	if !changed || state != Low {
		t.Errorf("Tick after timeout = %v, %v; want LOW, true", state, changed)
	}
}

func TestKeepHighDiscoveryActiveExtendsDeadline(t *testing.T) {
	now := time.Now()
	m := NewStateMachine(now)
	_, _ = m.Tick(now.Add(constants.HighDiscoveryTimeout + time.Second))
	if m.State() != Low {
		t.Fatal("expected LOW before keep-active call")
	}
	m.KeepHighDiscoveryActive(now.Add(constants.HighDiscoveryTimeout + time.Second))
	if m.State() != High {
		t.Error("KeepHighDiscoveryActive must re-enter HIGH")
	}
}

func TestSetOffSuppressesKeepHighDiscoveryActive(t *testing.T) {
	m := NewStateMachine(time.Now())
	m.SetOff()
	m.KeepHighDiscoveryActive(time.Now())
	if m.State() != Off {
		t.Error("KeepHighDiscoveryActive must not override an explicit OFF")
	}
}

func TestAdvIntervalMatchesState(t *testing.T) {
	m := NewStateMachine(time.Now())
	if m.AdvInterval() != constants.AdvIntervalHigh {
		t.Error("expected HIGH interval in HIGH state")
	}
	_, _ = m.Tick(time.Now().Add(constants.HighDiscoveryTimeout + time.Second))
	if m.AdvInterval() != constants.AdvIntervalLow {
		t.Error("expected LOW interval in LOW state")
	}
}
