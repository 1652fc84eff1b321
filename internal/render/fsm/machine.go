package fsm

import (
	"fmt"
	"sync"
)

// State describes where the render serializer is within one request.
type State string

const (
	StateIdle         State = "idle"
	StateRateLimited  State = "rate_limited"
	StatePreparing    State = "preparing"
	StateRendering    State = "rendering"
	StateFinalizing   State = "finalizing"
	StateErrorCleanup State = "error_cleanup"
)

var transitions = map[State][]State{
	StateIdle:         {StateRateLimited, StatePreparing},
	StateRateLimited:  {StateIdle},
	StatePreparing:    {StateRendering, StateErrorCleanup},
	StateRendering:    {StateFinalizing, StateErrorCleanup},
	StateFinalizing:   {StateIdle, StateErrorCleanup},
	StateErrorCleanup: {StateIdle},
}

// Machine is a lightweight deterministic state machine that rejects
// transitions outside the render lifecycle.
type Machine struct {
	mu        sync.RWMutex
	state     State
	onChange  func(from, to State)
	entered   map[State]int64
	lastError error
}

// New creates a machine in the idle state.
func New() *Machine {
	return &Machine{
		state:   StateIdle,
		entered: make(map[State]int64),
	}
}

// OnChange registers a callback invoked after every accepted transition.
func (m *Machine) OnChange(fn func(from, to State)) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Entered returns how many times state has been entered.
func (m *Machine) Entered(state State) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entered[state]
}

// LastError returns the last rejected transition, if any.
func (m *Machine) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// OnAdmissionRejected moves idle into rate_limited.
func (m *Machine) OnAdmissionRejected() error {
	return m.transition(StateRateLimited)
}

// OnAdmitted moves idle into preparing.
func (m *Machine) OnAdmitted() error {
	return m.transition(StatePreparing)
}

// OnRenderStart moves preparing into rendering.
func (m *Machine) OnRenderStart() error {
	return m.transition(StateRendering)
}

// OnRenderDone moves rendering into finalizing.
func (m *Machine) OnRenderDone() error {
	return m.transition(StateFinalizing)
}

// OnFailure enters error_cleanup from any active state.
func (m *Machine) OnFailure() error {
	return m.transition(StateErrorCleanup)
}

// OnSettled returns to idle.
func (m *Machine) OnSettled() error {
	return m.transition(StateIdle)
}

// Active reports whether a request is between admission and settlement.
func (m *Machine) Active() bool {
	switch m.State() {
	case StatePreparing, StateRendering, StateFinalizing, StateErrorCleanup:
		return true
	default:
		return false
	}
}

// Force sets state unconditionally.
func (m *Machine) Force(state State) error {
	if _, ok := transitions[state]; !ok {
		return fmt.Errorf("invalid state: %s", state)
	}
	m.mu.Lock()
	from := m.state
	m.state = state
	m.entered[state]++
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(from, state)
	}
	return nil
}

func (m *Machine) transition(to State) error {
	m.mu.Lock()
	from := m.state
	if !allowed(from, to) {
		err := fmt.Errorf("invalid transition %s -> %s", from, to)
		m.lastError = err
		m.mu.Unlock()
		return err
	}
	m.state = to
	m.entered[to]++
	fn := m.onChange
	m.mu.Unlock()
	if fn != nil {
		fn(from, to)
	}
	return nil
}

func allowed(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
