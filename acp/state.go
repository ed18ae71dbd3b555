package acp

import "sync"

// State is the lifecycle state of a Session.
type State int

const (
	StateUninitialized State = iota
	StateHandshaking
	StateAuthRequired
	StateAuthenticating
	StateReady
	StateRunning
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateHandshaking:
		return "handshaking"
	case StateAuthRequired:
		return "auth_required"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// IsClosed reports whether the session is shutting down or gone.
func (s State) IsClosed() bool {
	return s == StateClosing || s == StateClosed
}

// transitions lists the legal moves out of each state other than the
// forced move to Closing.
var transitions = map[State][]State{
	StateUninitialized:  {StateHandshaking},
	StateHandshaking:    {StateAuthRequired, StateReady, StateUninitialized},
	StateAuthRequired:   {StateAuthenticating, StateReady},
	StateAuthenticating: {StateReady, StateAuthRequired},
	StateReady:          {StateRunning, StateAuthRequired},
	StateRunning:        {StateReady},
	StateClosing:        {StateClosed},
}

// stateMachine guards the session state.
type stateMachine struct {
	onChange func(from, to State)
	state    State
	mu       sync.RWMutex
}

func (m *stateMachine) Current() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Transition moves from -> to. It fails with ErrSessionClosed once the
// session is closing and with ErrInvalidState when the current state is not
// from or the move is not allowed.
func (m *stateMachine) Transition(from, to State) error {
	m.mu.Lock()
	if m.state.IsClosed() && to != StateClosed {
		m.mu.Unlock()
		return ErrSessionClosed
	}
	if m.state != from || !allowed(from, to) {
		m.mu.Unlock()
		return ErrInvalidState
	}
	m.state = to
	m.mu.Unlock()
	m.notify(from, to)
	return nil
}

// ForceClosing moves any non-terminal state to Closing. It reports whether
// the state changed.
func (m *stateMachine) ForceClosing() bool {
	m.mu.Lock()
	from := m.state
	if from.IsClosed() {
		m.mu.Unlock()
		return false
	}
	m.state = StateClosing
	m.mu.Unlock()
	m.notify(from, StateClosing)
	return true
}

// SetClosed moves Closing to Closed.
func (m *stateMachine) SetClosed() {
	_ = m.Transition(StateClosing, StateClosed)
}

func (m *stateMachine) notify(from, to State) {
	if m.onChange != nil {
		m.onChange(from, to)
	}
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
