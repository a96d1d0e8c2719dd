package build

import (
	"fmt"
	"sync"
)

// Lifecycle state of one recipe execution.
type State string

const (
	StatePending    State = "pending"
	StateFetching   State = "fetching"
	StateVerifying  State = "verifying"
	StateBuilding   State = "building"
	StateInstalling State = "installing"
	StateTesting    State = "testing"
	StateDone       State = "done"
	StateFailed     State = "failed"
)

// Forward edges. Every non-terminal state may also move to Failed. Pending
// goes straight to Done when the package is already installed.
var transitions = map[State][]State{
	StatePending:    {StateFetching, StateDone},
	StateFetching:   {StateVerifying},
	StateVerifying:  {StateBuilding},
	StateBuilding:   {StateInstalling},
	StateInstalling: {StateTesting},
	StateTesting:    {StateDone},
}

// Reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// Checks that moving from one state to another is allowed.
func Transition(from, to State) error {
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrIllegalTransition, from)
	}
	if to == StateFailed {
		return nil
	}
	for _, next := range transitions[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, from, to)
}

// Current state of an execution, safe to read while the execution moves.
type machine struct {
	mu      sync.Mutex
	state   State
	history []State
	notify  func(from, to State)
}

func newMachine(notify func(from, to State)) *machine {
	return &machine{state: StatePending, history: []State{StatePending}, notify: notify}
}

func (m *machine) current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Moves to the next state. Illegal moves are programming errors.
func (m *machine) advance(to State) {
	m.mu.Lock()
	from := m.state
	if err := Transition(from, to); err != nil {
		m.mu.Unlock()
		panic(err)
	}
	m.state = to
	m.history = append(m.history, to)
	m.mu.Unlock()

	if m.notify != nil {
		m.notify(from, to)
	}
}

func (m *machine) path() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.history...)
}
