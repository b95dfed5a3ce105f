package turn

import (
	"sync"
	"time"
)

// StateChange represents a state transition event.
type StateChange struct {
	FromState State
	ToState   State
	Timestamp time.Time
	Reason    string
}

// StateListener observes conversation phase changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// StateListenerFunc adapts a function to StateListener.
type StateListenerFunc func(StateChange)

func (f StateListenerFunc) OnStateChange(ev StateChange) { f(ev) }

var validTransitions = map[State][]State{
	StateIdle:      {StateListening, StateThinking},
	StateListening: {StateThinking, StateIdle},
	StateThinking:  {StateSpeaking, StateListening, StateIdle},
	StateSpeaking:  {StateListening, StateIdle, StateThinking},
}

// PhaseMachine tracks the conversation phase of one session.
type PhaseMachine struct {
	mu        sync.RWMutex
	current   State
	enteredAt time.Time
	listeners []StateListener
	now       func() time.Time
}

func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{current: StateIdle, enteredAt: time.Now(), now: time.Now}
}

// State returns the current state.
func (pm *PhaseMachine) State() State {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.current
}

// Since returns how long the machine has been in its current state.
func (pm *PhaseMachine) Since() time.Duration {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.now().Sub(pm.enteredAt)
}

func transitionValid(from, to State) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves to a new state with validation. Moving to the current
// state is a no-op.
func (pm *PhaseMachine) Transition(to State, reason string) error {
	pm.mu.Lock()
	from := pm.current
	if from == to {
		pm.mu.Unlock()
		return nil
	}
	if !transitionValid(from, to) {
		pm.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	now := pm.now()
	pm.current = to
	pm.enteredAt = now
	listeners := make([]StateListener, len(pm.listeners))
	copy(listeners, pm.listeners)
	pm.mu.Unlock()

	// listeners run without the lock so they may read State.
	event := StateChange{FromState: from, ToState: to, Timestamp: now, Reason: reason}
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}

// AddListener registers a listener for state change events.
func (pm *PhaseMachine) AddListener(listener StateListener) {
	if listener == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.listeners = append(pm.listeners, listener)
}

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid state transition from " + e.From.String() + " to " + e.To.String()
}
