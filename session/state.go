package session

import (
	"fmt"
	"sync"
)

// State is a session's lifecycle state.
type State int

const (
	StateNotStarted State = iota
	StateStarting
	StateRunning
	StateShuttingDown
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateShuttingDown:
		return "shutting_down"
	case StateShutDown:
		return "shut_down"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// canTransition is the lifecycle table. Starting and Running may fall
// straight to ShutDown when the transport is lost.
func canTransition(from, to State) bool {
	switch from {
	case StateNotStarted:
		return to == StateStarting
	case StateStarting:
		return to == StateRunning || to == StateShuttingDown || to == StateShutDown
	case StateRunning:
		return to == StateShuttingDown || to == StateShutDown
	case StateShuttingDown:
		return to == StateShutDown
	default:
		return false
	}
}

type lifecycle struct {
	mu    sync.RWMutex
	state State
}

func (l *lifecycle) get() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func (l *lifecycle) transition(to State) (State, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	from := l.state
	if !canTransition(from, to) {
		return from, &TransitionError{From: from, To: to}
	}
	l.state = to
	return from, nil
}
