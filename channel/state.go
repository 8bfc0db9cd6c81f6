package channel

import (
	"fmt"
	"time"
)

// State is a channel's connection state.
type State int

const (
	StateUninitialized State = iota
	StateOpening
	StateConnected
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateOpening:
		return "opening"
	case StateConnected:
		return "connected"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateChange is one transition, delivered in order on Channel.StateChanges.
type StateChange struct {
	From   State
	To     State
	Forced bool
	At     time.Time
}

// canTransition is the single transition table. A forced close may jump to
// Closed from any open state; a graceful close only completes from Closing.
// Otherwise only the next step on the happy path is allowed.
func canTransition(from, to State, forced bool) bool {
	if to == StateClosed {
		if forced {
			return from != StateClosed
		}
		return from == StateClosing
	}

	switch from {
	case StateUninitialized:
		return to == StateOpening
	case StateOpening:
		return to == StateConnected
	case StateConnected:
		return to == StateClosing
	default:
		return false
	}
}

// maxTransitions is the longest possible history of one channel.
const maxTransitions = 4
