package session

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	states := []State{StateNotStarted, StateStarting, StateRunning, StateShuttingDown, StateShutDown}

	allowed := map[[2]State]bool{
		{StateNotStarted, StateStarting}:   true,
		{StateStarting, StateRunning}:      true,
		{StateStarting, StateShuttingDown}: true,
		{StateStarting, StateShutDown}:     true,
		{StateRunning, StateShuttingDown}:  true,
		{StateRunning, StateShutDown}:      true,
		{StateShuttingDown, StateShutDown}: true,
	}

	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]State{from, to}]
			if got := canTransition(from, to); got != want {
				t.Errorf("canTransition(%s, %s) = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestLifecycle_Transition(t *testing.T) {
	var l lifecycle

	if _, err := l.transition(StateRunning); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("NotStarted -> Running: got %v, want ErrInvalidTransition", err)
	}
	if l.get() != StateNotStarted {
		t.Fatalf("state changed after rejected transition: %s", l.get())
	}

	from, err := l.transition(StateStarting)
	if err != nil {
		t.Fatalf("NotStarted -> Starting: %v", err)
	}
	if from != StateNotStarted {
		t.Errorf("from = %s, want not_started", from)
	}
	if l.get() != StateStarting {
		t.Errorf("state = %s, want starting", l.get())
	}
}
