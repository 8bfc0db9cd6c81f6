package session

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidTransition = errors.New("invalid session state transition")
	ErrRegistryClosed    = errors.New("session registry closed")
	ErrNotRunning        = errors.New("session is not running")
	ErrNoKernelCommand   = errors.New("no kernel command configured")
	ErrNoSockets         = errors.New("no sockets configured")
)

// TransitionError reports an illegal lifecycle transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("session: cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// DuplicateSessionError reports a second live session for a document. The
// registry's per-document lock makes this unreachable in normal operation.
type DuplicateSessionError struct {
	DocumentID DocumentID
	Existing   string
	Duplicate  string
}

func (e *DuplicateSessionError) Error() string {
	return fmt.Sprintf("session: document %s already has live session %s (rejected %s)", e.DocumentID, e.Existing, e.Duplicate)
}
