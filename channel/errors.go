package channel

import (
	"errors"
	"fmt"
)

var (
	ErrChannelNotConnected = errors.New("channel not connected")
	ErrInvalidTransition   = errors.New("invalid channel state transition")
	ErrUnknownKind         = errors.New("unknown channel kind")
	ErrChannelClosed       = errors.New("channel closed")
)

// TransitionError reports an illegal state change request.
type TransitionError struct {
	ID   string
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("channel %s: %s -> %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }
