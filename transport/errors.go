package transport

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected      = errors.New("socket not connected")
	ErrClosed            = errors.New("socket closed")
	ErrAlreadyBound      = errors.New("socket already bound")
	ErrIdentityAfterBind = errors.New("identity must be set before bind")
	ErrDisposed          = errors.New("socket disposed")

	// ErrPortInUse is returned by a Prober when the candidate port is taken.
	// Bind moves on to the next candidate.
	ErrPortInUse = errors.New("port in use")
)

// PortExhaustionError reports that no free port was found within the
// attempt budget.
type PortExhaustionError struct {
	Title    string
	Attempts int
	Excluded int
	First    int
	Last     int
}

func (e *PortExhaustionError) Error() string {
	return fmt.Sprintf(
		"%s: no free port in %d-%d after %d attempts (%d excluded)",
		e.Title, e.First, e.Last, e.Attempts, e.Excluded,
	)
}

// NetworkError represents a failed socket operation.
type NetworkError struct {
	Op   string // "probe", "connect", "write", "read", "identity"
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
