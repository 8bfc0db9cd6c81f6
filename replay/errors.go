package replay

import "fmt"

// MissingBufferError is the panic value raised when output is routed to a
// session that was never attached or has already been detached.
type MissingBufferError struct {
	SessionID string
}

func (e *MissingBufferError) Error() string {
	return fmt.Sprintf("replay: no buffer for session %s", e.SessionID)
}
