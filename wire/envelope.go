// Package wire defines the message envelope exchanged with a kernel and the
// length-prefixed protobuf framing used to carry it over a transport socket.
//
// The layer above treats Content and Metadata as opaque JSON-like maps; only
// the handful of fields routing depends on get typed accessors.
package wire

import (
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
)

// MessageType is the kernel protocol message type ("execute_request",
// "display_data", "comm_msg", ...).
type MessageType string

const (
	TypeExecuteRequest    MessageType = "execute_request"
	TypeExecuteInput      MessageType = "execute_input"
	TypeExecuteReply      MessageType = "execute_reply"
	TypeExecuteResult     MessageType = "execute_result"
	TypeDisplayData       MessageType = "display_data"
	TypeUpdateDisplayData MessageType = "update_display_data"
	TypeStream            MessageType = "stream"
	TypeError             MessageType = "error"
	TypeStatus            MessageType = "status"
	TypeCommOpen          MessageType = "comm_open"
	TypeCommMsg           MessageType = "comm_msg"
	TypeCommClose         MessageType = "comm_close"
	TypeShutdownRequest   MessageType = "shutdown_request"
	TypeShutdownReply     MessageType = "shutdown_reply"
	TypeIdentity          MessageType = "identity"
)

// Envelope is one kernel message.
type Envelope struct {
	ID        string         `json:"id"`
	ParentID  string         `json:"parent_id,omitempty"`
	SessionID string         `json:"session"`
	Type      MessageType    `json:"msg_type"`
	Channel   string         `json:"channel,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Content   map[string]any `json:"content,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Data returns the MIME bundle of a display-style message, or nil.
func (e *Envelope) Data() map[string]any {
	data, _ := e.Content["data"].(map[string]any)
	return data
}

// CommID returns the comm_id of a comm_* message, or "".
func (e *Envelope) CommID() string {
	id, _ := e.Content["comm_id"].(string)
	return id
}

// Code returns the source text of an execute_request or execute_input.
func (e *Envelope) Code() string {
	code, _ := e.Content["code"].(string)
	return code
}

// IsOutput reports whether the message carries cell output.
func (e *Envelope) IsOutput() bool {
	switch e.Type {
	case TypeDisplayData, TypeExecuteResult, TypeUpdateDisplayData, TypeStream, TypeError:
		return true
	}
	return false
}

// IsInput reports whether the message carries source text submitted for execution.
func (e *Envelope) IsInput() bool {
	return e.Type == TypeExecuteRequest || e.Type == TypeExecuteInput
}

// Clone copies the envelope; Content and Metadata maps are copied one level deep.
func (e *Envelope) Clone() *Envelope {
	clone := *e
	clone.Content = maps.Clone(e.Content)
	clone.Metadata = maps.Clone(e.Metadata)
	return &clone
}

func (e *Envelope) String() string {
	return fmt.Sprintf(
		"Envelope{ID: %s, Parent: %s, Session: %s, Type: %s, Channel: %s}",
		e.ID,
		e.ParentID,
		e.SessionID,
		e.Type,
		e.Channel,
	)
}

// NewID returns a time-ordered unique message identifier.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}
