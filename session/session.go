// Package session owns runtime sessions: one out-of-process kernel per
// document, reached over a set of transport sockets and carrying the client
// channels opened against it.
//
// A Registry maps documents to their live session and serializes start and
// shutdown per document. Sessions are created by a Launcher; SocketLauncher
// binds the sockets, hands the connection details to a KernelProcess, and
// returns a SocketSession that finishes connecting in the background.
package session

import (
	"context"
	"fmt"

	"github.com/t-kalinowski/positron/channel"
	"github.com/t-kalinowski/positron/wire"
)

// DocumentID identifies the logical document a session belongs to.
type DocumentID string

// RuntimeID names the language runtime a session runs.
type RuntimeID struct {
	Language string `json:"language" yaml:"language"`
	Version  string `json:"version,omitempty" yaml:"version,omitempty"`
	Name     string `json:"name,omitempty" yaml:"name,omitempty"`
}

func (r RuntimeID) String() string {
	name := r.Language
	if r.Name != "" {
		name = r.Name
	}
	if r.Version == "" {
		return name
	}
	return fmt.Sprintf("%s %s", name, r.Version)
}

// Session is one running (or starting) kernel. Implementations must be safe
// for concurrent use.
type Session interface {
	ID() string
	DocumentID() DocumentID
	Runtime() RuntimeID
	State() State

	// OpenChannel creates a client channel of the given kind and starts its
	// open handshake. The session must be running.
	OpenChannel(ctx context.Context, kind channel.Kind) (*channel.Channel, error)
	Channel(id string) (*channel.Channel, bool)

	// Send delivers a request to the kernel.
	Send(ctx context.Context, env *wire.Envelope) error

	// Receive returns the kernel's broadcast output in transport order.
	Receive(ctx context.Context) (*wire.Envelope, error)

	// Shutdown stops the kernel and releases every socket and channel the
	// session owns. Calling it again returns the first result.
	Shutdown(ctx context.Context) error

	// Done is closed once the session reaches StateShutDown, whether by
	// Shutdown or because its transport failed.
	Done() <-chan struct{}

	// Err reports why a session ended on its own; nil after Shutdown.
	Err() error
}

// Live reports whether s counts as the document's live session.
func Live(s Session) bool {
	switch s.State() {
	case StateStarting, StateRunning:
		return true
	default:
		return false
	}
}
