// Package channel implements client channels: named sub-connections a
// session multiplexes over its kernel transport for widgets, language
// servers, plots, and other extensions.
//
// Each Channel runs a small state machine:
//
//	Uninitialized -> Opening -> Connected -> Closing -> Closed
//
// Local calls (Open, Close) move it forward and the peer's acknowledgements
// (HandleOpenAck, HandleCloseAck) complete each step. ForceClose jumps to
// Closed from any state when the peer disconnects or fails. Every transition
// is published, in order, on StateChanges.
package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/t-kalinowski/positron/observability"
	"github.com/t-kalinowski/positron/wire"
)

// Sender delivers envelopes to the kernel. A session's shell socket is the
// usual implementation.
type Sender interface {
	Send(ctx context.Context, env *wire.Envelope) error
}

// Option configures a Channel.
type Option func(*Channel)

// WithID uses a caller-supplied identifier, e.g. a comm id opened by the kernel.
func WithID(id string) Option {
	return func(c *Channel) { c.id = id }
}

func WithObserver(o observability.Observer) Option {
	return func(c *Channel) { c.observer = observability.OrNoOp(o) }
}

func WithConfig(cfg Config) Option {
	return func(c *Channel) { c.cfg.Merge(&cfg) }
}

// WithSessionID stamps outbound envelopes with the owning session.
func WithSessionID(id string) Option {
	return func(c *Channel) { c.sessionID = id }
}

// WithOnClosed registers a function called once the channel reaches
// StateClosed, after the transition is published.
func WithOnClosed(fn func(*Channel)) Option {
	return func(c *Channel) { c.onClosed = fn }
}

// Channel is one client channel.
type Channel struct {
	id        string
	kind      Kind
	sessionID string
	sender    Sender
	observer  observability.Observer
	cfg       Config
	onClosed  func(*Channel)

	mu    sync.Mutex
	state State
	last  State

	changes  chan StateChange
	messages *Stream[*wire.Envelope]
}

// New creates a channel in StateUninitialized.
func New(kind Kind, sender Sender, opts ...Option) (*Channel, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	c := &Channel{
		kind:     kind,
		sender:   sender,
		observer: observability.NoOpObserver{},
		cfg:      DefaultConfig(),
		state:    StateUninitialized,
		last:     StateUninitialized,
		changes:  make(chan StateChange, maxTransitions),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.id == "" {
		c.id = wire.NewID()
	}
	c.messages = NewStream[*wire.Envelope](c.cfg.BufferSize)

	return c, nil
}

func (c *Channel) ID() string {
	return c.id
}

func (c *Channel) Kind() Kind {
	return c.kind
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastState returns the state before the most recent transition.
func (c *Channel) LastState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// StateChanges delivers every transition in order and is closed once the
// channel reaches StateClosed. The buffer holds a full lifetime of
// transitions, so a slow reader never stalls the channel.
func (c *Channel) StateChanges() <-chan StateChange {
	return c.changes
}

// Messages delivers inbound comm_msg envelopes. It is closed with the channel.
func (c *Channel) Messages() <-chan *wire.Envelope {
	return c.messages.C()
}

// Open issues the open handshake.
func (c *Channel) Open(ctx context.Context, data map[string]any) error {
	if err := c.transition(StateOpening, false); err != nil {
		return err
	}

	env := wire.NewComm(wire.TypeCommOpen, c.id, data).
		Set("target_name", string(c.kind)).
		Session(c.sessionID).
		Build()

	if err := c.sender.Send(ctx, env); err != nil {
		c.reportSendFailure(ctx, wire.TypeCommOpen, err)
		c.ForceClose()
		return fmt.Errorf("open channel %s: %w", c.id, err)
	}
	return nil
}

// HandleOpenAck completes the open handshake.
func (c *Channel) HandleOpenAck() error {
	return c.transition(StateConnected, false)
}

// Close requests a graceful close; the channel stays in StateClosing until
// HandleCloseAck.
func (c *Channel) Close(ctx context.Context) error {
	if err := c.transition(StateClosing, false); err != nil {
		return err
	}

	env := wire.NewComm(wire.TypeCommClose, c.id, nil).Session(c.sessionID).Build()
	if err := c.sender.Send(ctx, env); err != nil {
		c.reportSendFailure(ctx, wire.TypeCommClose, err)
		c.ForceClose()
		return fmt.Errorf("close channel %s: %w", c.id, err)
	}
	return nil
}

// HandleCloseAck completes a graceful close.
func (c *Channel) HandleCloseAck() error {
	return c.transition(StateClosed, false)
}

// ForceClose moves the channel straight to StateClosed. It reports whether a
// transition happened; an already closed channel is left untouched.
func (c *Channel) ForceClose() bool {
	return c.transition(StateClosed, true) == nil
}

// Dispose releases the channel. Safe to call more than once.
func (c *Channel) Dispose() {
	c.ForceClose()
}

// Send delivers a comm_msg to the peer. It fails with ErrChannelNotConnected
// unless the channel is in StateConnected; messages are never silently dropped.
func (c *Channel) Send(ctx context.Context, data map[string]any) error {
	if state := c.State(); state != StateConnected {
		return fmt.Errorf("%w: channel %s is %s", ErrChannelNotConnected, c.id, state)
	}

	env := wire.NewComm(wire.TypeCommMsg, c.id, data).Session(c.sessionID).Build()
	if err := c.sender.Send(ctx, env); err != nil {
		c.reportSendFailure(ctx, wire.TypeCommMsg, err)
		return fmt.Errorf("send on channel %s: %w", c.id, err)
	}
	return nil
}

// Deliver queues an inbound envelope for Messages.
func (c *Channel) Deliver(ctx context.Context, env *wire.Envelope) error {
	if err := c.messages.Push(ctx, env); err != nil {
		c.observer.OnEvent(ctx, observability.NewEvent(EventDropped, observability.LevelWarning, "channel.Deliver", map[string]any{
			"channel_id": c.id,
			"message_id": env.ID,
			"error":      err,
		}))
		return err
	}
	return nil
}

func (c *Channel) transition(to State, forced bool) error {
	c.mu.Lock()
	from := c.state
	if !canTransition(from, to, forced) {
		c.mu.Unlock()
		return &TransitionError{ID: c.id, From: from, To: to}
	}

	c.last = from
	c.state = to
	change := StateChange{From: from, To: to, Forced: forced, At: time.Now()}
	c.changes <- change
	if to == StateClosed {
		close(c.changes)
	}
	c.mu.Unlock()

	if to == StateClosed {
		c.messages.Close()
	}

	level := observability.LevelVerbose
	if forced {
		level = observability.LevelInfo
	}
	c.observer.OnEvent(context.Background(), observability.NewEvent(EventStateChange, level, "channel.Channel", map[string]any{
		"channel_id": c.id,
		"kind":       string(c.kind),
		"from":       from.String(),
		"to":         to.String(),
		"forced":     forced,
	}))

	if to == StateClosed && c.onClosed != nil {
		c.onClosed(c)
	}
	return nil
}

func (c *Channel) reportSendFailure(ctx context.Context, typ wire.MessageType, err error) {
	c.observer.OnEvent(ctx, observability.NewEvent(EventSendFailed, observability.LevelWarning, "channel.Channel", map[string]any{
		"channel_id": c.id,
		"msg_type":   string(typ),
		"error":      err,
	}))
}
