package router

import (
	"context"
	"sync"

	"github.com/t-kalinowski/positron/channel"
	"github.com/t-kalinowski/positron/observability"
	"github.com/t-kalinowski/positron/replay"
	"github.com/t-kalinowski/positron/wire"
)

// Source yields a session's inbound envelopes in transport order.
type Source interface {
	Receive(ctx context.Context) (*wire.Envelope, error)
}

// ChannelResolver finds a session's client channel by comm id.
type ChannelResolver interface {
	Channel(id string) (*channel.Channel, bool)
}

// Route describes one session to dispatch.
type Route struct {
	SessionID string
	Source    Source

	// Channels may be nil, in which case comm messages fall through to
	// OnMessage.
	Channels ChannelResolver

	// OnDisplay receives artifacts created by the replay buffer.
	OnDisplay func(replay.DisplayHandle)

	// OnMessage receives every envelope no other consumer claims. Unclaimed
	// envelopes are counted as dropped when it is nil.
	OnMessage func(*wire.Envelope)
}

type Option func(*Router)

func WithObserver(o observability.Observer) Option {
	return func(r *Router) { r.observer = observability.OrNoOp(o) }
}

type attachment struct {
	route  Route
	cancel context.CancelFunc
	done   chan struct{}
}

type Router struct {
	buffer   *replay.Buffer
	observer observability.Observer
	metrics  *Metrics

	mu     sync.Mutex
	routes map[string]*attachment
}

// New creates a Router feeding the given replay buffer.
func New(buffer *replay.Buffer, opts ...Option) *Router {
	r := &Router{
		buffer:   buffer,
		observer: observability.NoOpObserver{},
		metrics:  NewMetrics(),
		routes:   make(map[string]*attachment),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Attach attaches the session's replay buffer and starts dispatching its
// Source. Dispatch stops when ctx is done, the Source fails, or Detach is
// called.
func (r *Router) Attach(ctx context.Context, route Route) error {
	if route.Source == nil {
		return ErrMissingSource
	}

	r.mu.Lock()
	if _, exists := r.routes[route.SessionID]; exists {
		r.mu.Unlock()
		return ErrAlreadyAttached
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a := &attachment{
		route:  route,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	r.routes[route.SessionID] = a
	r.buffer.Attach(route.SessionID)
	r.mu.Unlock()

	r.metrics.RecordSession(1)
	r.emit(ctx, EventAttach, observability.LevelVerbose, map[string]any{"session_id": route.SessionID})

	go r.serve(loopCtx, a)

	return nil
}

// Detach stops the session's dispatch goroutine, waits for it to exit, and
// only then detaches the replay buffer.
func (r *Router) Detach(sessionID string) bool {
	r.mu.Lock()
	a, exists := r.routes[sessionID]
	delete(r.routes, sessionID)
	r.mu.Unlock()

	if !exists {
		return false
	}

	a.cancel()
	<-a.done
	r.buffer.Detach(sessionID)

	r.metrics.RecordSession(-1)
	r.emit(context.Background(), EventDetach, observability.LevelVerbose, map[string]any{"session_id": sessionID})
	return true
}

func (r *Router) Attached(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, exists := r.routes[sessionID]
	return exists
}

// Close detaches every session.
func (r *Router) Close() {
	r.mu.Lock()
	ids := make([]string, 0, len(r.routes))
	for id := range r.routes {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	for _, id := range ids {
		r.Detach(id)
	}
}

// ObserveOutbound inspects a message the client is sending to the session's
// kernel. An execute_request whose code activates the extension sets the
// replay reset marker to the request id, which the kernel uses as the
// parent of every resulting output.
func (r *Router) ObserveOutbound(sessionID string, env *wire.Envelope) {
	if env.Type != wire.TypeExecuteRequest {
		return
	}
	r.buffer.HandleInputCode(sessionID, env.ID, env.Code())
	r.metrics.RecordInput()
}

func (r *Router) Metrics() MetricsSnapshot {
	return r.metrics.Snapshot()
}

func (r *Router) serve(ctx context.Context, a *attachment) {
	defer close(a.done)

	for {
		env, err := a.route.Source.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				r.emit(ctx, EventSourceClosed, observability.LevelInfo, map[string]any{
					"session_id": a.route.SessionID,
					"error":      err,
				})
			}
			return
		}

		r.dispatch(ctx, a.route, env)
	}
}

func (r *Router) dispatch(ctx context.Context, route Route, env *wire.Envelope) {
	r.metrics.RecordRouted()

	switch {
	case env.IsInput():
		parentID := env.ParentID
		if env.Type == wire.TypeExecuteRequest {
			parentID = env.ID
		}
		r.buffer.HandleInputCode(route.SessionID, parentID, env.Code())
		r.metrics.RecordInput()
		return

	case env.IsOutput():
		r.metrics.RecordOutput()
		handle, err := r.buffer.HandleOutput(ctx, route.SessionID, env)
		if err != nil {
			r.emit(ctx, EventDisplayFailed, observability.LevelError, map[string]any{
				"session_id": route.SessionID,
				"message_id": env.ID,
				"error":      err,
			})
			return
		}
		if handle != nil {
			r.metrics.RecordDisplay()
			if route.OnDisplay != nil {
				route.OnDisplay(handle)
			}
		}
		return

	case env.Type == wire.TypeCommOpen, env.Type == wire.TypeCommMsg, env.Type == wire.TypeCommClose:
		if r.routeComm(ctx, route, env) {
			return
		}
	}

	if route.OnMessage != nil {
		route.OnMessage(env)
		return
	}

	r.metrics.RecordDropped()
	r.emit(ctx, EventDrop, observability.LevelVerbose, map[string]any{
		"session_id": route.SessionID,
		"message_id": env.ID,
		"msg_type":   string(env.Type),
	})
}

func (r *Router) routeComm(ctx context.Context, route Route, env *wire.Envelope) bool {
	if route.Channels == nil {
		return false
	}
	ch, ok := route.Channels.Channel(env.CommID())
	if !ok {
		if env.Type == wire.TypeCommOpen {
			return r.rejectTarget(ctx, route, env)
		}
		return false
	}

	var err error
	switch env.Type {
	case wire.TypeCommOpen:
		err = ch.HandleOpenAck()
	case wire.TypeCommMsg:
		err = ch.Deliver(ctx, env)
	case wire.TypeCommClose:
		if ch.State() == channel.StateClosing {
			err = ch.HandleCloseAck()
		} else {
			ch.ForceClose()
		}
	}

	r.metrics.RecordChannelMessage()
	if err != nil {
		r.emit(ctx, EventChannelFailed, observability.LevelWarning, map[string]any{
			"session_id": route.SessionID,
			"channel_id": ch.ID(),
			"msg_type":   string(env.Type),
			"error":      err,
		})
	}
	return true
}

// rejectTarget drops a kernel-initiated comm_open whose target is not a
// known channel kind. Known targets fall through to OnMessage.
func (r *Router) rejectTarget(ctx context.Context, route Route, env *wire.Envelope) bool {
	target, _ := env.Content["target_name"].(string)
	if _, err := channel.ParseKind(target); err == nil {
		return false
	}

	r.metrics.RecordDropped()
	r.emit(ctx, EventUnknownTarget, observability.LevelWarning, map[string]any{
		"session_id":  route.SessionID,
		"comm_id":     env.CommID(),
		"target_name": target,
	})
	return true
}

func (r *Router) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	r.observer.OnEvent(ctx, observability.NewEvent(typ, level, "router.Router", data))
}
