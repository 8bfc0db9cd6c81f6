// Package host composes the runtime layer: sockets, sessions, the replay
// buffer, the message router, and the session API.
//
// A Host initializes from configuration via New, creating all subsystems
// internally. Functional options replace any of them for tests.
//
//	h, err := host.New(cfg)
//	err = h.Serve(ctx)
package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/t-kalinowski/positron/observability"
	"github.com/t-kalinowski/positron/replay"
	"github.com/t-kalinowski/positron/router"
	"github.com/t-kalinowski/positron/server"
	"github.com/t-kalinowski/positron/session"
	"github.com/t-kalinowski/positron/transport"
	"github.com/t-kalinowski/positron/wire"
)

// Option configures a Host. Options are applied after config-driven
// initialization and replace the defaults it created.
type Option func(*Host)

// WithObserver overrides the observer named in Config.Observer.
func WithObserver(o observability.Observer) Option {
	return func(h *Host) { h.observer = observability.OrNoOp(o) }
}

// WithLauncher replaces the socket launcher. Outbound execute requests are
// then only seen by the router if the launcher reports them itself.
func WithLauncher(l session.Launcher) Option {
	return func(h *Host) { h.launcher = l }
}

// WithProcessFactory replaces the kernel command runner used by the socket
// launcher.
func WithProcessFactory(f session.ProcessFactory) Option {
	return func(h *Host) { h.processes = f }
}

// WithDisplayCreator replaces the in-memory artifact store.
func WithDisplayCreator(c replay.DisplayCreator) Option {
	return func(h *Host) { h.creator = c }
}

// WithOnMessage registers a consumer for every message the router does not
// claim itself.
func WithOnMessage(fn func(sessionID string, env *wire.Envelope)) Option {
	return func(h *Host) { h.onMessage = fn }
}

// WithOnDisplay registers a consumer for created display artifacts.
func WithOnDisplay(fn func(sessionID string, handle replay.DisplayHandle)) Option {
	return func(h *Host) { h.onDisplay = fn }
}

// Host owns one registry, router and replay buffer.
type Host struct {
	cfg       Config
	observer  observability.Observer
	launcher  session.Launcher
	processes session.ProcessFactory
	creator   replay.DisplayCreator
	artifacts *ArtifactStore
	diag      *observability.StreamObserver
	onMessage func(string, *wire.Envelope)
	onDisplay func(string, replay.DisplayHandle)

	buffer   *replay.Buffer
	router   *router.Router
	registry *session.Registry

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closeErr  error
}

// New creates a Host from configuration.
func New(cfg *Config, opts ...Option) (*Host, error) {
	merged := DefaultConfig()
	merged.Merge(cfg)

	observer, err := observability.GetObserver(merged.Observer)
	if err != nil {
		return nil, fmt.Errorf("failed to create observer: %w", err)
	}

	artifacts := NewArtifactStore()
	h := &Host{
		cfg:       merged,
		observer:  observer,
		processes: session.CommandProcessFactory(merged.Session),
		creator:   artifacts,
		artifacts: artifacts,
	}

	for _, opt := range opts {
		opt(h)
	}

	h.diag = observability.NewStreamObserver(merged.DiagnosticsBuffer)
	h.observer = observability.NewMultiObserver(h.observer, observability.MinLevel(observability.LevelInfo, h.diag))

	h.ctx, h.cancel = context.WithCancel(context.Background())

	h.buffer = replay.New(h.creator,
		replay.WithConfig(merged.Replay),
		replay.WithObserver(h.observer),
	)
	h.router = router.New(h.buffer, router.WithObserver(h.observer))

	if h.launcher == nil {
		h.launcher = session.NewSocketLauncher(merged.Session, h.processes,
			session.WithLauncherObserver(h.observer),
			session.WithTransportConfig(merged.Transport),
			session.WithChannelConfig(merged.Channel),
			session.WithSocketOptions(transport.WithObserver(h.observer)),
			session.WithSendHook(h.router.ObserveOutbound),
		)
	}

	h.registry = session.NewRegistry(h.launcher,
		session.WithObserver(h.observer),
		session.WithOnStart(h.attach),
		session.WithOnStop(h.detach),
	)

	return h, nil
}

func (h *Host) Config() Config {
	return h.cfg
}

func (h *Host) Registry() *session.Registry {
	return h.registry
}

func (h *Host) Router() *router.Router {
	return h.router
}

func (h *Host) Buffer() *replay.Buffer {
	return h.buffer
}

// Artifacts returns the built-in artifact store. It stays empty when
// WithDisplayCreator replaced it.
func (h *Host) Artifacts() *ArtifactStore {
	return h.artifacts
}

// Diagnostics streams Info and higher events from every subsystem. Events
// are dropped rather than queued once its buffer is full. Close closes it.
func (h *Host) Diagnostics() *observability.StreamObserver {
	return h.diag
}

// Handler returns the session API's path prefix and handler.
func (h *Host) Handler() (string, http.Handler) {
	return server.New(h.registry, server.WithObserver(h.observer))
}

// Serve listens on Config.Server.Addr and serves the session API until ctx
// is cancelled. Every session is shut down before it returns.
func (h *Host) Serve(ctx context.Context) error {
	if h.ctx.Err() != nil {
		return ErrClosed
	}

	path, handler := h.Handler()
	mux := http.NewServeMux()
	mux.Handle(path, handler)

	ln, err := server.Listen(h.cfg.Server, mux, h.observer)
	if err != nil {
		return err
	}

	serveErr := ln.Serve(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.Server.ShutdownTimeout.Std())
	defer cancel()

	return errors.Join(serveErr, h.Close(shutdownCtx))
}

// Close shuts down every session and stops routing. It is safe to call more
// than once; later calls return the first result.
func (h *Host) Close(ctx context.Context) error {
	h.closeOnce.Do(func() {
		h.closeErr = h.registry.Close(ctx)
		h.router.Close()
		h.cancel()

		data := map[string]any{}
		level := observability.LevelInfo
		if h.closeErr != nil {
			data["error"] = h.closeErr
			level = observability.LevelWarning
		}
		h.observer.OnEvent(ctx, observability.NewEvent(EventClose, level, "host", data))
		h.diag.Close()
	})
	return h.closeErr
}

func (h *Host) attach(s session.Session) {
	id := s.ID()

	route := router.Route{
		SessionID: id,
		Source:    s,
		Channels:  s,
		OnDisplay: func(handle replay.DisplayHandle) {
			h.observer.OnEvent(h.ctx, observability.NewEvent(EventDisplay, observability.LevelVerbose, "host", map[string]any{
				"session_id":  id,
				"artifact_id": handle.ID(),
			}))
			if h.onDisplay != nil {
				h.onDisplay(id, handle)
			}
		},
	}
	if h.onMessage != nil {
		route.OnMessage = func(env *wire.Envelope) { h.onMessage(id, env) }
	}

	if err := h.router.Attach(h.ctx, route); err != nil {
		h.observer.OnEvent(h.ctx, observability.NewEvent(EventAttachError, observability.LevelError, "host", map[string]any{
			"session_id": id,
			"error":      err,
		}))
	}
}

func (h *Host) detach(s session.Session) {
	h.router.Detach(s.ID())
}
