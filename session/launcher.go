package session

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/t-kalinowski/positron/channel"
	"github.com/t-kalinowski/positron/observability"
	"github.com/t-kalinowski/positron/transport"
	"github.com/t-kalinowski/positron/wire"
)

// Launcher creates a session for a document. The returned session may still
// be Starting.
type Launcher interface {
	Launch(ctx context.Context, doc DocumentID, rt RuntimeID) (Session, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, doc DocumentID, rt RuntimeID) (Session, error)

func (f LauncherFunc) Launch(ctx context.Context, doc DocumentID, rt RuntimeID) (Session, error) {
	return f(ctx, doc, rt)
}

// LauncherOption configures a SocketLauncher.
type LauncherOption func(*SocketLauncher)

func WithLauncherObserver(o observability.Observer) LauncherOption {
	return func(l *SocketLauncher) { l.observer = observability.OrNoOp(o) }
}

func WithTransportConfig(cfg transport.Config) LauncherOption {
	return func(l *SocketLauncher) { l.transport.Merge(&cfg) }
}

func WithChannelConfig(cfg channel.Config) LauncherOption {
	return func(l *SocketLauncher) { l.channel.Merge(&cfg) }
}

// WithSocketOptions adds options applied to every socket the launcher binds.
func WithSocketOptions(opts ...transport.Option) LauncherOption {
	return func(l *SocketLauncher) { l.socketOpts = append(l.socketOpts, opts...) }
}

// WithSendHook registers a function called with every envelope a launched
// session sends, before it is written.
func WithSendHook(hook func(sessionID string, env *wire.Envelope)) LauncherOption {
	return func(l *SocketLauncher) { l.sendHook = hook }
}

// SocketLauncher launches SocketSessions.
type SocketLauncher struct {
	cfg        Config
	transport  transport.Config
	channel    channel.Config
	processes  ProcessFactory
	observer   observability.Observer
	socketOpts []transport.Option
	sendHook   func(string, *wire.Envelope)
}

// NewSocketLauncher creates a launcher that starts kernels via processes.
func NewSocketLauncher(cfg Config, processes ProcessFactory, opts ...LauncherOption) *SocketLauncher {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	l := &SocketLauncher{
		cfg:       merged,
		transport: transport.DefaultConfig(),
		channel:   channel.DefaultConfig(),
		processes: processes,
		observer:  observability.NoOpObserver{},
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Launch binds one socket per configured name, each excluding the ports
// already taken, starts the kernel process with the resulting connection
// info, and returns the session without waiting for the kernel to connect.
// On any failure every socket bound so far is disposed.
func (l *SocketLauncher) Launch(ctx context.Context, doc DocumentID, rt RuntimeID) (Session, error) {
	if !slices.Contains(l.cfg.Sockets, SocketShell) || !slices.Contains(l.cfg.Sockets, SocketIOPub) {
		return nil, fmt.Errorf("%w: shell and iopub are required", ErrNoSockets)
	}

	s := &SocketSession{
		id:       uuid.Must(uuid.NewV7()).String(),
		doc:      doc,
		runtime:  rt,
		cfg:      l.cfg,
		observer: l.observer,
		sendHook: l.sendHook,
		chanCfg:  l.channel,
		channels: make(map[string]*channel.Channel),
		inbound:  make(chan *wire.Envelope, l.transport.ReceiveBuffer),
		done:     make(chan struct{}),
	}

	if err := s.setState(StateStarting); err != nil {
		return nil, err
	}

	info := ConnectionInfo{
		Transport:  "tcp",
		IP:         l.transport.Host,
		SessionID:  s.id,
		KernelName: rt.Name,
		Language:   rt.Language,
		Ports:      make(map[string]int, len(l.cfg.Sockets)),
	}

	var excluded []int
	for _, name := range l.cfg.Sockets {
		sock := transport.NewSocket(name, l.transport, l.socketOpts...)
		if err := sock.SetIdentity(s.id); err != nil {
			return nil, l.abort(ctx, s, err)
		}

		port, err := sock.Bind(ctx, excluded)
		if err != nil {
			return nil, l.abort(ctx, s, fmt.Errorf("bind %s socket: %w", name, err))
		}

		s.sockets = append(s.sockets, sock)
		excluded = append(excluded, port)
		info.Ports[name] = port

		switch name {
		case SocketShell:
			s.shell = sock
		case SocketControl:
			s.control = sock
		}
	}

	process, err := l.processes(doc, rt)
	if err != nil {
		return nil, l.abort(ctx, s, err)
	}
	if err := process.Start(ctx, info); err != nil {
		return nil, l.abort(ctx, s, fmt.Errorf("start kernel: %w", err))
	}
	s.process = process

	monitorCtx, cancel := context.WithCancel(context.Background())
	s.cancelMonitor = cancel
	for _, sock := range s.sockets {
		s.pumps.Add(1)
		go s.pump(monitorCtx, sock)
	}
	go s.monitor(monitorCtx)

	s.emit(ctx, EventLaunch, observability.LevelInfo, map[string]any{
		"runtime": rt.String(),
		"ports":   info.Ports,
	})

	return s, nil
}

func (l *SocketLauncher) abort(ctx context.Context, s *SocketSession, err error) error {
	disposeSockets(s.sockets)
	_ = s.setState(StateShutDown)
	close(s.done)

	s.emit(ctx, EventLaunchError, observability.LevelError, map[string]any{
		"runtime": s.runtime.String(),
		"error":   err,
	})
	return fmt.Errorf("launch %s for %s: %w", s.runtime, s.doc, err)
}
