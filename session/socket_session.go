package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/t-kalinowski/positron/channel"
	"github.com/t-kalinowski/positron/observability"
	"github.com/t-kalinowski/positron/transport"
	"github.com/t-kalinowski/positron/wire"
)

// SocketSession is a Session backed by transport sockets. Requests and
// channel traffic go out on the shell socket. Receive yields inbound traffic
// from every socket, each envelope tagged with the socket it arrived on.
type SocketSession struct {
	id       string
	doc      DocumentID
	runtime  RuntimeID
	cfg      Config
	observer observability.Observer
	process  KernelProcess
	sendHook func(sessionID string, env *wire.Envelope)
	chanCfg  channel.Config

	sockets []*transport.Socket
	shell   *transport.Socket
	control *transport.Socket

	life lifecycle

	inbound chan *wire.Envelope
	pumps   sync.WaitGroup

	mu       sync.Mutex
	channels map[string]*channel.Channel
	err      error

	cancelMonitor context.CancelFunc
	stopOnce      sync.Once
	stopErr       error
	done          chan struct{}
}

func (s *SocketSession) ID() string {
	return s.id
}

func (s *SocketSession) DocumentID() DocumentID {
	return s.doc
}

func (s *SocketSession) Runtime() RuntimeID {
	return s.runtime
}

func (s *SocketSession) State() State {
	return s.life.get()
}

// Sockets returns the session's sockets in bind order.
func (s *SocketSession) Sockets() []*transport.Socket {
	return s.sockets
}

func (s *SocketSession) OpenChannel(ctx context.Context, kind channel.Kind) (*channel.Channel, error) {
	if state := s.State(); state != StateRunning {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotRunning, s.id, state)
	}

	ch, err := channel.New(kind, s,
		channel.WithSessionID(s.id),
		channel.WithObserver(s.observer),
		channel.WithConfig(s.chanCfg),
		channel.WithOnClosed(s.forget),
	)
	if err != nil {
		return nil, err
	}

	// Registered before the handshake so the acknowledgement can find it.
	s.mu.Lock()
	s.channels[ch.ID()] = ch
	s.mu.Unlock()

	if err := ch.Open(ctx, nil); err != nil {
		s.forget(ch)
		return nil, err
	}

	return ch, nil
}

// forget drops a closed channel so its comm id no longer resolves.
func (s *SocketSession) forget(ch *channel.Channel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channels[ch.ID()] == ch {
		delete(s.channels, ch.ID())
	}
}

func (s *SocketSession) Channel(id string) (*channel.Channel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[id]
	return ch, ok
}

// Send stamps env with the session id when it has none and writes it to the
// shell socket.
func (s *SocketSession) Send(ctx context.Context, env *wire.Envelope) error {
	if env.SessionID == "" {
		env = env.Clone()
		env.SessionID = s.id
	}
	if s.sendHook != nil {
		s.sendHook(s.id, env)
	}
	return s.shell.Send(ctx, env)
}

// Receive returns the next envelope from any socket. Ordering holds per
// socket, not across sockets. Once the session ends, envelopes already
// forwarded are still returned before the error.
func (s *SocketSession) Receive(ctx context.Context) (*wire.Envelope, error) {
	select {
	case env := <-s.inbound:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
	}

	select {
	case env := <-s.inbound:
		return env, nil
	default:
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return nil, transport.ErrClosed
}

// pump forwards one socket's inbound envelopes to Receive until the socket
// is disposed or the session ends.
func (s *SocketSession) pump(ctx context.Context, sock *transport.Socket) {
	defer s.pumps.Done()

	for {
		env, err := sock.Receive(ctx)
		if err != nil {
			return
		}
		if env.Channel == "" {
			env.Channel = sock.Title()
		}

		select {
		case s.inbound <- env:
		case <-ctx.Done():
			return
		case <-s.done:
			return
		}
	}
}

func (s *SocketSession) Done() <-chan struct{} {
	return s.done
}

func (s *SocketSession) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Shutdown asks the kernel to exit over the control socket, stops the
// process, and disposes every channel and socket. It runs once; later calls
// return the first result. A session that already ended on its own shuts
// down with a nil error.
func (s *SocketSession) Shutdown(ctx context.Context) error {
	s.cancelMonitor()
	s.stop(func() error { return s.shutdown(ctx) })
	s.pumps.Wait()
	return s.stopErr
}

func (s *SocketSession) shutdown(ctx context.Context) error {
	if err := s.setState(StateShuttingDown); err != nil {
		return err
	}

	ctx, cancel := s.withShutdownTimeout(ctx)
	defer cancel()

	var errs []error
	if s.control != nil && s.control.Connected() {
		req := wire.New(wire.TypeShutdownRequest).
			Session(s.id).
			Channel(SocketControl).
			Set("restart", false).
			Build()
		if err := s.control.Send(ctx, req); err != nil {
			errs = append(errs, fmt.Errorf("send shutdown request: %w", err))
		}
	}

	if err := s.process.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop kernel: %w", err))
	}

	s.release()
	_ = s.setState(StateShutDown)

	err := errors.Join(errs...)
	if err != nil {
		s.emit(ctx, EventShutdownError, observability.LevelWarning, map[string]any{"error": err})
	}
	return err
}

// lose ends a session whose transport failed.
func (s *SocketSession) lose(cause error) {
	s.stop(func() error {
		s.mu.Lock()
		s.err = cause
		s.mu.Unlock()

		s.emit(context.Background(), EventLost, observability.LevelError, map[string]any{"error": cause})

		ctx, cancel := s.withShutdownTimeout(context.Background())
		defer cancel()
		_ = s.process.Stop(ctx)

		s.release()
		_ = s.setState(StateShutDown)
		return nil
	})
}

func (s *SocketSession) withShutdownTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if timeout := s.cfg.ShutdownTimeout.Std(); timeout > 0 {
		return context.WithTimeout(ctx, timeout)
	}
	return context.WithCancel(ctx)
}

func (s *SocketSession) stop(fn func() error) {
	s.stopOnce.Do(func() {
		s.stopErr = fn()
		close(s.done)
	})
}

// release force-closes every channel and disposes every socket.
func (s *SocketSession) release() {
	s.mu.Lock()
	channels := make([]*channel.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		channels = append(channels, ch)
	}
	s.mu.Unlock()

	for _, ch := range channels {
		ch.Dispose()
	}
	disposeSockets(s.sockets)
}

// monitor promotes the session to Running once shell connects, then ends
// it if any socket is lost.
func (s *SocketSession) monitor(ctx context.Context) {
	connectCtx := ctx
	if timeout := s.cfg.ConnectTimeout.Std(); timeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := s.shell.WaitConnected(connectCtx); err != nil {
		if ctx.Err() == nil {
			s.lose(fmt.Errorf("connect %s: %w", s.shell, err))
		}
		return
	}
	if err := s.setState(StateRunning); err != nil {
		return
	}

	lost := make(chan *transport.Socket, len(s.sockets))
	var g errgroup.Group
	for _, sock := range s.sockets {
		g.Go(func() error {
			select {
			case <-sock.Done():
				lost <- sock
			case <-ctx.Done():
			}
			return nil
		})
	}

	select {
	case sock := <-lost:
		cause := sock.Err()
		if cause == nil {
			cause = fmt.Errorf("%s: %w", sock.Title(), transport.ErrClosed)
		}
		s.lose(cause)
	case <-ctx.Done():
	}

	_ = g.Wait()
}

func (s *SocketSession) setState(to State) error {
	from, err := s.life.transition(to)
	if err != nil {
		return err
	}

	s.emit(context.Background(), EventState, observability.LevelInfo, map[string]any{
		"from": from.String(),
		"to":   to.String(),
	})
	return nil
}

func (s *SocketSession) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	data["session_id"] = s.id
	data["document_id"] = string(s.doc)
	s.observer.OnEvent(ctx, observability.NewEvent(typ, level, "session.SocketSession", data))
}

func disposeSockets(sockets []*transport.Socket) {
	var g errgroup.Group
	for _, sock := range sockets {
		g.Go(func() error {
			sock.Dispose()
			return nil
		})
	}
	_ = g.Wait()
}
