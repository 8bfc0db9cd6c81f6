// Package transport binds and connects the local sockets a session uses to
// reach its kernel.
//
// A Socket picks a free port, publishes it (so the kernel can be told where
// to listen), then dials that port in the background until the kernel comes
// up. Connection progress is reported through an observability.Observer as
// a single stream of categorised events:
//
//	sock := transport.NewSocket("iopub", cfg, transport.WithObserver(obs))
//	port, err := sock.Bind(ctx, alreadyUsed)
//	// ... start the kernel on port ...
//	err = sock.WaitConnected(ctx)
//	env, err := sock.Receive(ctx)
//	sock.Dispose()
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/t-kalinowski/positron/observability"
	"github.com/t-kalinowski/positron/wire"
)

// Option configures a Socket.
type Option func(*Socket)

// WithObserver sets the diagnostics observer.
func WithObserver(o observability.Observer) Option {
	return func(s *Socket) { s.observer = observability.OrNoOp(o) }
}

// WithProber replaces the default ListenProber.
func WithProber(p Prober) Option {
	return func(s *Socket) { s.prober = p }
}

// WithDialer replaces the default net.Dialer.
func WithDialer(d Dialer) Option {
	return func(s *Socket) { s.dialer = d }
}

// Socket is one duplex endpoint. Address and port are assigned once, by Bind.
type Socket struct {
	title    string
	cfg      Config
	prober   Prober
	dialer   Dialer
	observer observability.Observer

	binding atomic.Bool

	mu       sync.Mutex
	identity string
	hostPort string
	port     int
	conn     net.Conn
	enc      *wire.Encoder
	err      error
	disposed bool
	cancel   context.CancelFunc

	incoming  chan *wire.Envelope
	connected chan struct{}
	done      chan struct{}
}

// NewSocket creates an unbound socket. title names it in diagnostics.
func NewSocket(title string, cfg Config, opts ...Option) *Socket {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	s := &Socket{
		title:     title,
		cfg:       merged,
		prober:    ListenProber,
		dialer:    &net.Dialer{},
		observer:  observability.NoOpObserver{},
		incoming:  make(chan *wire.Envelope, merged.ReceiveBuffer),
		connected: make(chan struct{}),
		done:      make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *Socket) Title() string {
	return s.title
}

// Port returns the bound port, or 0 before Bind succeeds.
func (s *Socket) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port
}

// Address returns "tcp://host:port", or "" before Bind succeeds.
func (s *Socket) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.address()
}

func (s *Socket) address() string {
	if s.hostPort == "" {
		return ""
	}
	return "tcp://" + s.hostPort
}

// SetIdentity sets the token sent as the first frame after connecting.
// It must be called before Bind.
func (s *Socket) SetIdentity(identity string) error {
	if s.binding.Load() {
		return ErrIdentityAfterBind
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = identity
	return nil
}

// Bind selects a port not in excluded, records the address, and starts
// connecting in the background. It returns as soon as the port is chosen.
// ctx bounds only the port search; the connection lives until Dispose.
func (s *Socket) Bind(ctx context.Context, excluded []int) (int, error) {
	if !s.binding.CompareAndSwap(false, true) {
		return 0, ErrAlreadyBound
	}

	start := candidateStart(s.cfg.BasePort, s.cfg.MaxAttempts)
	port, err := FindPort(ctx, s.cfg.Host, start, s.cfg.MaxAttempts, excluded, s.prober)
	if err != nil {
		var pe *PortExhaustionError
		if errors.As(err, &pe) {
			pe.Title = s.title
		}
		s.binding.Store(false)
		return 0, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		cancel()
		return 0, ErrDisposed
	}
	s.port = port
	s.hostPort = net.JoinHostPort(s.cfg.Host, strconv.Itoa(port))
	s.cancel = cancel
	address := s.address()
	s.mu.Unlock()

	s.emit(EventBind, observability.LevelVerbose, map[string]any{
		"address":  address,
		"excluded": len(excluded),
	})

	go s.run(loopCtx)

	return port, nil
}

// WaitConnected blocks until the socket connects, fails, or ctx is done.
func (s *Socket) WaitConnected(ctx context.Context) error {
	select {
	case <-s.connected:
		return nil
	case <-s.done:
		return s.closeErr()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connected reports whether a connection is currently established.
func (s *Socket) Connected() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-s.connected:
		return true
	default:
		return false
	}
}

// Done is closed once the socket can no longer carry traffic.
func (s *Socket) Done() <-chan struct{} {
	return s.done
}

// Err returns the terminal error once Done is closed: nil after a clean
// close or Dispose.
func (s *Socket) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Send writes one envelope. A deadline on ctx becomes the write deadline.
func (s *Socket) Send(ctx context.Context, env *wire.Envelope) error {
	if !s.Connected() {
		return ErrNotConnected
	}

	s.mu.Lock()
	conn, enc, address := s.conn, s.enc, s.address()
	s.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(deadline)
		defer conn.SetWriteDeadline(time.Time{})
	}

	if err := enc.Encode(env); err != nil {
		return &NetworkError{Op: "write", Addr: address, Err: err}
	}
	return nil
}

// Receive returns the next inbound envelope in arrival order. Frames already
// received are still returned after the connection closes.
func (s *Socket) Receive(ctx context.Context) (*wire.Envelope, error) {
	select {
	case env := <-s.incoming:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		select {
		case env := <-s.incoming:
			return env, nil
		default:
			return nil, s.closeErr()
		}
	}
}

// Dispose disconnects from the last known address and stops the background
// connection. It is idempotent and safe on a socket that was never bound.
func (s *Socket) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	cancel, conn, address := s.cancel, s.conn, s.address()
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	<-s.done

	s.emit(EventDisconnect, observability.LevelVerbose, map[string]any{"address": address})
}

func (s *Socket) closeErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrClosed
}

func (s *Socket) run(ctx context.Context) {
	defer close(s.done)

	s.mu.Lock()
	hostPort, address, identity := s.hostPort, s.address(), s.identity
	s.mu.Unlock()

	conn, err := s.dial(ctx, hostPort, address)
	if err != nil {
		if ctx.Err() == nil {
			s.fail(&NetworkError{Op: "connect", Addr: address, Err: err}, address)
		}
		return
	}

	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		_ = conn.Close()
		s.emit(EventClose, observability.LevelVerbose, map[string]any{"address": address})
		return
	}
	s.conn = conn
	s.enc = wire.NewEncoder(conn)
	enc := s.enc
	s.mu.Unlock()

	if identity != "" {
		hello := wire.New(wire.TypeIdentity).Set("identity", identity).Build()
		if err := enc.Encode(hello); err != nil {
			_ = conn.Close()
			s.fail(&NetworkError{Op: "identity", Addr: address, Err: err}, address)
			return
		}
	}

	close(s.connected)
	s.emit(EventConnect, observability.LevelInfo, map[string]any{"address": address})

	s.read(ctx, conn, address)
}

func (s *Socket) dial(ctx context.Context, hostPort, address string) (net.Conn, error) {
	var conn net.Conn

	err := s.cfg.backoff().Do(ctx, func(attempt int) error {
		if attempt > 1 {
			s.emit(EventConnectRetry, observability.LevelVerbose, map[string]any{
				"address": address,
				"attempt": attempt,
			})
		}

		c, err := s.dialer.DialContext(ctx, "tcp", hostPort)
		if err != nil {
			if ctx.Err() != nil {
				return permanent(ctx.Err())
			}
			s.emit(EventConnectDelay, observability.LevelVerbose, map[string]any{
				"address": address,
				"attempt": attempt,
				"error":   err,
			})
			return err
		}

		conn = c
		return nil
	})

	return conn, err
}

func (s *Socket) read(ctx context.Context, conn net.Conn, address string) {
	dec := wire.NewDecoder(conn)

	for {
		env, err := dec.Decode()
		if err != nil {
			_ = conn.Close()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) || isEOF(err) {
				s.emit(EventClose, observability.LevelInfo, map[string]any{"address": address})
				return
			}
			s.fail(&NetworkError{Op: "read", Addr: address, Err: err}, address)
			return
		}

		select {
		case s.incoming <- env:
		case <-ctx.Done():
			_ = conn.Close()
			s.emit(EventClose, observability.LevelInfo, map[string]any{"address": address})
			return
		}
	}
}

func (s *Socket) fail(err error, address string) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()

	s.emit(EventCloseError, observability.LevelWarning, map[string]any{
		"address": address,
		"error":   err,
	})
}

func (s *Socket) emit(typ observability.EventType, level observability.Level, data map[string]any) {
	data["title"] = s.title
	s.observer.OnEvent(context.Background(), observability.NewEvent(typ, level, "transport.Socket", data))
}

func isEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

func (s *Socket) String() string {
	return fmt.Sprintf("Socket{%s %s}", s.title, s.Address())
}
