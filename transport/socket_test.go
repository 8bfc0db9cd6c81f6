package transport_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t-kalinowski/positron/core/config"
	"github.com/t-kalinowski/positron/observability"
	"github.com/t-kalinowski/positron/transport"
	"github.com/t-kalinowski/positron/wire"
)

// --- Test helpers ---

type recorder struct {
	mu     sync.Mutex
	events []observability.Event
}

func (r *recorder) OnEvent(ctx context.Context, event observability.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorder) types() []observability.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()

	types := make([]observability.EventType, len(r.events))
	for i, ev := range r.events {
		types[i] = ev.Type
	}
	return types
}

func (r *recorder) has(typ observability.EventType) bool {
	for _, got := range r.types() {
		if got == typ {
			return true
		}
	}
	return false
}

func (r *recorder) index(typ observability.EventType) int {
	for i, got := range r.types() {
		if got == typ {
			return i
		}
	}
	return -1
}

// blockingDialer never connects; it returns when the socket is disposed.
type blockingDialer struct{}

func (blockingDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func acceptAll(context.Context, string, int) error { return nil }

func portRange(start, n int) []int {
	ports := make([]int, n)
	for i := range ports {
		ports[i] = start + i
	}
	return ports
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// --- Port search ---

func TestFindPort(t *testing.T) {
	const base = 20000

	tests := []struct {
		name     string
		excluded []int
		want     int
		wantErr  bool
	}{
		{name: "no exclusions takes first", want: base},
		{name: "all but last candidate excluded", excluded: portRange(base, 24), want: base + 24},
		{name: "all candidates excluded", excluded: portRange(base, 25), wantErr: true},
		{name: "exclusions outside range ignored", excluded: []int{base - 1, base + 100}, want: base},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := transport.FindPort(context.Background(), "127.0.0.1", base, 25, tt.excluded, acceptAll)
			if tt.wantErr {
				var pe *transport.PortExhaustionError
				require.ErrorAs(t, err, &pe)
				assert.Equal(t, 25, pe.Attempts)
				assert.Equal(t, base, pe.First)
				assert.Equal(t, base+24, pe.Last)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFindPort_SkipsPortsInUse(t *testing.T) {
	inUse := func(_ context.Context, _ string, port int) error {
		if port < 30003 {
			return transport.ErrPortInUse
		}
		return nil
	}

	got, err := transport.FindPort(context.Background(), "127.0.0.1", 30000, 25, nil, inUse)
	require.NoError(t, err)
	assert.Equal(t, 30003, got)
}

func TestFindPort_ProbeFailure(t *testing.T) {
	broken := errors.New("no such interface")
	probe := func(context.Context, string, int) error { return broken }

	_, err := transport.FindPort(context.Background(), "127.0.0.1", 30000, 25, nil, probe)

	var ne *transport.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "probe", ne.Op)
	assert.ErrorIs(t, err, broken)
}

func TestListenProber(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	taken := ln.Addr().(*net.TCPAddr).Port
	assert.ErrorIs(t, transport.ListenProber(context.Background(), "127.0.0.1", taken), transport.ErrPortInUse)

	assert.NoError(t, transport.ListenProber(context.Background(), "127.0.0.1", freePort(t)))
}

// --- Bind ---

func TestSocket_Bind_SingleFreeCandidate(t *testing.T) {
	rec := &recorder{}
	sock := transport.NewSocket("shell", transport.Config{BasePort: 40000},
		transport.WithProber(acceptAll),
		transport.WithDialer(blockingDialer{}),
		transport.WithObserver(rec),
	)
	defer sock.Dispose()

	port, err := sock.Bind(context.Background(), portRange(40000, 24))
	require.NoError(t, err)

	assert.Equal(t, 40024, port)
	assert.Equal(t, 40024, sock.Port())
	assert.Equal(t, "tcp://127.0.0.1:40024", sock.Address())
	assert.True(t, rec.has(transport.EventBind))
}

func TestSocket_Bind_Exhaustion(t *testing.T) {
	sock := transport.NewSocket("iopub", transport.Config{BasePort: 40000},
		transport.WithProber(acceptAll),
		transport.WithDialer(blockingDialer{}),
	)
	defer sock.Dispose()

	_, err := sock.Bind(context.Background(), portRange(40000, 25))

	var pe *transport.PortExhaustionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "iopub", pe.Title)
	assert.Equal(t, 0, sock.Port())
	assert.Empty(t, sock.Address())
}

func TestSocket_BindTwice(t *testing.T) {
	sock := transport.NewSocket("control", transport.Config{BasePort: 41000},
		transport.WithProber(acceptAll),
		transport.WithDialer(blockingDialer{}),
	)
	defer sock.Dispose()

	_, err := sock.Bind(context.Background(), nil)
	require.NoError(t, err)

	_, err = sock.Bind(context.Background(), nil)
	assert.ErrorIs(t, err, transport.ErrAlreadyBound)
}

func TestSocket_IdentityAfterBind(t *testing.T) {
	sock := transport.NewSocket("stdin", transport.Config{BasePort: 41100},
		transport.WithProber(acceptAll),
		transport.WithDialer(blockingDialer{}),
	)
	defer sock.Dispose()

	require.NoError(t, sock.SetIdentity("client-1"))

	_, err := sock.Bind(context.Background(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, sock.SetIdentity("client-2"), transport.ErrIdentityAfterBind)
}

func TestSocket_DisposeNeverBound(t *testing.T) {
	sock := transport.NewSocket("heartbeat", transport.Config{})
	sock.Dispose()
	sock.Dispose()

	assert.Equal(t, 0, sock.Port())
	assert.ErrorIs(t, sock.Send(context.Background(), wire.New(wire.TypeStatus).Build()), transport.ErrNotConnected)
}

func TestSocket_DisposeDuringDial(t *testing.T) {
	rec := &recorder{}
	sock := transport.NewSocket("shell", transport.Config{BasePort: 41200},
		transport.WithProber(acceptAll),
		transport.WithDialer(blockingDialer{}),
		transport.WithObserver(rec),
	)

	_, err := sock.Bind(context.Background(), nil)
	require.NoError(t, err)

	sock.Dispose()
	sock.Dispose()

	assert.False(t, sock.Connected())
	assert.True(t, rec.has(transport.EventDisconnect))
	assert.False(t, rec.has(transport.EventCloseError))

	select {
	case <-sock.Done():
	default:
		t.Fatal("Done should be closed after Dispose")
	}
}

// --- Connection lifecycle ---

func TestSocket_ConnectExchangeAndClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	serverGot := make(chan *wire.Envelope, 4)
	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		dec := wire.NewDecoder(conn)
		enc := wire.NewEncoder(conn)

		for range 2 {
			env, err := dec.Decode()
			if err != nil {
				return
			}
			serverGot <- env
		}
		_ = enc.Encode(wire.New(wire.TypeStatus).Set("execution_state", "idle").Build())
	}()

	rec := &recorder{}
	sock := transport.NewSocket("shell", transport.Config{BasePort: port},
		transport.WithProber(acceptAll),
		transport.WithObserver(rec),
	)
	defer sock.Dispose()

	require.NoError(t, sock.SetIdentity("doc-1"))
	_, err = sock.Bind(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, sock.WaitConnected(ctx))
	require.NoError(t, sock.Send(ctx, wire.NewExecuteRequest("1 + 1").Build()))

	hello := <-serverGot
	assert.Equal(t, wire.TypeIdentity, hello.Type)
	assert.Equal(t, "doc-1", hello.Content["identity"])

	req := <-serverGot
	assert.Equal(t, "1 + 1", req.Code())

	status, err := sock.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", status.Content["execution_state"])

	<-serverDone

	_, err = sock.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.False(t, sock.Connected())
	assert.ErrorIs(t, sock.Send(ctx, wire.New(wire.TypeStatus).Build()), transport.ErrNotConnected)

	assert.True(t, rec.has(transport.EventConnect))
	assert.True(t, rec.has(transport.EventClose))
}

func TestSocket_LateListenerEmitsRetryEvents(t *testing.T) {
	port := freePort(t)

	rec := &recorder{}
	sock := transport.NewSocket("iopub", transport.Config{
		BasePort:            port,
		MaxAttempts:         1,
		ConnectInitialDelay: config.Duration(20 * time.Millisecond),
		ConnectMaxDelay:     config.Duration(50 * time.Millisecond),
	}, transport.WithObserver(rec))
	defer sock.Dispose()

	got, err := sock.Bind(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, port, got)

	require.Eventually(t, func() bool { return rec.has(transport.EventConnectDelay) }, 5*time.Second, 5*time.Millisecond)

	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
		close(accepted)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sock.WaitConnected(ctx))

	if conn, ok := <-accepted; ok {
		defer conn.Close()
	}

	delay, retry, connect := rec.index(transport.EventConnectDelay), rec.index(transport.EventConnectRetry), rec.index(transport.EventConnect)
	assert.True(t, delay >= 0 && retry > delay && connect > retry, "events out of order: %v", rec.types())
}

func TestSocket_ConnectFailureReportsCloseError(t *testing.T) {
	refused := errors.New("connection refused")
	rec := &recorder{}
	sock := transport.NewSocket("control", transport.Config{
		BasePort:            41300,
		MaxConnectAttempts:  2,
		ConnectInitialDelay: config.Duration(time.Millisecond),
	},
		transport.WithProber(acceptAll),
		transport.WithDialer(failingDialer{err: refused}),
		transport.WithObserver(rec),
	)
	defer sock.Dispose()

	_, err := sock.Bind(context.Background(), nil)
	require.NoError(t, err)

	err = sock.WaitConnected(context.Background())

	var ne *transport.NetworkError
	require.ErrorAs(t, err, &ne)
	assert.Equal(t, "connect", ne.Op)
	assert.ErrorIs(t, err, refused)
	assert.ErrorIs(t, sock.Err(), refused)
	assert.True(t, rec.has(transport.EventCloseError))
}

type failingDialer struct {
	err error
}

func (d failingDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return nil, d.err
}
