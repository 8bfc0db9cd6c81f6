package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"github.com/t-kalinowski/positron/observability"
)

// Listener serves a handler on a bound address until its context ends.
type Listener struct {
	cfg      Config
	observer observability.Observer
	listener net.Listener
	server   *http.Server
}

// Listen binds cfg.Addr. The returned Listener does not accept requests
// until Serve is called.
func Listen(cfg Config, handler http.Handler, observer observability.Observer) (*Listener, error) {
	merged := DefaultConfig()
	merged.Merge(&cfg)

	ln, err := net.Listen("tcp", merged.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", merged.Addr, err)
	}

	return &Listener{
		cfg:      merged,
		observer: observability.OrNoOp(observer),
		listener: ln,
		server: &http.Server{
			Handler:           handler,
			ReadHeaderTimeout: merged.ReadHeaderTimeout.Std(),
		},
	}, nil
}

// Addr is the bound address, with the real port when Config.Addr asked for
// port 0.
func (l *Listener) Addr() string {
	return l.listener.Addr().String()
}

// Serve blocks until ctx is cancelled, then drains in-flight requests for
// at most ShutdownTimeout.
func (l *Listener) Serve(ctx context.Context) error {
	l.observer.OnEvent(ctx, observability.NewEvent(EventListen, observability.LevelInfo, "server", map[string]any{
		"addr": l.Addr(),
	}))

	errs := make(chan error, 1)
	go func() {
		errs <- l.server.Serve(l.listener)
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.cfg.ShutdownTimeout.Std())
	defer cancel()

	err := l.server.Shutdown(shutdownCtx)
	<-errs

	data := map[string]any{"addr": l.Addr()}
	level := observability.LevelInfo
	if err != nil {
		data["error"] = err
		level = observability.LevelWarning
	}
	l.observer.OnEvent(ctx, observability.NewEvent(EventStop, level, "server", data))
	return err
}
