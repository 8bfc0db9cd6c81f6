package transport

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"strconv"
	"syscall"
)

const (
	dynamicPortLow  = 1024
	dynamicPortHigh = 65535
)

// Prober checks whether a port can be used. It returns nil when the port is
// free, ErrPortInUse (possibly wrapped) when it is taken, and any other error
// when probing itself failed.
type Prober func(ctx context.Context, host string, port int) error

// Dialer opens the connection to a bound address. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ListenProber probes by briefly listening on the port.
func ListenProber(ctx context.Context, host string, port int) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) || errors.Is(err, syscall.EACCES) {
			return errors.Join(ErrPortInUse, err)
		}
		return err
	}
	return ln.Close()
}

// candidateStart picks the first port of a search of attempts ports.
func candidateStart(base, attempts int) int {
	if base > 0 {
		return base
	}
	span := dynamicPortHigh - dynamicPortLow - attempts
	if span <= 0 {
		return dynamicPortLow
	}
	return dynamicPortLow + rand.IntN(span)
}

// FindPort searches attempts consecutive ports starting at start, skipping
// excluded ones, and returns the first port the prober accepts.
func FindPort(ctx context.Context, host string, start, attempts int, excluded []int, probe Prober) (int, error) {
	skip := make(map[int]struct{}, len(excluded))
	for _, p := range excluded {
		skip[p] = struct{}{}
	}

	for i := range attempts {
		port := start + i
		if port > dynamicPortHigh {
			break
		}
		if _, ok := skip[port]; ok {
			continue
		}
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		err := probe(ctx, host, port)
		if err == nil {
			return port, nil
		}
		if !errors.Is(err, ErrPortInUse) {
			return 0, &NetworkError{Op: "probe", Addr: net.JoinHostPort(host, strconv.Itoa(port)), Err: err}
		}
	}

	return 0, &PortExhaustionError{
		Attempts: attempts,
		Excluded: len(excluded),
		First:    start,
		Last:     start + attempts - 1,
	}
}
