package channel

import (
	"context"
	"sync"
)

// Stream is a buffered, closable queue of inbound values. Push blocks while
// the buffer is full until ctx is done or the stream closes.
type Stream[T any] struct {
	ch     chan T
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
	once   sync.Once
}

func NewStream[T any](bufferSize int) *Stream[T] {
	return &Stream[T]{
		ch:   make(chan T, bufferSize),
		done: make(chan struct{}),
	}
}

func (s *Stream[T]) Push(ctx context.Context, value T) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrChannelClosed
	}

	select {
	case s.ch <- value:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrChannelClosed
	}
}

// C returns the receive side; it is closed by Close after buffered values.
func (s *Stream[T]) C() <-chan T {
	return s.ch
}

// Close wakes blocked pushers, then closes the receive side. Values already
// buffered remain readable.
func (s *Stream[T]) Close() {
	s.once.Do(func() { close(s.done) })

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
