package observability

import (
	"context"
	"sync"
	"sync/atomic"
)

// StreamObserver exposes events as a single ordered channel. It never blocks
// the emitter: when the buffer is full the event is dropped and counted.
type StreamObserver struct {
	events  chan Event
	dropped atomic.Int64

	mu     sync.RWMutex
	closed bool
}

// NewStreamObserver creates a StreamObserver with the given buffer size.
func NewStreamObserver(bufferSize int) *StreamObserver {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &StreamObserver{events: make(chan Event, bufferSize)}
}

func (s *StreamObserver) OnEvent(ctx context.Context, event Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return
	}

	select {
	case s.events <- event:
	default:
		s.dropped.Add(1)
	}
}

// Events returns the receive side of the stream. It is closed by Close.
func (s *StreamObserver) Events() <-chan Event {
	return s.events
}

// Dropped reports how many events were discarded because the buffer was full.
func (s *StreamObserver) Dropped() int64 {
	return s.dropped.Load()
}

// Close stops accepting events and closes the stream. Safe to call twice.
func (s *StreamObserver) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
}
