package session

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/t-kalinowski/positron/observability"
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

func WithObserver(o observability.Observer) RegistryOption {
	return func(r *Registry) { r.observer = observability.OrNoOp(o) }
}

// WithOnStart registers a function called, under the document's lock, each
// time a newly launched session is registered.
func WithOnStart(fn func(Session)) RegistryOption {
	return func(r *Registry) { r.onStart = fn }
}

// WithOnStop registers a function called once for every session removed
// from the registry, whether it was shut down or ended on its own.
func WithOnStop(fn func(Session)) RegistryOption {
	return func(r *Registry) { r.onStop = fn }
}

type docLock struct {
	mu   sync.Mutex
	refs int
}

// Registry owns at most one live session per document. Start and shutdown
// for the same document are serialized; different documents proceed
// independently.
type Registry struct {
	launcher Launcher
	observer observability.Observer
	onStart  func(Session)
	onStop   func(Session)

	mu       sync.Mutex
	sessions map[DocumentID]Session
	locks    map[DocumentID]*docLock
	closed   bool

	stop     chan struct{}
	watchers sync.WaitGroup
}

// NewRegistry creates an empty Registry that launches sessions with launcher.
func NewRegistry(launcher Launcher, opts ...RegistryOption) *Registry {
	r := &Registry{
		launcher: launcher,
		observer: observability.NoOpObserver{},
		sessions: make(map[DocumentID]Session),
		locks:    make(map[DocumentID]*docLock),
		stop:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// StartSession returns the document's live session, launching one if there
// is none. A failed launch leaves no mapping behind.
func (r *Registry) StartSession(ctx context.Context, doc DocumentID, rt RuntimeID) (Session, error) {
	unlock, err := r.lock(doc)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if s, ok := r.GetSession(doc); ok && Live(s) {
		r.emit(ctx, EventRegistryReuse, observability.LevelVerbose, doc, map[string]any{"session_id": s.ID()})
		return s, nil
	}

	return r.start(ctx, doc, rt)
}

// ShutdownSession shuts down the document's session. It is a no-op, and
// returns nil, when the document has none. The mapping is removed even when
// the shutdown fails; the failure is reported and returned.
func (r *Registry) ShutdownSession(ctx context.Context, doc DocumentID) error {
	unlock, err := r.lock(doc)
	if err != nil {
		return nil
	}
	defer unlock()

	return r.shutdown(ctx, doc)
}

// RestartSession shuts down the document's session, if any, and starts a
// new one under the same lock. A failed shutdown is reported but does not
// prevent the new launch.
func (r *Registry) RestartSession(ctx context.Context, doc DocumentID, rt RuntimeID) (Session, error) {
	unlock, err := r.lock(doc)
	if err != nil {
		return nil, err
	}
	defer unlock()

	_ = r.shutdown(ctx, doc)
	return r.start(ctx, doc, rt)
}

// GetSession returns the session mapped to doc.
func (r *Registry) GetSession(doc DocumentID) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[doc]
	return s, ok
}

// Sessions returns every mapped session, ordered by document.
func (r *Registry) Sessions() []Session {
	r.mu.Lock()
	docs := make([]DocumentID, 0, len(r.sessions))
	for doc := range r.sessions {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i] < docs[j] })

	sessions := make([]Session, len(docs))
	for i, doc := range docs {
		sessions[i] = r.sessions[doc]
	}
	r.mu.Unlock()

	return sessions
}

// Close shuts down every session concurrently and rejects further starts.
// The registry is empty afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	close(r.stop)

	sessions := make(map[DocumentID]Session, len(r.sessions))
	for doc, s := range r.sessions {
		sessions[doc] = s
	}
	clear(r.sessions)
	r.mu.Unlock()

	r.watchers.Wait()

	var g errgroup.Group
	for doc, s := range sessions {
		g.Go(func() error {
			err := s.Shutdown(ctx)
			r.stopped(s)
			if err != nil {
				r.emit(ctx, EventRegistryShutdownError, observability.LevelError, doc, map[string]any{
					"session_id": s.ID(),
					"error":      err,
				})
				return fmt.Errorf("shutdown %s: %w", doc, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (r *Registry) start(ctx context.Context, doc DocumentID, rt RuntimeID) (Session, error) {
	s, err := r.launcher.Launch(ctx, doc, rt)
	if err != nil {
		r.emit(ctx, EventRegistryStartError, observability.LevelError, doc, map[string]any{
			"runtime": rt.String(),
			"error":   err,
		})
		return nil, err
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		_ = s.Shutdown(ctx)
		return nil, ErrRegistryClosed
	}
	if existing, ok := r.sessions[doc]; ok && Live(existing) {
		r.mu.Unlock()
		dup := &DuplicateSessionError{DocumentID: doc, Existing: existing.ID(), Duplicate: s.ID()}
		r.emit(ctx, EventRegistryDuplicate, observability.LevelError, doc, map[string]any{"error": dup})
		_ = s.Shutdown(ctx)
		return nil, dup
	}
	stale, hadStale := r.sessions[doc]
	r.sessions[doc] = s
	r.watchers.Add(1)
	r.mu.Unlock()

	if hadStale {
		r.stopped(stale)
	}

	go r.watch(doc, s)

	if r.onStart != nil {
		r.onStart(s)
	}

	r.emit(ctx, EventRegistryStart, observability.LevelInfo, doc, map[string]any{
		"session_id": s.ID(),
		"runtime":    rt.String(),
	})
	return s, nil
}

func (r *Registry) shutdown(ctx context.Context, doc DocumentID) error {
	s, ok := r.GetSession(doc)
	if !ok {
		return nil
	}

	r.remove(doc, s)

	if err := s.Shutdown(ctx); err != nil {
		r.emit(ctx, EventRegistryShutdownError, observability.LevelError, doc, map[string]any{
			"session_id": s.ID(),
			"error":      err,
		})
		return fmt.Errorf("shutdown session %s: %w", s.ID(), err)
	}

	r.emit(ctx, EventRegistryShutdown, observability.LevelInfo, doc, map[string]any{"session_id": s.ID()})
	return nil
}

// watch removes the mapping when s ends on its own.
func (r *Registry) watch(doc DocumentID, s Session) {
	defer r.watchers.Done()

	select {
	case <-s.Done():
		if r.remove(doc, s) {
			data := map[string]any{"session_id": s.ID()}
			if err := s.Err(); err != nil {
				data["error"] = err
			}
			r.emit(context.Background(), EventRegistryRemoved, observability.LevelWarning, doc, data)
		}
	case <-r.stop:
	}
}

// remove deletes the mapping only if it still points at s. It reports
// whether it did.
func (r *Registry) remove(doc DocumentID, s Session) bool {
	r.mu.Lock()
	current, ok := r.sessions[doc]
	removed := ok && current == s
	if removed {
		delete(r.sessions, doc)
	}
	r.mu.Unlock()

	if removed {
		r.stopped(s)
	}
	return removed
}

func (r *Registry) stopped(s Session) {
	if r.onStop != nil {
		r.onStop(s)
	}
}

func (r *Registry) lock(doc DocumentID) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	l, ok := r.locks[doc]
	if !ok {
		l = &docLock{}
		r.locks[doc] = l
	}
	l.refs++
	r.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()

		r.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(r.locks, doc)
		}
		r.mu.Unlock()
	}, nil
}

func (r *Registry) emit(ctx context.Context, typ observability.EventType, level observability.Level, doc DocumentID, data map[string]any) {
	data["document_id"] = string(doc)
	r.observer.OnEvent(ctx, observability.NewEvent(typ, level, "session.Registry", data))
}
