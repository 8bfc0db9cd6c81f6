// Package replay buffers a session's output so stateful visual extensions
// can rebuild their context when a display arrives.
//
// Some notebook extensions (HoloViews, Bokeh) emit setup output in one cell
// and rely on it when a later cell renders. The Buffer keeps every output
// that has not yet been attached to a display; when an output carrying the
// full display MIME bundle arrives, the buffered outputs and the display are
// handed to a DisplayCreator together and the buffer starts over.
//
// Re-running the cell that activates the extension resets the buffer: the
// input's parent id is remembered, and the first output with that parent
// clears everything buffered before it. Activation is detected by a plain
// substring search of the input's source text (see IsActivationCommand).
package replay

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/t-kalinowski/positron/observability"
	"github.com/t-kalinowski/positron/wire"
)

// DisplayHandle identifies an artifact created by a DisplayCreator.
type DisplayHandle interface {
	ID() string
}

// DisplayCreator turns buffered outputs plus a display message into a
// rendered artifact. The Buffer does not know how artifacts are rendered.
type DisplayCreator interface {
	CreateDisplayArtifact(ctx context.Context, sessionID string, prerequisites []*wire.Envelope, display *wire.Envelope) (DisplayHandle, error)
}

// DisplayCreatorFunc adapts a function to DisplayCreator.
type DisplayCreatorFunc func(ctx context.Context, sessionID string, prerequisites []*wire.Envelope, display *wire.Envelope) (DisplayHandle, error)

func (f DisplayCreatorFunc) CreateDisplayArtifact(ctx context.Context, sessionID string, prerequisites []*wire.Envelope, display *wire.Envelope) (DisplayHandle, error) {
	return f(ctx, sessionID, prerequisites, display)
}

// Option configures a Buffer.
type Option func(*Buffer)

func WithConfig(cfg Config) Option {
	return func(b *Buffer) { b.cfg.Merge(&cfg) }
}

func WithObserver(o observability.Observer) Option {
	return func(b *Buffer) { b.observer = observability.OrNoOp(o) }
}

type window struct {
	messages  []*wire.Envelope
	marker    string
	hasMarker bool
}

// Buffer holds one replay window per attached session. Calls for a single
// session must be made in transport order; the router guarantees this by
// dispatching each session from one goroutine.
type Buffer struct {
	cfg      Config
	creator  DisplayCreator
	observer observability.Observer

	mu      sync.Mutex
	windows map[string]*window
}

// New creates a Buffer that hands displays to creator.
func New(creator DisplayCreator, opts ...Option) *Buffer {
	b := &Buffer{
		cfg:      DefaultConfig(),
		creator:  creator,
		observer: observability.NoOpObserver{},
		windows:  make(map[string]*window),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Attach starts tracking sessionID. It reports false, and changes nothing,
// when the session is already tracked.
func (b *Buffer) Attach(sessionID string) bool {
	b.mu.Lock()
	if _, exists := b.windows[sessionID]; exists {
		b.mu.Unlock()
		return false
	}
	b.windows[sessionID] = &window{}
	b.mu.Unlock()

	b.emit(context.Background(), EventAttach, observability.LevelVerbose, map[string]any{"session_id": sessionID})
	return true
}

// Detach drops the session's buffer and marker.
func (b *Buffer) Detach(sessionID string) bool {
	b.mu.Lock()
	w, exists := b.windows[sessionID]
	delete(b.windows, sessionID)
	b.mu.Unlock()

	if exists {
		b.emit(context.Background(), EventDetach, observability.LevelVerbose, map[string]any{
			"session_id": sessionID,
			"discarded":  len(w.messages),
		})
	}
	return exists
}

func (b *Buffer) Attached(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, exists := b.windows[sessionID]
	return exists
}

// IsActivationCommand reports whether source text activates the extension.
// This is a substring match, not a parse: the marker inside a comment or a
// string literal also counts, and an aliased call does not.
func (b *Buffer) IsActivationCommand(code string) bool {
	return b.cfg.ActivationMarker != "" && strings.Contains(code, b.cfg.ActivationMarker)
}

// IsDisplay reports whether env carries every display MIME type.
func (b *Buffer) IsDisplay(env *wire.Envelope) bool {
	data := env.Data()
	if data == nil || len(b.cfg.DisplayMIMETypes) == 0 {
		return false
	}
	for _, mime := range b.cfg.DisplayMIMETypes {
		if _, ok := data[mime]; !ok {
			return false
		}
	}
	return true
}

// HandleInput records parentID as the pending reset marker when
// isActivation is true, replacing any earlier marker. Inputs for sessions
// that are not attached are ignored.
func (b *Buffer) HandleInput(sessionID, parentID string, isActivation bool) {
	if !isActivation {
		return
	}

	b.mu.Lock()
	w, exists := b.windows[sessionID]
	if exists {
		w.marker = parentID
		w.hasMarker = true
	}
	b.mu.Unlock()

	if exists {
		b.emit(context.Background(), EventMarker, observability.LevelVerbose, map[string]any{
			"session_id": sessionID,
			"parent_id":  parentID,
		})
	}
}

// HandleInputCode applies IsActivationCommand to code and calls HandleInput.
func (b *Buffer) HandleInputCode(sessionID, parentID, code string) {
	b.HandleInput(sessionID, parentID, b.IsActivationCommand(code))
}

// HandleOutput processes one output message:
//
//  1. if its parent matches the pending marker, the buffer is cleared and
//     the marker consumed;
//  2. if it is a display message, the buffered outputs and the display are
//     passed to the DisplayCreator and the buffer is emptied;
//  3. otherwise it is appended to the buffer.
//
// A nil handle and nil error mean the message was buffered. Once handed to
// the creator, messages are not restored if it fails.
//
// HandleOutput panics with *MissingBufferError when sessionID is not
// attached: output must never outlive its session's routing.
func (b *Buffer) HandleOutput(ctx context.Context, sessionID string, env *wire.Envelope) (DisplayHandle, error) {
	b.mu.Lock()
	w, exists := b.windows[sessionID]
	if !exists {
		b.mu.Unlock()
		panic(&MissingBufferError{SessionID: sessionID})
	}

	reset := -1
	if w.hasMarker && w.marker == env.ParentID {
		reset = len(w.messages)
		w.messages = nil
		w.marker = ""
		w.hasMarker = false
	}

	if b.IsDisplay(env) {
		prerequisites := w.messages
		w.messages = nil
		b.mu.Unlock()

		b.reportReset(ctx, sessionID, env.ParentID, reset)
		return b.display(ctx, sessionID, prerequisites, env)
	}

	w.messages = append(w.messages, env)
	dropped := 0
	if b.cfg.MaxBuffered > 0 && len(w.messages) > b.cfg.MaxBuffered {
		dropped = len(w.messages) - b.cfg.MaxBuffered
		w.messages = slices.Clone(w.messages[dropped:])
	}
	b.mu.Unlock()

	b.reportReset(ctx, sessionID, env.ParentID, reset)
	if dropped > 0 {
		b.emit(ctx, EventOverflow, observability.LevelWarning, map[string]any{
			"session_id": sessionID,
			"dropped":    dropped,
		})
	}

	return nil, nil
}

// Messages returns a copy of the session's buffered outputs.
func (b *Buffer) Messages(sessionID string) []*wire.Envelope {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, exists := b.windows[sessionID]; exists {
		return slices.Clone(w.messages)
	}
	return nil
}

// PendingReset returns the session's reset marker, if one is set.
func (b *Buffer) PendingReset(sessionID string) (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if w, exists := b.windows[sessionID]; exists && w.hasMarker {
		return w.marker, true
	}
	return "", false
}

func (b *Buffer) display(ctx context.Context, sessionID string, prerequisites []*wire.Envelope, env *wire.Envelope) (DisplayHandle, error) {
	if b.creator == nil {
		return nil, nil
	}

	handle, err := b.creator.CreateDisplayArtifact(ctx, sessionID, prerequisites, env)
	if err != nil {
		b.emit(ctx, EventFailed, observability.LevelError, map[string]any{
			"session_id":    sessionID,
			"message_id":    env.ID,
			"prerequisites": len(prerequisites),
			"error":         err,
		})
		return nil, fmt.Errorf("create display for %s: %w", env.ID, err)
	}

	data := map[string]any{
		"session_id":    sessionID,
		"message_id":    env.ID,
		"prerequisites": len(prerequisites),
	}
	if handle != nil {
		data["display_id"] = handle.ID()
	}
	b.emit(ctx, EventDisplay, observability.LevelVerbose, data)

	return handle, nil
}

func (b *Buffer) reportReset(ctx context.Context, sessionID, parentID string, cleared int) {
	if cleared < 0 {
		return
	}
	b.emit(ctx, EventReset, observability.LevelVerbose, map[string]any{
		"session_id": sessionID,
		"parent_id":  parentID,
		"cleared":    cleared,
	})
}

func (b *Buffer) emit(ctx context.Context, typ observability.EventType, level observability.Level, data map[string]any) {
	b.observer.OnEvent(ctx, observability.NewEvent(typ, level, "replay.Buffer", data))
}
