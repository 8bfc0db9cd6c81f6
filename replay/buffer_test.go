package replay_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t-kalinowski/positron/replay"
	"github.com/t-kalinowski/positron/wire"
)

type handle string

func (h handle) ID() string { return string(h) }

type creation struct {
	sessionID     string
	prerequisites []*wire.Envelope
	display       *wire.Envelope
}

type recordingCreator struct {
	mu    sync.Mutex
	calls []creation
	err   error
}

func (c *recordingCreator) CreateDisplayArtifact(ctx context.Context, sessionID string, prerequisites []*wire.Envelope, display *wire.Envelope) (replay.DisplayHandle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, creation{sessionID: sessionID, prerequisites: prerequisites, display: display})
	if c.err != nil {
		return nil, c.err
	}
	return handle("display-" + display.ID), nil
}

func fullBundle() map[string]any {
	return map[string]any{
		replay.MIMEHoloViewsExec: map[string]any{"id": "plot"},
		replay.MIMEHTML:          "<div></div>",
		replay.MIMEPlain:         ":Curve",
	}
}

func output(parentID string) *wire.Envelope {
	return wire.New(wire.TypeStream).Parent(parentID).Set("name", "stdout").Set("text", "setup").Build()
}

func display(parentID string) *wire.Envelope {
	return wire.NewDisplay(parentID, fullBundle()).Build()
}

func TestBuffer_Attach(t *testing.T) {
	b := replay.New(&recordingCreator{})

	assert.False(t, b.Attached("s1"))
	assert.True(t, b.Attach("s1"))
	assert.True(t, b.Attached("s1"))

	_, err := b.HandleOutput(context.Background(), "s1", output("p"))
	require.NoError(t, err)

	assert.False(t, b.Attach("s1"), "second attach is a no-op")
	assert.Len(t, b.Messages("s1"), 1, "second attach keeps the buffer")

	assert.True(t, b.Detach("s1"))
	assert.False(t, b.Detach("s1"))
	assert.Nil(t, b.Messages("s1"))
}

func TestBuffer_NonDisplayOutputIsBuffered(t *testing.T) {
	b := replay.New(&recordingCreator{})
	b.Attach("s1")
	ctx := context.Background()

	first, second := output("p1"), output("p2")
	h, err := b.HandleOutput(ctx, "s1", first)
	require.NoError(t, err)
	assert.Nil(t, h)
	_, err = b.HandleOutput(ctx, "s1", second)
	require.NoError(t, err)

	assert.Equal(t, []*wire.Envelope{first, second}, b.Messages("s1"))
}

func TestBuffer_DisplayReceivesBufferedOutput(t *testing.T) {
	creator := &recordingCreator{}
	b := replay.New(creator)
	b.Attach("s1")
	ctx := context.Background()

	setup := output("p1")
	_, err := b.HandleOutput(ctx, "s1", setup)
	require.NoError(t, err)

	plot := display("p2")
	h, err := b.HandleOutput(ctx, "s1", plot)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, "display-"+plot.ID, h.ID())

	require.Len(t, creator.calls, 1)
	assert.Equal(t, "s1", creator.calls[0].sessionID)
	assert.Equal(t, []*wire.Envelope{setup}, creator.calls[0].prerequisites)
	assert.Same(t, plot, creator.calls[0].display)

	assert.Empty(t, b.Messages("s1"), "display is not appended and the buffer is emptied")
}

func TestBuffer_PartialBundleIsNotDisplay(t *testing.T) {
	creator := &recordingCreator{}
	b := replay.New(creator)
	b.Attach("s1")

	partial := wire.NewDisplay("p1", map[string]any{
		replay.MIMEHTML:  "<div></div>",
		replay.MIMEPlain: "text",
	}).Build()

	_, err := b.HandleOutput(context.Background(), "s1", partial)
	require.NoError(t, err)

	assert.Empty(t, creator.calls)
	assert.Equal(t, []*wire.Envelope{partial}, b.Messages("s1"))
}

func TestBuffer_ActivationResetsOnMatchingOutput(t *testing.T) {
	creator := &recordingCreator{}
	b := replay.New(creator)
	b.Attach("s1")
	ctx := context.Background()

	stale := output("p0")
	_, err := b.HandleOutput(ctx, "s1", stale)
	require.NoError(t, err)

	b.HandleInputCode("s1", "P1", "import holoviews as hv\nhv.extension('bokeh')")
	marker, ok := b.PendingReset("s1")
	require.True(t, ok)
	assert.Equal(t, "P1", marker)

	// Output from another cell does not consume the marker.
	other := output("p9")
	_, err = b.HandleOutput(ctx, "s1", other)
	require.NoError(t, err)
	assert.Equal(t, []*wire.Envelope{stale, other}, b.Messages("s1"))

	fresh := output("P1")
	_, err = b.HandleOutput(ctx, "s1", fresh)
	require.NoError(t, err)

	assert.Equal(t, []*wire.Envelope{fresh}, b.Messages("s1"))
	_, ok = b.PendingReset("s1")
	assert.False(t, ok, "marker is consumed")
}

func TestBuffer_ResetThenDisplay(t *testing.T) {
	creator := &recordingCreator{}
	b := replay.New(creator)
	b.Attach("s1")
	ctx := context.Background()

	_, err := b.HandleOutput(ctx, "s1", output("p0"))
	require.NoError(t, err)

	b.HandleInput("s1", "P1", true)
	plot := display("P1")
	_, err = b.HandleOutput(ctx, "s1", plot)
	require.NoError(t, err)

	require.Len(t, creator.calls, 1)
	assert.Empty(t, creator.calls[0].prerequisites)
	assert.Empty(t, b.Messages("s1"))
}

func TestBuffer_NonActivationInputKeepsMarker(t *testing.T) {
	b := replay.New(&recordingCreator{})
	b.Attach("s1")

	b.HandleInput("s1", "P1", true)
	b.HandleInputCode("s1", "P2", "print(1)")

	marker, ok := b.PendingReset("s1")
	require.True(t, ok)
	assert.Equal(t, "P1", marker)

	b.HandleInput("s1", "P3", true)
	marker, _ = b.PendingReset("s1")
	assert.Equal(t, "P3", marker, "newer activation replaces the marker")
}

func TestBuffer_IsActivationCommand(t *testing.T) {
	b := replay.New(nil)

	tests := []struct {
		code string
		want bool
	}{
		{"hv.extension('bokeh')", true},
		{"# hv.extension()", true},
		{"x = 'hv.extension'", true},
		{"holoviews.extension('bokeh')", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, b.IsActivationCommand(tt.code))
		})
	}

	custom := replay.New(nil, replay.WithConfig(replay.Config{ActivationMarker: "pn.extension"}))
	assert.True(t, custom.IsActivationCommand("pn.extension()"))
	assert.False(t, custom.IsActivationCommand("hv.extension()"))
}

func TestBuffer_CustomDisplayTypes(t *testing.T) {
	creator := &recordingCreator{}
	b := replay.New(creator, replay.WithConfig(replay.Config{
		DisplayMIMETypes: []string{"application/vnd.bokehjs_exec.v0+json"},
	}))
	b.Attach("s1")

	env := wire.NewDisplay("p", map[string]any{"application/vnd.bokehjs_exec.v0+json": map[string]any{}}).Build()
	_, err := b.HandleOutput(context.Background(), "s1", env)
	require.NoError(t, err)

	assert.Len(t, creator.calls, 1)
	assert.False(t, b.IsDisplay(display("p")))
}

func TestBuffer_MissingBufferPanics(t *testing.T) {
	b := replay.New(&recordingCreator{})

	assert.PanicsWithError(t, "replay: no buffer for session ghost", func() {
		_, _ = b.HandleOutput(context.Background(), "ghost", output("p"))
	})

	b.Attach("s1")
	b.Detach("s1")
	assert.Panics(t, func() {
		_, _ = b.HandleOutput(context.Background(), "s1", output("p"))
	})
}

func TestBuffer_InputForUnattachedSessionIsIgnored(t *testing.T) {
	b := replay.New(&recordingCreator{})

	assert.NotPanics(t, func() { b.HandleInput("ghost", "P1", true) })
	_, ok := b.PendingReset("ghost")
	assert.False(t, ok)
}

func TestBuffer_CreatorFailure(t *testing.T) {
	broken := errors.New("renderer unavailable")
	creator := &recordingCreator{err: broken}
	b := replay.New(creator)
	b.Attach("s1")
	ctx := context.Background()

	_, err := b.HandleOutput(ctx, "s1", output("p1"))
	require.NoError(t, err)

	h, err := b.HandleOutput(ctx, "s1", display("p2"))
	assert.ErrorIs(t, err, broken)
	assert.Nil(t, h)
	assert.Empty(t, b.Messages("s1"))
}

func TestBuffer_MaxBufferedDropsOldest(t *testing.T) {
	b := replay.New(&recordingCreator{}, replay.WithConfig(replay.Config{MaxBuffered: 2}))
	b.Attach("s1")
	ctx := context.Background()

	envs := []*wire.Envelope{output("a"), output("b"), output("c")}
	for _, env := range envs {
		_, err := b.HandleOutput(ctx, "s1", env)
		require.NoError(t, err)
	}

	assert.Equal(t, envs[1:], b.Messages("s1"))
}

func TestBuffer_SessionsAreIndependent(t *testing.T) {
	creator := &recordingCreator{}
	b := replay.New(creator)
	b.Attach("s1")
	b.Attach("s2")
	ctx := context.Background()

	one := output("p")
	_, err := b.HandleOutput(ctx, "s1", one)
	require.NoError(t, err)
	_, err = b.HandleOutput(ctx, "s2", display("q"))
	require.NoError(t, err)

	require.Len(t, creator.calls, 1)
	assert.Empty(t, creator.calls[0].prerequisites)
	assert.Equal(t, []*wire.Envelope{one}, b.Messages("s1"))
}
