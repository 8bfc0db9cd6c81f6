package observability_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/t-kalinowski/positron/observability"
)

func TestLevel_String(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  string
	}{
		{name: "trace range", level: 1, want: "TRACE"},
		{name: "verbose maps to DEBUG", level: observability.LevelVerbose, want: "DEBUG"},
		{name: "info maps to INFO", level: observability.LevelInfo, want: "INFO"},
		{name: "warning maps to WARN", level: observability.LevelWarning, want: "WARN"},
		{name: "error maps to ERROR", level: observability.LevelError, want: "ERROR"},
		{name: "fatal range", level: 21, want: "FATAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("Level(%d).String() = %q, want %q", tt.level, got, tt.want)
			}
		})
	}
}

func TestLevel_SlogLevel(t *testing.T) {
	tests := []struct {
		name  string
		level observability.Level
		want  slog.Level
	}{
		{name: "verbose maps to Debug", level: observability.LevelVerbose, want: slog.LevelDebug},
		{name: "info maps to Info", level: observability.LevelInfo, want: slog.LevelInfo},
		{name: "warning maps to Warn", level: observability.LevelWarning, want: slog.LevelWarn},
		{name: "error maps to Error", level: observability.LevelError, want: slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.level.SlogLevel(); got != tt.want {
				t.Errorf("Level(%d).SlogLevel() = %v, want %v", tt.level, got, tt.want)
			}
		})
	}
}

func TestNewEvent_StampsTime(t *testing.T) {
	ev := observability.NewEvent("transport.connect", observability.LevelInfo, "transport.Socket", nil)
	if ev.Timestamp.IsZero() {
		t.Error("NewEvent should set a timestamp")
	}
	if ev.Type != "transport.connect" {
		t.Errorf("Type = %q, want transport.connect", ev.Type)
	}
}

func TestOrNoOp(t *testing.T) {
	if _, ok := observability.OrNoOp(nil).(observability.NoOpObserver); !ok {
		t.Error("OrNoOp(nil) should return a NoOpObserver")
	}

	capture := &captureObserver{}
	if got := observability.OrNoOp(capture); got != capture {
		t.Error("OrNoOp should return a non-nil observer unchanged")
	}
}

func TestMultiObserver_NilFiltering(t *testing.T) {
	first, second := &captureObserver{}, &captureObserver{}
	multi := observability.NewMultiObserver(nil, first, observability.NoOpObserver{}, nil, second)

	multi.OnEvent(context.Background(), observability.Event{Type: "session.start", Level: observability.LevelInfo})

	if len(first.all()) != 1 || len(second.all()) != 1 {
		t.Errorf("got %d and %d events, want 1 each", len(first.all()), len(second.all()))
	}
	if multi.Len() != 2 {
		t.Errorf("Len() = %d, want 2", multi.Len())
	}
}

func TestMultiObserver_Flattens(t *testing.T) {
	inner := observability.NewMultiObserver(&captureObserver{}, &captureObserver{})
	outer := observability.NewMultiObserver(inner, &captureObserver{})

	if outer.Len() != 3 {
		t.Errorf("Len() = %d, want 3", outer.Len())
	}
}

func TestMinLevel(t *testing.T) {
	capture := &captureObserver{}
	obs := observability.MinLevel(observability.LevelWarning, capture)
	ctx := context.Background()

	obs.OnEvent(ctx, observability.Event{Type: "router.drop", Level: observability.LevelVerbose})
	obs.OnEvent(ctx, observability.Event{Type: "transport.connect", Level: observability.LevelInfo})
	obs.OnEvent(ctx, observability.Event{Type: "transport.error", Level: observability.LevelError})

	got := capture.all()
	if len(got) != 1 || got[0].Type != "transport.error" {
		t.Errorf("MinLevel passed %v, want only transport.error", got)
	}

	observability.MinLevel(observability.LevelInfo, nil).OnEvent(ctx, observability.Event{Level: observability.LevelError})
}

func TestSlogObserver_Attributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	obs := observability.NewSlogObserver(logger)
	obs.OnEvent(context.Background(), observability.NewEvent(
		"transport.close_error",
		observability.LevelWarning,
		"transport.Socket",
		map[string]any{
			"address": "tcp://127.0.0.1:9001",
			"error":   errors.New("connection reset"),
		},
	))

	output := buf.String()
	for _, want := range []string{"transport.close_error", "source=transport.Socket", "127.0.0.1:9001", "connection reset"} {
		if !strings.Contains(output, want) {
			t.Errorf("log output missing %q: %s", want, output)
		}
	}
}

func TestSlogObserver_RespectsHandlerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))

	obs := observability.NewSlogObserver(logger)
	obs.OnEvent(context.Background(), observability.Event{Type: "router.route", Level: observability.LevelVerbose})

	if buf.Len() != 0 {
		t.Errorf("verbose event should be filtered at warn level, got %q", buf.String())
	}
}

func TestStreamObserver_OrderAndDrops(t *testing.T) {
	stream := observability.NewStreamObserver(2)
	ctx := context.Background()

	stream.OnEvent(ctx, observability.Event{Type: "a"})
	stream.OnEvent(ctx, observability.Event{Type: "b"})
	stream.OnEvent(ctx, observability.Event{Type: "c"})

	if got := stream.Dropped(); got != 1 {
		t.Errorf("Dropped() = %d, want 1", got)
	}

	stream.Close()
	stream.Close()
	stream.OnEvent(ctx, observability.Event{Type: "d"})

	var types []string
	for ev := range stream.Events() {
		types = append(types, string(ev.Type))
	}
	if strings.Join(types, ",") != "a,b" {
		t.Errorf("stream order = %v, want [a b]", types)
	}
}

func TestRegistry_GetObserver(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{name: "noop exists", key: "noop"},
		{name: "slog exists", key: "slog"},
		{name: "json exists", key: "json"},
		{name: "unknown fails", key: "nonexistent", wantErr: true},
		{name: "one unknown in a list fails", key: "slog,nonexistent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obs, err := observability.GetObserver(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("GetObserver(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, observability.ErrUnknownObserver) {
				t.Errorf("GetObserver(%q) error = %v, want ErrUnknownObserver", tt.key, err)
			}
			if !tt.wantErr && obs == nil {
				t.Errorf("GetObserver(%q) returned nil observer", tt.key)
			}
		})
	}
}

func TestRegistry_CombinedNames(t *testing.T) {
	first, second := &captureObserver{}, &captureObserver{}
	observability.RegisterObserver("test-first", first)
	observability.RegisterObserver("test-second", second)

	obs, err := observability.GetObserver("test-first, test-second")
	if err != nil {
		t.Fatalf("GetObserver: %v", err)
	}
	if _, ok := obs.(*observability.MultiObserver); !ok {
		t.Fatalf("GetObserver returned %T, want *MultiObserver", obs)
	}

	obs.OnEvent(context.Background(), observability.Event{Type: "host.close"})
	if len(first.all()) != 1 || len(second.all()) != 1 {
		t.Errorf("got %d and %d events, want 1 each", len(first.all()), len(second.all()))
	}
}

func TestRegistry_RegisterAndNames(t *testing.T) {
	observability.RegisterObserver("test-capture", &captureObserver{})

	names := observability.ObserverNames()
	if !strings.Contains(strings.Join(names, ","), "test-capture") {
		t.Errorf("ObserverNames() = %v, want it to include test-capture", names)
	}
}

type captureObserver struct {
	mu     sync.Mutex
	events []observability.Event
}

func (c *captureObserver) OnEvent(ctx context.Context, event observability.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureObserver) all() []observability.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]observability.Event(nil), c.events...)
}
