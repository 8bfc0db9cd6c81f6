package host

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/t-kalinowski/positron/replay"
	"github.com/t-kalinowski/positron/wire"
)

// Artifact is a display message together with the buffered output needed
// to render it on its own.
type Artifact struct {
	ID            string
	SessionID     string
	Prerequisites []*wire.Envelope
	Display       *wire.Envelope
	Created       time.Time
}

// ArtifactStore keeps display artifacts in memory, grouped by session. It is
// the default replay.DisplayCreator.
type ArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
	bySession map[string][]string
}

func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{
		artifacts: make(map[string]*Artifact),
		bySession: make(map[string][]string),
	}
}

func (s *ArtifactStore) CreateDisplayArtifact(ctx context.Context, sessionID string, prerequisites []*wire.Envelope, display *wire.Envelope) (replay.DisplayHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a := &Artifact{
		ID:            uuid.Must(uuid.NewV7()).String(),
		SessionID:     sessionID,
		Prerequisites: slices.Clone(prerequisites),
		Display:       display,
		Created:       time.Now(),
	}

	s.mu.Lock()
	s.artifacts[a.ID] = a
	s.bySession[sessionID] = append(s.bySession[sessionID], a.ID)
	s.mu.Unlock()

	return artifactHandle{a.ID}, nil
}

func (s *ArtifactStore) Get(id string) (*Artifact, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	return a, ok
}

// Session returns a session's artifacts in creation order.
func (s *ArtifactStore) Session(sessionID string) []*Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.bySession[sessionID]
	out := make([]*Artifact, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.artifacts[id])
	}
	return out
}

// Forget drops a session's artifacts.
func (s *ArtifactStore) Forget(sessionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := s.bySession[sessionID]
	for _, id := range ids {
		delete(s.artifacts, id)
	}
	delete(s.bySession, sessionID)
	return len(ids)
}

type artifactHandle struct{ id string }

func (h artifactHandle) ID() string { return h.id }
