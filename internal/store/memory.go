// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/aegis-dev/aegis/internal/agent"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

func init() {
	RegisterBackend("memory", func(string) (CheckpointStore, error) {
		return NewMemStore(), nil
	})
}

// Compile-time interface check.
var _ CheckpointStore = (*MemStore)(nil)

// MemStore is the in-memory CheckpointStore. Checkpoints are deep-copied on
// both save and load, so callers and the store never share mutable state.
type MemStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	states   map[string]*agent.State
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[string]*Session),
		states:   make(map[string]*agent.State),
	}
}

func (s *MemStore) CreateSession(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return aegiserr.New(aegiserr.CodeStoreInvalidInput, "session must have an id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return aegiserr.Errorf(aegiserr.CodeStoreSessionConflict,
			"session %s already exists", session.ID)
	}

	copied := *session
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = time.Now().UTC()
	}
	copied.UpdatedAt = copied.CreatedAt
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemStore) GetSession(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, aegiserr.Errorf(aegiserr.CodeStoreSessionNotFound, "session %s not found", id)
	}
	copied := *session
	return &copied, nil
}

func (s *MemStore) ListSessions(_ context.Context) ([]*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		copied := *session
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemStore) DeleteSession(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[id]; !ok {
		return aegiserr.Errorf(aegiserr.CodeStoreSessionNotFound, "session %s not found", id)
	}
	delete(s.sessions, id)
	delete(s.states, id)
	return nil
}

func (s *MemStore) SaveState(_ context.Context, sessionID string, state *agent.State) error {
	if state == nil {
		return aegiserr.New(aegiserr.CodeStoreInvalidInput, "state must not be nil")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return aegiserr.Errorf(aegiserr.CodeStoreSessionNotFound, "session %s not found", sessionID)
	}
	s.states[sessionID] = state.Clone()
	session.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) LoadState(_ context.Context, sessionID string) (*agent.State, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return nil, aegiserr.Errorf(aegiserr.CodeStoreSessionNotFound, "session %s not found", sessionID)
	}
	state, ok := s.states[sessionID]
	if !ok {
		return agent.NewState(), nil
	}
	return state.Clone(), nil
}

func (s *MemStore) Close() error { return nil }
