// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package store persists conversation sessions and their state checkpoints.
// Backends register themselves by name; the factory resolves the configured
// backend at startup.
package store

import (
	"context"
	"sync"
	"time"

	"github.com/aegis-dev/aegis/internal/agent"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// Session is the durable identity of one conversation.
type Session struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CheckpointStore persists sessions and one state checkpoint per session.
// Implementations must not alias the caller's State: saves and loads both
// deep-copy, so a stored checkpoint is immune to later mutation of the live
// conversation.
type CheckpointStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	ListSessions(ctx context.Context) ([]*Session, error)
	DeleteSession(ctx context.Context, id string) error

	// SaveState replaces the session's checkpoint.
	SaveState(ctx context.Context, sessionID string, state *agent.State) error
	// LoadState returns the session's checkpoint, or a fresh state when the
	// session exists but has never been checkpointed.
	LoadState(ctx context.Context, sessionID string) (*agent.State, error)

	Close() error
}

// Config selects and parameterizes a storage backend.
type Config struct {
	// Backend names a registered backend. Defaults to "memory".
	Backend string
	// Path is the backend's data location (a database file for sqlite);
	// ignored by the in-memory backend.
	Path string
}

// Factory creates a CheckpointStore from a data path.
type Factory func(path string) (CheckpointStore, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterBackend registers a factory for a named storage backend. Backend
// packages call this from init().
func RegisterBackend(name string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[name] = f
}

// New creates the configured CheckpointStore.
func New(cfg Config) (CheckpointStore, error) {
	backend := cfg.Backend
	if backend == "" {
		backend = "memory"
	}

	factoriesMu.RLock()
	factory, ok := factories[backend]
	factoriesMu.RUnlock()
	if !ok {
		return nil, aegiserr.Errorf(aegiserr.CodeStoreInvalidInput,
			"unsupported storage backend: %q", backend)
	}
	return factory(cfg.Path)
}
