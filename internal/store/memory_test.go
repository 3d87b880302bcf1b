// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-dev/aegis/internal/agent"
	"github.com/aegis-dev/aegis/internal/provider"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

func TestMemStoreSessionLifecycle(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, &Session{ID: "s1", Title: "first"}))

	err := s.CreateSession(ctx, &Session{ID: "s1"})
	require.Error(t, err)
	assert.True(t, aegiserr.HasCode(err, aegiserr.CodeStoreSessionConflict))

	got, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
	assert.False(t, got.CreatedAt.IsZero())

	require.NoError(t, s.DeleteSession(ctx, "s1"))
	_, err = s.GetSession(ctx, "s1")
	require.Error(t, err)
	assert.True(t, aegiserr.HasCode(err, aegiserr.CodeStoreSessionNotFound))

	err = s.DeleteSession(ctx, "s1")
	assert.True(t, aegiserr.HasCode(err, aegiserr.CodeStoreSessionNotFound))
}

func TestMemStoreListSessionsNewestFirst(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.CreateSession(ctx, &Session{ID: "old", CreatedAt: base}))
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "new", CreatedAt: base.Add(time.Hour)}))

	sessions, err := s.ListSessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].ID)
	assert.Equal(t, "old", sessions[1].ID)
}

func TestMemStoreCheckpointsDoNotAliasLiveState(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "s1"}))

	state := agent.NewState()
	state.Append(provider.Message{Role: provider.MessageRoleUser, Content: "hello"})
	require.NoError(t, s.SaveState(ctx, "s1", state))

	// Mutating the live state must not change the stored checkpoint.
	state.History[0].Content = "mutated"
	state.IterationCount = 9

	loaded, err := s.LoadState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hello", loaded.History[0].Content)
	assert.Equal(t, 0, loaded.IterationCount)

	// And mutating a loaded copy must not change a later load.
	loaded.History[0].Content = "also mutated"
	again, err := s.LoadState(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.History[0].Content)
}

func TestMemStoreLoadStateWithoutCheckpoint(t *testing.T) {
	s := NewMemStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, &Session{ID: "s1"}))

	state, err := s.LoadState(ctx, "s1")
	require.NoError(t, err)
	assert.Empty(t, state.History)

	_, err = s.LoadState(ctx, "missing")
	require.Error(t, err)
	assert.True(t, aegiserr.HasCode(err, aegiserr.CodeStoreSessionNotFound))
}

func TestFactoryResolvesRegisteredBackends(t *testing.T) {
	s, err := New(Config{})
	require.NoError(t, err)
	assert.IsType(t, &MemStore{}, s)

	_, err = New(Config{Backend: "bolt"})
	require.Error(t, err)
	assert.True(t, aegiserr.HasCode(err, aegiserr.CodeStoreInvalidInput))
}
