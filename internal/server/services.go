// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package server

import (
	"log/slog"
	"sync"

	"github.com/danielgtaylor/huma/v2"

	"github.com/aegis-dev/aegis/internal/agent"
	"github.com/aegis-dev/aegis/internal/store"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// Services holds the server's domain dependencies.
type Services struct {
	Orchestrator *agent.Orchestrator
	Store        store.CheckpointStore
	Logger       *slog.Logger

	// Conversation state is confined to one session; concurrent chat
	// requests against the same session are serialized here.
	sessionMu sync.Map // session id -> *sync.Mutex
}

func (s *Services) lockSession(id string) func() {
	mu, _ := s.sessionMu.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (s *Services) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// mapError converts domain errors to huma status errors, keeping the
// machine-readable code in the response detail.
func mapError(err error) error {
	switch {
	case aegiserr.HasCode(err, aegiserr.CodeStoreSessionNotFound):
		return huma.Error404NotFound(err.Error())
	case aegiserr.HasCode(err, aegiserr.CodeStoreSessionConflict):
		return huma.Error409Conflict(err.Error())
	case aegiserr.HasCode(err, aegiserr.CodeStoreInvalidInput),
		aegiserr.HasCode(err, aegiserr.CodeAgentTurnInvalidInput):
		return huma.Error400BadRequest(err.Error())
	case aegiserr.IsRateLimited(err):
		return huma.Error429TooManyRequests(err.Error())
	default:
		return huma.Error500InternalServerError("internal error")
	}
}
