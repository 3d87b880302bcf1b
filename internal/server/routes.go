// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package server

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/aegis-dev/aegis/internal/provider"
	"github.com/aegis-dev/aegis/internal/store"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/api/v1/sessions",
		Summary:       "Create a conversation session",
		Tags:          []string{"sessions"},
		DefaultStatus: http.StatusCreated,
	}, s.handleCreateSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions",
		Summary:     "List sessions",
		Tags:        []string{"sessions"},
	}, s.handleListSessions)

	huma.Register(s.api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Get session details and history",
		Tags:        []string{"sessions"},
	}, s.handleGetSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "delete-session",
		Method:      http.MethodDelete,
		Path:        "/api/v1/sessions/{id}",
		Summary:     "Delete a session",
		Tags:        []string{"sessions"},
	}, s.handleDeleteSession)

	huma.Register(s.api, huma.Operation{
		OperationID: "send-message",
		Method:      http.MethodPost,
		Path:        "/api/v1/sessions/{id}/chat",
		Summary:     "Send a message and run one agent turn",
		Tags:        []string{"chat"},
	}, s.handleChat)
}

// --- Request/Response types ---

// MessageView is the wire form of one conversation message.
type MessageView struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []ToolCallView `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	Kind       string         `json:"kind,omitempty"`
}

// ToolCallView is the wire form of one requested tool call.
type ToolCallView struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// SessionView is the wire form of a session summary.
type SessionView struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type createSessionInput struct {
	Body struct {
		Title string `json:"title,omitempty" doc:"Optional human-readable session title"`
	}
}
type createSessionOutput struct {
	Body SessionView
}

type listSessionsOutput struct {
	Body struct {
		Sessions []SessionView `json:"sessions"`
	}
}

type sessionIDInput struct {
	ID string `path:"id"`
}

type getSessionOutput struct {
	Body struct {
		SessionView
		Messages             []MessageView `json:"messages"`
		IterationCount       int           `json:"iteration_count"`
		AwaitingConfirmation bool          `json:"awaiting_confirmation"`
	}
}

type chatInput struct {
	ID   string `path:"id"`
	Body struct {
		Message string `json:"message" minLength:"1" doc:"The user message for this turn"`
	}
}
type chatOutput struct {
	Body struct {
		Messages             []MessageView `json:"messages" doc:"Messages produced by this turn, in order"`
		AwaitingConfirmation bool          `json:"awaiting_confirmation"`
		IterationCount       int           `json:"iteration_count"`
	}
}

// --- Handlers ---

func (s *Server) handleCreateSession(ctx context.Context, in *createSessionInput) (*createSessionOutput, error) {
	session := &store.Session{
		ID:    uuid.NewString(),
		Title: in.Body.Title,
	}
	if err := s.services.Store.CreateSession(ctx, session); err != nil {
		s.services.log().Error("creating session failed", "error", err)
		return nil, mapError(err)
	}

	created, err := s.services.Store.GetSession(ctx, session.ID)
	if err != nil {
		return nil, mapError(err)
	}
	return &createSessionOutput{Body: sessionView(created)}, nil
}

func (s *Server) handleListSessions(ctx context.Context, _ *struct{}) (*listSessionsOutput, error) {
	sessions, err := s.services.Store.ListSessions(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	out := &listSessionsOutput{}
	out.Body.Sessions = make([]SessionView, 0, len(sessions))
	for _, session := range sessions {
		out.Body.Sessions = append(out.Body.Sessions, sessionView(session))
	}
	return out, nil
}

func (s *Server) handleGetSession(ctx context.Context, in *sessionIDInput) (*getSessionOutput, error) {
	session, err := s.services.Store.GetSession(ctx, in.ID)
	if err != nil {
		return nil, mapError(err)
	}
	state, err := s.services.Store.LoadState(ctx, in.ID)
	if err != nil {
		return nil, mapError(err)
	}

	out := &getSessionOutput{}
	out.Body.SessionView = sessionView(session)
	out.Body.Messages = messageViews(state.History)
	out.Body.IterationCount = state.IterationCount
	out.Body.AwaitingConfirmation = state.AwaitingConfirmation
	return out, nil
}

func (s *Server) handleDeleteSession(ctx context.Context, in *sessionIDInput) (*struct{}, error) {
	if err := s.services.Store.DeleteSession(ctx, in.ID); err != nil {
		return nil, mapError(err)
	}
	return nil, nil
}

func (s *Server) handleChat(ctx context.Context, in *chatInput) (*chatOutput, error) {
	unlock := s.services.lockSession(in.ID)
	defer unlock()

	state, err := s.services.Store.LoadState(ctx, in.ID)
	if err != nil {
		return nil, mapError(err)
	}

	produced, err := s.services.Orchestrator.Turn(ctx, state, in.Body.Message)
	if err != nil {
		s.services.log().Error("turn failed", "session", in.ID, "error", err)
		return nil, mapError(err)
	}

	if err := s.services.Store.SaveState(ctx, in.ID, state); err != nil {
		s.services.log().Error("saving checkpoint failed", "session", in.ID, "error", err)
		return nil, mapError(err)
	}

	out := &chatOutput{}
	out.Body.Messages = messageViews(produced)
	out.Body.AwaitingConfirmation = state.AwaitingConfirmation
	out.Body.IterationCount = state.IterationCount
	return out, nil
}

// --- Mapping helpers ---

func sessionView(s *store.Session) SessionView {
	return SessionView{
		ID:        s.ID,
		Title:     s.Title,
		CreatedAt: s.CreatedAt,
		UpdatedAt: s.UpdatedAt,
	}
}

func messageViews(msgs []provider.Message) []MessageView {
	out := make([]MessageView, 0, len(msgs))
	for _, msg := range msgs {
		view := MessageView{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
			ToolName:   msg.ToolName,
			Kind:       string(msg.Kind),
		}
		for _, call := range msg.ToolCalls {
			view.ToolCalls = append(view.ToolCalls, ToolCallView{
				ID:        call.ID,
				Name:      call.Name,
				Arguments: call.Arguments,
			})
		}
		out = append(out, view)
	}
	return out
}
