// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package provider

import (
	"context"
)

// Backend is the boundary to an LLM chat backend. One Chat call is made per
// agent step; backend errors propagate to the turn's caller uncaught.
type Backend interface {
	Name() string
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
	Close() error
}

// ChatRequest represents a single request to the model backend.
type ChatRequest struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolDefinition
	Options      ChatOptions
}

// ChatOptions contains model configuration.
type ChatOptions struct {
	Temperature   *float32
	MaxTokens     int
	StopSequences []string
}

// ChatResponse is the backend's reply: assistant text plus zero or more
// requested tool calls.
type ChatResponse struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage
}

// MessageRole identifies the sender of a conversation message.
type MessageRole string

const (
	MessageRoleSystem    MessageRole = "system"
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleTool      MessageRole = "tool"
)

// MessageKind tags messages the orchestrator synthesizes itself, so that
// later steps can recognize them structurally instead of matching on text.
type MessageKind string

const (
	// KindDisclosure marks the assistant message asking the user to confirm
	// a destructive action.
	KindDisclosure MessageKind = "disclosure"
	// KindAdvisory marks fixed guardrail notices (iteration limit, cancelled
	// action, defensive no-ops).
	KindAdvisory MessageKind = "advisory"
)

// Message represents a single conversation message. Assistant messages may
// carry requested tool calls; tool messages carry the id and name of the
// call they answer.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
	ToolName   string
	Kind       MessageKind
}

// ToolCall represents a tool invocation requested by the model.
// Immutable once issued.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
}

// ToolDefinition describes a tool available to the agent.
type ToolDefinition struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Usage tracks token consumption for one backend call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
