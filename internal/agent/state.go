// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package agent

import (
	"github.com/aegis-dev/aegis/internal/provider"
)

// PendingAction holds the destructive tool-call batch awaiting user
// confirmation, together with the assistant message that requested it so
// the exchange can be replayed after approval.
type PendingAction struct {
	Calls       []provider.ToolCall
	Originating provider.Message
}

// State is the mutable conversation record for one session. It is owned by
// exactly one session and never shared mutably across sessions.
type State struct {
	// History is the ordered message sequence. Append-only except for the
	// system message, which is replaced in place each turn. Invariant:
	// at most one system message, always first.
	History []provider.Message

	// IterationCount increments once per model invocation, never on other
	// steps.
	IterationCount int

	// PendingAction is set only while awaiting confirmation.
	PendingAction *PendingAction

	// AwaitingConfirmation is true only between a confirmation request and
	// its resolution.
	AwaitingConfirmation bool

	// ExecuteApproved is a transient signal set for exactly one transition
	// to trigger deferred execution, then cleared.
	ExecuteApproved bool

	// AvailableTools snapshots which tool names were exposed to the model
	// this turn.
	AvailableTools []string
}

// NewState creates an empty conversation state.
func NewState() *State {
	return &State{}
}

// SetSystemMessage inserts or replaces the leading system message.
func (s *State) SetSystemMessage(content string) {
	msg := provider.Message{Role: provider.MessageRoleSystem, Content: content}
	if len(s.History) > 0 && s.History[0].Role == provider.MessageRoleSystem {
		s.History[0] = msg
		return
	}
	s.History = append([]provider.Message{msg}, s.History...)
}

// Append adds messages to the history.
func (s *State) Append(msgs ...provider.Message) {
	s.History = append(s.History, msgs...)
}

// LatestUserText walks backwards to the most recent user message text.
func (s *State) LatestUserText() string {
	for i := len(s.History) - 1; i >= 0; i-- {
		if s.History[i].Role == provider.MessageRoleUser && s.History[i].Content != "" {
			return s.History[i].Content
		}
	}
	return ""
}

// chatMessages returns the history without the leading system message; the
// system prompt travels separately on the chat request.
func (s *State) chatMessages() []provider.Message {
	if len(s.History) > 0 && s.History[0].Role == provider.MessageRoleSystem {
		return s.History[1:]
	}
	return s.History
}

// Clone returns a deep copy, suitable for checkpoint stores that must not
// alias the live state.
func (s *State) Clone() *State {
	clone := &State{
		IterationCount:       s.IterationCount,
		AwaitingConfirmation: s.AwaitingConfirmation,
		ExecuteApproved:      s.ExecuteApproved,
	}
	clone.History = append([]provider.Message(nil), s.History...)
	clone.AvailableTools = append([]string(nil), s.AvailableTools...)
	if s.PendingAction != nil {
		clone.PendingAction = &PendingAction{
			Calls:       append([]provider.ToolCall(nil), s.PendingAction.Calls...),
			Originating: s.PendingAction.Originating,
		}
	}
	return clone
}
