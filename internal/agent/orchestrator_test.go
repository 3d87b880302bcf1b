// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-dev/aegis/internal/guard"
	"github.com/aegis-dev/aegis/internal/memory"
	"github.com/aegis-dev/aegis/internal/provider"
	"github.com/aegis-dev/aegis/internal/tools"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// scriptedBackend replays canned responses and records every request.
type scriptedBackend struct {
	responses []*provider.ChatResponse
	err       error
	requests  []provider.ChatRequest
}

func (b *scriptedBackend) Name() string { return "scripted" }
func (b *scriptedBackend) Close() error { return nil }

func (b *scriptedBackend) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	if len(b.responses) == 0 {
		return &provider.ChatResponse{Text: "done"}, nil
	}
	resp := b.responses[0]
	b.responses = b.responses[1:]
	return resp, nil
}

func textResponse(text string) *provider.ChatResponse {
	return &provider.ChatResponse{Text: text}
}

func toolCallResponse(text string, calls ...provider.ToolCall) *provider.ChatResponse {
	return &provider.ChatResponse{Text: text, ToolCalls: calls}
}

type fixture struct {
	orch    *Orchestrator
	backend *scriptedBackend
	audit   *bytes.Buffer
	sandbox string
}

func newFixture(t *testing.T, backend *scriptedBackend, mutate ...func(*Config)) *fixture {
	t.Helper()

	sandbox := t.TempDir()
	registry := tools.NewRegistry()
	fsTools, err := tools.NewFilesystemTools(sandbox)
	require.NoError(t, err)
	require.NoError(t, registry.RegisterAll(fsTools...))
	require.NoError(t, registry.Register(tools.NewCalculator()))

	limiter, err := guard.NewRateLimiter(guard.RateLimiterConfig{MaxCalls: 100, Window: time.Minute})
	require.NoError(t, err)

	auditBuf := &bytes.Buffer{}

	cfg := Config{
		Backend:     backend,
		Model:       "test-model",
		Registry:    registry,
		RateLimiter: limiter,
		Audit:       guard.NewAuditLogger(auditBuf),
		Gate: guard.NewGate(guard.GateConfig{
			DestructiveTools: []string{"write_file", "append_to_file", "create_directory"},
			SandboxRoot:      sandbox,
		}),
	}
	for _, m := range mutate {
		m(&cfg)
	}

	orch, err := New(cfg)
	require.NoError(t, err)
	return &fixture{orch: orch, backend: backend, audit: auditBuf, sandbox: sandbox}
}

func auditedTools(t *testing.T, buf *bytes.Buffer) []string {
	t.Helper()
	var names []string
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var record struct {
			Tool string `json:"tool"`
		}
		require.NoError(t, json.Unmarshal([]byte(line), &record))
		names = append(names, record.Tool)
	}
	return names
}

func TestTurnPlainAnswer(t *testing.T) {
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		textResponse("Hello! How can I help?"),
	}})
	state := NewState()

	out, err := f.orch.Turn(context.Background(), state, "hi")
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, provider.MessageRoleAssistant, out[0].Role)
	assert.Equal(t, "Hello! How can I help?", out[0].Content)
	assert.Equal(t, 1, state.IterationCount)
	assert.False(t, state.AwaitingConfirmation)
	assert.Empty(t, auditedTools(t, f.audit))
}

func TestTurnExecutesToolCallsAndAudits(t *testing.T) {
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("Let me calculate that.",
			provider.ToolCall{ID: "c1", Name: "calculator", Arguments: map[string]any{"expression": "2+2"}}),
		textResponse("The answer is 4."),
	}})
	state := NewState()

	out, err := f.orch.Turn(context.Background(), state, "what is 2+2?")
	require.NoError(t, err)

	// assistant tool request, tool result, final assistant answer
	require.Len(t, out, 3)
	assert.Equal(t, provider.MessageRoleTool, out[1].Role)
	assert.Equal(t, "c1", out[1].ToolCallID)
	assert.Equal(t, "4", out[1].Content)
	assert.Equal(t, "The answer is 4.", out[2].Content)

	assert.Equal(t, 2, state.IterationCount, "one increment per model invocation")
	assert.Equal(t, []string{"calculator"}, auditedTools(t, f.audit))
}

func TestIterationCountNeverIncrementsOnToolSteps(t *testing.T) {
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("",
			provider.ToolCall{ID: "c1", Name: "calculator", Arguments: map[string]any{"expression": "1+1"}},
			provider.ToolCall{ID: "c2", Name: "calculator", Arguments: map[string]any{"expression": "2+2"}}),
		textResponse("done"),
	}})
	state := NewState()

	_, err := f.orch.Turn(context.Background(), state, "math")
	require.NoError(t, err)
	assert.Equal(t, 2, state.IterationCount)
}

func TestDestructiveCallRequiresConfirmation(t *testing.T) {
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("I'll write the file.",
			provider.ToolCall{ID: "w1", Name: "write_file",
				Arguments: map[string]any{"path": "notes.txt", "content": "hello"}}),
	}})
	state := NewState()

	out, err := f.orch.Turn(context.Background(), state, "write hello to notes.txt")
	require.NoError(t, err)

	require.Len(t, out, 2)
	disclosure := out[1]
	assert.Equal(t, provider.KindDisclosure, disclosure.Kind)
	assert.Contains(t, disclosure.Content, "write_file")
	assert.Contains(t, disclosure.Content, "(new file)")
	assert.Contains(t, disclosure.Content, "Please confirm to proceed, or reply to cancel.")

	assert.True(t, state.AwaitingConfirmation)
	require.NotNil(t, state.PendingAction)
	assert.Equal(t, "w1", state.PendingAction.Calls[0].ID)

	assert.NoFileExists(t, filepath.Join(f.sandbox, "notes.txt"), "no tool runs before approval")
	assert.Empty(t, auditedTools(t, f.audit))
}

func TestApprovalExecutesPendingAction(t *testing.T) {
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("I'll write the file.",
			provider.ToolCall{ID: "w1", Name: "write_file",
				Arguments: map[string]any{"path": "notes.txt", "content": "hello"}}),
		textResponse("The file has been written."),
	}})
	state := NewState()

	_, err := f.orch.Turn(context.Background(), state, "write hello to notes.txt")
	require.NoError(t, err)

	out, err := f.orch.Turn(context.Background(), state, "yes")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(f.sandbox, "notes.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.Len(t, out, 2)
	assert.Equal(t, provider.MessageRoleTool, out[0].Role)
	assert.Equal(t, "w1", out[0].ToolCallID)
	assert.Contains(t, out[0].Content, "Wrote 5 characters")
	assert.Equal(t, "The file has been written.", out[1].Content)

	assert.Equal(t, []string{"write_file"}, auditedTools(t, f.audit))
	assert.Nil(t, state.PendingAction)
	assert.False(t, state.AwaitingConfirmation)
	assert.False(t, state.ExecuteApproved)

	// The approval reply and the disclosure are unwound; the replayed
	// exchange reads assistant tool request, then tool result.
	for _, msg := range state.History {
		assert.NotEqual(t, "yes", msg.Content)
		assert.NotEqual(t, provider.KindDisclosure, msg.Kind)
	}
}

func TestApprovalAcceptsCaseAndWhitespaceVariants(t *testing.T) {
	for _, reply := range []string{"YES", "  y  ", "Approve"} {
		f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
			toolCallResponse("",
				provider.ToolCall{ID: "w1", Name: "create_directory",
					Arguments: map[string]any{"path": "data"}}),
			textResponse("done"),
		}})
		state := NewState()

		_, err := f.orch.Turn(context.Background(), state, "make a data dir")
		require.NoError(t, err)

		_, err = f.orch.Turn(context.Background(), state, reply)
		require.NoError(t, err)
		assert.DirExists(t, filepath.Join(f.sandbox, "data"), "reply %q", reply)
	}
}

func TestDenialCancelsPendingAction(t *testing.T) {
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("",
			provider.ToolCall{ID: "w1", Name: "write_file",
				Arguments: map[string]any{"path": "notes.txt", "content": "hello"}}),
	}})
	state := NewState()

	_, err := f.orch.Turn(context.Background(), state, "write hello to notes.txt")
	require.NoError(t, err)

	out, err := f.orch.Turn(context.Background(), state, "no, don't do that")
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "Action cancelled.", out[0].Content)
	assert.Equal(t, provider.KindAdvisory, out[0].Kind)

	assert.Nil(t, state.PendingAction)
	assert.False(t, state.AwaitingConfirmation)
	assert.NoFileExists(t, filepath.Join(f.sandbox, "notes.txt"))
	assert.Empty(t, auditedTools(t, f.audit), "denied actions are never executed or logged")
}

func TestAwaitingConfirmationNeverInvokesModel(t *testing.T) {
	backend := &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("",
			provider.ToolCall{ID: "w1", Name: "write_file",
				Arguments: map[string]any{"path": "a.txt", "content": "x"}}),
	}}
	f := newFixture(t, backend)
	state := NewState()

	_, err := f.orch.Turn(context.Background(), state, "write a file")
	require.NoError(t, err)
	modelCalls := len(backend.requests)

	_, err = f.orch.Turn(context.Background(), state, "actually never mind")
	require.NoError(t, err)
	assert.Equal(t, modelCalls, len(backend.requests),
		"denial must resolve without a model invocation")
}

func TestIterationLimitStopsToolExecution(t *testing.T) {
	call := provider.ToolCall{ID: "c1", Name: "calculator", Arguments: map[string]any{"expression": "1+1"}}
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("", call),
		toolCallResponse("", provider.ToolCall{ID: "c2", Name: "calculator", Arguments: map[string]any{"expression": "2+2"}}),
	}}, func(cfg *Config) {
		cfg.MaxIterations = 2
	})
	state := NewState()

	out, err := f.orch.Turn(context.Background(), state, "keep calculating")
	require.NoError(t, err)

	last := out[len(out)-1]
	assert.Equal(t, provider.KindAdvisory, last.Kind)
	assert.Contains(t, last.Content, "Iteration limit of 2 reached")

	// The first round's call executed; the capped round's did not.
	assert.Equal(t, []string{"calculator"}, auditedTools(t, f.audit))
	assert.Equal(t, 2, state.IterationCount)
}

func TestRateLimitShortCircuitsBatch(t *testing.T) {
	calls := []provider.ToolCall{
		{ID: "c1", Name: "calculator", Arguments: map[string]any{"expression": "1+1"}},
		{ID: "c2", Name: "calculator", Arguments: map[string]any{"expression": "2+2"}},
		{ID: "c3", Name: "calculator", Arguments: map[string]any{"expression": "3+3"}},
	}
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("", calls...),
		textResponse("done"),
	}}, func(cfg *Config) {
		limiter, err := guard.NewRateLimiter(guard.RateLimiterConfig{MaxCalls: 1, Window: time.Minute})
		require.NoError(t, err)
		cfg.RateLimiter = limiter
	})
	state := NewState()

	out, err := f.orch.Turn(context.Background(), state, "lots of math")
	require.NoError(t, err)

	var toolMsgs []provider.Message
	for _, msg := range out {
		if msg.Role == provider.MessageRoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	require.Len(t, toolMsgs, 2, "calls after the first failure are not attempted")
	assert.Equal(t, "c1", toolMsgs[0].ToolCallID)
	assert.Equal(t, "2", toolMsgs[0].Content)
	assert.Equal(t, "c2", toolMsgs[1].ToolCallID)
	assert.Contains(t, toolMsgs[1].Content, "Rate limit exceeded")

	assert.Equal(t, []string{"calculator"}, auditedTools(t, f.audit),
		"only executed calls are audited")
}

func TestRateLimitMessageNamesConfiguredLimits(t *testing.T) {
	batch := make([]provider.ToolCall, 31)
	for i := range batch {
		batch[i] = provider.ToolCall{
			ID: "c" + strings.Repeat("x", i+1), Name: "calculator",
			Arguments: map[string]any{"expression": "1+1"},
		}
	}
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("", batch...),
		textResponse("done"),
	}}, func(cfg *Config) {
		limiter, err := guard.NewRateLimiter(guard.RateLimiterConfig{MaxCalls: 30, Window: 60 * time.Second})
		require.NoError(t, err)
		cfg.RateLimiter = limiter
	})
	state := NewState()

	out, err := f.orch.Turn(context.Background(), state, "hammer the calculator")
	require.NoError(t, err)

	var toolMsgs []provider.Message
	for _, msg := range out {
		if msg.Role == provider.MessageRoleTool {
			toolMsgs = append(toolMsgs, msg)
		}
	}
	require.Len(t, toolMsgs, 31)
	last := toolMsgs[30]
	assert.Equal(t, batch[30].ID, last.ToolCallID)
	assert.Contains(t, last.Content, "30")
	assert.Contains(t, last.Content, "60s")
	assert.Len(t, auditedTools(t, f.audit), 30)
}

func TestUnknownToolBecomesResultText(t *testing.T) {
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("", provider.ToolCall{ID: "u1", Name: "teleport", Arguments: map[string]any{}}),
		textResponse("sorry"),
	}})
	state := NewState()

	out, err := f.orch.Turn(context.Background(), state, "teleport me")
	require.NoError(t, err)

	require.Len(t, out, 3)
	assert.Equal(t, "Error: tool teleport is not available", out[1].Content)
}

func TestExecuteConfirmedWithoutPendingActionIsNoOp(t *testing.T) {
	f := newFixture(t, &scriptedBackend{})
	state := NewState()
	state.AwaitingConfirmation = true

	out, err := f.orch.Turn(context.Background(), state, "yes")
	require.NoError(t, err)

	require.Len(t, out, 1)
	assert.Equal(t, "No pending tool call to execute.", out[0].Content)
	assert.Equal(t, provider.KindAdvisory, out[0].Kind)
	assert.False(t, state.AwaitingConfirmation)
	assert.False(t, state.ExecuteApproved)
	assert.Empty(t, f.backend.requests, "defensive no-op must not invoke the model")
}

func TestSystemMessageInvariant(t *testing.T) {
	store, err := memory.NewStore(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)
	require.NoError(t, store.Update("preferences", "language", "Go"))

	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		textResponse("first"),
		textResponse("second"),
	}}, func(cfg *Config) {
		cfg.Memory = store
	})
	state := NewState()

	_, err = f.orch.Turn(context.Background(), state, "hello")
	require.NoError(t, err)
	_, err = f.orch.Turn(context.Background(), state, "hello again")
	require.NoError(t, err)

	systemCount := 0
	for _, msg := range state.History {
		if msg.Role == provider.MessageRoleSystem {
			systemCount++
		}
	}
	assert.Equal(t, 1, systemCount, "exactly one system message")
	assert.Equal(t, provider.MessageRoleSystem, state.History[0].Role)
	assert.Contains(t, state.History[0].Content, "Long-term memory:")
	assert.Contains(t, state.History[0].Content, "language: Go")

	// The system prompt travels on the request, not inside the message list.
	for _, req := range f.backend.requests {
		assert.Contains(t, req.SystemPrompt, "Long-term memory:")
		for _, msg := range req.Messages {
			assert.NotEqual(t, provider.MessageRoleSystem, msg.Role)
		}
	}
}

func TestAvailableToolsSnapshot(t *testing.T) {
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		textResponse("hi"),
	}})
	state := NewState()

	_, err := f.orch.Turn(context.Background(), state, "hello")
	require.NoError(t, err)

	assert.Equal(t, []string{
		"list_directory", "create_directory", "read_file", "write_file",
		"append_to_file", "calculator",
	}, state.AvailableTools)
}

func TestEmptyUserMessageRejected(t *testing.T) {
	f := newFixture(t, &scriptedBackend{})

	_, err := f.orch.Turn(context.Background(), NewState(), "   ")
	require.Error(t, err)
	assert.True(t, aegiserr.HasCode(err, aegiserr.CodeAgentTurnInvalidInput))
}

func TestBackendErrorPropagates(t *testing.T) {
	f := newFixture(t, &scriptedBackend{err: assert.AnError})
	state := NewState()

	_, err := f.orch.Turn(context.Background(), state, "hello")
	require.Error(t, err)
	assert.True(t, aegiserr.HasCode(err, aegiserr.CodeAgentBackendFailure))
	assert.Equal(t, 0, state.IterationCount, "failed invocations do not count")
}

func TestNonDestructiveBatchNeverAsksForConfirmation(t *testing.T) {
	f := newFixture(t, &scriptedBackend{responses: []*provider.ChatResponse{
		toolCallResponse("",
			provider.ToolCall{ID: "r1", Name: "read_file", Arguments: map[string]any{"path": "a.txt"}},
			provider.ToolCall{ID: "l1", Name: "list_directory", Arguments: map[string]any{}}),
		textResponse("done"),
	}})
	state := NewState()

	_, err := f.orch.Turn(context.Background(), state, "look around")
	require.NoError(t, err)
	assert.False(t, state.AwaitingConfirmation)
	assert.Nil(t, state.PendingAction)
}

func TestStateClone(t *testing.T) {
	state := NewState()
	state.Append(provider.Message{Role: provider.MessageRoleUser, Content: "hi"})
	state.IterationCount = 3
	state.PendingAction = &PendingAction{
		Calls: []provider.ToolCall{{ID: "c1", Name: "write_file"}},
	}

	clone := state.Clone()
	clone.History[0].Content = "changed"
	clone.PendingAction.Calls[0].Name = "changed"

	assert.Equal(t, "hi", state.History[0].Content)
	assert.Equal(t, "write_file", state.PendingAction.Calls[0].Name)
}
