// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package agent implements the conversational turn orchestrator: a small
// state machine that drives the model, tool execution, and the guardrails
// around them.
package agent

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aegis-dev/aegis/internal/guard"
	"github.com/aegis-dev/aegis/internal/memory"
	"github.com/aegis-dev/aegis/internal/provider"
	"github.com/aegis-dev/aegis/internal/toolindex"
	"github.com/aegis-dev/aegis/internal/tools"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

const (
	defaultMaxIterations = 10
	defaultTopK          = 3

	// DefaultSystemPrompt is the static base of the system message; the
	// orchestrator appends a live rendering of long-term memory each turn.
	DefaultSystemPrompt = "You are a helpful AI assistant with access to a set of tools. " +
		"Use the tools when appropriate to answer the user's questions. " +
		"Think step by step and explain your reasoning. " +
		"When you use a tool, explain why you chose it and what you expect to learn."

	cancelledAdvisory = "Action cancelled."
	noPendingAdvisory = "No pending tool call to execute."
)

// approvalReplies are the confirmation replies accepted case-insensitively.
var approvalReplies = map[string]struct{}{"yes": {}, "y": {}, "approve": {}}

func isApproval(text string) bool {
	_, ok := approvalReplies[strings.ToLower(strings.TrimSpace(text))]
	return ok
}

// Config holds the orchestrator's injected dependencies. RateLimiter and
// AuditLogger are shared process-wide across sessions; everything else is
// read-only after construction.
type Config struct {
	Backend      provider.Backend
	Model        string
	SystemPrompt string
	Temperature  *float32

	// MaxIterations caps model invocations per session. Defaults to 10.
	MaxIterations int

	Registry *tools.Registry
	// Index enables semantic tool retrieval; nil binds the full tool set.
	Index *toolindex.Index
	// TopK is the number of tools retrieved per query. Defaults to 3.
	TopK int

	RateLimiter *guard.RateLimiter
	Audit       *guard.AuditLogger
	Gate        *guard.Gate

	// Memory enriches the system prompt; nil disables it.
	Memory *memory.Store

	Logger *slog.Logger
}

// Orchestrator executes conversation turns against one model backend.
// It is safe for concurrent use by independent sessions as long as each
// State is confined to one session.
type Orchestrator struct {
	backend       provider.Backend
	model         string
	systemPrompt  string
	temperature   *float32
	maxIterations int

	registry *tools.Registry
	index    *toolindex.Index
	topK     int

	limiter *guard.RateLimiter
	audit   *guard.AuditLogger
	gate    *guard.Gate
	memory  *memory.Store

	log *slog.Logger
}

// New creates an Orchestrator, applying defaults for unset optional fields.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Backend == nil {
		return nil, aegiserr.New(aegiserr.CodeAgentTurnInvalidInput, "Backend is required")
	}
	if cfg.Registry == nil {
		return nil, aegiserr.New(aegiserr.CodeAgentTurnInvalidInput, "Registry is required")
	}
	if cfg.RateLimiter == nil {
		return nil, aegiserr.New(aegiserr.CodeAgentTurnInvalidInput, "RateLimiter is required")
	}
	if cfg.Audit == nil {
		return nil, aegiserr.New(aegiserr.CodeAgentTurnInvalidInput, "Audit is required")
	}
	if cfg.Gate == nil {
		return nil, aegiserr.New(aegiserr.CodeAgentTurnInvalidInput, "Gate is required")
	}

	o := &Orchestrator{
		backend:       cfg.Backend,
		model:         cfg.Model,
		systemPrompt:  cfg.SystemPrompt,
		temperature:   cfg.Temperature,
		maxIterations: cfg.MaxIterations,
		registry:      cfg.Registry,
		index:         cfg.Index,
		topK:          cfg.TopK,
		limiter:       cfg.RateLimiter,
		audit:         cfg.Audit,
		gate:          cfg.Gate,
		memory:        cfg.Memory,
		log:           cfg.Logger,
	}
	if o.systemPrompt == "" {
		o.systemPrompt = DefaultSystemPrompt
	}
	if o.maxIterations <= 0 {
		o.maxIterations = defaultMaxIterations
	}
	if o.topK <= 0 {
		o.topK = defaultTopK
	}
	if o.log == nil {
		o.log = slog.Default()
	}
	return o, nil
}

// Turn runs one full pass of the state machine for a single user message
// and returns the messages produced for the caller, in order. The turn ends
// when the model settles without tool calls, a guardrail halts it, or a
// destructive action is parked awaiting confirmation.
func (o *Orchestrator) Turn(ctx context.Context, state *State, userText string) ([]provider.Message, error) {
	if state == nil {
		return nil, aegiserr.New(aegiserr.CodeAgentTurnInvalidInput, "state is required")
	}
	if strings.TrimSpace(userText) == "" {
		return nil, aegiserr.New(aegiserr.CodeAgentTurnInvalidInput, "user message must not be empty")
	}

	state.Append(provider.Message{Role: provider.MessageRoleUser, Content: userText})

	var emitted []provider.Message
	emit := func(msg provider.Message) {
		state.Append(msg)
		emitted = append(emitted, msg)
	}

	// A conversation parked on a confirmation never re-invokes the model;
	// the reply is routed to the confirmation handler first.
	if state.AwaitingConfirmation {
		if !isApproval(userText) {
			emit(provider.Message{
				Role:    provider.MessageRoleAssistant,
				Content: cancelledAdvisory,
				Kind:    provider.KindAdvisory,
			})
			state.PendingAction = nil
			state.AwaitingConfirmation = false
			return emitted, nil
		}

		state.ExecuteApproved = true
		state.AwaitingConfirmation = false

		results, halted := o.executeConfirmed(ctx, state)
		emitted = append(emitted, results...)
		if halted {
			return emitted, nil
		}
	}

	for {
		assistant, err := o.agentStep(ctx, state)
		if err != nil {
			return emitted, err
		}
		emitted = append(emitted, assistant)

		// No requested tool calls: the conversation is settled this turn.
		if len(assistant.ToolCalls) == 0 {
			return emitted, nil
		}

		if state.IterationCount >= o.maxIterations {
			emit(o.iterationLimitAdvisory())
			return emitted, nil
		}

		if prompt, needed := o.gate.Decide(assistant.ToolCalls); needed {
			state.PendingAction = &PendingAction{
				Calls:       assistant.ToolCalls,
				Originating: assistant,
			}
			emit(provider.Message{
				Role:    provider.MessageRoleAssistant,
				Content: prompt,
				Kind:    provider.KindDisclosure,
			})
			state.AwaitingConfirmation = true
			return emitted, nil
		}

		emitted = append(emitted, o.runCalls(ctx, state, assistant.ToolCalls)...)
	}
}

// agentStep performs exactly one model invocation: refresh the system
// message with current memory, bind the relevant tools, call the backend,
// append its response, and bump the iteration counter.
func (o *Orchestrator) agentStep(ctx context.Context, state *State) (provider.Message, error) {
	prompt := o.systemPrompt
	if o.memory != nil {
		summary, err := o.memory.Render()
		switch {
		case err != nil:
			o.log.Warn("rendering long-term memory failed", "error", err)
		case summary != "":
			prompt = prompt + "\n\n" + summary
		}
	}
	state.SetSystemMessage(prompt)

	defs := o.selectTools(ctx, state)
	names := make([]string, 0, len(defs))
	for _, def := range defs {
		names = append(names, def.Name)
	}
	state.AvailableTools = names

	resp, err := o.backend.Chat(ctx, provider.ChatRequest{
		Model:        o.model,
		SystemPrompt: prompt,
		Messages:     state.chatMessages(),
		Tools:        defs,
		Options:      provider.ChatOptions{Temperature: o.temperature},
	})
	if err != nil {
		return provider.Message{}, aegiserr.Wrapf(err, aegiserr.CodeAgentBackendFailure,
			"model backend call failed")
	}

	assistant := provider.Message{
		Role:      provider.MessageRoleAssistant,
		Content:   resp.Text,
		ToolCalls: resp.ToolCalls,
	}
	state.Append(assistant)
	state.IterationCount++
	return assistant, nil
}

// selectTools binds the top-k tools relevant to the latest user message when
// retrieval is enabled, and the full set otherwise. Retrieval failures fall
// back to the full set rather than failing the turn.
func (o *Orchestrator) selectTools(ctx context.Context, state *State) []provider.ToolDefinition {
	if o.index == nil {
		return o.registry.Definitions()
	}

	defs, err := o.index.Retrieve(ctx, state.LatestUserText(), o.topK)
	if err != nil {
		o.log.Warn("tool retrieval failed, binding full tool set", "error", err)
		return o.registry.Definitions()
	}
	if len(defs) == 0 {
		return o.registry.Definitions()
	}
	return defs
}

// runCalls executes a tool-call batch sequentially under the shared rate
// limiter, appending one tool-result message and one audit record per call
// in request order. On the first admission failure the limiter's message is
// attributed to that call and the remaining calls are abandoned; calls that
// already executed are never rolled back.
func (o *Orchestrator) runCalls(ctx context.Context, state *State, calls []provider.ToolCall) []provider.Message {
	var out []provider.Message
	for _, call := range calls {
		if err := o.limiter.Check(); err != nil {
			o.log.Warn("tool call rejected by rate limiter",
				"tool", call.Name, "call_id", call.ID)
			msg := toolResult(call, err.Error())
			state.Append(msg)
			out = append(out, msg)
			break
		}

		result := o.executeCall(ctx, call)
		msg := toolResult(call, result)
		state.Append(msg)
		out = append(out, msg)

		if err := o.audit.Log(call.Name, call.Arguments, result); err != nil {
			o.log.Warn("audit append failed", "tool", call.Name, "error", err)
		}
	}
	return out
}

// executeCall runs one tool. Tool-reported problems and unknown tools both
// become result text; the model decides how to react.
func (o *Orchestrator) executeCall(ctx context.Context, call provider.ToolCall) string {
	tool, ok := o.registry.Get(call.Name)
	if !ok {
		o.log.Warn("model requested unknown tool", "tool", call.Name)
		return "Error: tool " + call.Name + " is not available"
	}

	result, err := tool.Execute(ctx, call.Arguments)
	if err != nil {
		o.log.Error("tool execution failed", "tool", call.Name, "error", err)
		return "Error executing tool: " + err.Error()
	}
	return result
}

// executeConfirmed replays the approved destructive batch. It unwinds the
// confirmation exchange from history (at most one approval and one
// disclosure, only if they match the expected shape), restores the
// originating assistant message, and runs the stored calls under the normal
// rate-limit-then-execute-then-log contract. All confirmation flags are
// cleared unconditionally. The returned bool reports whether the turn ends
// here instead of returning to the model.
func (o *Orchestrator) executeConfirmed(ctx context.Context, state *State) ([]provider.Message, bool) {
	defer func() {
		state.PendingAction = nil
		state.AwaitingConfirmation = false
		state.ExecuteApproved = false
	}()

	pending := state.PendingAction
	if pending == nil {
		// Unreachable given the transition guards; degrade to a no-op
		// rather than corrupting history.
		msg := provider.Message{
			Role:    provider.MessageRoleAssistant,
			Content: noPendingAdvisory,
			Kind:    provider.KindAdvisory,
		}
		state.Append(msg)
		return []provider.Message{msg}, true
	}

	o.popApproval(state)
	o.popDisclosure(state)

	if !endsWithOriginating(state, pending) {
		state.Append(pending.Originating)
	}

	return o.runCalls(ctx, state, pending.Calls), false
}

// popApproval removes the trailing user approval message, only if it
// actually is one.
func (o *Orchestrator) popApproval(state *State) {
	n := len(state.History)
	if n == 0 {
		return
	}
	last := state.History[n-1]
	if last.Role == provider.MessageRoleUser && isApproval(last.Content) {
		state.History = state.History[:n-1]
	}
}

// popDisclosure removes the trailing synthesized disclosure message. The
// kind tag is authoritative; the content-prefix match remains as a guard for
// histories restored from storage that lost the tag.
func (o *Orchestrator) popDisclosure(state *State) {
	n := len(state.History)
	if n == 0 {
		return
	}
	last := state.History[n-1]
	if last.Role != provider.MessageRoleAssistant || len(last.ToolCalls) > 0 {
		return
	}
	if last.Kind == provider.KindDisclosure ||
		strings.HasPrefix(last.Content, guard.DisclosurePrefix) ||
		strings.HasPrefix(last.Content, "Confirmation required") {
		state.History = state.History[:n-1]
	}
}

// endsWithOriginating reports whether history already ends with the stored
// originating assistant message, identified by its tool-call ids.
func endsWithOriginating(state *State, pending *PendingAction) bool {
	n := len(state.History)
	if n == 0 {
		return false
	}
	last := state.History[n-1]
	if last.Role != provider.MessageRoleAssistant || len(last.ToolCalls) != len(pending.Originating.ToolCalls) {
		return false
	}
	for i, tc := range last.ToolCalls {
		if tc.ID != pending.Originating.ToolCalls[i].ID {
			return false
		}
	}
	return len(last.ToolCalls) > 0
}

func (o *Orchestrator) iterationLimitAdvisory() provider.Message {
	return provider.Message{
		Role: provider.MessageRoleAssistant,
		Content: "⚠️ Iteration limit of " + strconv.Itoa(o.maxIterations) + " reached. " +
			"Stopping to avoid runaway execution. You can continue by sending another message.",
		Kind: provider.KindAdvisory,
	}
}

func toolResult(call provider.ToolCall, content string) provider.Message {
	return provider.Message{
		Role:       provider.MessageRoleTool,
		Content:    content,
		ToolCallID: call.ID,
		ToolName:   call.Name,
	}
}

