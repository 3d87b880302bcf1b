// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package tools defines the agent-callable tool interface, the in-process
// tool registry, and the built-in tool set.
package tools

import (
	"context"
	"sync"

	"github.com/aegis-dev/aegis/internal/provider"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// Tool is one agent-callable capability. Implementations report user-level
// problems (bad arguments, sandbox violations) in the returned string so the
// model can react to them; the error return is reserved for infrastructure
// failures.
type Tool interface {
	Name() string
	Description() string
	InputSchema() map[string]any
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry is a thread-safe in-memory collection of tools. Iteration order
// follows registration order so tool definitions sent to providers are
// deterministic.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Duplicate names are an error; the tool set is wired
// once at startup.
func (r *Registry) Register(t Tool) error {
	if t == nil || t.Name() == "" {
		return aegiserr.New(aegiserr.CodeToolArgumentInvalid, "tool must have a name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[t.Name()]; exists {
		return aegiserr.Errorf(aegiserr.CodeToolArgumentInvalid, "tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
	return nil
}

// RegisterAll registers every tool in ts, stopping at the first failure.
func (r *Registry) RegisterAll(ts ...Tool) error {
	for _, t := range ts {
		if err := r.Register(t); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the tool with the given name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool in registration order.
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns provider-facing definitions for every registered tool,
// in registration order.
func (r *Registry) Definitions() []provider.ToolDefinition {
	all := r.All()
	defs := make([]provider.ToolDefinition, 0, len(all))
	for _, t := range all {
		defs = append(defs, Definition(t))
	}
	return defs
}

// Definition builds the provider-facing definition of one tool.
func Definition(t Tool) provider.ToolDefinition {
	return provider.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		InputSchema: t.InputSchema(),
	}
}

// stringArg extracts an optional string argument.
func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}
