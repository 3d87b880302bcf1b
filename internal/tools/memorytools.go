// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/aegis-dev/aegis/internal/memory"
)

// NewMemoryTools creates the long-term memory tool pair backed by store.
func NewMemoryTools(store *memory.Store) []Tool {
	return []Tool{
		&UpdateMemory{store: store},
		&ReadMemory{store: store},
	}
}

// UpdateMemory writes one entry into long-term memory.
type UpdateMemory struct {
	store *memory.Store
}

func (t *UpdateMemory) Name() string { return "update_memory" }

func (t *UpdateMemory) Description() string {
	return "Update a single entry in long-term memory. Use this when the user shares " +
		"personal information, preferences, or facts worth remembering across conversations."
}

func (t *UpdateMemory) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"category": map[string]any{
				"type":        "string",
				"description": "Must be one of 'personality', 'preferences', or 'key_facts'.",
			},
			"key": map[string]any{
				"type":        "string",
				"description": "Short label for the memory entry (e.g. 'tone', 'location').",
			},
			"value": map[string]any{
				"type":        "string",
				"description": "The value to store.",
			},
		},
		"required": []any{"category", "key", "value"},
	}
}

func (t *UpdateMemory) Execute(_ context.Context, args map[string]any) (string, error) {
	category := stringArg(args, "category")
	key := stringArg(args, "key")
	value := stringArg(args, "value")

	if !memory.ValidCategory(category) {
		return fmt.Sprintf("Error: Invalid category %q. Must be one of: %s",
			category, strings.Join(memory.Categories, ", ")), nil
	}

	if err := t.store.Update(category, key, value); err != nil {
		return fmt.Sprintf("Error updating memory: %v", err), nil
	}
	return fmt.Sprintf("Memory updated: %s.%s = %s", category, key, value), nil
}

// ReadMemory returns all stored long-term memory as formatted text.
type ReadMemory struct {
	store *memory.Store
}

func (t *ReadMemory) Name() string { return "read_memory" }

func (t *ReadMemory) Description() string {
	return "Return all stored long-term memory as a formatted string. Use this when " +
		"you need to recall facts, preferences, or personality traits the user has previously shared."
}

func (t *ReadMemory) InputSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *ReadMemory) Execute(_ context.Context, _ map[string]any) (string, error) {
	out, err := t.store.Describe()
	if err != nil {
		return fmt.Sprintf("Error reading memory: %v", err), nil
	}
	return out, nil
}
