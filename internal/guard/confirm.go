// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package guard

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aegis-dev/aegis/internal/provider"
)

// DisclosurePrefix starts every confirmation prompt the gate produces.
// The orchestrator matches on it when defensively unwinding a declined or
// approved confirmation exchange.
const DisclosurePrefix = "⚠️  The following destructive action(s) require your confirmation:"

// GateConfig configures the destructive-action confirmation gate.
type GateConfig struct {
	// DestructiveTools is the set of tool names requiring confirmation.
	DestructiveTools []string
	// SandboxRoot is the directory path-like arguments resolve against.
	SandboxRoot string
}

// Gate decides whether a batch of requested tool calls needs user
// confirmation and builds the disclosure prompt shown to the user.
type Gate struct {
	destructive map[string]struct{}
	sandbox     string
}

// NewGate creates a confirmation gate.
func NewGate(cfg GateConfig) *Gate {
	set := make(map[string]struct{}, len(cfg.DestructiveTools))
	for _, name := range cfg.DestructiveTools {
		set[name] = struct{}{}
	}
	return &Gate{destructive: set, sandbox: cfg.SandboxRoot}
}

// IsDestructive reports whether a tool name is in the destructive set.
func (g *Gate) IsDestructive(name string) bool {
	_, ok := g.destructive[name]
	return ok
}

// Decide inspects requested calls and, if any is destructive, returns the
// disclosure prompt and true. Path resolution problems never abort the
// decision; they degrade to a textual caveat on the affected bullet.
func (g *Gate) Decide(calls []provider.ToolCall) (string, bool) {
	var bullets []string
	for _, call := range calls {
		if !g.IsDestructive(call.Name) {
			continue
		}
		bullets = append(bullets, fmt.Sprintf("  • %s(%s)%s",
			call.Name, renderArgs(call.Arguments), g.existenceNote(call)))
	}
	if len(bullets) == 0 {
		return "", false
	}

	return DisclosurePrefix + "\n" +
		strings.Join(bullets, "\n") +
		"\n\nPlease confirm to proceed, or reply to cancel.", true
}

// existenceNote resolves the call's path argument inside the sandbox and
// describes what the call would do to whatever is already there.
func (g *Gate) existenceNote(call provider.ToolCall) string {
	pathArg, _ := call.Arguments["path"].(string)
	if pathArg == "" {
		return ""
	}

	abs, err := filepath.Abs(filepath.Join(g.sandbox, pathArg))
	if err != nil {
		return " (could not verify path)"
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if call.Name == "create_directory" {
				return ""
			}
			return " (new file)"
		}
		return " (could not verify path)"
	}

	if call.Name == "create_directory" {
		if info.IsDir() {
			return " ⚠ directory already exists"
		}
		return " ⚠ a file already exists at this path"
	}

	if info.Mode().IsRegular() {
		verb := "overwritten"
		if call.Name == "append_to_file" {
			verb = "appended to"
		}
		return fmt.Sprintf(" ⚠ file already exists (%d bytes — will be %s)", info.Size(), verb)
	}
	return " ⚠ path exists but is not a regular file"
}

// renderArgs produces a deterministic "k=v" summary of a call's arguments.
func renderArgs(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := args[k].(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%s=%q", k, v))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return strings.Join(parts, ", ")
}
