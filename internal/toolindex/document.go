// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package toolindex

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/aegis-dev/aegis/internal/provider"
)

// ContentHash computes a deterministic hash of a tool set, used to detect
// staleness of a persisted index. Only names and descriptions participate;
// schema-only changes do not force a rebuild.
func ContentHash(defs []provider.ToolDefinition) string {
	pairs := make([]string, 0, len(defs))
	for _, def := range defs {
		pairs = append(pairs, def.Name+":"+def.Description)
	}
	sort.Strings(pairs)

	blob, _ := json.Marshal(pairs)
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}

// renderDocument builds the text representation of a tool that gets embedded:
// name, description, and a flattened argument list with per-argument type and
// description. Schema extraction is best-effort; anything unexpected degrades
// to name and description only.
func renderDocument(def provider.ToolDefinition) string {
	lines := []string{
		"Tool: " + def.Name,
		"Description: " + def.Description,
	}

	if args := renderArguments(def.InputSchema); args != "" {
		lines = append(lines, "Arguments:\n"+args)
	}
	return strings.Join(lines, "\n")
}

func renderArguments(schema map[string]any) string {
	props, ok := schema["properties"].(map[string]any)
	if !ok || len(props) == 0 {
		return ""
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	var parts []string
	for _, name := range names {
		info, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		argType, _ := info["type"].(string)
		if argType == "" {
			argType = "any"
		}
		argDesc, _ := info["description"].(string)
		parts = append(parts, fmt.Sprintf("  %s (%s): %s", name, argType, argDesc))
	}
	return strings.Join(parts, "\n")
}
