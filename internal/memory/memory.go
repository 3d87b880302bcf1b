// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package memory implements the JSON-backed long-term user memory store.
// Entries are grouped into a fixed set of categories and survive across
// conversations.
package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// Categories is the canonical ordered set of allowed memory categories.
var Categories = []string{"personality", "preferences", "key_facts"}

// ValidCategory reports whether name is an allowed category.
func ValidCategory(name string) bool {
	for _, c := range Categories {
		if c == name {
			return true
		}
	}
	return false
}

// Store is a mutex-guarded, file-backed key-value store grouped by category.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore opens (creating if needed) the memory file at path.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		empty := make(map[string]map[string]any, len(Categories))
		for _, c := range Categories {
			empty[c] = map[string]any{}
		}
		if err := s.write(empty); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeMemoryIOFailure, "checking memory file %s", path)
	}

	return s, nil
}

// Update sets data[category][key] = value and persists the store.
func (s *Store) Update(category, key string, value any) error {
	if !ValidCategory(category) {
		return aegiserr.Errorf(aegiserr.CodeMemoryCategoryInvalid,
			"invalid category %q, must be one of: %s", category, strings.Join(Categories, ", "))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return err
	}
	if data[category] == nil {
		data[category] = map[string]any{}
	}
	data[category][key] = value
	return s.write(data)
}

// All returns the full memory contents.
func (s *Store) All() (map[string]map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

// Render summarizes stored memory for inclusion in the system prompt.
// Returns the empty string when nothing is stored.
func (s *Store) Render() (string, error) {
	data, err := s.All()
	if err != nil {
		return "", err
	}

	var parts []string
	for _, category := range Categories {
		entries := data[category]
		if len(entries) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("  %s: %s", category, renderEntries(entries)))
	}
	if len(parts) == 0 {
		return "", nil
	}
	return "Long-term memory:\n" + strings.Join(parts, "\n"), nil
}

// Describe formats stored memory for display to the model, one category
// block per populated category.
func (s *Store) Describe() (string, error) {
	data, err := s.All()
	if err != nil {
		return "", err
	}

	var lines []string
	for _, category := range Categories {
		entries := data[category]
		if len(entries) == 0 {
			continue
		}
		lines = append(lines, category+":")
		for _, k := range sortedKeys(entries) {
			lines = append(lines, fmt.Sprintf("  %s: %v", k, entries[k]))
		}
	}
	if len(lines) == 0 {
		return "No long-term memories stored yet.", nil
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Store) read() (map[string]map[string]any, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeMemoryIOFailure, "reading memory file %s", s.path)
	}

	var data map[string]map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeMemoryIOFailure, "decoding memory file %s", s.path)
	}
	return data, nil
}

func (s *Store) write(data map[string]map[string]any) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeMemoryIOFailure, "creating memory directory for %s", s.path)
	}

	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeMemoryIOFailure, "encoding memory file %s", s.path)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeMemoryIOFailure, "writing memory file %s", s.path)
	}
	return nil
}

func renderEntries(entries map[string]any) string {
	parts := make([]string, 0, len(entries))
	for _, k := range sortedKeys(entries) {
		parts = append(parts, fmt.Sprintf("%s: %v", k, entries[k]))
	}
	return strings.Join(parts, ", ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
