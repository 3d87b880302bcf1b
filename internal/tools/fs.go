// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// File I/O constraints shared by the filesystem tools.
var allowedExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".json": {}, ".csv": {},
}

const (
	maxFileSize      = 5 * 1024 * 1024
	maxAppendContent = 100_000
)

// sandbox confines all filesystem tool paths to one root directory.
type sandbox struct {
	root string
}

// newSandbox resolves and creates the sandbox root.
func newSandbox(root string) (*sandbox, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeConfigValidateInvalidValue, "resolving sandbox root %s", root)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeToolExecutionFailure, "creating sandbox root %s", abs)
	}
	return &sandbox{root: abs}, nil
}

// resolve joins path onto the sandbox root and rejects escapes.
func (s *sandbox) resolve(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(s.root, path))
	if err != nil {
		return "", fmt.Errorf("Access denied: Path escapes sandbox")
	}
	if abs != s.root && !strings.HasPrefix(abs, s.root+string(filepath.Separator)) {
		return "", fmt.Errorf("Access denied: Path escapes sandbox")
	}
	return abs, nil
}

func extensionAllowed(path string) bool {
	_, ok := allowedExtensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func allowedExtensionList() string {
	exts := make([]string, 0, len(allowedExtensions))
	for ext := range allowedExtensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return strings.Join(exts, ", ")
}

func humanSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	size := float64(n)
	for _, unit := range []string{"KB", "MB", "GB", "TB"} {
		size /= 1024
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
	}
	return fmt.Sprintf("%.1f PB", size/1024)
}

// NewFilesystemTools creates the sandboxed filesystem tool set rooted at root.
func NewFilesystemTools(root string) ([]Tool, error) {
	sb, err := newSandbox(root)
	if err != nil {
		return nil, err
	}
	return []Tool{
		&ListDirectory{sb},
		&CreateDirectory{sb},
		&ReadFile{sb},
		&WriteFile{sb},
		&AppendToFile{sb},
	}, nil
}

// ListDirectory lists the contents of a sandbox directory.
type ListDirectory struct{ sb *sandbox }

func (t *ListDirectory) Name() string { return "list_directory" }

func (t *ListDirectory) Description() string {
	return "List the contents of a directory. Returns every file and sub-directory " +
		"inside the given path, annotated with its type (file or dir) and human-readable size."
}

func (t *ListDirectory) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path to the directory to list, relative to the sandbox. Defaults to the sandbox root.",
			},
		},
	}
}

func (t *ListDirectory) Execute(_ context.Context, args map[string]any) (string, error) {
	path := stringArg(args, "path")
	if path == "" {
		path = "."
	}

	abs, err := t.sb.resolve(path)
	if err != nil {
		return err.Error(), nil
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: Path does not exist — %s", abs), nil
	}
	if err != nil {
		return fmt.Sprintf("Error: Permission denied — %s", abs), nil
	}
	if !info.IsDir() {
		return fmt.Sprintf("Error: Path is not a directory — %s", abs), nil
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return fmt.Sprintf("Error: Permission denied — %s", abs), nil
	}
	if len(entries) == 0 {
		return fmt.Sprintf("%s/ (empty directory)", abs), nil
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	lines := []string{fmt.Sprintf("Contents of %s/\n", abs)}
	for _, entry := range entries {
		if entry.IsDir() {
			lines = append(lines, fmt.Sprintf("  📁 %s/", entry.Name()))
			continue
		}
		size := "unknown size"
		if fi, err := entry.Info(); err == nil {
			size = humanSize(fi.Size())
		}
		lines = append(lines, fmt.Sprintf("  📄 %s  (%s)", entry.Name(), size))
	}
	lines = append(lines, fmt.Sprintf("\n%d item(s)", len(entries)))
	return strings.Join(lines, "\n"), nil
}

// CreateDirectory creates a directory (with parents) inside the sandbox.
type CreateDirectory struct{ sb *sandbox }

func (t *CreateDirectory) Name() string { return "create_directory" }

func (t *CreateDirectory) Description() string {
	return "Create a directory (and any missing parent directories) inside the sandbox. " +
		"Safe to call if the directory already exists; it will report that fact rather than fail."
}

func (t *CreateDirectory) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "Path of the directory to create (resolved inside the sandbox).",
			},
		},
		"required": []any{"path"},
	}
}

func (t *CreateDirectory) Execute(_ context.Context, args map[string]any) (string, error) {
	abs, err := t.sb.resolve(stringArg(args, "path"))
	if err != nil {
		return err.Error(), nil
	}

	if info, err := os.Stat(abs); err == nil {
		if info.IsDir() {
			return fmt.Sprintf("Directory already exists — %s", abs), nil
		}
		return fmt.Sprintf("Error: A file (not a directory) already exists at — %s", abs), nil
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		return fmt.Sprintf("Error creating directory: %v", err), nil
	}
	return fmt.Sprintf("Created directory — %s", abs), nil
}

// ReadFile reads a text file inside the sandbox.
type ReadFile struct{ sb *sandbox }

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read the text content of a file inside the sandbox. Only the following " +
		"file types are allowed: .txt, .md, .json, .csv. Files larger than 5 MB are rejected."
}

func (t *ReadFile) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path (resolved inside the sandbox).",
			},
		},
		"required": []any{"path"},
	}
}

func (t *ReadFile) Execute(_ context.Context, args map[string]any) (string, error) {
	abs, err := t.sb.resolve(stringArg(args, "path"))
	if err != nil {
		return err.Error(), nil
	}

	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return fmt.Sprintf("Error: File does not exist — %s", abs), nil
	}
	if err != nil {
		return fmt.Sprintf("Error: Permission denied — %s", abs), nil
	}
	if info.IsDir() {
		return fmt.Sprintf("Error: Path is not a file — %s", abs), nil
	}

	if !extensionAllowed(abs) {
		return fmt.Sprintf("Error: File type %q is not allowed. Permitted extensions: %s",
			strings.ToLower(filepath.Ext(abs)), allowedExtensionList()), nil
	}
	if info.Size() > maxFileSize {
		return fmt.Sprintf("Error: File is %s, exceeds the 5 MB limit.", humanSize(info.Size())), nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return fmt.Sprintf("Error reading file: %v", err), nil
	}
	if !utf8.Valid(data) {
		return fmt.Sprintf("Error: File is not valid UTF-8 text — %s", abs), nil
	}
	return string(data), nil
}

// WriteFile writes (overwriting) a text file inside the sandbox.
type WriteFile struct{ sb *sandbox }

func (t *WriteFile) Name() string { return "write_file" }

func (t *WriteFile) Description() string {
	return "Write text content to a file inside the sandbox (overwrites if it exists). " +
		"Only the following file types are allowed: .txt, .md, .json, .csv. Maximum file size is 5 MB."
}

func (t *WriteFile) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path (resolved inside the sandbox).",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The text content to write.",
			},
		},
		"required": []any{"path", "content"},
	}
}

func (t *WriteFile) Execute(_ context.Context, args map[string]any) (string, error) {
	abs, err := t.sb.resolve(stringArg(args, "path"))
	if err != nil {
		return err.Error(), nil
	}

	if !extensionAllowed(abs) {
		return fmt.Sprintf("Error: File type %q is not allowed. Permitted extensions: %s",
			strings.ToLower(filepath.Ext(abs)), allowedExtensionList()), nil
	}

	content := stringArg(args, "content")
	if len(content) > maxFileSize {
		return "Error: Content exceeds the 5 MB limit.", nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Sprintf("Error writing file: %v", err), nil
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Sprintf("Error writing file: %v", err), nil
	}
	return fmt.Sprintf("Wrote %d characters to %s", utf8.RuneCountInString(content), abs), nil
}

// AppendToFile appends text to a file inside the sandbox, creating it if
// needed.
type AppendToFile struct{ sb *sandbox }

func (t *AppendToFile) Name() string { return "append_to_file" }

func (t *AppendToFile) Description() string {
	return "Append text content to a file inside the sandbox. Creates the file if it does not exist."
}

func (t *AppendToFile) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "File path (resolved inside the sandbox).",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The text content to append.",
			},
		},
		"required": []any{"path", "content"},
	}
}

func (t *AppendToFile) Execute(_ context.Context, args map[string]any) (string, error) {
	abs, err := t.sb.resolve(stringArg(args, "path"))
	if err != nil {
		return err.Error(), nil
	}

	content := stringArg(args, "content")
	if len(content) > maxAppendContent {
		return "Error: Content too large to append.", nil
	}

	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Sprintf("Error appending to file: %v", err), nil
	}

	f, err := os.OpenFile(abs, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Sprintf("Error appending to file: %v", err), nil
	}
	defer f.Close()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Sprintf("Error appending to file: %v", err), nil
	}
	return fmt.Sprintf("Appended %d characters to %s", utf8.RuneCountInString(content), abs), nil
}
