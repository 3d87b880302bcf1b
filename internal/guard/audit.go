// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package guard

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// auditRecord is one JSONL line in the tool usage log.
type auditRecord struct {
	Timestamp string         `json:"ts"`
	Tool      string         `json:"tool"`
	Args      map[string]any `json:"args"`
	Result    string         `json:"result"`
}

// auditResultLimit caps the stored result summary.
const auditResultLimit = 500

// AuditLogger appends one structured record per executed tool call to an
// append-only JSONL stream. It is shared process-wide; writes are serialized
// so concurrent sessions never interleave partial lines.
type AuditLogger struct {
	mu sync.Mutex
	w  io.Writer

	// now is replaceable in tests.
	now func() time.Time
}

// NewAuditLogger creates a logger writing to w.
func NewAuditLogger(w io.Writer) *AuditLogger {
	return &AuditLogger{w: w, now: time.Now}
}

// OpenAuditLog opens (creating parent directories as needed) the append-only
// tool usage log at path and returns a logger backed by it. The caller owns
// the returned file handle.
func OpenAuditLog(path string) (*AuditLogger, *os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, aegiserr.Wrapf(err, aegiserr.CodeGuardAuditWriteFailure,
			"creating audit log directory for %s", path)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, aegiserr.Wrapf(err, aegiserr.CodeGuardAuditWriteFailure,
			"opening audit log %s", path)
	}
	return NewAuditLogger(f), f, nil
}

// Log appends one record. The result summary is truncated to 500 characters
// on a rune boundary. Failures are returned to the caller to surface as an
// operational error; they never abort the tool execution being recorded.
func (a *AuditLogger) Log(tool string, args map[string]any, result string) error {
	record := auditRecord{
		Timestamp: a.now().Format("2006-01-02T15:04:05-0700"),
		Tool:      tool,
		Args:      args,
		Result:    truncate(result, auditResultLimit),
	}

	line, err := json.Marshal(record)
	if err != nil {
		return aegiserr.Wrap(err, aegiserr.CodeGuardAuditWriteFailure,
			"encoding audit record", aegiserr.FieldTool(tool))
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.w.Write(append(line, '\n')); err != nil {
		return aegiserr.Wrap(err, aegiserr.CodeGuardAuditWriteFailure,
			"appending audit record", aegiserr.FieldTool(tool))
	}
	return nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
