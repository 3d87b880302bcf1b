// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package sqlite implements the SQLite-backed checkpoint store.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/aegis-dev/aegis/internal/agent"
	"github.com/aegis-dev/aegis/internal/store"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

// Compile-time interface check.
var _ store.CheckpointStore = (*CheckpointStore)(nil)

// CheckpointStore implements store.CheckpointStore backed by SQLite. State
// checkpoints are stored as one JSON document per session; a save replaces
// the previous checkpoint wholesale.
type CheckpointStore struct {
	db *sql.DB
}

// NewCheckpointStore opens (or creates) a SQLite database at dbPath and
// initialises the sessions and checkpoints tables.
func NewCheckpointStore(dbPath string) (*CheckpointStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "opening sqlite db %s", dbPath)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "pinging sqlite db %s", dbPath)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "migrating sqlite db %s", dbPath)
	}
	return &CheckpointStore{db: db}, nil
}

func migrate(db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS sessions (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS checkpoints (
	session_id TEXT PRIMARY KEY,
	state      TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);
`
	_, err := db.Exec(ddl)
	return err
}

// Close closes the underlying database connection.
func (s *CheckpointStore) Close() error {
	return s.db.Close()
}

func (s *CheckpointStore) CreateSession(ctx context.Context, session *store.Session) error {
	if session == nil || session.ID == "" {
		return aegiserr.New(aegiserr.CodeStoreInvalidInput, "session must have an id")
	}

	createdAt := session.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const q = `INSERT INTO sessions (id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q,
		session.ID, session.Title, formatTime(createdAt), formatTime(createdAt)); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeStoreSessionConflict, "creating session %s", session.ID)
	}
	return nil
}

func (s *CheckpointStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	const q = `SELECT id, title, created_at, updated_at FROM sessions WHERE id = ?`

	var session store.Session
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, q, id).Scan(&session.ID, &session.Title, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, aegiserr.Errorf(aegiserr.CodeStoreSessionNotFound, "session %s not found", id)
	}
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "getting session %s", id)
	}

	session.CreatedAt = parseTime(createdAt)
	session.UpdatedAt = parseTime(updatedAt)
	return &session, nil
}

func (s *CheckpointStore) ListSessions(ctx context.Context) ([]*store.Session, error) {
	const q = `SELECT id, title, created_at, updated_at FROM sessions ORDER BY created_at DESC, id ASC`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "listing sessions")
	}
	defer rows.Close()

	var sessions []*store.Session
	for rows.Next() {
		var session store.Session
		var createdAt, updatedAt string
		if err := rows.Scan(&session.ID, &session.Title, &createdAt, &updatedAt); err != nil {
			return nil, aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "scanning session row")
		}
		session.CreatedAt = parseTime(createdAt)
		session.UpdatedAt = parseTime(updatedAt)
		sessions = append(sessions, &session)
	}
	return sessions, rows.Err()
}

func (s *CheckpointStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "deleting session %s", id)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "checking rows affected for session %s", id)
	}
	if rows == 0 {
		return aegiserr.Errorf(aegiserr.CodeStoreSessionNotFound, "session %s not found", id)
	}
	return nil
}

func (s *CheckpointStore) SaveState(ctx context.Context, sessionID string, state *agent.State) error {
	if state == nil {
		return aegiserr.New(aegiserr.CodeStoreInvalidInput, "state must not be nil")
	}
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return err
	}

	doc, err := json.Marshal(state)
	if err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "encoding state for session %s", sessionID)
	}
	now := formatTime(time.Now())

	const q = `INSERT INTO checkpoints (session_id, state, updated_at) VALUES (?, ?, ?)
ON CONFLICT(session_id) DO UPDATE SET state = excluded.state, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, q, sessionID, string(doc), now); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "saving checkpoint for session %s", sessionID)
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, sessionID); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "touching session %s", sessionID)
	}
	return nil
}

func (s *CheckpointStore) LoadState(ctx context.Context, sessionID string) (*agent.State, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}

	var doc string
	err := s.db.QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE session_id = ?`, sessionID).Scan(&doc)
	if err == sql.ErrNoRows {
		return agent.NewState(), nil
	}
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "loading checkpoint for session %s", sessionID)
	}

	var state agent.State
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeStorePersistFailure, "decoding checkpoint for session %s", sessionID)
	}
	return &state, nil
}

// formatTime serialises a time.Time to RFC3339 with nanosecond precision.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime deserialises a time string stored in the database.
func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
