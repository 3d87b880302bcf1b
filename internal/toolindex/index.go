// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package toolindex maintains the persisted vector index used to retrieve
// the tools most relevant to a user query. The index lives in a SQLite
// database with a sqlite-vec virtual table; it is rebuilt only when the
// tool set changes.
package toolindex

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/aegis-dev/aegis/internal/embedding"
	"github.com/aegis-dev/aegis/internal/provider"
	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

func init() {
	sqlite_vec.Auto()
}

// Config holds the dependencies for building an Index.
type Config struct {
	// DBPath is the SQLite file holding the persisted index.
	DBPath string
	// Engine embeds tool documents and queries.
	Engine embedding.Engine
	// Tools is the full tool descriptor set to index.
	Tools []provider.ToolDefinition
	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Index is the process-wide semantic tool index. A single mutex-free design
// is possible because the tool set is fixed after construction; the only
// mutable state is inside the database handle, which is safe for concurrent
// queries.
type Index struct {
	db     *sql.DB
	engine embedding.Engine
	log    *slog.Logger

	tools map[string]provider.ToolDefinition
	names []string
	all   []provider.ToolDefinition
}

// New opens the persisted index at cfg.DBPath, reusing it when the stored
// content hash matches the current tool set and rebuilding it otherwise.
// The rebuild replaces vectors, name ordering, and hash in one transaction,
// so a crash mid-rebuild can never leave a mismatched triple behind.
func New(ctx context.Context, cfg Config) (*Index, error) {
	if cfg.Engine == nil {
		return nil, aegiserr.New(aegiserr.CodeIndexBuildFailure, "embedding engine is required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "opening index db %s", cfg.DBPath)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "pinging index db %s", cfg.DBPath)
	}

	idx := &Index{
		db:     db,
		engine: cfg.Engine,
		log:    log,
		tools:  make(map[string]provider.ToolDefinition, len(cfg.Tools)),
		all:    append([]provider.ToolDefinition(nil), cfg.Tools...),
	}
	for _, def := range cfg.Tools {
		idx.tools[def.Name] = def
	}

	if err := idx.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := idx.ensure(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return idx, nil
}

func (x *Index) migrate(ctx context.Context) error {
	vecDDL := fmt.Sprintf(
		`CREATE VIRTUAL TABLE IF NOT EXISTS tool_vectors USING vec0(id TEXT PRIMARY KEY, embedding float[%d])`,
		x.engine.Dimensions(),
	)
	if _, err := x.db.ExecContext(ctx, vecDDL); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "creating tool_vectors virtual table")
	}

	const metaDDL = `
CREATE TABLE IF NOT EXISTS tool_index_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`
	if _, err := x.db.ExecContext(ctx, metaDDL); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "creating tool_index_meta table")
	}
	return nil
}

// ensure reloads the persisted index when its hash matches the current tool
// set, and rebuilds it otherwise.
func (x *Index) ensure(ctx context.Context) error {
	if len(x.tools) == 0 {
		return nil
	}

	currentHash := ContentHash(x.all)

	storedHash, storedNames, err := x.loadMeta(ctx)
	if err != nil {
		return err
	}
	if storedHash == currentHash && len(storedNames) > 0 {
		x.names = storedNames
		x.log.Debug("tool index reused", "tools", len(storedNames), "hash", currentHash[:12])
		return nil
	}

	return x.rebuild(ctx, currentHash)
}

func (x *Index) loadMeta(ctx context.Context) (hash string, names []string, err error) {
	rows, err := x.db.QueryContext(ctx, `SELECT key, value FROM tool_index_meta WHERE key IN ('hash', 'names')`)
	if err != nil {
		return "", nil, aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "reading index metadata")
	}
	defer func() { _ = rows.Close() }()

	var namesJSON string
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return "", nil, aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "scanning index metadata")
		}
		switch key {
		case "hash":
			hash = value
		case "names":
			namesJSON = value
		}
	}
	if err := rows.Err(); err != nil {
		return "", nil, aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "iterating index metadata")
	}

	if namesJSON != "" {
		if err := json.Unmarshal([]byte(namesJSON), &names); err != nil {
			// Corrupt metadata forces a rebuild rather than failing startup.
			x.log.Warn("tool index metadata corrupt, rebuilding", "error", err)
			return "", nil, nil
		}
	}
	return hash, names, nil
}

// rebuild re-embeds every tool document and atomically replaces the stored
// vectors, name ordering, and hash.
func (x *Index) rebuild(ctx context.Context, hash string) error {
	names := make([]string, 0, len(x.all))
	documents := make([]string, 0, len(x.all))
	for _, def := range x.all {
		names = append(names, def.Name)
		documents = append(documents, renderDocument(def))
	}

	vectors, err := x.engine.EmbedBatch(ctx, documents)
	if err != nil {
		return aegiserr.Wrap(err, aegiserr.CodeIndexBuildFailure, "embedding tool documents")
	}
	if len(vectors) != len(names) {
		return aegiserr.Errorf(aegiserr.CodeIndexBuildFailure,
			"expected %d tool embeddings, got %d", len(names), len(vectors))
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "beginning index rebuild")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tool_vectors`); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "clearing tool vectors")
	}

	for i, name := range names {
		blob, err := sqlite_vec.SerializeFloat32(embedding.Normalize(vectors[i]))
		if err != nil {
			return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "serializing vector for %s", name)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tool_vectors(id, embedding) VALUES (?, ?)`, name, blob); err != nil {
			return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "inserting vector for %s", name)
		}
	}

	namesJSON, err := json.Marshal(names)
	if err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "encoding name ordering")
	}
	const metaQ = `INSERT INTO tool_index_meta(key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`
	if _, err := tx.ExecContext(ctx, metaQ, "names", string(namesJSON)); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "storing name ordering")
	}
	if _, err := tx.ExecContext(ctx, metaQ, "hash", hash); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "storing content hash")
	}

	if err := tx.Commit(); err != nil {
		return aegiserr.Wrapf(err, aegiserr.CodeIndexPersistFailure, "committing index rebuild")
	}

	x.names = names
	x.log.Info("tool index rebuilt", "tools", len(names), "engine", x.engine.Name())
	return nil
}

// Retrieve returns the topK tools most relevant to query, ranked by
// similarity. An empty or uninitialized index fails open and returns every
// known tool. topK is clamped to the number of indexed tools.
func (x *Index) Retrieve(ctx context.Context, query string, topK int) ([]provider.ToolDefinition, error) {
	if len(x.names) == 0 {
		return x.All(), nil
	}

	k := topK
	if k <= 0 || k > len(x.names) {
		k = len(x.names)
	}

	vec, err := x.engine.Embed(ctx, query)
	if err != nil {
		return nil, aegiserr.Wrap(err, aegiserr.CodeIndexQueryFailure, "embedding query")
	}
	blob, err := sqlite_vec.SerializeFloat32(embedding.Normalize(vec))
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeIndexQueryFailure, "serializing query vector")
	}

	const q = `SELECT id FROM tool_vectors WHERE embedding MATCH ? AND k = ? ORDER BY distance`
	rows, err := x.db.QueryContext(ctx, q, blob, k)
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeIndexQueryFailure, "searching tool vectors")
	}
	defer func() { _ = rows.Close() }()

	var matched []provider.ToolDefinition
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, aegiserr.Wrapf(err, aegiserr.CodeIndexQueryFailure, "scanning search result")
		}
		def, ok := x.tools[name]
		if !ok {
			// Should not occur; a stale row means the persisted index and
			// tool set disagree.
			x.log.Warn("tool index returned unknown tool, dropping", "tool", name)
			continue
		}
		matched = append(matched, def)
	}
	if err := rows.Err(); err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeIndexQueryFailure, "iterating search results")
	}
	return matched, nil
}

// All returns every known tool definition in registration order.
func (x *Index) All() []provider.ToolDefinition {
	return append([]provider.ToolDefinition(nil), x.all...)
}

// Close closes the underlying database.
func (x *Index) Close() error {
	return x.db.Close()
}
