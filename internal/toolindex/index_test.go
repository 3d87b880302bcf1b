// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package toolindex

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aegis-dev/aegis/internal/provider"
)

// keywordEngine maps texts to fixed axis-aligned vectors based on keywords,
// making nearest-neighbor results fully deterministic.
type keywordEngine struct {
	axes       map[string]int
	dims       int
	embedCalls int
}

func newKeywordEngine(keywords ...string) *keywordEngine {
	axes := make(map[string]int, len(keywords))
	for i, kw := range keywords {
		axes[kw] = i
	}
	return &keywordEngine{axes: axes, dims: len(keywords) + 1}
}

func (e *keywordEngine) Embed(_ context.Context, text string) ([]float32, error) {
	e.embedCalls++
	vec := make([]float32, e.dims)
	for kw, axis := range e.axes {
		if strings.Contains(text, kw) {
			vec[axis] = 1
		}
	}
	// Last axis keeps keyword-free texts from embedding to the zero vector.
	vec[e.dims-1] = 0.1
	return vec, nil
}

func (e *keywordEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (e *keywordEngine) Dimensions() int { return e.dims }
func (e *keywordEngine) Name() string    { return "keyword-test" }
func (e *keywordEngine) Close() error    { return nil }

func testTools() []provider.ToolDefinition {
	return []provider.ToolDefinition{
		{
			Name:        "calculator",
			Description: "Evaluate a mathematical expression.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{"type": "string", "description": "expression to evaluate"},
				},
			},
		},
		{
			Name:        "get_current_datetime",
			Description: "Get the current date and time.",
		},
		{
			Name:        "read_file",
			Description: "Read the text content of a file.",
		},
	}
}

func newTestIndex(t *testing.T, dbPath string, engine *keywordEngine) *Index {
	t.Helper()
	idx, err := New(context.Background(), Config{
		DBPath: dbPath,
		Engine: engine,
		Tools:  testTools(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestRetrieveRanksByRelevance(t *testing.T) {
	engine := newKeywordEngine("mathematical", "date and time", "file")
	idx := newTestIndex(t, filepath.Join(t.TempDir(), "tools.db"), engine)

	got, err := idx.Retrieve(context.Background(), "what is the mathematical result of 2+2", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "calculator", got[0].Name)

	got, err = idx.Retrieve(context.Background(), "current date and time please", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "get_current_datetime", got[0].Name)
}

func TestRetrieveClampsTopK(t *testing.T) {
	engine := newKeywordEngine("mathematical", "date and time", "file")
	idx := newTestIndex(t, filepath.Join(t.TempDir(), "tools.db"), engine)

	got, err := idx.Retrieve(context.Background(), "anything", 50)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestMatchingHashSkipsReEmbedding(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tools.db")

	first := newKeywordEngine("mathematical", "date and time", "file")
	idx := newTestIndex(t, dbPath, first)
	require.NoError(t, idx.Close())
	buildCalls := first.embedCalls
	require.NotZero(t, buildCalls)

	second := newKeywordEngine("mathematical", "date and time", "file")
	reopened := newTestIndex(t, dbPath, second)
	assert.Zero(t, second.embedCalls, "unchanged tool set must reload without embedding")

	got, err := reopened.Retrieve(context.Background(), "mathematical question", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "calculator", got[0].Name)
}

func TestChangedToolSetForcesRebuild(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tools.db")

	engine := newKeywordEngine("mathematical", "date and time", "file")
	idx := newTestIndex(t, dbPath, engine)
	require.NoError(t, idx.Close())

	changed := newKeywordEngine("mathematical", "date and time", "file")
	tools := testTools()
	tools[0].Description = "Evaluate a mathematical expression, now with trigonometry."
	reopened, err := New(context.Background(), Config{
		DBPath: dbPath,
		Engine: changed,
		Tools:  tools,
	})
	require.NoError(t, err)
	defer reopened.Close()

	assert.NotZero(t, changed.embedCalls, "description change must trigger a rebuild")
}

func TestEmptyIndexFailsOpen(t *testing.T) {
	engine := newKeywordEngine("anything")
	idx, err := New(context.Background(), Config{
		DBPath: filepath.Join(t.TempDir(), "tools.db"),
		Engine: engine,
		Tools:  nil,
	})
	require.NoError(t, err)
	defer idx.Close()

	got, err := idx.Retrieve(context.Background(), "anything at all", 3)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, engine.embedCalls, "empty index must not embed the query")
}

func TestContentHashDeterministic(t *testing.T) {
	a := []provider.ToolDefinition{
		{Name: "b", Description: "two"},
		{Name: "a", Description: "one"},
	}
	b := []provider.ToolDefinition{
		{Name: "a", Description: "one"},
		{Name: "b", Description: "two"},
	}
	assert.Equal(t, ContentHash(a), ContentHash(b), "hash must not depend on order")

	c := []provider.ToolDefinition{
		{Name: "a", Description: "changed"},
		{Name: "b", Description: "two"},
	}
	assert.NotEqual(t, ContentHash(a), ContentHash(c))
}

func TestRenderDocument(t *testing.T) {
	doc := renderDocument(testTools()[0])
	assert.Equal(t, "Tool: calculator\n"+
		"Description: Evaluate a mathematical expression.\n"+
		"Arguments:\n"+
		"  expression (string): expression to evaluate", doc)

	// Schema extraction degrades silently when properties are malformed.
	doc = renderDocument(provider.ToolDefinition{
		Name:        "odd",
		Description: "odd tool",
		InputSchema: map[string]any{"properties": "not a map"},
	})
	assert.Equal(t, "Tool: odd\nDescription: odd tool", doc)
}
