// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package memory

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "memory.json"))
	require.NoError(t, err)
	return store
}

func TestNewStoreInitializesEmptyCategories(t *testing.T) {
	store := newTestStore(t)

	data, err := store.All()
	require.NoError(t, err)
	for _, category := range Categories {
		entries, ok := data[category]
		require.True(t, ok, "category %s should be initialized", category)
		assert.Empty(t, entries)
	}
}

func TestUpdateAndReadBack(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.Update("preferences", "language", "Go"))
	require.NoError(t, store.Update("key_facts", "location", "Berlin"))

	data, err := store.All()
	require.NoError(t, err)
	assert.Equal(t, "Go", data["preferences"]["language"])
	assert.Equal(t, "Berlin", data["key_facts"]["location"])
}

func TestUpdateRejectsInvalidCategory(t *testing.T) {
	store := newTestStore(t)

	err := store.Update("moods", "today", "great")
	require.Error(t, err)
	assert.True(t, aegiserr.HasCode(err, aegiserr.CodeMemoryCategoryInvalid))
	assert.Contains(t, err.Error(), "personality, preferences, key_facts")
}

func TestUpdatePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")

	store, err := NewStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Update("personality", "tone", "formal"))

	reopened, err := NewStore(path)
	require.NoError(t, err)
	data, err := reopened.All()
	require.NoError(t, err)
	assert.Equal(t, "formal", data["personality"]["tone"])
}

func TestRenderEmptyStore(t *testing.T) {
	store := newTestStore(t)

	summary, err := store.Render()
	require.NoError(t, err)
	assert.Empty(t, summary)
}

func TestRenderSummarizesPopulatedCategories(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Update("preferences", "language", "Go"))
	require.NoError(t, store.Update("preferences", "editor", "vim"))

	summary, err := store.Render()
	require.NoError(t, err)
	assert.Equal(t, "Long-term memory:\n  preferences: editor: vim, language: Go", summary)
}

func TestDescribe(t *testing.T) {
	store := newTestStore(t)

	out, err := store.Describe()
	require.NoError(t, err)
	assert.Equal(t, "No long-term memories stored yet.", out)

	require.NoError(t, store.Update("key_facts", "location", "Berlin"))
	out, err = store.Describe()
	require.NoError(t, err)
	assert.Equal(t, "key_facts:\n  location: Berlin", out)
}

func TestConcurrentUpdates(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			assert.NoError(t, store.Update("key_facts", string(rune('a'+n)), n))
		}(i)
	}
	wg.Wait()

	data, err := store.All()
	require.NoError(t, err)
	assert.Len(t, data["key_facts"], 10)
}

func TestNewStoreDoesNotClobberExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.json")
	seed := `{"personality":{"tone":"casual"},"preferences":{},"key_facts":{}}`
	require.NoError(t, os.WriteFile(path, []byte(seed), 0o644))

	store, err := NewStore(path)
	require.NoError(t, err)
	data, err := store.All()
	require.NoError(t, err)
	assert.Equal(t, "casual", data["personality"]["tone"])
}
