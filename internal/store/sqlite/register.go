// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package sqlite

import (
	"github.com/aegis-dev/aegis/internal/store"
)

func init() {
	store.RegisterBackend("sqlite", func(path string) (store.CheckpointStore, error) {
		return NewCheckpointStore(path)
	})
}
