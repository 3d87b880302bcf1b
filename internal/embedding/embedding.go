// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

// Package embedding provides vector embedding generation for semantic
// tool retrieval.
package embedding

import (
	"context"
	"math"
)

// Engine generates vector embeddings for text.
type Engine interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the dimensionality of produced embeddings.
	Dimensions() int

	// Name returns the engine name.
	Name() string

	// Close releases any resources held by the engine.
	Close() error
}

// Normalize scales a vector to unit length in place and returns it.
// Zero vectors are returned unchanged so inner-product scoring treats
// them as matching nothing.
func Normalize(vec []float32) []float32 {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return vec
	}

	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
