// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Aegis Contributors

package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	aegiserr "github.com/aegis-dev/aegis/pkg/errors"
)

const defaultGenAIModel = "gemini-embedding-001"

// GenAIConfig holds Gemini embedding engine configuration.
type GenAIConfig struct {
	APIKey string
	Model  string // defaults to gemini-embedding-001
}

// GenAIEngine generates embeddings using the Google Gemini API.
type GenAIEngine struct {
	client *genai.Client
	model  string
}

// NewGenAIEngine creates a Gemini embedding engine. Returns an error if the
// API key is missing.
func NewGenAIEngine(cfg GenAIConfig) (*GenAIEngine, error) {
	if cfg.APIKey == "" {
		return nil, aegiserr.New(aegiserr.CodeEmbeddingRequestInvalid, "genai: missing api_key in config")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGenAIModel
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeEmbeddingUpstreamFailure, "genai: creating client")
	}

	return &GenAIEngine{client: client, model: model}, nil
}

// Embed generates an embedding for a single text.
func (e *GenAIEngine) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one API call.
func (e *GenAIEngine) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = genai.NewContentFromText(text, genai.RoleUser)
	}

	result, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		TaskType: "SEMANTIC_SIMILARITY",
	})
	if err != nil {
		return nil, aegiserr.Wrapf(err, aegiserr.CodeEmbeddingUpstreamFailure, "genai: embed content")
	}

	if len(result.Embeddings) != len(texts) {
		return nil, aegiserr.Errorf(aegiserr.CodeEmbeddingUpstreamFailure,
			"genai: expected %d embeddings, got %d", len(texts), len(result.Embeddings))
	}

	vecs := make([][]float32, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		vecs[i] = emb.Values
	}
	return vecs, nil
}

// Dimensions returns the dimensionality of produced embeddings.
// gemini-embedding-001 produces 768-dimensional vectors.
func (e *GenAIEngine) Dimensions() int {
	return 768
}

// Name returns the engine name.
func (e *GenAIEngine) Name() string {
	return fmt.Sprintf("genai:%s", e.model)
}

// Close is a no-op; the genai client holds no persistent connections.
func (e *GenAIEngine) Close() error {
	return nil
}
