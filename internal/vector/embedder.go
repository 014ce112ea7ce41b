package vector

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/sift/internal/llm"
)

// Embedder wraps an LLM provider and enforces batch postconditions: one
// vector per input, no empty vectors, uniform length across the batch.
type Embedder struct {
	provider llm.Provider
}

// NewEmbedder creates an Embedder.
func NewEmbedder(provider llm.Provider) *Embedder {
	return &Embedder{provider: provider}
}

// EmbedBatch embeds texts in order. The returned slice always has exactly one
// vector per input text.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := e.provider.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding %d texts: %w", len(texts), err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d vectors for %d texts", len(vectors), len(texts))
	}

	width := len(vectors[0])
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("embedding %d is empty", i)
		}
		if len(v) != width {
			return nil, fmt.Errorf("embedding %d has length %d, batch started with %d", i, len(v), width)
		}
	}
	return vectors, nil
}

// EmbedOne embeds a single text.
func (e *Embedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}
