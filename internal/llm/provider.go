package llm

import (
	"context"
	"errors"
)

// ErrEmbeddingsUnsupported is returned by providers that cannot produce
// embedding vectors (e.g. anthropic). The factory rejects such providers
// when an embedding backend is required.
var ErrEmbeddingsUnsupported = errors.New("provider does not support embeddings")

// Provider is the interface all LLM backends must implement.
type Provider interface {
	// Complete sends a prompt and returns a completion.
	Complete(ctx context.Context, prompt *Prompt, opts *RequestOptions) (*Response, error)
	// Embed returns one embedding vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string
}

// RequestOptions tunes a single completion request. Nil fields keep the
// provider's defaults.
type RequestOptions struct {
	MaxTokens   *int
	Temperature *float64
	TopP        *float64
	StopSeqs    []string
}
