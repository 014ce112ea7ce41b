// Package rag answers questions over previously indexed documents: similarity
// retrieval, grounded prompt assembly and answer streaming.
package rag

import (
	"context"
	"fmt"

	"github.com/efebarandurmaz/sift/internal/observability"
	"github.com/efebarandurmaz/sift/internal/vector"
)

// Result is one retrieved chunk with its similarity score.
type Result struct {
	ID         string
	Score      float32
	Content    string
	Snippet    string
	HasContent bool
	Metadata   map[string]string
}

// QueryEmbedder embeds a single query string.
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Retriever embeds queries and runs similarity search against a collection.
type Retriever struct {
	embedder   QueryEmbedder
	store      vector.Store
	collection string
}

// NewRetriever creates a Retriever bound to a collection.
func NewRetriever(embedder QueryEmbedder, store vector.Store, collection string) *Retriever {
	return &Retriever{embedder: embedder, store: store, collection: collection}
}

// Retrieve returns the topK chunks most similar to the query, restricted to
// one ingest session when sessionID is non-empty. Results keep the store's
// score order.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int, sessionID string) ([]Result, error) {
	ctx, span := observability.StartRetrieveSpan(ctx, r.collection, topK)
	defer span.End()

	vec, err := r.embedder.EmbedOne(ctx, query)
	if err != nil {
		err = fmt.Errorf("embedding query: %w", err)
		observability.RecordError(span, err)
		return nil, err
	}

	var filter map[string]string
	if sessionID != "" {
		filter = map[string]string{vector.SessionKey: sessionID}
	}

	matches, err := r.store.Search(ctx, r.collection, vec, topK, filter)
	if err != nil {
		err = fmt.Errorf("searching: %w", err)
		observability.RecordError(span, err)
		return nil, err
	}

	results := make([]Result, len(matches))
	for i, m := range matches {
		results[i] = Result{
			ID:         m.ID,
			Score:      m.Score,
			Content:    m.Content,
			Snippet:    m.Snippet,
			HasContent: m.HasContent,
			Metadata:   m.Metadata,
		}
	}

	topScore := 0.0
	if len(results) > 0 {
		topScore = float64(results[0].Score)
	}
	observability.RecordRetrieveResult(span, len(results), topScore)
	return results, nil
}
