// Package vector provides embedding generation and Qdrant-backed storage for
// document chunks.
package vector

import (
	"context"
	"fmt"
)

// Point is one stored chunk: an embedding plus its payload. In embeddings-only
// mode Content is empty and HasContent is false; the snippet and metadata are
// kept either way.
type Point struct {
	ID         string
	Vector     []float32
	Content    string
	HasContent bool
	Snippet    string
	Metadata   map[string]string
}

// SearchResult is a single match from a similarity search.
type SearchResult struct {
	ID         string
	Score      float32
	Content    string
	HasContent bool
	Snippet    string
	Metadata   map[string]string
}

// CollectionInfo describes an existing collection.
type CollectionInfo struct {
	Name      string
	Dimension int
	Distance  string
	Points    uint64
}

// CollectionMismatchError is returned when a collection exists with a vector
// size different from the one requested.
type CollectionMismatchError struct {
	Collection string
	Existing   int
	Requested  int
}

func (e *CollectionMismatchError) Error() string {
	return fmt.Sprintf("collection %q has dimension %d, requested %d: delete the collection or use a different name",
		e.Collection, e.Existing, e.Requested)
}

// Store provides collection lifecycle and point storage.
type Store interface {
	// EnsureCollection creates the collection when missing and verifies the
	// dimension when it exists. Returns true when a collection was created.
	EnsureCollection(ctx context.Context, collection string, dimension int) (bool, error)
	// Describe returns collection metadata.
	Describe(ctx context.Context, collection string) (*CollectionInfo, error)
	// DeleteCollection removes a collection and all its points.
	DeleteCollection(ctx context.Context, collection string) error
	// Upsert writes points and waits for them to be persisted.
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search finds the top-k most similar points, optionally restricted to
	// points whose metadata matches every key in filter.
	Search(ctx context.Context, collection string, vector []float32, topK int, filter map[string]string) ([]SearchResult, error)
	// Scroll pages through points matching filter, without vectors.
	Scroll(ctx context.Context, collection string, filter map[string]string, limit int) ([]Point, error)
	// DeletePoints removes points by id.
	DeletePoints(ctx context.Context, collection string, ids []string) error
	// DeleteByMetadata removes every point whose metadata matches filter.
	DeleteByMetadata(ctx context.Context, collection string, filter map[string]string) error
	// Close releases resources.
	Close() error
}

// Validate checks payload shape at the store boundary: a point either carries
// content or explicitly carries none.
func (p *Point) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("point has empty id")
	}
	if len(p.Vector) == 0 {
		return fmt.Errorf("point %s has empty vector", p.ID)
	}
	if p.HasContent && p.Content == "" {
		return fmt.Errorf("point %s claims content but carries none", p.ID)
	}
	if !p.HasContent && p.Content != "" {
		return fmt.Errorf("point %s carries content in embeddings-only mode", p.ID)
	}
	return nil
}
