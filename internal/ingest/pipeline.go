package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"

	"github.com/efebarandurmaz/sift/internal/textproc"
	"github.com/efebarandurmaz/sift/internal/vector"
)

// ErrNoContent is returned when cleaning and chunking yield nothing to index.
var ErrNoContent = errors.New("no indexable content after cleaning")

// DimensionMismatchError is returned when the embedding backend produced
// vectors that do not fit the collection.
type DimensionMismatchError struct {
	Collection string
	Expected   int
	Observed   int
	Points     int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embeddings have dimension %d but collection %q expects %d (%d points rejected)",
		e.Observed, e.Collection, e.Expected, e.Points)
}

// Mode strings reported in ingest results.
const (
	ModeFull           = "full"
	ModeEmbeddingsOnly = "embeddings_only"
)

// Result summarizes one ingest run.
type Result struct {
	DocumentsProcessed int    `json:"documents_processed"`
	ChunksCreated      int    `json:"chunks_created"`
	PointsIndexed      int    `json:"points_indexed"`
	Collection         string `json:"collection"`
	Mode               string `json:"mode"`
}

// Embedder produces one vector per input text.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures a Pipeline.
type Options struct {
	Collection     string
	Dimension      int
	EmbeddingsOnly bool
	SnippetLength  int
	Logger         *slog.Logger
}

// Pipeline cleans, chunks, embeds and indexes documents. All points from one
// run land in a single waited upsert, so a returned error means nothing from
// the failing batch was indexed.
type Pipeline struct {
	chunker  *textproc.Chunker
	embedder Embedder
	store    vector.Store
	opts     Options
}

// NewPipeline creates a Pipeline.
func NewPipeline(chunker *textproc.Chunker, embedder Embedder, store vector.Store, opts Options) *Pipeline {
	if opts.SnippetLength <= 0 {
		opts.SnippetLength = 500
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Pipeline{chunker: chunker, embedder: embedder, store: store, opts: opts}
}

// Ingest indexes documents into the configured collection. sessionID tags
// every point so a session's points can later be counted or deleted together;
// empty means untagged.
func (p *Pipeline) Ingest(ctx context.Context, docs []Document, sessionID string) (*Result, error) {
	type chunkRef struct {
		text  string
		doc   int
		index int
		total int
	}

	var refs []chunkRef
	processed := 0
	for di, doc := range docs {
		cleaned := textproc.Clean(doc.Text)
		if cleaned == "" {
			p.opts.Logger.Debug("document empty after cleaning", "source", doc.Source)
			continue
		}
		chunks := p.chunker.Split(cleaned)
		if len(chunks) == 0 {
			continue
		}
		processed++
		for ci, chunk := range chunks {
			refs = append(refs, chunkRef{text: chunk, doc: di, index: ci, total: len(chunks)})
		}
	}
	if len(refs) == 0 {
		return nil, ErrNoContent
	}

	created, err := p.store.EnsureCollection(ctx, p.opts.Collection, p.opts.Dimension)
	if err != nil {
		return nil, err
	}
	if created {
		p.opts.Logger.Info("created collection", "collection", p.opts.Collection, "dimension", p.opts.Dimension)
	}

	texts := make([]string, len(refs))
	for i, r := range refs {
		texts[i] = r.text
	}
	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}

	// Every vector must fit the collection; one bad vector rejects the batch.
	for _, v := range vectors {
		if len(v) != p.opts.Dimension {
			return nil, &DimensionMismatchError{
				Collection: p.opts.Collection,
				Expected:   p.opts.Dimension,
				Observed:   len(v),
				Points:     len(vectors),
			}
		}
	}

	points := make([]vector.Point, len(refs))
	for i, r := range refs {
		docType := docs[r.doc].Type
		if docType == "" {
			docType = TypeText
		}
		meta := map[string]string{
			"source":       docs[r.doc].Source,
			"type":         docType,
			"chunk_index":  strconv.Itoa(r.index),
			"total_chunks": strconv.Itoa(r.total),
		}
		if sessionID != "" {
			meta[vector.SessionKey] = sessionID
		}
		points[i] = vector.Point{
			ID:         uuid.NewString(),
			Vector:     vectors[i],
			HasContent: !p.opts.EmbeddingsOnly,
			Snippet:    snippet(r.text, p.opts.SnippetLength),
			Metadata:   meta,
		}
		if !p.opts.EmbeddingsOnly {
			points[i].Content = r.text
		}
	}

	p.opts.Logger.Debug("upserting points",
		"collection", p.opts.Collection, "points", len(points), "vector_dim", len(vectors[0]))
	if err := p.store.Upsert(ctx, p.opts.Collection, points); err != nil {
		return nil, err
	}

	mode := ModeFull
	if p.opts.EmbeddingsOnly {
		mode = ModeEmbeddingsOnly
	}
	p.opts.Logger.Info("ingest complete",
		"documents", processed, "chunks", len(refs), "collection", p.opts.Collection, "mode", mode)

	return &Result{
		DocumentsProcessed: processed,
		ChunksCreated:      len(refs),
		PointsIndexed:      len(points),
		Collection:         p.opts.Collection,
		Mode:               mode,
	}, nil
}

// snippet truncates text to at most n runes.
func snippet(text string, n int) string {
	runes := []rune(text)
	if len(runes) <= n {
		return text
	}
	return string(runes[:n])
}
