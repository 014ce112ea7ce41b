package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/efebarandurmaz/sift/internal/textproc"
	"github.com/efebarandurmaz/sift/internal/vector"
)

type fakeStore struct {
	ensureErr   error
	upsertErr   error
	ensured     []string
	upserted    []vector.Point
	upsertCalls int
}

func (s *fakeStore) EnsureCollection(ctx context.Context, collection string, dimension int) (bool, error) {
	s.ensured = append(s.ensured, collection)
	return true, s.ensureErr
}

func (s *fakeStore) Describe(ctx context.Context, collection string) (*vector.CollectionInfo, error) {
	return &vector.CollectionInfo{Name: collection}, nil
}

func (s *fakeStore) DeleteCollection(ctx context.Context, collection string) error { return nil }

func (s *fakeStore) Upsert(ctx context.Context, collection string, points []vector.Point) error {
	s.upsertCalls++
	if s.upsertErr != nil {
		return s.upsertErr
	}
	s.upserted = append(s.upserted, points...)
	return nil
}

func (s *fakeStore) Search(ctx context.Context, collection string, v []float32, topK int, filter map[string]string) ([]vector.SearchResult, error) {
	return nil, nil
}

func (s *fakeStore) Scroll(ctx context.Context, collection string, filter map[string]string, limit int) ([]vector.Point, error) {
	return nil, nil
}

func (s *fakeStore) DeletePoints(ctx context.Context, collection string, ids []string) error {
	return nil
}

func (s *fakeStore) DeleteByMetadata(ctx context.Context, collection string, filter map[string]string) error {
	return nil
}

func (s *fakeStore) Close() error { return nil }

type fakeEmbedder struct {
	dim   int
	err   error
	calls int
}

func (e *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, e.dim)
	}
	return out, nil
}

func newTestPipeline(t *testing.T, store *fakeStore, embedder *fakeEmbedder, opts Options) *Pipeline {
	t.Helper()
	chunker, err := textproc.NewChunker(100, 20)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Collection == "" {
		opts.Collection = "docs"
	}
	if opts.Dimension == 0 {
		opts.Dimension = 4
	}
	return NewPipeline(chunker, embedder, store, opts)
}

func TestIngest_FullMode(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, &fakeEmbedder{dim: 4}, Options{})

	docs := []Document{FromText("https://example.com", strings.Repeat("some words here. ", 20))}
	result, err := p.Ingest(context.Background(), docs, "session-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.DocumentsProcessed != 1 {
		t.Errorf("expected 1 document, got %d", result.DocumentsProcessed)
	}
	if result.ChunksCreated < 2 {
		t.Errorf("expected multiple chunks, got %d", result.ChunksCreated)
	}
	if result.PointsIndexed != len(store.upserted) {
		t.Errorf("result reports %d points, store got %d", result.PointsIndexed, len(store.upserted))
	}
	if result.Mode != ModeFull {
		t.Errorf("expected full mode, got %q", result.Mode)
	}

	for i, pt := range store.upserted {
		if !pt.HasContent || pt.Content == "" {
			t.Errorf("point %d missing content in full mode", i)
		}
		if pt.ID == "" {
			t.Errorf("point %d has no id", i)
		}
		if pt.Metadata["source"] != "https://example.com" {
			t.Errorf("point %d wrong source: %q", i, pt.Metadata["source"])
		}
		if pt.Metadata["type"] != TypeText {
			t.Errorf("point %d wrong type: %q", i, pt.Metadata["type"])
		}
		if pt.Metadata[vector.SessionKey] != "session-1" {
			t.Errorf("point %d missing session tag", i)
		}
		if pt.Metadata["chunk_index"] == "" || pt.Metadata["total_chunks"] == "" {
			t.Errorf("point %d missing chunk position metadata", i)
		}
	}
}

func TestIngest_DocumentTypeMetadata(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, &fakeEmbedder{dim: 4}, Options{})

	docs := []Document{
		FromURL("https://example.com/page", "crawled page text"),
		FromText("inline", "pasted text"),
	}
	if _, err := p.Ingest(context.Background(), docs, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	types := map[string]string{}
	for _, pt := range store.upserted {
		types[pt.Metadata["source"]] = pt.Metadata["type"]
	}
	if types["https://example.com/page"] != TypeURL {
		t.Errorf("crawled document type: got %q, want %q", types["https://example.com/page"], TypeURL)
	}
	if types["inline"] != TypeText {
		t.Errorf("inline document type: got %q, want %q", types["inline"], TypeText)
	}
}

func TestIngest_EmbeddingsOnlyMode(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, &fakeEmbedder{dim: 4}, Options{EmbeddingsOnly: true})

	result, err := p.Ingest(context.Background(), []Document{FromText("src", "short document text")}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Mode != ModeEmbeddingsOnly {
		t.Errorf("expected embeddings_only mode, got %q", result.Mode)
	}
	for i, pt := range store.upserted {
		if pt.HasContent || pt.Content != "" {
			t.Errorf("point %d carries content in embeddings-only mode", i)
		}
		if pt.Snippet == "" {
			t.Errorf("point %d should keep a snippet", i)
		}
		if _, ok := pt.Metadata[vector.SessionKey]; ok {
			t.Errorf("point %d tagged with session despite empty id", i)
		}
	}
}

func TestIngest_NoContent(t *testing.T) {
	p := newTestPipeline(t, &fakeStore{}, &fakeEmbedder{dim: 4}, Options{})

	docs := []Document{FromText("a", "   \n\t  "), FromText("b", "")}
	if _, err := p.Ingest(context.Background(), docs, ""); !errors.Is(err, ErrNoContent) {
		t.Errorf("expected ErrNoContent, got %v", err)
	}
}

func TestIngest_DimensionMismatch(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, &fakeEmbedder{dim: 3}, Options{Dimension: 4})

	_, err := p.Ingest(context.Background(), []Document{FromText("src", "some text")}, "")
	var mismatch *DimensionMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected DimensionMismatchError, got %v", err)
	}
	if mismatch.Observed != 3 || mismatch.Expected != 4 {
		t.Errorf("wrong dimensions in error: %+v", mismatch)
	}
	if store.upsertCalls != 0 {
		t.Error("nothing must be upserted on dimension mismatch")
	}
}

func TestIngest_EmbedFailureSkipsUpsert(t *testing.T) {
	store := &fakeStore{}
	p := newTestPipeline(t, store, &fakeEmbedder{err: errors.New("backend down")}, Options{})

	if _, err := p.Ingest(context.Background(), []Document{FromText("src", "text")}, ""); err == nil {
		t.Fatal("expected error")
	}
	if store.upsertCalls != 0 {
		t.Error("nothing must be upserted when embedding fails")
	}
}

func TestIngest_CollectionMismatchPropagates(t *testing.T) {
	mismatch := &vector.CollectionMismatchError{Collection: "docs", Existing: 768, Requested: 4}
	store := &fakeStore{ensureErr: mismatch}
	embedder := &fakeEmbedder{dim: 4}
	p := newTestPipeline(t, store, embedder, Options{})

	_, err := p.Ingest(context.Background(), []Document{FromText("src", "text")}, "")
	var got *vector.CollectionMismatchError
	if !errors.As(err, &got) {
		t.Fatalf("expected CollectionMismatchError, got %v", err)
	}
	if embedder.calls != 0 {
		t.Error("must not embed when the collection is unusable")
	}
}

func TestIngest_SnippetTruncation(t *testing.T) {
	store := &fakeStore{}
	chunker, _ := textproc.NewChunker(1000, 0)
	p := NewPipeline(chunker, &fakeEmbedder{dim: 4}, store, Options{
		Collection: "docs", Dimension: 4, SnippetLength: 10,
	})

	_, err := p.Ingest(context.Background(), []Document{FromText("src", strings.Repeat("abcde ", 30))}, "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, pt := range store.upserted {
		if len([]rune(pt.Snippet)) > 10 {
			t.Errorf("snippet exceeds limit: %d runes", len([]rune(pt.Snippet)))
		}
	}
}

func TestFromFile(t *testing.T) {
	t.Run("plain_text", func(t *testing.T) {
		doc, err := FromFile("notes.txt", "text/plain; charset=utf-8", strings.NewReader("hello"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if doc.Text != "hello" || doc.Source != "notes.txt" || doc.Type != TypeFile {
			t.Errorf("unexpected document: %+v", doc)
		}
	})

	t.Run("markdown_by_extension", func(t *testing.T) {
		doc, err := FromFile("readme.md", "application/octet-stream", strings.NewReader("# Title"))
		if err == nil && doc.Text == "# Title" {
			return
		}
		// octet-stream with .md must still load
		t.Errorf("markdown upload failed: doc=%+v err=%v", doc, err)
	})

	t.Run("csv_flattened", func(t *testing.T) {
		doc, err := FromFile("data.csv", "text/csv", strings.NewReader("name,age\nalice,30\n"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := "name age\nalice 30"
		if doc.Text != want {
			t.Errorf("got %q, want %q", doc.Text, want)
		}
	})

	t.Run("pdf_rejected", func(t *testing.T) {
		_, err := FromFile("doc.pdf", "application/pdf", strings.NewReader("%PDF-"))
		if err == nil || !strings.Contains(err.Error(), "pdf") {
			t.Errorf("expected pdf rejection, got %v", err)
		}
	})

	t.Run("docx_rejected", func(t *testing.T) {
		_, err := FromFile("doc.docx",
			"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
			strings.NewReader("PK"))
		if err == nil || !strings.Contains(err.Error(), "docx") {
			t.Errorf("expected docx rejection, got %v", err)
		}
	})

	t.Run("unknown_binary_rejected", func(t *testing.T) {
		if _, err := FromFile("img.png", "image/png", strings.NewReader("x")); err == nil {
			t.Error("expected rejection for image upload")
		}
	})
}
