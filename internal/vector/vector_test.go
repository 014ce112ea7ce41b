package vector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/efebarandurmaz/sift/internal/llm"
)

func TestPointValidate(t *testing.T) {
	tests := []struct {
		name    string
		point   Point
		wantErr bool
	}{
		{"full", Point{ID: "a", Vector: []float32{1}, Content: "text", HasContent: true}, false},
		{"embeddings_only", Point{ID: "a", Vector: []float32{1}, HasContent: false}, false},
		{"empty_id", Point{Vector: []float32{1}, HasContent: false}, true},
		{"empty_vector", Point{ID: "a", HasContent: false}, true},
		{"claims_content_without_any", Point{ID: "a", Vector: []float32{1}, HasContent: true}, true},
		{"content_without_flag", Point{ID: "a", Vector: []float32{1}, Content: "leak"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.point.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	p := Point{
		ID:         "id-1",
		Vector:     []float32{0.1, 0.2},
		Content:    "chunk text",
		HasContent: true,
		Snippet:    "chunk",
		Metadata:   map[string]string{"source": "https://example.com", SessionKey: "s1"},
	}

	payload, err := encodePayload(&p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	content, hasContent, snippet, meta := decodePayload(payload)
	if content != p.Content || !hasContent || snippet != p.Snippet {
		t.Errorf("round trip lost content fields: %q %v %q", content, hasContent, snippet)
	}
	if meta["source"] != "https://example.com" || meta[SessionKey] != "s1" {
		t.Errorf("round trip lost metadata: %v", meta)
	}
}

func TestPayload_EmbeddingsOnlyOmitsContent(t *testing.T) {
	p := Point{ID: "id-1", Vector: []float32{0.1}, HasContent: false, Snippet: "s"}
	payload, err := encodePayload(&p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := payload["content"]; ok {
		t.Error("embeddings-only payload must not carry a content key")
	}

	content, hasContent, _, _ := decodePayload(payload)
	if content != "" || hasContent {
		t.Errorf("expected empty content, got %q hasContent=%v", content, hasContent)
	}
}

func TestPayload_RejectsReservedMetadataKeys(t *testing.T) {
	for _, key := range []string{"content", "has_content", "snippet"} {
		p := Point{ID: "a", Vector: []float32{1}, HasContent: false, Metadata: map[string]string{key: "x"}}
		if _, err := encodePayload(&p); err == nil {
			t.Errorf("expected error for reserved metadata key %q", key)
		}
	}
}

func TestMatchFilter(t *testing.T) {
	if matchFilter(nil) != nil {
		t.Error("expected nil filter for empty input")
	}
	f := matchFilter(map[string]string{SessionKey: "s1", "source": "u"})
	if len(f.Must) != 2 {
		t.Errorf("expected 2 conditions, got %d", len(f.Must))
	}
}

type stubEmbedProvider struct {
	vectors [][]float32
	err     error
	gotIn   []string
}

func (p *stubEmbedProvider) Complete(ctx context.Context, prompt *llm.Prompt, opts *llm.RequestOptions) (*llm.Response, error) {
	return nil, errors.New("not implemented")
}

func (p *stubEmbedProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.gotIn = texts
	return p.vectors, p.err
}

func (p *stubEmbedProvider) Name() string { return "stub" }

func TestEmbedBatch(t *testing.T) {
	provider := &stubEmbedProvider{vectors: [][]float32{{1, 2}, {3, 4}}}
	e := NewEmbedder(provider)

	vectors, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 {
		t.Errorf("expected 2 vectors, got %d", len(vectors))
	}
	if len(provider.gotIn) != 2 {
		t.Errorf("expected both texts forwarded, got %v", provider.gotIn)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	e := NewEmbedder(&stubEmbedProvider{})
	vectors, err := e.EmbedBatch(context.Background(), nil)
	if err != nil || vectors != nil {
		t.Errorf("expected nil, nil for empty input, got %v, %v", vectors, err)
	}
}

func TestEmbedBatch_CountMismatch(t *testing.T) {
	e := NewEmbedder(&stubEmbedProvider{vectors: [][]float32{{1}}})
	_, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	if err == nil || !strings.Contains(err.Error(), "count mismatch") {
		t.Errorf("expected count mismatch error, got %v", err)
	}
}

func TestEmbedBatch_NonUniformLength(t *testing.T) {
	e := NewEmbedder(&stubEmbedProvider{vectors: [][]float32{{1, 2}, {3}}})
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected error for non-uniform vector lengths")
	}
}

func TestEmbedBatch_EmptyVector(t *testing.T) {
	e := NewEmbedder(&stubEmbedProvider{vectors: [][]float32{{}, {}}})
	if _, err := e.EmbedBatch(context.Background(), []string{"a", "b"}); err == nil {
		t.Error("expected error for empty vectors")
	}
}

func TestEmbedOne(t *testing.T) {
	e := NewEmbedder(&stubEmbedProvider{vectors: [][]float32{{1, 2, 3}}})
	v, err := e.EmbedOne(context.Background(), "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(v) != 3 {
		t.Errorf("expected 3-dim vector, got %d", len(v))
	}
}

func TestCollectionMismatchError_Message(t *testing.T) {
	err := &CollectionMismatchError{Collection: "docs", Existing: 768, Requested: 1536}
	msg := err.Error()
	for _, want := range []string{"docs", "768", "1536", "delete the collection"} {
		if !strings.Contains(msg, want) {
			t.Errorf("error message missing %q: %s", want, msg)
		}
	}
}
