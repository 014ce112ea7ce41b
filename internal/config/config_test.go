package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Embedding.Dimension != 1536 {
		t.Errorf("expected default dimension 1536, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Chunker.Size != 1000 || cfg.Chunker.Overlap != 200 {
		t.Errorf("expected default chunker 1000/200, got %d/%d", cfg.Chunker.Size, cfg.Chunker.Overlap)
	}
	if cfg.Vector.Collection != "default" {
		t.Errorf("expected default collection, got %q", cfg.Vector.Collection)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("expected default addr :8080, got %q", cfg.Server.Addr)
	}
	if cfg.LLM.MaxRetries != 0 {
		t.Errorf("retries must be off by default, got %d", cfg.LLM.MaxRetries)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sift.yaml")
	yaml := `
embedding:
  dimension: 768
  model: nomic-embed-text
chunker:
  size: 500
  overlap: 50
crawler:
  request_timeout: 5s
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Embedding.Dimension != 768 {
		t.Errorf("expected dimension 768, got %d", cfg.Embedding.Dimension)
	}
	if cfg.Embedding.Model != "nomic-embed-text" {
		t.Errorf("expected model override, got %q", cfg.Embedding.Model)
	}
	if cfg.Crawler.RequestTimeout != 5*time.Second {
		t.Errorf("expected 5s timeout, got %v", cfg.Crawler.RequestTimeout)
	}
	// untouched sections keep defaults
	if cfg.Vector.Port != 6334 {
		t.Errorf("expected default qdrant port, got %d", cfg.Vector.Port)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/sift.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SIFT_VECTOR_COLLECTION", "docs")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vector.Collection != "docs" {
		t.Errorf("expected env override, got %q", cfg.Vector.Collection)
	}
}

func TestValidate_MissingAPIKey(t *testing.T) {
	cfg := &Config{
		LLM:       LLMConfig{Provider: "openai"},
		Embedding: EmbeddingConfig{Dimension: 1536},
		Chunker:   ChunkerConfig{Size: 1000, Overlap: 200},
		Crawler:   CrawlerConfig{MaxPages: 5},
	}
	warnings := cfg.Validate()
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "api_key") {
			found = true
			break
		}
	}
	if !found {
		t.Error("expected warning about missing api_key")
	}
}

func TestValidate_ChunkerOverlap(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		want    bool // true = should warn
	}{
		{"normal", 1000, 200, false},
		{"zero_overlap", 1000, 0, false},
		{"equal", 200, 200, true},
		{"inverted", 100, 200, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				Embedding: EmbeddingConfig{Dimension: 1536},
				Chunker:   ChunkerConfig{Size: tt.size, Overlap: tt.overlap},
				Crawler:   CrawlerConfig{MaxPages: 5},
			}
			hasWarn := false
			for _, w := range cfg.Validate() {
				if strings.Contains(w, "overlap") {
					hasWarn = true
				}
			}
			if hasWarn != tt.want {
				t.Errorf("size=%d overlap=%d: hasWarn=%v, want=%v", tt.size, tt.overlap, hasWarn, tt.want)
			}
		})
	}
}

func TestValidate_Dimension(t *testing.T) {
	cfg := &Config{
		Chunker: ChunkerConfig{Size: 1000, Overlap: 200},
		Crawler: CrawlerConfig{MaxPages: 5},
	}
	found := false
	for _, w := range cfg.Validate() {
		if strings.Contains(w, "dimension") {
			found = true
		}
	}
	if !found {
		t.Error("expected warning about non-positive embedding dimension")
	}
}

func TestResolveEmbedding_Fallbacks(t *testing.T) {
	cfg := &Config{
		LLM: LLMConfig{Provider: "openai", APIKey: "sk-test", BaseURL: "http://llm.local/v1"},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
	}

	resolved := cfg.ResolveEmbedding()
	if resolved.Provider != "openai" {
		t.Errorf("expected provider fallback, got %q", resolved.Provider)
	}
	if resolved.APIKey != "sk-test" {
		t.Errorf("expected api key fallback, got %q", resolved.APIKey)
	}
	if resolved.BaseURL != "http://llm.local/v1" {
		t.Errorf("expected base url fallback, got %q", resolved.BaseURL)
	}
}

func TestResolveEmbedding_ExplicitWins(t *testing.T) {
	cfg := &Config{
		LLM:       LLMConfig{Provider: "anthropic", APIKey: "ak-1"},
		Embedding: EmbeddingConfig{Provider: "openai", APIKey: "sk-2", Dimension: 1536},
	}

	resolved := cfg.ResolveEmbedding()
	if resolved.Provider != "openai" || resolved.APIKey != "sk-2" {
		t.Errorf("explicit embedding settings must win, got %+v", resolved)
	}
}
