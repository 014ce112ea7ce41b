package llm

import (
	"context"
	"strings"
	"testing"
	"time"
)

type stubProvider struct{ name string }

func (s *stubProvider) Complete(_ context.Context, _ *Prompt, _ *RequestOptions) (*Response, error) {
	return &Response{Content: "stub"}, nil
}

func (s *stubProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0, 0, 0}
	}
	return out, nil
}

func (s *stubProvider) Name() string { return s.name }

func TestFactory_CreateRegistered(t *testing.T) {
	f := NewFactory()
	f.Register("stub", func(cfg ProviderConfig) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	})

	p, err := f.Create(ProviderConfig{Provider: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Name() != "stub" {
		t.Errorf("expected stub provider, got %q", p.Name())
	}
}

func TestFactory_UnknownProvider(t *testing.T) {
	f := NewFactory()
	f.Register("stub", func(cfg ProviderConfig) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	})

	_, err := f.Create(ProviderConfig{Provider: "nope"})
	if err == nil {
		t.Fatal("expected error for unknown provider")
	}
	if !strings.Contains(err.Error(), "nope") {
		t.Errorf("error should name the unknown provider: %v", err)
	}
}

func TestFactory_EmptyProvider(t *testing.T) {
	f := NewFactory()
	if _, err := f.Create(ProviderConfig{}); err == nil {
		t.Fatal("expected error for empty provider name")
	}
}

func TestFactory_WrapsWithRetry(t *testing.T) {
	f := NewFactory()
	f.Register("stub", func(cfg ProviderConfig) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	})

	p, err := f.Create(ProviderConfig{Provider: "stub", MaxRetries: 2, Timeout: time.Second})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*RetryProvider); !ok {
		t.Errorf("expected provider wrapped in RetryProvider, got %T", p)
	}
	// Wrapped provider still reports the inner name.
	if p.Name() != "stub" {
		t.Errorf("expected inner name, got %q", p.Name())
	}
}

func TestFactory_NoWrapWithoutRetryConfig(t *testing.T) {
	f := NewFactory()
	f.Register("stub", func(cfg ProviderConfig) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	})

	p, err := f.Create(ProviderConfig{Provider: "stub"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := p.(*stubProvider); !ok {
		t.Errorf("expected bare provider, got %T", p)
	}
}
