package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/efebarandurmaz/sift/internal/llm"
	"github.com/efebarandurmaz/sift/internal/observability"
)

const (
	// defaultTopK matches the retrieval depth used for answer grounding.
	defaultTopK = 5

	// sourceSnippetLength bounds the per-source excerpt in responses.
	sourceSnippetLength = 200

	// fragmentSize is the rune length of one streamed answer fragment.
	fragmentSize = 48

	contextSeparator = "\n\n---\n\n"
)

const systemPrompt = `You are a documentation assistant. Answer strictly from the context below. ` +
	`If the context does not contain the answer, reply exactly: "I don't know based on the provided documents." ` +
	`If the question is too vague to match the context, ask one clarifying question instead. ` +
	`Never use knowledge from outside the context.`

const (
	noResultsMessage      = "I couldn't find any relevant information in the indexed documents. Try ingesting more content first."
	embeddingsOnlyMessage = "The matched documents were indexed without their text (embeddings-only mode), so I can point at them but cannot quote or summarize their content. Check the sources below."
)

// Source describes one chunk an answer was grounded on.
type Source struct {
	ID       string            `json:"id"`
	Score    float32           `json:"score"`
	Snippet  string            `json:"snippet,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Answer is a complete grounded answer with its provenance. Grounded is false
// when the text was produced without consulting the language model.
type Answer struct {
	Text     string   `json:"answer"`
	Sources  []Source `json:"sources"`
	Grounded bool     `json:"grounded"`
}

// Fragment is one piece of a streamed answer. The final fragment has Done set
// and empty text.
type Fragment struct {
	Text string
	Done bool
}

// Orchestrator runs the full query path: retrieve, assemble context, generate.
type Orchestrator struct {
	retriever *Retriever
	provider  llm.Provider
	topK      int
	reqOpts   *llm.RequestOptions
	logger    *slog.Logger
}

// NewOrchestrator creates an Orchestrator. topK <= 0 selects the default
// retrieval depth.
func NewOrchestrator(retriever *Retriever, provider llm.Provider, topK int, logger *slog.Logger) *Orchestrator {
	if topK <= 0 {
		topK = defaultTopK
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{retriever: retriever, provider: provider, topK: topK, logger: logger}
}

// SetGenerationOptions sets the sampling options sent with every completion.
func (o *Orchestrator) SetGenerationOptions(opts *llm.RequestOptions) {
	o.reqOpts = opts
}

// Ask answers a query from the indexed documents. Two short-circuits skip the
// language model entirely: no matches at all, and matches that were indexed
// without content.
func (o *Orchestrator) Ask(ctx context.Context, query, sessionID string) (*Answer, error) {
	results, err := o.retriever.Retrieve(ctx, query, o.topK, sessionID)
	if err != nil {
		return nil, err
	}

	sources := toSources(results)

	if len(results) == 0 {
		return &Answer{Text: noResultsMessage, Sources: sources}, nil
	}
	if embeddingsOnly(results) {
		o.logger.Info("embeddings-only matches, skipping generation", "matches", len(results))
		return &Answer{Text: embeddingsOnlyMessage, Sources: sources}, nil
	}

	prompt := llm.UserPrompt(systemPrompt, buildContext(results, query))

	llmCtx, span := observability.StartLLMSpan(ctx, o.provider.Name(), "")
	started := time.Now()
	resp, err := o.provider.Complete(llmCtx, prompt, o.reqOpts)
	if err != nil {
		err = fmt.Errorf("generating answer: %w", err)
		observability.RecordError(span, err)
		span.End()
		return nil, err
	}
	observability.RecordLLMMetrics(span, resp.InputTokens, resp.OutputTokens, time.Since(started))
	span.End()

	o.logger.Debug("answer generated",
		"matches", len(results), "input_tokens", resp.InputTokens, "output_tokens", resp.OutputTokens)

	// Local models may leak their reasoning into the completion.
	text := llm.StripThinkingTags(resp.Content)

	return &Answer{Text: text, Sources: sources, Grounded: true}, nil
}

// Stream slices a finished answer into fixed-size fragments on a channel. The
// producer stops early when ctx is cancelled; otherwise the last fragment has
// Done set.
func (o *Orchestrator) Stream(ctx context.Context, answer *Answer) <-chan Fragment {
	out := make(chan Fragment)
	go func() {
		defer close(out)
		runes := []rune(answer.Text)
		for start := 0; start < len(runes); start += fragmentSize {
			end := start + fragmentSize
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case out <- Fragment{Text: string(runes[start:end])}:
			case <-ctx.Done():
				return
			}
		}
		select {
		case out <- Fragment{Done: true}:
		case <-ctx.Done():
		}
	}()
	return out
}

// buildContext joins retrieved chunks into the grounding block followed by
// the user's question. Chunks indexed without content are left out entirely;
// a stored snippet is not a substitute for the full text.
func buildContext(results []Result, query string) string {
	parts := make([]string, 0, len(results))
	for _, r := range results {
		if !r.HasContent || r.Content == "" {
			continue
		}
		parts = append(parts, r.Content)
	}

	var b strings.Builder
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(parts, contextSeparator))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

// embeddingsOnly reports whether no match carries content.
func embeddingsOnly(results []Result) bool {
	for _, r := range results {
		if r.HasContent {
			return false
		}
	}
	return true
}

func toSources(results []Result) []Source {
	sources := make([]Source, len(results))
	for i, r := range results {
		excerpt := r.Snippet
		if excerpt == "" {
			excerpt = r.Content
		}
		if runes := []rune(excerpt); len(runes) > sourceSnippetLength {
			excerpt = string(runes[:sourceSnippetLength])
		}
		sources[i] = Source{ID: r.ID, Score: r.Score, Snippet: excerpt, Metadata: r.Metadata}
	}
	return sources
}
