package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/sift/internal/config"
	"github.com/efebarandurmaz/sift/internal/crawler"
	"github.com/efebarandurmaz/sift/internal/ingest"
	"github.com/efebarandurmaz/sift/internal/llm"
	"github.com/efebarandurmaz/sift/internal/llm/anthropic"
	"github.com/efebarandurmaz/sift/internal/llm/openai"
	"github.com/efebarandurmaz/sift/internal/observability"
	"github.com/efebarandurmaz/sift/internal/rag"
	"github.com/efebarandurmaz/sift/internal/server"
	"github.com/efebarandurmaz/sift/internal/textproc"
	"github.com/efebarandurmaz/sift/internal/vector"
)

const version = "0.1.0"

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "sift",
		Short: "Crawl, index and query documents with grounded answers",
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath)
		},
	}

	var (
		ingestURL      string
		ingestFile     string
		ingestText     string
		ingestSession  string
		ingestMaxPages int
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index a URL, file or raw text into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIngest(configPath, ingestURL, ingestFile, ingestText, ingestSession, ingestMaxPages)
		},
	}
	ingestCmd.Flags().StringVar(&ingestURL, "url", "", "Seed URL to crawl")
	ingestCmd.Flags().StringVar(&ingestFile, "file", "", "File to index")
	ingestCmd.Flags().StringVar(&ingestText, "text", "", "Raw text to index")
	ingestCmd.Flags().StringVar(&ingestSession, "session", "", "Session id to tag points with")
	ingestCmd.Flags().IntVar(&ingestMaxPages, "max-pages", 0, "Crawl page budget (overrides config)")

	var (
		querySession string
		queryJSON    bool
	)
	queryCmd := &cobra.Command{
		Use:   "query [question]",
		Short: "Ask a question over the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(configPath, strings.Join(args, " "), querySession, queryJSON)
		},
	}
	queryCmd.Flags().StringVar(&querySession, "session", "", "Restrict retrieval to one ingest session")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "Output the full answer as JSON")

	collectionCmd := &cobra.Command{
		Use:   "collection",
		Short: "Collection operations",
	}

	collectionInfoCmd := &cobra.Command{
		Use:   "info [name]",
		Short: "Show collection metadata",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return runCollectionInfo(configPath, name)
		},
	}

	var createDimension int
	collectionCreateCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a collection, or verify an existing one fits",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := ""
			if len(args) > 0 {
				name = args[0]
			}
			return runCollectionCreate(configPath, name, createDimension)
		},
	}
	collectionCreateCmd.Flags().IntVar(&createDimension, "dimension", 0, "Vector dimension (default from config)")

	collectionDeleteCmd := &cobra.Command{
		Use:   "delete [name]",
		Short: "Delete a collection and all its points",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCollectionDelete(configPath, args[0])
		},
	}

	collectionCmd.AddCommand(collectionInfoCmd, collectionCreateCmd, collectionDeleteCmd)

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available LLM providers",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("Available LLM providers:")
			fmt.Println()
			for name, url := range llm.KnownProviders {
				fmt.Printf("  %-14s %s\n", name, url)
			}
			fmt.Println("  custom         (set base_url to any OpenAI-compatible endpoint)")
			fmt.Println()
			fmt.Println("Configure in sift.yaml or via environment:")
			fmt.Println("  SIFT_LLM_PROVIDER=groq")
			fmt.Println("  SIFT_LLM_API_KEY=gsk_...")
			fmt.Println("  SIFT_LLM_MODEL=llama-3.3-70b-versatile")
		},
	}

	rootCmd.AddCommand(serveCmd, ingestCmd, queryCmd, collectionCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// app bundles the wired components shared by all subcommands.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	provider     llm.Provider
	store        vector.Store
	embedder     *vector.Embedder
	pipeline     *ingest.Pipeline
	crawler      *crawler.Crawler
	orchestrator *rag.Orchestrator
}

func buildApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}
	embedProvider, err := buildEmbedProvider(cfg, provider)
	if err != nil {
		return nil, err
	}
	logger.Debug("llm provider configured",
		"provider", cfg.LLM.Provider, "model", cfg.LLM.Model, "api_key", llm.RedactSecret(cfg.LLM.APIKey))

	store, err := vector.NewQdrant(cfg.Vector.Host, cfg.Vector.Port)
	if err != nil {
		return nil, err
	}

	chunker, err := textproc.NewChunker(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}

	embedder := vector.NewEmbedder(embedProvider)
	pipeline := ingest.NewPipeline(chunker, embedder, store, ingest.Options{
		Collection:     cfg.Vector.Collection,
		Dimension:      cfg.Embedding.Dimension,
		EmbeddingsOnly: cfg.Ingest.EmbeddingsOnly,
		SnippetLength:  cfg.Ingest.SnippetLength,
		Logger:         logger,
	})

	crawl := crawler.New(crawler.Options{
		MaxPages:          cfg.Crawler.MaxPages,
		RequestTimeout:    cfg.Crawler.RequestTimeout,
		UserAgent:         cfg.Crawler.UserAgent,
		RequestsPerSecond: cfg.Crawler.RequestsPerSecond,
		Logger:            logger,
	})

	retriever := rag.NewRetriever(embedder, store, cfg.Vector.Collection)
	orchestrator := rag.NewOrchestrator(retriever, provider, 0, logger)
	orchestrator.SetGenerationOptions(generationOptions(cfg))

	return &app{
		cfg:          cfg,
		logger:       logger,
		provider:     provider,
		store:        store,
		embedder:     embedder,
		pipeline:     pipeline,
		crawler:      crawl,
		orchestrator: orchestrator,
	}, nil
}

// generationOptions maps the llm config section onto completion options. Nil
// when nothing is set, so provider defaults apply.
func generationOptions(cfg *config.Config) *llm.RequestOptions {
	var opts llm.RequestOptions
	set := false
	if cfg.LLM.Temperature > 0 {
		temp := cfg.LLM.Temperature
		opts.Temperature = &temp
		set = true
	}
	if cfg.LLM.MaxTokens > 0 {
		maxTokens := cfg.LLM.MaxTokens
		opts.MaxTokens = &maxTokens
		set = true
	}
	if !set {
		return nil
	}
	return &opts
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func newFactory() *llm.ProviderFactory {
	factory := llm.NewFactory()
	factory.Register("anthropic", func(c llm.ProviderConfig) (llm.Provider, error) {
		return anthropic.New(c.APIKey, c.Model, c.BaseURL), nil
	})
	factory.Register("openai", func(c llm.ProviderConfig) (llm.Provider, error) {
		return openai.New(c.APIKey, c.Model, c.BaseURL, c.EmbedModel), nil
	})
	// All OpenAI-compatible providers
	for _, p := range []struct{ name, url string }{
		{"groq", llm.KnownProviders["groq"]},
		{"ollama", llm.KnownProviders["ollama"]},
		{"together", llm.KnownProviders["together"]},
		{"deepseek", llm.KnownProviders["deepseek"]},
		{"custom", ""},
	} {
		p := p
		factory.Register(p.name, func(c llm.ProviderConfig) (llm.Provider, error) {
			base := c.BaseURL
			if base == "" {
				base = p.url
			}
			return openai.New(c.APIKey, c.Model, base, c.EmbedModel), nil
		})
	}
	return factory
}

// providerConfig starts from the package defaults and overlays the loaded
// config, so unset fields keep their defaults.
func providerConfig(cfg *config.Config) llm.ProviderConfig {
	pc := llm.DefaultProviderConfig()
	pc.Provider = cfg.LLM.Provider
	pc.APIKey = cfg.LLM.APIKey
	pc.Model = cfg.LLM.Model
	pc.BaseURL = cfg.LLM.BaseURL
	pc.EmbedModel = cfg.Embedding.Model
	pc.MaxRetries = cfg.LLM.MaxRetries
	if cfg.LLM.Timeout > 0 {
		pc.Timeout = cfg.LLM.Timeout
	}
	return pc
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	provider, err := newFactory().Create(providerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("creating LLM provider: %w", err)
	}
	if cfg.LLM.RequestsPerMinute > 0 {
		provider = llm.NewRateLimitProvider(provider, &llm.RateLimitConfig{
			RequestsPerMinute: cfg.LLM.RequestsPerMinute,
		})
	}
	return provider, nil
}

// buildEmbedProvider returns the embedding backend. When the embedding section
// matches the LLM section the completion provider doubles as the embedder.
func buildEmbedProvider(cfg *config.Config, completion llm.Provider) (llm.Provider, error) {
	resolved := cfg.ResolveEmbedding()
	if resolved.Provider == cfg.LLM.Provider && resolved.BaseURL == cfg.LLM.BaseURL {
		return completion, nil
	}

	pc := providerConfig(cfg)
	pc.Provider = resolved.Provider
	pc.APIKey = resolved.APIKey
	pc.Model = resolved.Model
	pc.BaseURL = resolved.BaseURL
	pc.EmbedModel = resolved.Model
	provider, err := newFactory().Create(pc)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	return provider, nil
}

func runServe(configPath string) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	ctx := context.Background()

	tracing, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "sift",
		ServiceVersion: version,
		Environment:    a.cfg.Observability.Environment,
		OTLPEndpoint:   a.cfg.Observability.OTLPEndpoint,
		SampleRate:     a.cfg.Observability.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}

	api := server.NewAPI(server.APIConfig{
		Addr:          a.cfg.Server.Addr,
		ReadTimeout:   a.cfg.Server.ReadTimeout,
		WriteTimeout:  a.cfg.Server.WriteTimeout,
		Collection:    a.cfg.Vector.Collection,
		Dimension:     a.cfg.Embedding.Dimension,
		MaxPagesLimit: a.cfg.Crawler.MaxPagesLimit,
	}, a.pipeline, a.crawler, a.orchestrator, a.store, a.logger)

	health := server.NewHealthServer(version)
	health.RegisterCheck("qdrant", server.QdrantHealthChecker(func(ctx context.Context) error {
		_, err := a.store.Describe(ctx, a.cfg.Vector.Collection)
		return err
	}))
	health.RegisterCheck("llm", server.LLMHealthChecker(a.provider.Name(), nil))
	api.MountHealth(health)
	api.MountMetrics(observability.NewSiftMetrics())

	shutdown := server.NewShutdownHandler(nil)
	shutdown.Register(
		server.HTTPServerShutdownHook("api-server", api.Shutdown),
		server.TracingShutdownHook(tracing.Shutdown),
		server.VectorStoreShutdownHook(a.store.Close),
	)
	shutdown.Start()

	health.SetReady(true)
	errCh := make(chan error, 1)
	go func() {
		errCh <- api.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			shutdown.Wait()
			return nil
		}
		return err
	case <-shutdown.Done():
		return nil
	}
}

func runIngest(configPath, url, file, text, session string, maxPages int) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()
	ctx := context.Background()

	var docs []ingest.Document
	switch {
	case url != "":
		budget := a.cfg.Crawler.MaxPages
		if maxPages > 0 {
			budget = maxPages
		}
		if a.cfg.Crawler.MaxPagesLimit > 0 && budget > a.cfg.Crawler.MaxPagesLimit {
			return fmt.Errorf("max-pages %d exceeds limit %d", budget, a.cfg.Crawler.MaxPagesLimit)
		}
		crawl := crawler.New(crawler.Options{
			MaxPages:          budget,
			RequestTimeout:    a.cfg.Crawler.RequestTimeout,
			UserAgent:         a.cfg.Crawler.UserAgent,
			RequestsPerSecond: a.cfg.Crawler.RequestsPerSecond,
			Logger:            a.logger,
		})
		pages, err := crawl.Crawl(ctx, url)
		if err != nil {
			return err
		}
		fmt.Printf("Crawled %d pages from %s\n", len(pages), url)
		for _, p := range pages {
			docs = append(docs, ingest.FromURL(p.URL, p.Text))
		}
	case file != "":
		f, err := os.Open(file)
		if err != nil {
			return err
		}
		doc, err := ingest.FromFile(filepath.Base(file), "", f)
		f.Close()
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	case text != "":
		docs = append(docs, ingest.FromText("inline", text))
	default:
		return fmt.Errorf("one of --url, --file or --text is required")
	}

	result, err := a.pipeline.Ingest(ctx, docs, session)
	if err != nil {
		return err
	}
	fmt.Printf("Indexed %d points from %d documents (%d chunks) into %q [%s]\n",
		result.PointsIndexed, result.DocumentsProcessed, result.ChunksCreated, result.Collection, result.Mode)
	return nil
}

func runQuery(configPath, question, session string, jsonOut bool) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()

	answer, err := a.orchestrator.Ask(context.Background(), question, session)
	if err != nil {
		return err
	}

	if jsonOut {
		data, _ := json.MarshalIndent(answer, "", "  ")
		fmt.Println(string(data))
		return nil
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for _, s := range answer.Sources {
			source := s.Metadata["source"]
			fmt.Printf("  [%.3f] %s\n", s.Score, source)
		}
	}
	return nil
}

func runCollectionInfo(configPath, name string) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if name == "" {
		name = a.cfg.Vector.Collection
	}
	info, err := a.store.Describe(context.Background(), name)
	if err != nil {
		return fmt.Errorf("collection %q: %w", name, err)
	}
	fmt.Printf("Collection: %s\n", info.Name)
	fmt.Printf("Dimension:  %d\n", info.Dimension)
	fmt.Printf("Distance:   %s\n", info.Distance)
	fmt.Printf("Points:     %d\n", info.Points)
	return nil
}

func runCollectionCreate(configPath, name string, dimension int) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if name == "" {
		name = a.cfg.Vector.Collection
	}
	if dimension <= 0 {
		dimension = a.cfg.Embedding.Dimension
	}
	created, err := a.store.EnsureCollection(context.Background(), name, dimension)
	if err != nil {
		return err
	}
	if created {
		fmt.Printf("Created collection %q (dimension %d)\n", name, dimension)
	} else {
		fmt.Printf("Collection %q already exists (dimension %d)\n", name, dimension)
	}
	return nil
}

func runCollectionDelete(configPath, name string) error {
	a, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer a.store.Close()

	if err := a.store.DeleteCollection(context.Background(), name); err != nil {
		return err
	}
	fmt.Printf("Deleted collection %q\n", name)
	return nil
}
