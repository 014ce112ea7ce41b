package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/efebarandurmaz/sift/internal/crawler"
	"github.com/efebarandurmaz/sift/internal/ingest"
	"github.com/efebarandurmaz/sift/internal/observability"
	"github.com/efebarandurmaz/sift/internal/rag"
	"github.com/efebarandurmaz/sift/internal/vector"
)

// maxUploadBytes bounds a multipart ingest request.
const maxUploadBytes = 32 << 20

// Ingestor indexes documents.
type Ingestor interface {
	Ingest(ctx context.Context, docs []ingest.Document, sessionID string) (*ingest.Result, error)
}

// Crawler fetches pages starting from a seed URL.
type Crawler interface {
	Crawl(ctx context.Context, start string) ([]crawler.Page, error)
}

// Answerer produces grounded answers and streams them.
type Answerer interface {
	Ask(ctx context.Context, query, sessionID string) (*rag.Answer, error)
	Stream(ctx context.Context, answer *rag.Answer) <-chan rag.Fragment
}

// APIConfig configures the API server.
type APIConfig struct {
	Addr          string
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	Collection    string
	Dimension     int
	MaxPagesLimit int
}

// API is the HTTP surface over the ingest and query pipelines.
type API struct {
	cfg      APIConfig
	ingestor Ingestor
	crawl    Crawler
	answerer Answerer
	store    vector.Store
	logger   *slog.Logger
	server   *http.Server
	health   *HealthServer
	metrics  *observability.SiftMetrics
}

// NewAPI creates the API server.
func NewAPI(cfg APIConfig, ingestor Ingestor, crawl Crawler, answerer Answerer, store vector.Store, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxPagesLimit <= 0 {
		cfg.MaxPagesLimit = 100
	}
	return &API{cfg: cfg, ingestor: ingestor, crawl: crawl, answerer: answerer, store: store, logger: logger}
}

// MountHealth attaches probe endpoints to the API listener.
func (a *API) MountHealth(h *HealthServer) {
	a.health = h
}

// MountMetrics attaches a Prometheus endpoint and enables request metrics.
func (a *API) MountMetrics(m *observability.SiftMetrics) {
	a.metrics = m
}

// Handler builds the routed handler with middleware applied.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/ingest", a.handleIngest)
	mux.HandleFunc("/api/chat", a.handleChat)
	mux.HandleFunc("/api/collections", a.handleCollections)
	mux.HandleFunc("/api/collections/", a.handleCollectionDetail)
	mux.HandleFunc("/api/points", a.handlePoints)
	mux.HandleFunc("/api/health", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics.Handler())
	}
	if a.health != nil {
		// Probe endpoints (/health, /ready, /live) live outside /api.
		mux.Handle("/", a.health.Handler())
	}
	return corsMiddleware(loggingMiddleware(a.logger, mux))
}

// ListenAndServe runs the server until Shutdown.
func (a *API) ListenAndServe() error {
	a.server = &http.Server{
		Addr:         a.cfg.Addr,
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.ReadTimeout,
		WriteTimeout: a.cfg.WriteTimeout,
	}
	a.logger.Info("api server listening", "addr", a.cfg.Addr)
	return a.server.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

type ingestRequest struct {
	Text      string `json:"text,omitempty"`
	URL       string `json:"url,omitempty"`
	MaxPages  int    `json:"max_pages,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// handleIngest accepts either a JSON body (raw text or a crawl seed URL) or a
// multipart upload of text files.
func (a *API) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var docs []ingest.Document
	var sessionID string

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
			respondError(w, fmt.Errorf("parsing upload: %w", err), http.StatusBadRequest)
			return
		}
		sessionID = r.FormValue("session_id")
		for _, headers := range r.MultipartForm.File {
			for _, fh := range headers {
				f, err := fh.Open()
				if err != nil {
					respondError(w, err, http.StatusBadRequest)
					return
				}
				doc, err := ingest.FromFile(fh.Filename, fh.Header.Get("Content-Type"), f)
				f.Close()
				if err != nil {
					respondError(w, err, http.StatusBadRequest)
					return
				}
				docs = append(docs, doc)
			}
		}
		if len(docs) == 0 {
			respondError(w, errors.New("no files in upload"), http.StatusBadRequest)
			return
		}
	} else {
		var req ingestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, fmt.Errorf("parsing request: %w", err), http.StatusBadRequest)
			return
		}
		sessionID = req.SessionID

		switch {
		case req.URL != "":
			pages, err := a.crawlDocs(r.Context(), req.URL, req.MaxPages)
			if err != nil {
				respondError(w, err, http.StatusBadGateway)
				return
			}
			docs = pages
		case req.Text != "":
			docs = append(docs, ingest.FromText("inline", req.Text))
		default:
			respondError(w, errors.New("request needs text, url or files"), http.StatusBadRequest)
			return
		}
	}

	ctx, span := observability.StartIngestSpan(r.Context(), a.cfg.Collection, len(docs))
	defer span.End()

	start := time.Now()
	result, err := a.ingestor.Ingest(ctx, docs, sessionID)
	if a.metrics != nil {
		chunks, points := 0, 0
		if result != nil {
			chunks, points = result.ChunksCreated, result.PointsIndexed
		}
		a.metrics.RecordIngest(time.Since(start), chunks, points, err)
	}
	if err != nil {
		observability.RecordError(span, err)
		a.respondIngestError(w, err)
		return
	}
	observability.RecordIngestResult(span, result.ChunksCreated, result.PointsIndexed, result.Mode)
	respondJSON(w, http.StatusOK, result)
}

func (a *API) crawlDocs(ctx context.Context, seed string, maxPages int) ([]ingest.Document, error) {
	if maxPages > a.cfg.MaxPagesLimit {
		return nil, fmt.Errorf("max_pages %d exceeds limit %d", maxPages, a.cfg.MaxPagesLimit)
	}
	ctx, span := observability.StartCrawlSpan(ctx, seed, maxPages)
	defer span.End()

	start := time.Now()
	pages, err := a.crawl.Crawl(ctx, seed)
	if a.metrics != nil {
		a.metrics.RecordCrawl(time.Since(start), len(pages), err)
	}
	if err != nil {
		err = fmt.Errorf("crawling %s: %w", seed, err)
		observability.RecordError(span, err)
		return nil, err
	}
	observability.RecordCrawlResult(span, len(pages))
	docs := make([]ingest.Document, len(pages))
	for i, p := range pages {
		docs[i] = ingest.FromURL(p.URL, p.Text)
	}
	return docs, nil
}

func (a *API) respondIngestError(w http.ResponseWriter, err error) {
	var dimErr *ingest.DimensionMismatchError
	var colErr *vector.CollectionMismatchError
	switch {
	case errors.Is(err, ingest.ErrNoContent):
		respondError(w, err, http.StatusBadRequest)
	case errors.As(err, &dimErr), errors.As(err, &colErr):
		respondError(w, err, http.StatusConflict)
	default:
		respondError(w, err, http.StatusBadGateway)
	}
}

type chatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Stream    bool   `json:"stream,omitempty"`
}

// handleChat answers a question over the indexed documents. With stream=true
// the answer is delivered as Server-Sent Events; sources arrive in the final
// event.
func (a *API) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Errorf("parsing request: %w", err), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		respondError(w, errors.New("message is required"), http.StatusBadRequest)
		return
	}

	start := time.Now()
	answer, err := a.answerer.Ask(r.Context(), req.Message, req.SessionID)
	if a.metrics != nil {
		grounded := answer != nil && answer.Grounded
		a.metrics.RecordQuery(time.Since(start), grounded, err)
	}
	if err != nil {
		respondError(w, err, http.StatusBadGateway)
		return
	}

	if !req.Stream {
		respondJSON(w, http.StatusOK, answer)
		return
	}
	a.streamAnswer(w, r, answer)
}

type streamEvent struct {
	Text    string       `json:"text,omitempty"`
	Done    bool         `json:"done,omitempty"`
	Sources []rag.Source `json:"sources,omitempty"`
}

func (a *API) streamAnswer(w http.ResponseWriter, r *http.Request, answer *rag.Answer) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, errors.New("streaming unsupported"), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if a.metrics != nil {
		a.metrics.ActiveStreams.Inc()
		defer a.metrics.ActiveStreams.Dec()
	}

	for fragment := range a.answerer.Stream(r.Context(), answer) {
		event := streamEvent{Text: fragment.Text, Done: fragment.Done}
		if fragment.Done {
			event.Sources = answer.Sources
		}
		data, err := json.Marshal(event)
		if err != nil {
			a.logger.Error("encoding stream event", "error", err)
			return
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}
}

type createCollectionRequest struct {
	Name      string `json:"name"`
	Dimension int    `json:"dimension,omitempty"`
}

// handleCollections handles POST /api/collections.
func (a *API) handleCollections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createCollectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Errorf("parsing request: %w", err), http.StatusBadRequest)
		return
	}
	if req.Name == "" {
		respondError(w, errors.New("name is required"), http.StatusBadRequest)
		return
	}
	dimension := req.Dimension
	if dimension <= 0 {
		dimension = a.cfg.Dimension
	}

	created, err := a.store.EnsureCollection(r.Context(), req.Name, dimension)
	if err != nil {
		var colErr *vector.CollectionMismatchError
		if errors.As(err, &colErr) {
			respondError(w, err, http.StatusConflict)
			return
		}
		respondError(w, err, http.StatusBadGateway)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"name":      req.Name,
		"dimension": dimension,
		"created":   created,
	})
}

// handleCollectionDetail handles GET and DELETE on /api/collections/{name}.
// GET with ?session_id=x additionally counts that session's points.
func (a *API) handleCollectionDetail(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/api/collections/")
	if name == "" || strings.Contains(name, "/") {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodGet:
		info, err := a.store.Describe(r.Context(), name)
		if err != nil {
			respondError(w, fmt.Errorf("collection %q: %w", name, err), http.StatusNotFound)
			return
		}
		response := map[string]any{
			"name":      info.Name,
			"dimension": info.Dimension,
			"distance":  info.Distance,
			"points":    info.Points,
		}
		if sessionID := r.URL.Query().Get("session_id"); sessionID != "" {
			points, err := a.store.Scroll(r.Context(), name, map[string]string{vector.SessionKey: sessionID}, 0)
			if err != nil {
				respondError(w, err, http.StatusBadGateway)
				return
			}
			response["session_points"] = len(points)
		}
		respondJSON(w, http.StatusOK, response)

	case http.MethodDelete:
		if err := a.store.DeleteCollection(r.Context(), name); err != nil {
			respondError(w, err, http.StatusBadGateway)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"deleted": name})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type deletePointsRequest struct {
	Collection string   `json:"collection,omitempty"`
	IDs        []string `json:"ids,omitempty"`
	SessionID  string   `json:"session_id,omitempty"`
}

// handlePoints handles DELETE /api/points: by explicit ids or by session.
func (a *API) handlePoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deletePointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, fmt.Errorf("parsing request: %w", err), http.StatusBadRequest)
		return
	}
	collection := req.Collection
	if collection == "" {
		collection = a.cfg.Collection
	}

	switch {
	case len(req.IDs) > 0:
		if err := a.store.DeletePoints(r.Context(), collection, req.IDs); err != nil {
			respondError(w, err, http.StatusBadGateway)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"deleted": len(req.IDs)})
	case req.SessionID != "":
		filter := map[string]string{vector.SessionKey: req.SessionID}
		if err := a.store.DeleteByMetadata(r.Context(), collection, filter); err != nil {
			respondError(w, err, http.StatusBadGateway)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"deleted_session": req.SessionID})
	default:
		respondError(w, errors.New("request needs ids or session_id"), http.StatusBadRequest)
	}
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
