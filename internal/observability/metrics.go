package observability

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MetricsRegistry holds all registered metrics.
type MetricsRegistry struct {
	mu       sync.RWMutex
	counters map[string]*Counter
	gauges   map[string]*Gauge
	histos   map[string]*Histogram
}

// Counter is a monotonically increasing metric.
type Counter struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Gauge is a metric that can go up or down.
type Gauge struct {
	name   string
	help   string
	labels map[string]string
	value  float64
	mu     sync.Mutex
}

// Histogram tracks the distribution of observed values.
type Histogram struct {
	name    string
	help    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
	mu      sync.Mutex
}

// NewMetricsRegistry creates an empty registry.
func NewMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		counters: make(map[string]*Counter),
		gauges:   make(map[string]*Gauge),
		histos:   make(map[string]*Histogram),
	}
}

// NewCounter creates and registers a counter.
func (r *MetricsRegistry) NewCounter(name, help string, labels map[string]string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := &Counter{name: name, help: help, labels: labels}
	r.counters[name] = c
	return c
}

// NewGauge creates and registers a gauge.
func (r *MetricsRegistry) NewGauge(name, help string, labels map[string]string) *Gauge {
	r.mu.Lock()
	defer r.mu.Unlock()

	g := &Gauge{name: name, help: help, labels: labels}
	r.gauges[name] = g
	return g
}

// NewHistogram creates and registers a histogram. Nil buckets get the default
// latency buckets.
func (r *MetricsRegistry) NewHistogram(name, help string, labels map[string]string, buckets []float64) *Histogram {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buckets == nil {
		buckets = DefaultBuckets()
	}

	h := &Histogram{
		name:    name,
		help:    help,
		labels:  labels,
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
	r.histos[name] = h
	return h
}

// DefaultBuckets returns default histogram buckets for latency in seconds.
func DefaultBuckets() []float64 {
	return []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
}

// Inc increments a counter by 1.
func (c *Counter) Inc() {
	c.Add(1)
}

// Add adds a value to the counter.
func (c *Counter) Add(v float64) {
	c.mu.Lock()
	c.value += v
	c.mu.Unlock()
}

// Value returns the counter value.
func (c *Counter) Value() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Set sets the gauge value.
func (g *Gauge) Set(v float64) {
	g.mu.Lock()
	g.value = v
	g.mu.Unlock()
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	g.Add(1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	g.Add(-1)
}

// Add adds a value to the gauge.
func (g *Gauge) Add(v float64) {
	g.mu.Lock()
	g.value += v
	g.mu.Unlock()
}

// Value returns the gauge value.
func (g *Gauge) Value() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.value
}

// Observe records a value in the histogram.
func (h *Histogram) Observe(v float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.sum += v
	h.count++

	for i, bound := range h.buckets {
		if v <= bound {
			h.counts[i]++
		}
	}
}

// ObserveDuration records the elapsed time since start in seconds.
func (h *Histogram) ObserveDuration(start time.Time) {
	h.Observe(time.Since(start).Seconds())
}

// Handler returns an HTTP handler serving Prometheus text format.
func (r *MetricsRegistry) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		r.WritePrometheus(w)
	})
}

// WritePrometheus writes all registered metrics in Prometheus text format,
// sorted by name so scrapes are stable.
func (r *MetricsRegistry) WritePrometheus(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, name := range sortedKeys(r.counters) {
		c := r.counters[name]
		c.mu.Lock()
		writeMetric(w, c.name, "counter", c.help, c.labels, c.value)
		c.mu.Unlock()
	}

	for _, name := range sortedKeys(r.gauges) {
		g := r.gauges[name]
		g.mu.Lock()
		writeMetric(w, g.name, "gauge", g.help, g.labels, g.value)
		g.mu.Unlock()
	}

	for _, name := range sortedKeys(r.histos) {
		h := r.histos[name]
		h.mu.Lock()
		writeHistogram(w, h)
		h.mu.Unlock()
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func writeMetric(w io.Writer, name, metricType, help string, labels map[string]string, value float64) {
	fmt.Fprintf(w, "# HELP %s %s\n", name, help)
	fmt.Fprintf(w, "# TYPE %s %s\n", name, metricType)
	fmt.Fprintf(w, "%s%s %s\n", name, formatLabels(labels), formatFloat(value))
}

func writeHistogram(w io.Writer, h *Histogram) {
	fmt.Fprintf(w, "# HELP %s %s\n", h.name, h.help)
	fmt.Fprintf(w, "# TYPE %s histogram\n", h.name)

	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += h.counts[i]
		labels := copyLabels(h.labels)
		labels["le"] = formatFloat(bound)
		fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), cumulative)
	}

	labels := copyLabels(h.labels)
	labels["le"] = "+Inf"
	fmt.Fprintf(w, "%s_bucket%s %d\n", h.name, formatLabels(labels), h.count)

	fmt.Fprintf(w, "%s_sum%s %s\n", h.name, formatLabels(h.labels), formatFloat(h.sum))
	fmt.Fprintf(w, "%s_count%s %d\n", h.name, formatLabels(h.labels), h.count)
}

func formatLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}
	keys := sortedKeys(labels)
	out := "{"
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k + "=" + strconv.Quote(labels[k])
	}
	return out + "}"
}

func copyLabels(labels map[string]string) map[string]string {
	out := make(map[string]string, len(labels)+1)
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// SiftMetrics bundles the pipeline metrics.
type SiftMetrics struct {
	Registry *MetricsRegistry

	// Crawl metrics
	CrawlsTotal       *Counter
	CrawlPagesTotal   *Counter
	CrawlErrorsTotal  *Counter
	CrawlDuration     *Histogram

	// Ingest metrics
	IngestsTotal      *Counter
	IngestErrorsTotal *Counter
	ChunksTotal       *Counter
	PointsTotal       *Counter
	IngestDuration    *Histogram

	// Query metrics
	QueriesTotal      *Counter
	QueryErrorsTotal  *Counter
	QueriesGrounded   *Counter
	QueryDuration     *Histogram

	// Active SSE streams
	ActiveStreams *Gauge
}

// NewSiftMetrics creates the pipeline metrics on a fresh registry.
func NewSiftMetrics() *SiftMetrics {
	r := NewMetricsRegistry()

	return &SiftMetrics{
		Registry: r,

		CrawlsTotal:      r.NewCounter("sift_crawls_total", "Total crawl runs", nil),
		CrawlPagesTotal:  r.NewCounter("sift_crawl_pages_total", "Total pages fetched by the crawler", nil),
		CrawlErrorsTotal: r.NewCounter("sift_crawl_errors_total", "Total failed crawl runs", nil),
		CrawlDuration:    r.NewHistogram("sift_crawl_duration_seconds", "Crawl run duration", nil, nil),

		IngestsTotal:      r.NewCounter("sift_ingests_total", "Total ingest requests", nil),
		IngestErrorsTotal: r.NewCounter("sift_ingest_errors_total", "Total failed ingest requests", nil),
		ChunksTotal:       r.NewCounter("sift_chunks_total", "Total chunks produced", nil),
		PointsTotal:       r.NewCounter("sift_points_total", "Total points indexed", nil),
		IngestDuration:    r.NewHistogram("sift_ingest_duration_seconds", "Ingest request duration", nil, nil),

		QueriesTotal:     r.NewCounter("sift_queries_total", "Total chat queries", nil),
		QueryErrorsTotal: r.NewCounter("sift_query_errors_total", "Total failed chat queries", nil),
		QueriesGrounded:  r.NewCounter("sift_queries_grounded_total", "Chat queries answered from retrieved context", nil),
		QueryDuration:    r.NewHistogram("sift_query_duration_seconds", "Chat query duration", nil, nil),

		ActiveStreams: r.NewGauge("sift_active_streams", "Open SSE response streams", nil),
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *SiftMetrics) Handler() http.Handler {
	return m.Registry.Handler()
}

// RecordCrawl records one crawl run.
func (m *SiftMetrics) RecordCrawl(duration time.Duration, pages int, err error) {
	m.CrawlsTotal.Inc()
	m.CrawlDuration.Observe(duration.Seconds())
	m.CrawlPagesTotal.Add(float64(pages))
	if err != nil {
		m.CrawlErrorsTotal.Inc()
	}
}

// RecordIngest records one ingest request.
func (m *SiftMetrics) RecordIngest(duration time.Duration, chunks, points int, err error) {
	m.IngestsTotal.Inc()
	m.IngestDuration.Observe(duration.Seconds())
	if err != nil {
		m.IngestErrorsTotal.Inc()
		return
	}
	m.ChunksTotal.Add(float64(chunks))
	m.PointsTotal.Add(float64(points))
}

// RecordQuery records one chat query.
func (m *SiftMetrics) RecordQuery(duration time.Duration, grounded bool, err error) {
	m.QueriesTotal.Inc()
	m.QueryDuration.Observe(duration.Seconds())
	if err != nil {
		m.QueryErrorsTotal.Inc()
		return
	}
	if grounded {
		m.QueriesGrounded.Inc()
	}
}
