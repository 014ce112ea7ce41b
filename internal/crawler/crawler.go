// Package crawler fetches a bounded set of same-host pages starting from a
// seed URL, breadth-first, and extracts their readable text.
package crawler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"golang.org/x/time/rate"
)

// Page is one fetched document.
type Page struct {
	URL   string
	Title string
	Text  string
}

// Options configures a Crawler.
type Options struct {
	MaxPages          int
	RequestTimeout    time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Logger            *slog.Logger
}

// Crawler walks pages on a single host up to a page budget. Fetch failures on
// individual pages are logged and skipped; the crawl only fails when no page
// could be fetched at all.
type Crawler struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxPages  int
	logger    *slog.Logger
}

// New builds a Crawler from options, applying defaults for zero values.
func New(opts Options) *Crawler {
	if opts.MaxPages < 1 {
		opts.MaxPages = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "sift-crawler/0.1"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Crawler{
		client:    &http.Client{Timeout: opts.RequestTimeout},
		limiter:   rate.NewLimiter(limit, 1),
		userAgent: opts.UserAgent,
		maxPages:  opts.MaxPages,
		logger:    opts.Logger,
	}
}

// Crawl fetches up to maxPages pages reachable from start, breadth-first,
// never leaving the start URL's host. Returns the pages in fetch order.
func (c *Crawler) Crawl(ctx context.Context, start string) ([]Page, error) {
	seed, err := url.Parse(start)
	if err != nil {
		return nil, fmt.Errorf("parsing start url: %w", err)
	}
	if seed.Scheme != "http" && seed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q in start url", seed.Scheme)
	}

	visited := map[string]bool{}
	queue := []string{normalize(seed)}
	visited[queue[0]] = true

	var pages []Page
	// Failed fetches count against the budget too; it bounds requests, not
	// just successful pages.
	for attempts := 0; len(queue) > 0 && attempts < c.maxPages; attempts++ {
		target := queue[0]
		queue = queue[1:]

		if err := c.limiter.Wait(ctx); err != nil {
			return pages, err
		}

		page, links, err := c.fetch(ctx, target)
		if err != nil {
			c.logger.Warn("skipping page", "url", target, "error", err)
			continue
		}
		pages = append(pages, page)

		for _, link := range links {
			if link.Host != seed.Host {
				continue
			}
			key := normalize(link)
			if visited[key] {
				continue
			}
			visited[key] = true
			queue = append(queue, key)
		}
	}

	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages fetched from %s", start)
	}
	return pages, nil
}

// fetch downloads one page and returns its readable text plus outgoing links.
func (c *Crawler) fetch(ctx context.Context, target string) (Page, []*url.URL, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return Page{}, nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html")

	resp, err := c.client.Do(req)
	if err != nil {
		return Page{}, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Page{}, nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !strings.Contains(ct, "text/html") {
		return Page{}, nil, fmt.Errorf("unsupported content type %q", ct)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return Page{}, nil, fmt.Errorf("parsing html: %w", err)
	}

	base, err := url.Parse(target)
	if err != nil {
		return Page{}, nil, err
	}

	page := Page{
		URL:   target,
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
		Text:  extractText(doc, base),
	}
	return page, extractLinks(doc, base), nil
}

// extractText prefers readability's article extraction and falls back to the
// body text when readability finds nothing usable.
func extractText(doc *goquery.Document, base *url.URL) string {
	html, err := doc.Html()
	if err == nil {
		article, err := readability.FromReader(strings.NewReader(html), base)
		if err == nil && strings.TrimSpace(article.TextContent) != "" {
			return article.TextContent
		}
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript, nav, footer").Remove()
	return body.Text()
}

func extractLinks(doc *goquery.Document, base *url.URL) []*url.URL {
	var links []*url.URL
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(href))
		if err != nil {
			return
		}
		resolved := base.ResolveReference(ref)
		if resolved.Scheme != "http" && resolved.Scheme != "https" {
			return
		}
		links = append(links, resolved)
	})
	return links
}

// normalize canonicalizes a URL for the visited set: fragments dropped, the
// rest kept as-is so distinct query strings stay distinct pages.
func normalize(u *url.URL) string {
	clone := *u
	clone.Fragment = ""
	return clone.String()
}
