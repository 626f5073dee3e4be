// Package crawler discovers same-site pages by bounded breadth-first
// traversal. It only maps the site: every page found here is audited
// separately by the auditor.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Defaults for crawl bounds, shared with the config layer.
const (
	DefaultMaxDepth     = 3
	DefaultMaxPages     = 20
	DefaultFetchTimeout = 10 * time.Second
)

// ErrInvalidSeed marks a seed URL the crawl cannot start from.
var ErrInvalidSeed = errors.New("invalid seed url")

// Page is one discovered URL in crawl order. Referrer is empty for the
// seed and otherwise names the page the URL was first seen on.
type Page struct {
	URL      string `json:"url"`
	Referrer string `json:"referrer,omitempty"`
	Depth    int    `json:"depth"`
}

// FetchResult carries the rendered document used for link expansion.
type FetchResult struct {
	HTML   string
	Status int
}

// Fetcher retrieves one page. The production implementation drives the
// headless browser; tests substitute fakes.
type Fetcher interface {
	Fetch(ctx context.Context, pageURL string) (FetchResult, error)
}

// Config bounds a crawl. Callers resolve user-facing defaults before
// constructing the crawler: here MaxPages <= 0 means unbounded and
// MaxDepth < 0 collapses to zero (seed only).
type Config struct {
	MaxDepth     int
	MaxPages     int
	FetchTimeout time.Duration
	PerHostRPS   float64
}

// Crawler walks one site at a time. A single Crawl call never fetches
// the same URL twice.
type Crawler struct {
	fetcher Fetcher
	cfg     Config
	limiter *hostLimiter
	logger  *zap.Logger
}

// New constructs a Crawler around the given fetcher.
func New(fetcher Fetcher, cfg Config, logger *zap.Logger) (*Crawler, error) {
	if fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = DefaultFetchTimeout
	}
	if cfg.MaxDepth < 0 {
		cfg.MaxDepth = 0
	}
	return &Crawler{
		fetcher: fetcher,
		cfg:     cfg,
		limiter: newHostLimiter(cfg.PerHostRPS),
		logger:  logger,
	}, nil
}

// Crawl maps the site reachable from seed and returns every discovered
// page in insertion order, seed first. A URL joins the result (with its
// first-seen referrer) the moment it is admitted to the frontier, before
// it is ever fetched, so cyclic link graphs terminate and nothing is
// enqueued twice. Fetch failures keep their page in the result; they only
// lose link expansion. There are no retries.
//
// Traversal ends when the frontier empties or the page limit is reached.
// Cancelling ctx aborts the crawl and returns the pages admitted so far
// alongside the context error.
func (c *Crawler) Crawl(ctx context.Context, seed string) ([]Page, error) {
	canonical, seedURL, err := canonicalizeSeed(seed)
	if err != nil {
		return nil, err
	}

	visited := make(map[string]struct{})
	var pages []Page
	var queue []Page

	admit := func(p Page) {
		if _, seen := visited[p.URL]; seen {
			return
		}
		if c.cfg.MaxPages > 0 && len(pages) >= c.cfg.MaxPages {
			return
		}
		visited[p.URL] = struct{}{}
		pages = append(pages, p)
		queue = append(queue, p)
	}
	admit(Page{URL: canonical, Depth: 0})

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return pages, fmt.Errorf("crawl aborted: %w", err)
		}
		if c.cfg.MaxPages > 0 && len(pages) >= c.cfg.MaxPages {
			// Nothing new can be admitted; pages still queued are
			// already part of the result.
			break
		}
		current := queue[0]
		queue = queue[1:]

		result, err := c.fetch(ctx, current.URL)
		if err != nil {
			c.logger.Warn("page fetch failed",
				zap.String("url", current.URL),
				zap.Int("depth", current.Depth),
				zap.Error(err))
			continue
		}
		if current.Depth >= c.cfg.MaxDepth {
			continue
		}

		base, err := url.Parse(current.URL)
		if err != nil {
			continue
		}
		for _, link := range extractLinks(result.HTML, base) {
			candidate, ok := canonicalize(link)
			if !ok {
				continue
			}
			if !sameHost(link, seedURL) {
				c.logger.Debug("link outside site",
					zap.String("url", candidate),
					zap.String("page", current.URL))
				continue
			}
			admit(Page{URL: candidate, Referrer: current.URL, Depth: current.Depth + 1})
		}
	}
	return pages, nil
}

func (c *Crawler) fetch(ctx context.Context, pageURL string) (FetchResult, error) {
	if err := c.limiter.Wait(ctx, pageURL); err != nil {
		return FetchResult{}, fmt.Errorf("politeness wait: %w", err)
	}
	fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()
	return c.fetcher.Fetch(fetchCtx, pageURL)
}
