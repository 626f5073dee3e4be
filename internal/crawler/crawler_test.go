package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCrawlCyclicPairTerminates(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/":      anchors("https://example.com/about"),
		"https://example.com/about": anchors("https://example.com/"),
	})
	c, err := New(fetcher, Config{MaxDepth: 3, MaxPages: 20}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com")
	require.NoError(t, err)

	require.Equal(t, []Page{
		{URL: "https://example.com/", Depth: 0},
		{URL: "https://example.com/about", Referrer: "https://example.com/", Depth: 1},
	}, pages)
	require.Equal(t, []string{"https://example.com/", "https://example.com/about"}, fetcher.calls())
}

func TestCrawlBreadthFirstOrderAndFirstSeenReferrer(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/":  anchors("/a", "/b"),
		"https://example.com/a": anchors("/c"),
		"https://example.com/b": anchors("/c", "/a"),
		"https://example.com/c": "",
	})
	c, err := New(fetcher, Config{MaxDepth: 3, MaxPages: 20}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)

	require.Equal(t, []Page{
		{URL: "https://example.com/", Depth: 0},
		{URL: "https://example.com/a", Referrer: "https://example.com/", Depth: 1},
		{URL: "https://example.com/b", Referrer: "https://example.com/", Depth: 1},
		{URL: "https://example.com/c", Referrer: "https://example.com/a", Depth: 2},
	}, pages)
	// /c reachable from both /a and /b but fetched once.
	require.Equal(t, 1, fetcher.count("https://example.com/c"))
}

func TestCrawlStopsAtPageLimit(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/": anchors("/p1", "/p2", "/p3", "/p4", "/p5"),
	})
	c, err := New(fetcher, Config{MaxDepth: 3, MaxPages: 3}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)

	require.Len(t, pages, 3)
	require.Equal(t, "https://example.com/", pages[0].URL)
	require.Equal(t, "https://example.com/p1", pages[1].URL)
	require.Equal(t, "https://example.com/p2", pages[2].URL)
}

func TestCrawlPageLimitOneSkipsExpansion(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/": anchors("/a"),
	})
	c, err := New(fetcher, Config{MaxDepth: 3, MaxPages: 1}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)

	require.Equal(t, []Page{{URL: "https://example.com/", Depth: 0}}, pages)
	require.Empty(t, fetcher.calls())
}

func TestCrawlRespectsMaxDepth(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/":   anchors("/d1"),
		"https://example.com/d1": anchors("/d2"),
		"https://example.com/d2": anchors("/d3"),
		"https://example.com/d3": anchors("/d4"),
	})
	c, err := New(fetcher, Config{MaxDepth: 2, MaxPages: 20}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)

	require.Len(t, pages, 3)
	require.Equal(t, 2, pages[2].Depth)
	// The deepest page is fetched but its links are dropped.
	require.Equal(t, 1, fetcher.count("https://example.com/d2"))
	require.Equal(t, 0, fetcher.count("https://example.com/d3"))
}

func TestCrawlFetchFailureKeepsPageWithoutRetry(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/":   anchors("/broken", "/ok"),
		"https://example.com/ok": "",
	})
	fetcher.errs["https://example.com/broken"] = errors.New("net::ERR_CONNECTION_REFUSED")
	c, err := New(fetcher, Config{MaxDepth: 3, MaxPages: 20}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)

	require.Equal(t, []Page{
		{URL: "https://example.com/", Depth: 0},
		{URL: "https://example.com/broken", Referrer: "https://example.com/", Depth: 1},
		{URL: "https://example.com/ok", Referrer: "https://example.com/", Depth: 1},
	}, pages)
	require.Equal(t, 1, fetcher.count("https://example.com/broken"))
}

func TestCrawlSeedFetchFailureStillReturnsSeed(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(nil)
	fetcher.errs["https://example.com/"] = errors.New("navigation timeout")
	c, err := New(fetcher, Config{MaxDepth: 3, MaxPages: 20}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Equal(t, []Page{{URL: "https://example.com/", Depth: 0}}, pages)
}

func TestCrawlFiltersForeignAndNonHTTPLinks(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/": anchors(
			"https://other.com/page",
			"http://sub.example.com/page",
			"mailto:team@example.com",
			"javascript:void(0)",
			"tel:+15551234567",
			"/keep",
		),
		"https://example.com/keep": "",
	})
	c, err := New(fetcher, Config{MaxDepth: 3, MaxPages: 20}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)

	require.Equal(t, []Page{
		{URL: "https://example.com/", Depth: 0},
		{URL: "https://example.com/keep", Referrer: "https://example.com/", Depth: 1},
	}, pages)
}

func TestCrawlStripsFragmentsBeforeDedup(t *testing.T) {
	t.Parallel()

	fetcher := newFakeFetcher(map[string]string{
		"https://example.com/":     anchors("#main", "/docs#intro", "/docs#usage"),
		"https://example.com/docs": "",
	})
	c, err := New(fetcher, Config{MaxDepth: 3, MaxPages: 20}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)

	require.Equal(t, []Page{
		{URL: "https://example.com/", Depth: 0},
		{URL: "https://example.com/docs", Referrer: "https://example.com/", Depth: 1},
	}, pages)
	require.Equal(t, 1, fetcher.count("https://example.com/docs"))
}

func TestCrawlUnboundedPageLimit(t *testing.T) {
	t.Parallel()

	hrefs := make([]string, 0, 30)
	site := map[string]string{}
	for i := range 30 {
		hrefs = append(hrefs, fmt.Sprintf("/p%d", i))
		site[fmt.Sprintf("https://example.com/p%d", i)] = ""
	}
	site["https://example.com/"] = anchors(hrefs...)

	fetcher := newFakeFetcher(site)
	c, err := New(fetcher, Config{MaxDepth: 1, MaxPages: 0}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(context.Background(), "https://example.com/")
	require.NoError(t, err)
	require.Len(t, pages, 31)
}

func TestCrawlCancelledContextReturnsPartialResult(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetcher := newFakeFetcher(map[string]string{"https://example.com/": ""})
	c, err := New(fetcher, Config{MaxDepth: 3, MaxPages: 20}, zap.NewNop())
	require.NoError(t, err)

	pages, err := c.Crawl(ctx, "https://example.com/")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, []Page{{URL: "https://example.com/", Depth: 0}}, pages)
	require.Empty(t, fetcher.calls())
}

func TestCrawlRejectsInvalidSeeds(t *testing.T) {
	t.Parallel()

	c, err := New(newFakeFetcher(nil), Config{}, zap.NewNop())
	require.NoError(t, err)

	for _, seed := range []string{
		"",
		"not a url",
		"ftp://example.com/files",
		"//example.com/schemeless",
		"https://",
	} {
		t.Run(seed, func(t *testing.T) {
			t.Parallel()
			_, err := c.Crawl(context.Background(), seed)
			require.ErrorIs(t, err, ErrInvalidSeed)
		})
	}
}

func TestCanonicalizeSeedNormalizesPathAndFragment(t *testing.T) {
	t.Parallel()

	canonical, seedURL, err := canonicalizeSeed(" https://Example.com#hero ")
	require.NoError(t, err)
	require.Equal(t, "https://Example.com/", canonical)
	require.Equal(t, "Example.com", seedURL.Host)
}

func TestExtractLinksResolvesRelativeReferences(t *testing.T) {
	t.Parallel()

	base, err := url.Parse("https://example.com/blog/post")
	require.NoError(t, err)

	links := extractLinks(anchors("../about", "contact", "https://example.com/x", "", "  "), base)

	var got []string
	for _, l := range links {
		got = append(got, l.String())
	}
	require.Equal(t, []string{
		"https://example.com/about",
		"https://example.com/blog/contact",
		"https://example.com/x",
	}, got)
}

// --- fakes ---

type fakeFetcher struct {
	mu    sync.Mutex
	pages map[string]string
	errs  map[string]error
	order []string
}

func newFakeFetcher(pages map[string]string) *fakeFetcher {
	if pages == nil {
		pages = map[string]string{}
	}
	return &fakeFetcher{pages: pages, errs: map[string]error{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, pageURL string) (FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.order = append(f.order, pageURL)
	if err, ok := f.errs[pageURL]; ok {
		return FetchResult{}, err
	}
	return FetchResult{HTML: f.pages[pageURL], Status: 200}, nil
}

func (f *fakeFetcher) calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.order...)
}

func (f *fakeFetcher) count(pageURL string) int {
	n := 0
	for _, u := range f.calls() {
		if u == pageURL {
			n++
		}
	}
	return n
}

func anchors(hrefs ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, href := range hrefs {
		fmt.Fprintf(&b, "<a href=%q>link</a>", href)
	}
	b.WriteString("</body></html>")
	return b.String()
}
