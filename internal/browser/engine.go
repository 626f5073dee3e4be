// Package browser wraps headless Chrome behind the small surface the
// crawler and auditor need: rendered fetches for link discovery and
// instrumented pages for audits.
package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/crawler"
)

// Config controls the shared Chrome process.
type Config struct {
	Headless     bool
	UserAgent    string
	WindowWidth  int
	WindowHeight int
	// MaxTabs caps concurrently open tabs; 0 means no cap.
	MaxTabs int
	// FetchSettle is the post-load pause before Fetch snapshots the DOM,
	// giving client-side routers a beat to render links.
	FetchSettle time.Duration
}

// Engine owns one headless Chrome process. Tabs for fetches and audits
// are opened against its warm browser context.
type Engine struct {
	cfg           Config
	logger        *zap.Logger
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	sem           chan struct{}
	closeOnce     sync.Once
}

// New launches Chrome and warms a browser context. The returned engine
// must be closed to reap the process.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = 1440
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = 900
	}
	if cfg.FetchSettle <= 0 {
		cfg.FetchSettle = 500 * time.Millisecond
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.WindowSize(cfg.WindowWidth, cfg.WindowHeight),
	)
	if cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(cfg.UserAgent))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	var sem chan struct{}
	if cfg.MaxTabs > 0 {
		sem = make(chan struct{}, cfg.MaxTabs)
	}
	return &Engine{
		cfg:           cfg,
		logger:        logger,
		allocCancel:   allocCancel,
		browserCtx:    browserCtx,
		browserCancel: browserCancel,
		sem:           sem,
	}, nil
}

// Ready reports whether the browser context is warm.
func (e *Engine) Ready() bool {
	return e != nil && e.browserCtx != nil && e.browserCtx.Err() == nil
}

// Close shuts the browser down gracefully, waiting for the process to
// exit until ctx expires. Later calls return nil immediately.
func (e *Engine) Close(ctx context.Context) error {
	if e == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	e.closeOnce.Do(func() {
		done := make(chan error, 1)
		go func() { done <- chromedp.Cancel(e.browserCtx) }()
		select {
		case err = <-done:
		case <-ctx.Done():
			err = fmt.Errorf("browser close wait: %w", ctx.Err())
		}
		e.browserCancel()
		e.allocCancel()
	})
	return err
}

// Fetch implements crawler.Fetcher: it renders pageURL in a fresh tab and
// returns the document HTML plus the document response status. The
// caller's context carries the fetch deadline.
func (e *Engine) Fetch(ctx context.Context, pageURL string) (crawler.FetchResult, error) {
	release, err := e.acquire(ctx)
	if err != nil {
		return crawler.FetchResult{}, err
	}
	defer release()

	tabCtx, cancelTab := chromedp.NewContext(e.browserCtx)
	defer cancelTab()
	stopForward := forwardCancel(ctx, cancelTab)
	defer stopForward()

	meta := newResponseMeta()
	chromedp.ListenTarget(tabCtx, meta.captureEvent)

	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(e.cfg.FetchSettle),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", pageURL, ctxErr)
		}
		return crawler.FetchResult{}, fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	return crawler.FetchResult{HTML: html, Status: meta.statusOrOK()}, nil
}

func (e *Engine) acquire(ctx context.Context) (func(), error) {
	if e.sem == nil {
		return func() {}, nil
	}
	select {
	case e.sem <- struct{}{}:
		return func() { <-e.sem }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire tab slot: %w", ctx.Err())
	}
}

// responseMeta records the first document response seen on a tab.
type responseMeta struct {
	once   sync.Once
	status int
}

func newResponseMeta() *responseMeta {
	return &responseMeta{}
}

func (m *responseMeta) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	m.once.Do(func() {
		m.status = int(resp.Response.Status)
	})
}

func (m *responseMeta) statusOrOK() int {
	if m.status == 0 {
		return http.StatusOK
	}
	return m.status
}

// forwardCancel propagates cancellation of parent into cancel without
// tying the chromedp context's lifetime to the caller's context tree.
func forwardCancel(parent context.Context, cancel context.CancelFunc) func() {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}

var errPageClosed = errors.New("page closed")
