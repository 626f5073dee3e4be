// Package auditor inspects a single page in an instrumented browser tab:
// it installs performance observers before navigation, collects console,
// exception and network observations while the page loads, runs in-page
// document checks, and probes layout overflow at each requested viewport.
// Everything observed converts to issues in pure functions so the
// conversion rules are testable without a browser.
package auditor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/browser"
	"github.com/sitegrade/sitegrade/internal/scan"
)

const (
	// DefaultNavigationTimeout bounds a single page load.
	DefaultNavigationTimeout = 30 * time.Second
	// DefaultViewportSettle is how long reflow gets after a viewport
	// change before overflow is measured.
	DefaultViewportSettle = 500 * time.Millisecond

	// overflowTolerancePx absorbs sub-pixel rounding in the overflow
	// comparison.
	overflowTolerancePx = 1
)

// Page is the slice of a browser tab the audit needs.
type Page interface {
	AddInitScript(ctx context.Context, source string) error
	Navigate(ctx context.Context, pageURL string, timeout time.Duration) (time.Duration, error)
	Evaluate(ctx context.Context, expr string, out any) error
	SetViewport(ctx context.Context, width, height int64) error
	Drain() []browser.Event
	Close()
}

// Browser opens instrumented pages.
type Browser interface {
	OpenPage(ctx context.Context) (Page, error)
}

// EngineBrowser adapts a browser.Engine to the Browser interface.
func EngineBrowser(engine *browser.Engine) Browser {
	return engineBrowser{engine: engine}
}

type engineBrowser struct {
	engine *browser.Engine
}

func (b engineBrowser) OpenPage(ctx context.Context) (Page, error) {
	return b.engine.NewPage(ctx)
}

// Config tunes the per-page audit.
type Config struct {
	NavigationTimeout time.Duration
	ViewportSettle    time.Duration
}

// Target identifies the page under audit and how the crawl reached it.
type Target struct {
	URL      string
	Referrer string
}

// Result is everything observed about one page.
type Result struct {
	Metrics scan.PageMetrics
	Issues  []scan.Issue
}

// Auditor audits pages one tab at a time.
type Auditor struct {
	browser Browser
	cfg     Config
	logger  *zap.Logger
}

// New builds an Auditor. Zero config fields fall back to defaults.
func New(b Browser, cfg Config, logger *zap.Logger) (*Auditor, error) {
	if b == nil {
		return nil, errors.New("browser is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.ViewportSettle <= 0 {
		cfg.ViewportSettle = DefaultViewportSettle
	}
	return &Auditor{browser: b, cfg: cfg, logger: logger}, nil
}

// Audit inspects one page across the given viewports. A navigation
// failure is absorbed into the result: the page gets a critical issue
// plus whatever the listeners observed, and the remaining checks are
// skipped. A non-nil error means the audit itself could not run.
func (a *Auditor) Audit(ctx context.Context, target Target, viewports []scan.Viewport) (Result, error) {
	if len(viewports) == 0 {
		viewports = scan.DefaultViewports()
	}

	page, err := a.browser.OpenPage(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("open page: %w", err)
	}
	defer page.Close()

	if err := page.AddInitScript(ctx, metricsInitScript); err != nil {
		return Result{}, fmt.Errorf("install metrics observers: %w", err)
	}

	elapsed, navErr := page.Navigate(ctx, target.URL, a.cfg.NavigationTimeout)
	if navErr != nil {
		a.logger.Warn("page navigation failed",
			zap.String("url", target.URL),
			zap.Error(navErr))
		result := Result{Metrics: scan.PageMetrics{NavigationMs: elapsed.Milliseconds()}}
		result.Issues = append(result.Issues, scan.Issue{
			Category:    scan.CategoryReliability,
			Severity:    scan.SeverityCritical,
			Title:       "Scan Failed",
			Description: fmt.Sprintf("Navigation failed: %s.", firstLine(navErr.Error())),
			PageURL:     target.URL,
		})
		result.Issues = append(result.Issues, eventIssues(target.URL, target.Referrer, page.Drain())...)
		return result, nil
	}

	var result Result

	var perf perfSnapshot
	if err := page.Evaluate(ctx, metricsReadExpr, &perf); err != nil {
		a.logger.Warn("metrics read failed", zap.String("url", target.URL), zap.Error(err))
		perf = perfSnapshot{}
	}
	result.Metrics = pageMetrics(perf, elapsed)
	result.Issues = append(result.Issues, metricsIssues(target.URL, perf, result.Metrics.NavigationMs)...)

	var snap domSnapshot
	if err := page.Evaluate(ctx, domSnapshotExpr, &snap); err != nil {
		a.logger.Warn("dom snapshot failed", zap.String("url", target.URL), zap.Error(err))
	} else {
		result.Issues = append(result.Issues, domIssues(target.URL, snap)...)
	}

	for _, vp := range viewports {
		issue, err := a.probeViewport(ctx, page, target.URL, vp)
		if err != nil {
			a.logger.Warn("viewport probe failed",
				zap.String("url", target.URL),
				zap.String("viewport", vp.Name),
				zap.Error(err))
			continue
		}
		if issue != nil {
			result.Issues = append(result.Issues, *issue)
		}
	}

	// Drain last so late responses and console output still count.
	result.Issues = append(result.Issues, eventIssues(target.URL, target.Referrer, page.Drain())...)
	return result, nil
}

// probeViewport resizes the page, lets layout settle, and reports
// horizontal overflow if content is wider than the viewport.
func (a *Auditor) probeViewport(ctx context.Context, page Page, pageURL string, vp scan.Viewport) (*scan.Issue, error) {
	if err := page.SetViewport(ctx, vp.Width, vp.Height); err != nil {
		return nil, fmt.Errorf("set viewport %s: %w", vp.Name, err)
	}
	select {
	case <-time.After(a.cfg.ViewportSettle):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var layout layoutSnapshot
	if err := page.Evaluate(ctx, layoutExpr, &layout); err != nil {
		return nil, fmt.Errorf("measure layout %s: %w", vp.Name, err)
	}
	if layout.ScrollWidth > layout.ClientWidth+overflowTolerancePx {
		return &scan.Issue{
			Category:    scan.CategoryResponsiveness,
			Severity:    scan.SeverityMajor,
			Title:       "Horizontal Overflow",
			Description: fmt.Sprintf("Content is %dpx wide in the %s viewport (%dx%d, client width %dpx).", layout.ScrollWidth, vp.Name, vp.Width, vp.Height, layout.ClientWidth),
			PageURL:     pageURL,
		}, nil
	}
	return nil, nil
}
