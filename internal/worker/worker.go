// Package worker executes the scan pipeline for one job: discover pages,
// audit each one in order, score the results, assemble the report.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/auditor"
	"github.com/sitegrade/sitegrade/internal/clock/system"
	"github.com/sitegrade/sitegrade/internal/crawler"
	"github.com/sitegrade/sitegrade/internal/scan"
	"github.com/sitegrade/sitegrade/internal/score"
)

// Progress milestones. Page audits fill the band between progressAudit
// and progressAuditCeil; the queue manager owns the final 100.
const (
	progressStart     = 5
	progressDiscovery = 10
	progressAudit     = 20
	progressAuditCeil = 90
)

// PageAuditor runs the in-browser audit for one page.
type PageAuditor interface {
	Audit(ctx context.Context, target auditor.Target, viewports []scan.Viewport) (auditor.Result, error)
}

// Config bounds the discovery phase. Zero values fall back to the
// crawler defaults.
type Config struct {
	MaxDepth     int
	FetchTimeout time.Duration
	PerHostRPS   float64
}

// Worker runs jobs one at a time; the queue manager provides the
// concurrency by running several workers' goroutines.
type Worker struct {
	fetcher crawler.Fetcher
	pages   PageAuditor
	clock   scan.Clock
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Worker around the shared fetcher and auditor.
func New(fetcher crawler.Fetcher, pages PageAuditor, clk scan.Clock, cfg Config, logger *zap.Logger) (*Worker, error) {
	if fetcher == nil {
		return nil, errors.New("worker: fetcher is required")
	}
	if pages == nil {
		return nil, errors.New("worker: page auditor is required")
	}
	if clk == nil {
		clk = system.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = crawler.DefaultMaxDepth
	}
	return &Worker{
		fetcher: fetcher,
		pages:   pages,
		clock:   clk,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Run executes the pipeline for job, reporting progress through report.
// It returns the finished report, or the error that should fail the job.
func (w *Worker) Run(ctx context.Context, job scan.Job, report func(progress int, message string)) (*scan.Report, error) {
	if report == nil {
		report = func(int, string) {}
	}
	started := w.clock.Now()

	report(progressStart, "Starting scan")
	siteCrawler, err := crawler.New(w.fetcher, crawler.Config{
		MaxDepth:     w.cfg.MaxDepth,
		MaxPages:     job.PageLimit,
		FetchTimeout: w.cfg.FetchTimeout,
		PerHostRPS:   w.cfg.PerHostRPS,
	}, w.logger)
	if err != nil {
		return nil, fmt.Errorf("build crawler: %w", err)
	}

	report(progressDiscovery, "Discovering pages")
	pages, err := siteCrawler.Crawl(ctx, job.URL)
	if err != nil {
		return nil, fmt.Errorf("discover pages: %w", err)
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no pages discovered for %s", job.URL)
	}
	report(progressAudit, fmt.Sprintf("Discovered %d pages", len(pages)))

	viewports := job.Viewports
	if len(viewports) == 0 {
		viewports = scan.DefaultViewports()
	}

	allIssues := make([]scan.Issue, 0, len(pages))
	pageReports := make([]scan.PageReport, 0, len(pages))
	audited := 0
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("scan aborted: %w", err)
		}
		report(auditProgress(i, len(pages)), fmt.Sprintf("Auditing %s (%d/%d)", page.URL, i+1, len(pages)))

		result, err := w.pages.Audit(ctx, auditor.Target{URL: page.URL, Referrer: page.Referrer}, viewports)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("audit %s: %w", page.URL, err)
			}
			w.logger.Warn("page audit failed",
				zap.String("job_id", job.ID),
				zap.String("url", page.URL),
				zap.Error(err))
			result = auditor.Result{Issues: []scan.Issue{unscannableIssue(page.URL)}}
		} else {
			audited++
		}

		pageScore, pageCategories := score.Score(result.Issues)
		pageReports = append(pageReports, scan.PageReport{
			URL:            page.URL,
			Referrer:       page.Referrer,
			Depth:          page.Depth,
			Score:          pageScore,
			CategoryScores: pageCategories,
			Metrics:        result.Metrics,
			Issues:         result.Issues,
		})
		allIssues = append(allIssues, result.Issues...)
	}
	if audited == 0 {
		return nil, fmt.Errorf("every page audit failed for %s", job.URL)
	}

	overall, categories := score.Score(allIssues)
	finished := w.clock.Now()
	return &scan.Report{
		URL:            job.URL,
		Score:          overall,
		Grade:          score.Grade(overall),
		CategoryScores: categories,
		Issues:         allIssues,
		Pages:          pageReports,
		PagesCrawled:   len(pages),
		DurationMs:     finished.Sub(started).Milliseconds(),
		GeneratedAt:    finished,
	}, nil
}

// auditProgress maps completed-page count onto the audit band.
func auditProgress(done, total int) int {
	if total <= 0 {
		return progressAudit
	}
	pct := progressAudit + (70*done)/total
	if pct > progressAuditCeil {
		pct = progressAuditCeil
	}
	return pct
}

// unscannableIssue stands in for a page whose audit could not run at
// all, keeping the report honest about what was never checked.
func unscannableIssue(pageURL string) scan.Issue {
	return scan.Issue{
		Category:    scan.CategoryReliability,
		Severity:    scan.SeverityCritical,
		Title:       "Scan Failed",
		Description: "The page could not be audited.",
		PageURL:     pageURL,
	}
}
