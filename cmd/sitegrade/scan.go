package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/auditor"
	"github.com/sitegrade/sitegrade/internal/browser"
	"github.com/sitegrade/sitegrade/internal/config"
	"github.com/sitegrade/sitegrade/internal/logging"
	"github.com/sitegrade/sitegrade/internal/report"
	"github.com/sitegrade/sitegrade/internal/scan"
	"github.com/sitegrade/sitegrade/internal/worker"
)

// scanOptions collects the scan command's flags.
type scanOptions struct {
	viewports []string
	pages     int
	depth     int
	format    string
	out       string
	failUnder int
}

func newScanCmd() *cobra.Command {
	opts := &scanOptions{}
	cmd := &cobra.Command{
		Use:   "scan [url]",
		Short: "Audit one site and print the report",
		Long: `Scan crawls the site at the given URL, audits every discovered page
across the selected viewports, and renders the scored report.

Examples:
  # Audit a site and print the Markdown report
  sitegrade scan https://example.com

  # JSON report written to a file, mobile viewport only
  sitegrade scan --format json -o report.json --viewports mobile https://example.com

  # Gate a CI pipeline on the overall score
  sitegrade scan --fail-under 80 https://example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScan(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringSliceVar(&opts.viewports, "viewports", nil,
		"viewports to audit: mobile, tablet, desktop (default all three)")
	cmd.Flags().IntVar(&opts.pages, "pages", 0, "maximum pages to crawl (default from config)")
	cmd.Flags().IntVar(&opts.depth, "depth", 0, "maximum crawl depth from the start URL (default from config)")
	cmd.Flags().StringVar(&opts.format, "format", "markdown", "report format: markdown or json")
	cmd.Flags().StringVarP(&opts.out, "out", "o", "", "write the report to a file instead of stdout")
	cmd.Flags().IntVar(&opts.failUnder, "fail-under", 0,
		"exit with status 2 when the overall score is below this value")

	return cmd
}

func runScan(cmd *cobra.Command, rawURL string, opts *scanOptions) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return err
	}
	viewports, err := cfg.ResolveViewports(opts.viewports)
	if err != nil {
		return err
	}
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return fmt.Errorf("invalid scan url %q (want something like https://example.com)", rawURL)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := browser.New(browser.Config{
		Headless:  cfg.Browser.Headless,
		UserAgent: cfg.Browser.UserAgent,
		MaxTabs:   cfg.Browser.MaxTabs,
	}, logger.Named("browser"))
	if err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	defer func() {
		if cerr := engine.Close(context.Background()); cerr != nil {
			logger.Warn("browser shutdown error", zap.Error(cerr))
		}
	}()

	aud, err := auditor.New(auditor.EngineBrowser(engine), auditor.Config{
		NavigationTimeout: cfg.Auditor.NavigationTimeout,
		ViewportSettle:    cfg.Auditor.ViewportSettle,
	}, logger.Named("auditor"))
	if err != nil {
		return fmt.Errorf("build auditor: %w", err)
	}

	depth := cfg.Crawler.MaxDepth
	if opts.depth > 0 {
		depth = opts.depth
	}
	pages := cfg.Crawler.MaxPages
	if opts.pages > 0 {
		pages = opts.pages
	}

	wkr, err := worker.New(engine, aud, nil, worker.Config{
		MaxDepth:     depth,
		FetchTimeout: cfg.Crawler.FetchTimeout,
		PerHostRPS:   cfg.Crawler.PerHostRPS,
	}, logger.Named("worker"))
	if err != nil {
		return fmt.Errorf("build scan pipeline: %w", err)
	}

	job := scan.Job{
		ID:        "local",
		URL:       target.String(),
		Viewports: viewports,
		PageLimit: pages,
	}
	rpt, err := wkr.Run(ctx, job, func(pct int, message string) {
		logger.Info("scan progress", zap.Int("progress", pct), zap.String("message", message))
	})
	if err != nil {
		return fmt.Errorf("scan %s: %w", target.String(), err)
	}

	if opts.out != "" {
		if err := report.WriteFile(opts.out, format, rpt); err != nil {
			return err
		}
		logger.Info("report written",
			zap.String("path", opts.out),
			zap.Int("score", rpt.Score),
			zap.String("grade", rpt.Grade),
		)
	} else {
		w, err := report.NewWriter(format, os.Stdout)
		if err != nil {
			return err
		}
		if _, err := w.Write(rpt); err != nil {
			return err
		}
	}

	if opts.failUnder > 0 && rpt.Score < opts.failUnder {
		return &thresholdError{score: rpt.Score, threshold: opts.failUnder}
	}
	return nil
}

// thresholdError reports a completed scan whose score fell short of
// --fail-under; main maps it to exit status 2 so CI can tell "site too
// slow" apart from "scan broke".
type thresholdError struct {
	score     int
	threshold int
}

func (e *thresholdError) Error() string {
	return fmt.Sprintf("score %d is below the required threshold %d", e.score, e.threshold)
}
