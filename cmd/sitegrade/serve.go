package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/app"
	"github.com/sitegrade/sitegrade/internal/auditor"
	"github.com/sitegrade/sitegrade/internal/browser"
	"github.com/sitegrade/sitegrade/internal/config"
	"github.com/sitegrade/sitegrade/internal/logging"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scan API server",
		Long: `Serve hosts the HTTP API: submit scans with POST /v1/scans, poll them
with GET /v1/scans/{job_id}, and watch /metrics for Prometheus data.
One shared headless Chrome process serves every scan.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	zap.ReplaceGlobals(logger)

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

	aud, err := auditor.New(auditor.EngineBrowser(engine), auditor.Config{
		NavigationTimeout: cfg.Auditor.NavigationTimeout,
		ViewportSettle:    cfg.Auditor.ViewportSettle,
	}, logger.Named("auditor"))
	if err != nil {
		_ = engine.Close(context.Background())
		return fmt.Errorf("build auditor: %w", err)
	}

	// The engine doubles as the crawl fetcher and the readiness probe.
	application, err := app.New(cfg, logger, engine, aud, engine, nil)
	if err != nil {
		_ = engine.Close(context.Background())
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           application.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.String("addr", srv.Addr))
		if serveErr := srv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	timeout := cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	// Drain order matters: stop accepting requests, let running scans
	// settle, then reap Chrome, which their tabs were driving.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	application.Close(shutdownCtx)
	if err := engine.Close(shutdownCtx); err != nil {
		logger.Warn("browser shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}
