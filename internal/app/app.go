// Package app assembles the scan pipeline, queue, event hub, and HTTP
// API into one unit the serve command can start and stop as a whole.
package app

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sitegrade/sitegrade/internal/api"
	"github.com/sitegrade/sitegrade/internal/config"
	"github.com/sitegrade/sitegrade/internal/crawler"
	"github.com/sitegrade/sitegrade/internal/push"
	"github.com/sitegrade/sitegrade/internal/push/sinks"
	"github.com/sitegrade/sitegrade/internal/queue"
	"github.com/sitegrade/sitegrade/internal/storage/memory"
	"github.com/sitegrade/sitegrade/internal/worker"
)

// App owns the long-lived components behind the HTTP API: the scan
// worker, the in-memory job store, the queue manager, and the push hub
// fanning events out to the log and Prometheus sinks.
//
// The browser engine is deliberately not owned here. It must outlive
// the queue manager during shutdown (draining jobs still drive tabs),
// so the caller constructs it first and closes it last.
type App struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *memory.Store
	hub     *push.Hub
	manager *queue.Manager
	server  *api.Server
}

// New wires the pipeline together. The fetcher and page auditor are the
// browser-backed halves of a scan; ready gates /readyz until the engine
// has warmed up. A nil reg registers metrics with the default Prometheus
// registerer, which is what the /metrics endpoint serves.
func New(cfg config.Config, logger *zap.Logger, fetcher crawler.Fetcher, pages worker.PageAuditor, ready api.ReadyChecker, reg prometheus.Registerer) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	wkr, err := worker.New(fetcher, pages, nil, worker.Config{
		MaxDepth:     cfg.Crawler.MaxDepth,
		FetchTimeout: cfg.Crawler.FetchTimeout,
		PerHostRPS:   cfg.Crawler.PerHostRPS,
	}, logger.Named("worker"))
	if err != nil {
		return nil, fmt.Errorf("build scan pipeline: %w", err)
	}

	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	hub := push.NewHub(push.Config{Logger: logger.Named("push")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
	)

	store := memory.New(nil)
	manager, err := queue.NewManager(queue.Config{
		Concurrency:  cfg.Queue.Concurrency,
		FallbackWait: cfg.Queue.FallbackWait,
		Logger:       logger.Named("queue"),
	}, store, wkr, hub)
	if err != nil {
		_ = hub.Close(context.Background())
		return nil, fmt.Errorf("build queue manager: %w", err)
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		store:   store,
		hub:     hub,
		manager: manager,
		server:  api.NewServer(manager, ready, cfg, logger.Named("api")),
	}, nil
}

// Handler returns the HTTP handler serving the full API surface.
func (a *App) Handler() http.Handler {
	return a.server.Handler()
}

// Manager returns the queue manager, mainly for tests and tooling.
func (a *App) Manager() *queue.Manager {
	return a.manager
}

// Logger returns the root logger the app was built with.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Close stops accepting jobs, waits for running scans to settle, and
// flushes the event hub. Failures are logged rather than returned; by
// this point there is nothing useful a caller can do with them.
func (a *App) Close(ctx context.Context) {
	if err := a.manager.Close(ctx); err != nil {
		a.logger.Warn("queue shutdown incomplete", zap.Error(err))
	}
	if err := a.hub.Close(ctx); err != nil {
		a.logger.Warn("event hub shutdown incomplete", zap.Error(err))
	}
	_ = a.logger.Sync()
}
