// Package main hosts the sitegrade binary: a scan API server and a
// one-shot command-line auditor built on the same pipeline.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health probes, Prometheus
//     metrics, and the scan endpoints. Submissions are validated,
//     resolved against the viewport presets, and handed to the queue
//     manager, which answers with the job snapshot.
//   - Queue: internal/queue.Manager runs jobs under a fixed concurrency
//     cap with no background dispatcher; scheduling happens on submit
//     and on settle, and waiting jobs carry a queue position plus a wait
//     estimate derived from recent scan durations.
//   - Pipeline: internal/worker drives each job through crawl (headless
//     fetch plus same-host link discovery), per-viewport audits over the
//     Chrome DevTools Protocol, and scoring into the 0-100 overall grade.
//   - Events: internal/push.Hub batches job lifecycle events to the zap
//     log sink and the Prometheus sink without ever blocking a scan.
//   - Plumbing: Viper loads configuration from file and environment, zap
//     provides structured logging, and one shared headless Chrome engine
//     serves every fetch and audit tab.
//
// Operational notes:
//   - Shutdown: the process reacts to SIGINT/SIGTERM by draining the
//     HTTP server, waiting for running scans to settle, flushing the
//     event hub, and only then reaping Chrome.
//   - The scan subcommand runs the same pipeline without the queue or
//     the API and renders the report as Markdown or JSON; --fail-under
//     makes it exit non-zero for CI gates.
package main
