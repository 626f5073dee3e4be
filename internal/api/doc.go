// Package api hosts the HTTP server, middleware, and REST handlers for the
// audit service. Notable routes:
//   - GET /healthz and /readyz for probes; readiness tracks browser warm-up.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scans to submit a site scan.
//   - GET /v1/scans and /v1/scans/{job_id} for job snapshots and reports.
package api
