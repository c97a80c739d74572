// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs to submit crawl jobs, POST /v1/jobs/{id}/cancel to stop them.
//   - /v1/projects for listing, CSV export, deletion and invalid flags.
//   - /v1/retrievals for the captcha-gated document download and parse flow.
package api
