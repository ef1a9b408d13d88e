// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/automation/run to trigger a discovery run, GET /v1/automation/status to watch it.
//   - GET/POST /v1/seeds to inspect and register seed curators.
//   - GET /v1/curators and /v1/summary to read what discovery has stored.
package api
