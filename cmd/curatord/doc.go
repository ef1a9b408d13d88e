// Package main hosts the curatord entrypoint.
//
// Architecture overview:
//   - Discovery: internal/automation.Orchestrator walks every unprocessed seed curator in order (configured
//     priority IDs first), driving internal/crawler.Crawler over the follower-score API one page at a time.
//     Rate-limited pages are retried in place with a linear, capped backoff; every sleep is cancellable.
//   - Persistence: each page's records are upserted as soon as the page arrives, so an interrupted run loses at
//     most one page. Postgres (pgx, migrations embedded via golang-migrate) is used when db.dsn is set, otherwise
//     an in-memory store.
//   - Exclusivity: at most one run is in flight. The guard is in-process by default, or a Redis lease when
//     redis.addr is set so several replicas can share one trigger surface.
//   - Fanout: raw follower pages can be archived to memory/local/GCS, and a RunSummary is published to Pub/Sub
//     at the end of every run when pubsub.topic_name is set.
//   - HTTP API: internal/api.Server exposes probes, /metrics, the run trigger (throttled with x/time/rate), run
//     status, seed registration and read-only curator queries.
//
// Quick checklist:
//   - Configure env vars: CURATORD_SCOREAPI_BASE_URL and CURATORD_SCOREAPI_API_KEY are required; CURATORD_DB_DSN,
//     CURATORD_REDIS_ADDR, CURATORD_ARCHIVE_BACKEND and CURATORD_PUBSUB_* enable the durable backends.
//   - Run locally: go run ./cmd/curatord -config config.yaml (or rely solely on env overrides).
//   - Shutdown: SIGINT/SIGTERM cancels the in-flight run between pages; unfinished seeds stay unprocessed and are
//     picked up from page 1 on the next run.
package main
