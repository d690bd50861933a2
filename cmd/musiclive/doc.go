// Package main hosts the musiclive crawler entrypoint.
//
// Architecture overview:
//   - CLI: Cobra subcommands drive the three modes. "crawl" runs one full discover-and-crawl session and exits,
//     "discover" runs source discovery alone and prints the ranked candidates as JSON, and "serve" exposes the
//     ops HTTP server with on-demand session triggering.
//   - Discovery: internal/discovery probes known venue URLs, ticketing/aggregator endpoints, and cross-reference
//     pages for the configured city, then merges, deduplicates, scores, and ranks the candidates. Results are
//     persisted as sources before any crawling starts.
//   - Crawl pipeline: the orchestrator in internal/crawler prioritizes sources into tiers by confidence and type,
//     then fetches each one politely through a per-domain rate limiter. Static pages go through the Colly-based
//     fetcher (robots.txt enforced); sources flagged as JavaScript-rendered promote to the Chromedp headless
//     fetcher. Fetched HTML feeds the adaptive extractor chain selected by internal/extractor's factory.
//   - Error recovery: internal/policy/recovery classifies every fetch failure and decides between retry with
//     delay, skip, and blacklist. Blacklisted sources are marked inactive in storage so later sessions stop
//     picking them up.
//   - Persistence & fanout: extracted events are written to Postgres via pgx in one transaction per source, so a
//     bad source never corrupts another's work. Raw page snapshots are optionally archived to GCS, artist
//     profiles from internal/enrich fold into event raw data, and a compact session summary is published to
//     Pub/Sub when a topic is configured.
//   - Configuration & plumbing: Viper populates config from env/files; zap provides structured logging;
//     Prometheus metrics are exported via /metrics on the ops server.
//
// Operational notes:
//   - Concurrency model: one session at a time, sources crawled sequentially with a politeness delay between
//     them. The headless fetcher bounds parallel browser tabs with its own semaphore. Shutdown is coordinated
//     via context cancellation from SIGINT/SIGTERM.
//   - Rate limiting: per-domain token buckets honor the rate each source declares at discovery time, with a
//     configurable default for everything else.
//   - Learning: successful extractions feed domain-to-venue-type mappings back into the extractor factory so
//     repeat crawls of a domain start from a better strategy.
//
// Quick checklist:
//   - Configure env vars with the MUSICLIVE_ prefix: MUSICLIVE_DB_DSN, MUSICLIVE_SITE_SLUG,
//     MUSICLIVE_HEADLESS_ENABLED, MUSICLIVE_PUBSUB_PROJECT_ID, MUSICLIVE_ARCHIVE_BUCKET, and
//     MUSICLIVE_ENRICH_ENABLED as needed.
//   - Run locally: go run ./cmd/musiclive crawl --config config.yaml (or rely solely on env overrides).
//   - Serve mode listens on the configured port, keeps /healthz and /readyz lightweight, and drains cleanly on
//     SIGTERM.
package main
