// Package main hosts the crawler service entrypoint.
//
// Architecture overview:
//   - Catalog client: internal/catalog talks to the portal's publicannouncement.do methods through a
//     rate-limited Colly fetcher and caches the region tree on disk.
//   - Crawl engine: internal/engine pages each region's catalog, classifies project details by filing
//     category and stores matches. Incremental scans stop at the region checkpoint; full scans rebuild it.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by crawler.queue_depth and are
//     fanned out to a fixed worker pool sized by crawler.concurrency. A full queue rejects new jobs.
//   - Retrieval: internal/retrieval keeps captcha sessions in memory, downloads filing documents once an
//     operator solves the challenge and feeds them to internal/extract.
//   - Persistence: checkpoints, projects and runs live in memory, Postgres or MongoDB; raw documents go to
//     the configured blob store (memory/local/GCS). New projects can be announced on Pub/Sub.
//
// Commands:
//   - serve: HTTP API plus workers until SIGTERM.
//   - crawl --mode incremental --region 330100: one job in-process, prints the run summary.
//   - regions [--refresh]: prints the cached city and district codes.
//
// Configuration comes from --config and TZXM_* environment variables, e.g. TZXM_STORAGE_BACKEND=postgres
// and TZXM_DB_DSN.
package main
