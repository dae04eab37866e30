// Package main hosts the questwatch entrypoint.
//
// Architecture overview:
//   - Driver: internal/pipeline.Driver ticks on poll.interval, fetching each region in
//     order with a random pause from the jitter window between regions. Ticks never
//     overlap, and shutdown lets the region in progress finish.
//   - Dedup: internal/dedup holds the single lock over the seen-set check-then-set, shared
//     by the driver and the ingest handler. Keys are (region, quest id).
//   - Seen-set: internal/storage opens memory, json, sqlite, postgres, redis or gcs
//     backends. A seen-set that cannot be read stops startup.
//   - Sinks: internal/notify builds webhook (embed JSON, paced per sink) and Pub/Sub
//     sinks; internal/dispatcher sends every accepted quest to every sink once.
//   - Roles: standalone polls and notifies; collector also serves POST /ingest, GET
//     /health and GET /metrics; agent polls and forwards raw batches to the collector.
//
// Quick checklist:
//   - Configure env vars: QUESTWATCH_ROLE, QUESTWATCH_UPSTREAM_BASE_URL,
//     QUESTWATCH_UPSTREAM_TOKEN, QUESTWATCH_REGION_CODE (or "all"), QUESTWATCH_WEBHOOK_URLS,
//     QUESTWATCH_CLUSTER_TOKEN and QUESTWATCH_CLUSTER_COLLECTOR_URL for agents.
//   - Run locally: go run ./cmd/questwatch -config config.yaml
//   - Scheduled runs: set poll.run_once to execute a single tick and exit.
package main
