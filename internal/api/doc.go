// Package api hosts the collector's HTTP surface. Routes:
//   - POST /ingest accepts quest batches from agents (Bearer token).
//   - GET /health for liveness probes.
//   - GET /metrics for Prometheus scraping.
package api
