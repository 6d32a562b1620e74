// Package api hosts the optional status server that runs alongside a crawl.
// Routes:
//   - GET /healthz for liveness probes.
//   - GET /readyz, which checks the durable store.
//   - GET /metrics for Prometheus scraping.
//   - GET /stats for the live session counters.
package api
