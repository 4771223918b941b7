// Package api hosts the operator HTTP surface of the harvester. Notable routes:
//   - GET /healthz and /readyz for liveness and readiness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET and DELETE /v1/checkpoint to inspect or reset pagination progress.
package api
