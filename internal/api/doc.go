// Package api hosts the read-only ops HTTP server. Notable routes:
//   - GET /healthz and /readyz for liveness and store-backed readiness.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/permits/recent and /v1/runs/recent for quick inspection of
//     what the pipeline has been doing without opening the database.
package api
