// Package api hosts the HTTP server, middleware, and handlers. Routes:
//   - POST /api/crawler/ runs a crawl and answers with {nodes, edges}.
//   - GET /health, /healthz and /readyz for liveness and readiness checks.
//   - GET /metrics for Prometheus scraping.
package api
