// Package api hosts the HTTP server, middleware, and handlers for the
// browser client. Notable routes:
//   - GET /healthz / readyz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /connect_and_enumerate and /scrape for task submission; both
//     return a task id immediately.
//   - GET /stream/{task_id} for the SSE progress stream.
//   - GET /download/{task_id} for the one-shot artifact download.
package api
