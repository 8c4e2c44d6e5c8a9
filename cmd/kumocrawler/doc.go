// Package main hosts the chat-history exporter service entrypoint.
//
// Architecture overview:
//   - HTTP API: internal/api.Server exposes health, metrics, the task
//     submission endpoints (/connect_and_enumerate, /scrape), the SSE
//     progress stream (/stream/{task_id}), and the artifact download
//     (/download/{task_id}). Submissions are validated synchronously; a task
//     id is returned before any browser work starts.
//   - Task registry: internal/registry owns the process-wide task table. Each
//     task carries its own append-only event log (internal/stream) that
//     subscribers replay from the start, and, for scrapes, the downloadable
//     artifact once complete. Terminal transitions happen exactly once.
//   - Worker runner: internal/runner executes each task on its own goroutine,
//     forwarding scraper progress into the event log and converting any error
//     or panic into a failed task. A per-task timeout bounds wedged browser
//     sessions.
//   - Scraper: internal/scraper/headless drives a Rocket.Chat style client
//     with chromedp. One exec allocator is shared; each task gets its own
//     browser context (own session), with a semaphore bounding parallel
//     contexts. internal/scraper/preflight probes the login page over plain
//     HTTP first so bad URLs fail in milliseconds.
//   - Configuration & plumbing: Viper populates config from env (KUMO_*
//     prefix) or a file; zap provides structured logging; Prometheus metrics
//     are exported on /metrics.
//
// Operational notes:
//   - Tasks, event logs, and artifacts live in memory until process exit;
//     there is no expiry and no cancellation. A client closing its stream
//     does not stop the worker.
//   - Credentials travel by value into each task and are never persisted;
//     passwords never reach the logs.
//   - Run locally: go run ./cmd/kumocrawler -config config.yaml (or rely on
//     KUMO_* env overrides). The process reacts to SIGTERM/SIGINT with a
//     graceful HTTP drain.
package main
