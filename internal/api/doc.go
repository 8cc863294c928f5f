// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - /projects and /files/... for projects, uploads and classification views.
//   - POST /files/process-project/{project_id} and
//     POST /files/projects/{project_id}/reclassify to trigger background jobs.
//   - GET /ws/{project_id}, the WebSocket progress channel.
package api
