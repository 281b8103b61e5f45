// Package api hosts the node manager's HTTP server. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/nodes and /api/nodes/{node} for the node table.
//   - GET and POST /api/nodes/{node}/firmware/{memory} to start a download or
//     upload job; both answer 202 with the job's status URL in Location.
//   - GET /api/jobs/{id} and /api/jobs/{id}/result to follow a job.
package api
