// Package http provides the HTTP REST API implementation.
//
// The HTTP server exposes endpoints for:
//   - Flow submission (JSON or YAML definitions), inspection and stop
//   - Stored run results and the mirrored event history
//   - Statistics over the active flows
//   - Health checks
//   - Prometheus metrics
package http
