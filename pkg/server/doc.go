// Package server provides the operations HTTP server of a compass process.
//
// The server does not serve decisions. It exposes health checks, metrics and the
// operator surface of the experiment coordinator:
//
//   - GET /health, /ready, /ready/{check}, /version: health checks and build info
//   - GET /metrics: Prometheus exposition when metrics are enabled
//   - GET /v1/experiments: summaries of every running experiment
//   - GET /v1/experiments/{domain}: summary of one experiment
//   - POST /v1/experiments/{domain}: start an experiment
//   - DELETE /v1/experiments/{domain}: stop it, optionally ?promote=variant
//   - POST /v1/experiments/{domain}/variants/{variant}/promote
//   - POST /v1/experiments/{domain}/variants/{variant}/rollback
//   - GET /v1/policies: diagnostics of every live policy
//   - GET /v1/transitions: phase transitions from the ledger
//   - POST /v1/snapshots: export every policy to the snapshot backend
//
// Requests pass through recovery, request ID and logging middleware, in
// that order from the outside in.
package server
