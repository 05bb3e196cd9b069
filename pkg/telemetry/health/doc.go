// Package health provides liveness and readiness checks for the compass
// operations server.
//
// # Endpoints
//
//   - /health: liveness, the process is running
//   - /ready: readiness, every critical dependency answers
//   - /ready/{check}: one named check, for probing a single store
//   - /version: build information and the active configuration version
//
// # Checks
//
// A check is a function returning nil when its component is healthy.
// Critical checks (configuration, snapshot store) make the service
// unready when they fail. Optional checks (the audit ledger) only degrade
// it: the readiness endpoint still answers 200 with status "degraded".
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("config", health.RegistryCheck(registry))
//	checker.RegisterOptionalCheck("ledger", health.PingCheck(store))
package health
