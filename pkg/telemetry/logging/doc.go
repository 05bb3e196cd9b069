// Package logging provides structured logging for the decision engine.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - Structured logging with JSON, text, and console formats
//   - Context-aware logging with domain, tenant and variant fields
//   - Throttled warnings for hot paths that must never flood the log
//   - Configurable log levels (debug, info, warn, error)
//
// # Usage
//
//	logger, err := logging.New(logging.Config{
//	    Level:  "info",
//	    Format: "json",
//	})
//
//	ctx = logging.WithDomain(ctx, "routing")
//	logger.InfoContext(ctx, "variant promoted", "variant", "variant_a")
//
// Components that only need a *slog.Logger receive logger.Slog().
//
// # Throttling
//
// Telemetry-path failures (dropped metrics, unknown variants) can happen on
// every call. A Throttled logger emits at most a burst of records per
// interval and counts the rest:
//
//	warn := logging.NewThrottled(logger.Slog(), time.Second, 5)
//	warn.Warn("metrics dropped", "domain", domain)
package logging
