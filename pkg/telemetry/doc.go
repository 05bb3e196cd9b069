// Package telemetry wires logging, metrics and health checks for a compass
// process.
//
// # Components
//
//   - logging: structured slog logging with domain/tenant/variant fields
//   - metrics: the Sink boundary and its Prometheus collector
//   - health: liveness and readiness checks
//
// # Usage
//
//	tel, err := telemetry.New(&cfg.Telemetry, os.Stdout)
//	if err != nil {
//	    return err
//	}
//	tel.Logger().Info("engine starting")
//	engine := engine.New(registry, engine.WithSink(tel.Sink()))
//
// When metrics are disabled Sink returns a metrics.NopSink and
// MetricsHandler returns nil.
package telemetry
