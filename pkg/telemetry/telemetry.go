package telemetry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"mercator-hq/compass/pkg/config"
	"mercator-hq/compass/pkg/telemetry/health"
	"mercator-hq/compass/pkg/telemetry/logging"
	"mercator-hq/compass/pkg/telemetry/metrics"
)

// Telemetry bundles the observability components of one process.
type Telemetry struct {
	logger    *logging.Logger
	collector *metrics.Collector
	sink      metrics.Sink
	checker   *health.Checker
}

// New builds the logger, the metrics sink and an empty health checker
// from cfg. Logs go to w, or stdout when w is nil.
func New(cfg *config.TelemetryConfig, w io.Writer) (*Telemetry, error) {
	logger, err := logging.New(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
		Writer:    w,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	t := &Telemetry{
		logger:  logger,
		sink:    metrics.NopSink{},
		checker: health.New(2 * time.Second),
	}
	if cfg.Metrics.Enabled {
		t.collector = metrics.NewCollector(&cfg.Metrics, nil)
		t.sink = t.collector
	}
	return t, nil
}

// Logger returns the process logger.
func (t *Telemetry) Logger() *logging.Logger {
	return t.logger
}

// Sink returns the metrics sink handed to the engine.
func (t *Telemetry) Sink() metrics.Sink {
	return t.sink
}

// Health returns the health checker.
func (t *Telemetry) Health() *health.Checker {
	return t.checker
}

// MetricsHandler serves the Prometheus exposition, or returns nil when
// metrics are disabled.
func (t *Telemetry) MetricsHandler() http.Handler {
	if t.collector == nil {
		return nil
	}
	return t.collector.Handler()
}

// Shutdown flushes the logger.
func (t *Telemetry) Shutdown() error {
	return t.logger.Shutdown()
}
