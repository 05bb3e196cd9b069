package telemetry

import (
	"bytes"
	"strings"
	"testing"

	"mercator-hq/compass/pkg/config"
	"mercator-hq/compass/pkg/telemetry/metrics"
)

func TestNew(t *testing.T) {
	cfg := config.Default().Telemetry

	t.Run("metrics disabled", func(t *testing.T) {
		c := cfg
		c.Metrics.Enabled = false
		tel, err := New(&c, &bytes.Buffer{})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := tel.Sink().(metrics.NopSink); !ok {
			t.Errorf("Sink() = %T, want NopSink", tel.Sink())
		}
		if tel.MetricsHandler() != nil {
			t.Error("MetricsHandler() should be nil when metrics are disabled")
		}
	})

	t.Run("metrics enabled", func(t *testing.T) {
		c := cfg
		c.Metrics.Enabled = true
		tel, err := New(&c, &bytes.Buffer{})
		if err != nil {
			t.Fatal(err)
		}
		if _, ok := tel.Sink().(*metrics.Collector); !ok {
			t.Errorf("Sink() = %T, want *metrics.Collector", tel.Sink())
		}
		if tel.MetricsHandler() == nil {
			t.Error("MetricsHandler() should not be nil")
		}
	})

	t.Run("invalid level", func(t *testing.T) {
		c := cfg
		c.Logging.Level = "loud"
		if _, err := New(&c, nil); err == nil {
			t.Error("expected error")
		}
	})
}

func TestLoggerWritesToWriter(t *testing.T) {
	cfg := config.Default().Telemetry
	buf := &bytes.Buffer{}
	tel, err := New(&cfg, buf)
	if err != nil {
		t.Fatal(err)
	}
	tel.Logger().Info("engine starting")
	if !strings.Contains(buf.String(), "engine starting") {
		t.Errorf("log output = %q", buf.String())
	}
	if err := tel.Shutdown(); err != nil {
		t.Errorf("Shutdown() = %v", err)
	}
}
