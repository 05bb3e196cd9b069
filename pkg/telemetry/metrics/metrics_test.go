package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mercator-hq/compass/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig() *config.MetricsConfig {
	return &config.MetricsConfig{
		Enabled:        true,
		Namespace:      "test",
		MaxCardinality: 100,
		RewardBuckets:  []float64{0, 0.5, 1},
	}
}

func TestCollector_NewCollector(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := NewCollector(testConfig(), registry)

	if collector == nil {
		t.Fatal("Expected non-nil collector")
	}
	if collector.Registry() != registry {
		t.Error("Collector registry not set correctly")
	}

	defaulted := NewCollector(&config.MetricsConfig{Enabled: true}, nil)
	if defaulted.config.Namespace != "compass" {
		t.Errorf("default namespace = %q", defaulted.config.Namespace)
	}
}

func TestCollector_Decisions(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	labels := Labels{LabelDomain: "routing", LabelVariant: "baseline", LabelAction: "fast"}

	for i := 0; i < 3; i++ {
		if err := collector.Count(DecisionsTotal, 1, labels); err != nil {
			t.Fatalf("Count() error = %v", err)
		}
	}

	got := testutil.ToFloat64(collector.decisionMetrics.decisionsTotal.WithLabelValues("routing", "baseline", "fast"))
	if got != 3 {
		t.Errorf("decisions_total = %v, want 3", got)
	}
}

func TestCollector_RewardsAndGauges(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	labels := Labels{LabelDomain: "routing", LabelVariant: "variant_a"}

	if err := collector.Count(RewardsTotal, 1, labels); err != nil {
		t.Fatal(err)
	}
	if err := collector.Observe(RewardValue, 0.8, labels); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{ModelMSE, ImportanceWeight, TreeDepth, ConfidenceWidth} {
		if err := collector.Observe(name, 2, labels); err != nil {
			t.Fatalf("Observe(%s) error = %v", name, err)
		}
	}

	if got := testutil.ToFloat64(collector.rewardMetrics.rewardsTotal.WithLabelValues("routing", "variant_a")); got != 1 {
		t.Errorf("rewards_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.modelMetrics.gauges[TreeDepth].WithLabelValues("routing", "variant_a")); got != 2 {
		t.Errorf("tree_depth = %v, want 2", got)
	}
	if n := testutil.CollectAndCount(collector.rewardMetrics.rewardValue); n != 1 {
		t.Errorf("reward_value series = %d, want 1", n)
	}
}

func TestCollector_UnknownMetric(t *testing.T) {
	collector := NewCollector(testConfig(), nil)

	if err := collector.Count("latency", 1, nil); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("Count(unknown) error = %v", err)
	}
	if err := collector.Observe("latency", 1, nil); !errors.Is(err, ErrUnknownMetric) {
		t.Errorf("Observe(unknown) error = %v", err)
	}
	if err := collector.Count(DecisionsTotal, -1, nil); err == nil {
		t.Error("expected error for negative counter increment")
	}
}

func TestCollector_Disabled(t *testing.T) {
	cfg := testConfig()
	cfg.Enabled = false
	collector := NewCollector(cfg, nil)

	if err := collector.Count("anything", 1, nil); err != nil {
		t.Errorf("disabled collector returned %v", err)
	}
	if n := testutil.CollectAndCount(collector.decisionMetrics.decisionsTotal); n != 0 {
		t.Errorf("disabled collector recorded %d series", n)
	}
}

func TestCollector_CardinalityLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCardinality = 2
	collector := NewCollector(cfg, nil)

	for _, action := range []string{"a", "b", "c", "d"} {
		_ = collector.Count(DecisionsTotal, 1, Labels{LabelDomain: "d", LabelVariant: "v", LabelAction: action})
	}

	if got := testutil.ToFloat64(collector.decisionMetrics.decisionsTotal.WithLabelValues("d", overflowLabel, overflowLabel)); got != 2 {
		t.Errorf("overflow series = %v, want 2", got)
	}
	if collector.cardinalityLimiter.Count() != 2 {
		t.Errorf("tracked label sets = %d, want 2", collector.cardinalityLimiter.Count())
	}
}

func TestCollector_Handler(t *testing.T) {
	collector := NewCollector(testConfig(), nil)
	_ = collector.Count(DecisionsTotal, 1, Labels{LabelDomain: "routing", LabelVariant: "baseline", LabelAction: "x"})

	rec := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "test_decisions_total") {
		t.Errorf("exposition missing decisions counter:\n%s", rec.Body.String())
	}
}

func TestRecordingSink(t *testing.T) {
	sink := NewRecordingSink()
	labels := Labels{LabelDomain: "routing", LabelVariant: "baseline"}

	_ = sink.Count(RewardsTotal, 1, labels)
	_ = sink.Count(RewardsTotal, 1, Labels{LabelDomain: "routing", LabelVariant: "variant_a"})
	_ = sink.Observe(ModelMSE, 0.2, labels)
	_ = sink.Observe(ModelMSE, 0.1, labels)

	if got := sink.Total(RewardsTotal, Labels{LabelDomain: "routing"}); got != 2 {
		t.Errorf("Total() = %v, want 2", got)
	}
	if got, ok := sink.Last(ModelMSE, labels); !ok || got != 0.1 {
		t.Errorf("Last() = %v, %v", got, ok)
	}

	labels[LabelVariant] = "mutated"
	if sink.Total(RewardsTotal, Labels{LabelVariant: "baseline"}) != 1 {
		t.Error("sink should copy labels")
	}

	sink.Err = errors.New("backend down")
	if err := sink.Count(RewardsTotal, 1, nil); err == nil {
		t.Error("expected configured error")
	}
	sink.Reset()
	if len(sink.Records()) != 0 {
		t.Error("Reset() should discard records")
	}
}

func TestLabels_String(t *testing.T) {
	l := Labels{"variant": "a", "domain": "d"}
	if got := l.String(); got != `{domain="d",variant="a"}` {
		t.Errorf("String() = %s", got)
	}
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	if s.Count("x", 1, nil) != nil || s.Observe("x", 1, nil) != nil {
		t.Error("NopSink should never fail")
	}
}
