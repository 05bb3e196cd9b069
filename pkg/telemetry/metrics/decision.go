package metrics

import (
	"mercator-hq/compass/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DecisionMetrics tracks served decisions and experiment bookkeeping.
//
// Metrics:
//   - compass_decisions_total: decisions by domain, variant and action
//   - compass_phase_transitions_total: variant phase changes
//   - compass_records_dropped_total: telemetry records dropped per domain
type DecisionMetrics struct {
	decisionsTotal   *prometheus.CounterVec
	transitionsTotal *prometheus.CounterVec
	droppedTotal     *prometheus.CounterVec
}

// NewDecisionMetrics creates and registers decision metrics with the provided registry.
func NewDecisionMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DecisionMetrics {
	dm := &DecisionMetrics{
		decisionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      DecisionsTotal,
				Help:      "Total number of decisions served",
			},
			[]string{LabelDomain, LabelVariant, LabelAction},
		),

		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      PhaseTransitionsTotal,
				Help:      "Total number of experiment variant phase transitions",
			},
			[]string{LabelDomain, LabelVariant, LabelPhase},
		),

		droppedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      RecordsDroppedTotal,
				Help:      "Total number of telemetry records dropped",
			},
			[]string{LabelDomain},
		),
	}

	registry.MustRegister(
		dm.decisionsTotal,
		dm.transitionsTotal,
		dm.droppedTotal,
	)

	return dm
}

// RecordDecision adds n decisions for the label set.
func (dm *DecisionMetrics) RecordDecision(domain, variant, action string, n float64) {
	dm.decisionsTotal.WithLabelValues(domain, variant, action).Add(n)
}

// RecordTransition adds n transitions into phase.
func (dm *DecisionMetrics) RecordTransition(domain, variant, phase string, n float64) {
	dm.transitionsTotal.WithLabelValues(domain, variant, phase).Add(n)
}

// RecordDropped adds n dropped records for domain.
func (dm *DecisionMetrics) RecordDropped(domain string, n float64) {
	dm.droppedTotal.WithLabelValues(domain).Add(n)
}
