package metrics

import (
	"mercator-hq/compass/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// ModelMetrics holds algorithm-specific gauges.
//
// Metrics:
//   - compass_model_mse: reward-model mean squared error
//   - compass_importance_weight: mean clamped importance weight
//   - compass_tree_depth: decision-time partition tree depth
//   - compass_confidence_width: last confidence interval width
type ModelMetrics struct {
	gauges map[string]*prometheus.GaugeVec
}

var modelGaugeHelp = map[string]string{
	ModelMSE:         "Mean squared error of the reward model",
	ImportanceWeight: "Mean importance weight applied to updates",
	TreeDepth:        "Depth of the partition tree leaf used for the last decision",
	ConfidenceWidth:  "Confidence interval width of the last decision",
}

// NewModelMetrics creates and registers model gauges with the provided registry.
func NewModelMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ModelMetrics {
	mm := &ModelMetrics{gauges: make(map[string]*prometheus.GaugeVec, len(modelGaugeHelp))}
	for _, name := range []string{ModelMSE, ImportanceWeight, TreeDepth, ConfidenceWidth} {
		g := prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Name:      name,
				Help:      modelGaugeHelp[name],
			},
			[]string{LabelDomain, LabelVariant},
		)
		registry.MustRegister(g)
		mm.gauges[name] = g
	}
	return mm
}

// Set updates the named gauge. Unknown names are ignored.
func (mm *ModelMetrics) Set(name, domain, variant string, value float64) {
	if g, ok := mm.gauges[name]; ok {
		g.WithLabelValues(domain, variant).Set(value)
	}
}
