package metrics

import (
	"fmt"
	"sync"

	"mercator-hq/compass/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// overflowLabel replaces label values beyond the cardinality limit.
const overflowLabel = "other"

// Collector is a Sink backed by Prometheus. It owns a registry with every
// engine metric pre-registered.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	decisionMetrics *DecisionMetrics
	rewardMetrics   *RewardMetrics
	modelMetrics    *ModelMetrics

	// Cardinality tracking
	cardinalityLimiter *CardinalityLimiter
}

// NewCollector creates a metrics collector with the specified configuration
// and Prometheus registry. If registry is nil, a fresh registry is used.
//
// Example:
//
//	cfg := &config.MetricsConfig{
//		Enabled:   true,
//		Namespace: "compass",
//	}
//	collector := metrics.NewCollector(cfg, nil)
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := *cfg
	if c.Namespace == "" {
		c.Namespace = "compass"
	}
	if c.MaxCardinality <= 0 {
		c.MaxCardinality = 1000
	}
	if len(c.RewardBuckets) == 0 {
		c.RewardBuckets = []float64{-1, -0.5, 0, 0.25, 0.5, 0.75, 1, 2, 5}
	}

	return &Collector{
		config:             &c,
		registry:           registry,
		decisionMetrics:    NewDecisionMetrics(&c, registry),
		rewardMetrics:      NewRewardMetrics(&c, registry),
		modelMetrics:       NewModelMetrics(&c, registry),
		cardinalityLimiter: NewCardinalityLimiter(c.MaxCardinality),
	}
}

// Count implements Sink for the counter metrics.
func (c *Collector) Count(name string, value float64, labels Labels) error {
	if !c.config.Enabled {
		return nil
	}
	if value < 0 {
		return fmt.Errorf("counter %s cannot decrease (value %v)", name, value)
	}

	domain, variant := labels[LabelDomain], labels[LabelVariant]
	switch name {
	case DecisionsTotal:
		action := labels[LabelAction]
		if !c.cardinalityLimiter.Allow(name + ":" + domain + ":" + variant + ":" + action) {
			variant, action = overflowLabel, overflowLabel
		}
		c.decisionMetrics.RecordDecision(domain, variant, action, value)
	case RewardsTotal:
		domain, variant = c.limit(name, domain, variant)
		c.rewardMetrics.RecordCount(domain, variant, value)
	case PhaseTransitionsTotal:
		domain, variant = c.limit(name, domain, variant)
		c.decisionMetrics.RecordTransition(domain, variant, labels[LabelPhase], value)
	case RecordsDroppedTotal:
		if !c.cardinalityLimiter.Allow(name + ":" + domain) {
			domain = overflowLabel
		}
		c.decisionMetrics.RecordDropped(domain, value)
	default:
		return fmt.Errorf("%w: counter %q", ErrUnknownMetric, name)
	}
	return nil
}

// Observe implements Sink for the histogram and gauge metrics.
func (c *Collector) Observe(name string, value float64, labels Labels) error {
	if !c.config.Enabled {
		return nil
	}

	domain, variant := c.limit(name, labels[LabelDomain], labels[LabelVariant])
	switch name {
	case RewardValue:
		c.rewardMetrics.ObserveReward(domain, variant, value)
	case ModelMSE, ImportanceWeight, TreeDepth, ConfidenceWidth:
		c.modelMetrics.Set(name, domain, variant, value)
	default:
		return fmt.Errorf("%w: observation %q", ErrUnknownMetric, name)
	}
	return nil
}

func (c *Collector) limit(name, domain, variant string) (string, string) {
	if c.cardinalityLimiter.Allow(name + ":" + domain + ":" + variant) {
		return domain, variant
	}
	return domain, overflowLabel
}

// Registry returns the Prometheus registry used by this collector.
// This can be used to create an HTTP handler for the /metrics endpoint:
//
//	http.Handle("/metrics", promhttp.HandlerFor(
//		collector.Registry(),
//		promhttp.HandlerOpts{},
//	))
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CardinalityLimiter prevents metric cardinality explosion by limiting
// the number of unique label combinations.
type CardinalityLimiter struct {
	maxCardinality int
	current        map[string]struct{}
	mu             sync.RWMutex
}

// NewCardinalityLimiter creates a new cardinality limiter with the specified
// maximum cardinality.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow checks if a label set is allowed. Returns true if the label set
// already exists or if we haven't reached the cardinality limit yet.
// Returns false if adding this label set would exceed the limit.
func (cl *CardinalityLimiter) Allow(labelSet string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[labelSet]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	// Double-check after acquiring write lock
	if _, exists := cl.current[labelSet]; exists {
		return true
	}

	if len(cl.current) >= cl.maxCardinality {
		return false
	}

	cl.current[labelSet] = struct{}{}
	return true
}

// Count returns the current cardinality.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
