// Package metrics defines the metrics boundary of the decision engine and
// its Prometheus implementation.
//
// # Overview
//
// The engine core never talks to a metrics backend directly. It pushes
// counts and observations through a Sink:
//
//	type Sink interface {
//	    Count(name string, value float64, labels Labels) error
//	    Observe(name string, value float64, labels Labels) error
//	}
//
// Three sinks are provided:
//   - Collector: Prometheus counters, histograms and gauges
//   - NopSink: discards everything
//   - RecordingSink: keeps every call in memory for tests
//
// # Metric Names
//
//   - decisions_total {domain, variant, action}: decisions served
//   - rewards_total {domain, variant}: rewards recorded
//   - reward_value {domain, variant}: reward distribution
//   - model_mse {domain, variant}: reward-model mean squared error
//   - importance_weight {domain, variant}: mean importance weight
//   - tree_depth {domain, variant}: decision-time tree depth
//   - confidence_width {domain, variant}: last confidence interval width
//   - phase_transitions_total {domain, variant, phase}: experiment transitions
//   - records_dropped_total {domain}: telemetry records that were dropped
//
// The Prometheus collector prefixes every name with the configured
// namespace ("compass" by default).
//
// # Cardinality
//
// Label values come from callers (domains, variants, actions). The
// collector tracks distinct label sets per metric and folds new ones into
// "other" once the configured limit is reached.
package metrics
