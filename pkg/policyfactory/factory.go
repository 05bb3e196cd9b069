// Package policyfactory builds decision policies by algorithm name and
// keeps one live policy per domain.
package policyfactory

import (
	"log/slog"

	"mercator-hq/compass/pkg/bandit"
	"mercator-hq/compass/pkg/bandit/estimator"
	"mercator-hq/compass/pkg/bandit/partitioner"
	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
)

// Option configures policy construction.
type Option func(*options)

type options struct {
	logger *slog.Logger
}

// WithLogger sets the logger handed to the constructed policy.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a policy for the given algorithm using the parameters in dc.
// An empty algorithm falls back to dc.Algorithm.
//
// Supported algorithms:
//   - "estimator": importance-weighted linear reward model per action
//   - "partitioner": regression tree with an estimator in every leaf
//
// Example:
//
//	dc := registry.GetConfig("routing")
//	policy, err := policyfactory.New("", dc)
//	if err != nil {
//	    return err
//	}
//	action, err := policy.Recommend(ctx, candidates)
func New(algorithm string, dc config.DomainConfig, opts ...Option) (bandit.Policy, error) {
	const op = "policyfactory.New"

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if algorithm == "" {
		algorithm = dc.Algorithm
	}
	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("algorithm", algorithm)

	switch algorithm {
	case config.AlgorithmEstimator:
		e, err := estimator.New(dc.Estimator, estimator.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return e, nil

	case config.AlgorithmPartitioner:
		p, err := partitioner.New(dc.Partitioner, dc.Estimator, partitioner.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, compassErrors.Configuration(op, "unsupported algorithm %q (supported: %s, %s)",
			algorithm, config.AlgorithmEstimator, config.AlgorithmPartitioner)
	}
}
