// Package config provides configuration management for Compass.
//
// This package loads, validates and publishes the parameters of the decision
// engine: the rollout gate, the default RewardEstimator and ContextPartitioner
// parameter bundles, per-domain overrides, experiment thresholds, and the
// operational sections (server, telemetry, snapshots, ledger).
//
// # Configuration Loading
//
// Configuration can be loaded in three ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("compass.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("compass.yaml")
//
//  3. From defaults and the environment only:
//     cfg, err := config.LoadFromEnvironment()
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention COMPASS_SECTION_FIELD.
// For example:
//
//   - COMPASS_ENABLED overrides engine.enabled
//   - COMPASS_ROLLOUT_PERCENTAGE overrides engine.rollout_percentage
//   - COMPASS_ALLOWED_TENANTS overrides engine.allowed_tenants (comma separated)
//   - COMPASS_ESTIMATOR_EXPLORATION_ALPHA overrides estimator.exploration_alpha
//   - COMPASS_PARTITIONER_SPLIT_STRATEGY overrides partitioner.split_strategy
//
// A malformed value is a configuration error, never silently ignored.
//
// # Registry
//
// A Registry publishes an immutable snapshot of the configuration. Reads are
// lock-free and a domain override installed with SetDomainConfig applies to
// the next read:
//
//	registry, err := config.NewRegistry(cfg)
//	if registry.IsEnabledFor("checkout", "tenant-42") {
//	    // candidate variants may serve
//	}
//	dc := registry.GetConfig("checkout")
//
// IsEnabledFor hashes (seed, domain, tenant) into [0, 1) and compares it to
// the rollout percentage, so the same pair always gets the same answer and
// raising the percentage never disables a pair.
//
// # Validation
//
// Validation errors carry dotted field paths and match
// compassErrors.ErrConfiguration:
//
//	configuration validation failed with 2 errors:
//	  - engine.rollout_percentage: rollout percentage must be between 0.0 and 1.0, got 1.5
//	  - estimator.exploration_alpha: exploration constant must be positive, got 0
//
// # Example Configuration
//
//	engine:
//	  enabled: true
//	  rollout_percentage: 0.25
//	  allowed_domains: ["checkout"]
//
//	estimator:
//	  exploration_alpha: 0.5
//	  features: ["bias", "price", "latency"]
//
//	domains:
//	  checkout:
//	    algorithm: partitioner
//	    partitioner:
//	      max_depth: 4
//	      split_strategy: information_gain
package config
