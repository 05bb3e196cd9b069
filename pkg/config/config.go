package config

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Compass.
// It contains the rollout gate, the default parameter bundles for both
// decision algorithms, per-domain overrides, and the operational sections
// (server, telemetry, snapshots, ledger).
type Config struct {
	// Engine contains the global enable flag, rollout percentage and
	// domain/tenant allow-lists.
	Engine EngineConfig `yaml:"engine"`

	// Estimator contains the default RewardEstimator parameters.
	Estimator EstimatorConfig `yaml:"estimator"`

	// Partitioner contains the default ContextPartitioner parameters.
	Partitioner PartitionerConfig `yaml:"partitioner"`

	// Experiment contains the default shadow-evaluation thresholds.
	Experiment ExperimentConfig `yaml:"experiment"`

	// Domains contains per-domain overrides. Keys are domain names.
	// Keys omitted from a YAML override inherit the process defaults above;
	// in a DomainConfig built in code, zero fields inherit them.
	Domains map[string]DomainConfig `yaml:"domains"`

	// Watch controls hot reloading of the configuration file.
	Watch WatchConfig `yaml:"watch"`

	// Server contains the operations HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Telemetry contains logging and metrics configuration.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Snapshot contains policy state persistence configuration.
	Snapshot SnapshotConfig `yaml:"snapshot"`

	// Ledger contains the experiment audit ledger configuration.
	Ledger LedgerConfig `yaml:"ledger"`

	// domainNodes keeps the YAML of each domain override so it can be
	// rebuilt after environment overrides change the process defaults.
	domainNodes map[string]yaml.Node
}

// EngineConfig contains the global rollout gate.
type EngineConfig struct {
	// Enabled is the global enable flag. When false, candidate variants never
	// serve traffic and the baseline policy answers every request.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// RolloutPercentage is the fraction of (domain, tenant) pairs for which
	// candidate variants may serve. Must be within [0, 1].
	// Default: 0
	RolloutPercentage float64 `yaml:"rollout_percentage"`

	// RolloutSeed salts the rollout hash so different deployments bucket
	// tenants independently.
	// Default: "compass"
	RolloutSeed string `yaml:"rollout_seed"`

	// AllowedDomains restricts rollout to the listed domains.
	// Empty means every domain is allowed.
	AllowedDomains []string `yaml:"allowed_domains"`

	// AllowedTenants restricts rollout to the listed tenants.
	// Empty means every tenant is allowed.
	AllowedTenants []string `yaml:"allowed_tenants"`

	// DefaultAlgorithm is the algorithm used for domains without an override.
	// Options: "estimator", "partitioner"
	// Default: "estimator"
	DefaultAlgorithm string `yaml:"default_algorithm"`
}

// EstimatorConfig contains RewardEstimator parameters.
type EstimatorConfig struct {
	// ExplorationAlpha scales the confidence width added to each score.
	// Must be positive.
	// Default: 1.0
	ExplorationAlpha float64 `yaml:"exploration_alpha"`

	// InitialLearningRate is lr0 in max(min_lr, lr0 * decay^t).
	// Must be within (0, 1].
	// Default: 0.1
	InitialLearningRate float64 `yaml:"initial_learning_rate"`

	// LearningRateDecay is the per-visit multiplicative decay.
	// Must be within (0, 1].
	// Default: 0.999
	LearningRateDecay float64 `yaml:"learning_rate_decay"`

	// MinLearningRate is the learning rate floor.
	// Default: 0.001
	MinLearningRate float64 `yaml:"min_learning_rate"`

	// Regularization is the L2 penalty applied at every update.
	// A zero value inherits the default.
	// Default: 0.001
	Regularization float64 `yaml:"regularization"`

	// VarianceSmoothing is the EWMA factor for the residual variance.
	// Must be within (0, 1].
	// Default: 0.1
	VarianceSmoothing float64 `yaml:"variance_smoothing"`

	// InitialVariance seeds the variance estimate of a new reward model.
	// Default: 1.0
	InitialVariance float64 `yaml:"initial_variance"`

	// MinImportanceWeight is the lower clamp bound for importance weights.
	// Default: 0.01
	MinImportanceWeight float64 `yaml:"min_importance_weight"`

	// MaxImportanceWeight is the upper clamp bound for importance weights.
	// Default: 10.0
	MaxImportanceWeight float64 `yaml:"max_importance_weight"`

	// Dimension is the fixed context dimensionality. When zero and Features
	// is empty, the layout is fixed by the first context observed.
	// Default: 0
	Dimension int `yaml:"dimension"`

	// Features is the ordered list of context keys forming the vector.
	// Missing keys are read as zero; unknown keys are rejected.
	Features []string `yaml:"features"`
}

// PartitionerConfig contains ContextPartitioner parameters.
type PartitionerConfig struct {
	// MaxDepth is the maximum depth of a leaf. The root has depth 0.
	// Default: 6
	MaxDepth int `yaml:"max_depth"`

	// MinSamplesSplit is the minimum leaf history length before a split
	// is attempted.
	// Default: 100
	MinSamplesSplit int `yaml:"min_samples_split"`

	// MinSamplesLeaf is the minimum number of samples each child must get.
	// Small children let the split search fit noise.
	// Default: 25
	MinSamplesLeaf int `yaml:"min_samples_leaf"`

	// SplitThreshold is the minimum criterion improvement that triggers a
	// split, in the units of the split strategy: squared reward for
	// "variance" and "mse", bits for "information_gain". The default keeps
	// a tree over 0/1 rewards from splitting on sampling noise.
	// Default: 0.05
	SplitThreshold float64 `yaml:"split_threshold"`

	// SplitStrategy selects the split criterion.
	// Options: "variance", "information_gain", "mse"
	// Default: "variance"
	SplitStrategy string `yaml:"split_strategy"`

	// FeatureSelection selects which features are considered for a split.
	// Options: "all", "random", "best"
	// Default: "all"
	FeatureSelection string `yaml:"feature_selection"`

	// FeatureSubsetSize is the number of features used by "random" and "best".
	// Default: 4
	FeatureSubsetSize int `yaml:"feature_subset_size"`

	// MissingFeatureStrategy decides the branch when the split feature is
	// absent from a context.
	// Options: "left", "right", "majority"
	// Default: "left"
	MissingFeatureStrategy string `yaml:"missing_feature_strategy"`

	// LeafHistorySize bounds the per-leaf sample history.
	// Default: 1000
	LeafHistorySize int `yaml:"leaf_history_size"`

	// GlobalHistorySize bounds the tree-wide FIFO sample history.
	// Default: 10000
	GlobalHistorySize int `yaml:"global_history_size"`

	// MaxSplitCandidates bounds the thresholds evaluated per feature.
	// Default: 32
	MaxSplitCandidates int `yaml:"max_split_candidates"`

	// MaxLeaves bounds the number of leaves in the tree.
	// Default: 256
	MaxLeaves int `yaml:"max_leaves"`

	// Seed drives "random" feature selection.
	// Default: 1
	Seed int64 `yaml:"seed"`
}

// ExperimentConfig contains shadow-evaluation thresholds.
type ExperimentConfig struct {
	// ShadowSampleThreshold is the number of rewards a candidate variant must
	// collect before a phase transition is evaluated.
	// Default: 500
	ShadowSampleThreshold int `yaml:"shadow_sample_threshold"`

	// MinBaselineSamples is the baseline reward count required before any
	// transition is evaluated.
	// Default: 100
	MinBaselineSamples int `yaml:"min_baseline_samples"`

	// ImprovementThreshold is the relative improvement that promotes a variant.
	// Default: 0.05
	ImprovementThreshold float64 `yaml:"improvement_threshold"`

	// DegradationThreshold is the relative change (negative) that rolls a
	// variant back.
	// Default: -0.05
	DegradationThreshold float64 `yaml:"degradation_threshold"`

	// ConfidenceLevel is the two-sided confidence required by the z-test.
	// Default: 0.95
	ConfidenceLevel float64 `yaml:"confidence_level"`
}

// DomainConfig is the validated parameter bundle for one domain.
type DomainConfig struct {
	// Algorithm selects the decision algorithm.
	// Options: "estimator", "partitioner"
	Algorithm string `yaml:"algorithm"`

	// Estimator contains RewardEstimator parameters. The partitioner uses
	// them for every leaf.
	Estimator EstimatorConfig `yaml:"estimator"`

	// Partitioner contains ContextPartitioner parameters.
	Partitioner PartitionerConfig `yaml:"partitioner"`

	// Experiment contains shadow-evaluation thresholds.
	Experiment ExperimentConfig `yaml:"experiment"`
}

// WatchConfig controls configuration file hot reloading.
type WatchConfig struct {
	// Enabled turns on the file watcher.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Debounce is the quiet period before a change is applied.
	// Default: 100ms
	Debounce time.Duration `yaml:"debounce"`
}

// ServerConfig contains the operations HTTP server configuration.
type ServerConfig struct {
	// ListenAddress is the address for health, metrics and summary endpoints.
	// Default: "127.0.0.1:9090"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading a request.
	// Default: 10s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration for writing a response.
	// Default: 10s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 15s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether the Prometheus sink is installed.
	// When false, a no-op sink is used.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "compass"
	Namespace string `yaml:"namespace"`

	// MaxCardinality bounds distinct label combinations per metric.
	// Default: 1000
	MaxCardinality int `yaml:"max_cardinality"`

	// RewardBuckets defines histogram buckets for observed rewards.
	// Default: [-1, -0.5, 0, 0.25, 0.5, 0.75, 1, 2, 5]
	RewardBuckets []float64 `yaml:"reward_buckets"`
}

// SnapshotConfig contains policy state persistence configuration.
type SnapshotConfig struct {
	// Backend selects the snapshot store.
	// Options: "memory", "sqlite"
	// Default: "memory"
	Backend string `yaml:"backend"`

	// Path is the SQLite database file when Backend is "sqlite".
	// Default: "data/snapshots.db"
	Path string `yaml:"path"`

	// Schedule is a cron expression for periodic exports. Empty disables
	// scheduled exports.
	// Default: "@every 5m"
	Schedule string `yaml:"schedule"`

	// RestoreOnStart imports the latest snapshot of each domain at startup.
	// Default: false
	RestoreOnStart bool `yaml:"restore_on_start"`

	// Retain is the number of snapshots kept per domain (0 keeps all).
	// Default: 10
	Retain int `yaml:"retain"`

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// LedgerConfig contains the experiment audit ledger configuration.
type LedgerConfig struct {
	// Enabled controls whether phase transitions are persisted.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Backend selects the ledger store.
	// Options: "memory", "sqlite"
	// Default: "sqlite"
	Backend string `yaml:"backend"`

	// Path is the SQLite database file.
	// Default: "data/ledger.db"
	Path string `yaml:"path"`

	// AsyncBuffer is the size of the async write channel buffer.
	// Default: 1000
	AsyncBuffer int `yaml:"async_buffer"`

	// WriteTimeout is the timeout for writing an entry to storage.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DomainConfig returns the process-default parameter bundle.
func (c *Config) DomainConfig() DomainConfig {
	return DomainConfig{
		Algorithm:   c.Engine.DefaultAlgorithm,
		Estimator:   c.Estimator.clone(),
		Partitioner: c.Partitioner,
		Experiment:  c.Experiment,
	}
}

// FeatureCount returns the context dimensionality implied by the
// configuration, or 0 when the layout is learned from the first context.
func (c EstimatorConfig) FeatureCount() int {
	if len(c.Features) > 0 {
		return len(c.Features)
	}
	return c.Dimension
}

func (c EstimatorConfig) clone() EstimatorConfig {
	out := c
	if c.Features != nil {
		out.Features = append([]string(nil), c.Features...)
	}
	return out
}
