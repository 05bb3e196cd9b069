package config

import "time"

// Algorithm names accepted by EngineConfig.DefaultAlgorithm and
// DomainConfig.Algorithm.
const (
	AlgorithmEstimator   = "estimator"
	AlgorithmPartitioner = "partitioner"
)

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultEngineEnabled     = false
	DefaultRolloutPercentage = 0.0
	DefaultRolloutSeed       = "compass"
	DefaultAlgorithm         = AlgorithmEstimator

	// Estimator defaults
	DefaultExplorationAlpha    = 1.0
	DefaultInitialLearningRate = 0.1
	DefaultLearningRateDecay   = 0.999
	DefaultMinLearningRate     = 0.001
	DefaultRegularization      = 0.001
	DefaultVarianceSmoothing   = 0.1
	DefaultInitialVariance     = 1.0
	DefaultMinImportanceWeight = 0.01
	DefaultMaxImportanceWeight = 10.0

	// Partitioner defaults
	DefaultMaxDepth               = 6
	DefaultMinSamplesSplit        = 100
	DefaultMinSamplesLeaf         = 25
	DefaultSplitThreshold         = 0.05
	DefaultSplitStrategy          = "variance"
	DefaultFeatureSelection       = "all"
	DefaultFeatureSubsetSize      = 4
	DefaultMissingFeatureStrategy = "left"
	DefaultLeafHistorySize        = 1000
	DefaultGlobalHistorySize      = 10000
	DefaultMaxSplitCandidates     = 32
	DefaultMaxLeaves              = 256
	DefaultPartitionerSeed        = int64(1)

	// Experiment defaults
	DefaultShadowSampleThreshold = 500
	DefaultMinBaselineSamples    = 100
	DefaultImprovementThreshold  = 0.05
	DefaultDegradationThreshold  = -0.05
	DefaultConfidenceLevel       = 0.95

	// Watch defaults
	DefaultWatchDebounce = 100 * time.Millisecond

	// Server defaults
	DefaultServerListenAddress   = "127.0.0.1:9090"
	DefaultServerReadTimeout     = 10 * time.Second
	DefaultServerWriteTimeout    = 10 * time.Second
	DefaultServerShutdownTimeout = 15 * time.Second

	// Telemetry defaults
	DefaultLogLevel              = "info"
	DefaultLogFormat             = "json"
	DefaultMetricsPath           = "/metrics"
	DefaultMetricsNamespace      = "compass"
	DefaultMetricsMaxCardinality = 1000

	// Snapshot defaults
	DefaultSnapshotBackend     = "memory"
	DefaultSnapshotPath        = "data/snapshots.db"
	DefaultSnapshotSchedule    = "@every 5m"
	DefaultSnapshotRetain      = 10
	DefaultSnapshotBusyTimeout = 5 * time.Second

	// Ledger defaults
	DefaultLedgerBackend      = "sqlite"
	DefaultLedgerPath         = "data/ledger.db"
	DefaultLedgerAsyncBuffer  = 1000
	DefaultLedgerWriteTimeout = 5 * time.Second
)

// DefaultRewardBuckets are the histogram buckets for observed rewards.
var DefaultRewardBuckets = []float64{-1, -0.5, 0, 0.25, 0.5, 0.75, 1, 2, 5}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values, then fills each
// domain override from the process defaults.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Engine defaults
	if cfg.Engine.RolloutSeed == "" {
		cfg.Engine.RolloutSeed = DefaultRolloutSeed
	}
	if cfg.Engine.DefaultAlgorithm == "" {
		cfg.Engine.DefaultAlgorithm = DefaultAlgorithm
	}

	applyEstimatorDefaults(&cfg.Estimator, defaultEstimator())
	applyPartitionerDefaults(&cfg.Partitioner, defaultPartitioner())
	applyExperimentDefaults(&cfg.Experiment, defaultExperiment())

	// Domain overrides inherit whatever the process defaults are now
	for name, dc := range cfg.Domains {
		ApplyDomainDefaults(&dc, cfg)
		cfg.Domains[name] = dc
	}

	// Watch defaults
	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = DefaultWatchDebounce
	}

	// Server defaults
	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultServerListenAddress
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = DefaultServerReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = DefaultServerWriteTimeout
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultServerShutdownTimeout
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLogLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLogFormat
	}
	if cfg.Telemetry.Metrics.Path == "" {
		cfg.Telemetry.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	if cfg.Telemetry.Metrics.MaxCardinality == 0 {
		cfg.Telemetry.Metrics.MaxCardinality = DefaultMetricsMaxCardinality
	}
	if len(cfg.Telemetry.Metrics.RewardBuckets) == 0 {
		cfg.Telemetry.Metrics.RewardBuckets = append([]float64(nil), DefaultRewardBuckets...)
	}

	// Snapshot defaults
	if cfg.Snapshot.Backend == "" {
		cfg.Snapshot.Backend = DefaultSnapshotBackend
	}
	if cfg.Snapshot.Path == "" {
		cfg.Snapshot.Path = DefaultSnapshotPath
	}
	if cfg.Snapshot.Schedule == "" {
		cfg.Snapshot.Schedule = DefaultSnapshotSchedule
	}
	if cfg.Snapshot.Retain == 0 {
		cfg.Snapshot.Retain = DefaultSnapshotRetain
	}
	if cfg.Snapshot.BusyTimeout == 0 {
		cfg.Snapshot.BusyTimeout = DefaultSnapshotBusyTimeout
	}

	// Ledger defaults
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = DefaultLedgerPath
	}
	if cfg.Ledger.AsyncBuffer == 0 {
		cfg.Ledger.AsyncBuffer = DefaultLedgerAsyncBuffer
	}
	if cfg.Ledger.WriteTimeout == 0 {
		cfg.Ledger.WriteTimeout = DefaultLedgerWriteTimeout
	}
}

// Default returns a fully defaulted configuration.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

func defaultEstimator() EstimatorConfig {
	return EstimatorConfig{
		ExplorationAlpha:    DefaultExplorationAlpha,
		InitialLearningRate: DefaultInitialLearningRate,
		LearningRateDecay:   DefaultLearningRateDecay,
		MinLearningRate:     DefaultMinLearningRate,
		Regularization:      DefaultRegularization,
		VarianceSmoothing:   DefaultVarianceSmoothing,
		InitialVariance:     DefaultInitialVariance,
		MinImportanceWeight: DefaultMinImportanceWeight,
		MaxImportanceWeight: DefaultMaxImportanceWeight,
	}
}

func defaultPartitioner() PartitionerConfig {
	return PartitionerConfig{
		MaxDepth:               DefaultMaxDepth,
		MinSamplesSplit:        DefaultMinSamplesSplit,
		MinSamplesLeaf:         DefaultMinSamplesLeaf,
		SplitThreshold:         DefaultSplitThreshold,
		SplitStrategy:          DefaultSplitStrategy,
		FeatureSelection:       DefaultFeatureSelection,
		FeatureSubsetSize:      DefaultFeatureSubsetSize,
		MissingFeatureStrategy: DefaultMissingFeatureStrategy,
		LeafHistorySize:        DefaultLeafHistorySize,
		GlobalHistorySize:      DefaultGlobalHistorySize,
		MaxSplitCandidates:     DefaultMaxSplitCandidates,
		MaxLeaves:              DefaultMaxLeaves,
		Seed:                   DefaultPartitionerSeed,
	}
}

func defaultExperiment() ExperimentConfig {
	return ExperimentConfig{
		ShadowSampleThreshold: DefaultShadowSampleThreshold,
		MinBaselineSamples:    DefaultMinBaselineSamples,
		ImprovementThreshold:  DefaultImprovementThreshold,
		DegradationThreshold:  DefaultDegradationThreshold,
		ConfidenceLevel:       DefaultConfidenceLevel,
	}
}

func applyEstimatorDefaults(dst *EstimatorConfig, src EstimatorConfig) {
	if dst.ExplorationAlpha == 0 {
		dst.ExplorationAlpha = src.ExplorationAlpha
	}
	if dst.InitialLearningRate == 0 {
		dst.InitialLearningRate = src.InitialLearningRate
	}
	if dst.LearningRateDecay == 0 {
		dst.LearningRateDecay = src.LearningRateDecay
	}
	if dst.MinLearningRate == 0 {
		dst.MinLearningRate = src.MinLearningRate
	}
	if dst.Regularization == 0 {
		dst.Regularization = src.Regularization
	}
	if dst.VarianceSmoothing == 0 {
		dst.VarianceSmoothing = src.VarianceSmoothing
	}
	if dst.InitialVariance == 0 {
		dst.InitialVariance = src.InitialVariance
	}
	if dst.MinImportanceWeight == 0 {
		dst.MinImportanceWeight = src.MinImportanceWeight
	}
	if dst.MaxImportanceWeight == 0 {
		dst.MaxImportanceWeight = src.MaxImportanceWeight
	}
	// Dimension and Features travel together
	if dst.Dimension == 0 && len(dst.Features) == 0 {
		dst.Dimension = src.Dimension
		if src.Features != nil {
			dst.Features = append([]string(nil), src.Features...)
		}
	}
}

func applyPartitionerDefaults(dst *PartitionerConfig, src PartitionerConfig) {
	if dst.MaxDepth == 0 {
		dst.MaxDepth = src.MaxDepth
	}
	if dst.MinSamplesSplit == 0 {
		dst.MinSamplesSplit = src.MinSamplesSplit
	}
	if dst.MinSamplesLeaf == 0 {
		dst.MinSamplesLeaf = src.MinSamplesLeaf
	}
	if dst.SplitThreshold == 0 {
		dst.SplitThreshold = src.SplitThreshold
	}
	if dst.SplitStrategy == "" {
		dst.SplitStrategy = src.SplitStrategy
	}
	if dst.FeatureSelection == "" {
		dst.FeatureSelection = src.FeatureSelection
	}
	if dst.FeatureSubsetSize == 0 {
		dst.FeatureSubsetSize = src.FeatureSubsetSize
	}
	if dst.MissingFeatureStrategy == "" {
		dst.MissingFeatureStrategy = src.MissingFeatureStrategy
	}
	if dst.LeafHistorySize == 0 {
		dst.LeafHistorySize = src.LeafHistorySize
	}
	if dst.GlobalHistorySize == 0 {
		dst.GlobalHistorySize = src.GlobalHistorySize
	}
	if dst.MaxSplitCandidates == 0 {
		dst.MaxSplitCandidates = src.MaxSplitCandidates
	}
	if dst.MaxLeaves == 0 {
		dst.MaxLeaves = src.MaxLeaves
	}
	if dst.Seed == 0 {
		dst.Seed = src.Seed
	}
}

func applyExperimentDefaults(dst *ExperimentConfig, src ExperimentConfig) {
	if dst.ShadowSampleThreshold == 0 {
		dst.ShadowSampleThreshold = src.ShadowSampleThreshold
	}
	if dst.MinBaselineSamples == 0 {
		dst.MinBaselineSamples = src.MinBaselineSamples
	}
	if dst.ImprovementThreshold == 0 {
		dst.ImprovementThreshold = src.ImprovementThreshold
	}
	if dst.DegradationThreshold == 0 {
		dst.DegradationThreshold = src.DegradationThreshold
	}
	if dst.ConfidenceLevel == 0 {
		dst.ConfidenceLevel = src.ConfidenceLevel
	}
}

// ApplyDomainDefaults fills zero fields of dc from the process defaults in cfg.
func ApplyDomainDefaults(dc *DomainConfig, cfg *Config) {
	if dc.Algorithm == "" {
		dc.Algorithm = cfg.Engine.DefaultAlgorithm
	}
	applyEstimatorDefaults(&dc.Estimator, cfg.Estimator)
	applyPartitionerDefaults(&dc.Partitioner, cfg.Partitioner)
	applyExperimentDefaults(&dc.Experiment, cfg.Experiment)
}
