package config

import (
	"fmt"
	"math"
	"net"
	"strings"

	"github.com/robfig/cron/v3"

	compassErrors "mercator-hq/compass/pkg/errors"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "estimator.exploration_alpha").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
// It matches compassErrors.ErrConfiguration with errors.Is().
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Is implements error matching for errors.Is().
func (e ValidationError) Is(target error) bool {
	return target == compassErrors.ErrConfiguration
}

// HasField reports whether any error refers to the given field path.
func (e ValidationError) HasField(field string) bool {
	for _, fe := range e.Errors {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateEstimator("estimator", &cfg.Estimator)...)
	errs = append(errs, validatePartitioner("partitioner", &cfg.Partitioner)...)
	errs = append(errs, validateExperiment("experiment", &cfg.Experiment)...)

	for name, dc := range cfg.Domains {
		prefix := "domains." + name
		if strings.TrimSpace(name) == "" {
			errs = append(errs, FieldError{Field: "domains", Message: "domain name must not be empty"})
		}
		errs = append(errs, validateDomain(prefix, &dc)...)
	}

	errs = append(errs, validateWatch(&cfg.Watch)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateSnapshot(&cfg.Snapshot)...)
	errs = append(errs, validateLedger(&cfg.Ledger)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// ValidateDomainConfig validates a single domain parameter bundle.
func ValidateDomainConfig(dc DomainConfig) error {
	if errs := validateDomain("domain", &dc); len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// ValidateEstimatorConfig validates RewardEstimator parameters.
func ValidateEstimatorConfig(ec EstimatorConfig) error {
	if errs := validateEstimator("estimator", &ec); len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

// ValidatePartitionerConfig validates ContextPartitioner parameters.
func ValidatePartitionerConfig(pc PartitionerConfig) error {
	if errs := validatePartitioner("partitioner", &pc); len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateDomain(prefix string, dc *DomainConfig) []FieldError {
	var errs []FieldError
	if !validAlgorithm(dc.Algorithm) {
		errs = append(errs, FieldError{
			Field:   prefix + ".algorithm",
			Message: fmt.Sprintf("invalid algorithm %q: must be 'estimator' or 'partitioner'", dc.Algorithm),
		})
	}
	errs = append(errs, validateEstimator(prefix+".estimator", &dc.Estimator)...)
	errs = append(errs, validatePartitioner(prefix+".partitioner", &dc.Partitioner)...)
	errs = append(errs, validateExperiment(prefix+".experiment", &dc.Experiment)...)
	return errs
}

func validAlgorithm(name string) bool {
	return name == AlgorithmEstimator || name == AlgorithmPartitioner
}

func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	if !finite(cfg.RolloutPercentage) || cfg.RolloutPercentage < 0 || cfg.RolloutPercentage > 1 {
		errs = append(errs, FieldError{
			Field:   "engine.rollout_percentage",
			Message: fmt.Sprintf("rollout percentage must be between 0.0 and 1.0, got %v", cfg.RolloutPercentage),
		})
	}
	if !validAlgorithm(cfg.DefaultAlgorithm) {
		errs = append(errs, FieldError{
			Field:   "engine.default_algorithm",
			Message: fmt.Sprintf("invalid algorithm %q: must be 'estimator' or 'partitioner'", cfg.DefaultAlgorithm),
		})
	}
	for i, d := range cfg.AllowedDomains {
		if strings.TrimSpace(d) == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("engine.allowed_domains[%d]", i),
				Message: "domain must not be empty",
			})
		}
	}
	for i, t := range cfg.AllowedTenants {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("engine.allowed_tenants[%d]", i),
				Message: "tenant must not be empty",
			})
		}
	}

	return errs
}

func validateEstimator(prefix string, cfg *EstimatorConfig) []FieldError {
	var errs []FieldError

	if !finite(cfg.ExplorationAlpha) || cfg.ExplorationAlpha <= 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".exploration_alpha",
			Message: fmt.Sprintf("exploration constant must be positive, got %v", cfg.ExplorationAlpha),
		})
	}
	if !inUnitInterval(cfg.InitialLearningRate) {
		errs = append(errs, FieldError{
			Field:   prefix + ".initial_learning_rate",
			Message: fmt.Sprintf("learning rate must be within (0, 1], got %v", cfg.InitialLearningRate),
		})
	}
	if !inUnitInterval(cfg.LearningRateDecay) {
		errs = append(errs, FieldError{
			Field:   prefix + ".learning_rate_decay",
			Message: fmt.Sprintf("learning rate decay must be within (0, 1], got %v", cfg.LearningRateDecay),
		})
	}
	if !inUnitInterval(cfg.MinLearningRate) {
		errs = append(errs, FieldError{
			Field:   prefix + ".min_learning_rate",
			Message: fmt.Sprintf("minimum learning rate must be within (0, 1], got %v", cfg.MinLearningRate),
		})
	} else if cfg.MinLearningRate > cfg.InitialLearningRate {
		errs = append(errs, FieldError{
			Field:   prefix + ".min_learning_rate",
			Message: "minimum learning rate must not exceed the initial learning rate",
		})
	}
	if !finite(cfg.Regularization) || cfg.Regularization < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".regularization",
			Message: fmt.Sprintf("regularization must be non-negative, got %v", cfg.Regularization),
		})
	}
	if !inUnitInterval(cfg.VarianceSmoothing) {
		errs = append(errs, FieldError{
			Field:   prefix + ".variance_smoothing",
			Message: fmt.Sprintf("variance smoothing must be within (0, 1], got %v", cfg.VarianceSmoothing),
		})
	}
	if !finite(cfg.InitialVariance) || cfg.InitialVariance < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".initial_variance",
			Message: "initial variance must be non-negative",
		})
	}
	if !finite(cfg.MinImportanceWeight) || cfg.MinImportanceWeight < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".min_importance_weight",
			Message: "minimum importance weight must be non-negative",
		})
	}
	if !finite(cfg.MaxImportanceWeight) || cfg.MaxImportanceWeight <= 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".max_importance_weight",
			Message: "maximum importance weight must be positive",
		})
	} else if cfg.MinImportanceWeight > cfg.MaxImportanceWeight {
		errs = append(errs, FieldError{
			Field:   prefix + ".min_importance_weight",
			Message: "minimum importance weight must not exceed the maximum",
		})
	}
	if cfg.Dimension < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".dimension",
			Message: "dimension must be non-negative",
		})
	}
	if len(cfg.Features) > 0 {
		if cfg.Dimension != 0 && cfg.Dimension != len(cfg.Features) {
			errs = append(errs, FieldError{
				Field:   prefix + ".dimension",
				Message: fmt.Sprintf("dimension %d does not match %d named features", cfg.Dimension, len(cfg.Features)),
			})
		}
		seen := make(map[string]bool, len(cfg.Features))
		for i, f := range cfg.Features {
			switch {
			case strings.TrimSpace(f) == "":
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.features[%d]", prefix, i),
					Message: "feature name must not be empty",
				})
			case seen[f]:
				errs = append(errs, FieldError{
					Field:   fmt.Sprintf("%s.features[%d]", prefix, i),
					Message: fmt.Sprintf("duplicate feature %q", f),
				})
			}
			seen[f] = true
		}
	}

	return errs
}

func validatePartitioner(prefix string, cfg *PartitionerConfig) []FieldError {
	var errs []FieldError

	if cfg.MaxDepth < 1 {
		errs = append(errs, FieldError{
			Field:   prefix + ".max_depth",
			Message: "max depth must be at least 1",
		})
	}
	if cfg.MinSamplesSplit < 2 {
		errs = append(errs, FieldError{
			Field:   prefix + ".min_samples_split",
			Message: "min samples to split must be at least 2",
		})
	}
	if cfg.MinSamplesLeaf < 1 {
		errs = append(errs, FieldError{
			Field:   prefix + ".min_samples_leaf",
			Message: "min samples per leaf must be at least 1",
		})
	} else if cfg.MinSamplesSplit >= 2 && 2*cfg.MinSamplesLeaf > cfg.MinSamplesSplit {
		errs = append(errs, FieldError{
			Field:   prefix + ".min_samples_leaf",
			Message: "twice the min samples per leaf must not exceed min samples to split",
		})
	}
	if !finite(cfg.SplitThreshold) || cfg.SplitThreshold < 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".split_threshold",
			Message: "split threshold must be non-negative",
		})
	}

	validStrategies := map[string]bool{"variance": true, "information_gain": true, "mse": true}
	if !validStrategies[cfg.SplitStrategy] {
		errs = append(errs, FieldError{
			Field:   prefix + ".split_strategy",
			Message: fmt.Sprintf("invalid split strategy %q: must be 'variance', 'information_gain', or 'mse'", cfg.SplitStrategy),
		})
	}

	validSelections := map[string]bool{"all": true, "random": true, "best": true}
	if !validSelections[cfg.FeatureSelection] {
		errs = append(errs, FieldError{
			Field:   prefix + ".feature_selection",
			Message: fmt.Sprintf("invalid feature selection %q: must be 'all', 'random', or 'best'", cfg.FeatureSelection),
		})
	}
	if cfg.FeatureSubsetSize < 1 {
		errs = append(errs, FieldError{
			Field:   prefix + ".feature_subset_size",
			Message: "feature subset size must be at least 1",
		})
	}

	validMissing := map[string]bool{"left": true, "right": true, "majority": true}
	if !validMissing[cfg.MissingFeatureStrategy] {
		errs = append(errs, FieldError{
			Field:   prefix + ".missing_feature_strategy",
			Message: fmt.Sprintf("invalid missing feature strategy %q: must be 'left', 'right', or 'majority'", cfg.MissingFeatureStrategy),
		})
	}

	if cfg.LeafHistorySize < 1 {
		errs = append(errs, FieldError{
			Field:   prefix + ".leaf_history_size",
			Message: "leaf history size must be positive",
		})
	} else if cfg.LeafHistorySize < cfg.MinSamplesSplit {
		errs = append(errs, FieldError{
			Field:   prefix + ".leaf_history_size",
			Message: "leaf history size must be at least min samples to split",
		})
	}
	if cfg.GlobalHistorySize < 1 {
		errs = append(errs, FieldError{
			Field:   prefix + ".global_history_size",
			Message: "global history size must be positive",
		})
	}
	if cfg.MaxSplitCandidates < 1 {
		errs = append(errs, FieldError{
			Field:   prefix + ".max_split_candidates",
			Message: "max split candidates must be positive",
		})
	}
	if cfg.MaxLeaves < 2 {
		errs = append(errs, FieldError{
			Field:   prefix + ".max_leaves",
			Message: "max leaves must be at least 2",
		})
	}

	return errs
}

func validateExperiment(prefix string, cfg *ExperimentConfig) []FieldError {
	var errs []FieldError

	if cfg.ShadowSampleThreshold < 1 {
		errs = append(errs, FieldError{
			Field:   prefix + ".shadow_sample_threshold",
			Message: "shadow sample threshold must be positive",
		})
	}
	if cfg.MinBaselineSamples < 1 {
		errs = append(errs, FieldError{
			Field:   prefix + ".min_baseline_samples",
			Message: "min baseline samples must be positive",
		})
	}
	if !finite(cfg.ImprovementThreshold) || cfg.ImprovementThreshold <= 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".improvement_threshold",
			Message: "improvement threshold must be positive",
		})
	}
	if !finite(cfg.DegradationThreshold) || cfg.DegradationThreshold >= 0 {
		errs = append(errs, FieldError{
			Field:   prefix + ".degradation_threshold",
			Message: "degradation threshold must be negative",
		})
	}
	if !finite(cfg.ConfidenceLevel) || cfg.ConfidenceLevel <= 0 || cfg.ConfidenceLevel >= 1 {
		errs = append(errs, FieldError{
			Field:   prefix + ".confidence_level",
			Message: "confidence level must be within (0, 1)",
		})
	}

	return errs
}

func validateWatch(cfg *WatchConfig) []FieldError {
	if cfg.Debounce < 0 {
		return []FieldError{{Field: "watch.debounce", Message: "debounce must be non-negative"}}
	}
	return nil
}

func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if _, _, err := net.SplitHostPort(cfg.ListenAddress); err != nil {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: fmt.Sprintf("invalid listen address %q: %v", cfg.ListenAddress, err),
		})
	}
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.read_timeout", Message: "read timeout must be non-negative"})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.write_timeout", Message: "write timeout must be non-negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "shutdown timeout must be non-negative"})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	// Validate logging format
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json', 'text', or 'console'", cfg.Logging.Format),
		})
	}

	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with '/'",
		})
	}
	if cfg.Metrics.MaxCardinality < 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.max_cardinality",
			Message: "max cardinality must be positive",
		})
	}
	for i := 1; i < len(cfg.Metrics.RewardBuckets); i++ {
		if cfg.Metrics.RewardBuckets[i] <= cfg.Metrics.RewardBuckets[i-1] {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.reward_buckets",
				Message: "buckets must be strictly increasing",
			})
			break
		}
	}

	return errs
}

func validateSnapshot(cfg *SnapshotConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "memory":
	case "sqlite":
		if cfg.Path == "" {
			errs = append(errs, FieldError{
				Field:   "snapshot.path",
				Message: "path is required for the sqlite backend",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "snapshot.backend",
			Message: fmt.Sprintf("invalid snapshot backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}

	if cfg.Schedule != "" {
		if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "snapshot.schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}
	if cfg.Retain < 0 {
		errs = append(errs, FieldError{Field: "snapshot.retain", Message: "retain must be non-negative"})
	}

	return errs
}

func validateLedger(cfg *LedgerConfig) []FieldError {
	var errs []FieldError

	if cfg.Backend != "memory" && cfg.Backend != "sqlite" {
		errs = append(errs, FieldError{
			Field:   "ledger.backend",
			Message: fmt.Sprintf("invalid ledger backend %q: must be 'memory' or 'sqlite'", cfg.Backend),
		})
	}
	if cfg.Enabled && cfg.Backend == "sqlite" && cfg.Path == "" {
		errs = append(errs, FieldError{
			Field:   "ledger.path",
			Message: "path is required for the sqlite backend",
		})
	}
	if cfg.AsyncBuffer < 1 {
		errs = append(errs, FieldError{Field: "ledger.async_buffer", Message: "async buffer must be positive"})
	}

	return errs
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func inUnitInterval(v float64) bool {
	return finite(v) && v > 0 && v <= 1
}
