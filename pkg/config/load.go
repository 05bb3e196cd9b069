package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix shared by every environment variable override.
const EnvPrefix = "COMPASS_"

// LoadConfig loads configuration from a YAML file at the specified path.
// Keys present in the file replace the defaults, an explicit zero included,
// and the result is validated.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes a YAML document on top of Default without validating it.
// Domain overrides inherit the process-level values for the keys they omit.
// Unknown keys are rejected so typos in parameter names surface early.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	var raw struct {
		Domains map[string]yaml.Node `yaml:"domains"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	cfg.domainNodes = raw.Domains
	if err := cfg.resolveDomains(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveDomains rebuilds every domain read from YAML over the current
// process-level values.
func (c *Config) resolveDomains() error {
	for name, node := range c.domainNodes {
		dc := c.DomainConfig()
		if err := node.Decode(&dc); err != nil {
			return fmt.Errorf("domain %q: %w", name, err)
		}

		// Dimension and Features travel together
		var set struct {
			Estimator struct {
				Dimension *int      `yaml:"dimension"`
				Features  *[]string `yaml:"features"`
			} `yaml:"estimator"`
		}
		if err := node.Decode(&set); err != nil {
			return fmt.Errorf("domain %q: %w", name, err)
		}
		if set.Estimator.Dimension != nil && set.Estimator.Features == nil {
			dc.Estimator.Features = nil
		}
		if set.Estimator.Features != nil && set.Estimator.Dimension == nil {
			dc.Estimator.Dimension = 0
		}

		if c.Domains == nil {
			c.Domains = make(map[string]DomainConfig, len(c.domainNodes))
		}
		c.Domains[name] = dc
	}
	return nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention COMPASS_SECTION_FIELD (e.g., COMPASS_ESTIMATOR_EXPLORATION_ALPHA).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Decode YAML from file over the defaults
// 2. Apply environment variable overrides
// 3. Rebuild domain overrides over the final process-level values
// 4. Validate final configuration
//
// Defaults are applied once, before anything is layered on top, so an
// explicit zero from the file or the environment is validated as written.
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.resolveDomains(); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// LoadFromEnvironment builds a configuration from defaults and COMPASS_*
// environment variables only. Malformed values and out-of-range parameters
// fail with an error matching compassErrors.ErrConfiguration.
func LoadFromEnvironment() (*Config, error) {
	cfg := Default()

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// envReader collects parse failures while reading overrides.
type envReader struct {
	errs []FieldError
}

func (r *envReader) setString(name string, dst *string) {
	if val, ok := os.LookupEnv(EnvPrefix + name); ok && val != "" {
		*dst = val
	}
}

func (r *envReader) setList(name string, dst *[]string) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func (r *envReader) setBool(name string, dst *bool) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		r.fail(name, val, "boolean")
		return
	}
	*dst = b
}

func (r *envReader) setInt(name string, dst *int) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		r.fail(name, val, "integer")
		return
	}
	*dst = i
}

func (r *envReader) setInt64(name string, dst *int64) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	i, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		r.fail(name, val, "integer")
		return
	}
	*dst = i
}

func (r *envReader) setFloat(name string, dst *float64) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		r.fail(name, val, "number")
		return
	}
	*dst = f
}

func (r *envReader) setDuration(name string, dst *time.Duration) {
	val, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || val == "" {
		return
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		r.fail(name, val, "duration")
		return
	}
	*dst = d
}

func (r *envReader) fail(name, val, kind string) {
	r.errs = append(r.errs, FieldError{
		Field:   EnvPrefix + name,
		Message: fmt.Sprintf("invalid %s %q", kind, val),
	})
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format COMPASS_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) error {
	r := &envReader{}

	// Engine overrides
	r.setBool("ENABLED", &cfg.Engine.Enabled)
	r.setFloat("ROLLOUT_PERCENTAGE", &cfg.Engine.RolloutPercentage)
	r.setString("ROLLOUT_SEED", &cfg.Engine.RolloutSeed)
	r.setList("ALLOWED_DOMAINS", &cfg.Engine.AllowedDomains)
	r.setList("ALLOWED_TENANTS", &cfg.Engine.AllowedTenants)
	r.setString("ALGORITHM", &cfg.Engine.DefaultAlgorithm)

	// Estimator overrides
	r.setFloat("ESTIMATOR_EXPLORATION_ALPHA", &cfg.Estimator.ExplorationAlpha)
	r.setFloat("ESTIMATOR_LEARNING_RATE", &cfg.Estimator.InitialLearningRate)
	r.setFloat("ESTIMATOR_LEARNING_RATE_DECAY", &cfg.Estimator.LearningRateDecay)
	r.setFloat("ESTIMATOR_MIN_LEARNING_RATE", &cfg.Estimator.MinLearningRate)
	r.setFloat("ESTIMATOR_REGULARIZATION", &cfg.Estimator.Regularization)
	r.setFloat("ESTIMATOR_VARIANCE_SMOOTHING", &cfg.Estimator.VarianceSmoothing)
	r.setFloat("ESTIMATOR_MIN_IMPORTANCE_WEIGHT", &cfg.Estimator.MinImportanceWeight)
	r.setFloat("ESTIMATOR_MAX_IMPORTANCE_WEIGHT", &cfg.Estimator.MaxImportanceWeight)
	r.setInt("ESTIMATOR_DIMENSION", &cfg.Estimator.Dimension)
	r.setList("ESTIMATOR_FEATURES", &cfg.Estimator.Features)

	// Partitioner overrides
	r.setInt("PARTITIONER_MAX_DEPTH", &cfg.Partitioner.MaxDepth)
	r.setInt("PARTITIONER_MIN_SAMPLES_SPLIT", &cfg.Partitioner.MinSamplesSplit)
	r.setInt("PARTITIONER_MIN_SAMPLES_LEAF", &cfg.Partitioner.MinSamplesLeaf)
	r.setFloat("PARTITIONER_SPLIT_THRESHOLD", &cfg.Partitioner.SplitThreshold)
	r.setString("PARTITIONER_SPLIT_STRATEGY", &cfg.Partitioner.SplitStrategy)
	r.setString("PARTITIONER_FEATURE_SELECTION", &cfg.Partitioner.FeatureSelection)
	r.setInt("PARTITIONER_FEATURE_SUBSET_SIZE", &cfg.Partitioner.FeatureSubsetSize)
	r.setString("PARTITIONER_MISSING_FEATURE_STRATEGY", &cfg.Partitioner.MissingFeatureStrategy)
	r.setInt("PARTITIONER_LEAF_HISTORY_SIZE", &cfg.Partitioner.LeafHistorySize)
	r.setInt("PARTITIONER_GLOBAL_HISTORY_SIZE", &cfg.Partitioner.GlobalHistorySize)
	r.setInt("PARTITIONER_MAX_LEAVES", &cfg.Partitioner.MaxLeaves)
	r.setInt64("PARTITIONER_SEED", &cfg.Partitioner.Seed)

	// Experiment overrides
	r.setInt("EXPERIMENT_SHADOW_SAMPLE_THRESHOLD", &cfg.Experiment.ShadowSampleThreshold)
	r.setInt("EXPERIMENT_MIN_BASELINE_SAMPLES", &cfg.Experiment.MinBaselineSamples)
	r.setFloat("EXPERIMENT_IMPROVEMENT_THRESHOLD", &cfg.Experiment.ImprovementThreshold)
	r.setFloat("EXPERIMENT_DEGRADATION_THRESHOLD", &cfg.Experiment.DegradationThreshold)
	r.setFloat("EXPERIMENT_CONFIDENCE_LEVEL", &cfg.Experiment.ConfidenceLevel)

	// Watch overrides
	r.setBool("WATCH_ENABLED", &cfg.Watch.Enabled)
	r.setDuration("WATCH_DEBOUNCE", &cfg.Watch.Debounce)

	// Server overrides
	r.setString("SERVER_LISTEN_ADDRESS", &cfg.Server.ListenAddress)
	r.setDuration("SERVER_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Telemetry overrides
	r.setString("TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	r.setString("TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	r.setBool("TELEMETRY_LOGGING_ADD_SOURCE", &cfg.Telemetry.Logging.AddSource)
	r.setBool("TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	r.setString("TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)

	// Snapshot overrides
	r.setString("SNAPSHOT_BACKEND", &cfg.Snapshot.Backend)
	r.setString("SNAPSHOT_PATH", &cfg.Snapshot.Path)
	r.setString("SNAPSHOT_SCHEDULE", &cfg.Snapshot.Schedule)
	r.setBool("SNAPSHOT_RESTORE_ON_START", &cfg.Snapshot.RestoreOnStart)

	// Ledger overrides
	r.setBool("LEDGER_ENABLED", &cfg.Ledger.Enabled)
	r.setString("LEDGER_BACKEND", &cfg.Ledger.Backend)
	r.setString("LEDGER_PATH", &cfg.Ledger.Path)

	if len(r.errs) > 0 {
		return ValidationError{Errors: r.errs}
	}
	return nil
}
