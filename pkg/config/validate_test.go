package config

import (
	"errors"
	"math"
	"strings"
	"testing"

	compassErrors "mercator-hq/compass/pkg/errors"
)

func TestValidate_Defaults(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"rollout above one", func(c *Config) { c.Engine.RolloutPercentage = 1.01 }, "engine.rollout_percentage"},
		{"rollout NaN", func(c *Config) { c.Engine.RolloutPercentage = math.NaN() }, "engine.rollout_percentage"},
		{"unknown algorithm", func(c *Config) { c.Engine.DefaultAlgorithm = "neural" }, "engine.default_algorithm"},
		{"negative exploration", func(c *Config) { c.Estimator.ExplorationAlpha = -0.1 }, "estimator.exploration_alpha"},
		{"learning rate above one", func(c *Config) { c.Estimator.InitialLearningRate = 2 }, "estimator.initial_learning_rate"},
		{"min lr above initial", func(c *Config) {
			c.Estimator.InitialLearningRate = 0.01
			c.Estimator.MinLearningRate = 0.1
		}, "estimator.min_learning_rate"},
		{"negative regularization", func(c *Config) { c.Estimator.Regularization = -1 }, "estimator.regularization"},
		{"inverted importance bounds", func(c *Config) {
			c.Estimator.MinImportanceWeight = 5
			c.Estimator.MaxImportanceWeight = 1
		}, "estimator.min_importance_weight"},
		{"dimension mismatch", func(c *Config) {
			c.Estimator.Features = []string{"a", "b"}
			c.Estimator.Dimension = 3
		}, "estimator.dimension"},
		{"duplicate feature", func(c *Config) { c.Estimator.Features = []string{"a", "a"} }, "estimator.features[1]"},
		{"split strategy", func(c *Config) { c.Partitioner.SplitStrategy = "gini" }, "partitioner.split_strategy"},
		{"feature selection", func(c *Config) { c.Partitioner.FeatureSelection = "top" }, "partitioner.feature_selection"},
		{"missing strategy", func(c *Config) { c.Partitioner.MissingFeatureStrategy = "drop" }, "partitioner.missing_feature_strategy"},
		{"min samples split", func(c *Config) { c.Partitioner.MinSamplesSplit = 1 }, "partitioner.min_samples_split"},
		{"leaf history too small", func(c *Config) { c.Partitioner.LeafHistorySize = 10 }, "partitioner.leaf_history_size"},
		{"improvement threshold", func(c *Config) { c.Experiment.ImprovementThreshold = -0.1 }, "experiment.improvement_threshold"},
		{"degradation threshold", func(c *Config) { c.Experiment.DegradationThreshold = 0.1 }, "experiment.degradation_threshold"},
		{"confidence level", func(c *Config) { c.Experiment.ConfidenceLevel = 1 }, "experiment.confidence_level"},
		{"log level", func(c *Config) { c.Telemetry.Logging.Level = "trace" }, "telemetry.logging.level"},
		{"snapshot backend", func(c *Config) { c.Snapshot.Backend = "s3" }, "snapshot.backend"},
		{"snapshot schedule", func(c *Config) { c.Snapshot.Schedule = "every now and then" }, "snapshot.schedule"},
		{"listen address", func(c *Config) { c.Server.ListenAddress = "nohost" }, "server.listen_address"},
		{"domain override", func(c *Config) {
			c.Domains = map[string]DomainConfig{"checkout": {Algorithm: "neural"}}
			ApplyDefaults(c)
		}, "domains.checkout.algorithm"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, compassErrors.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, got %v", err)
			}

			var ve ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			if !ve.HasField(tt.field) {
				t.Errorf("expected error on %q, got %v", tt.field, err)
			}
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "2 errors") || !strings.Contains(msg, "b: worse") {
		t.Errorf("unexpected message %q", msg)
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := &Config{Domains: map[string]DomainConfig{"search": {}}}
	ApplyDefaults(cfg)
	first := cfg.Domains["search"]
	ApplyDefaults(cfg)
	second := cfg.Domains["search"]

	if first.Algorithm != second.Algorithm || first.Partitioner != second.Partitioner {
		t.Error("ApplyDefaults should be idempotent")
	}
	if first.Estimator.ExplorationAlpha != DefaultExplorationAlpha {
		t.Errorf("expected default exploration alpha, got %v", first.Estimator.ExplorationAlpha)
	}
	if cfg.Snapshot.Schedule != DefaultSnapshotSchedule {
		t.Errorf("expected default schedule, got %q", cfg.Snapshot.Schedule)
	}
}
