package metrics

import (
	"mercator-hq/compass/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// RewardMetrics tracks observed rewards.
//
// Metrics:
//   - compass_rewards_total: rewards recorded by domain and variant
//   - compass_reward_value: reward distribution by domain and variant
type RewardMetrics struct {
	rewardsTotal *prometheus.CounterVec
	rewardValue  *prometheus.HistogramVec
}

// NewRewardMetrics creates and registers reward metrics with the provided registry.
func NewRewardMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *RewardMetrics {
	rm := &RewardMetrics{
		rewardsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Name:      RewardsTotal,
				Help:      "Total number of rewards recorded",
			},
			[]string{LabelDomain, LabelVariant},
		),

		rewardValue: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Name:      RewardValue,
				Help:      "Distribution of recorded reward values",
				Buckets:   cfg.RewardBuckets,
			},
			[]string{LabelDomain, LabelVariant},
		),
	}

	registry.MustRegister(
		rm.rewardsTotal,
		rm.rewardValue,
	)

	return rm
}

// RecordCount adds n recorded rewards.
func (rm *RewardMetrics) RecordCount(domain, variant string, n float64) {
	rm.rewardsTotal.WithLabelValues(domain, variant).Add(n)
}

// ObserveReward records one reward value.
func (rm *RewardMetrics) ObserveReward(domain, variant string, reward float64) {
	rm.rewardValue.WithLabelValues(domain, variant).Observe(reward)
}
