package estimator

import (
	"math"
	"sync"
	"sync/atomic"

	"mercator-hq/compass/pkg/config"
)

// rewardModel is one action's linear model. Writers hold mu and publish a
// new immutable modelState; readers only load the pointer.
type rewardModel struct {
	mu    sync.Mutex
	state atomic.Pointer[modelState]
}

type modelState struct {
	weights  []float64
	visits   int64
	variance float64
	lr       float64
	sqErrSum float64
	iwSum    float64
}

func newRewardModel(dim int, variance, lr float64) *rewardModel {
	m := &rewardModel{}
	m.state.Store(&modelState{
		weights:  make([]float64, dim),
		variance: variance,
		lr:       lr,
	})
	return m
}

func (s *modelState) width() float64 {
	return s.variance / math.Sqrt(float64(s.visits)+1)
}

// learningRate returns max(min_lr, lr0 * decay^t).
func learningRate(cfg *config.EstimatorConfig, t int64) float64 {
	lr := cfg.InitialLearningRate * math.Pow(cfg.LearningRateDecay, float64(t))
	return math.Max(cfg.MinLearningRate, lr)
}

func (m *rewardModel) update(cfg *config.EstimatorConfig, x []float64, reward, weight float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cur := m.state.Load()
	lr := learningRate(cfg, cur.visits)

	var pred float64
	for i := range x {
		pred += cur.weights[i] * x[i]
	}
	residual := reward - pred

	next := &modelState{
		weights:  make([]float64, len(cur.weights)),
		visits:   cur.visits + 1,
		lr:       learningRate(cfg, cur.visits+1),
		sqErrSum: cur.sqErrSum + residual*residual,
		iwSum:    cur.iwSum + weight,
	}
	for i, w := range cur.weights {
		next.weights[i] = w + lr*(weight*residual*x[i]-cfg.Regularization*w)
	}
	beta := cfg.VarianceSmoothing
	next.variance = (1-beta)*cur.variance + beta*residual*residual

	m.state.Store(next)
}
