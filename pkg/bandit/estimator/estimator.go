// Package estimator implements an importance-weighted linear reward
// estimator with an exploration bonus.
//
// Every action has its own linear model over the context vector. A
// recommendation scores each candidate as
//
//	dot(w[a], x) + alpha * width(a)
//
// where width shrinks as the action is visited and grows with the smoothed
// residual variance. Updates take one stochastic gradient step scaled by a
// clamped importance weight, which corrects for observations logged under a
// different policy.
package estimator

import (
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"mercator-hq/compass/pkg/bandit"
	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
)

// UnexploredWidth is the confidence width of an action that has never been
// updated. It dominates any learned score so unseen actions are tried first.
const UnexploredWidth = 1e6

// Estimator is a bandit.Policy backed by one linear reward model per action.
// Recommend reads immutable model snapshots and never blocks. Updates to the
// same action are serialized; different actions update in parallel.
type Estimator struct {
	cfg    config.EstimatorConfig
	layout *bandit.Layout
	logger *slog.Logger

	models        sync.Map // bandit.Action -> *rewardModel
	lastWidth     atomic.Uint64
	missingAsZero bool
}

// Option configures an Estimator.
type Option func(*Estimator)

// WithLayout shares a feature layout between estimators. The partitioner
// uses it so every leaf maps contexts identically.
func WithLayout(l *bandit.Layout) Option {
	return func(e *Estimator) {
		e.layout = l
	}
}

// WithMissingAsZero accepts contexts that omit layout features and reads
// the absent values as zero. Without it such a context is a configuration
// error.
func WithMissingAsZero() Option {
	return func(e *Estimator) {
		e.missingAsZero = true
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Estimator) {
		e.logger = l
	}
}

// New creates an estimator. It fails with a configuration error when cfg
// is invalid.
func New(cfg config.EstimatorConfig, opts ...Option) (*Estimator, error) {
	if err := config.ValidateEstimatorConfig(cfg); err != nil {
		return nil, compassErrors.Wrap(compassErrors.KindConfiguration, "estimator.New", err)
	}

	e := &Estimator{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.layout == nil {
		e.layout = bandit.NewLayout(cfg.Features, cfg.Dimension)
	}
	if e.logger == nil {
		e.logger = slog.Default().With("component", "estimator")
	}
	return e, nil
}

// Algorithm returns "estimator".
func (e *Estimator) Algorithm() string {
	return config.AlgorithmEstimator
}

// Layout returns the feature layout.
func (e *Estimator) Layout() *bandit.Layout {
	return e.layout
}

// Recommend returns the candidate with the highest optimistic score.
// Ties go to the candidate listed first.
func (e *Estimator) Recommend(ctx bandit.Context, candidates []bandit.Action) (bandit.Action, error) {
	const op = "estimator.Recommend"
	if err := bandit.ValidateCandidates(op, candidates); err != nil {
		return "", err
	}
	if err := bandit.ValidateContext(op, ctx); err != nil {
		return "", err
	}
	x, err := e.vector(op, ctx)
	if err != nil {
		return "", err
	}

	best := candidates[0]
	bestScore := math.Inf(-1)
	bestWidth := 0.0
	for _, a := range candidates {
		score, width := e.score(a, x)
		if score > bestScore {
			best, bestScore, bestWidth = a, score, width
		}
	}
	e.lastWidth.Store(math.Float64bits(bestWidth))
	return best, nil
}

func (e *Estimator) score(a bandit.Action, x []float64) (score, width float64) {
	s := e.snapshot(a)
	if s == nil {
		return e.cfg.ExplorationAlpha * UnexploredWidth, UnexploredWidth
	}
	width = s.width()
	return bandit.Dot(s.weights, x) + e.cfg.ExplorationAlpha*width, width
}

// Predict returns the model's reward estimate for a without exploration bonus.
// Unseen actions predict zero.
func (e *Estimator) Predict(a bandit.Action, ctx bandit.Context) (float64, error) {
	const op = "estimator.Predict"
	if err := bandit.ValidateContext(op, ctx); err != nil {
		return 0, err
	}
	x, err := e.vector(op, ctx)
	if err != nil {
		return 0, err
	}
	s := e.snapshot(a)
	if s == nil {
		return 0, nil
	}
	return bandit.Dot(s.weights, x), nil
}

// ConfidenceWidth returns the current uncertainty of a's reward model.
func (e *Estimator) ConfidenceWidth(a bandit.Action) float64 {
	s := e.snapshot(a)
	if s == nil {
		return UnexploredWidth
	}
	return s.width()
}

// LastConfidenceWidth returns the width of the most recent recommendation.
func (e *Estimator) LastConfidenceWidth() float64 {
	return math.Float64frombits(e.lastWidth.Load())
}

// Visits returns the number of updates applied to a.
func (e *Estimator) Visits(a bandit.Action) int64 {
	if s := e.snapshot(a); s != nil {
		return s.visits
	}
	return 0
}

// Update applies an on-policy observation.
func (e *Estimator) Update(a bandit.Action, reward float64, ctx bandit.Context) error {
	return e.UpdateWithImportanceWeight(a, reward, ctx, 1)
}

// UpdateWithImportanceWeight applies one gradient step for a:
//
//	w += lr_t * (clamp(weight) * (reward - dot(w, x)) * x - regularization * w)
//
// with lr_t = max(min_lr, lr0 * decay^visits).
func (e *Estimator) UpdateWithImportanceWeight(a bandit.Action, reward float64, ctx bandit.Context, weight float64) error {
	const op = "estimator.Update"
	if err := bandit.ValidateObservation(op, reward, weight); err != nil {
		return err
	}
	if err := bandit.ValidateContext(op, ctx); err != nil {
		return err
	}
	x, err := e.vector(op, ctx)
	if err != nil {
		return err
	}

	w := bandit.Clamp(weight, e.cfg.MinImportanceWeight, e.cfg.MaxImportanceWeight)
	m := e.model(a, len(x))
	m.update(&e.cfg, x, reward, w)
	return nil
}

// Diagnostics aggregates model quality across actions.
func (e *Estimator) Diagnostics() bandit.Diagnostics {
	d := bandit.Diagnostics{
		Algorithm:       e.Algorithm(),
		ConfidenceWidth: e.LastConfidenceWidth(),
	}
	var sqErr, iwSum float64
	e.models.Range(func(_, v any) bool {
		s := v.(*rewardModel).state.Load()
		d.Actions++
		d.Updates += s.visits
		sqErr += s.sqErrSum
		iwSum += s.iwSum
		return true
	})
	if d.Updates > 0 {
		d.ModelMSE = sqErr / float64(d.Updates)
		d.MeanImportanceWeight = iwSum / float64(d.Updates)
	}
	return d
}

func (e *Estimator) vector(op string, ctx bandit.Context) ([]float64, error) {
	if e.missingAsZero {
		return e.layout.SparseVector(op, ctx)
	}
	return e.layout.Vector(op, ctx)
}

func (e *Estimator) snapshot(a bandit.Action) *modelState {
	v, ok := e.models.Load(a)
	if !ok {
		return nil
	}
	return v.(*rewardModel).state.Load()
}

// model returns a's reward model, creating it on first use.
func (e *Estimator) model(a bandit.Action, dim int) *rewardModel {
	if v, ok := e.models.Load(a); ok {
		return v.(*rewardModel)
	}
	fresh := newRewardModel(dim, e.cfg.InitialVariance, e.cfg.InitialLearningRate)
	v, _ := e.models.LoadOrStore(a, fresh)
	return v.(*rewardModel)
}
