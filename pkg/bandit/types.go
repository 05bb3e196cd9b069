package bandit

import (
	"math"

	compassErrors "mercator-hq/compass/pkg/errors"
)

// Context is a feature vector keyed by feature name.
type Context map[string]float64

// Action is an opaque identifier for one choice. Candidate sets are supplied
// per call.
type Action string

// Policy is implemented by every decision algorithm.
type Policy interface {
	// Recommend returns one element of candidates. It fails with an
	// InvalidInput error when candidates is empty or ctx holds a
	// non-finite value.
	Recommend(ctx Context, candidates []Action) (Action, error)

	// Update learns from an on-policy observation (importance weight 1).
	Update(action Action, reward float64, ctx Context) error

	// UpdateWithImportanceWeight learns from an observation logged under a
	// different policy. The weight is clamped to the configured bounds.
	UpdateWithImportanceWeight(action Action, reward float64, ctx Context, weight float64) error

	// ExportState returns a plain-data copy of the learned state.
	ExportState() (*State, error)

	// ImportState replaces the learned state.
	ImportState(state *State) error

	// Diagnostics returns a point-in-time view of model quality.
	Diagnostics() Diagnostics

	// Algorithm returns the configured algorithm name.
	Algorithm() string
}

// Diagnostics summarizes a policy for telemetry and experiment summaries.
// Fields that do not apply to an algorithm are zero.
type Diagnostics struct {
	Algorithm            string  `json:"algorithm"`
	Actions              int     `json:"actions"`
	Updates              int64   `json:"updates"`
	ModelMSE             float64 `json:"model_mse"`
	MeanImportanceWeight float64 `json:"mean_importance_weight"`
	ConfidenceWidth      float64 `json:"confidence_width"`
	TreeDepth            int     `json:"tree_depth,omitempty"`
	LeafCount            int     `json:"leaf_count,omitempty"`
	DecisionDepth        int     `json:"decision_depth,omitempty"`
	MeanDecisionDepth    float64 `json:"mean_decision_depth,omitempty"`
}

// Clamp bounds w to [lo, hi]. Clamp(Clamp(w)) == Clamp(w).
func Clamp(w, lo, hi float64) float64 {
	if w < lo {
		return lo
	}
	if w > hi {
		return hi
	}
	return w
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ValidateContext rejects contexts holding non-finite values.
func ValidateContext(op string, ctx Context) error {
	for k, v := range ctx {
		if !Finite(v) {
			return compassErrors.InvalidInput(op, "context feature %q is not finite (%v)", k, v)
		}
	}
	return nil
}

// ValidateObservation checks the reward and importance weight of an update.
func ValidateObservation(op string, reward, weight float64) error {
	if !Finite(reward) {
		return compassErrors.InvalidInput(op, "reward is not finite (%v)", reward)
	}
	if !Finite(weight) {
		return compassErrors.InvalidInput(op, "importance weight is not finite (%v)", weight)
	}
	return nil
}

// ValidateCandidates rejects empty candidate sets.
func ValidateCandidates(op string, candidates []Action) error {
	if len(candidates) == 0 {
		return compassErrors.InvalidInput(op, "candidate set is empty")
	}
	return nil
}

// Clone returns a copy of ctx.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}
