package experiment

import (
	"fmt"
	"time"

	"mercator-hq/compass/pkg/bandit"
)

// Phase is the lifecycle stage of a variant.
type Phase int32

const (
	// PhaseShadow variants are evaluated for comparison only.
	PhaseShadow Phase = iota
	// PhaseActive variants serve their traffic share.
	PhaseActive
	// PhaseRolledBack variants are excluded from traffic.
	PhaseRolledBack
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseShadow:
		return "shadow"
	case PhaseActive:
		return "active"
	case PhaseRolledBack:
		return "rolled_back"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// MarshalText encodes the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText decodes a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	switch string(text) {
	case "shadow":
		*p = PhaseShadow
	case "active":
		*p = PhaseActive
	case "rolled_back":
		*p = PhaseRolledBack
	default:
		return fmt.Errorf("unknown phase %q", text)
	}
	return nil
}

// Verdict is the outcome of comparing a variant with the baseline.
type Verdict string

const (
	VerdictKeepCollecting Verdict = "keep_collecting"
	VerdictPromote        Verdict = "promote"
	VerdictRollback       Verdict = "rollback"
	VerdictNoChange       Verdict = "no_change"
	VerdictInconclusive   Verdict = "inconclusive"
)

// Variant is one arm of an experiment.
type Variant struct {
	// Name identifies the variant in metrics, summaries and the ledger.
	Name string

	// Policy produces the variant's decisions. Candidates may omit it when
	// their metrics are recorded by the caller.
	Policy bandit.Policy

	// Weight is the traffic share the variant receives once active.
	// Ignored for the baseline.
	Weight float64
}

// Spec describes an experiment to register.
type Spec struct {
	Domain     string
	Baseline   Variant
	Candidates []Variant

	// ShadowSampleThreshold overrides the domain's configured threshold
	// when positive.
	ShadowSampleThreshold int
}

// Decision is the result of Recommend.
type Decision struct {
	ExperimentID string                   `json:"experiment_id"`
	Domain       string                   `json:"domain"`
	Tenant       string                   `json:"tenant,omitempty"`
	Action       bandit.Action            `json:"action"`
	ServedBy     string                   `json:"served_by"`
	Shadow       map[string]bandit.Action `json:"shadow,omitempty"`

	// Depths holds, per variant, the depth of the tree leaf the context
	// reached when the decision was made. Only tree policies appear.
	Depths map[string]int `json:"depths,omitempty"`
}

// DecisionDepth returns the leaf depth recorded for variant, or -1.
func (d Decision) DecisionDepth(variant string) int {
	if depth, ok := d.Depths[variant]; ok {
		return depth
	}
	return -1
}

// Stats summarizes the rewards recorded for a variant.
type Stats struct {
	Count    int64   `json:"count"`
	Mean     float64 `json:"mean"`
	Variance float64 `json:"variance"`
	StdDev   float64 `json:"std_dev"`
}

// VariantSummary reports one variant.
type VariantSummary struct {
	Name                string              `json:"name"`
	Phase               Phase               `json:"phase"`
	Weight              float64             `json:"weight"`
	Stats               Stats               `json:"stats"`
	Diagnostics         *bandit.Diagnostics `json:"diagnostics,omitempty"`
	RelativeImprovement float64             `json:"relative_improvement"`
	ZScore              float64             `json:"z_score"`
	PValue              float64             `json:"p_value"`
	Verdict             Verdict             `json:"verdict,omitempty"`
	Reason              string              `json:"reason,omitempty"`
	TransitionedAt      *time.Time          `json:"transitioned_at,omitempty"`
}

// Summary is a point-in-time report of an experiment.
type Summary struct {
	ExperimentID          string           `json:"experiment_id"`
	Domain                string           `json:"domain"`
	Phase                 Phase            `json:"phase"`
	CreatedAt             time.Time        `json:"created_at"`
	ShadowSampleThreshold int              `json:"shadow_sample_threshold"`
	ConfidenceLevel       float64          `json:"confidence_level"`
	Dropped               int64            `json:"dropped"`
	Baseline              VariantSummary   `json:"baseline"`
	Variants              []VariantSummary `json:"variants"`
	Recommendations       []string         `json:"recommendations"`
}

// Variant returns the summary of the named candidate.
func (s *Summary) Variant(name string) (VariantSummary, bool) {
	for _, v := range s.Variants {
		if v.Name == name {
			return v, true
		}
	}
	return VariantSummary{}, false
}
