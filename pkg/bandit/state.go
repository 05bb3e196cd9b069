package bandit

import compassErrors "mercator-hq/compass/pkg/errors"

// StateVersion is the current version of the exported state layout.
const StateVersion = 1

// State is the exported form of a Policy. Exactly one of Estimator and
// Partitioner is set, matching Algorithm.
type State struct {
	Algorithm   string            `json:"algorithm"`
	Version     int               `json:"version"`
	Estimator   *EstimatorState   `json:"estimator,omitempty"`
	Partitioner *PartitionerState `json:"partitioner,omitempty"`
}

// EstimatorState holds every reward model of an estimator.
type EstimatorState struct {
	Features []string              `json:"features"`
	Models   map[Action]ModelState `json:"models"`
}

// ModelState is one action's reward model.
type ModelState struct {
	Weights             []float64 `json:"weights"`
	Visits              int64     `json:"visits"`
	Variance            float64   `json:"variance"`
	LearningRate        float64   `json:"learning_rate"`
	SquaredErrorSum     float64   `json:"squared_error_sum"`
	ImportanceWeightSum float64   `json:"importance_weight_sum"`
}

// PartitionerState holds the whole tree and the global sample history.
type PartitionerState struct {
	Features []string      `json:"features"`
	Root     *NodeState    `json:"root"`
	History  []SampleState `json:"history,omitempty"`
}

// NodeState is one tree node. Leaves carry Estimator and History; internal
// nodes carry Feature, Threshold and both children.
type NodeState struct {
	Depth      int             `json:"depth"`
	Leaf       bool            `json:"leaf"`
	Feature    string          `json:"feature,omitempty"`
	Threshold  float64         `json:"threshold,omitempty"`
	LeftCount  int64           `json:"left_count,omitempty"`
	RightCount int64           `json:"right_count,omitempty"`
	Left       *NodeState      `json:"left,omitempty"`
	Right      *NodeState      `json:"right,omitempty"`
	Estimator  *EstimatorState `json:"estimator,omitempty"`
	History    []SampleState   `json:"history,omitempty"`
}

// SampleState is one recorded observation.
type SampleState struct {
	Context map[string]float64 `json:"context"`
	Action  Action             `json:"action"`
	Reward  float64            `json:"reward"`
	Weight  float64            `json:"weight"`
}

// CheckHeader validates the algorithm tag and version of s.
func (s *State) CheckHeader(op, algorithm string) error {
	if s == nil {
		return compassErrors.InvalidInput(op, "state is nil")
	}
	if s.Algorithm != algorithm {
		return compassErrors.Configuration(op, "state algorithm %q does not match %q", s.Algorithm, algorithm)
	}
	if s.Version != StateVersion {
		return compassErrors.Configuration(op, "unsupported state version %d", s.Version)
	}
	return nil
}
