// Package bandit defines the types shared by the decision algorithms.
//
// A Policy recommends one Action out of a caller-supplied candidate set for a
// Context (a map of named numeric features) and learns from the reward later
// observed for the executed action. Two implementations exist:
//
//   - estimator.Estimator keeps one importance-weighted linear reward model
//     per action and scores candidates by predicted reward plus an
//     exploration bonus.
//   - partitioner.Partitioner grows a regression tree over the context space
//     and embeds an estimator in every leaf.
//
// Both are safe for concurrent use. Recommend never blocks on a lock; updates
// take fine-grained locks (per action, per leaf).
//
// # State
//
// ExportState returns a State made only of maps, slices, strings and numbers.
// It encodes to JSON as-is and ImportState on a policy built from the same
// configuration reproduces its recommendations.
package bandit
