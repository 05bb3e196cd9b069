// Package experiment runs shadow comparisons between a baseline policy and
// candidate policies for a domain.
//
// An experiment is registered per domain. While a candidate variant is in
// the shadow phase, the baseline serves every request and the candidate is
// asked for its choice only so the two can be compared. Rewards are fanned
// out to every variant's policy; a variant's reward statistics are updated
// when it served the request or when its shadow choice matched the executed
// action.
//
// Once a candidate has collected enough rewards, a Welch z-test against the
// baseline decides whether it moves to the active phase (it then receives
// its configured share of traffic for tenants the registry enables) or to
// the rolled-back phase. Summary reports the same statistics for human
// review.
//
// # Usage
//
//	coord := experiment.NewCoordinator(registry, sink, experiment.WithLogger(logger))
//	id, err := coord.RegisterExperiment(experiment.Spec{
//	    Domain:   "routing",
//	    Baseline: experiment.Variant{Name: "baseline", Policy: current},
//	    Candidates: []experiment.Variant{
//	        {Name: "tree", Policy: tree, Weight: 0.5},
//	    },
//	})
//
//	d, err := coord.Recommend("routing", tenant, ctx, candidates)
//	// execute d.Action, observe the reward
//	err = coord.Observe(d, reward, ctx, 1)
package experiment
