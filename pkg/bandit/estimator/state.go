package estimator

import (
	"slices"

	"mercator-hq/compass/pkg/bandit"
	compassErrors "mercator-hq/compass/pkg/errors"
)

// ExportState returns a copy of every reward model.
func (e *Estimator) ExportState() (*bandit.State, error) {
	return &bandit.State{
		Algorithm: e.Algorithm(),
		Version:   bandit.StateVersion,
		Estimator: e.exportModels(),
	}, nil
}

func (e *Estimator) exportModels() *bandit.EstimatorState {
	es := &bandit.EstimatorState{
		Features: e.layout.Features(),
		Models:   make(map[bandit.Action]bandit.ModelState),
	}
	e.models.Range(func(k, v any) bool {
		s := v.(*rewardModel).state.Load()
		es.Models[k.(bandit.Action)] = bandit.ModelState{
			Weights:             slices.Clone(s.weights),
			Visits:              s.visits,
			Variance:            s.variance,
			LearningRate:        s.lr,
			SquaredErrorSum:     s.sqErrSum,
			ImportanceWeightSum: s.iwSum,
		}
		return true
	})
	return es
}

// ImportState replaces every reward model with the ones in state.
func (e *Estimator) ImportState(state *bandit.State) error {
	const op = "estimator.ImportState"
	if err := state.CheckHeader(op, e.Algorithm()); err != nil {
		return err
	}
	if state.Estimator == nil {
		return compassErrors.InvalidInput(op, "state has no estimator payload")
	}
	return e.importModels(op, state.Estimator)
}

func (e *Estimator) importModels(op string, es *bandit.EstimatorState) error {
	if err := e.layout.SetFeatures(op, es.Features); err != nil {
		return err
	}
	dim := e.layout.Dimension()
	for a, ms := range es.Models {
		if len(ms.Weights) != dim {
			return compassErrors.Configuration(op, "model %q has %d weights, expected %d", a, len(ms.Weights), dim)
		}
		if ms.Visits < 0 {
			return compassErrors.InvalidInput(op, "model %q has negative visit count", a)
		}
		for _, w := range ms.Weights {
			if !bandit.Finite(w) {
				return compassErrors.InvalidInput(op, "model %q has a non-finite weight", a)
			}
		}
	}

	e.models.Range(func(k, _ any) bool {
		if _, ok := es.Models[k.(bandit.Action)]; !ok {
			e.models.Delete(k)
		}
		return true
	})
	for a, ms := range es.Models {
		m := &rewardModel{}
		m.state.Store(&modelState{
			weights:  slices.Clone(ms.Weights),
			visits:   ms.Visits,
			variance: ms.Variance,
			lr:       ms.LearningRate,
			sqErrSum: ms.SquaredErrorSum,
			iwSum:    ms.ImportanceWeightSum,
		})
		e.models.Store(a, m)
	}
	return nil
}

// ExportModels returns the estimator payload without the state header.
// The partitioner embeds it in every leaf.
func (e *Estimator) ExportModels() *bandit.EstimatorState {
	return e.exportModels()
}

// ImportModels restores a payload produced by ExportModels.
func (e *Estimator) ImportModels(es *bandit.EstimatorState) error {
	if es == nil {
		return nil
	}
	return e.importModels("estimator.ImportModels", es)
}
