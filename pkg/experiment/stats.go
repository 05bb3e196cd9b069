package experiment

import (
	"fmt"
	"math"

	"mercator-hq/compass/pkg/config"
)

// minStdErr keeps the z statistic finite when both samples are constant.
const minStdErr = 1e-12

// welford accumulates a running mean and variance.
type welford struct {
	count int64
	mean  float64
	m2    float64
}

func (w *welford) add(x float64) {
	w.count++
	delta := x - w.mean
	w.mean += delta / float64(w.count)
	w.m2 += delta * (x - w.mean)
}

// variance returns the unbiased sample variance.
func (w welford) variance() float64 {
	if w.count < 2 {
		return 0
	}
	return w.m2 / float64(w.count-1)
}

func (w welford) stats() Stats {
	v := w.variance()
	return Stats{Count: w.count, Mean: w.mean, Variance: v, StdDev: math.Sqrt(v)}
}

// welch returns the Welch z statistic of a against b and its two-sided
// p-value under the normal approximation.
func welch(a, b welford) (z, p float64) {
	se := math.Sqrt(a.variance()/float64(a.count) + b.variance()/float64(b.count))
	if se < minStdErr {
		se = minStdErr
	}
	z = (a.mean - b.mean) / se
	p = math.Erfc(math.Abs(z) / math.Sqrt2)
	return z, p
}

// evaluation is the comparison of a variant with the baseline.
type evaluation struct {
	improvement float64
	z           float64
	p           float64
	verdict     Verdict
	reason      string
}

// evaluate compares variant with baseline. Improvement, z and p are filled
// whenever both sides have at least two samples and the baseline mean is
// non-zero; the verdict also honors the sample thresholds.
func evaluate(variant, baseline welford, threshold int, cfg config.ExperimentConfig) evaluation {
	var ev evaluation

	if variant.count < 2 || baseline.count < 2 {
		ev.verdict = VerdictKeepCollecting
		ev.reason = fmt.Sprintf("collecting samples (%d variant, %d baseline)", variant.count, baseline.count)
		return ev
	}
	if baseline.mean == 0 {
		ev.verdict = VerdictInconclusive
		ev.reason = "baseline mean is zero, relative improvement is undefined"
		return ev
	}

	ev.improvement = (variant.mean - baseline.mean) / math.Abs(baseline.mean)
	ev.z, ev.p = welch(variant, baseline)

	if variant.count < int64(threshold) {
		ev.verdict = VerdictKeepCollecting
		ev.reason = fmt.Sprintf("needs %d more variant samples", int64(threshold)-variant.count)
		return ev
	}
	if baseline.count < int64(cfg.MinBaselineSamples) {
		ev.verdict = VerdictKeepCollecting
		ev.reason = fmt.Sprintf("needs %d more baseline samples", int64(cfg.MinBaselineSamples)-baseline.count)
		return ev
	}

	alpha := 1 - cfg.ConfidenceLevel
	significant := ev.p < alpha
	switch {
	case ev.improvement >= cfg.ImprovementThreshold && significant && ev.z > 0:
		ev.verdict = VerdictPromote
		ev.reason = fmt.Sprintf("%+.1f%% vs baseline (z=%.2f, p=%.4g)", ev.improvement*100, ev.z, ev.p)
	case ev.improvement <= cfg.DegradationThreshold && significant && ev.z < 0:
		ev.verdict = VerdictRollback
		ev.reason = fmt.Sprintf("%+.1f%% vs baseline (z=%.2f, p=%.4g)", ev.improvement*100, ev.z, ev.p)
	case !significant:
		ev.verdict = VerdictKeepCollecting
		ev.reason = fmt.Sprintf("difference not significant at %.0f%% confidence (p=%.4g)", cfg.ConfidenceLevel*100, ev.p)
	default:
		ev.verdict = VerdictNoChange
		ev.reason = fmt.Sprintf("%+.1f%% is within thresholds [%+.1f%%, %+.1f%%]",
			ev.improvement*100, cfg.DegradationThreshold*100, cfg.ImprovementThreshold*100)
	}
	return ev
}
