package partitioner

import (
	"math"
	"sort"

	"mercator-hq/compass/pkg/bandit"
)

// Split criteria.
const (
	StrategyVariance        = "variance"
	StrategyInformationGain = "information_gain"
	StrategyMSE             = "mse"
)

// Feature selection modes.
const (
	SelectAll    = "all"
	SelectRandom = "random"
	SelectBest   = "best"
)

// Missing feature strategies.
const (
	MissingLeft     = "left"
	MissingRight    = "right"
	MissingMajority = "majority"
)

// split describes a candidate partition of a leaf's samples.
type split struct {
	feature   string
	threshold float64
	gain      float64
	left      []sample
	right     []sample
}

// impurity scores a group of samples; lower is purer.
type impurity func(samples []sample) float64

func impurityFor(strategy string, parent []sample) impurity {
	switch strategy {
	case StrategyMSE:
		return actionMSE
	case StrategyInformationGain:
		cut := meanReward(parent)
		return func(s []sample) float64 { return rewardEntropy(s, cut) }
	default:
		return rewardVariance
	}
}

func meanReward(samples []sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for i := range samples {
		sum += samples[i].reward
	}
	return sum / float64(len(samples))
}

// rewardVariance is the population variance of the rewards.
func rewardVariance(samples []sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	mean := meanReward(samples)
	var ss float64
	for i := range samples {
		d := samples[i].reward - mean
		ss += d * d
	}
	return ss / float64(len(samples))
}

// actionMSE is the mean squared error of predicting each reward by the mean
// reward of its action within the group.
func actionMSE(samples []sample) float64 {
	if len(samples) == 0 {
		return 0
	}
	type acc struct {
		n       float64
		sum, sq float64
	}
	groups := make(map[bandit.Action]*acc)
	for i := range samples {
		g := groups[samples[i].action]
		if g == nil {
			g = &acc{}
			groups[samples[i].action] = g
		}
		r := samples[i].reward
		g.n++
		g.sum += r
		g.sq += r * r
	}
	var sse float64
	for _, g := range groups {
		sse += g.sq - g.sum*g.sum/g.n
	}
	if sse < 0 {
		sse = 0
	}
	return sse / float64(len(samples))
}

// rewardEntropy is the binary entropy, in bits, of rewards above cut.
func rewardEntropy(samples []sample, cut float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var pos float64
	for i := range samples {
		if samples[i].reward > cut {
			pos++
		}
	}
	p := pos / float64(len(samples))
	if p == 0 || p == 1 {
		return 0
	}
	return -p*math.Log2(p) - (1-p)*math.Log2(1-p)
}

// findSplit returns the partition of samples with the largest impurity
// reduction. Features are scanned in lexicographic order and thresholds in
// ascending order; only a strictly larger gain replaces the current best.
func (p *Partitioner) findSplit(samples []sample) (split, bool) {
	features := p.selectFeatures(samples)
	score := impurityFor(p.pcfg.SplitStrategy, samples)
	parent := score(samples)
	n := float64(len(samples))

	var best split
	found := false
	left := make([]sample, 0, len(samples))
	right := make([]sample, 0, len(samples))

	var missing []sample
	for _, f := range features {
		for _, thr := range p.thresholds(samples, f) {
			left, right, missing = left[:0], right[:0], missing[:0]
			for i := range samples {
				v, ok := samples[i].ctx[f]
				switch {
				case !ok:
					missing = append(missing, samples[i])
				case v <= thr:
					left = append(left, samples[i])
				default:
					right = append(right, samples[i])
				}
			}
			if p.missingGoesLeft(int64(len(left)), int64(len(right))) {
				left = append(left, missing...)
			} else {
				right = append(right, missing...)
			}
			if len(left) < p.pcfg.MinSamplesLeaf || len(right) < p.pcfg.MinSamplesLeaf {
				continue
			}
			gain := parent - (float64(len(left))*score(left)+float64(len(right))*score(right))/n
			if !found || gain > best.gain {
				best = split{
					feature:   f,
					threshold: thr,
					gain:      gain,
					left:      append([]sample(nil), left...),
					right:     append([]sample(nil), right...),
				}
				found = true
			}
		}
	}
	return best, found
}

// missingGoesLeft decides the branch for a context lacking the split
// feature, given how many samples went each way.
func (p *Partitioner) missingGoesLeft(leftCount, rightCount int64) bool {
	switch p.pcfg.MissingFeatureStrategy {
	case MissingRight:
		return false
	case MissingMajority:
		return leftCount >= rightCount
	default:
		return true
	}
}

// thresholds returns candidate cut points for f in ascending order: the
// midpoints between consecutive distinct values, thinned to at most
// MaxSplitCandidates evenly spaced quantiles.
func (p *Partitioner) thresholds(samples []sample, f string) []float64 {
	values := make([]float64, 0, len(samples))
	for i := range samples {
		if v, ok := samples[i].ctx[f]; ok {
			values = append(values, v)
		}
	}
	sort.Float64s(values)

	distinct := values[:0]
	for i, v := range values {
		if i == 0 || v != distinct[len(distinct)-1] {
			distinct = append(distinct, v)
		}
	}
	if len(distinct) < 2 {
		return nil
	}

	mids := make([]float64, len(distinct)-1)
	for i := range mids {
		mids[i] = distinct[i] + (distinct[i+1]-distinct[i])/2
	}

	k := p.pcfg.MaxSplitCandidates
	if len(mids) <= k {
		return mids
	}
	out := make([]float64, 0, k)
	for j := 0; j < k; j++ {
		idx := j * (len(mids) - 1) / max(k-1, 1)
		if len(out) == 0 || mids[idx] != out[len(out)-1] {
			out = append(out, mids[idx])
		}
	}
	return out
}

// selectFeatures returns the features considered for a split, sorted
// lexicographically.
func (p *Partitioner) selectFeatures(samples []sample) []string {
	seen := make(map[string]struct{})
	for i := range samples {
		for k := range samples[i].ctx {
			seen[k] = struct{}{}
		}
	}
	all := make([]string, 0, len(seen))
	for k := range seen {
		all = append(all, k)
	}
	sort.Strings(all)

	k := p.pcfg.FeatureSubsetSize
	if p.pcfg.FeatureSelection == SelectAll || len(all) <= k {
		return all
	}

	var chosen []string
	switch p.pcfg.FeatureSelection {
	case SelectRandom:
		p.rngMu.Lock()
		perm := p.rng.Perm(len(all))
		p.rngMu.Unlock()
		chosen = make([]string, k)
		for i := 0; i < k; i++ {
			chosen[i] = all[perm[i]]
		}
	case SelectBest:
		type scored struct {
			name string
			corr float64
		}
		ranked := make([]scored, len(all))
		for i, f := range all {
			ranked[i] = scored{name: f, corr: math.Abs(rewardCorrelation(samples, f))}
		}
		// Stable sort keeps lexicographic order among equal correlations
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].corr > ranked[j].corr })
		chosen = make([]string, k)
		for i := 0; i < k; i++ {
			chosen[i] = ranked[i].name
		}
	default:
		return all
	}
	sort.Strings(chosen)
	return chosen
}

// rewardCorrelation is the Pearson correlation between feature f (missing
// read as zero) and the reward. Constant inputs correlate as zero.
func rewardCorrelation(samples []sample, f string) float64 {
	n := float64(len(samples))
	if n < 2 {
		return 0
	}
	var sx, sy, sxx, syy, sxy float64
	for i := range samples {
		x := samples[i].ctx[f]
		y := samples[i].reward
		sx += x
		sy += y
		sxx += x * x
		syy += y * y
		sxy += x * y
	}
	cov := sxy - sx*sy/n
	vx := sxx - sx*sx/n
	vy := syy - sy*sy/n
	if vx <= 0 || vy <= 0 {
		return 0
	}
	return cov / math.Sqrt(vx*vy)
}
