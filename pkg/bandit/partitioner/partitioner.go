// Package partitioner implements a context partitioner: a regression tree
// that splits the context space online and runs an independent reward
// estimator in every leaf.
//
// Internal nodes are immutable once published. A leaf split builds the new
// subtree off to the side and swaps it into the parent's child pointer with
// a compare-and-swap, so readers descending concurrently always see either
// the old leaf or the complete new subtree.
package partitioner

import (
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"mercator-hq/compass/pkg/bandit"
	"mercator-hq/compass/pkg/bandit/estimator"
	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
)

// node is either internal (leaf == nil) or a leaf.
type node struct {
	depth int

	feature    string
	threshold  float64
	left       atomic.Pointer[node]
	right      atomic.Pointer[node]
	leftCount  atomic.Int64
	rightCount atomic.Int64

	leaf *leaf
}

// leaf owns an estimator and the samples routed to it. mu serializes
// updates; retired is set once the leaf has been replaced by a split.
type leaf struct {
	mu      sync.Mutex
	retired bool
	est     *estimator.Estimator
	history *leafHistory
}

// Partitioner is a bandit.Policy that routes each context to a leaf
// estimator and grows the tree as evidence accumulates.
type Partitioner struct {
	pcfg   config.PartitionerConfig
	ecfg   config.EstimatorConfig
	layout *bandit.Layout
	logger *slog.Logger

	root    atomic.Pointer[node]
	leaves  atomic.Int64
	splits  atomic.Int64
	history *globalHistory

	rngMu sync.Mutex
	rng   *rand.Rand

	lastDepth atomic.Int64
	depthSum  atomic.Int64
	decisions atomic.Int64
	lastWidth atomic.Uint64
}

// Option configures a Partitioner.
type Option func(*Partitioner)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Partitioner) {
		p.logger = l
	}
}

// New creates a partitioner with a single root leaf. Leaf estimators use
// ecfg. It fails with a configuration error when either bundle is invalid.
func New(pcfg config.PartitionerConfig, ecfg config.EstimatorConfig, opts ...Option) (*Partitioner, error) {
	const op = "partitioner.New"
	if err := config.ValidatePartitionerConfig(pcfg); err != nil {
		return nil, compassErrors.Wrap(compassErrors.KindConfiguration, op, err)
	}
	if err := config.ValidateEstimatorConfig(ecfg); err != nil {
		return nil, compassErrors.Wrap(compassErrors.KindConfiguration, op, err)
	}

	seed := uint64(pcfg.Seed)
	p := &Partitioner{
		pcfg:    pcfg,
		ecfg:    ecfg,
		layout:  bandit.NewLayout(ecfg.Features, ecfg.Dimension),
		history: newGlobalHistory(pcfg.GlobalHistorySize),
		rng:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default().With("component", "partitioner")
	}

	root, err := p.newLeafNode(0, nil)
	if err != nil {
		return nil, err
	}
	p.root.Store(root)
	p.leaves.Store(1)
	return p, nil
}

// Algorithm returns "partitioner".
func (p *Partitioner) Algorithm() string {
	return config.AlgorithmPartitioner
}

func (p *Partitioner) newEstimator() (*estimator.Estimator, error) {
	return estimator.New(p.ecfg,
		estimator.WithLayout(p.layout),
		estimator.WithMissingAsZero(),
		estimator.WithLogger(p.logger),
	)
}

// newLeafNode builds a leaf at depth seeded by replaying samples in order.
func (p *Partitioner) newLeafNode(depth int, samples []sample) (*node, error) {
	est, err := p.newEstimator()
	if err != nil {
		return nil, err
	}
	h := newLeafHistory(p.pcfg.LeafHistorySize)
	for i := range samples {
		s := samples[i]
		if err := est.UpdateWithImportanceWeight(s.action, s.reward, s.ctx, s.weight); err != nil {
			return nil, err
		}
		h.add(s)
	}
	return &node{depth: depth, leaf: &leaf{est: est, history: h}}, nil
}

// descend walks from the root to the leaf for ctx. It returns the leaf node
// and the slot that points at it. When count is set, internal nodes record
// which branch the context took.
func (p *Partitioner) descend(ctx bandit.Context, count bool) (*node, *atomic.Pointer[node]) {
	slot := &p.root
	n := slot.Load()
	for n.leaf == nil {
		goLeft := false
		if v, ok := ctx[n.feature]; ok {
			goLeft = v <= n.threshold
		} else {
			goLeft = p.missingGoesLeft(n.leftCount.Load(), n.rightCount.Load())
		}
		if goLeft {
			if count {
				n.leftCount.Add(1)
			}
			slot = &n.left
		} else {
			if count {
				n.rightCount.Add(1)
			}
			slot = &n.right
		}
		n = slot.Load()
	}
	return n, slot
}

// Recommend routes ctx to its leaf and delegates to the leaf estimator.
func (p *Partitioner) Recommend(ctx bandit.Context, candidates []bandit.Action) (bandit.Action, error) {
	const op = "partitioner.Recommend"
	if err := bandit.ValidateCandidates(op, candidates); err != nil {
		return "", err
	}
	if err := bandit.ValidateContext(op, ctx); err != nil {
		return "", err
	}

	n, _ := p.descend(ctx, false)
	a, err := n.leaf.est.Recommend(ctx, candidates)
	if err != nil {
		return "", err
	}

	p.lastDepth.Store(int64(n.depth))
	p.depthSum.Add(int64(n.depth))
	p.decisions.Add(1)
	p.lastWidth.Store(math.Float64bits(n.leaf.est.LastConfidenceWidth()))
	return a, nil
}

// Update applies an on-policy observation.
func (p *Partitioner) Update(a bandit.Action, reward float64, ctx bandit.Context) error {
	return p.UpdateWithImportanceWeight(a, reward, ctx, 1)
}

// UpdateWithImportanceWeight updates the leaf for ctx, records the sample,
// and splits the leaf when it has enough evidence.
func (p *Partitioner) UpdateWithImportanceWeight(a bandit.Action, reward float64, ctx bandit.Context, weight float64) error {
	const op = "partitioner.Update"
	if err := bandit.ValidateObservation(op, reward, weight); err != nil {
		return err
	}
	if err := bandit.ValidateContext(op, ctx); err != nil {
		return err
	}
	s := sample{ctx: ctx.Clone(), action: a, reward: reward, weight: weight}

	for {
		n, slot := p.descend(ctx, true)
		lf := n.leaf

		lf.mu.Lock()
		if lf.retired {
			// Split by a concurrent writer; the new subtree is already
			// published.
			lf.mu.Unlock()
			continue
		}

		if err := lf.est.UpdateWithImportanceWeight(a, reward, ctx, weight); err != nil {
			lf.mu.Unlock()
			return err
		}
		lf.history.add(s)
		p.history.push(&s)

		if p.eligible(n) {
			p.trySplit(n, slot)
		}
		lf.mu.Unlock()
		return nil
	}
}

func (p *Partitioner) eligible(n *node) bool {
	return n.leaf.history.len() >= p.pcfg.MinSamplesSplit &&
		n.depth < p.pcfg.MaxDepth &&
		p.leaves.Load() < int64(p.pcfg.MaxLeaves)
}

// trySplit searches for the best split of n and publishes it when the gain
// reaches the threshold. The caller holds n.leaf.mu.
func (p *Partitioner) trySplit(n *node, slot *atomic.Pointer[node]) {
	best, ok := p.findSplit(n.leaf.history.samples)
	if !ok || best.gain <= 0 || best.gain < p.pcfg.SplitThreshold {
		return
	}

	if !p.reserveLeaf() {
		return
	}

	left, err := p.newLeafNode(n.depth+1, best.left)
	if err == nil {
		var right *node
		right, err = p.newLeafNode(n.depth+1, best.right)
		if err == nil {
			internal := &node{depth: n.depth, feature: best.feature, threshold: best.threshold}
			internal.left.Store(left)
			internal.right.Store(right)
			internal.leftCount.Store(int64(len(best.left)))
			internal.rightCount.Store(int64(len(best.right)))

			if slot.CompareAndSwap(n, internal) {
				n.leaf.retired = true
				p.splits.Add(1)
				p.logger.Debug("leaf split",
					"feature", best.feature,
					"threshold", best.threshold,
					"gain", best.gain,
					"depth", n.depth,
					"left", len(best.left),
					"right", len(best.right),
				)
				return
			}
		}
	}
	if err != nil {
		p.logger.Warn("leaf split aborted", "error", err)
	}
	p.leaves.Add(-1)
}

// reserveLeaf claims room for one more leaf under MaxLeaves.
func (p *Partitioner) reserveLeaf() bool {
	for {
		cur := p.leaves.Load()
		if cur >= int64(p.pcfg.MaxLeaves) {
			return false
		}
		if p.leaves.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Leaves returns the current number of leaves.
func (p *Partitioner) Leaves() int {
	return int(p.leaves.Load())
}

// Splits returns the number of splits performed since construction.
func (p *Partitioner) Splits() int64 {
	return p.splits.Load()
}

// Depth returns the depth of the deepest leaf.
func (p *Partitioner) Depth() int {
	depth := 0
	p.walk(func(n *node) {
		if n.leaf != nil && n.depth > depth {
			depth = n.depth
		}
	})
	return depth
}

// DepthOf returns the depth of the leaf that ctx routes to.
func (p *Partitioner) DepthOf(ctx bandit.Context) int {
	n, _ := p.descend(ctx, false)
	return n.depth
}

// walk visits every node reachable from the current root.
func (p *Partitioner) walk(fn func(*node)) {
	var visit func(n *node)
	visit = func(n *node) {
		if n == nil {
			return
		}
		fn(n)
		if n.leaf == nil {
			visit(n.left.Load())
			visit(n.right.Load())
		}
	}
	visit(p.root.Load())
}

// RecentSamples returns the global sample history, oldest first.
func (p *Partitioner) RecentSamples() []bandit.SampleState {
	raw := p.history.snapshot()
	out := make([]bandit.SampleState, len(raw))
	for i, s := range raw {
		out[i] = s.toState()
	}
	return out
}

// Diagnostics aggregates the leaf estimators and describes the tree shape.
func (p *Partitioner) Diagnostics() bandit.Diagnostics {
	d := bandit.Diagnostics{
		Algorithm:       p.Algorithm(),
		DecisionDepth:   int(p.lastDepth.Load()),
		ConfidenceWidth: math.Float64frombits(p.lastWidth.Load()),
	}
	if n := p.decisions.Load(); n > 0 {
		d.MeanDecisionDepth = float64(p.depthSum.Load()) / float64(n)
	}

	var sqErr, iwSum float64
	p.walk(func(n *node) {
		if n.leaf == nil {
			return
		}
		d.LeafCount++
		if n.depth > d.TreeDepth {
			d.TreeDepth = n.depth
		}
		ld := n.leaf.est.Diagnostics()
		d.Updates += ld.Updates
		sqErr += ld.ModelMSE * float64(ld.Updates)
		iwSum += ld.MeanImportanceWeight * float64(ld.Updates)
		if ld.Actions > d.Actions {
			d.Actions = ld.Actions
		}
	})
	if d.Updates > 0 {
		d.ModelMSE = sqErr / float64(d.Updates)
		d.MeanImportanceWeight = iwSum / float64(d.Updates)
	}
	return d
}
