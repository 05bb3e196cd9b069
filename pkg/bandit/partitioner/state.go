package partitioner

import (
	"mercator-hq/compass/pkg/bandit"
	compassErrors "mercator-hq/compass/pkg/errors"
)

// ExportState returns the tree, every leaf model and the global history.
// Each leaf is locked only while its history is copied.
func (p *Partitioner) ExportState() (*bandit.State, error) {
	ps := &bandit.PartitionerState{
		Root: exportNode(p.root.Load()),
	}
	ps.Features = p.layout.Features()
	for _, s := range p.history.snapshot() {
		ps.History = append(ps.History, s.toState())
	}
	return &bandit.State{
		Algorithm:   p.Algorithm(),
		Version:     bandit.StateVersion,
		Partitioner: ps,
	}, nil
}

func exportNode(n *node) *bandit.NodeState {
	if n == nil {
		return nil
	}
	ns := &bandit.NodeState{Depth: n.depth}
	if n.leaf == nil {
		ns.Feature = n.feature
		ns.Threshold = n.threshold
		ns.LeftCount = n.leftCount.Load()
		ns.RightCount = n.rightCount.Load()
		ns.Left = exportNode(n.left.Load())
		ns.Right = exportNode(n.right.Load())
		return ns
	}

	ns.Leaf = true
	n.leaf.mu.Lock()
	ns.History = make([]bandit.SampleState, len(n.leaf.history.samples))
	for i := range n.leaf.history.samples {
		ns.History[i] = n.leaf.history.samples[i].toState()
	}
	n.leaf.mu.Unlock()
	ns.Estimator = n.leaf.est.ExportModels()
	return ns
}

// ImportState replaces the whole tree. Writers still holding a leaf of the
// old tree see it retired and re-descend into the new one.
func (p *Partitioner) ImportState(state *bandit.State) error {
	const op = "partitioner.ImportState"
	if err := state.CheckHeader(op, p.Algorithm()); err != nil {
		return err
	}
	ps := state.Partitioner
	if ps == nil || ps.Root == nil {
		return compassErrors.InvalidInput(op, "state has no tree")
	}
	if err := p.layout.SetFeatures(op, ps.Features); err != nil {
		return err
	}

	leaves := 0
	root, err := p.importNode(op, ps.Root, 0, &leaves)
	if err != nil {
		return err
	}
	if leaves > p.pcfg.MaxLeaves {
		return compassErrors.Configuration(op, "state has %d leaves, limit is %d", leaves, p.pcfg.MaxLeaves)
	}

	old := p.root.Swap(root)
	p.leaves.Store(int64(leaves))

	p.history.reset()
	for _, ss := range ps.History {
		s := sampleFromState(ss)
		p.history.push(&s)
	}

	retire(old)
	return nil
}

func (p *Partitioner) importNode(op string, ns *bandit.NodeState, depth int, leaves *int) (*node, error) {
	if ns == nil {
		return nil, compassErrors.InvalidInput(op, "missing node at depth %d", depth)
	}
	if ns.Depth != depth {
		return nil, compassErrors.InvalidInput(op, "node depth %d recorded as %d", depth, ns.Depth)
	}
	if depth > p.pcfg.MaxDepth {
		return nil, compassErrors.Configuration(op, "node depth %d exceeds max depth %d", depth, p.pcfg.MaxDepth)
	}

	if !ns.Leaf {
		if ns.Feature == "" || !bandit.Finite(ns.Threshold) {
			return nil, compassErrors.InvalidInput(op, "internal node at depth %d has no valid split", depth)
		}
		left, err := p.importNode(op, ns.Left, depth+1, leaves)
		if err != nil {
			return nil, err
		}
		right, err := p.importNode(op, ns.Right, depth+1, leaves)
		if err != nil {
			return nil, err
		}
		n := &node{depth: depth, feature: ns.Feature, threshold: ns.Threshold}
		n.left.Store(left)
		n.right.Store(right)
		n.leftCount.Store(ns.LeftCount)
		n.rightCount.Store(ns.RightCount)
		return n, nil
	}

	est, err := p.newEstimator()
	if err != nil {
		return nil, err
	}
	if err := est.ImportModels(ns.Estimator); err != nil {
		return nil, err
	}
	h := newLeafHistory(p.pcfg.LeafHistorySize)
	for _, ss := range ns.History {
		h.add(sampleFromState(ss))
	}
	*leaves++
	return &node{depth: depth, leaf: &leaf{est: est, history: h}}, nil
}

func retire(n *node) {
	if n == nil {
		return
	}
	if n.leaf != nil {
		n.leaf.mu.Lock()
		n.leaf.retired = true
		n.leaf.mu.Unlock()
		return
	}
	retire(n.left.Load())
	retire(n.right.Load())
}
