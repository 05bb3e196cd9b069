package partitioner

import (
	"sync/atomic"

	"mercator-hq/compass/pkg/bandit"
)

// sample is one observation recorded by the tree.
type sample struct {
	ctx    bandit.Context
	action bandit.Action
	reward float64
	weight float64
}

func (s *sample) toState() bandit.SampleState {
	return bandit.SampleState{
		Context: map[string]float64(s.ctx.Clone()),
		Action:  s.action,
		Reward:  s.reward,
		Weight:  s.weight,
	}
}

func sampleFromState(ss bandit.SampleState) sample {
	return sample{
		ctx:    bandit.Context(ss.Context).Clone(),
		action: ss.Action,
		reward: ss.Reward,
		weight: ss.Weight,
	}
}

// leafHistory is a bounded FIFO of samples. It is owned by one leaf and
// only touched under the leaf's lock.
type leafHistory struct {
	limit   int
	samples []sample
}

func newLeafHistory(limit int) *leafHistory {
	return &leafHistory{limit: limit}
}

func (h *leafHistory) add(s sample) {
	if len(h.samples) >= h.limit {
		// Drop the oldest; the copy keeps the backing array bounded
		n := copy(h.samples, h.samples[1:])
		h.samples = h.samples[:n]
	}
	h.samples = append(h.samples, s)
}

func (h *leafHistory) len() int {
	return len(h.samples)
}

// globalHistory is a lock-free ring of the most recent samples across the
// whole tree. Writers claim a slot with an atomic counter; readers see each
// slot's latest value.
type globalHistory struct {
	slots []atomic.Pointer[sample]
	next  atomic.Uint64
}

func newGlobalHistory(size int) *globalHistory {
	return &globalHistory{slots: make([]atomic.Pointer[sample], size)}
}

func (g *globalHistory) push(s *sample) {
	i := g.next.Add(1) - 1
	g.slots[i%uint64(len(g.slots))].Store(s)
}

// snapshot returns the retained samples, oldest first.
func (g *globalHistory) snapshot() []*sample {
	n := g.next.Load()
	size := uint64(len(g.slots))
	start := uint64(0)
	if n > size {
		start = n - size
	}
	out := make([]*sample, 0, n-start)
	for i := start; i < n; i++ {
		if s := g.slots[i%size].Load(); s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (g *globalHistory) reset() {
	for i := range g.slots {
		g.slots[i].Store(nil)
	}
	g.next.Store(0)
}
