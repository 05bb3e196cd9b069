package bandit

import (
	"slices"
	"sort"
	"sync/atomic"

	compassErrors "mercator-hq/compass/pkg/errors"
)

// Layout maps named context features to vector positions.
//
// A layout is either declared up front (an ordered feature list) or fixed by
// the first context it sees, in which case the features are that context's
// keys in lexicographic order. Once fixed it never changes. A context must
// carry exactly the layout's features; anything else is a configuration
// error unless the caller asks for missing features to read as zero.
type Layout struct {
	dimension int
	fixed     atomic.Pointer[layoutIndex]
}

type layoutIndex struct {
	names []string
	index map[string]int
}

func newLayoutIndex(names []string) *layoutIndex {
	idx := &layoutIndex{names: names, index: make(map[string]int, len(names))}
	for i, n := range names {
		idx.index[n] = i
	}
	return idx
}

// NewLayout creates a layout. With a non-empty features list the layout is
// fixed immediately; otherwise dimension (if positive) is the number of keys
// the first context must carry.
func NewLayout(features []string, dimension int) *Layout {
	l := &Layout{dimension: dimension}
	if len(features) > 0 {
		l.fixed.Store(newLayoutIndex(slices.Clone(features)))
		l.dimension = len(features)
	}
	return l
}

// Features returns the fixed feature order, or nil if not yet fixed.
func (l *Layout) Features() []string {
	if idx := l.fixed.Load(); idx != nil {
		return slices.Clone(idx.names)
	}
	return nil
}

// Dimension returns the vector length, or 0 if not yet known.
func (l *Layout) Dimension() int {
	if idx := l.fixed.Load(); idx != nil {
		return len(idx.names)
	}
	return l.dimension
}

// SetFeatures fixes the layout to names. It fails if the layout is already
// fixed to a different order or names contradicts the configured dimension.
func (l *Layout) SetFeatures(op string, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if l.dimension > 0 && len(names) != l.dimension {
		return compassErrors.Configuration(op, "state has %d features, configured dimension is %d", len(names), l.dimension)
	}
	next := newLayoutIndex(slices.Clone(names))
	if l.fixed.CompareAndSwap(nil, next) {
		return nil
	}
	if cur := l.fixed.Load(); !slices.Equal(cur.names, names) {
		return compassErrors.Configuration(op, "feature layout %v does not match %v", names, cur.names)
	}
	return nil
}

// Vector converts ctx into a dense vector. ctx must already be validated
// as finite and carry every feature of the layout.
func (l *Layout) Vector(op string, ctx Context) ([]float64, error) {
	return l.vector(op, ctx, false)
}

// SparseVector is Vector with features missing from ctx read as zero.
func (l *Layout) SparseVector(op string, ctx Context) ([]float64, error) {
	return l.vector(op, ctx, true)
}

func (l *Layout) vector(op string, ctx Context, missingAsZero bool) ([]float64, error) {
	idx := l.fixed.Load()
	if idx == nil {
		var err error
		if idx, err = l.fix(op, ctx); err != nil {
			return nil, err
		}
	}

	x := make([]float64, len(idx.names))
	for k, v := range ctx {
		i, ok := idx.index[k]
		if !ok {
			return nil, compassErrors.Configuration(op, "unknown feature %q (expected %d features)", k, len(idx.names))
		}
		x[i] = v
	}
	if !missingAsZero && len(ctx) != len(idx.names) {
		for _, name := range idx.names {
			if _, ok := ctx[name]; !ok {
				return nil, compassErrors.Configuration(op, "context has %d features, expected %d (missing %q)", len(ctx), len(idx.names), name)
			}
		}
	}
	return x, nil
}

func (l *Layout) fix(op string, ctx Context) (*layoutIndex, error) {
	if len(ctx) == 0 {
		return nil, compassErrors.Configuration(op, "cannot infer feature layout from an empty context")
	}
	if l.dimension > 0 && len(ctx) != l.dimension {
		return nil, compassErrors.Configuration(op, "context has %d features, configured dimension is %d", len(ctx), l.dimension)
	}
	names := make([]string, 0, len(ctx))
	for k := range ctx {
		names = append(names, k)
	}
	sort.Strings(names)

	l.fixed.CompareAndSwap(nil, newLayoutIndex(names))
	return l.fixed.Load(), nil
}

// Dot returns the inner product of a and b, which must have equal length.
func Dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
