package graph

import (
	"math"

	"github.com/vjranagit/minigraph/pkg/types"
)

// AxisLimits are the configured lower/upper overrides of one axis
type AxisLimits struct {
	Lower *float64
	Upper *float64
}

// ComputeBound returns the [min, max] range of one axis over the graphs
// drawn on it. Graphs without data are ignored. A category axis with n
// states spans [0, n-1]. Without any data the missing ends fall back to prev.
func ComputeBound(graphs []*Graph, limits AxisLimits, categories int, prev types.Bound) types.Bound {
	if categories > 0 {
		return types.Bound{0, float64(categories - 1)}
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, g := range graphs {
		if g == nil || !g.HasData() {
			continue
		}
		lo = math.Min(lo, g.Min())
		hi = math.Max(hi, g.Max())
	}

	bound := prev
	if !math.IsInf(lo, 0) {
		bound = types.Bound{lo, hi}
	}
	if limits.Lower != nil {
		bound[0] = *limits.Lower
	}
	if limits.Upper != nil {
		bound[1] = *limits.Upper
	}
	return bound
}
