package color

import (
	"github.com/vjranagit/minigraph/pkg/types"
)

// Palette resolves entity colors from the configured thresholds and line colors
type Palette struct {
	Thresholds []types.ColorThreshold
	LineColors []string
	// Bars makes Blend use discrete thresholds, bars never show blended colors
	Bars bool
}

// stateValue parses a state, treating anything unparsable as 0
func stateValue(state string) float64 {
	v, ok := types.ParseState(state)
	if !ok {
		return 0
	}
	return v
}

// LineColor returns the configured line color for entity i
func (p Palette) LineColor(i int) string {
	if i >= 0 && i < len(p.LineColors) && p.LineColors[i] != "" {
		return p.LineColors[i]
	}
	if len(p.LineColors) > 0 {
		return p.LineColors[0]
	}
	return ""
}

// Compute returns the discrete threshold color of state for entity i.
// override is the entity's own color and wins over everything.
func (p Palette) Compute(state string, override string, i int) string {
	if override != "" {
		return override
	}
	if c, ok := Discrete(p.Thresholds, stateValue(state)); ok {
		return c
	}
	return p.LineColor(i)
}

// Blend returns the interpolated threshold color of state for entity i
func (p Palette) Blend(state string, override string, i int) string {
	if override != "" {
		return override
	}

	v := stateValue(state)
	var (
		c  string
		ok bool
	)
	if p.Bars {
		c, ok = Discrete(p.Thresholds, v)
	} else {
		c, ok = Interpolated(p.Thresholds, v)
	}
	if ok {
		return c
	}
	return p.LineColor(i)
}
