// Package color maps values to threshold colors
package color

import (
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/vjranagit/minigraph/pkg/types"
)

// named holds the CSS basic color keywords plus a few common extended ones
var named = map[string]string{
	"black":   "#000000",
	"silver":  "#c0c0c0",
	"gray":    "#808080",
	"grey":    "#808080",
	"white":   "#ffffff",
	"maroon":  "#800000",
	"red":     "#ff0000",
	"purple":  "#800080",
	"fuchsia": "#ff00ff",
	"magenta": "#ff00ff",
	"green":   "#008000",
	"lime":    "#00ff00",
	"olive":   "#808000",
	"yellow":  "#ffff00",
	"navy":    "#000080",
	"blue":    "#0000ff",
	"teal":    "#008080",
	"aqua":    "#00ffff",
	"cyan":    "#00ffff",
	"orange":  "#ffa500",
	"gold":    "#ffd700",
	"pink":    "#ffc0cb",
	"brown":   "#a52a2a",
	"indigo":  "#4b0082",
	"violet":  "#ee82ee",
}

// Parse parses a hex (#rgb, #rrggbb) or named color
func Parse(s string) (colorful.Color, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if hex, ok := named[s]; ok {
		s = hex
	}
	c, err := colorful.Hex(s)
	if err != nil {
		return colorful.Color{}, false
	}
	return c, true
}

// Interpolate blends from towards to channel-wise. factor 0 yields from,
// 1 yields to. When either color cannot be parsed the nearer of the two
// input strings is returned unchanged.
func Interpolate(from, to string, factor float64) string {
	factor = clamp(factor)

	a, okA := Parse(from)
	b, okB := Parse(to)
	if !okA || !okB {
		if factor < 0.5 {
			return from
		}
		return to
	}

	return a.BlendRgb(b, factor).Hex()
}

// Discrete returns the color of the first threshold whose value is strictly
// less than state, or the last threshold when none matches
func Discrete(thresholds []types.ColorThreshold, state float64) (string, bool) {
	if len(thresholds) == 0 {
		return "", false
	}
	for _, thr := range thresholds {
		if thr.Value < state {
			return thr.Color, true
		}
	}
	return thresholds[len(thresholds)-1].Color, true
}

// Interpolated blends between the first threshold below state and its
// predecessor in list order
func Interpolated(thresholds []types.ColorThreshold, state float64) (string, bool) {
	if len(thresholds) == 0 {
		return "", false
	}

	idx := -1
	for i, thr := range thresholds {
		if thr.Value < state {
			idx = i
			break
		}
	}

	switch idx {
	case -1:
		return thresholds[len(thresholds)-1].Color, true
	case 0:
		return thresholds[0].Color, true
	}

	c1 := thresholds[idx]
	c2 := thresholds[idx-1]
	factor := 1.0
	if denom := c2.Value - c1.Value; denom != 0 {
		factor = (c2.Value - state) / denom
	}
	return Interpolate(c2.Color, c1.Color, factor), true
}

func clamp(f float64) float64 {
	switch {
	case f != f:
		return 1
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
