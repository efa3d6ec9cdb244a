package color

import (
	"github.com/vjranagit/minigraph/pkg/types"
)

// Gradient builds one vertical gradient stop per threshold for a series
// spanning [min, max]. Offsets run from the top (max) at 0 to the bottom
// (min) at 100. Thresholds outside the range get their color pulled toward
// the neighbouring threshold so the visible edge shows the blended color.
func Gradient(thresholds []types.ColorThreshold, min, max float64) []types.GradientStop {
	if len(thresholds) == 0 {
		return nil
	}

	scale := max - min
	stops := make([]types.GradientStop, 0, len(thresholds))

	for i, stop := range thresholds {
		offset := 0.0
		if scale > 0 {
			offset = (max - stop.Value) * 100 / scale
		}

		c := stop.Color
		switch {
		case stop.Value > max && i+1 < len(thresholds):
			next := thresholds[i+1]
			if denom := stop.Value - next.Value; denom != 0 {
				c = Interpolate(next.Color, stop.Color, (max-next.Value)/denom)
			}
		case stop.Value < min && i > 0:
			prev := thresholds[i-1]
			if denom := prev.Value - stop.Value; denom != 0 {
				c = Interpolate(prev.Color, stop.Color, (prev.Value-min)/denom)
			}
		}

		stops = append(stops, types.GradientStop{
			Color:  c,
			Offset: offset,
		})
	}

	return stops
}
