package graph

import (
	"math"
	"strconv"
	"strings"

	"github.com/vjranagit/minigraph/pkg/types"
)

// fadeMask is the vertical opacity mask applied to faded fills
var fadeMask = []types.GradientStop{
	{Color: "white", Offset: 0, Opacity: 1},
	{Color: "white", Offset: 100, Opacity: 0.15},
}

// num formats a coordinate rounded to two decimals
func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
}

func pair(b *strings.Builder, p types.Point) {
	b.WriteString(num(p.X))
	b.WriteByte(',')
	b.WriteString(num(p.Y))
}

// placed returns the vertically placed coords, extending a single bucket
// to the right edge
func (g *Graph) placed() []types.Point {
	coords := g.calcY(g.coords)
	if len(coords) == 1 {
		edge := coords[0]
		edge.X = g.width + g.marginX
		coords = append(coords, edge)
	}
	return coords
}

// GetPath returns the SVG line path, or "" when there is nothing to draw
func (g *Graph) GetPath() string {
	if !g.HasData() {
		return ""
	}
	coords := g.placed()

	var b strings.Builder
	b.WriteString("M ")
	pair(&b, coords[0])

	if !g.cfg.Smoothing {
		for _, p := range coords[1:] {
			b.WriteString(" L ")
			pair(&b, p)
		}
		return b.String()
	}

	// quadratic segments through the midpoints, control points on the buckets
	for i := 1; i < len(coords); i++ {
		mid := midPoint(coords[i-1], coords[i])
		if i == 1 {
			b.WriteString(" L ")
		} else {
			b.WriteString(" Q ")
			pair(&b, coords[i-1])
			b.WriteByte(' ')
		}
		pair(&b, mid)
	}
	b.WriteString(" L ")
	pair(&b, coords[len(coords)-1])

	return b.String()
}

func midPoint(a, b types.Point) types.Point {
	return types.Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}

// GetFill closes line down to the baseline
func (g *Graph) GetFill(line string, fade bool) *types.Fill {
	if line == "" || !g.HasData() {
		return nil
	}
	coords := g.placed()
	base := num(g.cfg.Height)

	var b strings.Builder
	b.WriteString(line)
	b.WriteString(" L ")
	b.WriteString(num(coords[len(coords)-1].X))
	b.WriteByte(',')
	b.WriteString(base)
	b.WriteString(" L ")
	b.WriteString(num(coords[0].X))
	b.WriteByte(',')
	b.WriteString(base)
	b.WriteString(" z")

	fill := &types.Fill{Path: b.String(), Fade: fade}
	if fade {
		fill.Mask = append([]types.GradientStop(nil), fadeMask...)
	}
	return fill
}

// GetPoints returns one vertically placed point per bucket
func (g *Graph) GetPoints() []types.Point {
	if !g.HasData() {
		return nil
	}
	return g.calcY(g.coords)
}

// GetBars lays the buckets out as bars. position is this series' slot among
// total side by side series.
func (g *Graph) GetBars(position, total int, spacing float64) []types.Bar {
	if !g.HasData() {
		return nil
	}
	if total < 1 {
		total = 1
	}

	coords := g.calcY(g.coords)
	xRatio := ((g.width - spacing) / float64(len(coords))) / float64(total)
	width := math.Max(0, xRatio-spacing)

	bars := make([]types.Bar, len(coords))
	for i, c := range coords {
		bars[i] = types.Bar{
			X:      xRatio*float64(i*total) + xRatio*float64(position) + spacing,
			Y:      c.Y,
			Width:  width,
			Height: g.cfg.Height - c.Y,
			Value:  c.Value,
		}
	}
	return bars
}
