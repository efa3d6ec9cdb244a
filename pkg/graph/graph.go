// Package graph turns raw entity history into bucketed, drawable series
package graph

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vjranagit/minigraph/pkg/color"
	"github.com/vjranagit/minigraph/pkg/types"
)

// Width is the fixed horizontal extent of the drawing area
const Width = 500

// GroupBy anchors the end of the window
type GroupBy string

// Supported window anchors
const (
	GroupByInterval GroupBy = "interval"
	GroupByHour     GroupBy = "hour"
	GroupByDate     GroupBy = "date"
)

// ParseGroupBy validates a group_by value. Empty means interval.
func ParseGroupBy(s string) (GroupBy, error) {
	switch g := GroupBy(s); g {
	case "":
		return GroupByInterval, nil
	case GroupByInterval, GroupByHour, GroupByDate:
		return g, nil
	default:
		return "", fmt.Errorf("unknown group_by %q", s)
	}
}

// EndTime returns the window end for now: now itself, the next top of the
// hour or the next local midnight
func EndTime(now time.Time, groupBy GroupBy) time.Time {
	switch groupBy {
	case GroupByHour:
		return time.Date(now.Year(), now.Month(), now.Day(), now.Hour()+1, 0, 0, 0, now.Location())
	case GroupByDate:
		return time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, now.Location())
	default:
		return now
	}
}

// Config shapes one entity's graph
type Config struct {
	HoursToShow   float64
	PointsPerHour float64
	Aggregate     AggregateFunc
	Smoothing     bool
	Height        float64
	LineWidth     float64
	// Fill removes the horizontal margin so areas reach the card edges
	Fill bool
}

// Bucket is one fixed-width time slice covering (Start, End]
type Bucket struct {
	Start   time.Time
	End     time.Time
	Value   float64
	Samples int
}

// point is a numeric sample
type point struct {
	ts    time.Time
	value float64
}

// Graph buckets the history of one entity and produces its geometry
type Graph struct {
	cfg     Config
	history []point
	buckets []Bucket
	coords  []types.Point

	// min and max are the local extrema, scaleMin and scaleMax the range
	// used for vertical placement
	min      float64
	max      float64
	scaleMin float64
	scaleMax float64

	marginX float64
	marginY float64
	// width and height are the inner drawing extents
	width  float64
	height float64
}

// New creates a graph for cfg
func New(cfg Config) *Graph {
	if cfg.Aggregate == "" {
		cfg.Aggregate = AggregateAvg
	}
	if cfg.Height <= 0 {
		cfg.Height = 100
	}

	marginX := cfg.LineWidth
	if cfg.Fill {
		marginX = 0
	}
	marginY := cfg.LineWidth

	return &Graph{
		cfg:     cfg,
		marginX: marginX,
		marginY: marginY,
		width:   Width - 2*marginX,
		height:  cfg.Height - 4*marginY,
	}
}

// Config returns the graph configuration
func (g *Graph) Config() Config {
	return g.cfg
}

// BucketCount returns N = max(1, round(pointsPerHour * hoursToShow))
func (g *Graph) BucketCount() int {
	n := int(math.Round(g.cfg.PointsPerHour * g.cfg.HoursToShow))
	if n < 1 {
		return 1
	}
	return n
}

// Window returns the covered duration
func (g *Graph) Window() time.Duration {
	return time.Duration(g.cfg.HoursToShow * float64(time.Hour))
}

// SetHistory replaces the raw history. Samples whose state is not a finite
// number are dropped; the rest are kept in time order.
func (g *Graph) SetHistory(samples []types.Sample) {
	history := make([]point, 0, len(samples))
	for _, s := range samples {
		v, ok := s.Value()
		if !ok {
			continue
		}
		history = append(history, point{ts: s.Timestamp, value: v})
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].ts.Before(history[j].ts)
	})
	g.history = history
}

// HistoryLen returns the number of numeric samples held
func (g *Graph) HistoryLen() int {
	return len(g.history)
}

// Clear drops history and geometry
func (g *Graph) Clear() {
	g.history = nil
	g.buckets = nil
	g.coords = nil
	g.min, g.max = 0, 0
	g.scaleMin, g.scaleMax = 0, 0
}

// Update re-buckets the history for the window ending at end
func (g *Graph) Update(end time.Time) {
	g.buckets = nil
	g.coords = nil
	g.min, g.max = 0, 0
	g.scaleMin, g.scaleMax = 0, 0
	if len(g.history) == 0 {
		return
	}

	n := g.BucketCount()
	start := end.Add(-g.Window())
	buckets := partition(start, end, n)

	values := make([]float64, n)
	has := make([]bool, n)

	// cursor walks the history once; carry is the latest sample at or
	// before the current bucket start
	cursor := 0
	carry := -1
	for cursor < len(g.history) && !g.history[cursor].ts.After(start) {
		carry = cursor
		cursor++
	}

	members := make([]float64, 0, 8)
	for i := range buckets {
		members = members[:0]
		if carry >= 0 && g.cfg.Aggregate.countsCarry() {
			members = append(members, g.history[carry].value)
		}

		inside := 0
		for cursor < len(g.history) && !g.history[cursor].ts.After(buckets[i].End) {
			members = append(members, g.history[cursor].value)
			carry = cursor
			cursor++
			inside++
		}
		buckets[i].Samples = inside

		switch {
		case inside > 0:
			values[i], has[i] = g.cfg.Aggregate.apply(members), true
		case i == 0 && len(members) > 0:
			// the state in effect before the window opens the series
			values[i], has[i] = g.cfg.Aggregate.apply(members), true
		}
	}

	fillGaps(values, has)
	if !anyTrue(has) {
		return
	}

	for i := range buckets {
		buckets[i].Value = values[i]
	}
	g.buckets = buckets
	g.coords = g.calcPoints(values)

	g.min, g.max = values[0], values[0]
	for _, v := range values[1:] {
		g.min = math.Min(g.min, v)
		g.max = math.Max(g.max, v)
	}
	g.scaleMin, g.scaleMax = g.min, g.max
}

// partition splits [start, end] into n buckets by integer nanosecond division
func partition(start, end time.Time, n int) []Bucket {
	window := end.Sub(start).Nanoseconds()
	q, r := window/int64(n), window%int64(n)

	offset := func(i int) time.Duration {
		return time.Duration(q*int64(i) + r*int64(i)/int64(n))
	}

	buckets := make([]Bucket, n)
	for i := 0; i < n; i++ {
		buckets[i].Start = start.Add(offset(i))
		buckets[i].End = start.Add(offset(i + 1))
	}
	buckets[n-1].End = end
	return buckets
}

// fillGaps carries the previous value into empty buckets. Leading empty
// buckets take the first value; non-finite values degrade the same way.
func fillGaps(values []float64, has []bool) {
	for i, v := range values {
		if has[i] && (math.IsNaN(v) || math.IsInf(v, 0)) {
			has[i] = false
		}
	}

	first := -1
	for i := range has {
		if has[i] {
			first = i
			break
		}
	}
	if first == -1 {
		return
	}

	for i := 0; i < first; i++ {
		values[i] = values[first]
	}
	for i := first + 1; i < len(values); i++ {
		if !has[i] {
			values[i] = values[i-1]
		}
	}
}

func anyTrue(b []bool) bool {
	for _, v := range b {
		if v {
			return true
		}
	}
	return false
}

// calcPoints spreads bucket values evenly across the width
func (g *Graph) calcPoints(values []float64) []types.Point {
	xRatio := g.width
	if len(values) > 1 {
		xRatio = g.width / float64(len(values)-1)
	}

	coords := make([]types.Point, len(values))
	for i, v := range values {
		coords[i] = types.Point{
			X:      g.marginX + float64(i)*xRatio,
			Value:  v,
			Bucket: i,
		}
	}
	return coords
}

// Buckets returns the last computed buckets
func (g *Graph) Buckets() []Bucket {
	return g.buckets
}

// Coords returns the last computed coordinates without vertical placement
func (g *Graph) Coords() []types.Point {
	return g.coords
}

// HasData reports whether the graph has coordinates to draw
func (g *Graph) HasData() bool {
	return len(g.coords) > 0
}

// Min returns the lowest bucket value
func (g *Graph) Min() float64 { return g.min }

// Max returns the highest bucket value
func (g *Graph) Max() float64 { return g.max }

// Scale returns the range used for vertical placement
func (g *Graph) Scale() types.Bound {
	return types.Bound{g.scaleMin, g.scaleMax}
}

// SetBounds overrides the scale used for vertical placement
func (g *Graph) SetBounds(bound types.Bound) {
	g.scaleMin, g.scaleMax = bound[0], bound[1]
}

// ComputeGradient returns threshold stops positioned on the current scale
func (g *Graph) ComputeGradient(thresholds []types.ColorThreshold) []types.GradientStop {
	return color.Gradient(thresholds, g.scaleMin, g.scaleMax)
}

// calcY places coordinates vertically on the current scale
func (g *Graph) calcY(coords []types.Point) []types.Point {
	yRatio := (g.scaleMax - g.scaleMin) / g.height
	if yRatio == 0 || math.IsNaN(yRatio) || math.IsInf(yRatio, 0) {
		yRatio = 1
	}

	placed := make([]types.Point, len(coords))
	for i, c := range coords {
		c.Y = g.height - (c.Value-g.scaleMin)/yRatio + g.marginY*2
		placed[i] = c
	}
	return placed
}
