package types

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Sample represents a single raw observation of an entity
type Sample struct {
	Timestamp time.Time `json:"last_changed"`
	State     string    `json:"state"`
}

// Value parses the sample state as a finite number
func (s Sample) Value() (float64, bool) {
	return ParseState(s.State)
}

// ParseState parses a raw state string, accepting a comma as decimal separator
func ParseState(state string) (float64, bool) {
	state = strings.TrimSpace(state)
	if state == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(state, ",", "."), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// CacheRecord is the persisted history of one entity
type CacheRecord struct {
	HoursToShow float64   `json:"hours_to_show"`
	LastFetched time.Time `json:"last_fetched"`
	Data        []Sample  `json:"data"`
}

// EntityState is the live upstream state of a tracked entity
type EntityState struct {
	EntityID    string            `json:"entity_id"`
	State       string            `json:"state"`
	LastChanged time.Time         `json:"last_changed"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Equal reports whether two states describe the same observation
func (s EntityState) Equal(o EntityState) bool {
	return s.EntityID == o.EntityID && s.State == o.State && s.LastChanged.Equal(o.LastChanged)
}

// ColorThreshold maps a value breakpoint to a color
type ColorThreshold struct {
	Value float64 `json:"value" yaml:"value"`
	Color string  `json:"color" yaml:"color"`
}

// Bound is an axis [min, max] range
type Bound [2]float64

// Point is a drawable point tagged with its bucket index
type Point struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Value  float64 `json:"value"`
	Bucket int     `json:"bucket"`
	Color  string  `json:"color,omitempty"`
}

// Bar is one bucket rendered as a rectangle
type Bar struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Value  float64 `json:"value"`
	Color  string  `json:"color,omitempty"`
}

// GradientStop is one stop of a gradient definition
type GradientStop struct {
	Color   string  `json:"color"`
	Offset  float64 `json:"offset"`
	Opacity float64 `json:"opacity,omitempty"`
}

// Fill is a closed area path with an optional fade mask
type Fill struct {
	Path string         `json:"path"`
	Fade bool           `json:"fade,omitempty"`
	Mask []GradientStop `json:"mask,omitempty"`
}

// Tooltip describes the hovered bucket
type Tooltip struct {
	Entity int       `json:"entity"`
	Bucket int       `json:"bucket"`
	Value  string    `json:"value"`
	Time   [2]string `json:"time"`
	Label  string    `json:"label,omitempty"`
	Color  string    `json:"color,omitempty"`
}

// Extremum is one min/avg/max info entry
type Extremum struct {
	Type        string    `json:"type"`
	State       string    `json:"state"`
	LastChanged time.Time `json:"last_changed,omitempty"`
}

// LegendItem is one visible legend entry
type LegendItem struct {
	Entity int    `json:"entity"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

// EntityFrame holds the render output of one entity
type EntityFrame struct {
	Index      int            `json:"index"`
	EntityID   string         `json:"entity_id"`
	Name       string         `json:"name"`
	Axis       string         `json:"axis"`
	State      string         `json:"state"`
	Color      string         `json:"color"`
	Line       string         `json:"line,omitempty"`
	Fill       *Fill          `json:"fill,omitempty"`
	Points     []Point        `json:"points,omitempty"`
	Bars       []Bar          `json:"bars,omitempty"`
	GradientID string         `json:"gradient_id,omitempty"`
	Gradient   []GradientStop `json:"gradient,omitempty"`
}

// Frame is everything the rendering layer needs for one update cycle
type Frame struct {
	Generated      time.Time     `json:"generated"`
	Start          time.Time     `json:"start"`
	End            time.Time     `json:"end"`
	Bound          Bound         `json:"bound"`
	BoundSecondary Bound         `json:"bound_secondary"`
	Labels         []string      `json:"labels,omitempty"`
	LabelsSecond   []string      `json:"labels_secondary,omitempty"`
	Color          string        `json:"color,omitempty"`
	Entities       []EntityFrame `json:"entities"`
	Legend         []LegendItem  `json:"legend,omitempty"`
	Extrema        []Extremum    `json:"extrema,omitempty"`
	Tooltip        *Tooltip      `json:"tooltip,omitempty"`
}
