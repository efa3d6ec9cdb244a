package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vjranagit/minigraph/pkg/graph"
	"github.com/vjranagit/minigraph/pkg/types"
)

// Axis names
const (
	AxisPrimary   = "primary"
	AxisSecondary = "secondary"
)

// Graph kinds
const (
	GraphLine = "line"
	GraphBar  = "bar"
	GraphNone = "none"
)

// FillMode controls the area under a line
type FillMode string

// Fill modes. A YAML boolean maps to solid or none.
const (
	FillNone  FillMode = "none"
	FillSolid FillMode = "solid"
	FillFade  FillMode = "fade"
)

// UnmarshalYAML accepts true, false, "fade" and the mode names
func (f *FillMode) UnmarshalYAML(value *yaml.Node) error {
	if value.Tag == "!!bool" {
		var b bool
		if err := value.Decode(&b); err != nil {
			return err
		}
		if b {
			*f = FillSolid
		} else {
			*f = FillNone
		}
		return nil
	}

	switch mode := FillMode(strings.ToLower(value.Value)); mode {
	case FillNone, FillSolid, FillFade:
		*f = mode
		return nil
	default:
		return fmt.Errorf("line %d: unknown fill mode %q", value.Line, value.Value)
	}
}

// DefaultLineColors cycle through entities without their own color
var DefaultLineColors = []string{
	"var(--accent-color)",
	"#3498db",
	"#e74c3c",
	"#9b59b6",
	"#f1c40f",
	"#2ecc71",
	"#1abc9c",
	"#34495e",
	"#e67e22",
	"#7f8c8d",
	"#27ae60",
	"#2980b9",
	"#8e44ad",
}

// EntityConfig configures one tracked entity
type EntityConfig struct {
	Entity        string `yaml:"entity" json:"entity"`
	Name          string `yaml:"name,omitempty" json:"name,omitempty"`
	Color         string `yaml:"color,omitempty" json:"color,omitempty"`
	YAxis         string `yaml:"y_axis,omitempty" json:"y_axis,omitempty"`
	AggregateFunc string `yaml:"aggregate_func,omitempty" json:"aggregate_func,omitempty"`
	FixedValue    bool   `yaml:"fixed_value,omitempty" json:"fixed_value,omitempty"`
	Smoothing     *bool  `yaml:"smoothing,omitempty" json:"smoothing,omitempty"`
	ShowGraph     *bool  `yaml:"show_graph,omitempty" json:"show_graph,omitempty"`
	ShowLine      *bool  `yaml:"show_line,omitempty" json:"show_line,omitempty"`
	ShowFill      *bool  `yaml:"show_fill,omitempty" json:"show_fill,omitempty"`
	ShowPoints    *bool  `yaml:"show_points,omitempty" json:"show_points,omitempty"`
	ShowLegend    *bool  `yaml:"show_legend,omitempty" json:"show_legend,omitempty"`
}

// Axis returns the entity's axis, primary unless secondary is configured
func (e EntityConfig) Axis() string {
	if e.YAxis == AxisSecondary {
		return AxisSecondary
	}
	return AxisPrimary
}

// Visible reports whether the entity is drawn
func (e EntityConfig) Visible() bool { return boolOr(e.ShowGraph, true) }

// InLegend reports whether the entity gets a legend entry
func (e EntityConfig) InLegend() bool { return boolOr(e.ShowLegend, true) }

// StateMapEntry maps a raw state to a category label
type StateMapEntry struct {
	Value string `yaml:"value" json:"value"`
	Label string `yaml:"label" json:"label"`
}

// StateMap turns string states into category indices on one axis
type StateMap struct {
	Axis string          `yaml:"axis,omitempty" json:"axis,omitempty"`
	Map  []StateMapEntry `yaml:"map,omitempty" json:"map,omitempty"`
}

// ShowConfig toggles card elements
type ShowConfig struct {
	Graph           string   `yaml:"graph" json:"graph"`
	Fill            FillMode `yaml:"fill" json:"fill"`
	Points          bool     `yaml:"points" json:"points"`
	Legend          *bool    `yaml:"legend,omitempty" json:"legend,omitempty"`
	Extrema         bool     `yaml:"extrema" json:"extrema"`
	Average         bool     `yaml:"average" json:"average"`
	Labels          bool     `yaml:"labels" json:"labels"`
	LabelsSecondary bool     `yaml:"labels_secondary" json:"labels_secondary"`
}

// Config is the card configuration owned by one engine
type Config struct {
	Name                string                 `yaml:"name,omitempty" json:"name,omitempty"`
	Entities            []EntityConfig         `yaml:"entities" json:"entities"`
	HoursToShow         float64                `yaml:"hours_to_show" json:"hours_to_show"`
	PointsPerHour       float64                `yaml:"points_per_hour" json:"points_per_hour"`
	AggregateFunc       string                 `yaml:"aggregate_func" json:"aggregate_func"`
	GroupBy             string                 `yaml:"group_by" json:"group_by"`
	Smoothing           *bool                  `yaml:"smoothing,omitempty" json:"smoothing,omitempty"`
	UpdateInterval      int                    `yaml:"update_interval,omitempty" json:"update_interval,omitempty"`
	Height              float64                `yaml:"height" json:"height"`
	LineWidth           float64                `yaml:"line_width" json:"line_width"`
	BarSpacing          float64                `yaml:"bar_spacing" json:"bar_spacing"`
	LowerBound          *float64               `yaml:"lower_bound,omitempty" json:"lower_bound,omitempty"`
	UpperBound          *float64               `yaml:"upper_bound,omitempty" json:"upper_bound,omitempty"`
	LowerBoundSecondary *float64               `yaml:"lower_bound_secondary,omitempty" json:"lower_bound_secondary,omitempty"`
	UpperBoundSecondary *float64               `yaml:"upper_bound_secondary,omitempty" json:"upper_bound_secondary,omitempty"`
	ColorThresholds     []types.ColorThreshold `yaml:"color_thresholds,omitempty" json:"color_thresholds,omitempty"`
	LineColor           []string               `yaml:"line_color,omitempty" json:"line_color,omitempty"`
	StateMap            StateMap               `yaml:"state_map,omitempty" json:"state_map,omitempty"`
	Show                ShowConfig             `yaml:"show" json:"show"`
	Cache               *bool                  `yaml:"cache,omitempty" json:"cache,omitempty"`
	Compress            *bool                  `yaml:"compress,omitempty" json:"compress,omitempty"`
	Decimals            *int                   `yaml:"decimals,omitempty" json:"decimals,omitempty"`
	Hour24              bool                   `yaml:"hour24,omitempty" json:"hour24,omitempty"`
}

// DefaultConfig returns a configuration with every default applied
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.HoursToShow <= 0 {
		c.HoursToShow = 24
	}
	if c.PointsPerHour <= 0 {
		c.PointsPerHour = 0.5
	}
	if c.AggregateFunc == "" {
		c.AggregateFunc = string(graph.AggregateAvg)
	}
	if c.GroupBy == "" {
		c.GroupBy = string(graph.GroupByInterval)
	}
	if c.Height <= 0 {
		c.Height = 100
	}
	if c.LineWidth <= 0 {
		c.LineWidth = 5
	}
	if c.BarSpacing <= 0 {
		c.BarSpacing = 4
	}
	if len(c.LineColor) == 0 {
		c.LineColor = append([]string(nil), DefaultLineColors...)
	}
	if c.Show.Graph == "" {
		c.Show.Graph = GraphLine
	}
	if c.Show.Fill == "" {
		c.Show.Fill = FillSolid
	}
	if c.StateMap.Axis == "" {
		c.StateMap.Axis = AxisPrimary
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	var errs []error

	if len(c.Entities) == 0 {
		errs = append(errs, errors.New("at least one entity is required"))
	}
	for i, ent := range c.Entities {
		if strings.TrimSpace(ent.Entity) == "" {
			errs = append(errs, fmt.Errorf("entities[%d]: entity id is required", i))
		}
		if ent.YAxis != "" && ent.YAxis != AxisPrimary && ent.YAxis != AxisSecondary {
			errs = append(errs, fmt.Errorf("entities[%d]: unknown y_axis %q", i, ent.YAxis))
		}
		if ent.AggregateFunc != "" {
			if _, err := graph.ParseAggregateFunc(ent.AggregateFunc); err != nil {
				errs = append(errs, fmt.Errorf("entities[%d]: %w", i, err))
			}
		}
	}
	if _, err := graph.ParseAggregateFunc(c.AggregateFunc); err != nil {
		errs = append(errs, err)
	}
	if _, err := graph.ParseGroupBy(c.GroupBy); err != nil {
		errs = append(errs, err)
	}
	if c.UpdateInterval < 0 {
		errs = append(errs, errors.New("update_interval must not be negative"))
	}
	switch c.Show.Graph {
	case GraphLine, GraphBar, GraphNone:
	default:
		errs = append(errs, fmt.Errorf("unknown show.graph %q", c.Show.Graph))
	}
	if c.Decimals != nil && *c.Decimals < 0 {
		errs = append(errs, errors.New("decimals must not be negative"))
	}

	return errors.Join(errs...)
}

// Resolution is the spacing between buckets, also the periodic refresh interval
func (c *Config) Resolution() time.Duration {
	return time.Duration(float64(time.Hour) / c.PointsPerHour)
}

// Interval is the fixed update interval, zero when updates are state driven
func (c *Config) Interval() time.Duration {
	return time.Duration(c.UpdateInterval) * time.Second
}

// CacheEnabled reports whether history is cached
func (c *Config) CacheEnabled() bool { return boolOr(c.Cache, true) }

// CompressEnabled reports whether cached history is compressed
func (c *Config) CompressEnabled() bool { return boolOr(c.Compress, true) }

// IsStateAxis reports whether the state map is bound to axis
func (c *Config) IsStateAxis(axis string) bool {
	return len(c.StateMap.Map) > 0 && c.StateMap.Axis == axis
}

// GraphConfig derives the graph settings of entity i
func (c *Config) GraphConfig(i int) graph.Config {
	ent := c.Entities[i]

	aggregate := c.AggregateFunc
	if ent.AggregateFunc != "" {
		aggregate = ent.AggregateFunc
	}

	smoothing := boolOr(c.Smoothing, !strings.HasPrefix(ent.Entity, "binary_sensor."))
	if ent.Smoothing != nil {
		smoothing = *ent.Smoothing
	}

	return graph.Config{
		HoursToShow:   c.HoursToShow,
		PointsPerHour: c.PointsPerHour,
		Aggregate:     graph.AggregateFunc(aggregate),
		Smoothing:     smoothing,
		Height:        c.Height,
		LineWidth:     c.LineWidth,
		Fill:          c.Show.Fill != FillNone,
	}
}

func boolOr(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}
