package engine

import (
	"bytes"
	"sort"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Index label names
const (
	LabelEntity  = "entity"
	LabelAxis    = "axis"
	LabelVisible = "visible"
	LabelLegend  = "legend"
)

// Index is an inverted label index over the configured entities
type Index struct {
	// Inverted index: label name -> label value -> entity positions
	labels map[string]map[string][]int
	count  int
}

// NewIndex indexes the entities of cfg
func NewIndex(entities []EntityConfig) *Index {
	idx := &Index{
		labels: make(map[string]map[string][]int),
		count:  len(entities),
	}

	for i, ent := range entities {
		idx.add(i, LabelEntity, ent.Entity)
		idx.add(i, LabelAxis, ent.Axis())
		idx.add(i, LabelVisible, strconv.FormatBool(ent.Visible()))
		idx.add(i, LabelLegend, strconv.FormatBool(ent.Visible() && ent.InLegend()))
	}

	return idx
}

func (idx *Index) add(pos int, name, value string) {
	if idx.labels[name] == nil {
		idx.labels[name] = make(map[string][]int)
	}
	idx.labels[name][value] = append(idx.labels[name][value], pos)
}

// Find returns the positions matching every selector in ascending order
func (idx *Index) Find(selectors map[string]string) []int {
	if len(selectors) == 0 {
		result := make([]int, idx.count)
		for i := range result {
			result[i] = i
		}
		return result
	}

	var result []int
	first := true

	for name, value := range selectors {
		positions, ok := idx.labels[name][value]
		if !ok {
			return nil
		}

		if first {
			result = append([]int(nil), positions...)
			first = false
		} else {
			result = intersect(result, positions)
		}

		if len(result) == 0 {
			return nil
		}
	}

	sort.Ints(result)
	return result
}

// Positions returns every position of entityID
func (idx *Index) Positions(entityID string) []int {
	return idx.labels[LabelEntity][entityID]
}

// Visible returns the drawn entities, optionally limited to one axis
func (idx *Index) Visible(axis string) []int {
	sel := map[string]string{LabelVisible: "true"}
	if axis != "" {
		sel[LabelAxis] = axis
	}
	return idx.Find(sel)
}

// Legends returns the entities that get a legend entry
func (idx *Index) Legends() []int {
	return idx.Find(map[string]string{LabelLegend: "true"})
}

// Len returns the number of indexed entities
func (idx *Index) Len() int {
	return idx.count
}

// intersect finds common elements in two slices
func intersect(a, b []int) []int {
	sort.Ints(a)
	sort.Ints(b)

	result := make([]int, 0)
	i, j := 0, 0

	for i < len(a) && j < len(b) {
		if a[i] < b[j] {
			i++
		} else if a[i] > b[j] {
			j++
		} else {
			result = append(result, a[i])
			i++
			j++
		}
	}

	return result
}

// Fingerprint hashes everything that shapes the graphs: the entity list and
// the window, bucketing and geometry settings. Colors, labels and other
// presentation settings are excluded since they never require new history.
func Fingerprint(cfg *Config) uint64 {
	buf := new(bytes.Buffer)
	field := func(s string) {
		buf.WriteString(s)
		buf.WriteByte(0) // Separator
	}
	num := func(f float64) {
		field(strconv.FormatFloat(f, 'g', -1, 64))
	}

	num(cfg.HoursToShow)
	num(cfg.PointsPerHour)
	num(cfg.Height)
	num(cfg.LineWidth)
	field(cfg.AggregateFunc)
	field(cfg.GroupBy)
	field(string(cfg.Show.Fill))
	field(cfg.StateMap.Axis)
	for _, m := range cfg.StateMap.Map {
		field(m.Value)
	}

	for i, ent := range cfg.Entities {
		gc := cfg.GraphConfig(i)
		field(ent.Entity)
		field(string(gc.Aggregate))
		field(strconv.FormatBool(gc.Smoothing))
		field(strconv.FormatBool(ent.FixedValue))
		field(ent.Axis())
		field(strconv.FormatBool(ent.Visible()))
	}

	return xxhash.Sum64(buf.Bytes())
}
