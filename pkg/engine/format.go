package engine

import (
	"math"
	"strconv"
	"time"

	"github.com/vjranagit/minigraph/pkg/types"
)

// FormatState renders a state for display on axis. States on a category
// axis show their label; everything else is rounded to the configured
// decimals, or to two decimals by default.
func (e *Engine) FormatState(state string, axis string) string {
	cfg := e.config()
	return formatState(cfg, e.logger, state, axis)
}

func formatState(cfg *Config, logger Logger, state string, axis string) string {
	if cfg.IsStateAxis(axis) {
		if label, ok := lookupLabel(cfg.StateMap.Map, state); ok {
			return label
		}
		logger.Debug("value not found in state map", "value", state)
	}

	v, ok := types.ParseState(state)
	if !ok {
		return state
	}
	return formatNumber(v, cfg.Decimals)
}

// lookupLabel matches an integral category index first, then a raw value
func lookupLabel(m []StateMapEntry, state string) (string, bool) {
	if i, err := strconv.Atoi(state); err == nil && i >= 0 && i < len(m) {
		return m[i].Label, true
	}
	for _, entry := range m {
		if entry.Value == state {
			return entry.Label, true
		}
	}
	return "", false
}

func formatNumber(v float64, decimals *int) string {
	if decimals == nil {
		return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64)
	}
	x := math.Pow(10, float64(*decimals))
	return strconv.FormatFloat(math.Round(v*x)/x, 'f', *decimals, 64)
}

// formatValue renders a bucket value
func formatValue(cfg *Config, logger Logger, v float64, axis string) string {
	return formatState(cfg, logger, strconv.FormatFloat(v, 'f', -1, 64), axis)
}

// convertState replaces a mapped state by its category index
func convertState(m []StateMapEntry, state string) string {
	for i, entry := range m {
		if entry.Value == state {
			return strconv.Itoa(i)
		}
	}
	return state
}

// formatClock renders a time of day in 24h or 12h form
func formatClock(t time.Time, hour24 bool) string {
	if hour24 {
		return t.Format("15:04")
	}
	return t.Format("3:04 PM")
}

// extrema returns the lowest and highest numeric samples of history and the
// mean of all numeric states
func extrema(history []types.Sample) (lo, hi types.Sample, mean float64, ok bool) {
	var loV, hiV, sum float64
	n := 0
	for _, s := range history {
		v, valid := s.Value()
		if !valid {
			continue
		}
		if n == 0 || v < loV {
			lo, loV = s, v
		}
		if n == 0 || v > hiV {
			hi, hiV = s, v
		}
		sum += v
		n++
	}
	if n == 0 {
		return lo, hi, 0, false
	}
	return lo, hi, sum / float64(n), true
}
