package graph

import (
	"fmt"
	"sort"
)

// AggregateFunc names the policy used to collapse a bucket into one value
type AggregateFunc string

// Supported aggregate functions
const (
	AggregateAvg    AggregateFunc = "avg"
	AggregateMin    AggregateFunc = "min"
	AggregateMax    AggregateFunc = "max"
	AggregateFirst  AggregateFunc = "first"
	AggregateLast   AggregateFunc = "last"
	AggregateMedian AggregateFunc = "median"
	AggregateSum    AggregateFunc = "sum"
	AggregateDelta  AggregateFunc = "delta"
)

// ParseAggregateFunc validates an aggregate function name. Empty means avg.
func ParseAggregateFunc(s string) (AggregateFunc, error) {
	switch f := AggregateFunc(s); f {
	case "":
		return AggregateAvg, nil
	case AggregateAvg, AggregateMin, AggregateMax, AggregateFirst,
		AggregateLast, AggregateMedian, AggregateSum, AggregateDelta:
		return f, nil
	default:
		return "", fmt.Errorf("unknown aggregate function %q", s)
	}
}

// countsCarry reports whether the sample in effect at the bucket start is a
// member of the bucket. Sums count observations, so the carried state is not
// part of them.
func (f AggregateFunc) countsCarry() bool {
	return f != AggregateSum
}

// apply aggregates values, which are ordered by time and never empty
func (f AggregateFunc) apply(values []float64) float64 {
	switch f {
	case AggregateMin:
		m := values[0]
		for _, v := range values[1:] {
			if v < m {
				m = v
			}
		}
		return m
	case AggregateMax:
		m := values[0]
		for _, v := range values[1:] {
			if v > m {
				m = v
			}
		}
		return m
	case AggregateFirst:
		return values[0]
	case AggregateLast:
		return values[len(values)-1]
	case AggregateMedian:
		sorted := append([]float64(nil), values...)
		sort.Float64s(sorted)
		mid := len(sorted) / 2
		if len(sorted)%2 == 0 {
			return (sorted[mid-1] + sorted[mid]) / 2
		}
		return sorted[mid]
	case AggregateSum:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum
	case AggregateDelta:
		return values[len(values)-1] - values[0]
	default:
		var sum float64
		for _, v := range values {
			sum += v
		}
		return sum / float64(len(values))
	}
}
