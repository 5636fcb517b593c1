package confidence

import (
	"fmt"
	"sort"
)

// Method selects how several confidences are combined.
type Method string

const (
	MethodWeightedAverage Method = "weighted_average"
	MethodMin             Method = "min"
	MethodMax             Method = "max"
	MethodMedian          Method = "median"
)

// AggregateConfidences combines values with the given method. weights is only
// used by weighted_average; nil or mismatched weights mean equal weighting.
// An empty input yields 0.
func AggregateConfidences(values []float64, method Method, weights []float64) (float64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	clean := make([]float64, len(values))
	for i, v := range values {
		clean[i] = Clamp(v)
	}
	switch method {
	case MethodWeightedAverage, "":
		if len(weights) != len(clean) {
			weights = nil
		}
		sum, total := 0.0, 0.0
		for i, v := range clean {
			w := 1.0
			if weights != nil {
				w = weights[i]
				if w < 0 {
					w = 0
				}
			}
			sum += v * w
			total += w
		}
		if total == 0 {
			return 0, nil
		}
		return sum / total, nil
	case MethodMin:
		m := clean[0]
		for _, v := range clean[1:] {
			if v < m {
				m = v
			}
		}
		return m, nil
	case MethodMax:
		m := clean[0]
		for _, v := range clean[1:] {
			if v > m {
				m = v
			}
		}
		return m, nil
	case MethodMedian:
		sort.Float64s(clean)
		mid := len(clean) / 2
		if len(clean)%2 == 1 {
			return clean[mid], nil
		}
		return (clean[mid-1] + clean[mid]) / 2, nil
	default:
		return 0, fmt.Errorf("unknown aggregation method %q", method)
	}
}
