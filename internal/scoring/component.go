package scoring

import (
	"fmt"
	"math"
	"sort"
)

// ComponentResult is the outcome of one ensemble component for one candidate.
// Exactly one of Value or Reason is meaningful, selected by Available.
type ComponentResult struct {
	Component string
	Available bool
	Value     float64
	Reason    string
}

// Available tags a usable component prediction.
func Available(component string, value float64) ComponentResult {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Unavailable(component, fmt.Sprintf("non-finite prediction %v", value))
	}
	return ComponentResult{Component: component, Available: true, Value: value}
}

// Unavailable tags a component that could not produce a prediction.
func Unavailable(component, reason string) ComponentResult {
	return ComponentResult{Component: component, Reason: reason}
}

// Merge combines component predictions with the given weights. It reports false with the
// unavailable components when any component is missing, so the caller can fall back.
// With no weights every component counts equally. Otherwise a component absent from
// weights, or weighted below zero, counts zero. The result is divided by the total weight used.
func Merge(results []ComponentResult, weights map[string]float64) (float64, []ComponentResult, bool) {
	var missing []ComponentResult
	for _, r := range results {
		if !r.Available {
			missing = append(missing, r)
		}
	}
	if len(results) == 0 {
		return 0, []ComponentResult{Unavailable("ensemble", "no components")}, false
	}
	if len(missing) > 0 {
		sort.SliceStable(missing, func(i, j int) bool { return missing[i].Component < missing[j].Component })
		return 0, missing, false
	}

	total, value := 0.0, 0.0
	for _, r := range results {
		w := 1.0
		if len(weights) > 0 {
			w = math.Max(weights[r.Component], 0)
		}
		total += w
		value += w * r.Value
	}
	if total <= 0 {
		return 0, []ComponentResult{Unavailable("ensemble", "component weights sum to zero")}, false
	}
	return value / total, nil, true
}
