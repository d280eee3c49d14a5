package scoring

import (
	"math"

	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

type ageCurve struct {
	peakStart, peakEnd float64
}

var ageCurves = map[types.Category]ageCurve{
	types.CategoryGoalkeeper: {peakStart: 27, peakEnd: 33},
	types.CategoryDefender:   {peakStart: 25, peakEnd: 30},
	types.CategoryMidfielder: {peakStart: 24, peakEnd: 29},
	types.CategoryForward:    {peakStart: 24, peakEnd: 29},
}

// AgeFactor scales an ensemble prediction by where the candidate sits on the positional
// age curve. Unknown ages leave the prediction unchanged.
func AgeFactor(c types.Candidate) float64 {
	curve, ok := ageCurves[c.Category]
	if !ok || c.Age <= 0 {
		return 1
	}
	switch {
	case c.Age < curve.peakStart:
		return math.Max(0.85, 1-0.02*(curve.peakStart-c.Age))
	case c.Age > curve.peakEnd:
		return math.Max(0.8, 1-0.03*(c.Age-curve.peakEnd))
	}
	return 1
}

// AvailabilityFactor discounts candidates who play a small share of the available minutes.
func AvailabilityFactor(c types.Candidate) float64 {
	if c.Appearances <= 0 {
		return 1
	}
	share := c.Minutes / (c.Appearances * 90)
	switch {
	case share < 0.3:
		return 0.6
	case share < 0.6:
		return 0.8
	}
	return 1
}
