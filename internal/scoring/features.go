package scoring

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// FeatureNames lists the columns of the regressor feature vector in order.
var FeatureNames = []string{
	"season_points",
	"points_per_game",
	"form",
	"form_extended",
	"minutes",
	"ownership",
	"cost",
	"fixture_ease",
	"is_gkp",
	"is_def",
	"is_mid",
	"is_fwd",
}

// FeatureVector extracts the raw (unscaled) regressor inputs for a candidate.
func FeatureVector(c types.Candidate, lookahead int) []float64 {
	v := []float64{
		c.SeasonPoints,
		c.PointsPerGame,
		c.Form,
		c.FormExtended,
		c.Minutes,
		c.Ownership,
		c.Cost.InexactFloat64(),
		FixtureEase(c, lookahead),
		0, 0, 0, 0,
	}
	if idx := c.Category.Index(); idx >= 0 {
		v[8+idx] = 1
	}
	return v
}

// Scaler standardizes features to zero mean and unit variance.
type Scaler struct {
	Mean []float64 `json:"mean"`
	Std  []float64 `json:"std"`
}

// FitScaler learns per-column mean and standard deviation.
func FitScaler(rows [][]float64) Scaler {
	if len(rows) == 0 {
		return Scaler{}
	}
	d := len(rows[0])
	s := Scaler{Mean: make([]float64, d), Std: make([]float64, d)}
	col := make([]float64, len(rows))
	for j := 0; j < d; j++ {
		for i, r := range rows {
			col[i] = r[j]
		}
		mean, std := stat.MeanStdDev(col, nil)
		if math.IsNaN(std) || std < 1e-9 {
			std = 1
		}
		s.Mean[j], s.Std[j] = mean, std
	}
	return s
}

// Transform returns a standardized copy of x.
func (s Scaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for j, v := range x {
		if j >= len(s.Mean) {
			out[j] = v
			continue
		}
		out[j] = (v - s.Mean[j]) / s.Std[j]
	}
	return out
}

// TransformAll standardizes every row.
func (s Scaler) TransformAll(rows [][]float64) [][]float64 {
	out := make([][]float64, len(rows))
	for i, r := range rows {
		out[i] = s.Transform(r)
	}
	return out
}

func finiteVector(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
