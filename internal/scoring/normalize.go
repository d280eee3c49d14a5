package scoring

import (
	"math"

	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// ScaleMax is the top of the common range every factor is mapped onto.
const ScaleMax = 10.0

// Normalizer selects the population a factor is min-max scaled against.
type Normalizer int

const (
	// PoolMinMax scales against the whole candidate pool.
	PoolMinMax Normalizer = iota
	// CategoryMinMax scales against candidates of the same category.
	CategoryMinMax
)

func (n Normalizer) String() string {
	if n == CategoryMinMax {
		return "category"
	}
	return "pool"
}

// normalize maps raw onto [0, ScaleMax]. A population with no spread maps positive
// values to ScaleMax and everything else to zero.
func normalize(raw []float64, candidates []types.Candidate, n Normalizer) []float64 {
	out := make([]float64, len(raw))
	if len(raw) == 0 {
		return out
	}

	if n == PoolMinMax {
		all := make([]int, len(raw))
		for i := range all {
			all[i] = i
		}
		scaleInto(out, raw, all)
		return out
	}

	byCategory := make(map[types.Category][]int)
	for i, c := range candidates {
		byCategory[c.Category] = append(byCategory[c.Category], i)
	}
	for _, idx := range byCategory {
		scaleInto(out, raw, idx)
	}
	return out
}

func scaleInto(out, raw []float64, idx []int) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, i := range idx {
		v := finite(raw[i])
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	spread := hi - lo
	for _, i := range idx {
		v := finite(raw[i])
		if spread <= 1e-12 {
			if v > 0 {
				out[i] = ScaleMax
			} else {
				out[i] = 0
			}
			continue
		}
		out[i] = clamp((v-lo)/spread*ScaleMax, 0, ScaleMax)
	}
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
