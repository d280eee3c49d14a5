package scoring

import (
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// FactorContext carries the run-level settings factor extractors may need.
type FactorContext struct {
	Lookahead    int
	StrongGroups map[string]bool
}

// Factor is one row of the deterministic pipeline.
type Factor struct {
	Name      string
	Extract   func(c types.Candidate, fc FactorContext) float64
	Normalize Normalizer
	// StatDerived factors contribute zero for candidates without playing time.
	StatDerived bool
}

// DefaultFactors returns the deterministic factor table in evaluation order.
func DefaultFactors() []Factor {
	return []Factor{
		{
			Name: FactorFixtureEase,
			Extract: func(c types.Candidate, fc FactorContext) float64 {
				return FixtureEase(c, fc.Lookahead)
			},
			Normalize: PoolMinMax,
		},
		{
			Name:        FactorShortForm,
			Extract:     func(c types.Candidate, _ FactorContext) float64 { return c.Form },
			Normalize:   PoolMinMax,
			StatDerived: true,
		},
		{
			Name:        FactorSeason,
			Extract:     func(c types.Candidate, _ FactorContext) float64 { return c.SeasonPoints },
			Normalize:   CategoryMinMax,
			StatDerived: true,
		},
		{
			Name:        FactorCostEfficiency,
			Extract:     costEfficiency,
			Normalize:   CategoryMinMax,
			StatDerived: true,
		},
		{
			Name:        FactorConsistency,
			Extract:     func(c types.Candidate, _ FactorContext) float64 { return c.PointsPerGame },
			Normalize:   PoolMinMax,
			StatDerived: true,
		},
		{
			Name:        FactorExtendedForm,
			Extract:     func(c types.Candidate, _ FactorContext) float64 { return c.FormExtended },
			Normalize:   PoolMinMax,
			StatDerived: true,
		},
		{
			Name: FactorStrongGroup,
			Extract: func(c types.Candidate, fc FactorContext) float64 {
				if fc.StrongGroups[c.Group] {
					return 1
				}
				return 0
			},
			Normalize: PoolMinMax,
		},
	}
}

func costEfficiency(c types.Candidate, _ FactorContext) float64 {
	if !c.Cost.IsPositive() {
		return 0
	}
	return c.SeasonPoints / c.Cost.InexactFloat64()
}

// factorMatrix evaluates every factor for every candidate and returns the normalized
// values indexed [factor][candidate].
func factorMatrix(factors []Factor, candidates []types.Candidate, fc FactorContext) [][]float64 {
	// A pool with no playing-time data at all is treated as unknown rather than idle.
	trackPlayingTime := false
	for _, c := range candidates {
		if c.HasPlayingTime() {
			trackPlayingTime = true
			break
		}
	}

	matrix := make([][]float64, len(factors))
	raw := make([]float64, len(candidates))
	for fi, f := range factors {
		for ci, c := range candidates {
			raw[ci] = f.Extract(c, fc)
		}
		norm := normalize(raw, candidates, f.Normalize)
		if f.StatDerived && trackPlayingTime {
			for ci, c := range candidates {
				if !c.HasPlayingTime() {
					norm[ci] = 0
				}
			}
		}
		matrix[fi] = norm
	}
	return matrix
}

// deterministicScores computes EV = sum(w_f / sum(w) * normalized_f) for every candidate.
func deterministicScores(factors []Factor, candidates []types.Candidate, weights Weights, fc FactorContext) []float64 {
	matrix := factorMatrix(factors, candidates, fc)
	norm := weights.Normalized()

	scores := make([]float64, len(candidates))
	for fi, f := range factors {
		w := norm[f.Name]
		if w == 0 {
			continue
		}
		for ci := range candidates {
			scores[ci] += w * matrix[fi][ci]
		}
	}
	return scores
}
