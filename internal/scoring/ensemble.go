package scoring

import (
	"fmt"
	"math"

	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// ensemblePrediction runs every component for one candidate. A nil slice of failures means
// the prediction is usable; otherwise the caller keeps the deterministic score.
func (s *Scorer) ensemblePrediction(c types.Candidate, deterministic float64) (float64, []ComponentResult) {
	a := s.artifacts
	if a == nil {
		return 0, []ComponentResult{Unavailable(ComponentEnsemble, "no trained artifacts loaded")}
	}

	lookahead := a.Lookahead
	if lookahead <= 0 {
		lookahead = s.opts.Lookahead
	}
	raw := FeatureVector(c, lookahead)
	if !finiteVector(raw) {
		return 0, []ComponentResult{Unavailable(ComponentEnsemble, "non-finite feature values")}
	}
	x := a.Scaler.Transform(raw)

	regressors := a.Regressors()
	results := make([]ComponentResult, 0, len(regressors))
	for _, r := range regressors {
		results = append(results, evaluate(r, x))
	}
	base, missing, ok := Merge(results, a.Weights)

	markov := s.markovComponent(c)
	if !markov.Available {
		missing = append(missing, markov)
	}
	if !ok || len(missing) > 0 {
		return 0, missing
	}

	prediction := base + s.opts.MarkovBlend*(markov.Value-c.Form)
	prediction *= AgeFactor(c) * AvailabilityFactor(c)

	ceiling := s.opts.SanityRatio * math.Max(deterministic, 1)
	if math.IsNaN(prediction) || prediction < 0 || prediction > ceiling {
		return 0, []ComponentResult{Unavailable(ComponentEnsemble,
			fmt.Sprintf("prediction %.2f outside sanity range [0, %.2f]", prediction, ceiling))}
	}
	return prediction, nil
}

func (s *Scorer) markovComponent(c types.Candidate) ComponentResult {
	if s.artifacts.Markov == nil {
		return Unavailable(ComponentMarkov, "no transition matrix")
	}
	if !c.HasPlayingTime() {
		return Unavailable(ComponentMarkov, "no form history")
	}
	return Available(ComponentMarkov, s.artifacts.Markov.Expected(c.Form))
}
