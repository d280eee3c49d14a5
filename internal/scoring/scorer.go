package scoring

import (
	"context"

	"github.com/sirupsen/logrus"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// Options are the run-independent scoring settings.
type Options struct {
	Lookahead    int
	StrongGroups []string
	// SanityRatio bounds an ensemble prediction at ratio * max(deterministic, 1).
	SanityRatio float64
	// MarkovBlend is the share of the Markov delta added to the regressor average.
	MarkovBlend float64
}

// DefaultOptions returns the stock scoring options.
func DefaultOptions() Options {
	return Options{
		Lookahead:   DefaultLookahead,
		SanityRatio: 3.0,
		MarkovBlend: 0.3,
	}
}

// Result is the scored pool plus any per-candidate degradations.
type Result struct {
	Candidates []types.Candidate
	Warnings   []types.ScoringWarning
	Fallbacks  int
}

// Scorer computes expected values. It holds no per-run state and is safe for concurrent use.
type Scorer struct {
	factors   []Factor
	opts      Options
	artifacts *Artifacts
	strong    map[string]bool
	logger    *logrus.Entry
}

// NewScorer builds a scorer over the default factor table. artifacts may be nil, in
// which case ensemble mode degrades every candidate to the deterministic score.
func NewScorer(opts Options, artifacts *Artifacts, log *logrus.Entry) *Scorer {
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}
	if opts.SanityRatio <= 0 {
		opts.SanityRatio = 3.0
	}
	if log == nil {
		log = logger.Discard()
	}
	strong := make(map[string]bool, len(opts.StrongGroups))
	for _, g := range opts.StrongGroups {
		strong[g] = true
	}
	return &Scorer{
		factors:   DefaultFactors(),
		opts:      opts,
		artifacts: artifacts,
		strong:    strong,
		logger:    log.WithField("component", "scoring"),
	}
}

// Factors exposes the factor table so callers can validate weight profiles.
func (s *Scorer) Factors() []Factor {
	return s.factors
}

// HasArtifacts reports whether ensemble mode can produce anything but fallbacks.
func (s *Scorer) HasArtifacts() bool {
	return s.artifacts != nil
}

// Score returns a scored copy of candidates. The input slice is not modified, and the same
// inputs always produce the same scores.
func (s *Scorer) Score(ctx context.Context, candidates []types.Candidate, weights Weights, mode types.ScoringMode) (*Result, error) {
	if len(candidates) == 0 {
		return nil, apperrors.NewInputValidation("candidates", "pool is empty")
	}
	if !mode.Valid() {
		return nil, apperrors.NewInputValidation("mode", "unknown scoring mode %q", mode)
	}
	if len(weights) == 0 {
		weights = DefaultWeights()
	}
	if err := weights.Validate(s.factors); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fc := FactorContext{Lookahead: s.opts.Lookahead, StrongGroups: s.strong}
	det := deterministicScores(s.factors, candidates, weights, fc)

	res := &Result{Candidates: make([]types.Candidate, len(candidates))}
	for i, c := range candidates {
		c.Fixtures = append([]types.FixtureDifficulty(nil), c.Fixtures...)
		c.ExpectedValue = det[i]
		c.ScoringMode = types.ScoringDeterministic

		if mode == types.ScoringEnsemble {
			prediction, failures := s.ensemblePrediction(c, det[i])
			if len(failures) == 0 {
				c.ExpectedValue = prediction
				c.ScoringMode = types.ScoringEnsemble
			} else {
				res.Fallbacks++
				for _, f := range failures {
					res.Warnings = append(res.Warnings, types.ScoringWarning{
						CandidateID: c.ID,
						Component:   f.Component,
						Reason:      f.Reason,
					})
				}
			}
		}
		res.Candidates[i] = c
	}

	s.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"mode":       mode,
		"fallbacks":  res.Fallbacks,
	}).Debug("Scored candidate pool")

	return res, nil
}
