package engine

import (
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/internal/optimizer"
	"github.com/stitts-dev/squad-optimizer/internal/scoring"
	"github.com/stitts-dev/squad-optimizer/pkg/config"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// OptionsFromConfig builds the scorer, solver, lineup and budget settings described by
// cfg. Backing services (cache, store, publisher, progress) are left for the caller.
func OptionsFromConfig(cfg *config.Config, log *logrus.Entry) (Options, error) {
	var opts Options

	weights := scoring.DefaultWeights()
	if cfg.Scoring.WeightsFile != "" {
		fromFile, err := scoring.LoadWeightsFile(cfg.Scoring.WeightsFile)
		if err != nil {
			return opts, err
		}
		weights = weights.Merge(fromFile)
	}
	if len(cfg.Scoring.Weights) > 0 {
		weights = weights.Merge(scoring.Weights(cfg.Scoring.Weights))
	}

	var artifacts *scoring.Artifacts
	if cfg.Scoring.ArtifactsPath != "" {
		a, err := scoring.LoadArtifacts(cfg.Scoring.ArtifactsPath)
		if err != nil {
			if cfg.Scoring.Mode == string(types.ScoringEnsemble) {
				return opts, err
			}
			log.WithError(err).Warn("Ignoring unreadable ensemble artifacts")
		} else {
			artifacts = a
		}
	}

	scorer := scoring.NewScorer(scoring.Options{
		Lookahead:    cfg.Scoring.Lookahead,
		StrongGroups: cfg.Scoring.StrongGroups,
		SanityRatio:  cfg.Scoring.SanityRatio,
		MarkovBlend:  cfg.Scoring.MarkovBlend,
	}, artifacts, log)
	if err := weights.Validate(scorer.Factors()); err != nil {
		return opts, err
	}

	relaxation, ok := optimizer.RelaxationByName(cfg.Solver.Relaxation)
	if !ok {
		return opts, apperrors.NewInputValidation("solver.relaxation", "unknown relaxation %q", cfg.Solver.Relaxation)
	}

	quotas, err := cfg.CategoryQuotas()
	if err != nil {
		return opts, err
	}
	total := 0
	for _, n := range quotas {
		total += n
	}
	if total != optimizer.DefaultSquadSize {
		return opts, apperrors.NewInputValidation("squad.quotas", "quotas sum to %d, want %d", total, optimizer.DefaultSquadSize)
	}

	floors, ceilings, err := cfg.StarterBounds()
	if err != nil {
		return opts, err
	}
	lineup := optimizer.LineupRules{
		Starters:             cfg.Lineup.Starters,
		StarterMin:           floors,
		StarterMax:           ceilings,
		ReserveKeeperLast:    cfg.Lineup.ReserveKeeperLast,
		MaxExpensiveReserves: cfg.Lineup.MaxExpensiveReserves,
		ExpensiveThreshold:   decimal.NewFromFloat(cfg.Lineup.ExpensiveThreshold),
	}
	if err := lineup.Validate(); err != nil {
		return opts, err
	}

	return Options{
		Scorer: scorer,
		Solver: optimizer.SolverOptions{
			MaxNodes:   cfg.Solver.MaxNodes,
			TimeLimit:  cfg.Solver.TimeLimit,
			Relaxation: relaxation,
		},
		Lineup:      lineup,
		DefaultMode: types.ScoringMode(cfg.Scoring.Mode),
		Weights:     weights,
		Budget: BudgetRange{
			Default: decimal.NewFromFloat(cfg.Budget.Default).Round(1),
			Min:     decimal.NewFromFloat(cfg.Budget.Min).Round(1),
			Max:     decimal.NewFromFloat(cfg.Budget.Max).Round(1),
		},
		Quotas:   quotas,
		GroupCap: cfg.Squad.GroupCap,
	}, nil
}
