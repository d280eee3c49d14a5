// Package engine runs the full scoring, solving and lineup pipeline for one request.
package engine

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/stitts-dev/squad-optimizer/internal/cache"
	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/internal/events"
	"github.com/stitts-dev/squad-optimizer/internal/metrics"
	"github.com/stitts-dev/squad-optimizer/internal/optimizer"
	"github.com/stitts-dev/squad-optimizer/internal/scoring"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// Request is one optimization run. Candidates may be omitted when Snapshot names a
// stored pool.
type Request struct {
	RunID       string                  `json:"run_id,omitempty"`
	Candidates  []types.Candidate       `json:"candidates,omitempty"`
	Snapshot    string                  `json:"snapshot,omitempty"`
	Constraints optimizer.ConstraintSet `json:"constraints"`
	Weights     scoring.Weights         `json:"weights,omitempty"`
	Mode        types.ScoringMode       `json:"mode,omitempty"`
}

// ScoreRequest scores a pool without solving.
type ScoreRequest struct {
	Candidates []types.Candidate `json:"candidates,omitempty"`
	Snapshot   string            `json:"snapshot,omitempty"`
	Weights    scoring.Weights   `json:"weights,omitempty"`
	Mode       types.ScoringMode `json:"mode,omitempty"`
}

// SnapshotLoader resolves a stored candidate pool by name.
type SnapshotLoader interface {
	LoadSnapshot(ctx context.Context, name string) ([]types.Candidate, error)
}

// ProgressReporter receives stage and search updates for a run.
type ProgressReporter interface {
	Report(update types.ProgressUpdate)
}

// Options wires an Engine. Only Scorer is required.
type Options struct {
	Scorer      *scoring.Scorer
	Solver      optimizer.SolverOptions
	Lineup      optimizer.LineupRules
	DefaultMode types.ScoringMode
	// Weights replaces the scorer's default profile for requests that carry none.
	Weights scoring.Weights
	Budget  BudgetRange
	// Quotas and GroupCap fill requests that leave them unset.
	Quotas   map[types.Category]int
	GroupCap int

	Results   cache.Cache
	Tables    *cache.TableCache
	Snapshots SnapshotLoader
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Progress  ProgressReporter
	Clock     func() time.Time
}

// BudgetRange bounds request budgets; Default fills in a missing one.
type BudgetRange struct {
	Default decimal.Decimal
	Min     decimal.Decimal
	Max     decimal.Decimal
}

// DefaultBudgetRange is 100.0 within 80.0-120.0.
func DefaultBudgetRange() BudgetRange {
	return BudgetRange{
		Default: decimal.NewFromInt(100),
		Min:     decimal.NewFromInt(80),
		Max:     decimal.NewFromInt(120),
	}
}

// Engine is safe for concurrent use; every Run builds its own solver and state.
type Engine struct {
	opts        Options
	partitioner *optimizer.Partitioner
	logger      *logrus.Entry
}

func New(opts Options, log *logrus.Entry) (*Engine, error) {
	if opts.Scorer == nil {
		return nil, fmt.Errorf("engine requires a scorer")
	}
	if log == nil {
		log = logger.Discard()
	}
	if opts.Lineup.Starters == 0 {
		opts.Lineup = optimizer.DefaultLineupRules()
	}
	if err := opts.Lineup.Validate(); err != nil {
		return nil, err
	}
	if opts.DefaultMode == "" {
		opts.DefaultMode = types.ScoringDeterministic
	}
	if opts.Budget.Max.IsZero() {
		opts.Budget = DefaultBudgetRange()
	}
	if len(opts.Quotas) == 0 {
		opts.Quotas = optimizer.DefaultQuotas()
	}
	if opts.GroupCap <= 0 {
		opts.GroupCap = optimizer.DefaultGroupCap
	}
	if opts.Publisher == nil {
		opts.Publisher = events.NopPublisher{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Engine{
		opts:        opts,
		partitioner: optimizer.NewPartitioner(opts.Lineup, log),
		logger:      logger.WithComponent(log, "engine"),
	}, nil
}

// Run scores the pool, solves for the best squad and splits it into a lineup.
func (e *Engine) Run(ctx context.Context, req Request) (*types.OptimizationResult, error) {
	start := e.opts.Clock()
	runID := req.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	mode := req.Mode
	if mode == "" {
		mode = e.opts.DefaultMode
	}
	log := e.logger.WithFields(logrus.Fields{
		"run_id":       runID,
		"scoring_mode": mode,
	})

	result, err := e.run(ctx, req, runID, mode, start, log)
	if err != nil {
		e.fail(runID, err, start, log)
		return nil, err
	}
	return result, nil
}

func (e *Engine) run(ctx context.Context, req Request, runID string, mode types.ScoringMode, start time.Time, log *logrus.Entry) (*types.OptimizationResult, error) {
	cs, err := e.constraints(req.Constraints)
	if err != nil {
		return nil, err
	}
	candidates, err := e.pool(ctx, req.Candidates, req.Snapshot)
	if err != nil {
		return nil, err
	}
	if err := optimizer.ValidatePool(candidates); err != nil {
		return nil, err
	}

	weights := e.weights(req.Weights)
	key, err := resultKey(candidates, cs, weights, mode, e.opts.Solver.Relaxation)
	if err != nil {
		return nil, err
	}
	if cached := e.cached(ctx, key, log); cached != nil {
		cached.RunID = runID
		cached.Cached = true
		e.opts.Metrics.ObserveOutcome(metrics.OutcomeCached)
		e.report(runID, types.StageCompleted, "served from cache", start)
		log.Info("Returning cached optimization result")
		return cached, nil
	}

	e.report(runID, types.StageScoring, fmt.Sprintf("scoring %d candidates", len(candidates)), start)
	scored, err := e.opts.Scorer.Score(ctx, candidates, weights, mode)
	if err != nil {
		return nil, err
	}
	for _, w := range scored.Warnings {
		e.opts.Metrics.ObserveFallback(w.Component)
	}
	if scored.Fallbacks > 0 {
		log.WithField("fallbacks", scored.Fallbacks).Warn("Ensemble scoring degraded for some candidates")
	}

	e.report(runID, types.StageSolving, "searching", start)
	solverOpts := e.opts.Solver
	solverOpts.Progress = func(p optimizer.Progress) {
		e.reportSearch(runID, p, start)
	}
	solution, err := optimizer.NewSolver(solverOpts, log).Solve(ctx, scored.Candidates, cs)
	if err != nil {
		return nil, err
	}
	e.opts.Metrics.ObserveSolve(solution.Stats.Duration, solution.Stats.Nodes)

	e.report(runID, types.StagePartitioning, "picking starters", start)
	lineup, err := e.partitioner.Partition(solution.Squad)
	if err != nil {
		return nil, err
	}

	modes := make(map[int]types.ScoringMode, len(scored.Candidates))
	for _, c := range scored.Candidates {
		modes[c.ID] = c.ScoringMode
	}
	result := &types.OptimizationResult{
		RunID:           runID,
		Squad:           solution.Squad,
		Lineup:          lineup,
		TotalCost:       solution.Squad.TotalCost,
		RemainingBudget: cs.Budget.Sub(solution.Squad.TotalCost),
		TotalEV:         solution.Squad.TotalEV,
		Modes:           modes,
		Warnings:        scored.Warnings,
		Stats:           solution.Stats,
		CreatedAt:       e.opts.Clock().UTC(),
	}

	if e.opts.Results != nil {
		if err := e.opts.Results.Set(ctx, key, result); err != nil {
			log.WithError(err).Warn("Failed to cache optimization result")
		}
	}
	e.opts.Metrics.ObserveOutcome(metrics.OutcomeSuccess)
	e.publish(events.SubjectOptimized, events.OptimizedEvent{
		RunID:       runID,
		SquadIDs:    result.Squad.IDs(),
		CaptainID:   lineup.CaptainID,
		ViceID:      lineup.ViceCaptainID,
		TotalCost:   result.TotalCost,
		TotalEV:     result.TotalEV,
		ScoringMode: string(mode),
		Fallbacks:   scored.Fallbacks,
		Nodes:       solution.Stats.Nodes,
		DurationMs:  e.opts.Clock().Sub(start).Milliseconds(),
		Timestamp:   result.CreatedAt,
	}, log)
	e.report(runID, types.StageCompleted, fmt.Sprintf("formation %s", lineup.Formation()), start)

	log.WithFields(logrus.Fields{
		"total_cost": result.TotalCost.StringFixed(1),
		"total_ev":   result.TotalEV,
		"nodes":      solution.Stats.Nodes,
		"formation":  lineup.Formation(),
		"duration":   e.opts.Clock().Sub(start),
	}).Info("Optimization completed")

	return result, nil
}

// Validate runs every check that precedes scoring without solving.
func (e *Engine) Validate(ctx context.Context, req Request) (optimizer.ConstraintSet, int, error) {
	cs, err := e.constraints(req.Constraints)
	if err != nil {
		return cs, 0, err
	}
	candidates, err := e.pool(ctx, req.Candidates, req.Snapshot)
	if err != nil {
		return cs, 0, err
	}
	if err := optimizer.ValidatePool(candidates); err != nil {
		return cs, len(candidates), err
	}
	if req.Mode != "" && !req.Mode.Valid() {
		return cs, len(candidates), apperrors.NewInputValidation("mode", "unknown scoring mode %q", req.Mode)
	}
	if len(req.Weights) > 0 {
		if err := req.Weights.Validate(e.opts.Scorer.Factors()); err != nil {
			return cs, len(candidates), err
		}
	}
	return cs, len(candidates), cs.Validate(candidates)
}

// Score scores a pool and returns it ordered as given.
func (e *Engine) Score(ctx context.Context, req ScoreRequest) (*scoring.Result, error) {
	candidates, err := e.pool(ctx, req.Candidates, req.Snapshot)
	if err != nil {
		return nil, err
	}
	mode := req.Mode
	if mode == "" {
		mode = e.opts.DefaultMode
	}
	res, err := e.opts.Scorer.Score(ctx, candidates, e.weights(req.Weights), mode)
	if err != nil {
		return nil, err
	}
	for _, w := range res.Warnings {
		e.opts.Metrics.ObserveFallback(w.Component)
	}
	return res, nil
}

func (e *Engine) weights(w scoring.Weights) scoring.Weights {
	if len(w) > 0 {
		return w
	}
	return e.opts.Weights
}

// constraints fills defaults into a request constraint set and checks the budget range.
func (e *Engine) constraints(cs optimizer.ConstraintSet) (optimizer.ConstraintSet, error) {
	if cs.Budget.IsZero() {
		cs.Budget = e.opts.Budget.Default
	}
	if cs.Budget.LessThan(e.opts.Budget.Min) || cs.Budget.GreaterThan(e.opts.Budget.Max) {
		return cs, apperrors.NewInputValidation("budget", "%s outside %s-%s",
			cs.Budget.StringFixed(1), e.opts.Budget.Min.StringFixed(1), e.opts.Budget.Max.StringFixed(1))
	}
	if cs.SquadSize == 0 {
		cs.SquadSize = optimizer.DefaultSquadSize
	}
	if len(cs.Quotas) == 0 {
		cs.Quotas = make(map[types.Category]int, len(e.opts.Quotas))
		for cat, n := range e.opts.Quotas {
			cs.Quotas[cat] = n
		}
	}
	if cs.GroupCap == 0 {
		cs.GroupCap = e.opts.GroupCap
	}
	return cs, nil
}

func (e *Engine) pool(ctx context.Context, candidates []types.Candidate, snapshot string) ([]types.Candidate, error) {
	if len(candidates) > 0 {
		if snapshot != "" {
			return nil, apperrors.NewInputValidation("snapshot", "give either candidates or a snapshot, not both")
		}
		return candidates, nil
	}
	if snapshot == "" {
		return nil, apperrors.NewInputValidation("candidates", "pool is empty")
	}
	if e.opts.Snapshots == nil {
		return nil, apperrors.NewInputValidation("snapshot", "no snapshot store configured")
	}
	load := func() ([]types.Candidate, error) {
		return e.opts.Snapshots.LoadSnapshot(ctx, snapshot)
	}
	if e.opts.Tables != nil {
		return e.opts.Tables.Load(ctx, "snapshot:"+snapshot, load)
	}
	return load()
}

func (e *Engine) cached(ctx context.Context, key string, log *logrus.Entry) *types.OptimizationResult {
	if e.opts.Results == nil {
		return nil
	}
	var result types.OptimizationResult
	found, err := e.opts.Results.Get(ctx, key, &result)
	if err != nil {
		log.WithError(err).Warn("Optimization cache read failed")
		return nil
	}
	if !found {
		return nil
	}
	return &result
}

func (e *Engine) fail(runID string, err error, start time.Time, log *logrus.Entry) {
	code := apperrors.GetCode(err)
	outcome := metrics.OutcomeError
	switch code {
	case apperrors.CodeInputValidation:
		outcome = metrics.OutcomeInvalid
	case apperrors.CodeConstraintConflict:
		outcome = metrics.OutcomeConflict
	case apperrors.CodeInfeasible:
		outcome = metrics.OutcomeInfeasible
	}
	e.opts.Metrics.ObserveOutcome(outcome)

	entry := log.WithError(err).WithField("code", code)
	if code == apperrors.CodeUnknown {
		entry.Error("Optimization failed")
	} else {
		entry.Warn("Optimization rejected")
	}

	e.publish(events.SubjectFailed, events.FailedEvent{
		RunID:     runID,
		Code:      string(code),
		Error:     err.Error(),
		Details:   apperrors.Details(err),
		Timestamp: e.opts.Clock().UTC(),
	}, log)
	e.report(runID, types.StageFailed, err.Error(), start)
}

func (e *Engine) publish(subject string, event interface{}, log *logrus.Entry) {
	if err := e.opts.Publisher.Publish(subject, event); err != nil {
		log.WithError(err).WithField("subject", subject).Warn("Failed to publish event")
	}
}

func (e *Engine) report(runID, stage, message string, start time.Time) {
	if e.opts.Progress == nil {
		return
	}
	now := e.opts.Clock()
	e.opts.Progress.Report(types.ProgressUpdate{
		RunID:     runID,
		Stage:     stage,
		Message:   message,
		ElapsedMs: now.Sub(start).Milliseconds(),
		Timestamp: now.UTC(),
	})
}

func (e *Engine) reportSearch(runID string, p optimizer.Progress, start time.Time) {
	if e.opts.Progress == nil {
		return
	}
	now := e.opts.Clock()
	e.opts.Progress.Report(types.ProgressUpdate{
		RunID:     runID,
		Stage:     types.StageSolving,
		Nodes:     p.Nodes,
		Incumbent: finiteOrZero(p.Incumbent),
		Bound:     finiteOrZero(p.Bound),
		ElapsedMs: now.Sub(start).Milliseconds(),
		Timestamp: now.UTC(),
	})
}

// resultKey hashes everything that determines a run's output.
func resultKey(candidates []types.Candidate, cs optimizer.ConstraintSet, weights scoring.Weights, mode types.ScoringMode, relaxation optimizer.Relaxation) (string, error) {
	relaxationName := optimizer.RelaxationDP
	if relaxation != nil {
		relaxationName = relaxation.Name()
	}
	payload, err := json.Marshal(struct {
		Candidates  []types.Candidate       `json:"candidates"`
		Constraints optimizer.ConstraintSet `json:"constraints"`
		Weights     scoring.Weights         `json:"weights"`
		Mode        types.ScoringMode       `json:"mode"`
		Relaxation  string                  `json:"relaxation"`
	}{candidates, cs, weights, mode, relaxationName})
	if err != nil {
		return "", fmt.Errorf("failed to build cache key: %w", err)
	}
	return fmt.Sprintf("optimization:%x", md5.Sum(payload)), nil
}

func finiteOrZero(v float64) float64 {
	if math.IsInf(v, 0) || math.IsNaN(v) {
		return 0
	}
	return v
}
