package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/squad-optimizer/internal/cache"
	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/internal/events"
	"github.com/stitts-dev/squad-optimizer/internal/metrics"
	"github.com/stitts-dev/squad-optimizer/internal/optimizer"
	"github.com/stitts-dev/squad-optimizer/internal/scoring"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

type progressRecorder struct {
	mu      sync.Mutex
	updates []types.ProgressUpdate
}

func (p *progressRecorder) Report(u types.ProgressUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, u)
}

func (p *progressRecorder) stages(runID string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, u := range p.updates {
		if u.RunID != runID {
			continue
		}
		if len(out) == 0 || out[len(out)-1] != u.Stage {
			out = append(out, u.Stage)
		}
	}
	return out
}

type fakeSnapshots map[string][]types.Candidate

func (f fakeSnapshots) LoadSnapshot(_ context.Context, name string) ([]types.Candidate, error) {
	pool, ok := f[name]
	if !ok {
		return nil, apperrors.NewInputValidation("snapshot", "snapshot %q not found", name)
	}
	return pool, nil
}

// testPool has 4 keepers, 8 defenders, 10 midfielders and 6 forwards spread over 10 groups.
func testPool() []types.Candidate {
	layout := []struct {
		cat types.Category
		n   int
	}{
		{types.CategoryGoalkeeper, 4},
		{types.CategoryDefender, 8},
		{types.CategoryMidfielder, 10},
		{types.CategoryForward, 6},
	}
	var pool []types.Candidate
	id := 1
	for _, l := range layout {
		for i := 0; i < l.n; i++ {
			season := float64((id*37)%90 + 20)
			pool = append(pool, types.Candidate{
				ID:            id,
				Name:          fmt.Sprintf("P%d", id),
				Category:      l.cat,
				Group:         fmt.Sprintf("T%d", id%10),
				Cost:          decimal.New(int64(40+(id%7)*5), -1),
				SeasonPoints:  season,
				PointsPerGame: season / 20,
				Form:          float64(id % 9),
				FormExtended:  float64((id + 3) % 9),
				Minutes:       float64(900 + id*10),
				Appearances:   20,
				Fixtures:      []types.FixtureDifficulty{{Attack: float64(id%5 + 1), Defence: float64((id+2)%5 + 1)}},
			})
			id++
		}
	}
	return pool
}

type harness struct {
	engine   *Engine
	events   *events.Recorder
	progress *progressRecorder
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, snapshots SnapshotLoader) *harness {
	t.Helper()
	h := &harness{
		events:   &events.Recorder{},
		progress: &progressRecorder{},
		metrics:  metrics.New(),
	}
	e, err := New(Options{
		Scorer:    scoring.NewScorer(scoring.DefaultOptions(), nil, logger.Discard()),
		Results:   cache.NewMemoryCache(cache.Policy{}),
		Tables:    cache.NewTableCache(cache.NewMemoryCache(cache.Policy{}), logger.Discard()),
		Snapshots: snapshots,
		Metrics:   h.metrics,
		Publisher: h.events,
		Progress:  h.progress,
	}, logger.Discard())
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) metricsText(t *testing.T) string {
	rec := httptest.NewRecorder()
	h.metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestRunProducesSquadAndLineup(t *testing.T) {
	h := newHarness(t, nil)
	budget := decimal.NewFromInt(95)

	result, err := h.engine.Run(context.Background(), Request{
		RunID:       "run-1",
		Candidates:  testPool(),
		Constraints: optimizer.ConstraintSet{Budget: budget},
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", result.RunID)
	assert.False(t, result.Cached)
	require.Len(t, result.Squad.Members, 15)
	assert.Len(t, result.Lineup.Starters, 11)
	assert.Len(t, result.Lineup.Reserves, 4)
	assert.True(t, result.TotalCost.LessThanOrEqual(budget))
	assert.True(t, result.RemainingBudget.Equal(budget.Sub(result.TotalCost)))
	assert.InDelta(t, result.Squad.TotalEV, result.TotalEV, 1e-9)
	assert.Len(t, result.Modes, len(testPool()))
	for _, m := range result.Squad.Members {
		assert.Equal(t, types.ScoringDeterministic, m.ScoringMode)
	}

	counts := result.Squad.CountByCategory()
	assert.Equal(t, optimizer.DefaultQuotas(), counts)
	for group, n := range result.Squad.CountByGroup() {
		assert.LessOrEqual(t, n, optimizer.DefaultGroupCap, group)
	}

	stages := h.progress.stages("run-1")
	require.NotEmpty(t, stages)
	assert.Equal(t, types.StageScoring, stages[0])
	assert.Contains(t, stages, types.StageSolving)
	assert.Contains(t, stages, types.StagePartitioning)
	assert.Equal(t, types.StageCompleted, stages[len(stages)-1])

	msgs := h.events.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, events.SubjectOptimized, msgs[0].Subject)
	var ev events.OptimizedEvent
	require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
	assert.Equal(t, result.Squad.IDs(), ev.SquadIDs)
	assert.Equal(t, result.Lineup.CaptainID, ev.CaptainID)

	assert.Contains(t, h.metricsText(t), `squad_optimizations_total{outcome="success"} 1`)
}

func TestRunServesRepeatFromCache(t *testing.T) {
	h := newHarness(t, nil)
	req := Request{Candidates: testPool()}

	first, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)
	second, err := h.engine.Run(context.Background(), req)
	require.NoError(t, err)

	assert.True(t, second.Cached)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Squad.IDs(), second.Squad.IDs())
	assert.Equal(t, first.Lineup.CaptainID, second.Lineup.CaptainID)
	assert.True(t, first.TotalCost.Equal(second.TotalCost))

	text := h.metricsText(t)
	assert.Contains(t, text, `squad_optimizations_total{outcome="cached"} 1`)
	assert.Contains(t, text, `squad_optimizations_total{outcome="success"} 1`)
}

func TestRunErrors(t *testing.T) {
	pool := testPool()
	var keepers []int
	for _, c := range pool {
		if c.Category == types.CategoryGoalkeeper {
			keepers = append(keepers, c.ID)
		}
	}

	tests := []struct {
		name    string
		req     Request
		code    apperrors.Code
		outcome string
	}{
		{
			name:    "budget above range",
			req:     Request{Candidates: pool, Constraints: optimizer.ConstraintSet{Budget: decimal.NewFromInt(150)}},
			code:    apperrors.CodeInputValidation,
			outcome: metrics.OutcomeInvalid,
		},
		{
			name:    "empty pool",
			req:     Request{},
			code:    apperrors.CodeInputValidation,
			outcome: metrics.OutcomeInvalid,
		},
		{
			name:    "forced overlap",
			req:     Request{Candidates: pool, Constraints: optimizer.ConstraintSet{ForcedInclude: []int{1}, ForcedExclude: []int{1}}},
			code:    apperrors.CodeConstraintConflict,
			outcome: metrics.OutcomeConflict,
		},
		{
			name:    "keepers excluded",
			req:     Request{Candidates: pool, Constraints: optimizer.ConstraintSet{ForcedExclude: keepers[1:]}},
			code:    apperrors.CodeInfeasible,
			outcome: metrics.OutcomeInfeasible,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			req := tt.req
			req.RunID = "failing"

			_, err := h.engine.Run(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.GetCode(err))

			msgs := h.events.Messages()
			require.Len(t, msgs, 1)
			assert.Equal(t, events.SubjectFailed, msgs[0].Subject)
			var ev events.FailedEvent
			require.NoError(t, json.Unmarshal(msgs[0].Payload, &ev))
			assert.Equal(t, string(tt.code), ev.Code)

			stages := h.progress.stages("failing")
			require.NotEmpty(t, stages)
			assert.Equal(t, types.StageFailed, stages[len(stages)-1])

			assert.Contains(t, h.metricsText(t), fmt.Sprintf(`squad_optimizations_total{outcome=%q} 1`, tt.outcome))
		})
	}
}

func TestRunInfeasibleNamesCategoryCount(t *testing.T) {
	h := newHarness(t, nil)
	pool := testPool()
	_, err := h.engine.Run(context.Background(), Request{
		Candidates:  pool,
		Constraints: optimizer.ConstraintSet{ForcedExclude: []int{1, 2, 3}},
	})
	var inf *apperrors.InfeasibleError
	require.ErrorAs(t, err, &inf)
	assert.Equal(t, apperrors.ClassCategoryCount, inf.Class)
}

func TestRunFromSnapshot(t *testing.T) {
	h := newHarness(t, fakeSnapshots{"gw1": testPool()})

	result, err := h.engine.Run(context.Background(), Request{Snapshot: "gw1"})
	require.NoError(t, err)
	assert.Len(t, result.Squad.Members, 15)

	_, err = h.engine.Run(context.Background(), Request{Snapshot: "gw1", Candidates: testPool()})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInputValidation))

	_, err = h.engine.Run(context.Background(), Request{Snapshot: "missing"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInputValidation))

	noStore := newHarness(t, nil)
	_, err = noStore.engine.Run(context.Background(), Request{Snapshot: "gw1"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInputValidation))
}

func TestValidate(t *testing.T) {
	h := newHarness(t, nil)

	cs, n, err := h.engine.Validate(context.Background(), Request{Candidates: testPool()})
	require.NoError(t, err)
	assert.Equal(t, 28, n)
	assert.True(t, cs.Budget.Equal(decimal.NewFromInt(100)))
	assert.Equal(t, optimizer.DefaultSquadSize, cs.SquadSize)

	_, _, err = h.engine.Validate(context.Background(), Request{
		Candidates:  testPool(),
		Constraints: optimizer.ConstraintSet{ForcedInclude: []int{999}},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeConstraintConflict))

	_, _, err = h.engine.Validate(context.Background(), Request{Candidates: testPool(), Mode: "magic"})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInputValidation))

	_, _, err = h.engine.Validate(context.Background(), Request{
		Candidates: testPool(),
		Weights:    scoring.Weights{"vibes": 1},
	})
	assert.True(t, apperrors.IsCode(err, apperrors.CodeInputValidation))
	assert.Empty(t, h.events.Messages())
}

func TestScore(t *testing.T) {
	h := newHarness(t, nil)
	pool := testPool()

	res, err := h.engine.Score(context.Background(), ScoreRequest{Candidates: pool})
	require.NoError(t, err)
	require.Len(t, res.Candidates, len(pool))
	for i, c := range res.Candidates {
		assert.Equal(t, pool[i].ID, c.ID)
		assert.Equal(t, types.ScoringDeterministic, c.ScoringMode)
	}

	// Ensemble without artifacts falls back for every candidate.
	res, err = h.engine.Score(context.Background(), ScoreRequest{Candidates: pool, Mode: types.ScoringEnsemble})
	require.NoError(t, err)
	assert.Equal(t, len(pool), res.Fallbacks)
	assert.True(t, strings.Contains(h.metricsText(t), "squad_scoring_fallbacks_total"))
}

func TestNewRequiresScorer(t *testing.T) {
	_, err := New(Options{}, nil)
	assert.Error(t, err)
}
