package mcptools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stitts-dev/squad-optimizer/internal/cache"
	"github.com/stitts-dev/squad-optimizer/internal/engine"
	"github.com/stitts-dev/squad-optimizer/internal/scoring"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

func writePool(t *testing.T) string {
	t.Helper()
	counts := map[types.Category]int{
		types.CategoryGoalkeeper: 3,
		types.CategoryDefender:   7,
		types.CategoryMidfielder: 7,
		types.CategoryForward:    5,
	}
	var pool []types.Candidate
	id := 1
	for _, cat := range []types.Category{types.CategoryGoalkeeper, types.CategoryDefender, types.CategoryMidfielder, types.CategoryForward} {
		for i := 0; i < counts[cat]; i++ {
			pool = append(pool, types.Candidate{
				ID:            id,
				Name:          fmt.Sprintf("P%d", id),
				Category:      cat,
				Group:         fmt.Sprintf("T%d", id%8),
				Cost:          decimal.New(int64(45+(id%5)*5), -1),
				SeasonPoints:  float64(40 + id*3),
				PointsPerGame: float64(2 + id%4),
				Form:          float64(id % 7),
				Minutes:       1500,
				Appearances:   20,
			})
			id++
		}
	}
	raw, err := json.Marshal(pool)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "pool.json")
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	return path
}

func newTools(t *testing.T) *Tools {
	t.Helper()
	e, err := engine.New(engine.Options{
		Scorer:  scoring.NewScorer(scoring.DefaultOptions(), nil, logger.Discard()),
		Results: cache.NewMemoryCache(cache.Policy{}),
	}, logger.Discard())
	require.NoError(t, err)
	return New(e, logger.Discard())
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok)
	return tc.Text
}

func TestRegisterListsTools(t *testing.T) {
	tools := newTools(t)
	server := mcp.NewServer(&mcp.Implementation{Name: "test", Version: "v0"}, nil)
	tools.Register(server)

	var names []string
	for _, info := range tools.Registry() {
		names = append(names, info.Name)
	}
	assert.Equal(t, []string{"optimize_squad", "score_candidates"}, names)
}

func TestOptimizeSquad(t *testing.T) {
	tools := newTools(t)
	path := writePool(t)

	res, _, err := tools.OptimizeSquad(context.Background(), nil, OptimizeArgs{
		TablePath: path,
		Budget:    100,
		Include:   []int{4},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var result types.OptimizationResult
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &result))
	assert.Len(t, result.Squad.Members, 15)
	assert.Len(t, result.Lineup.Starters, 11)
	assert.Len(t, result.Lineup.Reserves, 4)
	assert.True(t, result.TotalCost.LessThanOrEqual(decimal.NewFromInt(100)))

	ids := map[int]bool{}
	for _, m := range result.Squad.Members {
		ids[m.ID] = true
	}
	assert.True(t, ids[4])
}

func TestOptimizeSquadReportsErrors(t *testing.T) {
	tools := newTools(t)

	res, _, err := tools.OptimizeSquad(context.Background(), nil, OptimizeArgs{
		TablePath: writePool(t),
		Include:   []int{1},
		Exclude:   []int{1},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "CONSTRAINT_CONFLICT")

	res, _, err = tools.OptimizeSquad(context.Background(), nil, OptimizeArgs{
		TablePath: filepath.Join(t.TempDir(), "missing.csv"),
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}

func TestScoreCandidates(t *testing.T) {
	tools := newTools(t)

	res, _, err := tools.ScoreCandidates(context.Background(), nil, ScoreArgs{
		TablePath: writePool(t),
		Category:  "MID",
		Top:       3,
	})
	require.NoError(t, err)
	require.False(t, res.IsError, text(t, res))

	var body struct {
		Candidates []types.Candidate `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &body))
	require.Len(t, body.Candidates, 3)
	for i, c := range body.Candidates {
		assert.Equal(t, types.CategoryMidfielder, c.Category)
		if i > 0 {
			assert.GreaterOrEqual(t, body.Candidates[i-1].ExpectedValue, c.ExpectedValue)
		}
	}

	res, _, err = tools.ScoreCandidates(context.Background(), nil, ScoreArgs{
		TablePath: writePool(t),
		Category:  "coach",
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
}
