package optimizer

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// lineupSquad has strong midfielders, middling defenders and weak forwards.
func lineupSquad() types.Squad {
	return types.NewSquad([]types.Candidate{
		player(1, gkp, "A", "5.0", 3),
		player(2, gkp, "B", "4.0", 2),
		player(3, def, "C", "4.5", 4.0),
		player(4, def, "D", "4.5", 4.1),
		player(5, def, "E", "4.5", 4.2),
		player(6, def, "F", "4.5", 4.3),
		player(7, def, "G", "4.5", 4.4),
		player(8, mid, "H", "9.0", 9),
		player(9, mid, "I", "8.0", 8),
		player(10, mid, "J", "7.0", 7),
		player(11, mid, "K", "6.0", 6),
		player(12, mid, "L", "5.0", 5),
		player(13, fwd, "M", "5.0", 1),
		player(14, fwd, "N", "5.0", 0.9),
		player(15, fwd, "O", "5.0", 0.8),
	})
}

func ids(cs []types.Candidate) []int {
	out := make([]int, len(cs))
	for i, c := range cs {
		out[i] = c.ID
	}
	return out
}

func assertLineupInvariants(t *testing.T, lineup types.Lineup, rules LineupRules) {
	t.Helper()
	require.Len(t, lineup.Starters, rules.Starters)
	require.Len(t, lineup.Reserves, 4)

	counts := map[types.Category]int{}
	byID := map[int]types.Candidate{}
	for _, s := range lineup.Starters {
		counts[s.Category]++
		byID[s.ID] = s
	}
	for _, cat := range types.Categories {
		assert.GreaterOrEqual(t, counts[cat], rules.StarterMin[cat], "floor %s", cat)
		assert.LessOrEqual(t, counts[cat], rules.StarterMax[cat], "ceiling %s", cat)
	}

	captain, ok := byID[lineup.CaptainID]
	require.True(t, ok, "captain must start")
	vice, ok := byID[lineup.ViceCaptainID]
	require.True(t, ok, "vice-captain must start")
	assert.NotEqual(t, captain.ID, vice.ID)
	assert.GreaterOrEqual(t, captain.ExpectedValue, vice.ExpectedValue)
	for _, s := range lineup.Starters {
		if s.ID != captain.ID && s.ID != vice.ID {
			assert.GreaterOrEqual(t, vice.ExpectedValue, s.ExpectedValue)
		}
	}
}

func TestPartitionFloorsOverrideValue(t *testing.T) {
	rules := DefaultLineupRules()
	lineup, err := NewPartitioner(rules, nil).Partition(lineupSquad())
	require.NoError(t, err)
	assertLineupInvariants(t, lineup, rules)

	// a forward starts despite four defenders and a keeper being worth more
	assert.Equal(t, "4-5-1", lineup.Formation())
	assert.Equal(t, []int{3, 14, 15, 2}, ids(lineup.Reserves))
	assert.Equal(t, 8, lineup.CaptainID)
	assert.Equal(t, 9, lineup.ViceCaptainID)
	assert.InDelta(t, 3+4.1+4.2+4.3+4.4+9+8+7+6+5+1, lineup.StartingEV, 1e-9)

	// starters grouped by category, best first
	assert.Equal(t, []int{1, 7, 6, 5, 4, 8, 9, 10, 11, 12, 13}, ids(lineup.Starters))
}

func TestPartitionReserveKeeperPlacement(t *testing.T) {
	rules := DefaultLineupRules()
	rules.ReserveKeeperLast = false
	lineup, err := NewPartitioner(rules, nil).Partition(lineupSquad())
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 14, 15}, ids(lineup.Reserves))

	squad := lineupSquad()
	for i := range squad.Members {
		if squad.Members[i].ID == 2 {
			squad.Members[i].ExpectedValue = 0.9
		}
	}
	lineup, err = NewPartitioner(rules, nil).Partition(squad)
	require.NoError(t, err)
	// equal value: outfield reserve ahead of the keeper
	assert.Equal(t, []int{3, 14, 2, 15}, ids(lineup.Reserves))
}

func TestPartitionExpensiveReserveCap(t *testing.T) {
	squad := lineupSquad()
	for i := range squad.Members {
		if squad.Members[i].ID == 3 {
			squad.Members[i].Cost = decimal.RequireFromString("6.0")
		}
	}

	rules := DefaultLineupRules()
	rules.MaxExpensiveReserves = 0
	rules.ExpensiveThreshold = decimal.RequireFromString("5.0")
	lineup, err := NewPartitioner(rules, nil).Partition(squad)
	require.NoError(t, err)
	assertLineupInvariants(t, lineup, rules)
	assert.Equal(t, []int{4, 14, 15, 2}, ids(lineup.Reserves))

	// a cap nothing can satisfy is dropped
	rules.ExpensiveThreshold = decimal.Zero
	lineup, err = NewPartitioner(rules, nil).Partition(squad)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 14, 15, 2}, ids(lineup.Reserves))
}

func TestPartitionTiesBenchLowerRanked(t *testing.T) {
	squad := lineupSquad()
	for i := range squad.Members {
		if squad.Members[i].Category == types.CategoryDefender {
			squad.Members[i].ExpectedValue = 4
		}
	}
	lineup, err := NewPartitioner(DefaultLineupRules(), nil).Partition(squad)
	require.NoError(t, err)
	// all defenders equal: the highest ID sits out
	assert.Equal(t, 7, lineup.Reserves[0].ID)
}

func TestPartitionSolvedSquad(t *testing.T) {
	sol, err := newTestSolver(nil).Solve(context.Background(), randomPool(4), DefaultConstraintSet(decimal.NewFromInt(100)))
	require.NoError(t, err)

	rules := DefaultLineupRules()
	p := NewPartitioner(rules, nil)
	first, err := p.Partition(sol.Squad)
	require.NoError(t, err)
	assertLineupInvariants(t, first, rules)

	second, err := p.Partition(sol.Squad)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	last := first.Reserves[len(first.Reserves)-1]
	assert.Equal(t, types.CategoryGoalkeeper, last.Category)
}

func TestPartitionErrors(t *testing.T) {
	t.Run("invalid rules", func(t *testing.T) {
		rules := DefaultLineupRules()
		rules.StarterMin[types.CategoryDefender] = 9
		_, err := NewPartitioner(rules, nil).Partition(lineupSquad())
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInputValidation))
	})

	t.Run("squad too small", func(t *testing.T) {
		squad := types.NewSquad(lineupSquad().Members[:10])
		_, err := NewPartitioner(DefaultLineupRules(), nil).Partition(squad)
		assert.True(t, apperrors.IsCode(err, apperrors.CodeInputValidation))
	})

	t.Run("too many keepers", func(t *testing.T) {
		members := lineupSquad().Members
		for i := range members {
			if members[i].Category == types.CategoryDefender {
				members[i].Category = types.CategoryGoalkeeper
			}
		}
		_, err := NewPartitioner(DefaultLineupRules(), nil).Partition(types.NewSquad(members))
		require.Error(t, err)
		var conflict *apperrors.ConstraintConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, RuleLineup, conflict.Rule)
	})
}
