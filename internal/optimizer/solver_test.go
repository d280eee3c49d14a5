package optimizer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

var (
	gkp = types.CategoryGoalkeeper
	def = types.CategoryDefender
	mid = types.CategoryMidfielder
	fwd = types.CategoryForward
)

func player(id int, cat types.Category, group, cost string, ev float64) types.Candidate {
	return types.Candidate{
		ID:            id,
		Name:          fmt.Sprintf("Player %d", id),
		Category:      cat,
		Group:         group,
		Cost:          decimal.RequireFromString(cost),
		ExpectedValue: ev,
	}
}

// randomPool builds 6 keepers, 8 defenders, 10 midfielders and 6 forwards over 8 groups.
func randomPool(seed int64) []types.Candidate {
	rng := rand.New(rand.NewSource(seed))
	counts := []struct {
		cat types.Category
		n   int
	}{{gkp, 6}, {def, 8}, {mid, 10}, {fwd, 6}}

	var pool []types.Candidate
	id := 1
	for _, c := range counts {
		for k := 0; k < c.n; k++ {
			tenths := 40 + rng.Intn(61)
			ev := float64(tenths)/10*0.6 + rng.Float64()*4
			pool = append(pool, types.Candidate{
				ID:            id,
				Name:          fmt.Sprintf("Player %d", id),
				Category:      c.cat,
				Group:         fmt.Sprintf("G%d", rng.Intn(8)),
				Cost:          decimal.New(int64(tenths), -1),
				ExpectedValue: ev,
			})
			id++
		}
	}
	return pool
}

// minimalPool has exactly one squad's worth of candidates, each in its own group.
func minimalPool() []types.Candidate {
	var pool []types.Candidate
	id := 1
	for _, cat := range types.Categories {
		for k := 0; k < DefaultQuotas()[cat]; k++ {
			pool = append(pool, player(id, cat, fmt.Sprintf("G%d", id), "5.0", float64(id)))
			id++
		}
	}
	return pool
}

func newTestSolver(relaxation Relaxation) *Solver {
	return NewSolver(SolverOptions{Relaxation: relaxation}, nil)
}

func relaxations() []Relaxation {
	return []Relaxation{DPRelaxation{}, LPRelaxation{}}
}

func assertSquadInvariants(t *testing.T, squad types.Squad, cs ConstraintSet) {
	t.Helper()
	require.Len(t, squad.Members, cs.SquadSize)
	assert.True(t, squad.TotalCost.LessThanOrEqual(cs.Budget), "cost %s over budget %s", squad.TotalCost, cs.Budget)
	assert.True(t, squad.TotalCost.GreaterThanOrEqual(cs.MinSpend))

	counts := squad.CountByCategory()
	for _, cat := range types.Categories {
		assert.Equal(t, cs.Quotas[cat], counts[cat], "category %s", cat)
	}
	for g, n := range squad.CountByGroup() {
		assert.LessOrEqual(t, n, cs.GroupCap, "group %s", g)
	}

	ids := make(map[int]bool)
	for _, id := range squad.IDs() {
		assert.False(t, ids[id], "duplicate %d", id)
		ids[id] = true
	}
	for _, id := range cs.ForcedInclude {
		assert.True(t, ids[id], "forced include %d missing", id)
	}
	for _, id := range cs.ForcedExclude {
		assert.False(t, ids[id], "forced exclude %d present", id)
	}
}

// bruteForce enumerates every quota-respecting selection.
func bruteForce(pool []types.Candidate, cs ConstraintSet) float64 {
	type pick struct {
		cost   int64
		ev     float64
		groups map[string]int
	}
	subsets := func(members []types.Candidate, k int) []pick {
		var out []pick
		var rec func(start int, cur []types.Candidate)
		rec = func(start int, cur []types.Candidate) {
			if len(cur) == k {
				p := pick{groups: make(map[string]int)}
				for _, c := range cur {
					p.cost += c.CostTenths()
					p.ev += c.ExpectedValue
					p.groups[c.Group]++
				}
				out = append(out, p)
				return
			}
			for i := start; i < len(members); i++ {
				rec(i+1, append(cur, members[i]))
			}
		}
		rec(0, nil)
		return out
	}

	var lists [][]pick
	for _, cat := range types.Categories {
		var members []types.Candidate
		for _, c := range pool {
			if c.Category == cat {
				members = append(members, c)
			}
		}
		lists = append(lists, subsets(members, cs.Quotas[cat]))
	}

	budget := cs.Budget.Shift(1).IntPart()
	best := math.Inf(-1)
	counts := make(map[string]int)
	var rec func(level int, cost int64, ev float64)
	rec = func(level int, cost int64, ev float64) {
		if cost > budget {
			return
		}
		if level == len(lists) {
			if ev > best {
				best = ev
			}
			return
		}
		for _, p := range lists[level] {
			ok := true
			for g, n := range p.groups {
				counts[g] += n
				if counts[g] > cs.GroupCap {
					ok = false
				}
			}
			if ok {
				rec(level+1, cost+p.cost, ev+p.ev)
			}
			for g, n := range p.groups {
				counts[g] -= n
			}
		}
	}
	rec(0, 0, 0)
	return best
}

func TestSolveMatchesBruteForce(t *testing.T) {
	for _, seed := range []int64{1, 7} {
		pool := randomPool(seed)
		cs := DefaultConstraintSet(decimal.NewFromInt(100))
		want := bruteForce(pool, cs)
		require.False(t, math.IsInf(want, -1))

		for _, relax := range relaxations() {
			t.Run(fmt.Sprintf("seed%d/%s", seed, relax.Name()), func(t *testing.T) {
				sol, err := newTestSolver(relax).Solve(context.Background(), pool, cs)
				require.NoError(t, err)
				assertSquadInvariants(t, sol.Squad, cs)
				assert.InDelta(t, want, sol.Squad.TotalEV, 1e-4)
				assert.Equal(t, relax.Name(), sol.Stats.Relaxation)
				assert.Positive(t, sol.Stats.Nodes)
			})
		}
	}
}

func TestSolveRelaxationsAgree(t *testing.T) {
	pool := randomPool(3)
	cs := DefaultConstraintSet(decimal.NewFromInt(100))
	cs.ForcedInclude = []int{1}
	cs.ForcedExclude = []int{15}

	dp, err := newTestSolver(DPRelaxation{}).Solve(context.Background(), pool, cs)
	require.NoError(t, err)
	lp, err := newTestSolver(LPRelaxation{}).Solve(context.Background(), pool, cs)
	require.NoError(t, err)

	assertSquadInvariants(t, dp.Squad, cs)
	assert.Equal(t, dp.Squad.IDs(), lp.Squad.IDs())
}

func TestSolveIsIdempotent(t *testing.T) {
	pool := randomPool(11)
	cs := DefaultConstraintSet(decimal.NewFromInt(100))
	s := newTestSolver(nil)

	first, err := s.Solve(context.Background(), pool, cs)
	require.NoError(t, err)
	second, err := s.Solve(context.Background(), pool, cs)
	require.NoError(t, err)
	assert.Equal(t, first.Squad, second.Squad)
}

func TestSolveBudgetMonotonicity(t *testing.T) {
	pool := randomPool(5)
	s := newTestSolver(nil)

	prev := math.Inf(-1)
	for _, budget := range []int64{95, 100, 105, 110, 120} {
		cs := DefaultConstraintSet(decimal.NewFromInt(budget))
		sol, err := s.Solve(context.Background(), pool, cs)
		require.NoError(t, err, "budget %d", budget)
		assertSquadInvariants(t, sol.Squad, cs)
		assert.GreaterOrEqual(t, sol.Squad.TotalEV, prev-1e-9, "budget %d", budget)
		prev = sol.Squad.TotalEV
	}
}

func TestForcedKeepersAtExactBudget(t *testing.T) {
	t.Run("keeper slots only", func(t *testing.T) {
		pool := []types.Candidate{
			player(1, gkp, "A", "9.0", 3),
			player(2, gkp, "B", "9.0", 2),
			player(3, gkp, "C", "4.0", 8),
		}
		cs := ConstraintSet{
			Budget:        decimal.RequireFromString("18.0"),
			SquadSize:     2,
			Quotas:        map[types.Category]int{gkp: 2},
			GroupCap:      DefaultGroupCap,
			ForcedInclude: []int{1, 2},
		}
		sol, err := newTestSolver(nil).Solve(context.Background(), pool, cs)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, sol.Squad.IDs())
		assert.True(t, sol.Squad.TotalCost.Equal(cs.Budget))
	})

	t.Run("full squad", func(t *testing.T) {
		pool := minimalPool()
		for i := range pool {
			pool[i].Cost = decimal.RequireFromString("4.0")
		}
		pool[0].Cost = decimal.RequireFromString("9.0")
		pool[1].Cost = decimal.RequireFromString("9.0")
		pool = append(pool, player(100, gkp, "X", "4.0", 50))

		cs := DefaultConstraintSet(decimal.RequireFromString("70.0"))
		cs.ForcedInclude = []int{1, 2}
		for _, relax := range relaxations() {
			sol, err := newTestSolver(relax).Solve(context.Background(), pool, cs)
			require.NoError(t, err)
			assertSquadInvariants(t, sol.Squad, cs)
			assert.True(t, sol.Squad.TotalCost.Equal(cs.Budget), "cost %s", sol.Squad.TotalCost)
			assert.NotContains(t, sol.Squad.IDs(), 100)
		}
	})
}

func TestExclusionLeavesQuotaUnfillable(t *testing.T) {
	pool := minimalPool()
	pool = append(pool, player(100, fwd, "X", "5.0", 1))
	cs := DefaultConstraintSet(decimal.NewFromInt(100))
	cs.ForcedExclude = []int{14, 15}

	_, err := newTestSolver(nil).Solve(context.Background(), pool, cs)
	require.Error(t, err)
	var infeasible *apperrors.InfeasibleError
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, apperrors.ClassCategoryCount, infeasible.Class)
}

func TestForcedIncludeConflicts(t *testing.T) {
	pool := minimalPool()
	pool = append(pool,
		player(100, gkp, "X", "5.0", 1),
		player(101, fwd, "Y", "99.0", 1),
	)

	tests := []struct {
		name    string
		include []int
		exclude []int
		rule    string
	}{
		{"too many keepers", []int{1, 2, 100}, nil, RuleForcedQuota},
		{"over budget", []int{101, 13, 14}, nil, RuleForcedBudget},
		{"unknown id", []int{999}, nil, RuleForcedUnknown},
		{"in and out", []int{3}, []int{3}, RuleForcedOverlap},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := DefaultConstraintSet(decimal.NewFromInt(100))
			cs.ForcedInclude = tt.include
			cs.ForcedExclude = tt.exclude
			_, err := newTestSolver(nil).Solve(context.Background(), pool, cs)
			require.Error(t, err)
			var conflict *apperrors.ConstraintConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, tt.rule, conflict.Rule)
			assert.False(t, apperrors.IsCode(err, apperrors.CodeInfeasible))
		})
	}
}

func TestInfeasibleClasses(t *testing.T) {
	t.Run("budget", func(t *testing.T) {
		cs := DefaultConstraintSet(decimal.NewFromInt(70))
		_, err := newTestSolver(nil).Solve(context.Background(), minimalPool(), cs)
		assertInfeasible(t, err, apperrors.ClassBudget)
	})

	t.Run("group cap", func(t *testing.T) {
		pool := minimalPool()
		for i := range pool {
			if pool[i].Category == fwd {
				pool[i].Group = "A"
			}
		}
		cs := DefaultConstraintSet(decimal.NewFromInt(100))
		cs.GroupCap = 2
		_, err := newTestSolver(nil).Solve(context.Background(), pool, cs)
		assertInfeasible(t, err, apperrors.ClassGroupCap)
	})

	t.Run("minimum spend", func(t *testing.T) {
		cs := DefaultConstraintSet(decimal.NewFromInt(100))
		cs.MinSpend = decimal.NewFromInt(80)
		_, err := newTestSolver(nil).Solve(context.Background(), minimalPool(), cs)
		assertInfeasible(t, err, apperrors.ClassMinSpend)
	})

	t.Run("budget window between squads", func(t *testing.T) {
		pool := minimalPool()
		pool = append(pool, player(100, fwd, "X", "9.0", 1))
		// every squad costs 75.0 or 79.0
		cs := DefaultConstraintSet(decimal.NewFromInt(100))
		cs.MinSpend = decimal.NewFromInt(76)
		cs.Budget = decimal.NewFromInt(78)
		_, err := newTestSolver(nil).Solve(context.Background(), pool, cs)
		assertInfeasible(t, err, apperrors.ClassMinSpend)
	})
}

func assertInfeasible(t *testing.T, err error, class apperrors.InfeasibleClass) {
	t.Helper()
	require.Error(t, err)
	var infeasible *apperrors.InfeasibleError
	require.ErrorAs(t, err, &infeasible)
	assert.Equal(t, class, infeasible.Class, infeasible.Detail)
}

// stackedPool puts the four best midfielders in one group so that the unconstrained
// optimum breaks the group cap.
func stackedPool() []types.Candidate {
	pool := minimalPool()
	pool = append(pool,
		player(101, mid, "TOP", "5.0", 90),
		player(102, mid, "TOP", "5.0", 80),
		player(103, mid, "TOP", "5.0", 70),
		player(104, mid, "TOP", "5.0", 60),
	)
	return pool
}

func TestSolveEnforcesGroupCap(t *testing.T) {
	for _, relax := range relaxations() {
		t.Run(relax.Name(), func(t *testing.T) {
			cs := DefaultConstraintSet(decimal.NewFromInt(100))
			sol, err := newTestSolver(relax).Solve(context.Background(), stackedPool(), cs)
			require.NoError(t, err)
			assertSquadInvariants(t, sol.Squad, cs)

			ids := sol.Squad.IDs()
			assert.Contains(t, ids, 101)
			assert.Contains(t, ids, 102)
			assert.Contains(t, ids, 103)
			assert.NotContains(t, ids, 104)
		})
	}
}

func TestSolveSearchLimit(t *testing.T) {
	s := NewSolver(SolverOptions{MaxNodes: 1}, nil)
	_, err := s.Solve(context.Background(), stackedPool(), DefaultConstraintSet(decimal.NewFromInt(100)))
	assertInfeasible(t, err, apperrors.ClassSearchLimit)
}

func TestSolveTimeLimit(t *testing.T) {
	now := time.Unix(0, 0)
	clock := func() time.Time {
		now = now.Add(time.Second)
		return now
	}
	s := NewSolver(SolverOptions{TimeLimit: time.Millisecond, Clock: clock}, nil)

	_, err := s.Solve(context.Background(), stackedPool(), DefaultConstraintSet(decimal.NewFromInt(100)))
	assertInfeasible(t, err, apperrors.ClassSearchLimit)
	assert.Contains(t, err.Error(), "time limit")
}

func TestSolveHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewSolver(SolverOptions{}, nil).Solve(ctx, stackedPool(), DefaultConstraintSet(decimal.NewFromInt(100)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTiesGoToLowerID(t *testing.T) {
	pool := minimalPool()
	// replace midfielder 11 with two identical options
	pool = append(pool[:10], pool[11:]...)
	pool = append(pool,
		player(31, mid, "M31", "5.0", 4),
		player(30, mid, "M30", "5.0", 4),
	)
	for _, relax := range relaxations() {
		t.Run(relax.Name(), func(t *testing.T) {
			sol, err := newTestSolver(relax).Solve(context.Background(), pool, DefaultConstraintSet(decimal.NewFromInt(100)))
			require.NoError(t, err)
			assert.Contains(t, sol.Squad.IDs(), 30)
			assert.NotContains(t, sol.Squad.IDs(), 31)
		})
	}
}

func TestTieBreakNeverBeatsValue(t *testing.T) {
	pool := minimalPool()
	// forward 13 has EV 13; a later ID slightly ahead of it must still win
	pool = append(pool, player(100, fwd, "G100", "5.0", 13+1e-7))

	for _, relax := range relaxations() {
		t.Run(relax.Name(), func(t *testing.T) {
			sol, err := newTestSolver(relax).Solve(context.Background(), pool, DefaultConstraintSet(decimal.NewFromInt(100)))
			require.NoError(t, err)
			assert.Contains(t, sol.Squad.IDs(), 100)
			assert.NotContains(t, sol.Squad.IDs(), 13)
		})
	}
}

func TestTieBonusStaysBelowValueGap(t *testing.T) {
	pool := []types.Candidate{
		player(1, gkp, "A", "5.0", 4),
		player(2, gkp, "A", "5.0", 4),
		player(3, def, "B", "5.0", 4.00001),
		player(4, def, "B", "5.0", 7),
	}
	bonus, eps := tieBonus(pool, 15)
	assert.Less(t, 15*bonus, 0.6*0.00001)
	assert.Greater(t, eps, 0.0)
	assert.Less(t, eps, bonus/float64(len(pool)))

	bonus, _ = tieBonus(pool[:2], 15)
	assert.InDelta(t, 1.0/30, bonus, 1e-12)
}

func TestSolveGroupRequirement(t *testing.T) {
	pool := randomPool(9)
	for i := range pool {
		switch pool[i].ID {
		case 1, 7, 15, 25:
			pool[i].Group = "REQ"
		}
	}
	cs := DefaultConstraintSet(decimal.NewFromInt(100))
	cs.GroupRequirements = map[string]int{"REQ": 3}

	for _, relax := range relaxations() {
		t.Run(relax.Name(), func(t *testing.T) {
			sol, err := newTestSolver(relax).Solve(context.Background(), pool, cs)
			require.NoError(t, err)
			assertSquadInvariants(t, sol.Squad, cs)
			assert.Equal(t, 3, sol.Squad.CountByGroup()["REQ"])
		})
	}
}

func TestSolveGroupCategoryCap(t *testing.T) {
	cs := DefaultConstraintSet(decimal.NewFromInt(100))
	cs.GroupCategoryCaps = map[string]map[types.Category]int{"TOP": {mid: 1}}

	sol, err := newTestSolver(nil).Solve(context.Background(), stackedPool(), cs)
	require.NoError(t, err)
	ids := sol.Squad.IDs()
	assert.Contains(t, ids, 101)
	assert.NotContains(t, ids, 102)
}

func TestSolveMinSpend(t *testing.T) {
	pool := randomPool(2)
	cheap, err := newTestSolver(nil).Solve(context.Background(), pool, DefaultConstraintSet(decimal.NewFromInt(100)))
	require.NoError(t, err)
	open, err := newTestSolver(nil).Solve(context.Background(), pool, DefaultConstraintSet(decimal.NewFromInt(120)))
	require.NoError(t, err)

	cs := DefaultConstraintSet(decimal.NewFromInt(120))
	cs.MinSpend = cheap.Squad.TotalCost.Add(decimal.RequireFromString("0.5"))
	for _, relax := range relaxations() {
		sol, err := newTestSolver(relax).Solve(context.Background(), pool, cs)
		require.NoError(t, err)
		assertSquadInvariants(t, sol.Squad, cs)
		assert.LessOrEqual(t, sol.Squad.TotalEV, open.Squad.TotalEV+1e-9)
	}
}

func TestSolveReportsProgress(t *testing.T) {
	var updates []Progress
	s := NewSolver(SolverOptions{Progress: func(p Progress) { updates = append(updates, p) }}, nil)
	sol, err := s.Solve(context.Background(), stackedPool(), DefaultConstraintSet(decimal.NewFromInt(100)))
	require.NoError(t, err)
	require.NotEmpty(t, updates)
	assert.InDelta(t, sol.Squad.TotalEV, updates[len(updates)-1].Incumbent, 1e-4)
}

func TestSolveRejectsBadPool(t *testing.T) {
	cs := DefaultConstraintSet(decimal.NewFromInt(100))
	tests := []struct {
		name   string
		mutate func([]types.Candidate) []types.Candidate
		field  string
	}{
		{"empty", func([]types.Candidate) []types.Candidate { return nil }, "candidates"},
		{"duplicate id", func(p []types.Candidate) []types.Candidate { p[1].ID = p[0].ID; return p }, "id"},
		{"bad category", func(p []types.Candidate) []types.Candidate { p[0].Category = "COACH"; return p }, "category"},
		{"zero cost", func(p []types.Candidate) []types.Candidate { p[0].Cost = decimal.Zero; return p }, "cost"},
		{"sub-tenth cost", func(p []types.Candidate) []types.Candidate {
			p[0].Cost = decimal.RequireFromString("4.55")
			return p
		}, "cost"},
		{"nan value", func(p []types.Candidate) []types.Candidate { p[0].ExpectedValue = math.NaN(); return p }, "expected_value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestSolver(nil).Solve(context.Background(), tt.mutate(minimalPool()), cs)
			require.Error(t, err)
			var input *apperrors.InputValidationError
			require.ErrorAs(t, err, &input)
			assert.Equal(t, tt.field, input.Field)
		})
	}
}
