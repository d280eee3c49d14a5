package optimizer

import (
	"sort"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// RuleLineup is reported when no starting set satisfies the lineup rules.
const RuleLineup = "lineup"

const lineupTieEps = 1e-12

// LineupRules shapes the starting set and the reserve order.
type LineupRules struct {
	Starters   int
	StarterMin map[types.Category]int
	StarterMax map[types.Category]int
	// ReserveKeeperLast puts reserve keepers behind every outfield reserve.
	ReserveKeeperLast bool
	// MaxExpensiveReserves caps reserves costing more than ExpensiveThreshold. A negative
	// value disables the cap. If the cap leaves no valid lineup it is dropped.
	MaxExpensiveReserves int
	ExpensiveThreshold   decimal.Decimal
}

// DefaultLineupRules is eleven starters with 1/3/2/1 floors and 1/5/5/3 ceilings.
func DefaultLineupRules() LineupRules {
	return LineupRules{
		Starters: 11,
		StarterMin: map[types.Category]int{
			types.CategoryGoalkeeper: 1,
			types.CategoryDefender:   3,
			types.CategoryMidfielder: 2,
			types.CategoryForward:    1,
		},
		StarterMax: map[types.Category]int{
			types.CategoryGoalkeeper: 1,
			types.CategoryDefender:   5,
			types.CategoryMidfielder: 5,
			types.CategoryForward:    3,
		},
		ReserveKeeperLast:    true,
		MaxExpensiveReserves: -1,
	}
}

// Validate checks the rules are internally consistent.
func (r LineupRules) Validate() error {
	if r.Starters <= 0 {
		return apperrors.NewInputValidation("lineup.starters", "must be positive, got %d", r.Starters)
	}
	floors, ceilings := 0, 0
	for _, cat := range types.Categories {
		lo := r.StarterMin[cat]
		hi, ok := r.StarterMax[cat]
		if !ok {
			hi = r.Starters
		}
		if lo < 0 || hi < lo {
			return apperrors.NewInputValidation("lineup", "%s starter bounds [%d, %d] are invalid", cat, lo, hi)
		}
		floors += lo
		ceilings += hi
	}
	if floors > r.Starters {
		return apperrors.NewInputValidation("lineup.starter_min", "floors sum to %d, more than %d starters", floors, r.Starters)
	}
	if ceilings < r.Starters {
		return apperrors.NewInputValidation("lineup.starter_max", "ceilings sum to %d, fewer than %d starters", ceilings, r.Starters)
	}
	return nil
}

// Partitioner splits a squad into starters and ordered reserves.
type Partitioner struct {
	rules  LineupRules
	logger *logrus.Entry
}

func NewPartitioner(rules LineupRules, log *logrus.Entry) *Partitioner {
	if log == nil {
		log = logger.Discard()
	}
	return &Partitioner{rules: rules, logger: logger.WithComponent(log, "lineup")}
}

// Partition picks the starting set with the highest total expected value that meets the
// category bounds. Among equal-value starting sets the lower-ranked members are benched,
// ranking by expected value and then ID.
func (pt *Partitioner) Partition(squad types.Squad) (types.Lineup, error) {
	if err := pt.rules.Validate(); err != nil {
		return types.Lineup{}, err
	}
	nReserves := len(squad.Members) - pt.rules.Starters
	if nReserves < 0 {
		return types.Lineup{}, apperrors.NewInputValidation("squad", "%d members cannot field %d starters", len(squad.Members), pt.rules.Starters)
	}

	ranked := make([]types.Candidate, len(squad.Members))
	copy(ranked, squad.Members)
	sort.SliceStable(ranked, func(i, j int) bool { return byValue(ranked[i], ranked[j]) })

	bench, ok := pt.bestBench(ranked, nReserves, true)
	if !ok && pt.rules.MaxExpensiveReserves >= 0 {
		pt.logger.WithField("max_expensive_reserves", pt.rules.MaxExpensiveReserves).
			Warn("Expensive reserve cap leaves no valid lineup, ignoring it")
		bench, ok = pt.bestBench(ranked, nReserves, false)
	}
	if !ok {
		return types.Lineup{}, apperrors.NewConstraintConflict(RuleLineup, "no starting %d meets the category bounds", pt.rules.Starters)
	}

	benched := make(map[int]bool, len(bench))
	for _, k := range bench {
		benched[k] = true
	}
	var lineup types.Lineup
	for k, c := range ranked {
		if benched[k] {
			lineup.Reserves = append(lineup.Reserves, c)
		} else {
			lineup.Starters = append(lineup.Starters, c)
			lineup.StartingEV += c.ExpectedValue
		}
	}

	// ranked order puts the two best starters first
	if len(lineup.Starters) > 0 {
		lineup.CaptainID = lineup.Starters[0].ID
	}
	if len(lineup.Starters) > 1 {
		lineup.ViceCaptainID = lineup.Starters[1].ID
	}

	pt.orderReserves(lineup.Reserves)
	sort.SliceStable(lineup.Starters, func(i, j int) bool {
		a, b := lineup.Starters[i], lineup.Starters[j]
		if a.Category != b.Category {
			return a.Category.Index() < b.Category.Index()
		}
		return byValue(a, b)
	})
	return lineup, nil
}

// bestBench enumerates reserve sets over ranked positions, lowest-ranked first, keeping
// the first set with the smallest reserve value.
func (pt *Partitioner) bestBench(ranked []types.Candidate, k int, capExpensive bool) ([]int, bool) {
	n := len(ranked)
	var best []int
	bestValue := 0.0

	// combo holds offsets from the bottom of the ranking.
	combo := make([]int, k)
	for i := range combo {
		combo[i] = i
	}
	for {
		bench := make([]int, k)
		for i, off := range combo {
			bench[i] = n - 1 - off
		}
		if pt.valid(ranked, bench, capExpensive) {
			v := 0.0
			for _, i := range bench {
				v += ranked[i].ExpectedValue
			}
			if best == nil || v < bestValue-lineupTieEps {
				best = bench
				bestValue = v
			}
		}

		// next combination in lexicographic order
		i := k - 1
		for i >= 0 && combo[i] == n-k+i {
			i--
		}
		if i < 0 {
			break
		}
		combo[i]++
		for j := i + 1; j < k; j++ {
			combo[j] = combo[j-1] + 1
		}
	}
	return best, best != nil
}

func (pt *Partitioner) valid(ranked []types.Candidate, bench []int, capExpensive bool) bool {
	benched := make(map[int]bool, len(bench))
	expensive := 0
	for _, i := range bench {
		benched[i] = true
		if ranked[i].Cost.GreaterThan(pt.rules.ExpensiveThreshold) {
			expensive++
		}
	}
	if capExpensive && pt.rules.MaxExpensiveReserves >= 0 && expensive > pt.rules.MaxExpensiveReserves {
		return false
	}

	counts := make(map[types.Category]int, len(types.Categories))
	for i, c := range ranked {
		if !benched[i] {
			counts[c.Category]++
		}
	}
	for _, cat := range types.Categories {
		if counts[cat] < pt.rules.StarterMin[cat] {
			return false
		}
		if hi, ok := pt.rules.StarterMax[cat]; ok && counts[cat] > hi {
			return false
		}
	}
	return true
}

// orderReserves sorts by expected value, outfield ahead of keepers on equal value, then
// ID. With ReserveKeeperLast keepers go behind every outfield reserve.
func (pt *Partitioner) orderReserves(reserves []types.Candidate) {
	keeper := func(c types.Candidate) bool { return c.Category == types.CategoryGoalkeeper }
	sort.SliceStable(reserves, func(i, j int) bool {
		a, b := reserves[i], reserves[j]
		if pt.rules.ReserveKeeperLast && keeper(a) != keeper(b) {
			return !keeper(a)
		}
		if a.ExpectedValue != b.ExpectedValue {
			return a.ExpectedValue > b.ExpectedValue
		}
		if keeper(a) != keeper(b) {
			return !keeper(a)
		}
		return a.ID < b.ID
	})
}

func byValue(a, b types.Candidate) bool {
	if a.ExpectedValue != b.ExpectedValue {
		return a.ExpectedValue > b.ExpectedValue
	}
	return a.ID < b.ID
}
