package optimizer

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

const numCategories = 4

// Bounds on the smallest objective gain treated as an improvement.
const (
	maxImprovementEps = 1e-10
	minImprovementEps = 1e-13
)

// Fixing is the branch-and-bound state of one decision variable.
type Fixing int8

const (
	Free     Fixing = 0
	FixedIn  Fixing = 1
	FixedOut Fixing = -1
)

// Item is one candidate in integer form.
type Item struct {
	ID       int
	Category int
	Group    int
	Cost     int64 // tenths
	EV       float64
	// Value is EV plus the ID tie-break bonus; the solver maximizes the sum of Values.
	Value float64
}

// Problem is the 0/1 program handed to a relaxation. Items are in ascending ID order.
type Problem struct {
	Items             []Item
	Budget            int64
	MinSpend          int64
	Quotas            [numCategories]int
	GroupCap          int
	Groups            []string
	GroupRequirements map[int]int
	GroupCategoryCaps map[[2]int]int
	// Eps is the smallest objective gain the search treats as an improvement.
	Eps float64

	byCategory [numCategories][]int
	byGroup    [][]int
	candidates []types.Candidate
}

func newProblem(pool []types.Candidate, cs ConstraintSet) (*Problem, []Fixing) {
	sorted := make([]types.Candidate, len(pool))
	copy(sorted, pool)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	groupSet := make(map[string]bool)
	for _, c := range sorted {
		groupSet[c.Group] = true
	}
	groups := make([]string, 0, len(groupSet))
	for g := range groupSet {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	groupIdx := make(map[string]int, len(groups))
	for i, g := range groups {
		groupIdx[g] = i
	}

	p := &Problem{
		Items:             make([]Item, len(sorted)),
		Budget:            cs.Budget.Shift(1).Floor().IntPart(),
		MinSpend:          cs.MinSpend.Shift(1).Ceil().IntPart(),
		GroupCap:          cs.GroupCap,
		Groups:            groups,
		GroupRequirements: make(map[int]int),
		GroupCategoryCaps: make(map[[2]int]int),
		byGroup:           make([][]int, len(groups)),
		candidates:        sorted,
	}
	for _, cat := range types.Categories {
		p.Quotas[cat.Index()] = cs.Quotas[cat]
	}
	for g, n := range cs.GroupRequirements {
		if gi, ok := groupIdx[g]; ok {
			p.GroupRequirements[gi] = n
		} else if n > 0 {
			// a required group with no candidates; recorded against a sentinel index
			p.GroupRequirements[-1-len(p.GroupRequirements)] = n
		}
	}
	for g, caps := range cs.GroupCategoryCaps {
		gi, ok := groupIdx[g]
		if !ok {
			continue
		}
		for cat, n := range caps {
			if idx := cat.Index(); idx >= 0 {
				p.GroupCategoryCaps[[2]int{gi, idx}] = n
			}
		}
	}

	n := float64(len(sorted))
	bonus, eps := tieBonus(sorted, cs.SquadSize)
	p.Eps = eps
	for i, c := range sorted {
		cat := c.Category.Index()
		gi := groupIdx[c.Group]
		p.Items[i] = Item{
			ID:       c.ID,
			Category: cat,
			Group:    gi,
			Cost:     c.CostTenths(),
			EV:       c.ExpectedValue,
			Value:    c.ExpectedValue + bonus*(n-float64(i))/n,
		}
		p.byCategory[cat] = append(p.byCategory[cat], i)
		p.byGroup[gi] = append(p.byGroup[gi], i)
	}

	fixings := make([]Fixing, len(sorted))
	index := make(map[int]int, len(sorted))
	for i, c := range sorted {
		index[c.ID] = i
	}
	for _, id := range cs.ForcedInclude {
		if i, ok := index[id]; ok {
			fixings[i] = FixedIn
		}
	}
	for _, id := range cs.ForcedExclude {
		if i, ok := index[id]; ok {
			fixings[i] = FixedOut
		}
	}
	return p, fixings
}

// tieBonus returns the largest per-item tie-break bonus and the improvement tolerance for
// a pool in ID order. Bonuses fall with ID rank, so among equal-value squads the one holding
// lower IDs scores higher. A whole squad's bonuses stay below half the smallest nonzero gap
// between two candidate values, so they never outweigh a real difference in value.
func tieBonus(sorted []types.Candidate, squadSize int) (bonus, eps float64) {
	if squadSize < 1 {
		squadSize = 1
	}
	values := make([]float64, len(sorted))
	for i, c := range sorted {
		values[i] = c.ExpectedValue
	}
	sort.Float64s(values)

	gap := math.Inf(1)
	for i := 1; i < len(values); i++ {
		if d := values[i] - values[i-1]; d > 0 && d < gap {
			gap = d
		}
	}
	if math.IsInf(gap, 1) {
		gap = 1
	}

	bonus = gap / float64(2*squadSize)
	eps = maxImprovementEps
	if len(sorted) > 0 {
		eps = math.Min(eps, bonus/float64(len(sorted))/4)
	}
	return bonus, math.Max(eps, minImprovementEps)
}

// selectionValue sums item Values and true EVs.
func (p *Problem) selectionValue(sel []int) (value, ev float64) {
	for _, i := range sel {
		value += p.Items[i].Value
		ev += p.Items[i].EV
	}
	return value, ev
}

// violation describes the first group-level rule a selection breaks and the variable to
// branch on to repair it. branch is -1 when no free variable can repair it.
type violation struct {
	class        apperrors.InfeasibleClass
	branch       int
	includeFirst bool
}

// check verifies the constraints a relaxation may have dropped: group caps, group
// category caps and exact group requirements. Quotas, budget and minimum spend are
// enforced by every relaxation.
func (p *Problem) check(sel []int, fixings []Fixing) *violation {
	selected := make([]bool, len(p.Items))
	for _, i := range sel {
		selected[i] = true
	}

	for g, members := range p.byGroup {
		count := 0
		var catCount [numCategories]int
		for _, i := range members {
			if selected[i] {
				count++
				catCount[p.Items[i].Category]++
			}
		}

		limit := p.GroupCap
		class := apperrors.ClassGroupCap
		if req, ok := p.GroupRequirements[g]; ok && req < limit {
			limit = req
			class = apperrors.ClassGroupRequirement
		}
		if count > limit {
			return &violation{class: class, branch: p.weakestSelected(members, selected, fixings, -1)}
		}
		for cat := 0; cat < numCategories; cat++ {
			if cap, ok := p.GroupCategoryCaps[[2]int{g, cat}]; ok && catCount[cat] > cap {
				return &violation{class: apperrors.ClassGroupCap, branch: p.weakestSelected(members, selected, fixings, cat)}
			}
		}
		if req, ok := p.GroupRequirements[g]; ok && count < req {
			return &violation{class: apperrors.ClassGroupRequirement, branch: p.strongestUnselected(members, selected, fixings), includeFirst: true}
		}
	}
	for g, req := range p.GroupRequirements {
		if g < 0 && req > 0 {
			return &violation{class: apperrors.ClassGroupRequirement, branch: -1}
		}
	}
	return nil
}

// weakestSelected returns the free selected member with the lowest Value, optionally
// restricted to one category.
func (p *Problem) weakestSelected(members []int, selected []bool, fixings []Fixing, cat int) int {
	best := -1
	for _, i := range members {
		if !selected[i] || fixings[i] != Free || (cat >= 0 && p.Items[i].Category != cat) {
			continue
		}
		if best < 0 || p.Items[i].Value < p.Items[best].Value {
			best = i
		}
	}
	return best
}

func (p *Problem) strongestUnselected(members []int, selected []bool, fixings []Fixing) int {
	best := -1
	for _, i := range members {
		if selected[i] || fixings[i] != Free {
			continue
		}
		if best < 0 || p.Items[i].Value > p.Items[best].Value {
			best = i
		}
	}
	return best
}

// presolve finds infeasibility that is visible without searching and names its class.
func (p *Problem) presolve(fixings []Fixing) error {
	for cat := 0; cat < numCategories; cat++ {
		available, forced := 0, 0
		for _, i := range p.byCategory[cat] {
			switch fixings[i] {
			case Free:
				available++
			case FixedIn:
				available++
				forced++
			}
		}
		if forced > p.Quotas[cat] {
			return apperrors.NewInfeasible(apperrors.ClassForcedConflict, "%d forced %s, quota is %d", forced, types.Categories[cat], p.Quotas[cat])
		}
		if available < p.Quotas[cat] {
			return apperrors.NewInfeasible(apperrors.ClassCategoryCount, "need %d %s, %d available", p.Quotas[cat], types.Categories[cat], available)
		}
	}

	cheapest, dearest := int64(0), int64(0)
	for cat := 0; cat < numCategories; cat++ {
		lo, hi := p.extremeCost(cat, fixings)
		cheapest += lo
		dearest += hi
	}
	if cheapest > p.Budget {
		return apperrors.NewInfeasible(apperrors.ClassBudget, "cheapest valid squad costs %s, budget is %s", tenths(cheapest), tenths(p.Budget))
	}
	if dearest < p.MinSpend {
		return apperrors.NewInfeasible(apperrors.ClassMinSpend, "most expensive squad costs %s, minimum spend is %s", tenths(dearest), tenths(p.MinSpend))
	}

	// Supply under the group cap, per category and overall.
	total := 0
	for _, q := range p.Quotas {
		total += q
	}
	overall := 0
	var perCat [numCategories]int
	for g, members := range p.byGroup {
		limit := p.GroupCap
		if req, ok := p.GroupRequirements[g]; ok && req < limit {
			limit = req
		}
		var catAvail [numCategories]int
		avail := 0
		for _, i := range members {
			if fixings[i] == FixedOut {
				continue
			}
			avail++
			catAvail[p.Items[i].Category]++
		}
		if req, ok := p.GroupRequirements[g]; ok && avail < req {
			return apperrors.NewInfeasible(apperrors.ClassGroupRequirement, "group %s requires %d, %d available", p.Groups[g], req, avail)
		}
		overall += minInt(avail, limit)
		for cat := 0; cat < numCategories; cat++ {
			n := minInt(catAvail[cat], limit)
			if cap, ok := p.GroupCategoryCaps[[2]int{g, cat}]; ok {
				n = minInt(n, cap)
			}
			perCat[cat] += n
		}
	}
	for g, req := range p.GroupRequirements {
		if g < 0 && req > 0 {
			return apperrors.NewInfeasible(apperrors.ClassGroupRequirement, "a required group has no candidates")
		}
	}
	for cat := 0; cat < numCategories; cat++ {
		if perCat[cat] < p.Quotas[cat] {
			return apperrors.NewInfeasible(apperrors.ClassGroupCap, "only %d %s selectable under group caps, need %d", perCat[cat], types.Categories[cat], p.Quotas[cat])
		}
	}
	if overall < total {
		return apperrors.NewInfeasible(apperrors.ClassGroupCap, "only %d candidates selectable under group caps, need %d", overall, total)
	}
	return nil
}

// extremeCost returns the cheapest and dearest way to fill a category's quota.
func (p *Problem) extremeCost(cat int, fixings []Fixing) (int64, int64) {
	var fixed int64
	need := p.Quotas[cat]
	var free []int64
	for _, i := range p.byCategory[cat] {
		switch fixings[i] {
		case FixedIn:
			fixed += p.Items[i].Cost
			need--
		case Free:
			free = append(free, p.Items[i].Cost)
		}
	}
	sort.Slice(free, func(i, j int) bool { return free[i] < free[j] })
	lo, hi := fixed, fixed
	for k := 0; k < need && k < len(free); k++ {
		lo += free[k]
		hi += free[len(free)-1-k]
	}
	return lo, hi
}

func tenths(v int64) string {
	return decimal.New(v, -1).StringFixed(1)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func isNegInf(v float64) bool {
	return math.IsInf(v, -1)
}
