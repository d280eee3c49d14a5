package optimizer

import (
	"sort"

	"github.com/shopspring/decimal"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// Squad shape defaults.
const (
	DefaultSquadSize = 15
	DefaultGroupCap  = 3
)

// Rule names reported by ConstraintConflictError.
const (
	RuleQuotaSum         = "quota sum"
	RuleForcedUnknown    = "forced unknown"
	RuleForcedOverlap    = "forced overlap"
	RuleForcedQuota      = "forced quota"
	RuleForcedGroupCap   = "forced group cap"
	RuleForcedBudget     = "forced budget"
	RuleGroupRequirement = "group requirement"
	RuleGroupCategoryCap = "group category cap"
	RuleMinSpend         = "minimum spend"
)

// DefaultQuotas is the 2/5/5/3 squad shape.
func DefaultQuotas() map[types.Category]int {
	return map[types.Category]int{
		types.CategoryGoalkeeper: 2,
		types.CategoryDefender:   5,
		types.CategoryMidfielder: 5,
		types.CategoryForward:    3,
	}
}

// ConstraintSet is everything the solver must respect.
type ConstraintSet struct {
	Budget        decimal.Decimal        `json:"budget"`
	SquadSize     int                    `json:"squad_size"`
	Quotas        map[types.Category]int `json:"quotas"`
	GroupCap      int                    `json:"group_cap"`
	ForcedInclude []int                  `json:"forced_include,omitempty"`
	ForcedExclude []int                  `json:"forced_exclude,omitempty"`

	// MinSpend is a lower bound on total cost; zero disables it.
	MinSpend decimal.Decimal `json:"min_spend"`
	// GroupRequirements fixes the exact member count of a group.
	GroupRequirements map[string]int `json:"group_requirements,omitempty"`
	// GroupCategoryCaps limits members of one category from one group.
	GroupCategoryCaps map[string]map[types.Category]int `json:"group_category_caps,omitempty"`
}

// DefaultConstraintSet returns the standard squad rules for the given budget.
func DefaultConstraintSet(budget decimal.Decimal) ConstraintSet {
	return ConstraintSet{
		Budget:    budget,
		SquadSize: DefaultSquadSize,
		Quotas:    DefaultQuotas(),
		GroupCap:  DefaultGroupCap,
	}
}

// Validate runs the static feasibility checks against the pool. Structural problems with
// the set itself are input errors; contradictions between forced selections and the
// rules are constraint conflicts.
func (cs ConstraintSet) Validate(pool []types.Candidate) error {
	if !cs.Budget.IsPositive() {
		return apperrors.NewInputValidation("budget", "must be positive, got %s", cs.Budget)
	}
	if cs.SquadSize <= 0 {
		return apperrors.NewInputValidation("squad_size", "must be positive, got %d", cs.SquadSize)
	}
	if cs.GroupCap <= 0 {
		return apperrors.NewInputValidation("group_cap", "must be positive, got %d", cs.GroupCap)
	}
	if cs.MinSpend.IsNegative() {
		return apperrors.NewInputValidation("min_spend", "must not be negative")
	}

	quotaSum := 0
	for cat, n := range cs.Quotas {
		if !cat.Valid() {
			return apperrors.NewInputValidation("quotas", "unknown category %q", cat)
		}
		if n < 0 {
			return apperrors.NewInputValidation("quotas", "%s quota is negative", cat)
		}
		quotaSum += n
	}
	if quotaSum != cs.SquadSize {
		return apperrors.NewConstraintConflict(RuleQuotaSum, "category quotas sum to %d, squad size is %d", quotaSum, cs.SquadSize)
	}

	if cs.MinSpend.GreaterThan(cs.Budget) {
		return apperrors.NewConstraintConflict(RuleMinSpend, "minimum spend %s exceeds budget %s", cs.MinSpend, cs.Budget)
	}

	reqTotal := 0
	for _, g := range sortedKeys(cs.GroupRequirements) {
		n := cs.GroupRequirements[g]
		if n < 0 || n > cs.GroupCap {
			return apperrors.NewConstraintConflict(RuleGroupRequirement, "group %s requires %d members, cap is %d", g, n, cs.GroupCap)
		}
		reqTotal += n
	}
	if reqTotal > cs.SquadSize {
		return apperrors.NewConstraintConflict(RuleGroupRequirement, "group requirements total %d, squad size is %d", reqTotal, cs.SquadSize)
	}

	byID := make(map[int]types.Candidate, len(pool))
	for _, c := range pool {
		byID[c.ID] = c
	}

	include := dedupe(cs.ForcedInclude)
	exclude := dedupe(cs.ForcedExclude)

	for _, id := range include {
		if _, ok := byID[id]; !ok {
			return apperrors.NewConstraintConflict(RuleForcedUnknown, "forced include %d is not in the pool", id)
		}
	}
	for _, id := range exclude {
		if _, ok := byID[id]; !ok {
			return apperrors.NewConstraintConflict(RuleForcedUnknown, "forced exclude %d is not in the pool", id)
		}
	}

	excluded := make(map[int]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	for _, id := range include {
		if excluded[id] {
			return apperrors.NewConstraintConflict(RuleForcedOverlap, "candidate %d is both forced in and forced out", id)
		}
	}

	perCategory := make(map[types.Category]int)
	perGroup := make(map[string]int)
	perGroupCategory := make(map[string]map[types.Category]int)
	cost := decimal.Zero
	for _, id := range include {
		c := byID[id]
		perCategory[c.Category]++
		perGroup[c.Group]++
		if perGroupCategory[c.Group] == nil {
			perGroupCategory[c.Group] = make(map[types.Category]int)
		}
		perGroupCategory[c.Group][c.Category]++
		cost = cost.Add(c.Cost)
	}

	for _, cat := range types.Categories {
		if perCategory[cat] > cs.Quotas[cat] {
			return apperrors.NewConstraintConflict(RuleForcedQuota, "%d forced %s, quota is %d", perCategory[cat], cat, cs.Quotas[cat])
		}
	}
	for _, g := range sortedKeys(perGroup) {
		if perGroup[g] > cs.GroupCap {
			return apperrors.NewConstraintConflict(RuleForcedGroupCap, "%d forced from group %s, cap is %d", perGroup[g], g, cs.GroupCap)
		}
		if req, ok := cs.GroupRequirements[g]; ok && perGroup[g] > req {
			return apperrors.NewConstraintConflict(RuleGroupRequirement, "%d forced from group %s, requirement is %d", perGroup[g], g, req)
		}
		for _, cat := range types.Categories {
			n := perGroupCategory[g][cat]
			if limit, ok := cs.GroupCategoryCaps[g][cat]; ok && n > limit {
				return apperrors.NewConstraintConflict(RuleGroupCategoryCap, "%d forced %s from group %s, cap is %d", n, cat, g, limit)
			}
		}
	}
	if cost.GreaterThan(cs.Budget) {
		return apperrors.NewConstraintConflict(RuleForcedBudget, "forced candidates cost %s, budget is %s", cost, cs.Budget)
	}
	return nil
}

func dedupe(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
