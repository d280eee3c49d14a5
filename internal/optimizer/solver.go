package optimizer

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/logger"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// Search bounds used when SolverOptions leaves them unset.
const (
	DefaultMaxNodes  = 200000
	DefaultTimeLimit = 20 * time.Second

	progressEvery = 1000
	pollEvery     = 64
)

// Progress is a branch-and-bound snapshot, reported on every new incumbent and
// periodically while searching.
type Progress struct {
	Nodes     int           `json:"nodes"`
	Incumbent float64       `json:"incumbent"`
	Bound     float64       `json:"bound"`
	Elapsed   time.Duration `json:"elapsed"`
}

// SolverOptions configures a Solver.
type SolverOptions struct {
	MaxNodes   int
	TimeLimit  time.Duration
	Relaxation Relaxation
	// Progress, when set, is called synchronously from the solving goroutine.
	Progress func(Progress)
	// Clock is used for the time limit and stats; defaults to time.Now.
	Clock func() time.Time
}

// Solution is an optimal squad and how it was found.
type Solution struct {
	Squad types.Squad
	Stats types.SolveStats
}

// Solver selects the value-maximizing squad by exact branch and bound. A Solver holds
// no per-solve state and may be shared between goroutines.
type Solver struct {
	opts   SolverOptions
	logger *logrus.Entry
}

// NewSolver fills in defaults for unset options.
func NewSolver(opts SolverOptions, log *logrus.Entry) *Solver {
	if opts.MaxNodes <= 0 {
		opts.MaxNodes = DefaultMaxNodes
	}
	if opts.TimeLimit <= 0 {
		opts.TimeLimit = DefaultTimeLimit
	}
	if opts.Relaxation == nil {
		opts.Relaxation = DPRelaxation{}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if log == nil {
		log = logger.Discard()
	}
	return &Solver{opts: opts, logger: logger.WithComponent(log, "solver")}
}

type searchNode struct {
	fixings []Fixing
	depth   int
}

// Solve returns the optimal squad for the scored candidates. Ties in total expected value
// go to the squad with lower candidate IDs. Infeasible instances and instances that exceed
// the node or time bound return an InfeasibleError.
func (s *Solver) Solve(ctx context.Context, candidates []types.Candidate, cs ConstraintSet) (*Solution, error) {
	if err := ValidatePool(candidates); err != nil {
		return nil, err
	}
	if err := cs.Validate(candidates); err != nil {
		return nil, err
	}

	start := s.opts.Clock()
	p, rootFixings := newProblem(candidates, cs)
	if err := p.presolve(rootFixings); err != nil {
		s.logger.WithError(err).Debug("Presolve rejected instance")
		return nil, err
	}

	bounder := s.opts.Relaxation.Prepare(p)
	var (
		incumbent      []int
		incumbentValue = math.Inf(-1)
		rootViolation  *violation
		rootBound      = math.Inf(-1)
		nodes          int
	)

	stack := []searchNode{{fixings: rootFixings}}
	for len(stack) > 0 {
		nd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		nodes++

		if nodes%pollEvery == 1 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if s.opts.Clock().Sub(start) > s.opts.TimeLimit {
				return nil, s.limitError("time limit %s", s.opts.TimeLimit, nodes, incumbent != nil, incumbentValue)
			}
		}
		if nodes > s.opts.MaxNodes {
			return nil, s.limitError("node limit %d", s.opts.MaxNodes, nodes, incumbent != nil, incumbentValue)
		}
		if s.opts.Progress != nil && nodes%progressEvery == 0 {
			s.opts.Progress(Progress{Nodes: nodes, Incumbent: incumbentValue, Bound: rootBound, Elapsed: s.opts.Clock().Sub(start)})
		}

		r := bounder.Bound(nd.fixings)
		if nd.depth == 0 {
			rootBound = r.Bound
		}
		if !r.Feasible || r.Bound <= incumbentValue+p.Eps {
			if nd.depth == 0 && !r.Feasible {
				return nil, s.classifyRoot(p, rootFixings)
			}
			continue
		}

		if r.Selection == nil {
			branch := mostFractional(r.Values, nd.fixings)
			if branch < 0 {
				continue
			}
			stack = append(stack, child(nd, branch, FixedOut), child(nd, branch, FixedIn))
			continue
		}

		v := p.check(r.Selection, nd.fixings)
		if v == nil {
			value, _ := p.selectionValue(r.Selection)
			if value > incumbentValue+p.Eps {
				incumbent = r.Selection
				incumbentValue = value
				if s.opts.Progress != nil {
					s.opts.Progress(Progress{Nodes: nodes, Incumbent: value, Bound: rootBound, Elapsed: s.opts.Clock().Sub(start)})
				}
			}
			continue
		}
		if nd.depth == 0 {
			rootViolation = v
		}
		if v.branch < 0 {
			continue
		}
		if v.includeFirst {
			stack = append(stack, child(nd, v.branch, FixedOut), child(nd, v.branch, FixedIn))
		} else {
			stack = append(stack, child(nd, v.branch, FixedIn), child(nd, v.branch, FixedOut))
		}
	}

	elapsed := s.opts.Clock().Sub(start)
	if incumbent == nil {
		class := apperrors.ClassGroupCap
		if rootViolation != nil {
			class = rootViolation.class
		}
		return nil, apperrors.NewInfeasible(class, "no squad satisfies the %s rules after %d nodes", class, nodes)
	}

	members := make([]types.Candidate, len(incumbent))
	for k, i := range incumbent {
		members[k] = p.candidates[i]
	}
	sol := &Solution{
		Squad: types.NewSquad(members),
		Stats: types.SolveStats{Nodes: nodes, Duration: elapsed, Relaxation: s.opts.Relaxation.Name()},
	}
	s.logger.WithFields(logrus.Fields{
		"nodes":      nodes,
		"duration":   elapsed,
		"total_ev":   sol.Squad.TotalEV,
		"total_cost": sol.Squad.TotalCost.String(),
		"relaxation": sol.Stats.Relaxation,
	}).Debug("Squad solved")
	return sol, nil
}

func child(parent searchNode, i int, f Fixing) searchNode {
	fixings := make([]Fixing, len(parent.fixings))
	copy(fixings, parent.fixings)
	fixings[i] = f
	return searchNode{fixings: fixings, depth: parent.depth + 1}
}

func (s *Solver) limitError(format string, limit interface{}, nodes int, found bool, best float64) error {
	detail := "exceeded " + format + " after %d nodes"
	if !found {
		return apperrors.NewInfeasible(apperrors.ClassSearchLimit, detail+" without a feasible squad", limit, nodes)
	}
	return apperrors.NewInfeasible(apperrors.ClassSearchLimit, detail+"; best unproven squad EV %.2f", limit, nodes, best)
}

// classifyRoot names the rule that makes the root relaxation infeasible. Presolve has
// ruled out simple counting failures, so what remains is the budget window or, for
// relaxations that model them, the group rules.
func (s *Solver) classifyRoot(p *Problem, fixings []Fixing) error {
	if r := (DPRelaxation{}).Prepare(p).Bound(fixings); r.Feasible {
		if v := p.check(r.Selection, fixings); v != nil {
			return apperrors.NewInfeasible(v.class, "no squad satisfies the %s rules", v.class)
		}
		return apperrors.NewInfeasible(apperrors.ClassGroupCap, "no squad satisfies the group rules")
	}
	if p.MinSpend > 0 {
		relaxed := *p
		relaxed.MinSpend = 0
		if (DPRelaxation{}).Prepare(&relaxed).Bound(fixings).Feasible {
			return apperrors.NewInfeasible(apperrors.ClassMinSpend, "no squad spends between %s and %s", tenths(p.MinSpend), tenths(p.Budget))
		}
	}
	return apperrors.NewInfeasible(apperrors.ClassBudget, "no squad fits the budget of %s", tenths(p.Budget))
}

// ValidatePool checks the candidate rows the solver relies on.
func ValidatePool(candidates []types.Candidate) error {
	if len(candidates) == 0 {
		return apperrors.NewInputValidation("candidates", "pool is empty")
	}
	seen := make(map[int]bool, len(candidates))
	for _, c := range candidates {
		if seen[c.ID] {
			return apperrors.NewInputValidation("id", "duplicate candidate id %d", c.ID)
		}
		seen[c.ID] = true
		if !c.Category.Valid() {
			return apperrors.NewInputValidation("category", "candidate %d has unknown category %q", c.ID, c.Category)
		}
		if !c.Cost.IsPositive() {
			return apperrors.NewInputValidation("cost", "candidate %d has non-positive cost %s", c.ID, c.Cost)
		}
		if !c.Cost.Shift(1).Equal(c.Cost.Shift(1).Truncate(0)) {
			return apperrors.NewInputValidation("cost", "candidate %d cost %s is not a multiple of 0.1", c.ID, c.Cost)
		}
		if math.IsNaN(c.ExpectedValue) || math.IsInf(c.ExpectedValue, 0) {
			return apperrors.NewInputValidation("expected_value", "candidate %d has non-finite expected value", c.ID)
		}
	}
	return nil
}
