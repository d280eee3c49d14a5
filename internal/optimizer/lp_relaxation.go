package optimizer

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	lpTolerance    = 1e-10
	integralityTol = 1e-6
)

// LPRelaxation bounds nodes with the continuous relaxation of the full model, group
// rules included, solved by simplex. Nodes the simplex cannot handle are bounded by the
// DP relaxation instead.
type LPRelaxation struct{}

func (LPRelaxation) Name() string { return RelaxationLP }

func (LPRelaxation) Prepare(p *Problem) Bounder {
	return &lpBounder{p: p, fallback: DPRelaxation{}.Prepare(p)}
}

type lpBounder struct {
	p        *Problem
	fallback Bounder
}

// lpModel is one node in standard form: minimize c·x subject to Ax = b, x >= 0.
type lpModel struct {
	cols  int
	rows  [][]float64
	rhs   []float64
	obj   []float64
	free  []int
	fixed []int
	base  float64
}

func (m *lpModel) row(coef map[int]float64, rhs float64) {
	r := make([]float64, m.cols)
	for k, v := range coef {
		r[k] = v
	}
	m.rows = append(m.rows, r)
	m.rhs = append(m.rhs, rhs)
}

func (b *lpBounder) Bound(fixings []Fixing) Relaxed {
	model, ok := b.build(fixings)
	if !ok {
		return Relaxed{}
	}
	if len(model.free) == 0 {
		// Fully fixed: the DP bounder verifies quotas, budget and minimum spend.
		return b.fallback.Bound(fixings)
	}
	if len(model.rows) > model.cols {
		return b.fallback.Bound(fixings)
	}

	A := mat.NewDense(len(model.rows), model.cols, nil)
	for r, row := range model.rows {
		A.SetRow(r, row)
	}
	optF, optX, err := lp.Simplex(model.obj, A, model.rhs, lpTolerance, nil)
	if errors.Is(err, lp.ErrInfeasible) {
		return Relaxed{}
	}
	if err != nil {
		return b.fallback.Bound(fixings)
	}

	values := make([]float64, len(b.p.Items))
	for _, i := range model.fixed {
		values[i] = 1
	}
	integral := true
	for k, i := range model.free {
		v := optX[k]
		values[i] = v
		if v > integralityTol && v < 1-integralityTol {
			integral = false
		}
	}

	r := Relaxed{Feasible: true, Bound: model.base - optF}
	if !integral {
		r.Values = values
		return r
	}
	sel := append([]int(nil), model.fixed...)
	for k, i := range model.free {
		if optX[k] > 0.5 {
			sel = append(sel, i)
		}
	}
	sort.Ints(sel)
	r.Selection = sel
	r.Bound, _ = b.p.selectionValue(sel)
	return r
}

// build lays out the node's rows. It reports false when fixings alone already break a
// quota, cap or the budget.
func (b *lpBounder) build(fixings []Fixing) (*lpModel, bool) {
	p := b.p
	m := &lpModel{}
	pos := make(map[int]int)
	var fixedCost int64
	var catFixed [numCategories]int
	groupFixed := make([]int, len(p.Groups))
	gcFixed := make(map[[2]int]int)
	for i, it := range p.Items {
		switch fixings[i] {
		case FixedIn:
			m.fixed = append(m.fixed, i)
			m.base += it.Value
			fixedCost += it.Cost
			catFixed[it.Category]++
			groupFixed[it.Group]++
			gcFixed[[2]int{it.Group, it.Category}]++
		case Free:
			pos[i] = len(m.free)
			m.free = append(m.free, i)
		}
	}
	n := len(m.free)

	// Column layout: x (n), bound slacks (n), then one slack per inequality row.
	type ineq struct {
		coef map[int]float64
		rhs  float64
		sign float64
	}
	var ineqs []ineq
	var eqs []ineq

	budgetCoef := make(map[int]float64, n)
	for k, i := range m.free {
		budgetCoef[k] = float64(p.Items[i].Cost)
	}
	if p.Budget < fixedCost {
		return nil, false
	}
	ineqs = append(ineqs, ineq{coef: budgetCoef, rhs: float64(p.Budget - fixedCost), sign: 1})
	if rest := p.MinSpend - fixedCost; rest > 0 {
		ineqs = append(ineqs, ineq{coef: budgetCoef, rhs: float64(rest), sign: -1})
	}

	for cat := 0; cat < numCategories; cat++ {
		need := p.Quotas[cat] - catFixed[cat]
		coef := make(map[int]float64)
		for _, i := range p.byCategory[cat] {
			if k, ok := pos[i]; ok {
				coef[k] = 1
			}
		}
		if need < 0 || need > len(coef) {
			return nil, false
		}
		if len(coef) > 0 {
			eqs = append(eqs, ineq{coef: coef, rhs: float64(need)})
		}
	}

	for g, members := range p.byGroup {
		coef := make(map[int]float64)
		for _, i := range members {
			if k, ok := pos[i]; ok {
				coef[k] = 1
			}
		}
		room := p.GroupCap - groupFixed[g]
		if room < 0 {
			return nil, false
		}
		if req, ok := p.GroupRequirements[g]; ok {
			need := req - groupFixed[g]
			if need < 0 || need > len(coef) {
				return nil, false
			}
			if len(coef) > 0 {
				eqs = append(eqs, ineq{coef: coef, rhs: float64(need)})
			}
		} else if len(coef) > room {
			ineqs = append(ineqs, ineq{coef: coef, rhs: float64(room), sign: 1})
		}
		for cat := 0; cat < numCategories; cat++ {
			limit, ok := p.GroupCategoryCaps[[2]int{g, cat}]
			if !ok {
				continue
			}
			room := limit - gcFixed[[2]int{g, cat}]
			if room < 0 {
				return nil, false
			}
			gc := make(map[int]float64)
			for _, i := range members {
				if k, ok := pos[i]; ok && p.Items[i].Category == cat {
					gc[k] = 1
				}
			}
			if len(gc) > room {
				ineqs = append(ineqs, ineq{coef: gc, rhs: float64(room), sign: 1})
			}
		}
	}
	for g, req := range p.GroupRequirements {
		if g < 0 && req > 0 {
			return nil, false
		}
	}

	m.cols = 2*n + len(ineqs)
	m.obj = make([]float64, m.cols)
	for k, i := range m.free {
		m.obj[k] = -p.Items[i].Value
		m.row(map[int]float64{k: 1, n + k: 1}, 1)
	}
	for s, in := range ineqs {
		coef := make(map[int]float64, len(in.coef)+1)
		for k, v := range in.coef {
			coef[k] = v
		}
		coef[2*n+s] = in.sign
		m.row(coef, in.rhs)
	}
	for _, eq := range eqs {
		m.row(eq.coef, eq.rhs)
	}
	return m, true
}

// mostFractional picks the free variable closest to one half, lowest index first.
func mostFractional(values []float64, fixings []Fixing) int {
	best := -1
	bestDist := math.Inf(1)
	for i, v := range values {
		if fixings[i] != Free {
			continue
		}
		if v <= integralityTol || v >= 1-integralityTol {
			continue
		}
		if d := math.Abs(v - 0.5); d < bestDist {
			best = i
			bestDist = d
		}
	}
	return best
}
