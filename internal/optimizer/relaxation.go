package optimizer

import (
	"math"
	"sort"
)

// Relaxation produces upper bounds for branch and bound. Implementations may drop any
// group-level rule, which the solver re-checks on every integral selection, but must
// enforce category quotas, budget and minimum spend.
type Relaxation interface {
	Name() string
	Prepare(p *Problem) Bounder
}

// Bounder evaluates one node. It is used by a single goroutine.
type Bounder interface {
	Bound(fixings []Fixing) Relaxed
}

// Relaxed is a node bound. Selection is set when the relaxed optimum is integral;
// otherwise Values holds the fractional solution indexed like Problem.Items.
type Relaxed struct {
	Feasible  bool
	Bound     float64
	Selection []int
	Values    []float64
}

// Relaxation names accepted by RelaxationByName.
const (
	RelaxationDP = "dp"
	RelaxationLP = "lp"
)

// RelaxationByName maps a configured name to an implementation.
func RelaxationByName(name string) (Relaxation, bool) {
	switch name {
	case "", RelaxationDP:
		return DPRelaxation{}, true
	case RelaxationLP:
		return LPRelaxation{}, true
	}
	return nil, false
}

// DPRelaxation drops the group rules and solves the remaining problem exactly: a
// count-and-cost knapsack per category combined by max-plus convolution. Its bound is
// always attained by an integral selection.
type DPRelaxation struct{}

func (DPRelaxation) Name() string { return RelaxationDP }

func (DPRelaxation) Prepare(p *Problem) Bounder {
	return &dpBounder{p: p, cache: make(map[string]*categoryTable)}
}

const dpCacheLimit = 512

type dpBounder struct {
	p     *Problem
	cache map[string]*categoryTable
	key   []byte
}

// categoryTable is the best way to fill one category's remaining quota from its free
// items, by exact free cost.
type categoryTable struct {
	feasible   bool
	fixedCost  int64
	fixedValue float64
	fixedIn    []int
	free       []int
	freeCost   []int64
	need       int
	best       []float64 // index: free cost
	took       bitset    // [item][count][cost]
}

func (b *dpBounder) Bound(fixings []Fixing) Relaxed {
	p := b.p
	var tables [numCategories]*categoryTable
	for cat := 0; cat < numCategories; cat++ {
		t := b.table(cat, fixings)
		if !t.feasible {
			return Relaxed{}
		}
		tables[cat] = t
	}

	offset := int64(0)
	value := 0.0
	for _, t := range tables {
		offset += t.fixedCost
		value += t.fixedValue
	}
	limit := p.Budget - offset
	if limit < 0 {
		return Relaxed{}
	}

	// Max-plus convolution over categories, remembering each category's share.
	combined := []float64{0}
	splits := make([][]int32, numCategories)
	for cat, t := range tables {
		size := int64(len(combined)-1) + int64(len(t.best)-1)
		if size > limit {
			size = limit
		}
		next := make([]float64, size+1)
		split := make([]int32, size+1)
		for i := range next {
			next[i] = math.Inf(-1)
		}
		for a, va := range combined {
			if isNegInf(va) {
				continue
			}
			for c, vc := range t.best {
				if int64(a+c) > size {
					break
				}
				if isNegInf(vc) {
					continue
				}
				if v := va + vc; v > next[a+c] {
					next[a+c] = v
					split[a+c] = int32(c)
				}
			}
		}
		combined = next
		splits[cat] = split
	}

	lo := p.MinSpend - offset
	if lo < 0 {
		lo = 0
	}
	bestCost := -1
	bestValue := math.Inf(-1)
	for c := int(lo); c < len(combined); c++ {
		if combined[c] > bestValue {
			bestValue = combined[c]
			bestCost = c
		}
	}
	if bestCost < 0 {
		return Relaxed{}
	}

	var selection []int
	c := bestCost
	for cat := numCategories - 1; cat >= 0; cat-- {
		share := int(splits[cat][c])
		selection = append(selection, tables[cat].reconstruct(share)...)
		c -= share
	}
	for _, t := range tables {
		selection = append(selection, t.fixedIn...)
	}
	sort.Ints(selection)

	return Relaxed{Feasible: true, Bound: value + bestValue, Selection: selection}
}

func (b *dpBounder) table(cat int, fixings []Fixing) *categoryTable {
	members := b.p.byCategory[cat]
	b.key = append(b.key[:0], byte(cat))
	for _, i := range members {
		b.key = append(b.key, byte(fixings[i]+1))
	}
	if t, ok := b.cache[string(b.key)]; ok {
		return t
	}
	if len(b.cache) >= dpCacheLimit {
		b.cache = make(map[string]*categoryTable)
	}
	t := b.build(cat, fixings)
	b.cache[string(b.key)] = t
	return t
}

func (b *dpBounder) build(cat int, fixings []Fixing) *categoryTable {
	p := b.p
	t := &categoryTable{}
	for _, i := range p.byCategory[cat] {
		switch fixings[i] {
		case FixedIn:
			t.fixedIn = append(t.fixedIn, i)
			t.fixedCost += p.Items[i].Cost
			t.fixedValue += p.Items[i].Value
		case Free:
			t.free = append(t.free, i)
			t.freeCost = append(t.freeCost, p.Items[i].Cost)
		}
	}
	t.need = p.Quotas[cat] - len(t.fixedIn)
	if t.need < 0 || t.need > len(t.free) {
		return t
	}

	// The free cost of any fill is at most the sum of the need dearest items.
	costs := append([]int64(nil), t.freeCost...)
	sort.Slice(costs, func(a, b int) bool { return costs[a] > costs[b] })
	var maxCost int64
	for k := 0; k < t.need; k++ {
		maxCost += costs[k]
	}
	if room := p.Budget - t.fixedCost; room < maxCost {
		maxCost = room
	}
	if maxCost < 0 {
		return t
	}

	width := int(maxCost) + 1
	rows := t.need + 1
	best := make([]float64, rows*width)
	for k := range best {
		best[k] = math.Inf(-1)
	}
	best[0] = 0
	t.took = newBitset(len(t.free) * rows * width)

	for k, i := range t.free {
		cost := int(p.Items[i].Cost)
		value := p.Items[i].Value
		base := k * rows * width
		for j := minInt(t.need, k+1); j >= 1; j-- {
			for c := width - 1; c >= cost; c-- {
				prev := best[(j-1)*width+c-cost]
				if isNegInf(prev) {
					continue
				}
				if v := prev + value; v > best[j*width+c] {
					best[j*width+c] = v
					t.took.set(base + j*width + c)
				}
			}
		}
	}

	t.best = best[t.need*width : (t.need+1)*width]
	for _, v := range t.best {
		if !isNegInf(v) {
			t.feasible = true
			break
		}
	}
	return t
}

// reconstruct returns the free items behind best[cost].
func (t *categoryTable) reconstruct(cost int) []int {
	rows := t.need + 1
	width := len(t.best)
	var out []int
	j, c := t.need, cost
	for k := len(t.free) - 1; k >= 0 && j > 0; k-- {
		if t.took.get(k*rows*width + j*width + c) {
			out = append(out, t.free[k])
			j--
			c -= int(t.freeCost[k])
		}
	}
	return out
}

type bitset []uint64

func newBitset(n int) bitset {
	return make(bitset, (n+63)/64)
}

func (b bitset) set(i int) { b[i/64] |= 1 << (uint(i) % 64) }

func (b bitset) get(i int) bool { return b[i/64]&(1<<(uint(i)%64)) != 0 }
