package scoring

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// NumFormStates is the number of discrete form states.
const NumFormStates = 5

// FormStateNames labels the states, coldest first.
var FormStateNames = [NumFormStates]string{"cold", "cool", "average", "hot", "on-fire"}

// upper bounds of the first four states; the last state is open-ended.
var formStateBounds = [NumFormStates - 1]float64{2, 4, 6, 8}

// representative points value of each state.
var stateMidpoints = [NumFormStates]float64{1, 3, 5, 7, 10}

// FormState discretizes a form value.
func FormState(form float64) int {
	for i, upper := range formStateBounds {
		if form < upper {
			return i
		}
	}
	return NumFormStates - 1
}

// MarkovChain is a row-stochastic transition matrix over form states.
type MarkovChain struct {
	Transition [][]float64 `json:"transition"`
}

// NewUniformChain returns a chain with no information: every row is uniform.
func NewUniformChain() *MarkovChain {
	t := make([][]float64, NumFormStates)
	for i := range t {
		t[i] = make([]float64, NumFormStates)
		for j := range t[i] {
			t[i][j] = 1.0 / NumFormStates
		}
	}
	return &MarkovChain{Transition: t}
}

// FitMarkovChain counts state transitions across the given form sequences. Each sequence
// is one candidate's form values in period order. Rows without observations stay uniform.
func FitMarkovChain(sequences [][]float64) *MarkovChain {
	counts := make([][]float64, NumFormStates)
	for i := range counts {
		counts[i] = make([]float64, NumFormStates)
	}
	for _, seq := range sequences {
		for k := 1; k < len(seq); k++ {
			counts[FormState(seq[k-1])][FormState(seq[k])]++
		}
	}

	chain := NewUniformChain()
	for i, row := range counts {
		total := floats.Sum(row)
		if total == 0 {
			continue
		}
		for j := range row {
			chain.Transition[i][j] = row[j] / total
		}
	}
	return chain
}

// Validate checks shape and that every row is a probability distribution.
func (m *MarkovChain) Validate() error {
	if len(m.Transition) != NumFormStates {
		return fmt.Errorf("transition matrix has %d rows, want %d", len(m.Transition), NumFormStates)
	}
	for i, row := range m.Transition {
		if len(row) != NumFormStates {
			return fmt.Errorf("transition row %d has %d columns, want %d", i, len(row), NumFormStates)
		}
		for _, p := range row {
			if p < 0 || math.IsNaN(p) {
				return fmt.Errorf("transition row %d has invalid probability %v", i, p)
			}
		}
		if sum := floats.Sum(row); math.Abs(sum-1) > 1e-6 {
			return fmt.Errorf("transition row %d sums to %.6f", i, sum)
		}
	}
	return nil
}

// Project returns the state distribution one period ahead of the given form.
func (m *MarkovChain) Project(form float64) []float64 {
	flat := make([]float64, 0, NumFormStates*NumFormStates)
	for _, row := range m.Transition {
		flat = append(flat, row...)
	}
	t := mat.NewDense(NumFormStates, NumFormStates, flat)

	start := mat.NewVecDense(NumFormStates, nil)
	start.SetVec(FormState(form), 1)

	var next mat.VecDense
	next.MulVec(t.T(), start)
	return next.RawVector().Data
}

// Expected converts the projected distribution into expected points.
func (m *MarkovChain) Expected(form float64) float64 {
	return floats.Dot(m.Project(form), stateMidpoints[:])
}
