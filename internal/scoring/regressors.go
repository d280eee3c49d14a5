package scoring

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Component names used in ensemble weights and degradation warnings.
const (
	ComponentRidge    = "ridge"
	ComponentKNN      = "knn"
	ComponentGradient = "gradient_linear"
	ComponentMarkov   = "markov"
	ComponentEnsemble = "ensemble"
)

// Regressor predicts next-period points from a standardized feature vector.
type Regressor interface {
	Name() string
	Predict(x []float64) (float64, error)
}

var errUntrained = errors.New("model not trained")

func evaluate(r Regressor, x []float64) ComponentResult {
	v, err := r.Predict(x)
	if err != nil {
		return Unavailable(r.Name(), err.Error())
	}
	return Available(r.Name(), v)
}

func checkDims(want int, x []float64) error {
	if want == 0 {
		return errUntrained
	}
	if len(x) != want {
		return fmt.Errorf("feature vector has %d values, model expects %d", len(x), want)
	}
	return nil
}

// RidgeModel is an L2-regularized linear regression solved in closed form.
type RidgeModel struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	Lambda    float64   `json:"lambda"`
}

// FitRidge solves (XcᵀXc + λI)β = Xcᵀyc on column-centred data.
func FitRidge(X [][]float64, y []float64, lambda float64) (*RidgeModel, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("ridge: %d rows and %d targets", n, len(y))
	}
	d := len(X[0])
	if lambda <= 0 {
		lambda = 1.0
	}

	colMeans := make([]float64, d)
	col := make([]float64, n)
	for j := 0; j < d; j++ {
		for i := range X {
			col[i] = X[i][j]
		}
		colMeans[j] = stat.Mean(col, nil)
	}
	yMean := stat.Mean(y, nil)

	xc := mat.NewDense(n, d, nil)
	yc := mat.NewVecDense(n, nil)
	for i := range X {
		for j := 0; j < d; j++ {
			xc.Set(i, j, X[i][j]-colMeans[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	var gram mat.Dense
	gram.Mul(xc.T(), xc)
	for j := 0; j < d; j++ {
		gram.Set(j, j, gram.At(j, j)+lambda)
	}
	var rhs mat.VecDense
	rhs.MulVec(xc.T(), yc)

	var beta mat.VecDense
	if err := beta.SolveVec(&gram, &rhs); err != nil {
		return nil, fmt.Errorf("ridge: solving normal equations: %w", err)
	}

	coef := make([]float64, d)
	for j := range coef {
		coef[j] = beta.AtVec(j)
	}
	return &RidgeModel{
		Coef:      coef,
		Intercept: yMean - floats.Dot(coef, colMeans),
		Lambda:    lambda,
	}, nil
}

func (m *RidgeModel) Name() string { return ComponentRidge }

func (m *RidgeModel) Predict(x []float64) (float64, error) {
	if err := checkDims(len(m.Coef), x); err != nil {
		return 0, err
	}
	return m.Intercept + floats.Dot(m.Coef, x), nil
}

// KNNModel averages the targets of the K nearest training rows.
type KNNModel struct {
	K int         `json:"k"`
	X [][]float64 `json:"x"`
	Y []float64   `json:"y"`
}

// FitKNN stores a copy of the training data.
func FitKNN(X [][]float64, y []float64, k int) *KNNModel {
	if k <= 0 {
		k = 5
	}
	m := &KNNModel{K: k, X: make([][]float64, len(X)), Y: append([]float64(nil), y...)}
	for i, r := range X {
		m.X[i] = append([]float64(nil), r...)
	}
	return m
}

func (m *KNNModel) Name() string { return ComponentKNN }

func (m *KNNModel) Predict(x []float64) (float64, error) {
	if len(m.X) < m.K || m.K == 0 {
		return 0, fmt.Errorf("knn needs %d training rows, has %d", m.K, len(m.X))
	}
	if err := checkDims(len(m.X[0]), x); err != nil {
		return 0, err
	}

	type neighbour struct {
		idx  int
		dist float64
	}
	ns := make([]neighbour, len(m.X))
	for i, r := range m.X {
		ns[i] = neighbour{idx: i, dist: floats.Distance(x, r, 2)}
	}
	sort.Slice(ns, func(i, j int) bool {
		if ns[i].dist != ns[j].dist {
			return ns[i].dist < ns[j].dist
		}
		return ns[i].idx < ns[j].idx
	})

	total := 0.0
	for _, n := range ns[:m.K] {
		total += m.Y[n.idx]
	}
	return total / float64(m.K), nil
}

// LinearModel is a linear regression fitted by gradient descent on a computation graph.
type LinearModel struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
}

// GradientConfig controls gradient-descent training.
type GradientConfig struct {
	Epochs    int
	LearnRate float64
}

// FitGradientLinear minimizes mean squared error with full-batch gradient descent.
// Weights start at zero so training is reproducible.
func FitGradientLinear(X [][]float64, y []float64, cfg GradientConfig) (*LinearModel, error) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, fmt.Errorf("gradient: %d rows and %d targets", n, len(y))
	}
	d := len(X[0])
	if cfg.Epochs <= 0 {
		cfg.Epochs = 300
	}
	if cfg.LearnRate <= 0 {
		cfg.LearnRate = 0.05
	}

	flat := make([]float64, 0, n*d)
	for _, r := range X {
		flat = append(flat, r...)
	}
	targets := append([]float64(nil), y...)

	g := gorgonia.NewGraph()
	xNode := gorgonia.NewMatrix(g, tensor.Float64,
		gorgonia.WithShape(n, d),
		gorgonia.WithName("x"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(n, d), tensor.WithBacking(flat))))
	yNode := gorgonia.NewVector(g, tensor.Float64,
		gorgonia.WithShape(n),
		gorgonia.WithName("y"),
		gorgonia.WithValue(tensor.New(tensor.WithShape(n), tensor.WithBacking(targets))))
	w := gorgonia.NewVector(g, tensor.Float64,
		gorgonia.WithShape(d),
		gorgonia.WithName("w"),
		gorgonia.WithInit(gorgonia.Zeroes()))
	b := gorgonia.NewScalar(g, tensor.Float64,
		gorgonia.WithName("b"),
		gorgonia.WithValue(stat.Mean(y, nil)))

	pred := gorgonia.Must(gorgonia.Add(gorgonia.Must(gorgonia.Mul(xNode, w)), b))
	diff := gorgonia.Must(gorgonia.Sub(pred, yNode))
	loss := gorgonia.Must(gorgonia.Mean(gorgonia.Must(gorgonia.Square(diff))))

	if _, err := gorgonia.Grad(loss, w, b); err != nil {
		return nil, fmt.Errorf("gradient: building gradients: %w", err)
	}

	machine := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(w, b))
	defer machine.Close()

	solver := gorgonia.NewVanillaSolver(gorgonia.WithLearnRate(cfg.LearnRate), gorgonia.WithClip(5))
	model := []gorgonia.ValueGrad{w, b}

	for epoch := 0; epoch < cfg.Epochs; epoch++ {
		if err := machine.RunAll(); err != nil {
			return nil, fmt.Errorf("gradient: forward pass failed: %w", err)
		}
		if err := solver.Step(model); err != nil {
			return nil, fmt.Errorf("gradient: parameter update failed: %w", err)
		}
		machine.Reset()
	}

	coef, ok := w.Value().Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("gradient: unexpected weight type %T", w.Value().Data())
	}
	intercept, ok := b.Value().Data().(float64)
	if !ok {
		return nil, fmt.Errorf("gradient: unexpected bias type %T", b.Value().Data())
	}
	return &LinearModel{Coef: append([]float64(nil), coef...), Intercept: intercept}, nil
}

func (m *LinearModel) Name() string { return ComponentGradient }

func (m *LinearModel) Predict(x []float64) (float64, error) {
	if err := checkDims(len(m.Coef), x); err != nil {
		return 0, err
	}
	return m.Intercept + floats.Dot(m.Coef, x), nil
}
