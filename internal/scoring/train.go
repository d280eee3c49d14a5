package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// ArtifactsVersion is bumped whenever the serialized layout changes.
const ArtifactsVersion = 1

// Artifacts holds every trained ensemble component.
type Artifacts struct {
	Version       int                `json:"version"`
	TrainedAt     time.Time          `json:"trained_at"`
	Lookahead     int                `json:"lookahead"`
	Features      []string           `json:"features"`
	Scaler        Scaler             `json:"scaler"`
	Ridge         *RidgeModel        `json:"ridge,omitempty"`
	KNN           *KNNModel          `json:"knn,omitempty"`
	Linear        *LinearModel       `json:"linear,omitempty"`
	Weights       map[string]float64 `json:"weights"`
	ValidationMAE map[string]float64 `json:"validation_mae,omitempty"`
	Markov        *MarkovChain       `json:"markov,omitempty"`
}

// Regressors returns the trained regressors in a fixed order.
func (a *Artifacts) Regressors() []Regressor {
	var out []Regressor
	if a.Ridge != nil {
		out = append(out, a.Ridge)
	}
	if a.KNN != nil {
		out = append(out, a.KNN)
	}
	if a.Linear != nil {
		out = append(out, a.Linear)
	}
	return out
}

// Save writes the artifacts as indented JSON.
func (a *Artifacts) Save(path string) error {
	data, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding artifacts: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing artifacts: %w", err)
	}
	return nil
}

// LoadArtifacts reads artifacts written by Save.
func LoadArtifacts(path string) (*Artifacts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading artifacts: %w", err)
	}
	var a Artifacts
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, apperrors.NewInputValidation("artifacts", "decoding %s: %v", path, err)
	}
	if a.Version != ArtifactsVersion {
		return nil, apperrors.NewInputValidation("artifacts", "version %d, want %d", a.Version, ArtifactsVersion)
	}
	if len(a.Features) != len(FeatureNames) {
		return nil, apperrors.NewInputValidation("artifacts", "%d features, want %d", len(a.Features), len(FeatureNames))
	}
	if a.Markov != nil {
		if err := a.Markov.Validate(); err != nil {
			return nil, apperrors.NewInputValidation("artifacts.markov", "%v", err)
		}
	}
	return &a, nil
}

// HistoryRow is one candidate observed in one period along with the points scored next.
type HistoryRow struct {
	Candidate  types.Candidate
	Round      int
	NextPoints float64
}

// TrainOptions controls ensemble training.
type TrainOptions struct {
	Lookahead       int
	RidgeLambda     float64
	K               int
	Epochs          int
	LearnRate       float64
	ValidationShare float64
	// FixedWeights skips learning component weights from validation error.
	FixedWeights map[string]float64
}

// DefaultTrainOptions returns sensible training settings.
func DefaultTrainOptions() TrainOptions {
	return TrainOptions{
		Lookahead:       DefaultLookahead,
		RidgeLambda:     1.0,
		K:               7,
		Epochs:          300,
		LearnRate:       0.05,
		ValidationShare: 0.2,
	}
}

// MinTrainingRows is the smallest history Train accepts.
const MinTrainingRows = 10

// Train fits every ensemble component on the history. Rows are ordered by round so the
// validation split always holds the most recent periods.
func Train(rows []HistoryRow, opts TrainOptions, logger *logrus.Entry) (*Artifacts, error) {
	if len(rows) < MinTrainingRows {
		return nil, apperrors.NewInputValidation("history", "need at least %d rows, got %d", MinTrainingRows, len(rows))
	}
	if opts.ValidationShare <= 0 || opts.ValidationShare >= 1 {
		opts.ValidationShare = 0.2
	}
	if opts.Lookahead <= 0 {
		opts.Lookahead = DefaultLookahead
	}

	ordered := append([]HistoryRow(nil), rows...)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Round != ordered[j].Round {
			return ordered[i].Round < ordered[j].Round
		}
		return ordered[i].Candidate.ID < ordered[j].Candidate.ID
	})

	raw := make([][]float64, len(ordered))
	y := make([]float64, len(ordered))
	for i, r := range ordered {
		raw[i] = FeatureVector(r.Candidate, opts.Lookahead)
		if !finiteVector(raw[i]) || math.IsNaN(r.NextPoints) {
			return nil, apperrors.NewInputValidation("history", "row %d (candidate %d, round %d) has non-finite values", i, r.Candidate.ID, r.Round)
		}
		y[i] = r.NextPoints
	}

	scaler := FitScaler(raw)
	X := scaler.TransformAll(raw)

	cut := len(X) - int(math.Max(1, math.Floor(float64(len(X))*opts.ValidationShare)))
	k := opts.K
	if k > cut {
		k = cut
	}
	opts.K = k

	held, err := fitComponents(X[:cut], y[:cut], opts)
	if err != nil {
		return nil, err
	}
	mae := make(map[string]float64, len(held))
	for _, r := range held {
		mae[r.Name()] = meanAbsError(r, X[cut:], y[cut:])
	}

	weights := opts.FixedWeights
	if len(weights) == 0 {
		weights = inverseErrorWeights(mae)
	}

	final, err := fitComponents(X, y, opts)
	if err != nil {
		return nil, err
	}

	a := &Artifacts{
		Version:       ArtifactsVersion,
		TrainedAt:     time.Now().UTC(),
		Lookahead:     opts.Lookahead,
		Features:      append([]string(nil), FeatureNames...),
		Scaler:        scaler,
		Weights:       weights,
		ValidationMAE: mae,
		Markov:        FitMarkovChain(formSequences(ordered)),
	}
	for _, r := range final {
		switch m := r.(type) {
		case *RidgeModel:
			a.Ridge = m
		case *KNNModel:
			a.KNN = m
		case *LinearModel:
			a.Linear = m
		}
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"rows":           len(ordered),
			"validation":     len(X) - cut,
			"validation_mae": mae,
			"weights":        weights,
		}).Info("Ensemble training completed")
	}
	return a, nil
}

func fitComponents(X [][]float64, y []float64, opts TrainOptions) ([]Regressor, error) {
	ridge, err := FitRidge(X, y, opts.RidgeLambda)
	if err != nil {
		return nil, err
	}
	linear, err := FitGradientLinear(X, y, GradientConfig{Epochs: opts.Epochs, LearnRate: opts.LearnRate})
	if err != nil {
		return nil, err
	}
	return []Regressor{ridge, FitKNN(X, y, opts.K), linear}, nil
}

func meanAbsError(r Regressor, X [][]float64, y []float64) float64 {
	if len(X) == 0 {
		return math.Inf(1)
	}
	total := 0.0
	for i, x := range X {
		p, err := r.Predict(x)
		if err != nil {
			return math.Inf(1)
		}
		total += math.Abs(p - y[i])
	}
	return total / float64(len(X))
}

// inverseErrorWeights weights each component by 1/MAE, normalized to sum to one.
func inverseErrorWeights(mae map[string]float64) map[string]float64 {
	weights := make(map[string]float64, len(mae))
	total := 0.0
	for name, e := range mae {
		if math.IsInf(e, 0) || math.IsNaN(e) {
			continue
		}
		w := 1 / math.Max(e, 1e-6)
		weights[name] = w
		total += w
	}
	for name := range weights {
		weights[name] /= total
	}
	return weights
}

func formSequences(rows []HistoryRow) [][]float64 {
	byID := make(map[int][]float64)
	var ids []int
	for _, r := range rows {
		if _, ok := byID[r.Candidate.ID]; !ok {
			ids = append(ids, r.Candidate.ID)
		}
		byID[r.Candidate.ID] = append(byID[r.Candidate.ID], r.Candidate.Form)
	}
	sort.Ints(ids)
	out := make([][]float64, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}
