package scoring

import (
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
)

// Factor names used in weight profiles.
const (
	FactorFixtureEase    = "fixture_ease"
	FactorShortForm      = "short_form"
	FactorSeason         = "season"
	FactorCostEfficiency = "cost_efficiency"
	FactorConsistency    = "consistency"
	FactorExtendedForm   = "extended_form"
	FactorStrongGroup    = "strong_group"
)

// Weights maps a factor name to its non-negative relative weight.
type Weights map[string]float64

// DefaultWeights is the stock deterministic profile. The values are proportions and
// are normalized by their sum at scoring time.
func DefaultWeights() Weights {
	return Weights{
		FactorFixtureEase:    25,
		FactorShortForm:      20,
		FactorSeason:         20,
		FactorConsistency:    15,
		FactorCostEfficiency: 10,
		FactorExtendedForm:   5,
		FactorStrongGroup:    5,
	}
}

// Validate checks every weight names a known factor and is a finite non-negative number,
// and that at least one weight is positive.
func (w Weights) Validate(factors []Factor) error {
	known := make(map[string]bool, len(factors))
	for _, f := range factors {
		known[f.Name] = true
	}

	total := 0.0
	for _, name := range w.names() {
		v := w[name]
		if !known[name] {
			return apperrors.NewInputValidation("weights."+name, "unknown factor")
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return apperrors.NewInputValidation("weights."+name, "must be a finite non-negative number, got %v", v)
		}
		total += v
	}
	if total <= 0 {
		return apperrors.NewInputValidation("weights", "sum of weights must be positive")
	}
	return nil
}

// Normalized returns the weights scaled to sum to one.
func (w Weights) Normalized() Weights {
	total := 0.0
	for _, v := range w {
		total += v
	}
	out := make(Weights, len(w))
	if total <= 0 {
		return out
	}
	for k, v := range w {
		out[k] = v / total
	}
	return out
}

// Merge overlays o onto a copy of w.
func (w Weights) Merge(o Weights) Weights {
	out := make(Weights, len(w)+len(o))
	for k, v := range w {
		out[k] = v
	}
	for k, v := range o {
		out[k] = v
	}
	return out
}

func (w Weights) names() []string {
	names := make([]string, 0, len(w))
	for k := range w {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

type weightsFile struct {
	Weights Weights `yaml:"weights"`
}

// LoadWeightsFile reads a YAML weight profile. Both a top-level `weights:` mapping and a
// bare mapping of factor names are accepted.
func LoadWeightsFile(path string) (Weights, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading weights file: %w", err)
	}

	var wrapped weightsFile
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Weights) > 0 {
		return wrapped.Weights, nil
	}

	var bare Weights
	if err := yaml.Unmarshal(data, &bare); err != nil {
		return nil, apperrors.NewInputValidation("weights_file", "parsing %s: %v", path, err)
	}
	if len(bare) == 0 {
		return nil, apperrors.NewInputValidation("weights_file", "%s holds no weights", path)
	}
	return bare, nil
}
