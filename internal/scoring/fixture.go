package scoring

import (
	"math"

	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// DefaultLookahead is the number of upcoming fixtures considered.
const DefaultLookahead = 3

// maxDifficulty is the top of the 1-5 fixture difficulty scale.
const maxDifficulty = 5.0

// FixtureEase averages the position-specific ease of the next lookahead fixtures.
// Keepers and defenders care mostly about the opposing attack, so their index leans on
// the defence rating; midfielders and forwards use the attack rating alone.
func FixtureEase(c types.Candidate, lookahead int) float64 {
	if lookahead <= 0 {
		lookahead = DefaultLookahead
	}
	n := len(c.Fixtures)
	if n > lookahead {
		n = lookahead
	}
	if n == 0 {
		return 0
	}

	total := 0.0
	for _, f := range c.Fixtures[:n] {
		attack := ease(f.Attack)
		defence := ease(f.Defence)
		switch c.Category {
		case types.CategoryGoalkeeper:
			total += 1.5 * defence
		case types.CategoryDefender:
			total += 1.2*defence + 0.4*attack
		default:
			total += attack
		}
	}
	return total / float64(n)
}

func ease(difficulty float64) float64 {
	if difficulty <= 0 || math.IsNaN(difficulty) {
		return 0
	}
	return math.Max(0, maxDifficulty-difficulty)
}
