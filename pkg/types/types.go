package types

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Category is the positional category a candidate occupies in the squad.
type Category string

const (
	CategoryGoalkeeper Category = "GKP"
	CategoryDefender   Category = "DEF"
	CategoryMidfielder Category = "MID"
	CategoryForward    Category = "FWD"
)

// Categories lists every category in formation order.
var Categories = []Category{CategoryGoalkeeper, CategoryDefender, CategoryMidfielder, CategoryForward}

// Valid reports whether c is one of the four known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryGoalkeeper, CategoryDefender, CategoryMidfielder, CategoryForward:
		return true
	}
	return false
}

// Index returns the position of c in Categories, or -1.
func (c Category) Index() int {
	for i, cat := range Categories {
		if cat == c {
			return i
		}
	}
	return -1
}

// ParseCategory accepts the short codes plus the common long names and numeric element types.
func ParseCategory(s string) (Category, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "GKP", "GK", "G", "GOALKEEPER", "1":
		return CategoryGoalkeeper, nil
	case "DEF", "D", "DEFENDER", "2":
		return CategoryDefender, nil
	case "MID", "M", "MIDFIELDER", "3":
		return CategoryMidfielder, nil
	case "FWD", "F", "FW", "FORWARD", "4":
		return CategoryForward, nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

// ScoringMode identifies which model produced a candidate's expected value.
type ScoringMode string

const (
	ScoringDeterministic ScoringMode = "deterministic"
	ScoringEnsemble      ScoringMode = "ensemble"
)

// Valid reports whether m is a known scoring mode.
func (m ScoringMode) Valid() bool {
	return m == ScoringDeterministic || m == ScoringEnsemble
}

// FixtureDifficulty is the difficulty of one upcoming fixture on a 1-5 scale.
type FixtureDifficulty struct {
	Attack  float64 `json:"attack"`
	Defence float64 `json:"defence"`
}

// Candidate is one row of the feature table.
type Candidate struct {
	ID            int                 `json:"id"`
	Name          string              `json:"name"`
	Category      Category            `json:"category"`
	Group         string              `json:"group"`
	Cost          decimal.Decimal     `json:"cost"`
	SeasonPoints  float64             `json:"season_points"`
	PointsPerGame float64             `json:"points_per_game"`
	Form          float64             `json:"form"`
	FormExtended  float64             `json:"form_extended"`
	Minutes       float64             `json:"minutes"`
	Appearances   float64             `json:"appearances"`
	Ownership     float64             `json:"ownership"`
	Age           float64             `json:"age,omitempty"`
	Fixtures      []FixtureDifficulty `json:"fixtures,omitempty"`

	// Written once per scoring pass.
	ExpectedValue float64     `json:"expected_value"`
	ScoringMode   ScoringMode `json:"scoring_mode,omitempty"`
}

// CostTenths returns the cost in integer units of 0.1.
func (c Candidate) CostTenths() int64 {
	return c.Cost.Shift(1).Round(0).IntPart()
}

// HasPlayingTime reports whether the candidate recorded any minutes or appearances.
func (c Candidate) HasPlayingTime() bool {
	return c.Minutes > 0 || c.Appearances > 0
}

// ScoringWarning records a candidate whose ensemble score was replaced by the deterministic one.
type ScoringWarning struct {
	CandidateID int    `json:"candidate_id"`
	Component   string `json:"component"`
	Reason      string `json:"reason"`
}

// Squad is the selected roster.
type Squad struct {
	Members   []Candidate     `json:"members"`
	TotalCost decimal.Decimal `json:"total_cost"`
	TotalEV   float64         `json:"total_ev"`
}

// NewSquad builds a squad ordered by category then ID and fills in the totals.
func NewSquad(members []Candidate) Squad {
	sorted := make([]Candidate, len(members))
	copy(sorted, members)
	sort.SliceStable(sorted, func(i, j int) bool {
		ci, cj := sorted[i].Category.Index(), sorted[j].Category.Index()
		if ci != cj {
			return ci < cj
		}
		return sorted[i].ID < sorted[j].ID
	})

	total := decimal.Zero
	ev := 0.0
	for _, m := range sorted {
		total = total.Add(m.Cost)
		ev += m.ExpectedValue
	}
	return Squad{Members: sorted, TotalCost: total, TotalEV: ev}
}

// CountByCategory tallies squad members per category.
func (s Squad) CountByCategory() map[Category]int {
	counts := make(map[Category]int, len(Categories))
	for _, m := range s.Members {
		counts[m.Category]++
	}
	return counts
}

// CountByGroup tallies squad members per group.
func (s Squad) CountByGroup() map[string]int {
	counts := make(map[string]int)
	for _, m := range s.Members {
		counts[m.Group]++
	}
	return counts
}

// IDs returns the member IDs in squad order.
func (s Squad) IDs() []int {
	ids := make([]int, len(s.Members))
	for i, m := range s.Members {
		ids[i] = m.ID
	}
	return ids
}

// Lineup splits a squad into starters and ordered reserves.
type Lineup struct {
	Starters      []Candidate `json:"starters"`
	Reserves      []Candidate `json:"reserves"`
	CaptainID     int         `json:"captain_id"`
	ViceCaptainID int         `json:"vice_captain_id"`
	StartingEV    float64     `json:"starting_ev"`
}

// Formation renders the outfield shape of the starters, e.g. "4-4-2".
func (l Lineup) Formation() string {
	counts := map[Category]int{}
	for _, s := range l.Starters {
		counts[s.Category]++
	}
	return fmt.Sprintf("%d-%d-%d", counts[CategoryDefender], counts[CategoryMidfielder], counts[CategoryForward])
}

// SolveStats describes the work the solver did.
type SolveStats struct {
	Nodes      int           `json:"nodes"`
	Duration   time.Duration `json:"duration"`
	Relaxation string        `json:"relaxation"`
}

// OptimizationResult is the complete output of one engine run.
type OptimizationResult struct {
	RunID           string              `json:"run_id"`
	Squad           Squad               `json:"squad"`
	Lineup          Lineup              `json:"lineup"`
	TotalCost       decimal.Decimal     `json:"total_cost"`
	RemainingBudget decimal.Decimal     `json:"remaining_budget"`
	TotalEV         float64             `json:"total_ev"`
	Modes           map[int]ScoringMode `json:"modes"`
	Warnings        []ScoringWarning    `json:"warnings,omitempty"`
	Stats           SolveStats          `json:"stats"`
	Cached          bool                `json:"cached,omitempty"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Run stages reported in ProgressUpdate.
const (
	StageScoring      = "scoring"
	StageSolving      = "solving"
	StagePartitioning = "partitioning"
	StageCompleted    = "completed"
	StageFailed       = "failed"
)

// ProgressUpdate is one status message for a running optimization.
type ProgressUpdate struct {
	RunID     string    `json:"run_id"`
	Stage     string    `json:"stage"`
	Message   string    `json:"message,omitempty"`
	Nodes     int       `json:"nodes,omitempty"`
	Incumbent float64   `json:"incumbent,omitempty"`
	Bound     float64   `json:"bound,omitempty"`
	ElapsedMs int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorResponse is the body of every failed API call.
type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

// SuccessResponse wraps informational API replies.
type SuccessResponse struct {
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// HealthStatus reports the state of the service and its backing connections.
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}
