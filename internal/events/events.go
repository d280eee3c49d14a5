package events

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	SubjectOptimized = "squad.optimized"
	SubjectFailed    = "squad.failed"
)

// OptimizedEvent announces a finished run.
type OptimizedEvent struct {
	RunID       string          `json:"run_id"`
	SquadIDs    []int           `json:"squad_ids"`
	CaptainID   int             `json:"captain_id"`
	ViceID      int             `json:"vice_captain_id"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	TotalEV     float64         `json:"total_ev"`
	ScoringMode string          `json:"scoring_mode"`
	Fallbacks   int             `json:"fallbacks"`
	Nodes       int             `json:"nodes"`
	DurationMs  int64           `json:"duration_ms"`
	Timestamp   time.Time       `json:"timestamp"`
}

// FailedEvent announces a run that produced no squad.
type FailedEvent struct {
	RunID     string            `json:"run_id"`
	Code      string            `json:"code"`
	Error     string            `json:"error"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
