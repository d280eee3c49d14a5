package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels for squad_optimizations_total.
const (
	OutcomeSuccess    = "success"
	OutcomeCached     = "cached"
	OutcomeInvalid    = "invalid"
	OutcomeConflict   = "conflict"
	OutcomeInfeasible = "infeasible"
	OutcomeError      = "error"
)

// Metrics holds the optimizer collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	optimization *prometheus.CounterVec
	solveTime    prometheus.Histogram
	solveNodes   prometheus.Histogram
	fallbacks    *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		optimization: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "squad_optimizations_total",
			Help: "Optimization runs by outcome.",
		}, []string{"outcome"}),
		solveTime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "squad_solver_duration_seconds",
			Help:    "Wall time of successful branch-and-bound solves.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		solveNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "squad_solver_nodes",
			Help:    "Branch-and-bound nodes explored per successful solve.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "squad_scoring_fallbacks_total",
			Help: "Candidates scored deterministically after an ensemble component failed.",
		}, []string{"component"}),
	}
	m.registry.MustRegister(m.optimization, m.solveTime, m.solveNodes, m.fallbacks)
	return m
}

func (m *Metrics) ObserveOutcome(outcome string) {
	if m == nil {
		return
	}
	m.optimization.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveSolve(d time.Duration, nodes int) {
	if m == nil {
		return
	}
	m.solveTime.Observe(d.Seconds())
	m.solveNodes.Observe(float64(nodes))
}

func (m *Metrics) ObserveFallback(component string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(component).Inc()
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
