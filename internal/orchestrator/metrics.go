package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks orchestration activity.
type Metrics struct {
	runs     prometheus.Counter
	units    *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics registers orchestrator metrics on the given registerer. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "dispatchd_runs_total",
			Help: "Orchestration runs started.",
		}),
		units: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatchd_units_processed_total",
			Help: "Work units processed, labeled by outcome.",
		}, []string{"outcome"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dispatchd_unit_duration_seconds",
			Help:    "Per-unit execution duration.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
	}
}

func (m *Metrics) recordRun() {
	if m != nil {
		m.runs.Inc()
	}
}

func (m *Metrics) recordUnit(outcome Outcome, seconds float64) {
	if m == nil {
		return
	}
	m.units.WithLabelValues(string(outcome)).Inc()
	m.duration.Observe(seconds)
}
