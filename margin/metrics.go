package margin

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are optional; a nil *Metrics records nothing.
type Metrics struct {
	Workflows        *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec
	PushEvents       *prometheus.CounterVec
	FetchFailures    *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Pass prometheus.NewRegistry()
// in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Workflows: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "margin",
				Subsystem: "workflow",
				Name:      "finished_total",
				Help:      "Transaction workflows that reached a terminal state",
			},
			[]string{"kind", "outcome"},
		),
		WorkflowDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "margin",
				Subsystem: "workflow",
				Name:      "duration_seconds",
				Help:      "Time from start to terminal state, including signing",
				Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"kind"},
		),
		PushEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "margin",
				Subsystem: "push",
				Name:      "events_total",
				Help:      "Push channel events by type and result",
			},
			[]string{"type", "result"},
		),
		FetchFailures: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "margin",
				Subsystem: "store",
				Name:      "fetch_failures_total",
				Help:      "Failed gateway fetches by scope",
			},
			[]string{"scope"},
		),
	}
}

func (m *Metrics) workflowDone(kind Kind, outcome Status, took time.Duration) {
	if m == nil {
		return
	}
	m.Workflows.WithLabelValues(kind.String(), outcome.String()).Inc()
	m.WorkflowDuration.WithLabelValues(kind.String()).Observe(took.Seconds())
}

func (m *Metrics) pushEvent(typ, result string) {
	if m == nil {
		return
	}
	m.PushEvents.WithLabelValues(typ, result).Inc()
}

func (m *Metrics) fetchFailed(kind ScopeKind) {
	if m == nil {
		return
	}
	m.FetchFailures.WithLabelValues(kind.String()).Inc()
}
