package engine

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics are the engine's Prometheus collectors.
type Metrics struct {
	Transitions    *prometheus.CounterVec
	Actions        *prometheus.CounterVec
	BatchAborts    *prometheus.CounterVec
	SourceErrors   *prometheus.CounterVec
	InvalidRecords prometheus.Counter
	CycleDuration  prometheus.Histogram
	LastCycle      prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rostersync",
			Name:      "transitions_total",
			Help:      "Record status transitions written to the table.",
		}, []string{"from", "to"}),
		Actions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rostersync",
			Name:      "actions_total",
			Help:      "Side effects attempted, by operation and outcome.",
		}, []string{"op", "outcome"}),
		BatchAborts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rostersync",
			Name:      "batch_aborts_total",
			Help:      "Batches stopped early, by stage and reason.",
		}, []string{"stage", "code"}),
		SourceErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rostersync",
			Name:      "source_errors_total",
			Help:      "Failed table reads and writes.",
		}, []string{"op"}),
		InvalidRecords: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rostersync",
			Name:      "invalid_records_total",
			Help:      "Records skipped for a missing or non-numeric identity.",
		}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rostersync",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one reconciliation cycle.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 30, 60, 300, 900, 3600},
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rostersync",
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last cycle finished.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Transitions,
			m.Actions,
			m.BatchAborts,
			m.SourceErrors,
			m.InvalidRecords,
			m.CycleDuration,
			m.LastCycle,
		)
	}
	return m
}
