package scheduler

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the idle janitor.
type Metrics struct {
	SweepsTotal   prometheus.Counter
	SweepsFailed  prometheus.Counter
	SweptTotal    prometheus.Counter
	SweepDuration prometheus.Histogram
}

// NewMetrics creates and registers janitor metrics.
// Returns nil if reg is nil.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdk",
			Subsystem: "janitor",
			Name:      "sweeps_total",
			Help:      "Total idle sweeps run.",
		}),
		SweepsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdk",
			Subsystem: "janitor",
			Name:      "sweeps_failed_total",
			Help:      "Total idle sweeps that failed.",
		}),
		SweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sdk",
			Subsystem: "janitor",
			Name:      "conversations_finished_total",
			Help:      "Total idle conversations finished by the janitor.",
		}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sdk",
			Subsystem: "janitor",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of each idle sweep.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.SweepsTotal,
		m.SweepsFailed,
		m.SweptTotal,
		m.SweepDuration,
	)

	return m
}
