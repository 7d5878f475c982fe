// Package prometheus implements ebr.Metrics with Prometheus collectors.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/isgasho/flize/ebr"
)

// Metrics is the Prometheus implementation of ebr.Metrics.
type Metrics struct {
	retired    prometheus.Counter
	attempts   *prometheus.CounterVec
	executed   prometheus.Counter
	drain      prometheus.Histogram
	generation prometheus.Gauge
}

var _ ebr.Metrics = (*Metrics)(nil)

// New registers the collector metrics with reg.
//
// Use a separate registry (or a wrapping registerer with const labels) per
// Collector; registering twice with the same registerer panics.
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		retired: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "flize_ebr_retired_total",
				Help: "Total number of actions retired for deferred execution",
			},
		),
		attempts: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "flize_ebr_advance_attempts_total",
				Help: "Total number of epoch advancement attempts by result",
			},
			[]string{"result"}, // "advanced", "blocked"
		),
		executed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "flize_ebr_deferred_executed_total",
				Help: "Total number of retired actions executed",
			},
		),
		drain: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flize_ebr_drain_duration_seconds",
				Help:    "Time spent draining one reclamation batch",
				Buckets: prometheus.ExponentialBuckets(1e-6, 4, 10), // 1µs to ~262ms
			},
		),
		generation: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "flize_ebr_generation",
				Help: "Current global epoch generation",
			},
		),
	}
}

// ObserveRetire records one retired action.
func (m *Metrics) ObserveRetire() {
	if m == nil {
		return
	}
	m.retired.Inc()
}

// ObserveAdvance records an advancement attempt.
func (m *Metrics) ObserveAdvance(advanced bool, generation uint64) {
	if m == nil {
		return
	}
	result := "blocked"
	if advanced {
		result = "advanced"
	}
	m.attempts.WithLabelValues(result).Inc()
	m.generation.Set(float64(generation))
}

// ObserveDrain records a drained batch.
func (m *Metrics) ObserveDrain(executed int, duration time.Duration) {
	if m == nil {
		return
	}
	m.executed.Add(float64(executed))
	m.drain.Observe(duration.Seconds())
}
