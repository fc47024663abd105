package repository

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics records repository operation counts and latencies.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

// NewMetrics creates the repository collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "repository_operations_total",
				Help: "Total number of repository operations by entity, operation and outcome.",
			},
			[]string{"backend", "entity", "operation", "status"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "repository_operation_duration_seconds",
				Help:    "Latency of repository operations.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"backend", "entity", "operation"},
		),
	}
	if err := reg.Register(m.operations); err != nil {
		return nil, err
	}
	if err := reg.Register(m.duration); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metrics) observe(backend Backend, entity, op string, start time.Time, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.operations.WithLabelValues(string(backend), entity, op, status).Inc()
	m.duration.WithLabelValues(string(backend), entity, op).Observe(time.Since(start).Seconds())
}
