package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const subsystem = "esxi_snapshot"

// Task outcomes.
const (
	TaskSucceeded = "success"
	TaskFailed    = "error"
	TaskAborted   = "aborted"
)

// Metrics groups the collectors of the snapshot service. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	TasksAwaited      *prometheus.CounterVec
	TaskWaitTime      prometheus.Histogram
	Operations        *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	GateRejections    prometheus.Counter

	registry *prometheus.Registry
}

func New() *Metrics {
	m := &Metrics{
		TasksAwaited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "tasks_total",
				Help:      "vCenter tasks awaited, by terminal outcome",
			},
			[]string{"outcome"},
		),
		TaskWaitTime: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      "task_wait_duration_seconds",
				Help:      "The time it took for a batch of vCenter tasks to finish",
				Buckets:   []float64{0, 1, 5, 10, 15, 30, 60, 120, 300, 600},
			},
		),
		Operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "operations_total",
				Help:      "Snapshot operations by verb and status",
			},
			[]string{"verb", "status"},
		),
		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Subsystem: subsystem,
				Name:      "operation_duration_seconds",
				Help:      "The time it took to run a snapshot operation",
				Buckets:   []float64{0, 1, 5, 10, 15, 30, 60, 120, 300, 600},
			},
			[]string{"verb"},
		),
		GateRejections: prometheus.NewCounter(
			prometheus.CounterOpts{
				Subsystem: subsystem,
				Name:      "gate_rejections_total",
				Help:      "Snapshot creations refused by the datastore capacity check",
			},
		),
		registry: prometheus.NewRegistry(),
	}
	m.registry.MustRegister(m.TasksAwaited, m.TaskWaitTime, m.Operations, m.OperationDuration, m.GateRejections)
	return m
}

// Handler serves the collectors in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveTask(outcome string) {
	if m == nil {
		return
	}
	m.TasksAwaited.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTaskWait(d time.Duration) {
	if m == nil {
		return
	}
	m.TaskWaitTime.Observe(d.Seconds())
}

func (m *Metrics) ObserveOperation(verb, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(verb, status).Inc()
	m.OperationDuration.WithLabelValues(verb).Observe(d.Seconds())
}

func (m *Metrics) ObserveGateRejection() {
	if m == nil {
		return
	}
	m.GateRejections.Inc()
}
