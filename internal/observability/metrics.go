package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tickcron"

// Metrics holds the scheduler and engine collectors.
//
// A nil *Metrics is valid and records nothing, so components never need to
// check whether metrics are enabled.
type Metrics struct {
	ticks      prometheus.Counter
	dispatched *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	runs       *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	inFlight   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on reg (if non-nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ticks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Evaluation passes run by the tick driver.",
		}),
		dispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatched_total",
			Help:      "Task runs handed to the engine.",
		}, []string{"task"}),
		skipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "skipped_total",
			Help:      "Due task runs vetoed by the execution guard.",
		}, []string{"task", "reason"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed task runs by result.",
		}, []string{"task", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Task run wall time.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 10),
		}, []string{"task"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "runs_in_flight",
			Help:      "Task runs currently executing.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ticks, m.dispatched, m.skipped, m.runs, m.duration, m.inFlight)
	}
	return m
}

func (m *Metrics) Tick() {
	if m == nil {
		return
	}
	m.ticks.Inc()
}

func (m *Metrics) Dispatched(task string) {
	if m == nil {
		return
	}
	m.dispatched.WithLabelValues(task).Inc()
}

func (m *Metrics) Skipped(task, reason string) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(task, reason).Inc()
}

func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// RunFinished records a completed run. A nil err counts as "ok".
func (m *Metrics) RunFinished(task string, err error, took time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.Dec()
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.runs.WithLabelValues(task, result).Inc()
	m.duration.WithLabelValues(task).Observe(took.Seconds())
}

// Forget drops every series labelled with task. A run of task that finishes
// afterwards starts fresh series.
func (m *Metrics) Forget(task string) {
	if m == nil {
		return
	}
	l := prometheus.Labels{"task": task}
	m.dispatched.DeletePartialMatch(l)
	m.skipped.DeletePartialMatch(l)
	m.runs.DeletePartialMatch(l)
	m.duration.DeletePartialMatch(l)
}
