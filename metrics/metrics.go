// Package metrics holds the Prometheus collectors of an executor and its
// bindings. A nil *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "orange"

// Metrics holds Prometheus metrics for the executor and its bindings
type Metrics struct {
	// Command execution
	commandsTotal   *prometheus.CounterVec
	commandDuration *prometheus.HistogramVec
	queueDepth      prometheus.Gauge

	// Registry
	slots     prometheus.Gauge
	evictions *prometheus.CounterVec

	// Bindings
	requestsTotal *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which tests use to avoid the global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "commands_total",
				Help:      "Total number of executed commands",
			},
			[]string{"kind", "status"},
		),
		commandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "executor",
				Name:      "command_duration_seconds",
				Help:      "Duration of command execution",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0},
			},
			[]string{"kind"},
		),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "queue_depth",
			Help:      "Commands accepted but not yet executed",
		}),
		slots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "slots",
			Help:      "Number of references held in the registry",
		}),
		evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "registry",
				Name:      "evictions_total",
				Help:      "References removed from the registry",
			},
			[]string{"reason"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "requests_total",
				Help:      "Requests handled per binding",
			},
			[]string{"binding", "operation", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(
			m.commandsTotal,
			m.commandDuration,
			m.queueDepth,
			m.slots,
			m.evictions,
			m.requestsTotal,
		)
	}
	return m
}

// RecordCommand records one finished command.
func (m *Metrics) RecordCommand(kind string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "failed"
	}
	m.commandsTotal.WithLabelValues(kind, status).Inc()
	m.commandDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// QueueAdd adjusts the pending command gauge by delta.
func (m *Metrics) QueueAdd(delta int) {
	if m == nil {
		return
	}
	m.queueDepth.Add(float64(delta))
}

// SetSlots records the registry size.
func (m *Metrics) SetSlots(n int) {
	if m == nil {
		return
	}
	m.slots.Set(float64(n))
}

// RecordEvictions counts n references removed for reason
// ("released", "session", "expired").
func (m *Metrics) RecordEvictions(reason string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.evictions.WithLabelValues(reason).Add(float64(n))
}

// RecordRequest counts one request handled by a binding.
func (m *Metrics) RecordRequest(binding, operation, status string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(binding, operation, status).Inc()
}
