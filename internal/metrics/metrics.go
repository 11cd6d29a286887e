// Package metrics exposes Prometheus collectors for the collaboration server.
//
// Every method is safe to call on a nil *Metrics, so components can take a
// *Metrics unconditionally and tests can pass nil instead of wiring a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "collab"

// Metrics bundles the server's collectors.
type Metrics struct {
	rooms             prometheus.Gauge
	connections       prometheus.Gauge
	events            *prometheus.CounterVec
	persists          *prometheus.CounterVec
	executions        *prometheus.CounterVec
	executionDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg.
// Pass prometheus.DefaultRegisterer in production and prometheus.NewRegistry()
// in tests (registering twice on the default registry panics).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rooms_active",
			Help:      "Rooms loaded into memory since process start.",
		}),
		connections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_open",
			Help:      "Open WebSocket connections.",
		}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Inbound client events by name and outcome.",
		}, []string{"event", "outcome"}),
		persists: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_writes_total",
			Help:      "Document Store writes by result.",
		}, []string{"result"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Code execution requests by result.",
		}, []string{"result"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_duration_seconds",
			Help:      "Wall time of code execution requests.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
	}

	reg.MustRegister(m.rooms, m.connections, m.events, m.persists, m.executions, m.executionDuration)
	return m
}

// RoomActivated records a room reaching the ACTIVE state.
func (m *Metrics) RoomActivated() {
	if m == nil {
		return
	}
	m.rooms.Inc()
}

// ConnectionOpened records a new WebSocket connection.
func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connections.Inc()
}

// ConnectionClosed records a closed WebSocket connection.
func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.connections.Dec()
}

// Event counts an inbound event. outcome is "applied", "rejected" or "limited".
func (m *Metrics) Event(name, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(name, outcome).Inc()
}

// Persisted counts a Document Store write.
func (m *Metrics) Persisted(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.persists.WithLabelValues(result).Inc()
}

// Executed counts an execution request. result is "ok", "error" or "timeout".
func (m *Metrics) Executed(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(result).Inc()
	m.executionDuration.Observe(d.Seconds())
}
