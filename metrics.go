package odbc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// handle kinds used as metric labels
const (
	kindEnvironment = "environment"
	kindConnection  = "connection"
	kindStatement   = "statement"
)

// Metrics counts native handle traffic. A nil *Metrics records nothing.
type Metrics struct {
	HandlesAllocated   *prometheus.CounterVec
	HandlesReleased    *prometheus.CounterVec
	Executions         *prometheus.CounterVec
	DisconnectFailures *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HandlesAllocated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odbc",
			Name:      "handles_allocated_total",
			Help:      "Native handles allocated, by handle kind.",
		}, []string{"kind"}),
		HandlesReleased: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odbc",
			Name:      "handles_released_total",
			Help:      "Native handles released, by handle kind.",
		}, []string{"kind"}),
		Executions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odbc",
			Name:      "exec_direct_total",
			Help:      "Direct executions, by outcome (cursor, no_data, error).",
		}, []string{"outcome"}),
		DisconnectFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "odbc",
			Name:      "disconnect_failures_total",
			Help:      "Failed disconnects, by action taken (fatal, suppressed, returned).",
		}, []string{"action"}),
	}
}

func (m *Metrics) allocated(kind string) {
	if m == nil {
		return
	}
	m.HandlesAllocated.WithLabelValues(kind).Inc()
}

func (m *Metrics) released(kind string) {
	if m == nil {
		return
	}
	m.HandlesReleased.WithLabelValues(kind).Inc()
}

func (m *Metrics) executed(result string) {
	if m == nil {
		return
	}
	m.Executions.WithLabelValues(result).Inc()
}

func (m *Metrics) disconnectFailed(action string) {
	if m == nil {
		return
	}
	m.DisconnectFailures.WithLabelValues(action).Inc()
}
