// Package metrics exposes bridge instrumentation as Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the bridge's collectors, registered on a private registry
// so tests can create instances freely.
type Metrics struct {
	registry   *prometheus.Registry
	intercepts *prometheus.CounterVec
	bridgeCall prometheus.Histogram
	agentState prometheus.Gauge
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		intercepts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostbridge_intercepts_total",
				Help: "Interception decisions by outcome",
			},
			[]string{"outcome"},
		),
		bridgeCall: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hostbridge_bridge_call_seconds",
				Help:    "Latency of bridge boundary calls",
				Buckets: prometheus.DefBuckets,
			},
		),
		agentState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "hostbridge_agent_state",
				Help: "Agent lifecycle state (0=installing, 1=activating, 2=ready)",
			},
		),
	}

	m.registry.MustRegister(m.intercepts, m.bridgeCall, m.agentState)
	return m
}

// RecordIntercept counts one interception decision.
func (m *Metrics) RecordIntercept(outcome string) {
	m.intercepts.WithLabelValues(outcome).Inc()
}

// ObserveBridgeCall records the latency of one boundary call.
func (m *Metrics) ObserveBridgeCall(d time.Duration) {
	m.bridgeCall.Observe(d.Seconds())
}

// SetAgentState publishes the agent's lifecycle state.
func (m *Metrics) SetAgentState(state int) {
	m.agentState.Set(float64(state))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
