// Package telemetry exposes the service's Prometheus metrics and an optional
// pprof listener.
package telemetry

import (
	"fmt"
	"net/http"
	_ "net/http/pprof"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Logger is the logging surface telemetry needs.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// Metrics holds the service's instrument set and satisfies the engine's
// metrics sink.
type Metrics struct {
	registry *prometheus.Registry

	executionsTotal  *prometheus.CounterVec
	nodeDuration     *prometheus.HistogramVec
	rateLimitTotal   *prometheus.CounterVec
	installsActive   prometheus.Gauge
	wsClientsCurrent prometheus.Gauge
}

// NewMetrics builds a registry with process/go collectors plus the domain
// instruments.
func NewMetrics(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "executions_total",
			Help:      "Executions finished, by terminal state.",
		}, []string{"state"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: serviceName,
			Name:      "node_duration_seconds",
			Help:      "Node execution duration, by node type and outcome.",
			Buckets:   []float64{.005, .025, .1, .5, 1, 5, 15, 60, 300},
		}, []string{"node_type", "state"}),
		rateLimitTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: serviceName,
			Name:      "rate_limit_decisions_total",
			Help:      "Run admission decisions, by tier and outcome.",
		}, []string{"tier", "decision"}),
		installsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Name:      "plugin_installs_active",
			Help:      "Plugin install tasks currently in flight.",
		}),
		wsClientsCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: serviceName,
			Name:      "ws_clients_current",
			Help:      "Connected event stream clients.",
		}),
	}
	reg.MustRegister(m.executionsTotal, m.nodeDuration, m.rateLimitTotal,
		m.installsActive, m.wsClientsCurrent)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// NodeFinished records one node completion.
func (m *Metrics) NodeFinished(nodeType, state string, seconds float64) {
	m.nodeDuration.WithLabelValues(nodeType, state).Observe(seconds)
}

// ExecutionFinished records one execution reaching a terminal state.
func (m *Metrics) ExecutionFinished(state string) {
	m.executionsTotal.WithLabelValues(state).Inc()
}

// RateLimitDecision records one run admission decision.
func (m *Metrics) RateLimitDecision(tier string, allowed bool) {
	decision := "allowed"
	if !allowed {
		decision = "rejected"
	}
	m.rateLimitTotal.WithLabelValues(tier, decision).Inc()
}

// InstallStarted marks one install task entering the worker pool.
func (m *Metrics) InstallStarted() { m.installsActive.Inc() }

// InstallFinished marks one install task leaving the worker pool.
func (m *Metrics) InstallFinished() { m.installsActive.Dec() }

// ClientConnected marks one event stream client attaching.
func (m *Metrics) ClientConnected() { m.wsClientsCurrent.Inc() }

// ClientDisconnected marks one event stream client detaching.
func (m *Metrics) ClientDisconnected() { m.wsClientsCurrent.Dec() }

// StartPprof starts the pprof listener on localhost. Failures are logged and
// never fatal.
func StartPprof(port int, log Logger) {
	addr := fmt.Sprintf("localhost:%d", port)
	go func() {
		log.Info("pprof listening", "addr", addr)
		if err := http.ListenAndServe(addr, nil); err != nil {
			log.Error("pprof server stopped", "error", err)
		}
	}()
}
