// Package metrics exposes Prometheus instrumentation for route execution.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector holds the engine's metrics on a private registry
type Collector struct {
	registry *prometheus.Registry

	processTransitions *prometheus.CounterVec
	steps              *prometheus.CounterVec
	routes             *prometheus.CounterVec
	activeRoutes       prometheus.Gauge
	counterpartyWait   *prometheus.HistogramVec
	chainSwitches      *prometheus.CounterVec
	quotes             *prometheus.CounterVec
}

// NewCollector creates and registers every metric under namespace
func NewCollector(namespace string) *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		processTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "process_transitions_total",
			Help:      "Process status transitions by process type and status",
		}, []string{"type", "status"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Finished step executions by step type and status",
		}, []string{"type", "status"}),
		routes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Route runs by result",
		}, []string{"result"}),
		activeRoutes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_routes",
			Help:      "Routes currently executing",
		}),
		counterpartyWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "counterparty_wait_seconds",
			Help:      "Time spent waiting for counterparty events",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 200, 300, 600},
		}, []string{"event", "result"}),
		chainSwitches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_switch_requests_total",
			Help:      "Chain switch negotiations by wallet mode and result",
		}, []string{"mode", "result"}),
		quotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_total",
			Help:      "Quote requests by tool and result",
		}, []string{"tool", "result"}),
	}

	c.registry.MustRegister(
		c.processTransitions,
		c.steps,
		c.routes,
		c.activeRoutes,
		c.counterpartyWait,
		c.chainSwitches,
		c.quotes,
	)
	return c
}

// Registry returns the underlying registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveProcess(typ, status string) {
	if c == nil {
		return
	}
	c.processTransitions.WithLabelValues(typ, status).Inc()
}

func (c *Collector) ObserveStep(typ, status string) {
	if c == nil {
		return
	}
	c.steps.WithLabelValues(typ, status).Inc()
}

func (c *Collector) ObserveRoute(result string) {
	if c == nil {
		return
	}
	c.routes.WithLabelValues(result).Inc()
}

func (c *Collector) RouteStarted() {
	if c == nil {
		return
	}
	c.activeRoutes.Inc()
}

func (c *Collector) RouteStopped() {
	if c == nil {
		return
	}
	c.activeRoutes.Dec()
}

func (c *Collector) ObserveWait(event, result string, d time.Duration) {
	if c == nil {
		return
	}
	c.counterpartyWait.WithLabelValues(event, result).Observe(d.Seconds())
}

func (c *Collector) ObserveChainSwitch(mode, result string) {
	if c == nil {
		return
	}
	c.chainSwitches.WithLabelValues(mode, result).Inc()
}

func (c *Collector) ObserveQuote(tool, result string) {
	if c == nil {
		return
	}
	c.quotes.WithLabelValues(tool, result).Inc()
}
