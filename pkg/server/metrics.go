package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pario-ai/tollgate/pkg/budget"
	"github.com/pario-ai/tollgate/pkg/reload"
)

// Metrics holds the Prometheus collectors for one server. It also receives
// measurements from the metering service and the reload executor.
type Metrics struct {
	registry *prometheus.Registry

	requests  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	scanned   prometheus.Counter
	estimated prometheus.Counter
	budgets   *prometheus.CounterVec
	reloads   *prometheus.CounterVec
}

// NewMetrics creates a Metrics on its own registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_http_requests_total",
				Help: "HTTP requests by route, method and status code",
			},
			[]string{"route", "method", "code"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tollgate_http_request_duration_milliseconds",
				Help:    "HTTP request duration in milliseconds",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
			},
			[]string{"route"},
		),
		scanned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_ledger_events_scanned_total",
				Help: "Usage events read from the ledger",
			},
		),
		estimated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tollgate_ledger_events_estimated_total",
				Help: "Usage events priced with fallback token estimates",
			},
		),
		budgets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_budget_evaluations_total",
				Help: "Budget evaluations by resulting status",
			},
			[]string{"status"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tollgate_reload_outcomes_total",
				Help: "Auto-reload evaluations by outcome",
			},
			[]string{"outcome"},
		),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests, m.duration, m.scanned, m.estimated, m.budgets, m.reloads,
	)
	return m
}

// ObserveScan implements metering.Observer.
func (m *Metrics) ObserveScan(events, estimated int) {
	m.scanned.Add(float64(events))
	m.estimated.Add(float64(estimated))
}

// ObserveBudget implements metering.Observer.
func (m *Metrics) ObserveBudget(status budget.Status) {
	m.budgets.WithLabelValues(string(status)).Inc()
}

// ObserveReload is a reload outcome hook.
func (m *Metrics) ObserveReload(o reload.Outcome) {
	m.reloads.WithLabelValues(string(o)).Inc()
}

func (m *Metrics) observeRequest(route, method string, code int, elapsed time.Duration) {
	m.requests.WithLabelValues(route, method, strconv.Itoa(code)).Inc()
	m.duration.WithLabelValues(route).Observe(float64(elapsed) / float64(time.Millisecond))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
