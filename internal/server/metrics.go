package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for the HTTP surface and
// the registry. A dedicated registry keeps the /metrics output free
// of default process collectors colliding in tests.
type Metrics struct {
	reg *prometheus.Registry

	IndicesOpen  prometheus.Gauge
	QueriesTotal *prometheus.CounterVec
	QueryErrors  *prometheus.CounterVec
	HTTPRequests *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		reg: reg,
		IndicesOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "searchd_indices_open",
			Help: "Number of currently open indices.",
		}),
		QueriesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchd_queries_total",
			Help: "Queries served, by scope (index name or _all).",
		}, []string{"scope"}),
		QueryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchd_query_errors_total",
			Help: "Queries that failed, by scope.",
		}, []string{"scope"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "searchd_http_requests_total",
			Help: "HTTP requests served, by method and status code.",
		}, []string{"method", "status"}),
	}

	reg.MustRegister(m.IndicesOpen, m.QueriesTotal, m.QueryErrors, m.HTTPRequests)
	return m
}

// Handler exposes the collectors in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
