package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the collectors the marketplace exports. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	EscrowOperations   *prometheus.CounterVec
	DisputeResolutions *prometheus.CounterVec
	LedgerPostings     *prometheus.CounterVec
	RequestCount       *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New registers every collector on registry.
func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EscrowOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2p_escrow_operations_total",
				Help: "Escrow operations by operation and result.",
			},
			[]string{"operation", "result"},
		),
		DisputeResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2p_dispute_resolutions_total",
				Help: "Resolved disputes by outcome.",
			},
			[]string{"outcome"},
		),
		LedgerPostings: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "p2p_ledger_postings_total",
				Help: "Committed ledger postings by transaction type.",
			},
			[]string{"type"},
		),
		RequestCount: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
	}

	registry.MustRegister(m.EscrowOperations, m.DisputeResolutions, m.LedgerPostings, m.RequestCount, m.RequestDuration)
	return m
}

// NewRegistry returns a registry with the Go and process collectors attached.
func NewRegistry() *prometheus.Registry {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return registry
}

// Handler serves the registry in the Prometheus text format.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Result maps an operation error to a metric label.
func Result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (m *Metrics) ObserveEscrow(operation string, err error) {
	if m == nil {
		return
	}
	m.EscrowOperations.WithLabelValues(operation, Result(err)).Inc()
}

func (m *Metrics) ObserveResolution(outcome string) {
	if m == nil {
		return
	}
	m.DisputeResolutions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObservePostings(txTypes ...string) {
	if m == nil {
		return
	}
	for _, t := range txTypes {
		m.LedgerPostings.WithLabelValues(t).Inc()
	}
}

func (m *Metrics) ObserveRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestCount.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
