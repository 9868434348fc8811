// Package metrics exposes Prometheus counters for trust-chain and crypto
// operations plus HTTP request instrumentation.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "secureqr"

// Metrics holds the collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	bootstraps      prometheus.Counter
	leavesIssued    prometheus.Counter
	payloadsSigned  *prometheus.CounterVec
	verifications   *prometheus.CounterVec
	cryptoOps       *prometheus.CounterVec
	requestCounter  *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		bootstraps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trust",
			Name:      "root_bootstraps_total",
			Help:      "Root issuers created by bootstrap (winners only).",
		}),
		leavesIssued: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "trust",
			Name:      "leaves_issued_total",
			Help:      "Leaf credentials issued.",
		}),
		payloadsSigned: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qr",
			Name:      "payloads_signed_total",
			Help:      "Signed payloads produced, by output format.",
		}, []string{"format"}),
		verifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "qr",
			Name:      "verifications_total",
			Help:      "Envelope verifications, by outcome.",
		}, []string{"outcome"}),
		cryptoOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "crypto",
			Name:      "operations_total",
			Help:      "Generic crypto operations, by operation and result.",
		}, []string{"op", "result"}),
		requestCounter: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests, by method, route and status.",
		}, []string{"method", "route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) RootBootstrapped() {
	if m != nil {
		m.bootstraps.Inc()
	}
}

func (m *Metrics) LeafIssued() {
	if m != nil {
		m.leavesIssued.Inc()
	}
}

// PayloadSigned counts a signed payload rendered as format ("png" or "envelope").
func (m *Metrics) PayloadSigned(format string) {
	if m != nil {
		m.payloadsSigned.WithLabelValues(format).Inc()
	}
}

// Verified counts an envelope verification. outcome is "trusted",
// "untrusted" or "malformed".
func (m *Metrics) Verified(outcome string) {
	if m != nil {
		m.verifications.WithLabelValues(outcome).Inc()
	}
}

// CryptoOp counts a generic crypto endpoint call.
func (m *Metrics) CryptoOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.cryptoOps.WithLabelValues(op, result).Inc()
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.requestCounter.WithLabelValues(method, route, status).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(seconds)
}
