package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inkfold/api/internal/platform/textutil"
)

const metricsNamespace = "inkfold"

// Metrics holds the Prometheus collectors exported on the metrics endpoint.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests   *prometheus.CounterVec
	httpDuration   *prometheus.HistogramVec
	orderOps       *prometheus.CounterVec
	shippingQuotes *prometheus.CounterVec
	verifications  *prometheus.CounterVec
	verifyDuration *prometheus.HistogramVec
}

// NewMetrics registers the API collectors on a fresh registry. Go runtime and
// process collectors are included so the endpoint is useful on its own.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route, method and status code.",
		}, []string{"route", "method", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		orderOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "order_operations_total",
			Help:      "Order lifecycle operations by outcome.",
		}, []string{"operation", "outcome"}),
		shippingQuotes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "shipping_quotes_total",
			Help:      "Shipping quotes computed per zone, split by cache hits.",
		}, []string{"zone", "cache"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "auth_verifications_total",
			Help:      "Token and signature verification outcomes.",
		}, []string{"kind", "result", "reason"}),
		verifyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "auth_verification_duration_seconds",
			Help:      "Verification latency by kind.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}, []string{"kind"}),
	}
	reg.MustRegister(m.httpRequests, m.httpDuration, m.orderOps, m.shippingQuotes, m.verifications, m.verifyDuration)
	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency keyed by chi route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := newResponseRecorder(w)
		start := time.Now()
		defer func() {
			route := routePattern(r)
			method := textutil.ControlFree(r.Method, 10)
			m.httpRequests.WithLabelValues(route, method, strconv.Itoa(recorder.Status())).Inc()
			m.httpDuration.WithLabelValues(route, method).Observe(time.Since(start).Seconds())
		}()
		next.ServeHTTP(recorder, r)
	})
}

// ObserveOrderOperation counts an order operation ("create", "cancel", ...) with its outcome.
func (m *Metrics) ObserveOrderOperation(operation, outcome string) {
	if m == nil {
		return
	}
	m.orderOps.WithLabelValues(operation, outcome).Inc()
}

// ObserveShippingQuote counts a computed or cached quote for zone.
func (m *Metrics) ObserveShippingQuote(zone string, cached bool) {
	if m == nil {
		return
	}
	source := "miss"
	if cached {
		source = "hit"
	}
	m.shippingQuotes.WithLabelValues(zone, source).Inc()
}

// RecordVerification satisfies auth.MetricsRecorder.
func (m *Metrics) RecordVerification(_ context.Context, kind string, success bool, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	if reason == "" {
		reason = "none"
	}
	m.verifications.WithLabelValues(kind, result, reason).Inc()
	m.verifyDuration.WithLabelValues(kind).Observe(duration.Seconds())
}
