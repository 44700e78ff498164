package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	conversionFallbacks prometheus.Counter
	sequenceFallbacks   prometheus.Counter
	expiredOrders       prometheus.Counter
	allocationRejected  *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "keystone_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	conversionFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keystone_blanket_conversion_fallbacks_total",
		Help: "Draw-down lines aggregated with an unconverted quantity after a unit conversion failure.",
	})
	sequenceFallbacks := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keystone_blanket_sequence_fallbacks_total",
		Help: "Confirmations that used a locally generated reference after sequence exhaustion.",
	})
	expiredOrders := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "keystone_blanket_orders_expired_total",
		Help: "Blanket orders moved to expired by the scheduled sweep.",
	})
	allocationRejected := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "keystone_blanket_allocation_rejections_total",
		Help: "Allocation requests rejected, by reason.",
	}, []string{"reason"})
	registry.MustRegister(requests, duration, conversionFallbacks, sequenceFallbacks, expiredOrders, allocationRejected)
	return &Metrics{
		registry:            registry,
		handler:             promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:       requests,
		requestDuration:     duration,
		conversionFallbacks: conversionFallbacks,
		sequenceFallbacks:   sequenceFallbacks,
		expiredOrders:       expiredOrders,
		allocationRejected:  allocationRejected,
	}
}

// Handler returns the http.Handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records metrics for each HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// IncConversionFallback counts one unconverted aggregation fallback.
func (m *Metrics) IncConversionFallback() {
	if m != nil {
		m.conversionFallbacks.Inc()
	}
}

// IncSequenceFallback counts one locally generated reference.
func (m *Metrics) IncSequenceFallback() {
	if m != nil {
		m.sequenceFallbacks.Inc()
	}
}

// AddExpiredOrders counts orders expired by a sweep run.
func (m *Metrics) AddExpiredOrders(n int) {
	if m != nil && n > 0 {
		m.expiredOrders.Add(float64(n))
	}
}

// IncAllocationRejected counts one rejected allocation request.
func (m *Metrics) IncAllocationRejected(reason string) {
	if m != nil {
		m.allocationRejected.WithLabelValues(reason).Inc()
	}
}

// Registerer exposes the registry for registering custom metrics.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}
