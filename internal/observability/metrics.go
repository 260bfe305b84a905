package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the engine.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	resolutions     *prometheus.CounterVec
	cacheEvents     *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_http_requests_total",
		Help: "HTTP requests by route and status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gatekeeper_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_resolutions_total",
		Help: "Permission resolutions by outcome.",
	}, []string{"outcome"})
	cacheEvents := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_cache_events_total",
		Help: "Cache hits and misses by layer.",
	}, []string{"layer", "event"})
	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_invalidations_total",
		Help: "Cache invalidation sweeps by triggering event.",
	}, []string{"event"})
	registry.MustRegister(requests, duration, resolutions, cacheEvents, invalidations)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		resolutions:     resolutions,
		cacheEvents:     cacheEvents,
		invalidations:   invalidations,
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

// Middleware records metrics for every HTTP request.
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

// Resolution records a permission resolution outcome.
func (m *Metrics) Resolution(granted bool) {
	if m == nil {
		return
	}
	outcome := "denied"
	if granted {
		outcome = "granted"
	}
	m.resolutions.WithLabelValues(outcome).Inc()
}

// CacheHit records a cache hit on the given layer ("memo" or "tagged").
func (m *Metrics) CacheHit(layer string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(layer, "hit").Inc()
}

// CacheMiss records a cache miss on the given layer.
func (m *Metrics) CacheMiss(layer string) {
	if m == nil {
		return
	}
	m.cacheEvents.WithLabelValues(layer, "miss").Inc()
}

// Invalidation records a sweep triggered by a domain event.
func (m *Metrics) Invalidation(event string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(event).Inc()
}

// Registerer exposes the registry for custom metric registration.
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

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func routePattern(r *http.Request) string {
	routeCtx := chi.RouteContext(r.Context())
	if routeCtx == nil {
		return r.URL.Path
	}
	if pattern := routeCtx.RoutePattern(); pattern != "" {
		return pattern
	}
	return r.URL.Path
}
