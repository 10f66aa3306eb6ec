package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Subscription lifecycle metrics
	SubscriptionTransitionsTotal *prometheus.CounterVec
	LifecycleErrorsTotal         *prometheus.CounterVec
	ProrationAmount              prometheus.Histogram
	ExpiredSubscriptionsTotal    prometheus.Counter

	// Plan cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Rate limiting
	RateLimitedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenancy_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		SubscriptionTransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_subscription_transitions_total",
				Help: "Subscription state transitions",
			},
			[]string{"from", "to"},
		),
		LifecycleErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_lifecycle_errors_total",
				Help: "Failed lifecycle operations by operation and error code",
			},
			[]string{"operation", "code"},
		),
		ProrationAmount: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tenancy_proration_amount",
				Help:    "Billed amount of plan switches after proration",
				Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000},
			},
		),
		ExpiredSubscriptionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenancy_expired_subscriptions_total",
				Help: "Subscriptions moved to EXPIRED by the sweep",
			},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"cache_type"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenancy_cache_misses_total",
				Help: "Total number of cache misses",
			},
			[]string{"cache_type"},
		),

		RateLimitedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tenancy_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.SubscriptionTransitionsTotal,
		m.LifecycleErrorsTotal,
		m.ProrationAmount,
		m.ExpiredSubscriptionsTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.RateLimitedTotal,
	)

	return m
}

// RecordTransition counts a subscription state change. Safe on a nil receiver.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.SubscriptionTransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordLifecycleError counts a failed lifecycle operation. Safe on a nil receiver.
func (m *Metrics) RecordLifecycleError(operation, code string) {
	if m == nil {
		return
	}
	m.LifecycleErrorsTotal.WithLabelValues(operation, code).Inc()
}

// RecordProration observes a billed plan switch amount. Safe on a nil receiver.
func (m *Metrics) RecordProration(amount float64) {
	if m == nil {
		return
	}
	m.ProrationAmount.Observe(amount)
}

// RecordExpired counts subscriptions expired by a sweep. Safe on a nil receiver.
func (m *Metrics) RecordExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ExpiredSubscriptionsTotal.Add(float64(n))
}

// RecordCache counts a cache lookup. Safe on a nil receiver.
func (m *Metrics) RecordCache(cacheType string, hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHitsTotal.WithLabelValues(cacheType).Inc()
		return
	}
	m.CacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordRateLimited counts a rejected request. Safe on a nil receiver.
func (m *Metrics) RecordRateLimited() {
	if m == nil {
		return
	}
	m.RateLimitedTotal.Inc()
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Routes are labelled by their mux template to keep label cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			duration := time.Since(start).Seconds()
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(duration)
		})
	}
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(serveMux *http.ServeMux, gatherer prometheus.Gatherer) {
	serveMux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
}
