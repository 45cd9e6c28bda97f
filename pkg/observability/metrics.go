package observability

import (
	"database/sql"
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
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Login flow metrics
	LoginCompletionsTotal *prometheus.CounterVec
	MappingAttempts       *prometheus.HistogramVec
	RegistrationsTotal    *prometheus.CounterVec

	// Username picker metrics
	PickerSessionsCreated prometheus.Counter
	PickerSessionsPending prometheus.Gauge

	// Database metrics
	DBConnectionsActive prometheus.Gauge
	DBConnectionsIdle   prometheus.Gauge

	// Redis metrics
	RedisConnectionsActive prometheus.Gauge

	// Business metrics
	UsersTotal        prometheus.Gauge
	LinkedIdentities  prometheus.Gauge
	ActiveLoginTokens prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idlink_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idlink_http_request_size_bytes",
				Help:    "HTTP request size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idlink_http_response_size_bytes",
				Help:    "HTTP response size in bytes",
				Buckets: prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		LoginCompletionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_login_completions_total",
				Help: "SSO login completions by resolution outcome",
			},
			[]string{"provider", "outcome"},
		),
		MappingAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "idlink_mapping_attempts",
				Help:    "Attribute mapper attempts needed to find a free localpart",
				Buckets: []float64{1, 2, 3, 5, 10, 25, 100, 1000},
			},
			[]string{"provider"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "idlink_registrations_total",
				Help: "SSO-driven account registrations by status",
			},
			[]string{"provider", "status"},
		),

		PickerSessionsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "idlink_picker_sessions_created_total",
				Help: "Username mapping sessions created",
			},
		),
		PickerSessionsPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_picker_sessions_pending",
				Help: "Username mapping sessions currently pending",
			},
		),

		DBConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_db_connections_active",
				Help: "Number of active database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),

		RedisConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_redis_connections_active",
				Help: "Number of active Redis connections",
			},
		),

		UsersTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_users_total",
				Help: "Total number of registered users",
			},
		),
		LinkedIdentities: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_linked_identities_total",
				Help: "Total number of external identity links",
			},
		),
		ActiveLoginTokens: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "idlink_login_tokens_active",
				Help: "Login tokens issued and not yet redeemed",
			},
		),
	}

	// Register all metrics
	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSize,
		m.HTTPResponseSize,
		m.LoginCompletionsTotal,
		m.MappingAttempts,
		m.RegistrationsTotal,
		m.PickerSessionsCreated,
		m.PickerSessionsPending,
		m.DBConnectionsActive,
		m.DBConnectionsIdle,
		m.RedisConnectionsActive,
		m.UsersTotal,
		m.LinkedIdentities,
		m.ActiveLoginTokens,
	)

	return m
}

// ObserveDBStats copies connection pool stats onto the database gauges.
func (m *Metrics) ObserveDBStats(stats sql.DBStats) {
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// Wrap response writer to capture status and size
			rw := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			// Record request size
			if r.ContentLength > 0 {
				metrics.HTTPRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
			}

			// Serve the request
			next.ServeHTTP(rw, r)

			// Record metrics
			duration := time.Since(start).Seconds()
			status := strconv.Itoa(rw.statusCode)

			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, r.URL.Path).Observe(duration)
			metrics.HTTPResponseSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(rw.bytesWritten))
		})
	}
}

// RegisterMetricsEndpoint registers the /metrics endpoint
func RegisterMetricsEndpoint(router *mux.Router, registry *prometheus.Registry) {
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}
