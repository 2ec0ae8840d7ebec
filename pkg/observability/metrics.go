package observability

import (
	"bufio"
	"errors"
	"net"
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

	// WebSocket metrics
	WSConnectionsActive *prometheus.GaugeVec
	WSMessagesTotal     *prometheus.CounterVec
	WSRateLimitedTotal  *prometheus.CounterVec

	// Notification metrics
	NotificationsCreatedTotal *prometheus.CounterVec
	NotificationsPushedTotal  *prometheus.CounterVec

	// Cache metrics
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheErrorsTotal *prometheus.CounterVec

	// SMB metrics
	SMBUploadsTotal  *prometheus.CounterVec
	SMBRetriesTotal  *prometheus.CounterVec
	SMBPoolSize      prometheus.Gauge
	SMBUploadSeconds prometheus.Histogram

	// Job metrics
	JobsEnqueuedTotal  *prometheus.CounterVec
	JobsProcessedTotal *prometheus.CounterVec
	JobDuration        *prometheus.HistogramVec

	// Auth metrics
	AuthAttemptsTotal  *prometheus.CounterVec
	TokenRefreshTotal  *prometheus.CounterVec
	SessionTouchesSkip prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ptbhub_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		WSConnectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ptbhub_ws_connections_active",
				Help: "Open WebSocket connections per channel",
			},
			[]string{"channel"},
		),
		WSMessagesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_ws_messages_total",
				Help: "Inbound WebSocket messages by channel and type",
			},
			[]string{"channel", "type"},
		),
		WSRateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_ws_rate_limited_total",
				Help: "Inbound WebSocket messages dropped by the per-connection limiter",
			},
			[]string{"channel"},
		),

		NotificationsCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_notifications_created_total",
				Help: "Persisted notifications by event type",
			},
			[]string{"event_type"},
		),
		NotificationsPushedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_notifications_pushed_total",
				Help: "Notification frames pushed to WebSocket groups",
			},
			[]string{"status"},
		),

		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_cache_hits_total",
				Help: "Cache hits by view",
			},
			[]string{"view"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_cache_misses_total",
				Help: "Cache misses by view",
			},
			[]string{"view"},
		),
		CacheErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_cache_errors_total",
				Help: "Cache backend errors swallowed by fail-open handling",
			},
			[]string{"operation"},
		),

		SMBUploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_smb_uploads_total",
				Help: "SMB uploads by outcome",
			},
			[]string{"status"},
		),
		SMBRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_smb_retries_total",
				Help: "SMB operation retries by reason",
			},
			[]string{"reason"},
		),
		SMBPoolSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "ptbhub_smb_pool_connections",
				Help: "Connections currently held by the SMB pool",
			},
		),
		SMBUploadSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ptbhub_smb_upload_duration_seconds",
				Help:    "SMB upload duration including retries",
				Buckets: []float64{0.1, 0.5, 1, 5, 30, 60, 120, 300},
			},
		),

		JobsEnqueuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_jobs_enqueued_total",
				Help: "Background jobs enqueued by kind and executor",
			},
			[]string{"kind", "executor"},
		),
		JobsProcessedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_jobs_processed_total",
				Help: "Background jobs processed by kind and outcome",
			},
			[]string{"kind", "status"},
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ptbhub_job_duration_seconds",
				Help:    "Background job duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),

		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_auth_attempts_total",
				Help: "Authentication attempts by authenticator and outcome",
			},
			[]string{"authenticator", "status"},
		),
		TokenRefreshTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ptbhub_token_refresh_total",
				Help: "In-band external token refreshes by outcome",
			},
			[]string{"status"},
		),
		SessionTouchesSkip: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "ptbhub_session_touch_throttled_total",
				Help: "last_activity writes skipped by the 5 minute throttle",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.WSConnectionsActive,
		m.WSMessagesTotal,
		m.WSRateLimitedTotal,
		m.NotificationsCreatedTotal,
		m.NotificationsPushedTotal,
		m.CacheHitsTotal,
		m.CacheMissesTotal,
		m.CacheErrorsTotal,
		m.SMBUploadsTotal,
		m.SMBRetriesTotal,
		m.SMBPoolSize,
		m.SMBUploadSeconds,
		m.JobsEnqueuedTotal,
		m.JobsProcessedTotal,
		m.JobDuration,
		m.AuthAttemptsTotal,
		m.TokenRefreshTotal,
		m.SessionTouchesSkip,
	)

	return m
}

// NewNopMetrics returns metrics registered against a throwaway registry
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the instrumented writer
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics.
// Requests are labelled by route template to keep cardinality bounded.
func HTTPMetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeTemplate(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

func routeTemplate(r *http.Request) string {
	if current := mux.CurrentRoute(r); current != nil {
		if tpl, err := current.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// MetricsHandler serves the registry in the Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
