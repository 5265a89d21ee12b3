package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Authentication metrics
	AuthAttemptsTotal *prometheus.CounterVec
	TokensIssuedTotal *prometheus.CounterVec
	RateLimitedTotal  *prometheus.CounterVec

	// Invitation metrics
	InvitationsTotal *prometheus.CounterVec

	// SSO bridge metrics
	SSOKeyFetchesTotal       *prometheus.CounterVec
	SSOExchangeCodes         prometheus.Gauge
	ExchangeRedemptionsTotal *prometheus.CounterVec

	// Database metrics
	DBConnectionsOpen prometheus.Gauge
	DBConnectionsIdle prometheus.Gauge
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tenantry_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		AuthAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_auth_attempts_total",
				Help: "Authentication attempts by credential method and result",
			},
			[]string{"method", "result"},
		),
		TokensIssuedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_tokens_issued_total",
				Help: "Tokens issued by type",
			},
			[]string{"type"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{"scope"},
		),

		InvitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_invitations_total",
				Help: "Invitation lifecycle transitions",
			},
			[]string{"transition"},
		),

		SSOKeyFetchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_sso_key_fetches_total",
				Help: "Fetches of the platform signing key set",
			},
			[]string{"result"},
		),
		SSOExchangeCodes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantry_sso_exchange_codes",
				Help: "Outstanding SSO exchange codes held in memory",
			},
		),
		ExchangeRedemptionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tenantry_sso_exchange_redemptions_total",
				Help: "SSO exchange code redemptions by result",
			},
			[]string{"result"},
		),

		DBConnectionsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantry_db_connections_open",
				Help: "Number of open database connections",
			},
		),
		DBConnectionsIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tenantry_db_connections_idle",
				Help: "Number of idle database connections",
			},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.AuthAttemptsTotal,
		m.TokensIssuedTotal,
		m.RateLimitedTotal,
		m.InvitationsTotal,
		m.SSOKeyFetchesTotal,
		m.SSOExchangeCodes,
		m.ExchangeRedemptionsTotal,
		m.DBConnectionsOpen,
		m.DBConnectionsIdle,
	)

	return m
}

// AuthAttempt counts an authentication attempt
func (m *Metrics) AuthAttempt(method, result string) {
	if m == nil {
		return
	}
	m.AuthAttemptsTotal.WithLabelValues(method, result).Inc()
}

// TokenIssued counts an issued token
func (m *Metrics) TokenIssued(tokenType string) {
	if m == nil {
		return
	}
	m.TokensIssuedTotal.WithLabelValues(tokenType).Inc()
}

// RateLimited counts a throttled request
func (m *Metrics) RateLimited(scope string) {
	if m == nil {
		return
	}
	m.RateLimitedTotal.WithLabelValues(scope).Inc()
}

// Invitation counts an invitation transition
func (m *Metrics) Invitation(transition string) {
	if m == nil {
		return
	}
	m.InvitationsTotal.WithLabelValues(transition).Inc()
}

// KeyFetch counts a signing key set fetch
func (m *Metrics) KeyFetch(result string) {
	if m == nil {
		return
	}
	m.SSOKeyFetchesTotal.WithLabelValues(result).Inc()
}

// SetExchangeCodes reports the number of held exchange codes
func (m *Metrics) SetExchangeCodes(n int) {
	if m == nil {
		return
	}
	m.SSOExchangeCodes.Set(float64(n))
}

// ExchangeRedemption counts an exchange code redemption
func (m *Metrics) ExchangeRedemption(result string) {
	if m == nil {
		return
	}
	m.ExchangeRedemptionsTotal.WithLabelValues(result).Inc()
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

// routeLabel uses the mux route template so ids in paths don't explode cardinality
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// HTTPMetricsMiddleware instruments HTTP requests with Prometheus metrics
func HTTPMetricsMiddleware(metrics *Metrics) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if metrics == nil {
				next.ServeHTTP(w, r)
				return
			}
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			route := routeLabel(r)
			metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
			metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		})
	}
}

// MetricsHandler serves the registry in Prometheus exposition format
func MetricsHandler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
