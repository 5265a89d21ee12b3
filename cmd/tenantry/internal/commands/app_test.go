package commands

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/tenantry/pkg/config"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Port: "8080", CORSOrigins: []string{"https://app.example.com"}},
		Database: config.DatabaseConfig{URL: "postgres://localhost/tenantry"},
		Auth: config.AuthConfig{
			JWTSecret:          strings.Repeat("s", config.MinJWTSecretLength),
			Issuer:             "tenantry",
			AccessTokenTTL:     15 * time.Minute,
			RefreshTokenTTL:    24 * time.Hour,
			EmailVerifyTTL:     24 * time.Hour,
			PasswordResetTTL:   time.Hour,
			InvitationTTL:      72 * time.Hour,
			APIKeyPrefix:       "tnt",
			InvitationsEnabled: true,
		},
		SSO:           config.SSOConfig{ExchangeStore: config.ExchangeStoreMemory},
		RateLimit:     config.RateLimitConfig{Enabled: true, RequestsPerWindow: 2, Window: time.Minute, Burst: 2},
		Audit:         config.AuditConfig{Persist: true, Retention: 90 * 24 * time.Hour},
		Observability: config.ObservabilityConfig{MetricsEnabled: true},
	}
}

func newTestHandler(t *testing.T, cfg *config.Config) http.Handler {
	t.Helper()
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := prometheus.NewRegistry()
	app, err := newApplication(cfg, db, nil, "test", observability.NopLogger(), observability.NewMetrics(registry))
	require.NoError(t, err)
	return app.routes(registry)
}

func serve(h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRoutes_Liveness(t *testing.T) {
	h := newTestHandler(t, testConfig())
	rec := serve(h, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestRoutes_AuthenticatedRoutesRequireCredentials(t *testing.T) {
	h := newTestHandler(t, testConfig())

	for _, path := range []string{"/api/me", "/api/rbac/roles", "/api/orgs/1/flags", "/api/orgs/1/api-keys", "/api/orgs/1/audit-events"} {
		rec := serve(h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
		assert.Contains(t, rec.Body.String(), `"code":"UNAUTHORIZED"`, path)
	}
}

func TestRoutes_UnknownPath(t *testing.T) {
	h := newTestHandler(t, testConfig())
	rec := serve(h, http.MethodGet, "/api/nothing-here", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_SSODisabled(t *testing.T) {
	h := newTestHandler(t, testConfig())
	rec := serve(h, http.MethodPost, "/api/sso/exchange", `{"code":"x"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRoutes_LoginIsRateLimited(t *testing.T) {
	h := newTestHandler(t, testConfig())
	client := map[string]string{"X-Forwarded-For": "198.51.100.7"}

	for i := 0; i < 2; i++ {
		rec := serve(h, http.MethodPost, "/api/auth/login", `{bad json`, client)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec := serve(h, http.MethodPost, "/api/auth/login", `{bad json`, client)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"RATE_LIMITED"`)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	other := serve(h, http.MethodPost, "/api/auth/login", `{bad json`, map[string]string{"X-Forwarded-For": "198.51.100.8"})
	assert.Equal(t, http.StatusBadRequest, other.Code, "limits are per client")

	metrics := serve(h, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), `tenantry_rate_limited_total{scope="login"} 1`)
}

func TestRoutes_RefreshIsNotRateLimited(t *testing.T) {
	h := newTestHandler(t, testConfig())
	for i := 0; i < 5; i++ {
		rec := serve(h, http.MethodPost, "/api/auth/refresh", `{bad json`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestRoutes_RateLimitDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = false
	h := newTestHandler(t, cfg)
	for i := 0; i < 5; i++ {
		rec := serve(h, http.MethodPost, "/api/auth/login", `{bad json`, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}
}

func TestRoutes_CORSPreflight(t *testing.T) {
	h := newTestHandler(t, testConfig())
	rec := serve(h, http.MethodOptions, "/api/me", "", map[string]string{
		"Origin":                         "https://app.example.com",
		"Access-Control-Request-Method":  http.MethodGet,
		"Access-Control-Request-Headers": "Authorization",
	})
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestScheduler(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	cfg := testConfig()
	app, err := newApplication(cfg, db, nil, "test", observability.NopLogger(), nil)
	require.NoError(t, err)

	jobs, err := app.scheduler()
	require.NoError(t, err)
	assert.Len(t, jobs.Entries(), 2, "token pruning and audit cleanup, no exchange sweep without sso")

	cfg.Audit.Retention = 0
	app, err = newApplication(cfg, db, nil, "test", observability.NopLogger(), nil)
	require.NoError(t, err)
	jobs, err = app.scheduler()
	require.NoError(t, err)
	assert.Len(t, jobs.Entries(), 1, "unbounded retention skips cleanup")
}

func TestRoutes_AuditTrailDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Persist = false
	h := newTestHandler(t, cfg)

	rec := serve(h, http.MethodGet, "/api/orgs/1/audit-events", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
