package commands

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantry/pkg/accounts"
	"github.com/platinummonkey/tenantry/pkg/apikeys"
	"github.com/platinummonkey/tenantry/pkg/audit"
	"github.com/platinummonkey/tenantry/pkg/auth"
	"github.com/platinummonkey/tenantry/pkg/config"
	"github.com/platinummonkey/tenantry/pkg/flags"
	"github.com/platinummonkey/tenantry/pkg/httputil"
	"github.com/platinummonkey/tenantry/pkg/middleware"
	"github.com/platinummonkey/tenantry/pkg/observability"
	"github.com/platinummonkey/tenantry/pkg/orgs"
	"github.com/platinummonkey/tenantry/pkg/rbac"
	"github.com/platinummonkey/tenantry/pkg/sso"
	"github.com/platinummonkey/tenantry/pkg/tokens"
)

const (
	tokenPruneSchedule   = "@every 1h"
	auditCleanupSchedule = "@daily"
)

// application holds the wired services behind the HTTP API
type application struct {
	cfg     *config.Config
	logger  *observability.Logger
	metrics *observability.Metrics
	audit   *auth.AuditLogger

	// auditStore and auditRecorder are nil when the trail is not persisted
	auditStore    *audit.Store
	auditRecorder *audit.Recorder

	tokens      *tokens.Service
	accounts    *accounts.Service
	keys        *apikeys.Service
	roles       *rbac.Resolver
	flags       *flags.Service
	orgs        *orgs.Service
	invitations *orgs.InvitationService
	bridge      *sso.Bridge

	authn   *middleware.Authenticator
	limiter middleware.Limiter
	health  *observability.HealthChecker
}

// newApplication wires every service. rdb may be nil.
func newApplication(cfg *config.Config, db *sql.DB, rdb *redis.Client, version string, logger *observability.Logger, metrics *observability.Metrics) (*application, error) {
	tokenService, err := tokens.NewService(db, cfg.Auth.JWTSecret,
		tokens.WithTTLs(cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL),
		tokens.WithOneTimeTTL(tokens.PurposeEmailVerify, cfg.Auth.EmailVerifyTTL),
		tokens.WithOneTimeTTL(tokens.PurposePasswordReset, cfg.Auth.PasswordResetTTL),
		tokens.WithIssuer(cfg.Auth.Issuer),
		tokens.WithMetrics(metrics),
		tokens.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	users := accounts.NewStore(db)
	orgStore := orgs.NewStore(db)
	roleStore := rbac.NewStore(db)
	roles := rbac.NewResolver(roleStore)

	keys := apikeys.NewService(apikeys.NewSQLStore(db), orgStore, users,
		apikeys.WithPrefix(cfg.Auth.APIKeyPrefix),
		apikeys.WithLogger(logger),
		apikeys.WithMetrics(metrics),
	)

	app := &application{
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		audit:   auth.NewAuditLogger(logger),
		tokens:  tokenService,
		accounts: accounts.NewService(users, tokenService,
			accounts.WithLogger(logger),
			accounts.WithMetrics(metrics),
		),
		keys:  keys,
		roles: roles,
		flags: flags.NewService(flags.NewStore(db)),
		orgs:  orgs.NewService(orgStore, roleStore),
		invitations: orgs.NewInvitationService(db, orgStore, roleStore,
			orgs.WithInvitationTTL(cfg.Auth.InvitationTTL),
			orgs.WithInvitationsEnabled(cfg.Auth.InvitationsEnabled),
			orgs.WithAcceptURL(cfg.Auth.InviteBaseURL),
			orgs.WithInvitationLogger(logger),
			orgs.WithInvitationMetrics(metrics),
		),
		authn: middleware.NewAuthenticator(tokenService, keys, users, orgStore, roles,
			middleware.WithAPIKeyPrefix(cfg.Auth.APIKeyPrefix),
			middleware.WithAuthMetrics(metrics),
		),
	}

	if cfg.Audit.Persist {
		app.auditStore = audit.NewStore(db)
		app.auditRecorder = audit.NewRecorder(app.auditStore, logger)
		app.audit = auth.NewAuditLogger(logger, app.auditRecorder)
	}

	var healthRedis redis.UniversalClient
	if rdb != nil {
		healthRedis = rdb
	}
	app.health = observability.NewHealthChecker(db, healthRedis, version)

	if cfg.SSO.Enabled {
		bridge, err := newBridge(cfg, db, rdb, tokenService, logger, metrics)
		if err != nil {
			return nil, err
		}
		app.bridge = bridge
	}

	if cfg.RateLimit.Enabled {
		limit := middleware.Limit{
			Requests: cfg.RateLimit.RequestsPerWindow,
			Window:   cfg.RateLimit.Window,
			Burst:    cfg.RateLimit.Burst,
		}
		local := middleware.NewLocalLimiter(limit)
		app.limiter = local
		if rdb != nil {
			app.limiter = middleware.NewFallbackLimiter(middleware.NewRedisLimiter(rdb, limit, ""), local, logger)
		}
	}

	return app, nil
}

func newBridge(cfg *config.Config, db *sql.DB, rdb *redis.Client, issuer sso.PairIssuer, logger *observability.Logger, metrics *observability.Metrics) (*sso.Bridge, error) {
	var store sso.ExchangeStore
	switch cfg.SSO.ExchangeStore {
	case config.ExchangeStoreRedis:
		if rdb == nil {
			return nil, fmt.Errorf("redis exchange store requires a redis connection")
		}
		store = sso.NewRedisExchangeStore(rdb)
	default:
		logger.Warn("sso exchange codes are held in process memory; run a single instance or use the redis exchange store")
		store = sso.NewMemoryExchangeStore(metrics)
	}

	keyCache := sso.NewKeyCache(cfg.SSO.JWKSURL, cfg.SSO.KeyCacheTTL, cfg.SSO.FetchTimeout, metrics)
	verifier := sso.NewVerifier(cfg.SSO.Issuer, cfg.SSO.Audience, keyCache, time.Now)
	provisioner := sso.NewProvisioner(db, cfg.SSO.DefaultRoleSlug)

	return sso.NewBridge(verifier, provisioner, issuer, store, cfg.SSO.CallbackURL,
		sso.WithCodeTTL(cfg.SSO.ExchangeCodeTTL),
		sso.WithBridgeLogger(logger),
		sso.WithBridgeMetrics(metrics),
	), nil
}

// rateLimitRules names the unauthenticated endpoints that are limited per client IP
func rateLimitRules() []middleware.Rule {
	return []middleware.Rule{
		{Scope: "login", Method: http.MethodPost, Path: "/api/auth/login"},
		{Scope: "register", Method: http.MethodPost, Path: "/api/auth/register"},
		{Scope: "password_reset", Method: http.MethodPost, Path: "/api/auth/password-reset"},
		{Scope: "password_reset", Method: http.MethodPost, Path: "/api/auth/password-reset/confirm"},
		{Scope: "invitation_validate", Method: http.MethodGet, Path: "/api/invitations/validate"},
		{Scope: "sso_exchange", Method: http.MethodPost, Path: "/api/sso/exchange"},
	}
}

// routes builds the complete HTTP handler
func (a *application) routes(registry *prometheus.Registry) http.Handler {
	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(a.metrics))

	a.health.RegisterRoutes(router)
	if a.cfg.Observability.MetricsEnabled {
		router.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}

	api := router.PathPrefix("/api").Subrouter()
	if a.limiter != nil {
		api.Use(middleware.RateLimitRules(a.limiter, a.metrics, rateLimitRules()...))
	}

	accountHandlers := accounts.NewHandlers(a.accounts, a.audit)
	orgHandlers := orgs.NewHandlers(a.orgs, a.invitations, a.audit)

	// public routes are registered first so the authenticated subrouter,
	// which matches any path, never shadows them
	accountHandlers.RegisterPublicRoutes(api)
	orgHandlers.RegisterPublicRoutes(api)
	if a.bridge != nil {
		sso.NewHandlers(a.bridge, a.audit).RegisterRoutes(api)
	}

	authed := api.NewRoute().Subrouter()
	authed.Use(a.authn.Handler)
	accountHandlers.RegisterRoutes(authed)
	rbac.NewHandlers(a.roles, a.audit).RegisterRoutes(authed)
	flags.NewHandlers(a.flags, a.audit).RegisterRoutes(authed)
	apikeys.NewHandlers(a.keys, a.audit).RegisterRoutes(authed)
	orgHandlers.RegisterRoutes(authed)
	if a.auditStore != nil {
		audit.NewHandlers(a.auditStore).RegisterRoutes(authed)
	}

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware,
		httputil.LoggingMiddleware(a.logger),
	)(router)

	if origins := a.cfg.Server.CORSOrigins; len(origins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{
				http.MethodGet, http.MethodPost, http.MethodPut,
				http.MethodPatch, http.MethodDelete, http.MethodOptions,
			},
			AllowedHeaders: []string{
				"Authorization", "Content-Type", "X-Request-ID",
				middleware.APIKeyHeader, middleware.OrganizationHeader,
			},
			ExposedHeaders: []string{
				"X-Request-ID", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining",
			},
			AllowCredentials: true,
		}).Handler(handler)
	}

	return otelhttp.NewHandler(handler, "tenantry")
}

// scheduler registers the background jobs
func (a *application) scheduler() (*cron.Cron, error) {
	c := cron.New()

	if a.bridge != nil {
		schedule := fmt.Sprintf("@every %s", a.cfg.SSO.SweepInterval)
		if _, err := c.AddFunc(schedule, func() { a.bridge.Sweep(context.Background()) }); err != nil {
			return nil, fmt.Errorf("failed to schedule exchange code sweep: %w", err)
		}
	}

	if _, err := c.AddFunc(tokenPruneSchedule, a.pruneTokens); err != nil {
		return nil, fmt.Errorf("failed to schedule token pruning: %w", err)
	}

	if a.auditStore != nil && a.cfg.Audit.Retention > 0 {
		if _, err := c.AddFunc(auditCleanupSchedule, a.cleanupAudit); err != nil {
			return nil, fmt.Errorf("failed to schedule audit cleanup: %w", err)
		}
	}
	return c, nil
}

// waitForBackgroundWrites drains fire-and-forget writes started by requests
func (a *application) waitForBackgroundWrites() {
	a.keys.Wait()
	if a.auditRecorder != nil {
		a.auditRecorder.Wait()
	}
}

func (a *application) pruneTokens() {
	defer observability.RecoverPanic(a.logger, "token prune")

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	removed, err := a.tokens.PruneExpired(ctx)
	if err != nil {
		a.logger.WithError(err).Warn("failed to prune expired tokens")
		return
	}
	if removed > 0 {
		a.logger.WithField("removed", removed).Info("pruned expired tokens")
	}
}

func (a *application) cleanupAudit() {
	defer observability.RecoverPanic(a.logger, "audit cleanup")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	removed, err := a.auditStore.Cleanup(ctx, time.Now().Add(-a.cfg.Audit.Retention))
	if err != nil {
		a.logger.WithError(err).Warn("failed to clean up audit events")
		return
	}
	if removed > 0 {
		a.logger.WithField("removed", removed).Info("removed expired audit events")
	}
}
