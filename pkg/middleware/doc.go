// Package middleware provides HTTP middleware for authentication, authorization gates and rate limiting.
//
// # Overview
//
// Authenticator turns the credential on a request into an auth.Principal and
// stores it in the request context. Handlers then read it with
// httputil.PrincipalOrError and apply their own permission checks.
//
// # Credentials
//
// Bearer access token:
//
//	Authorization: Bearer <jwt>
//	X-Organization-ID: 42            // optional, defaults to the oldest membership
//
// API key, bound to the organization it was created in:
//
//	X-API-Key: tnt_...
//	Authorization: Bearer tnt_...    // also accepted
//
// Every credential failure answers 401 with the same message.
//
// # Usage
//
//	authn := middleware.NewAuthenticator(tokenSvc, keySvc, userStore, orgStore, rbacResolver)
//	api.Use(authn.Handler)
//	platform.Use(middleware.RequirePlatformAdmin)
//
// # Rate Limiting
//
// RedisLimiter keeps a fixed-window counter per key in redis so every
// instance shares it. LocalLimiter is an in-process token bucket.
// FallbackLimiter uses the local limiter while redis is unreachable.
//
//	limiter := middleware.NewFallbackLimiter(
//		middleware.NewRedisLimiter(redisClient, limit, ""),
//		middleware.NewLocalLimiter(limit),
//		logger,
//	)
//	public.Use(middleware.RateLimitRules(limiter, metrics,
//		middleware.Rule{Scope: "login", Method: http.MethodPost, Path: "/api/auth/login"},
//	))
//
// Keys are scope:client-ip. A rejected request gets 429 RATE_LIMITED with a
// Retry-After header.
//
// # Related Packages
//
//   - pkg/tokens: access token verification
//   - pkg/apikeys: API key validation
//   - pkg/rbac: role grants
package middleware
