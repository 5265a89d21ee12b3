// Package config loads tenantry configuration from TENANTRY_* environment
// variables and validates it.
//
// Required:
//
//	TENANTRY_DATABASE_URL="postgres://localhost/tenantry?sslmode=disable"
//	TENANTRY_JWT_SECRET="<at least 32 bytes>"
//
// Token lifetimes:
//
//	TENANTRY_ACCESS_TOKEN_TTL="15m"
//	TENANTRY_REFRESH_TOKEN_TTL="168h"
//	TENANTRY_INVITATION_TTL="72h"
//
// Platform SSO bridge:
//
//	TENANTRY_SSO_ENABLED="true"
//	TENANTRY_SSO_JWKS_URL="https://platform.example.com/.well-known/jwks.json"
//	TENANTRY_SSO_ISSUER="https://platform.example.com"
//	TENANTRY_SSO_AUDIENCE="tenantry"
//	TENANTRY_SSO_CALLBACK_URL="https://app.example.com/sso/callback"
//	TENANTRY_SSO_EXCHANGE_STORE="memory"  # memory, redis
//
// Optional redis (distributed rate limiting, shared exchange codes):
//
//	TENANTRY_REDIS_URL="redis://localhost:6379/0"
//
// A missing or short signing secret fails LoadConfig, and serve exits before
// binding a port.
package config
