package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/tenantry/pkg/observability"
)

// MinJWTSecretLength is the shortest accepted HMAC signing secret
const MinJWTSecretLength = 32

// Exchange store backends
const (
	ExchangeStoreMemory = "memory"
	ExchangeStoreRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	Server        ServerConfig
	Database      DatabaseConfig
	Redis         RedisConfig
	Auth          AuthConfig
	SSO           SSOConfig
	RateLimit     RateLimitConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	CORSOrigins     []string
}

// DatabaseConfig holds postgres settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// ConnectTimeout bounds the startup retry loop
	ConnectTimeout time.Duration
}

// RedisConfig is optional. An empty URL disables redis-backed components.
type RedisConfig struct {
	URL      string
	PoolSize int
}

// Enabled reports whether a redis URL is configured
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// AuthConfig holds token and credential settings
type AuthConfig struct {
	JWTSecret          string
	Issuer             string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	EmailVerifyTTL     time.Duration
	PasswordResetTTL   time.Duration
	InvitationTTL      time.Duration
	APIKeyPrefix       string
	InvitationsEnabled bool
	// InviteBaseURL is where invitation links point
	InviteBaseURL string
}

// SSOConfig holds the platform SSO bridge settings
type SSOConfig struct {
	Enabled         bool
	JWKSURL         string
	Issuer          string
	Audience        string
	KeyCacheTTL     time.Duration
	FetchTimeout    time.Duration
	ExchangeCodeTTL time.Duration
	SweepInterval   time.Duration
	DefaultRoleSlug string
	CallbackURL     string
	ExchangeStore   string
}

// RateLimitConfig holds limits for the sensitive unauthenticated endpoints
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerWindow int
	Window            time.Duration
	Burst             int
}

// AuditConfig controls the persisted audit trail
type AuditConfig struct {
	Persist bool
	// Retention is how long events are kept. Zero keeps them forever.
	Retention time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel observability.LogLevel

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Redis:         loadRedisConfig(),
		Auth:          loadAuthConfig(),
		SSO:           loadSSOConfig(),
		RateLimit:     loadRateLimitConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("TENANTRY_HOST", "0.0.0.0"),
		Port:            getEnv("TENANTRY_PORT", "8080"),
		ReadTimeout:     getEnvDuration("TENANTRY_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("TENANTRY_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("TENANTRY_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("TENANTRY_SHUTDOWN_TIMEOUT", 30*time.Second),
		CORSOrigins:     getEnvList("TENANTRY_CORS_ORIGINS"),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		URL:             getEnv("TENANTRY_DATABASE_URL", ""),
		MaxOpenConns:    getEnvInt("TENANTRY_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvInt("TENANTRY_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDuration("TENANTRY_DB_CONN_MAX_LIFETIME", 30*time.Minute),
		ConnectTimeout:  getEnvDuration("TENANTRY_DB_CONNECT_TIMEOUT", 30*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		URL:      getEnv("TENANTRY_REDIS_URL", ""),
		PoolSize: getEnvInt("TENANTRY_REDIS_POOL_SIZE", 10),
	}
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{
		JWTSecret:          os.Getenv("TENANTRY_JWT_SECRET"),
		Issuer:             getEnv("TENANTRY_JWT_ISSUER", "tenantry"),
		AccessTokenTTL:     getEnvDuration("TENANTRY_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:    getEnvDuration("TENANTRY_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		EmailVerifyTTL:     getEnvDuration("TENANTRY_EMAIL_VERIFY_TTL", 24*time.Hour),
		PasswordResetTTL:   getEnvDuration("TENANTRY_PASSWORD_RESET_TTL", time.Hour),
		InvitationTTL:      getEnvDuration("TENANTRY_INVITATION_TTL", 72*time.Hour),
		APIKeyPrefix:       getEnv("TENANTRY_API_KEY_PREFIX", "tnt"),
		InvitationsEnabled: getEnvBool("TENANTRY_INVITATIONS_ENABLED", true),
		InviteBaseURL:      getEnv("TENANTRY_INVITE_BASE_URL", "http://localhost:3000/invite"),
	}
}

func loadSSOConfig() SSOConfig {
	return SSOConfig{
		Enabled:         getEnvBool("TENANTRY_SSO_ENABLED", false),
		JWKSURL:         getEnv("TENANTRY_SSO_JWKS_URL", ""),
		Issuer:          getEnv("TENANTRY_SSO_ISSUER", ""),
		Audience:        getEnv("TENANTRY_SSO_AUDIENCE", ""),
		KeyCacheTTL:     getEnvDuration("TENANTRY_SSO_KEY_CACHE_TTL", 5*time.Minute),
		FetchTimeout:    getEnvDuration("TENANTRY_SSO_FETCH_TIMEOUT", 5*time.Second),
		ExchangeCodeTTL: getEnvDuration("TENANTRY_SSO_EXCHANGE_CODE_TTL", 60*time.Second),
		SweepInterval:   getEnvDuration("TENANTRY_SSO_SWEEP_INTERVAL", time.Minute),
		DefaultRoleSlug: getEnv("TENANTRY_SSO_DEFAULT_ROLE", "member"),
		CallbackURL:     getEnv("TENANTRY_SSO_CALLBACK_URL", ""),
		ExchangeStore:   strings.ToLower(getEnv("TENANTRY_SSO_EXCHANGE_STORE", ExchangeStoreMemory)),
	}
}

func loadRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:           getEnvBool("TENANTRY_RATE_LIMIT_ENABLED", true),
		RequestsPerWindow: getEnvInt("TENANTRY_RATE_LIMIT_REQUESTS", 10),
		Window:            getEnvDuration("TENANTRY_RATE_LIMIT_WINDOW", time.Minute),
		Burst:             getEnvInt("TENANTRY_RATE_LIMIT_BURST", 5),
	}
}

func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Persist:   getEnvBool("TENANTRY_AUDIT_PERSIST", true),
		Retention: getEnvDuration("TENANTRY_AUDIT_RETENTION", 90*24*time.Hour),
	}
}

func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:           observability.ParseLogLevel(getEnv("TENANTRY_LOG_LEVEL", "info")),
		MetricsEnabled:     getEnvBool("TENANTRY_METRICS_ENABLED", true),
		OTelEnabled:        getEnvBool("TENANTRY_OTEL_ENABLED", false),
		OTelEndpoint:       getEnv("TENANTRY_OTEL_ENDPOINT", "localhost:4317"),
		OTelServiceName:    getEnv("TENANTRY_OTEL_SERVICE_NAME", "tenantry"),
		OTelServiceVersion: getEnv("TENANTRY_OTEL_SERVICE_VERSION", "dev"),
		OTelInsecure:       getEnvBool("TENANTRY_OTEL_INSECURE", true),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Database.URL == "" {
		return fmt.Errorf("TENANTRY_DATABASE_URL is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("TENANTRY_JWT_SECRET is required")
	}
	if len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("TENANTRY_JWT_SECRET must be at least %d bytes", MinJWTSecretLength)
	}
	if c.Auth.AccessTokenTTL <= 0 || c.Auth.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.Auth.RefreshTokenTTL < c.Auth.AccessTokenTTL {
		return fmt.Errorf("refresh token TTL must not be shorter than access token TTL")
	}
	if c.Auth.InvitationTTL <= 0 {
		return fmt.Errorf("invitation TTL must be positive")
	}
	if c.Auth.APIKeyPrefix == "" || strings.ContainsAny(c.Auth.APIKeyPrefix, "_ ") {
		return fmt.Errorf("API key prefix must be non-empty and contain no underscore or space")
	}

	if c.SSO.Enabled {
		if c.SSO.JWKSURL == "" || c.SSO.Issuer == "" || c.SSO.Audience == "" {
			return fmt.Errorf("SSO requires JWKS URL, issuer and audience")
		}
		if _, err := url.ParseRequestURI(c.SSO.JWKSURL); err != nil {
			return fmt.Errorf("invalid SSO JWKS URL: %w", err)
		}
		if c.SSO.CallbackURL == "" {
			return fmt.Errorf("SSO callback URL is required")
		}
		if c.SSO.FetchTimeout <= 0 || c.SSO.ExchangeCodeTTL <= 0 || c.SSO.SweepInterval <= 0 {
			return fmt.Errorf("SSO timeouts and intervals must be positive")
		}
	}
	switch c.SSO.ExchangeStore {
	case ExchangeStoreMemory:
	case ExchangeStoreRedis:
		if !c.Redis.Enabled() {
			return fmt.Errorf("redis exchange store requires TENANTRY_REDIS_URL")
		}
	default:
		return fmt.Errorf("invalid exchange store: %s (must be memory or redis)", c.SSO.ExchangeStore)
	}

	if c.RateLimit.Enabled && (c.RateLimit.RequestsPerWindow <= 0 || c.RateLimit.Window <= 0) {
		return fmt.Errorf("rate limit requires positive requests and window")
	}

	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit retention must not be negative")
	}

	if c.Observability.OTelEnabled && c.Observability.OTelEndpoint == "" {
		return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated variable, dropping blanks
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
