package commands

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/platinummonkey/tenantry/pkg/config"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// Globals are shared by every command
type Globals struct {
	Version string
}

// DatabaseFlags are the connection settings for commands that do not load the
// full server configuration
type DatabaseFlags struct {
	DatabaseURL    string        `help:"PostgreSQL connection URL." env:"TENANTRY_DATABASE_URL" required:""`
	ConnectTimeout time.Duration `help:"How long to retry the initial connection." env:"TENANTRY_DB_CONNECT_TIMEOUT" default:"30s"`
	LogLevel       string        `help:"Log level." env:"TENANTRY_LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`
}

func (f DatabaseFlags) config() config.DatabaseConfig {
	return config.DatabaseConfig{
		URL:            f.DatabaseURL,
		MaxOpenConns:   2,
		MaxIdleConns:   1,
		ConnectTimeout: f.ConnectTimeout,
	}
}

func (f DatabaseFlags) logger() *observability.Logger {
	return observability.NewLogger(observability.ParseLogLevel(f.LogLevel), os.Stdout)
}

// openDatabase connects to postgres, retrying with exponential backoff until
// cfg.ConnectTimeout elapses
func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *observability.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return struct{}{}, db.PingContext(pingCtx)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			logger.WithError(err).WithField("retry_in", next.String()).Warn("database not ready")
		}),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// openRedis connects to the configured redis URL
func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
