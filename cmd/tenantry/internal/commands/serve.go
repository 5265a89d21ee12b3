package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/platinummonkey/tenantry/pkg/catalog"
	"github.com/platinummonkey/tenantry/pkg/config"
	"github.com/platinummonkey/tenantry/pkg/migrations"
	"github.com/platinummonkey/tenantry/pkg/observability"
)

// ServeCmd runs the HTTP API. Configuration comes from TENANTRY_* variables.
type ServeCmd struct {
	Migrate bool `help:"Apply pending migrations before serving." env:"TENANTRY_AUTO_MIGRATE"`
	Seed    bool `help:"Apply the built-in catalog before serving." env:"TENANTRY_AUTO_SEED"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		observability.NewLogger(observability.ErrorLevel, os.Stderr).WithError(err).Error("invalid configuration")
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", "tenantry").
		WithField("version", globals.Version)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize opentelemetry: %w", err)
	}
	shutdown.Register("opentelemetry", providers.Shutdown)

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		_ = shutdown.Shutdown(context.Background())
		return err
	}
	shutdown.Register("database", func(context.Context) error { return db.Close() })

	if c.Migrate {
		if _, err := migrations.Run(ctx, db, logger); err != nil {
			_ = shutdown.Shutdown(context.Background())
			return err
		}
	}
	if c.Seed {
		cat, err := catalog.Default()
		if err == nil {
			_, err = catalog.NewSeeder(db, logger).Seed(ctx, cat)
		}
		if err != nil {
			_ = shutdown.Shutdown(context.Background())
			return err
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Enabled() {
		rdb, err = openRedis(ctx, cfg.Redis)
		if err != nil {
			_ = shutdown.Shutdown(context.Background())
			return err
		}
		shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := observability.NewMetrics(registry)

	app, err := newApplication(cfg, db, rdb, globals.Version, logger, metrics)
	if err != nil {
		_ = shutdown.Shutdown(context.Background())
		return err
	}

	jobs, err := app.scheduler()
	if err != nil {
		_ = shutdown.Shutdown(context.Background())
		return err
	}
	jobs.Start()
	shutdown.Register("scheduler", func(ctx context.Context) error {
		select {
		case <-jobs.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	shutdown.Register("background writes", func(context.Context) error {
		app.waitForBackgroundWrites()
		return nil
	})

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           app.routes(registry),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxHeaderBytes:    16 * 1024,
	}
	shutdown.Register("http server", server.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", server.Addr).Info("tenantry listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		logger.WithError(err).Error("http server failed")
		_ = shutdown.Shutdown(context.Background())
		return err
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}
	return shutdown.Shutdown(context.Background())
}
