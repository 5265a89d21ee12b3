// Package observability provides structured logging, Prometheus metrics,
// health probes, OpenTelemetry setup and graceful shutdown for tenantry.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("org_id", orgID).Info("invitation created")
//
// Handlers should prefer FromContext, which attaches the request and user ids:
//
//	observability.FromContext(r.Context()).Warn("rate limited")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// Domain services accept a *Metrics and tolerate nil.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	checker.RegisterRoutes(router)
//
// # Shutdown
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//	sm := observability.NewShutdownManager(logger, 30*time.Second)
//	sm.Register("database", func(context.Context) error { return db.Close() })
//	sm.Register("http", server.Shutdown)
//	return sm.Wait(ctx)
package observability
