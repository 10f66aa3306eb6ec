// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("subscription_id", sub.ID).Info("subscription activated")
//
// Request-scoped loggers carry request_id and user_id:
//
//	observability.FromContext(r.Context()).Warn("checkout abandoned")
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RecordTransition("PENDING", "ACTIVE")
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	observability.RegisterHealthRoutes(healthMux, checker)
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
//		Enabled:  true,
//		Endpoint: "otel-collector:4317",
//	}, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
