// Package observability provides structured logging, Prometheus metrics,
// health checks and OpenTelemetry tracing for the ptbhub server.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("session refreshed")
//
// Request-scoped loggers carry request_id and user_id:
//
//	observability.FromContext(r.Context()).WithError(err).Error("bulk update failed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.WSRateLimitedTotal.WithLabelValues("board").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient)
//	checker.AddCheck("smb_config", func(ctx context.Context) error {
//		_, err := smbConfigs.Active(ctx)
//		return err
//	})
//	checker.RegisterRoutes(router)
//
// # Related Packages
//
//   - pkg/config: Observability configuration
//   - pkg/httputil: Request logging and recovery middleware
package observability
