// Package telemetry groups the observability packages of tabula.
//
// # Components
//
//   - logging: slog-based structured logging with context fields, optional
//     file rotation and masking of credentials found in dataset DSNs
//   - metrics: Prometheus collectors for deliveries, jobs and schedules
//   - tracing: OpenTelemetry spans for deliveries, queued jobs, scheduled
//     runs and HTTP requests, exported over OTLP/gRPC
//   - health: liveness and readiness endpoints backed by component checks
//
// # Usage
//
//	cfg := config.GetConfig()
//
//	logger, err := logging.New(logging.ConfigFrom(&cfg.Telemetry.Logging))
//	if err != nil {
//		return err
//	}
//	logger.SetDefault()
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//	if err != nil {
//		return err
//	}
//	defer tracer.Shutdown(context.Background())
//
// Each component is optional. A disabled tracer is a no-op and a nil metrics
// recorder is ignored by the dispatcher and queue.
package telemetry
