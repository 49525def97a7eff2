// Package telemetry sets up OpenTelemetry tracing and metrics export for
// iapropria.
//
// Spans and otel metrics are exported over OTLP gRPC to a collector.
// Prometheus metrics are served separately on /metrics and do not depend on
// this package.
//
//	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Observability, version), logger)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Export failures never stop the application. When an exporter cannot be
// created the instance is marked degraded and the global no-op providers
// stay in place.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory.
package telemetry
