// Package telemetry provides the observability plumbing for fusionctl.
//
// It combines structured logging (zerolog), request and reconciliation
// tracing (OpenTelemetry) and Prometheus metrics behind a single Config.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.Logging.Level = "debug"
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	tel.StartMetricsServer()
//	ctx = tel.WithContext(ctx)
//
// # Logging
//
// Library packages accept a zerolog.Logger; Component returns one tagged with
// a component field. WithContext attaches the logger to a context so that
// zerolog.Ctx finds it inside the reconciliation engine.
//
// # Metrics
//
// Metrics live in a private registry. All Record methods are safe on a nil or
// disabled *Metrics:
//
//   - requests_total{method,status}, request_duration_seconds{method}
//   - changes_total{kind,action,applied}
//   - runs_total{mode,outcome}, run_duration_seconds{mode}
//   - errors_total{class}
//
// # Tracing
//
// Exporters: otlp (gRPC), stdout, none. A disabled or nil *Tracer starts
// no-op spans, so callers never check whether tracing is on.
package telemetry
