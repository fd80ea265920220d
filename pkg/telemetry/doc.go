// Package telemetry groups the observability layers of the relay service.
//
// # Components
//
//   - logging: slog construction, request-scoped attributes and redaction
//   - metrics: Prometheus collectors for limits, scoring, pool and dispatch
//   - tracing: OpenTelemetry tracer setup and span attribute helpers
//   - health: liveness and readiness checks served by the admin server
//
// # Usage
//
//	logger, err := logging.New(cfg.Telemetry.Logging, os.Stderr)
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, version)
//
// The collector satisfies the recorder interfaces declared by the limits,
// scoring, pool and dispatch packages, so it is passed to each of them in
// their Options.
//
// # Redaction
//
// Log values are scrubbed before they are written:
//
//   - bearer tokens and sk- API keys are masked
//   - email addresses keep their first character and domain
//   - attributes whose key names a secret are replaced with "***"
package telemetry
