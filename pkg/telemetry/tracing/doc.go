// Package tracing provides OpenTelemetry tracing for relay.
//
// Spans are opened around the admission check, ranking, connection
// acquisition and the full dispatch. When tracing is disabled a noop tracer
// is returned, so callers never need to check.
//
// Traces are exported over OTLP gRPC. Sampling is parent based with a trace
// id ratio taken from telemetry.tracing.sample_ratio:
//
//	telemetry:
//	  tracing:
//	    enabled: true
//	    endpoint: "otel-collector:4317"
//	    insecure: true
//	    sample_ratio: 0.1
//
// W3C trace context is injected into upstream HTTP requests and extracted
// from admin requests.
package tracing
