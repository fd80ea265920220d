// Package server runs relay's operations HTTP server.
//
// The admin server exposes Prometheus metrics, the liveness and readiness
// probes, build information and a JSON status document built by the caller.
// It carries no request traffic: dispatch happens in-process.
//
//	srv := server.New(server.Options{
//		Config:      cfg.Admin,
//		MetricsPath: cfg.Telemetry.Metrics.Path,
//		Metrics:     collector.Handler(),
//		Checker:     checker,
//		Status:      func() any { return status(p, d) },
//		Version:     version,
//	})
//	err := srv.Start(ctx) // returns after ctx is done and shutdown completes
//
// Every route is wrapped, outermost first, in panic recovery, request-id
// assignment, access logging and trace context extraction.
package server
