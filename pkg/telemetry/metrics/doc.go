// Package metrics exposes relay's Prometheus metrics.
//
// A Collector owns a private registry and implements the recorder
// interfaces of the limits, scoring, pool and dispatch packages, so each
// component records through a narrow interface without importing Prometheus:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil)
//	svc, _ := limits.NewService(limits.Options{Recorder: collector, ...})
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
//
// Metric names are prefixed with the configured namespace and subsystem
// (relay_core_ by default). Agent labels are bounded by a cardinality
// limiter; agents beyond the limit are aggregated under "other".
package metrics
