package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
)

// DispatchMetrics tracks end-to-end request dispatch.
//
// Metrics:
//   - relay_core_dispatch_total: dispatches by agent and outcome
//   - relay_core_dispatch_duration_seconds: dispatch latency by agent
//   - relay_core_dispatch_tokens_total: tokens dispatched by agent
//   - relay_core_dispatch_fallbacks_total: agents skipped for an unavailable provider
type DispatchMetrics struct {
	total     *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	tokens    *prometheus.CounterVec
	fallbacks *prometheus.CounterVec
}

// NewDispatchMetrics creates and registers dispatch metrics.
func NewDispatchMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DispatchMetrics {
	dm := &DispatchMetrics{
		total: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dispatch_total",
				Help:      "Dispatched requests by agent and outcome",
			},
			[]string{"agent", "outcome"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dispatch_duration_seconds",
				Help:      "Duration of dispatched requests in seconds",
				Buckets:   cfg.LatencyBuckets,
			},
			[]string{"agent"},
		),

		tokens: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dispatch_tokens_total",
				Help:      "Tokens dispatched by agent",
			},
			[]string{"agent"},
		),

		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "dispatch_fallbacks_total",
				Help:      "Ranked agents skipped because their provider was unavailable",
			},
			[]string{"agent"},
		),
	}

	registry.MustRegister(dm.total, dm.duration, dm.tokens, dm.fallbacks)
	return dm
}

// RecordDispatch records one dispatch. Rejected requests carry no agent and
// only count toward dispatch_total.
func (dm *DispatchMetrics) RecordDispatch(agent, outcome string, duration time.Duration, tokens int64) {
	dm.total.WithLabelValues(agent, outcome).Inc()
	if agent == "" {
		return
	}
	dm.duration.WithLabelValues(agent).Observe(duration.Seconds())
	if tokens > 0 {
		dm.tokens.WithLabelValues(agent).Add(float64(tokens))
	}
}

// RecordFallback counts a skipped agent.
func (dm *DispatchMetrics) RecordFallback(agent string) {
	dm.fallbacks.WithLabelValues(agent).Inc()
}
