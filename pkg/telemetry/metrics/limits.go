package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
)

// LimitMetrics tracks admission decisions.
//
// Metrics:
//   - relay_core_limit_decisions_total: decisions by tier, reason and outcome
//   - relay_core_limit_check_duration_seconds: time spent per check
type LimitMetrics struct {
	decisions *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

// NewLimitMetrics creates and registers limit metrics.
func NewLimitMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *LimitMetrics {
	lm := &LimitMetrics{
		decisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "limit_decisions_total",
				Help:      "Admission decisions by tier, reason and outcome",
			},
			[]string{"tier", "reason", "allowed"},
		),

		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "limit_check_duration_seconds",
				Help:      "Duration of limit checks in seconds",
				Buckets:   cfg.LatencyBuckets,
			},
			[]string{"tier"},
		),
	}

	registry.MustRegister(lm.decisions, lm.duration)
	return lm
}

// RecordDecision records one decision. An allowed decision has an empty
// reason, which is reported as "none".
func (lm *LimitMetrics) RecordDecision(tier, reason string, allowed bool, duration time.Duration) {
	if reason == "" {
		reason = "none"
	}
	lm.decisions.WithLabelValues(tier, reason, strconv.FormatBool(allowed)).Inc()
	lm.duration.WithLabelValues(tier).Observe(duration.Seconds())
}
