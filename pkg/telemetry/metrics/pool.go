package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
)

// PoolMetrics tracks the connection pool.
//
// Metrics:
//   - relay_core_pool_acquire_wait_seconds: time from Acquire to lease
//   - relay_core_pool_acquire_timeouts_total: timed out acquisitions by priority
//   - relay_core_pool_connections: open connections by provider and status
//   - relay_core_pool_queue_depth: queued acquisitions
type PoolMetrics struct {
	wait        *prometheus.HistogramVec
	timeouts    *prometheus.CounterVec
	connections *prometheus.GaugeVec
	queueDepth  prometheus.Gauge
}

// NewPoolMetrics creates and registers pool metrics.
func NewPoolMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *PoolMetrics {
	pm := &PoolMetrics{
		wait: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pool_acquire_wait_seconds",
				Help:      "Time spent waiting for a pooled connection in seconds",
				Buckets:   cfg.LatencyBuckets,
			},
			[]string{"provider"},
		),

		timeouts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pool_acquire_timeouts_total",
				Help:      "Acquisitions that timed out by priority",
			},
			[]string{"priority"},
		),

		connections: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pool_connections",
				Help:      "Open connections by provider and status",
			},
			[]string{"provider", "status"},
		),

		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "pool_queue_depth",
				Help:      "Acquisitions waiting for a connection",
			},
		),
	}

	registry.MustRegister(pm.wait, pm.timeouts, pm.connections, pm.queueDepth)
	return pm
}

// RecordAcquire observes the wait of a successful acquisition.
func (pm *PoolMetrics) RecordAcquire(provider string, wait time.Duration) {
	pm.wait.WithLabelValues(provider).Observe(wait.Seconds())
}

// RecordTimeout counts a timed out acquisition.
func (pm *PoolMetrics) RecordTimeout(priority string) {
	pm.timeouts.WithLabelValues(priority).Inc()
}

// SetConnections sets the connection gauge for provider and status.
func (pm *PoolMetrics) SetConnections(provider, status string, n int) {
	pm.connections.WithLabelValues(provider, status).Set(float64(n))
}

// SetQueueDepth sets the queue depth gauge.
func (pm *PoolMetrics) SetQueueDepth(depth int) {
	pm.queueDepth.Set(float64(depth))
}
