package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
)

// ScoringMetrics tracks the scoring engine.
//
// Metrics:
//   - relay_core_scoring_duration_seconds: time per scoring call
//   - relay_core_scoring_agents: candidates per scoring call
//   - relay_core_scoring_extraction_failures_total: factors that fell back to neutral
//   - relay_core_scoring_weight: current weight per factor
//   - relay_core_scoring_adaptations_total: weight adaptations applied
type ScoringMetrics struct {
	duration    prometheus.Histogram
	agents      prometheus.Histogram
	extractions *prometheus.CounterVec
	weights     *prometheus.GaugeVec
	adaptations prometheus.Counter
}

// NewScoringMetrics creates and registers scoring metrics.
func NewScoringMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *ScoringMetrics {
	sm := &ScoringMetrics{
		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "scoring_duration_seconds",
				Help:      "Duration of scoring calls in seconds",
				Buckets:   cfg.LatencyBuckets,
			},
		),

		agents: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "scoring_agents",
				Help:      "Number of candidate agents per scoring call",
				Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
			},
		),

		extractions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "scoring_extraction_failures_total",
				Help:      "Factor extractions that fell back to the neutral value",
			},
			[]string{"factor"},
		),

		weights: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "scoring_weight",
				Help:      "Current scoring weight per factor",
			},
			[]string{"factor"},
		),

		adaptations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: cfg.Subsystem,
				Name:      "scoring_adaptations_total",
				Help:      "Number of weight adaptations applied",
			},
		),
	}

	registry.MustRegister(sm.duration, sm.agents, sm.extractions, sm.weights, sm.adaptations)
	return sm
}

// RecordScoring records one scoring call.
func (sm *ScoringMetrics) RecordScoring(agents int, duration time.Duration) {
	sm.duration.Observe(duration.Seconds())
	sm.agents.Observe(float64(agents))
}

// RecordExtractionFailure counts a factor that could not be extracted.
func (sm *ScoringMetrics) RecordExtractionFailure(factor string) {
	sm.extractions.WithLabelValues(factor).Inc()
}

// SetWeights publishes the current weights.
func (sm *ScoringMetrics) SetWeights(weights map[string]float64) {
	for factor, w := range weights {
		sm.weights.WithLabelValues(factor).Set(w)
	}
}

// RecordAdaptation counts an adaptation.
func (sm *ScoringMetrics) RecordAdaptation() {
	sm.adaptations.Inc()
}
