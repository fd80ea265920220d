package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/pool"
)

// maxAgentLabels bounds the distinct agent label values.
const maxAgentLabels = 1000

// overflowLabel replaces label values past the cardinality limit.
const overflowLabel = "other"

// Collector registers and records every relay metric. It implements the
// recorder interfaces of the limits, scoring, pool and dispatch packages, so
// one collector is shared by all of them.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	// Admission decisions and check latency
	limitMetrics *LimitMetrics

	// Ranking latency, extraction fallbacks, weights and adaptations
	scoringMetrics *ScoringMetrics

	// Connections, queue depth, acquire waits and timeouts
	poolMetrics *PoolMetrics

	// Dispatch outcomes, latency, tokens and fallbacks
	dispatchMetrics *DispatchMetrics

	// Cardinality tracking for the agent label
	agents *CardinalityLimiter
}

// NewCollector creates a collector and registers every metric on registry.
// A nil registry gets a fresh one. Empty namespace, subsystem and buckets in
// cfg are filled with defaults.
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
//	http.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}
	if cfg.Subsystem == "" {
		cfg.Subsystem = config.DefaultMetricsSubsystem
	}
	if len(cfg.LatencyBuckets) == 0 {
		cfg.LatencyBuckets = prometheus.DefBuckets
	}

	return &Collector{
		config:          cfg,
		registry:        registry,
		limitMetrics:    NewLimitMetrics(cfg, registry),
		scoringMetrics:  NewScoringMetrics(cfg, registry),
		poolMetrics:     NewPoolMetrics(cfg, registry),
		dispatchMetrics: NewDispatchMetrics(cfg, registry),
		agents:          NewCardinalityLimiter(maxAgentLabels),
	}
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// RecordLimitDecision implements limits.Recorder.
func (c *Collector) RecordLimitDecision(tier, reason string, allowed bool, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.limitMetrics.RecordDecision(tier, reason, allowed, duration)
}

// RecordScoring implements scoring.Recorder.
func (c *Collector) RecordScoring(agents int, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.scoringMetrics.RecordScoring(agents, duration)
}

// RecordExtractionFailure implements scoring.Recorder.
func (c *Collector) RecordExtractionFailure(factor string) {
	if !c.config.Enabled {
		return
	}
	c.scoringMetrics.RecordExtractionFailure(factor)
}

// RecordWeights implements scoring.Recorder.
func (c *Collector) RecordWeights(weights map[string]float64) {
	if !c.config.Enabled {
		return
	}
	c.scoringMetrics.SetWeights(weights)
}

// RecordAdaptation implements scoring.Recorder.
func (c *Collector) RecordAdaptation() {
	if !c.config.Enabled {
		return
	}
	c.scoringMetrics.RecordAdaptation()
}

// RecordAcquire implements pool.Recorder.
func (c *Collector) RecordAcquire(provider string, wait time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.poolMetrics.RecordAcquire(provider, wait)
}

// RecordAcquireTimeout implements pool.Recorder.
func (c *Collector) RecordAcquireTimeout(priority pool.Priority) {
	if !c.config.Enabled {
		return
	}
	c.poolMetrics.RecordTimeout(priority.String())
}

// RecordConnections implements pool.Recorder.
func (c *Collector) RecordConnections(provider string, byStatus map[pool.Status]int) {
	if !c.config.Enabled {
		return
	}
	for status, n := range byStatus {
		c.poolMetrics.SetConnections(provider, string(status), n)
	}
}

// RecordQueueDepth implements pool.Recorder.
func (c *Collector) RecordQueueDepth(depth int) {
	if !c.config.Enabled {
		return
	}
	c.poolMetrics.SetQueueDepth(depth)
}

// RecordDispatch implements dispatch.Recorder.
func (c *Collector) RecordDispatch(agent, outcome string, duration time.Duration, tokens int64) {
	if !c.config.Enabled {
		return
	}
	c.dispatchMetrics.RecordDispatch(c.agentLabel(agent), outcome, duration, tokens)
}

// RecordFallback implements dispatch.Recorder.
func (c *Collector) RecordFallback(agent string) {
	if !c.config.Enabled {
		return
	}
	c.dispatchMetrics.RecordFallback(c.agentLabel(agent))
}

func (c *Collector) agentLabel(agent string) string {
	if agent == "" || c.agents.Allow(agent) {
		return agent
	}
	return overflowLabel
}

// CardinalityLimiter caps the number of distinct label values it admits.
type CardinalityLimiter struct {
	// maxCardinality is the number of distinct values admitted.
	maxCardinality int

	// current holds the admitted values.
	current map[string]struct{}

	mu sync.RWMutex
}

// NewCardinalityLimiter creates a limiter admitting up to maxCardinality values.
func NewCardinalityLimiter(maxCardinality int) *CardinalityLimiter {
	return &CardinalityLimiter{
		maxCardinality: maxCardinality,
		current:        make(map[string]struct{}),
	}
}

// Allow reports whether value is already admitted or fits under the cap.
func (cl *CardinalityLimiter) Allow(value string) bool {
	cl.mu.RLock()
	if _, exists := cl.current[value]; exists {
		cl.mu.RUnlock()
		return true
	}
	cl.mu.RUnlock()

	cl.mu.Lock()
	defer cl.mu.Unlock()

	if _, exists := cl.current[value]; exists {
		return true
	}
	if len(cl.current) >= cl.maxCardinality {
		return false
	}
	cl.current[value] = struct{}{}
	return true
}

// Count returns the number of admitted values.
func (cl *CardinalityLimiter) Count() int {
	cl.mu.RLock()
	defer cl.mu.RUnlock()
	return len(cl.current)
}
