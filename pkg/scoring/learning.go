package scoring

import (
	"errors"
	"fmt"
	"math"
	"time"

	"mercator-hq/relay/pkg/events"
)

const (
	// matchWindow is how old a score may be to receive an outcome.
	matchWindow = 5 * time.Minute

	// adaptSamples is how many recent outcomes an adaptation pass reads.
	adaptSamples = 100

	// targetAccuracy is the accuracy at which a factor's weight holds steady.
	targetAccuracy = 0.8

	minWeight = 0.01
	maxWeight = 0.5
)

// LearnFromOutcome attaches an outcome to the newest unmatched score for
// agentID from the last five minutes. It returns ErrUnmatchedOutcome when
// there is none.
func (e *Engine) LearnFromOutcome(agentID string, o Outcome) error {
	if agentID == "" {
		return errors.New("scoring: agent id is required")
	}
	o.Quality = clamp01(o.Quality)
	o.UserSatisfaction = clamp01(o.UserSatisfaction)
	now := e.clock.Now()

	e.mu.Lock()
	idx := e.matchLocked(agentID, now)
	if idx < 0 {
		e.unmatched++
		e.mu.Unlock()
		e.logger.Debug("outcome without a recent score", "agent", agentID)
		return fmt.Errorf("%w: %s", ErrUnmatchedOutcome, agentID)
	}

	rec := &e.history[idx]
	rec.Outcome = &o
	rec.Actual = o.actual()

	predictionErr := math.Abs(rec.Predicted - rec.Actual)
	e.agentErrors[agentID] = 0.9*e.agentErrors[agentID] + 0.1*predictionErr
	e.uses[agentID]++
	e.totalOutcomes++

	var adapted *WeightsAdaptedEvent
	if e.totalOutcomes%int64(e.cfg.AdaptEvery) == 0 {
		adapted = e.adaptLocked()
	}
	e.mu.Unlock()

	if adapted != nil {
		e.recorder.RecordAdaptation()
		e.recorder.RecordWeights(adapted.After.Map())
		e.bus.Publish(events.TopicWeightsAdapted, *adapted)
		e.logger.Info("scoring weights adapted",
			"outcomes", adapted.Outcomes,
			"samples", adapted.Samples,
			"weights", adapted.After.Map(),
		)
	}
	return nil
}

// matchLocked returns the index of the newest unmatched record of agentID
// within matchWindow, or -1.
func (e *Engine) matchLocked(agentID string, now time.Time) int {
	for i := len(e.history) - 1; i >= 0; i-- {
		r := &e.history[i]
		if now.Sub(r.Timestamp) > matchWindow {
			break
		}
		if r.AgentID == agentID && r.Outcome == nil {
			return i
		}
	}
	return -1
}

// adaptLocked nudges each weight by how well its factor predicted the last
// outcomes, then renormalizes.
func (e *Engine) adaptLocked() *WeightsAdaptedEvent {
	var samples []*Record
	for i := len(e.history) - 1; i >= 0 && len(samples) < adaptSamples; i-- {
		if e.history[i].Outcome != nil {
			samples = append(samples, &e.history[i])
		}
	}
	if len(samples) == 0 {
		return nil
	}

	before := e.weights
	w := e.weights
	for f := range w {
		var acc float64
		for _, r := range samples {
			acc += 1 - math.Abs(r.FactorScores[f]-r.Actual)
		}
		acc /= float64(len(samples))
		w[f] = clamp(w[f]+(acc-targetAccuracy)*e.cfg.AdaptationRate*0.1, minWeight, maxWeight)
	}
	e.weights = w.Normalize()
	e.adaptations++

	return &WeightsAdaptedEvent{
		Before:   before,
		After:    e.weights,
		Outcomes: e.totalOutcomes,
		Samples:  len(samples),
	}
}

// GetScoringMetrics returns a snapshot of engine counters and weights.
func (e *Engine) GetScoringMetrics() Metrics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	m := Metrics{
		TotalScored:   e.totalScored,
		TotalRankings: e.totalRankings,
		TotalOutcomes: e.totalOutcomes,
		Unmatched:     e.unmatched,
		Adaptations:   e.adaptations,
		Extraction:    e.extractionFailures.Load(),
		HistorySize:   len(e.history),
		Weights:       e.weights.Map(),
		AgentErrors:   make(map[string]float64, len(e.agentErrors)),
	}
	var sum float64
	for id, v := range e.agentErrors {
		m.AgentErrors[id] = v
		sum += v
	}
	if len(e.agentErrors) > 0 {
		m.MeanPredictionError = sum / float64(len(e.agentErrors))
	}
	return m
}
