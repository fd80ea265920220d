package limits

import (
	"context"
	"fmt"
	"time"
)

// FailurePolicy decides how a check behaves when the usage store fails.
type FailurePolicy string

const (
	// FailOpen admits the request with a conservative snapshot.
	FailOpen FailurePolicy = "fail_open"

	// FailClosed returns an error wrapping ErrStorageUnavailable.
	FailClosed FailurePolicy = "fail_closed"
)

// LoadInput is what a LoadAdjuster sees for one request.
type LoadInput struct {
	UserID        string
	Tier          string
	RequestTokens int64
	Endpoint      string
}

// LoadDecision is a LoadAdjuster verdict.
type LoadDecision struct {
	Allowed  bool
	WaitTime time.Duration
	Message  string
}

// LoadAdjuster is the last admission step, consulted after every quota check
// has passed.
type LoadAdjuster interface {
	Name() string
	Evaluate(ctx context.Context, in LoadInput) LoadDecision
}

// NoopLoadAdjuster admits everything.
type NoopLoadAdjuster struct{}

// Name implements LoadAdjuster.
func (NoopLoadAdjuster) Name() string { return "noop" }

// Evaluate implements LoadAdjuster.
func (NoopLoadAdjuster) Evaluate(context.Context, LoadInput) LoadDecision {
	return LoadDecision{Allowed: true}
}

// UtilizationSource reports a load signal between 0 and 1. The connection
// pool satisfies it.
type UtilizationSource interface {
	Utilization() float64
}

// ThresholdLoadAdjuster sheds the configured tiers while utilization is at or
// above Threshold.
type ThresholdLoadAdjuster struct {
	Source    UtilizationSource
	Threshold float64
	Tiers     map[string]bool
	Backoff   time.Duration
}

// NewThresholdLoadAdjuster creates an adjuster that sheds tiers when source
// reaches threshold.
func NewThresholdLoadAdjuster(source UtilizationSource, threshold float64, tiers []string) *ThresholdLoadAdjuster {
	set := make(map[string]bool, len(tiers))
	for _, t := range tiers {
		set[t] = true
	}
	return &ThresholdLoadAdjuster{
		Source:    source,
		Threshold: threshold,
		Tiers:     set,
		Backoff:   5 * time.Second,
	}
}

// Name implements LoadAdjuster.
func (a *ThresholdLoadAdjuster) Name() string { return "threshold" }

// Evaluate implements LoadAdjuster.
func (a *ThresholdLoadAdjuster) Evaluate(_ context.Context, in LoadInput) LoadDecision {
	if a.Source == nil || !a.Tiers[in.Tier] {
		return LoadDecision{Allowed: true}
	}

	u := a.Source.Utilization()
	if u < a.Threshold {
		return LoadDecision{Allowed: true}
	}
	return LoadDecision{
		Allowed:  false,
		WaitTime: a.Backoff,
		Message:  fmt.Sprintf("system utilization %.0f%% exceeds %.0f%% for tier %s", u*100, a.Threshold*100, in.Tier),
	}
}

// Recorder receives one observation per check. metrics.Collector implements
// it.
type Recorder interface {
	RecordLimitDecision(tier string, reason string, allowed bool, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordLimitDecision(string, string, bool, time.Duration) {}
