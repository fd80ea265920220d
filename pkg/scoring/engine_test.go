package scoring

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/relay/pkg/clock"
	"mercator-hq/relay/pkg/events"
)

var engineNow = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

// perAgent returns an extractor that reports the same value for every
// component, chosen by agent id.
func perAgent(values map[string]float64) Extractor {
	return ExtractorFunc(func(_ context.Context, in *Input) ([]float64, error) {
		v := values[in.Agent.ID]
		return []float64{v, v, v, v}, nil
	})
}

func uniformExtractors(values map[string]float64) map[Factor]Extractor {
	m := make(map[Factor]Extractor, NumFactors)
	for _, f := range AllFactors() {
		m[f] = perAgent(values)
	}
	return m
}

type recordingBus struct {
	mu     sync.Mutex
	topics []string
}

func (b *recordingBus) Publish(topic string, _ any) {
	b.mu.Lock()
	b.topics = append(b.topics, topic)
	b.mu.Unlock()
}

func (b *recordingBus) count(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int
	for _, tp := range b.topics {
		if tp == topic {
			n++
		}
	}
	return n
}

func newTestEngine(t *testing.T, mutate func(*Options)) (*Engine, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(engineNow)
	opts := Options{
		Config: Config{ExplorationRate: 0},
		Clock:  clk,
		Source: rand.NewSource(1),
	}
	if mutate != nil {
		mutate(&opts)
	}
	e, err := NewEngine(opts)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return e, clk
}

func TestCalculateDynamicScores_StrongAgentRanksFirst(t *testing.T) {
	strong := map[string]float64{"a": 0.7, "b": 0.3}
	e, _ := newTestEngine(t, func(o *Options) {
		o.Extractors = uniformExtractors(strong)
		o.Extractors[Performance] = perAgent(map[string]float64{"a": 0.9, "b": 0.3})
		o.Extractors[Cost] = perAgent(map[string]float64{"a": 0.9, "b": 0.3})
	})

	agents := []Agent{{ID: "b", Provider: "p2"}, {ID: "a", Provider: "p1"}}
	scores, err := e.CalculateDynamicScores(context.Background(), agents, Request{ID: "r1"}, nil, nil)
	if err != nil {
		t.Fatalf("CalculateDynamicScores: %v", err)
	}
	if len(scores) != 2 {
		t.Fatalf("got %d scores, want 2", len(scores))
	}

	a, b := scores[0], scores[1]
	if a.AgentID != "a" {
		t.Fatalf("top agent = %s, want a", a.AgentID)
	}
	if a.NormalizedScore <= b.NormalizedScore {
		t.Errorf("score(a)=%v <= score(b)=%v", a.NormalizedScore, b.NormalizedScore)
	}
	if a.Provider != "p1" {
		t.Errorf("provider = %q, want p1", a.Provider)
	}

	if len(a.Alternatives) != 1 || a.Alternatives[0].AgentID != "b" {
		t.Fatalf("alternatives of a = %+v, want [b]", a.Alternatives)
	}
	alt := a.Alternatives[0]
	if len(alt.Tradeoffs) == 0 {
		t.Error("alternative b has no named tradeoffs")
	}
	if alt.GapLabel != "significant" {
		t.Errorf("gap label = %q, want significant for a %.1f point gap", alt.GapLabel, alt.ScoreGap)
	}
	if len(b.Alternatives) != 0 {
		t.Errorf("last-ranked agent has alternatives: %+v", b.Alternatives)
	}

	if len(a.Reasoning.PrimaryFactors) != 3 {
		t.Errorf("primary factors = %d, want 3", len(a.Reasoning.PrimaryFactors))
	}
	if a.Reasoning.PrimaryFactors[0].Factor != "performance" {
		t.Errorf("top factor = %s, want performance", a.Reasoning.PrimaryFactors[0].Factor)
	}
	if len(b.Reasoning.Weaknesses) == 0 {
		t.Error("weak agent has no weaknesses listed")
	}
	if !strings.Contains(b.Reasoning.Recommendation, "alternatives") {
		t.Errorf("recommendation for b = %q", b.Reasoning.Recommendation)
	}
	if a.RecordID == "" {
		t.Error("score has no record id")
	}
}

func TestCalculateDynamicScores_ScoreArithmetic(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) {
		o.Extractors = uniformExtractors(map[string]float64{"x": 0.5})
	})

	scores, err := e.CalculateDynamicScores(context.Background(), []Agent{{ID: "x"}}, Request{}, nil, nil)
	if err != nil {
		t.Fatalf("CalculateDynamicScores: %v", err)
	}
	s := scores[0]
	if !approx(s.RawScore, 0.5) {
		t.Errorf("RawScore = %v, want 0.5", s.RawScore)
	}
	// 50 plus diversification and cost-optimization bonuses of 0.5 × 2 each.
	if !approx(s.NormalizedScore, 52) {
		t.Errorf("NormalizedScore = %v, want 52", s.NormalizedScore)
	}
	if s.Explored {
		t.Error("exploration applied with a zero exploration rate")
	}
}

func TestCalculateDynamicScores_ExplorationBonus(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) {
		o.Config.ExplorationRate = 1
		o.Extractors = uniformExtractors(map[string]float64{"x": 0.5})
	})

	scores, err := e.CalculateDynamicScores(context.Background(), []Agent{{ID: "x"}}, Request{}, nil, nil)
	if err != nil {
		t.Fatalf("CalculateDynamicScores: %v", err)
	}
	if !scores[0].Explored || !approx(scores[0].NormalizedScore, 57) {
		t.Errorf("explored=%v score=%v, want true and 57", scores[0].Explored, scores[0].NormalizedScore)
	}
}

func TestCalculateDynamicScores_ExtractorFailures(t *testing.T) {
	tests := []struct {
		name      string
		extractor Extractor
	}{
		{
			name: "error",
			extractor: ExtractorFunc(func(context.Context, *Input) ([]float64, error) {
				return nil, errors.New("pricing feed down")
			}),
		},
		{
			name: "panic",
			extractor: ExtractorFunc(func(context.Context, *Input) ([]float64, error) {
				panic("nil map")
			}),
		},
		{
			name: "wrong component count",
			extractor: ExtractorFunc(func(context.Context, *Input) ([]float64, error) {
				return []float64{1}, nil
			}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, _ := newTestEngine(t, func(o *Options) {
				o.Extractors = map[Factor]Extractor{Cost: tt.extractor}
			})

			agents := []Agent{{ID: "a", Reliability: 0.9}, {ID: "b", Reliability: 0.9}}
			scores, err := e.CalculateDynamicScores(context.Background(), agents, Request{}, nil, nil)
			if err != nil {
				t.Fatalf("CalculateDynamicScores: %v", err)
			}
			for _, s := range scores {
				cost := s.Factors[Cost]
				if !cost.Defaulted || cost.Score != 0.5 {
					t.Errorf("%s cost factor defaulted=%v score=%v, want neutral defaults", s.AgentID, cost.Defaulted, cost.Score)
				}
				found := false
				for _, r := range s.Reasoning.Risks {
					if strings.Contains(r, "cost factor unavailable") {
						found = true
					}
				}
				if !found {
					t.Errorf("%s risks = %v, want a note about the cost factor", s.AgentID, s.Reasoning.Risks)
				}
			}
			if got := e.GetScoringMetrics().Extraction; got != 2 {
				t.Errorf("extraction failures = %d, want 2", got)
			}
		})
	}
}

func TestCalculateDynamicScores_CallFailures(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	_, err := e.CalculateDynamicScores(context.Background(), nil, Request{}, nil, nil)
	if !errors.Is(err, ErrScoringFailed) || !errors.Is(err, ErrNoAgents) {
		t.Errorf("empty agents error = %v, want ErrScoringFailed wrapping ErrNoAgents", err)
	}
	var calcErr *CalculationError
	if !errors.As(err, &calcErr) {
		t.Errorf("error %T is not *CalculationError", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.CalculateDynamicScores(ctx, []Agent{{ID: "a"}}, Request{}, nil, nil)
	if !errors.Is(err, ErrScoringFailed) || !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled error = %v, want ErrScoringFailed wrapping context.Canceled", err)
	}
}

func TestCalculateDynamicScores_DefaultExtractors(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	fast := Agent{
		ID:              "fast",
		Provider:        "openai",
		Capabilities:    []string{"code", "reasoning"},
		Specializations: []string{"code"},
		CostPer1KTokens: 0.002,
		ModelComplexity: "medium",
		CapabilityLevel: 0.7,
		AvgResponseTime: 800 * time.Millisecond,
		TokensPerSecond: 90,
		Reliability:     0.98,
		QualityScore:    0.85,
		State:           AgentState{Load: 0.1, Health: HealthHealthy, FreeCapacity: 0.9},
	}
	slow := Agent{
		ID:              "slow",
		Provider:        "local",
		Capabilities:    []string{"chat"},
		CostPer1KTokens: 0.08,
		ModelComplexity: "high",
		CapabilityLevel: 0.2,
		AvgResponseTime: 9 * time.Second,
		TokensPerSecond: 5,
		Reliability:     0.4,
		QualityScore:    0.3,
		State:           AgentState{Load: 0.9, QueueLength: 15, Health: HealthDegraded, FreeCapacity: 0.1},
	}

	rctx := &RequestContext{Capabilities: []string{"code"}, Complexity: Complexity{Overall: 0.7}, Domain: "code"}
	scores, err := e.CalculateDynamicScores(context.Background(), []Agent{slow, fast}, Request{Priority: "high"}, rctx, nil)
	if err != nil {
		t.Fatalf("CalculateDynamicScores: %v", err)
	}
	if scores[0].AgentID != "fast" {
		t.Errorf("top agent = %s, want fast", scores[0].AgentID)
	}
	for _, s := range scores {
		if s.NormalizedScore < 0 || s.NormalizedScore > 100 {
			t.Errorf("%s score %v outside [0, 100]", s.AgentID, s.NormalizedScore)
		}
		if s.Confidence < 0.3 || s.Confidence > 1 {
			t.Errorf("%s confidence %v outside [0.3, 1]", s.AgentID, s.Confidence)
		}
	}
	var lowReliability bool
	for _, r := range scores[1].Reasoning.Risks {
		if r == "low reliability" {
			lowReliability = true
		}
	}
	if !lowReliability {
		t.Errorf("risks for slow = %v, want low reliability", scores[1].Reasoning.Risks)
	}
}

func TestEngine_DiversificationTracksPicks(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) {
		o.Extractors = uniformExtractors(map[string]float64{"a": 0.9, "b": 0.2})
	})
	agents := []Agent{{ID: "a"}, {ID: "b"}}

	for i := 0; i < 4; i++ {
		if _, err := e.CalculateDynamicScores(context.Background(), agents, Request{}, nil, nil); err != nil {
			t.Fatalf("CalculateDynamicScores: %v", err)
		}
	}

	_, hist := e.snapshot(agents)
	if hist["a"].RecentShare != 1 || hist["b"].RecentShare != 0 {
		t.Errorf("shares a=%v b=%v, want 1 and 0", hist["a"].RecentShare, hist["b"].RecentShare)
	}

	m := e.GetScoringMetrics()
	if m.TotalRankings != 4 || m.TotalScored != 8 {
		t.Errorf("rankings=%d scored=%d, want 4 and 8", m.TotalRankings, m.TotalScored)
	}
}

func TestEngine_HistoryIsBounded(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) {
		o.Config.HistorySize = 10
	})
	for i := 0; i < 25; i++ {
		if _, err := e.CalculateDynamicScores(context.Background(), []Agent{{ID: "a"}}, Request{}, nil, nil); err != nil {
			t.Fatalf("CalculateDynamicScores: %v", err)
		}
	}
	if got := e.GetScoringMetrics().HistorySize; got != 10 {
		t.Errorf("history size = %d, want 10", got)
	}
}

func TestCalculateDynamicScores_Concurrent(t *testing.T) {
	e, _ := newTestEngine(t, func(o *Options) {
		o.Config.ExplorationRate = 0.5
	})
	agents := []Agent{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scores, err := e.CalculateDynamicScores(context.Background(), agents, Request{}, nil, nil)
			if err != nil {
				t.Errorf("CalculateDynamicScores: %v", err)
				return
			}
			_ = e.LearnFromOutcome(scores[0].AgentID, Outcome{Success: true, Quality: 0.7})
		}()
	}
	wg.Wait()

	if got := e.GetScoringMetrics().TotalRankings; got != 20 {
		t.Errorf("rankings = %d, want 20", got)
	}
}

func TestNewEngine_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "negative weight", cfg: Config{Weights: Weights{-1, 1, 1, 1, 1, 1, 1, 1}}},
		{name: "exploration above one", cfg: Config{ExplorationRate: 1.5}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewEngine(Options{Config: tt.cfg}); err == nil {
				t.Error("NewEngine() error = nil, want error")
			}
		})
	}
}

var _ events.Bus = (*recordingBus)(nil)
