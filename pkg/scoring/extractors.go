package scoring

import (
	"context"
	"math"
	"strings"
	"time"
)

// Input is everything an extractor may look at for one agent.
type Input struct {
	Agent   Agent
	Request Request
	Context *RequestContext
	Profile *UserProfile
	Now     time.Time
	History AgentHistory
}

// AgentHistory summarizes the engine's history for one agent.
type AgentHistory struct {
	// Recent holds up to the last 20 scored records of the agent that have an
	// outcome, newest first.
	Recent []Record

	// RecentShare is the agent's share of the top picks among the last 50
	// rankings.
	RecentShare float64

	// LifetimeUses counts outcomes reported for the agent.
	LifetimeUses int64
}

// Extractor produces the component values of one factor, in the order given
// by Factor.ComponentNames.
type Extractor interface {
	Extract(ctx context.Context, in *Input) ([]float64, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, in *Input) ([]float64, error)

// Extract implements Extractor.
func (f ExtractorFunc) Extract(ctx context.Context, in *Input) ([]float64, error) {
	return f(ctx, in)
}

// DefaultExtractors returns the built-in extractor for every factor.
func DefaultExtractors() [NumFactors]Extractor {
	return [NumFactors]Extractor{
		Performance:  ExtractorFunc(extractPerformance),
		Cost:         ExtractorFunc(extractCost),
		Availability: ExtractorFunc(extractAvailability),
		Quality:      ExtractorFunc(extractQuality),
		Context:      ExtractorFunc(extractContext),
		User:         ExtractorFunc(extractUser),
		Temporal:     ExtractorFunc(extractTemporal),
		Strategic:    ExtractorFunc(extractStrategic),
	}
}

const (
	// slowResponse scores 0 on response time.
	slowResponse = 10 * time.Second

	// fastThroughput (tokens/s) scores 1 on throughput.
	fastThroughput = 100.0

	// expensivePer1K scores 0 on token cost.
	expensivePer1K = 0.1

	// longQueue scores 0 on queue length.
	longQueue = 20

	defaultEstimatedTokens = 1000
)

var computeCost = map[string]float64{
	"low":    0.9,
	"medium": 0.6,
	"high":   0.3,
}

// domainExpertise lists the capabilities that signal expertise in a domain.
var domainExpertise = map[string][]string{
	"code":        {"code", "reasoning", "tools"},
	"analysis":    {"analysis", "reasoning", "math"},
	"creative":    {"creative", "writing"},
	"math":        {"math", "reasoning"},
	"support":     {"chat", "summarization"},
	"translation": {"multilingual", "writing"},
	"vision":      {"vision", "multimodal"},
}

var urgencyByPriority = map[string]float64{
	"critical": 1.0,
	"high":     0.8,
	"normal":   0.5,
	"low":      0.3,
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

func responseScore(d time.Duration) float64 {
	if d <= 0 {
		return 0.5
	}
	return clamp01(1 - float64(d)/float64(slowResponse))
}

func tokenCostScore(a Agent) float64 {
	return clamp01(1 - a.CostPer1KTokens/expensivePer1K)
}

func estimatedCost(a Agent, r Request) float64 {
	tokens := r.EstimatedTokens
	if tokens <= 0 {
		tokens = defaultEstimatedTokens
	}
	return float64(tokens) / 1000 * a.CostPer1KTokens
}

func extractPerformance(_ context.Context, in *Input) ([]float64, error) {
	a := in.Agent
	penalty := 1 - 0.3*clamp01(a.State.Load)

	rt := a.AvgResponseTime
	success := orDefault(a.Reliability, 0.5)
	if n := len(in.History.Recent); n > 0 {
		var total time.Duration
		var ok int
		for _, r := range in.History.Recent {
			total += r.Outcome.ResponseTime
			if r.Outcome.Success {
				ok++
			}
		}
		if total > 0 {
			rt = total / time.Duration(n)
		}
		success = float64(ok) / float64(n)
	}

	throughput := 0.5
	if a.TokensPerSecond > 0 {
		throughput = clamp01(a.TokensPerSecond / fastThroughput)
	}

	return []float64{
		responseScore(rt) * penalty,
		throughput * penalty,
		orDefault(a.Reliability, 0.5),
		success,
	}, nil
}

func extractCost(_ context.Context, in *Input) ([]float64, error) {
	a := in.Agent

	compute, ok := computeCost[a.ModelComplexity]
	if !ok {
		compute = computeCost["medium"]
	}

	// A busy agent costs the rest of the traffic more to use.
	opportunity := 1 - 0.5*clamp01(a.State.Load)

	budget := 0.5
	if in.Request.MaxCost > 0 {
		est := estimatedCost(a, in.Request)
		if est <= in.Request.MaxCost {
			budget = 1 - 0.5*est/in.Request.MaxCost
		} else {
			budget = 0.5 * in.Request.MaxCost / est
		}
	}

	return []float64{tokenCostScore(a), compute, opportunity, budget}, nil
}

func extractAvailability(_ context.Context, in *Input) ([]float64, error) {
	s := in.Agent.State

	var health float64
	switch s.Health {
	case HealthHealthy:
		health = 1
	case HealthDegraded:
		health = 0.5
	case HealthUnhealthy:
		health = 0.1
	default:
		health = 0.7
	}

	capacity := s.FreeCapacity
	if capacity < 0 {
		capacity = 1 - clamp01(s.Load)
	}

	return []float64{
		1 - clamp01(s.Load),
		1 - clamp01(float64(s.QueueLength)/longQueue),
		health,
		capacity,
	}, nil
}

func complexityAlignment(a Agent, rctx *RequestContext) float64 {
	if rctx == nil {
		return 0.5
	}
	level := orDefault(a.CapabilityLevel, 0.5)
	return 1 - math.Abs(level-clamp01(rctx.Complexity.Overall))
}

func extractQuality(_ context.Context, in *Input) ([]float64, error) {
	prior := orDefault(in.Agent.QualityScore, 0.5)
	quality, accuracy, consistency, satisfaction := prior, prior, prior, 0.5

	if n := len(in.History.Recent); n > 0 {
		var q, errSum, sat float64
		for _, r := range in.History.Recent {
			q += r.Outcome.Quality
			errSum += math.Abs(r.Predicted - r.Actual)
			sat += r.Outcome.UserSatisfaction
		}
		quality = q / float64(n)
		accuracy = 1 - errSum/float64(n)
		satisfaction = sat / float64(n)

		var variance float64
		for _, r := range in.History.Recent {
			d := r.Outcome.Quality - quality
			variance += d * d
		}
		consistency = 1 - 2*math.Sqrt(variance/float64(n))
	}

	scale := 0.5 + 0.5*complexityAlignment(in.Agent, in.Context)
	return []float64{
		quality * scale,
		accuracy * scale,
		consistency * scale,
		satisfaction * scale,
	}, nil
}

// capabilityMatch is the fraction of required capabilities the agent has.
func capabilityMatch(a Agent, rctx *RequestContext) float64 {
	if rctx == nil || len(rctx.Capabilities) == 0 {
		return 0.5
	}
	have := make(map[string]bool, len(a.Capabilities))
	for _, c := range a.Capabilities {
		have[strings.ToLower(c)] = true
	}
	var hit int
	for _, c := range rctx.Capabilities {
		if have[strings.ToLower(c)] {
			hit++
		}
	}
	return float64(hit) / float64(len(rctx.Capabilities))
}

func extractContext(_ context.Context, in *Input) ([]float64, error) {
	a := in.Agent
	rctx := in.Context

	expertise, specialization := 0.5, 0.5
	if rctx != nil && rctx.Domain != "" {
		domain := strings.ToLower(rctx.Domain)

		specialized := false
		for _, s := range a.Specializations {
			if strings.ToLower(s) == domain {
				specialized = true
				break
			}
		}
		switch {
		case specialized:
			specialization = 1
		case len(a.Specializations) > 0:
			specialization = 0.3
		}

		if related, ok := domainExpertise[domain]; ok {
			have := make(map[string]bool, len(a.Capabilities))
			for _, c := range a.Capabilities {
				have[strings.ToLower(c)] = true
			}
			var hit int
			for _, c := range related {
				if have[c] {
					hit++
				}
			}
			expertise = 0.4 + 0.5*float64(hit)/float64(len(related))
			if specialized {
				expertise = math.Max(expertise, 0.9)
			}
		}
	}

	return []float64{
		capabilityMatch(a, rctx),
		expertise,
		complexityAlignment(a, rctx),
		specialization,
	}, nil
}

func extractUser(_ context.Context, in *Input) ([]float64, error) {
	p := in.Profile
	if p == nil {
		return neutral(User), nil
	}
	id := in.Agent.ID

	preference := 0.5
	if len(p.PreferredAgents) > 0 {
		preference = 0.4
		for _, pa := range p.PreferredAgents {
			if pa == id {
				preference = 1
				break
			}
		}
	}

	history := 0.5
	var total int
	for _, n := range p.AgentUsage {
		total += n
	}
	if total > 0 {
		history = 0.3 + 0.7*float64(p.AgentUsage[id])/float64(total)
	}

	feedback := 0.5
	if r, ok := p.AgentRatings[id]; ok {
		feedback = r
	}

	loyalty := 0.5
	if !p.MemberSince.IsZero() {
		months := in.Now.Sub(p.MemberSince).Hours() / (24 * 30)
		loyalty = 0.5 + 0.5*clamp01(months/12)
	}

	return []float64{preference, history, feedback, loyalty}, nil
}

func extractTemporal(_ context.Context, in *Input) ([]float64, error) {
	now := in.Now.UTC()

	var timeOfDay float64
	switch h := now.Hour(); {
	case h >= 9 && h < 17:
		timeOfDay = 0.6
	case h < 6:
		timeOfDay = 1
	default:
		timeOfDay = 0.8
	}

	// Urgent requests favor fast agents.
	weight, ok := urgencyByPriority[in.Request.Priority]
	if !ok {
		weight = urgencyByPriority["normal"]
	}
	urgency := 1 - weight*(1-responseScore(in.Agent.AvgResponseTime))

	seasonality := 0.7
	if wd := now.Weekday(); wd == time.Saturday || wd == time.Sunday {
		seasonality = 0.9
	}

	trend := 0.5
	if n := len(in.History.Recent); n >= 4 {
		half := n / 2
		var newer, older float64
		for i, r := range in.History.Recent {
			if i < half {
				newer += r.Actual
			} else {
				older += r.Actual
			}
		}
		trend = 0.5 + (newer/float64(half) - older/float64(n-half))
	}

	return []float64{timeOfDay, urgency, seasonality, trend}, nil
}

func extractStrategic(_ context.Context, in *Input) ([]float64, error) {
	h := in.History

	diversification := 1 - clamp01(h.RecentShare)
	exploration := 1 / (1 + float64(h.LifetimeUses)/10)
	costOptimization := tokenCostScore(in.Agent)

	improvement := orDefault(in.Agent.QualityScore, 0.5)
	if n := len(h.Recent); n > 0 {
		var q float64
		for _, r := range h.Recent {
			q += r.Outcome.Quality
		}
		// Headroom between the agent's prior and what it has delivered.
		improvement = 0.5 + 0.5*(orDefault(in.Agent.QualityScore, 0.5)-q/float64(n))
	}

	return []float64{diversification, exploration, costOptimization, improvement}, nil
}
