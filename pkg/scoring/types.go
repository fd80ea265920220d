package scoring

import (
	"time"

	"mercator-hq/relay/pkg/config"
)

// HealthStatus is an agent's upstream health as seen by the caller.
type HealthStatus string

const (
	HealthUnknown   HealthStatus = ""
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// Agent is a selectable model on a provider.
type Agent struct {
	ID       string
	Provider string
	Model    string

	Capabilities    []string
	Specializations []string

	CostPer1KTokens float64

	// ModelComplexity is "low", "medium" or "high" and drives compute cost.
	ModelComplexity string

	// CapabilityLevel (0-1) is compared with request complexity.
	CapabilityLevel float64

	AvgResponseTime time.Duration
	TokensPerSecond float64

	// Reliability and QualityScore (0-1) are priors used until history
	// exists. Zero means unknown.
	Reliability  float64
	QualityScore float64

	// State is live telemetry filled in by the caller.
	State AgentState
}

// AgentState is the live load picture of an agent.
type AgentState struct {
	// Load is the fraction of the agent's capacity in use (0-1).
	Load float64

	// QueueLength is the number of requests waiting for the agent.
	QueueLength int

	Health HealthStatus

	// FreeCapacity is the fraction of connection capacity still available
	// (0-1). Negative means unknown.
	FreeCapacity float64
}

// AgentFromConfig converts a configured agent.
func AgentFromConfig(c config.AgentConfig) Agent {
	return Agent{
		ID:              c.ID,
		Provider:        c.Provider,
		Model:           c.Model,
		Capabilities:    append([]string(nil), c.Capabilities...),
		Specializations: append([]string(nil), c.Specializations...),
		CostPer1KTokens: c.CostPer1KTokens,
		ModelComplexity: c.ModelComplexity,
		CapabilityLevel: c.CapabilityLevel,
		AvgResponseTime: c.AvgResponseTime,
		TokensPerSecond: c.TokensPerSecond,
		Reliability:     c.Reliability,
		QualityScore:    c.QualityScore,
		State:           AgentState{FreeCapacity: -1},
	}
}

// Request describes what is being routed.
type Request struct {
	ID     string
	UserID string

	// Priority is "critical", "high", "normal" or "low".
	Priority string

	// MaxCost is the most the caller is willing to spend; zero means no cap.
	MaxCost float64

	EstimatedTokens int64
}

// RequestContext carries what is known about the request content. A nil
// context scores as neutral.
type RequestContext struct {
	Capabilities []string
	Complexity   Complexity
	Domain       string
}

// Complexity describes how demanding the request is.
type Complexity struct {
	// Overall is 0 (trivial) to 1 (hardest).
	Overall float64
}

// UserProfile is the requesting user's history with agents. A nil profile
// scores as neutral.
type UserProfile struct {
	UserID          string
	PreferredAgents []string

	// AgentUsage counts past requests per agent.
	AgentUsage map[string]int

	// AgentRatings holds the user's 0-1 rating per agent.
	AgentRatings map[string]float64

	MemberSince time.Time
}

// DynamicScore is one agent's ranking result.
type DynamicScore struct {
	AgentID  string `json:"agent_id"`
	Provider string `json:"provider"`

	// RawScore is the weighted factor sum (0-1).
	RawScore float64 `json:"raw_score"`

	// NormalizedScore is RawScore on 0-100 after strategic adjustment.
	NormalizedScore float64 `json:"normalized_score"`

	Confidence   float64       `json:"confidence"`
	Factors      Factors       `json:"factors"`
	Reasoning    Reasoning     `json:"reasoning"`
	Alternatives []Alternative `json:"alternatives,omitempty"`

	// Explored is set when the exploration bonus was applied.
	Explored bool `json:"explored,omitempty"`

	// RecordID links the score to its history entry.
	RecordID  string    `json:"record_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Reasoning explains a score.
type Reasoning struct {
	PrimaryFactors []FactorContribution `json:"primary_factors"`
	Strengths      []string             `json:"strengths,omitempty"`
	Weaknesses     []string             `json:"weaknesses,omitempty"`
	Risks          []string             `json:"risks,omitempty"`
	Recommendation string               `json:"recommendation"`
}

// FactorContribution is a factor's share of the total score.
type FactorContribution struct {
	Factor       string  `json:"factor"`
	Score        float64 `json:"score"`
	Weight       float64 `json:"weight"`
	Contribution float64 `json:"contribution"`
}

// Alternative is a lower-ranked agent compared with the one it is listed
// under.
type Alternative struct {
	AgentID         string   `json:"agent_id"`
	NormalizedScore float64  `json:"normalized_score"`
	ScoreGap        float64  `json:"score_gap"`
	GapLabel        string   `json:"gap_label"`
	Tradeoffs       []string `json:"tradeoffs,omitempty"`
}

// Outcome is what happened when a scored agent served a request.
type Outcome struct {
	Success          bool
	ResponseTime     time.Duration
	Quality          float64
	UserSatisfaction float64
	UserID           string
}

// actual maps an outcome onto the 0-1 scale predictions are made on.
func (o Outcome) actual() float64 {
	if !o.Success {
		return 0
	}
	return clamp01(o.Quality)
}

// Record is a scoring history entry.
type Record struct {
	ID        string
	AgentID   string
	UserID    string
	Timestamp time.Time

	// Predicted is NormalizedScore / 100.
	Predicted    float64
	FactorScores [NumFactors]float64

	// Selected marks the top-ranked agent of its call.
	Selected bool

	Outcome *Outcome
	Actual  float64
}

// Metrics is a snapshot of engine state.
type Metrics struct {
	TotalScored   int64 `json:"total_scored"`
	TotalRankings int64 `json:"total_rankings"`
	TotalOutcomes int64 `json:"total_outcomes"`
	Unmatched     int64 `json:"unmatched_outcomes"`
	Adaptations   int64 `json:"adaptations"`
	Extraction    int64 `json:"extraction_failures"`
	HistorySize   int   `json:"history_size"`

	Weights map[string]float64 `json:"weights"`

	// AgentErrors is the smoothed prediction error per agent.
	AgentErrors map[string]float64 `json:"agent_errors"`

	// MeanPredictionError averages AgentErrors.
	MeanPredictionError float64 `json:"mean_prediction_error"`
}

// Config tunes the engine.
type Config struct {
	Weights         Weights
	AdaptationRate  float64
	ExplorationRate float64

	MinConfidence   float64
	ExcellentScore  float64
	AcceptableScore float64
	MinScore        float64

	HistorySize int
	AdaptEvery  int
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		AdaptationRate:  config.DefaultAdaptationRate,
		ExplorationRate: config.DefaultExplorationRate,
		MinConfidence:   config.DefaultMinConfidence,
		ExcellentScore:  config.DefaultExcellentScore,
		AcceptableScore: config.DefaultAcceptableScore,
		MinScore:        config.DefaultMinScore,
		HistorySize:     config.DefaultHistorySize,
		AdaptEvery:      config.DefaultAdaptEvery,
	}
}

// ConfigFromConfig builds an engine Config from the scoring section.
func ConfigFromConfig(c config.ScoringConfig) (Config, error) {
	w, err := WeightsFromMap(c.Weights)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Weights:         w,
		AdaptationRate:  c.AdaptationRate,
		ExplorationRate: c.ExplorationRate,
		MinConfidence:   c.MinConfidence,
		ExcellentScore:  c.ExcellentScore,
		AcceptableScore: c.AcceptableScore,
		MinScore:        c.MinScore,
		HistorySize:     c.HistorySize,
		AdaptEvery:      c.AdaptEvery,
	}, nil
}

// WeightsAdaptedEvent is published on events.TopicWeightsAdapted.
type WeightsAdaptedEvent struct {
	Before   Weights
	After    Weights
	Outcomes int64
	Samples  int
}
