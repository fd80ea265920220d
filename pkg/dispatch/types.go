package dispatch

import (
	"context"
	"time"

	"mercator-hq/relay/pkg/limits"
	"mercator-hq/relay/pkg/pool"
	"mercator-hq/relay/pkg/scoring"
)

// Outcome labels for a dispatch.
const (
	OutcomeSuccess     = "success"
	OutcomeError       = "error"
	OutcomeRejected    = "rejected"
	OutcomeUnavailable = "unavailable"
	OutcomeFailed      = "failed"
)

// Request is one unit of work to route.
type Request struct {
	// ID is generated when empty.
	ID       string
	UserID   string
	Endpoint string

	// EstimatedTokens is estimated from Prompt when zero.
	EstimatedTokens int64
	Priority        pool.Priority

	// Prompt and MaxCompletionTokens size requests that do not set
	// EstimatedTokens.
	Prompt              string
	MaxCompletionTokens int64

	// MaxCost caps the estimated cost an agent may charge; zero means no cap.
	MaxCost float64

	// Context and Profile feed the scoring engine; nil scores neutral.
	Context *scoring.RequestContext
	Profile *scoring.UserProfile

	// AcquireTimeout bounds the wait for a connection. Zero uses the pool
	// default.
	AcquireTimeout time.Duration
}

// Response is what an Executor reports about the upstream call.
type Response struct {
	// Quality and UserSatisfaction are 0-1 assessments of the answer.
	Quality          float64
	UserSatisfaction float64

	// Tokens actually consumed.
	Tokens int64
}

// Executor performs the upstream call over a leased connection.
type Executor interface {
	Execute(ctx context.Context, conn *pool.Connection, agent scoring.Agent) (Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, conn *pool.Connection, agent scoring.Agent) (Response, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, conn *pool.Connection, agent scoring.Agent) (Response, error) {
	return f(ctx, conn, agent)
}

// Result describes a dispatch. It is returned alongside most errors so
// callers can inspect how far the request got.
type Result struct {
	RequestID       string `json:"request_id"`
	Outcome         string `json:"outcome"`
	EstimatedTokens int64  `json:"estimated_tokens"`

	// Decision is the admission result.
	Decision *limits.Result `json:"decision,omitempty"`

	// Ranking is every scored agent, best first.
	Ranking []scoring.DynamicScore `json:"ranking,omitempty"`

	// Agent and Provider are set once a connection was leased.
	Agent        string `json:"agent,omitempty"`
	Provider     string `json:"provider,omitempty"`
	ConnectionID string `json:"connection_id,omitempty"`

	// Skipped lists ranked agents passed over for an unavailable provider.
	Skipped []string `json:"skipped,omitempty"`

	Response    Response      `json:"response"`
	AcquireWait time.Duration `json:"acquire_wait"`
	Latency     time.Duration `json:"latency"`
}

// Selected returns the score of the agent that served the request.
func (r *Result) Selected() *scoring.DynamicScore {
	for i := range r.Ranking {
		if r.Ranking[i].AgentID == r.Agent {
			return &r.Ranking[i]
		}
	}
	return nil
}

// CompletedEvent is published on events.TopicDispatchCompleted.
type CompletedEvent struct {
	RequestID string        `json:"request_id"`
	UserID    string        `json:"user_id"`
	Agent     string        `json:"agent,omitempty"`
	Provider  string        `json:"provider,omitempty"`
	Outcome   string        `json:"outcome"`
	Skipped   int           `json:"skipped"`
	Latency   time.Duration `json:"latency"`
}
