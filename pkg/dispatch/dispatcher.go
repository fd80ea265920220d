package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/relay/pkg/clock"
	"mercator-hq/relay/pkg/events"
	"mercator-hq/relay/pkg/limits"
	"mercator-hq/relay/pkg/pool"
	"mercator-hq/relay/pkg/scoring"
	"mercator-hq/relay/pkg/telemetry/logging"
	"mercator-hq/relay/pkg/telemetry/tracing"
	"mercator-hq/relay/pkg/tokens"
)

// Limiter is the admission gate.
type Limiter interface {
	CheckUserLimits(ctx context.Context, userID string, requestTokens int64, endpoint string) (*limits.Result, error)
	ReleaseConcurrent(ctx context.Context, userID string) error
}

// Ranker scores agents and learns from outcomes.
type Ranker interface {
	CalculateDynamicScores(ctx context.Context, agents []scoring.Agent, req scoring.Request, rctx *scoring.RequestContext, profile *scoring.UserProfile) ([]scoring.DynamicScore, error)
	LearnFromOutcome(agentID string, o scoring.Outcome) error
}

// ConnectionPool leases upstream connections.
type ConnectionPool interface {
	Acquire(ctx context.Context, opts pool.AcquireOptions) (*pool.Connection, error)
	Release(c *pool.Connection, err error)
	Stats() pool.Stats
}

// TokenEstimator sizes requests from their prompt.
type TokenEstimator interface {
	EstimateRequest(prompt, model string, maxCompletionTokens int64) tokens.Estimate
}

// Recorder receives one observation per dispatch. metrics.Collector
// implements it.
type Recorder interface {
	RecordDispatch(agent, outcome string, duration time.Duration, tokens int64)
	RecordFallback(agent string)
}

type nopRecorder struct{}

func (nopRecorder) RecordDispatch(string, string, time.Duration, int64) {}

func (nopRecorder) RecordFallback(string) {}

// Options configures a Dispatcher. Limits, Scoring and Pool are required.
type Options struct {
	Limits  Limiter
	Scoring Ranker
	Pool    ConnectionPool

	// Agents is the candidate catalog offered to the scoring engine.
	Agents []scoring.Agent

	// Tokens defaults to a character-based estimator with no model ratios.
	Tokens TokenEstimator

	Clock    clock.Clock
	Bus      events.Bus
	Recorder Recorder
	Tracer   *tracing.Tracer
	Logger   *slog.Logger
}

// Dispatcher routes requests through admission, ranking and the pool. It is
// safe for concurrent use.
type Dispatcher struct {
	limits  Limiter
	scoring Ranker
	pool    ConnectionPool

	agentsMu sync.RWMutex
	agents   []scoring.Agent

	tokens   TokenEstimator
	clock    clock.Clock
	bus      events.Bus
	recorder Recorder
	tracer   *tracing.Tracer
	logger   *slog.Logger
	stats    *atomicStats
}

// New creates a dispatcher.
func New(opts Options) (*Dispatcher, error) {
	if opts.Limits == nil {
		return nil, errors.New("dispatch: limits service is required")
	}
	if opts.Scoring == nil {
		return nil, errors.New("dispatch: scoring engine is required")
	}
	if opts.Pool == nil {
		return nil, errors.New("dispatch: connection pool is required")
	}
	if opts.Tokens == nil {
		opts.Tokens = tokens.New(nil)
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real{}
	}
	if opts.Bus == nil {
		opts.Bus = events.Nop{}
	}
	if opts.Recorder == nil {
		opts.Recorder = nopRecorder{}
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	d := &Dispatcher{
		limits:   opts.Limits,
		scoring:  opts.Scoring,
		pool:     opts.Pool,
		tokens:   opts.Tokens,
		clock:    opts.Clock,
		bus:      opts.Bus,
		recorder: opts.Recorder,
		tracer:   opts.Tracer,
		logger:   opts.Logger.With("component", "dispatch"),
		stats:    newAtomicStats(opts.Clock.Now()),
	}
	d.SetAgents(opts.Agents)
	return d, nil
}

// SetAgents replaces the candidate catalog.
func (d *Dispatcher) SetAgents(agents []scoring.Agent) {
	cp := append([]scoring.Agent(nil), agents...)
	d.agentsMu.Lock()
	d.agents = cp
	d.agentsMu.Unlock()
}

// Agents returns the candidate catalog with live state from the pool.
func (d *Dispatcher) Agents() []scoring.Agent {
	d.agentsMu.RLock()
	agents := append([]scoring.Agent(nil), d.agents...)
	d.agentsMu.RUnlock()

	applyPoolState(agents, d.pool.Stats())
	return agents
}

// Stats returns a snapshot of dispatch counters.
func (d *Dispatcher) Stats() Stats {
	return d.stats.snapshot()
}

// Dispatch admits, ranks and executes req. The returned Result is non-nil
// whenever req got past argument validation; a denial returns it together
// with a *limits.LimitExceededError.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, exec Executor) (*Result, error) {
	if exec == nil {
		return nil, errors.New("dispatch: executor is required")
	}
	start := d.clock.Now()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.EstimatedTokens == 0 && req.Prompt != "" {
		req.EstimatedTokens = d.tokens.EstimateRequest(req.Prompt, "", req.MaxCompletionTokens).Total
	}
	d.stats.total.Add(1)

	ctx = logging.WithRequestID(ctx, req.ID)
	ctx = logging.WithUser(ctx, req.UserID)
	ctx, span := d.tracer.Start(ctx, "relay.dispatch")
	tracing.SetRequestAttributes(span, req.ID, req.UserID, req.EstimatedTokens)

	res := &Result{RequestID: req.ID, EstimatedTokens: req.EstimatedTokens}
	err := d.run(ctx, req, exec, res)
	res.Latency = d.clock.Now().Sub(start)

	d.finish(ctx, req, res, err)
	tracing.End(span, err)
	return res, err
}

func (d *Dispatcher) run(ctx context.Context, req Request, exec Executor, res *Result) error {
	decision, err := d.admit(ctx, req)
	res.Decision = decision
	if err != nil {
		res.Outcome = OutcomeFailed
		return fmt.Errorf("checking limits: %w", err)
	}
	if !decision.Allowed {
		res.Outcome = OutcomeRejected
		return decision.Err()
	}
	defer d.releaseSlot(ctx, req.UserID)

	agents := d.Agents()
	ranking, err := d.rank(ctx, req, agents)
	if err != nil {
		res.Outcome = OutcomeFailed
		return fmt.Errorf("ranking agents: %w", err)
	}
	res.Ranking = ranking

	byID := make(map[string]scoring.Agent, len(agents))
	for _, a := range agents {
		byID[a.ID] = a
	}

	var lastErr error
	for _, score := range ranking {
		agent := byID[score.AgentID]
		conn, wait, err := d.acquire(ctx, req, agent)
		if err != nil {
			if !fallbackable(err) {
				res.Outcome = OutcomeFailed
				return fmt.Errorf("acquiring connection for agent %s: %w", agent.ID, err)
			}
			res.Skipped = append(res.Skipped, agent.ID)
			d.stats.fallbacks.Add(1)
			d.recorder.RecordFallback(agent.ID)
			tracing.AddFallbackEvent(ctx, agent.ID, agent.Provider, len(res.Skipped))
			d.logger.WarnContext(ctx, "agent skipped",
				"skipped_agent", agent.ID,
				"skipped_provider", agent.Provider,
				"error", err,
			)
			lastErr = err
			continue
		}

		res.Agent = agent.ID
		res.Provider = agent.Provider
		res.ConnectionID = conn.ID
		res.AcquireWait = wait
		return d.execute(ctx, req, exec, agent, conn, res)
	}

	res.Outcome = OutcomeUnavailable
	return &NoAvailableAgentError{Tried: res.Skipped, LastErr: lastErr}
}

// fallbackable reports whether a pool error is specific to the provider, so
// the next ranked agent may still be served.
func fallbackable(err error) bool {
	return errors.Is(err, pool.ErrProviderUnavailable) || errors.Is(err, pool.ErrConnectionEstablishment)
}

func (d *Dispatcher) admit(ctx context.Context, req Request) (*limits.Result, error) {
	ctx, span := d.tracer.Start(ctx, "relay.limits.check")
	decision, err := d.limits.CheckUserLimits(ctx, req.UserID, req.EstimatedTokens, req.Endpoint)
	if err == nil {
		tracing.SetDecisionAttributes(span, decision.Allowed, string(decision.Reason), decision.Tier, decision.WaitTime, decision.Degraded)
	}
	tracing.End(span, err)
	return decision, err
}

// releaseSlot returns the concurrent slot even when ctx was cancelled.
func (d *Dispatcher) releaseSlot(ctx context.Context, userID string) {
	if err := d.limits.ReleaseConcurrent(context.WithoutCancel(ctx), userID); err != nil {
		d.logger.ErrorContext(ctx, "releasing concurrent slot failed", "error", err)
	}
}

func (d *Dispatcher) rank(ctx context.Context, req Request, agents []scoring.Agent) ([]scoring.DynamicScore, error) {
	ctx, span := d.tracer.Start(ctx, "relay.scoring.rank")
	ranking, err := d.scoring.CalculateDynamicScores(ctx, agents, scoring.Request{
		ID:              req.ID,
		UserID:          req.UserID,
		Priority:        req.Priority.String(),
		MaxCost:         req.MaxCost,
		EstimatedTokens: req.EstimatedTokens,
	}, req.Context, req.Profile)
	if err == nil {
		top := ranking[0]
		tracing.SetScoreAttributes(span, top.AgentID, top.NormalizedScore, top.Confidence, top.Explored)
	}
	tracing.End(span, err)
	return ranking, err
}

func (d *Dispatcher) acquire(ctx context.Context, req Request, agent scoring.Agent) (*pool.Connection, time.Duration, error) {
	ctx, span := d.tracer.Start(ctx, "relay.pool.acquire")
	start := time.Now()
	conn, err := d.pool.Acquire(ctx, pool.AcquireOptions{
		Provider: agent.Provider,
		Priority: req.Priority,
		Timeout:  req.AcquireTimeout,
		Metadata: map[string]string{
			"request_id": req.ID,
			"user":       req.UserID,
			"agent":      agent.ID,
		},
	})
	wait := time.Since(start)
	if err == nil {
		tracing.SetConnectionAttributes(span, agent.Provider, conn.ID, wait)
	}
	tracing.End(span, err)
	return conn, wait, err
}

// execute runs the executor and settles the lease and the outcome whatever
// the executor does, panics included.
func (d *Dispatcher) execute(ctx context.Context, req Request, exec Executor, agent scoring.Agent, conn *pool.Connection, res *Result) error {
	ctx = logging.WithAgent(ctx, agent.ID)
	ctx = logging.WithProvider(ctx, agent.Provider)
	ctx, span := d.tracer.Start(ctx, "relay.execute")

	started := d.clock.Now()
	resp, err := safeExecute(ctx, exec, conn, agent)
	elapsed := d.clock.Now().Sub(started)

	d.pool.Release(conn, err)
	res.Response = resp

	outcome := scoring.Outcome{
		Success:          err == nil,
		ResponseTime:     elapsed,
		Quality:          resp.Quality,
		UserSatisfaction: resp.UserSatisfaction,
		UserID:           req.UserID,
	}
	if lerr := d.scoring.LearnFromOutcome(agent.ID, outcome); lerr != nil {
		d.logger.DebugContext(ctx, "outcome not learned", "error", lerr)
	}
	tracing.End(span, err)

	if err != nil {
		res.Outcome = OutcomeError
		return &ExecutionError{Agent: agent.ID, Provider: agent.Provider, Err: err}
	}
	res.Outcome = OutcomeSuccess
	return nil
}

func safeExecute(ctx context.Context, exec Executor, conn *pool.Connection, agent scoring.Agent) (resp Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panicked: %v", r)
		}
	}()
	return exec.Execute(ctx, conn, agent)
}

func (d *Dispatcher) finish(ctx context.Context, req Request, res *Result, err error) {
	switch res.Outcome {
	case OutcomeSuccess:
		d.stats.succeeded.Add(1)
	case OutcomeRejected:
		d.stats.incrementDenied(string(res.Decision.Reason))
	case OutcomeError:
		d.stats.failed.Add(1)
	default:
		d.stats.errors.Add(1)
	}
	if res.Agent != "" {
		d.stats.incrementAgent(res.Agent)
	}

	d.recorder.RecordDispatch(res.Agent, res.Outcome, res.Latency, res.Response.Tokens)
	d.bus.Publish(events.TopicDispatchCompleted, CompletedEvent{
		RequestID: res.RequestID,
		UserID:    req.UserID,
		Agent:     res.Agent,
		Provider:  res.Provider,
		Outcome:   res.Outcome,
		Skipped:   len(res.Skipped),
		Latency:   res.Latency,
	})

	switch res.Outcome {
	case OutcomeSuccess:
		d.logger.DebugContext(ctx, "request dispatched",
			"agent", res.Agent,
			"provider", res.Provider,
			"skipped", len(res.Skipped),
			"latency", res.Latency,
		)
	case OutcomeRejected:
		d.logger.DebugContext(ctx, "request rejected", "reason", res.Decision.Reason)
	default:
		d.logger.WarnContext(ctx, "request not served",
			"outcome", res.Outcome,
			"agent", res.Agent,
			"error", err,
		)
	}
}
