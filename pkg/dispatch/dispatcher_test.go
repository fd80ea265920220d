package dispatch_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"mercator-hq/relay/internal/pooltest"
	"mercator-hq/relay/pkg/clock"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/dispatch"
	"mercator-hq/relay/pkg/events"
	"mercator-hq/relay/pkg/limits"
	"mercator-hq/relay/pkg/pool"
	"mercator-hq/relay/pkg/scoring"
	"mercator-hq/relay/pkg/usage"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(topic string, payload any) {
	b.mu.Lock()
	b.events = append(b.events, events.Event{Topic: topic, Payload: payload})
	b.mu.Unlock()
}

func (b *recordingBus) completed() []dispatch.CompletedEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []dispatch.CompletedEvent
	for _, ev := range b.events {
		if ev.Topic == events.TopicDispatchCompleted {
			out = append(out, ev.Payload.(dispatch.CompletedEvent))
		}
	}
	return out
}

type testEnv struct {
	dispatcher *dispatch.Dispatcher
	limits     *limits.Service
	engine     *scoring.Engine
	pool       *pool.Pool
	connector  *pooltest.Connector
	bus        *recordingBus
}

// The strong agent on alpha outranks the weak agent on beta.
var testAgents = []scoring.Agent{
	{
		ID:              "strong",
		Provider:        "alpha",
		Capabilities:    []string{"code", "chat"},
		CostPer1KTokens: 0.001,
		ModelComplexity: "medium",
		CapabilityLevel: 0.9,
		AvgResponseTime: 300 * time.Millisecond,
		TokensPerSecond: 120,
		Reliability:     0.99,
		QualityScore:    0.95,
	},
	{
		ID:              "weak",
		Provider:        "beta",
		Capabilities:    []string{"chat"},
		CostPer1KTokens: 0.05,
		ModelComplexity: "high",
		CapabilityLevel: 0.3,
		AvgResponseTime: 4 * time.Second,
		TokensPerSecond: 10,
		Reliability:     0.6,
		QualityScore:    0.4,
	},
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	clk := clock.NewFake(testNow)
	bus := &recordingBus{}

	store := usage.NewMemoryStore(usage.WithClock(clk))
	t.Cleanup(func() { store.Close() })

	svc, err := limits.NewService(limits.Options{Store: store, Clock: clk, Logger: logger})
	if err != nil {
		t.Fatalf("limits.NewService: %v", err)
	}

	engine, err := scoring.NewEngine(scoring.Options{Clock: clk, Logger: logger})
	if err != nil {
		t.Fatalf("scoring.NewEngine: %v", err)
	}

	connector := pooltest.New()
	p, err := pool.New(pool.Options{
		Config: config.PoolConfig{
			MaxConnections:            4,
			MaxConnectionsPerProvider: 2,
			AcquireTimeout:            time.Second,
			RetryAttempts:             3,
			IdleTimeout:               time.Minute,
			MaintenanceInterval:       time.Hour,
			DrainTimeout:              time.Second,
			Providers: []config.PoolProviderConfig{
				{ID: "alpha", BaseURL: "http://alpha.test"},
				{ID: "beta", BaseURL: "http://beta.test"},
			},
		},
		Connector: connector,
		Clock:     clk,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(func() { p.Close() })

	d, err := dispatch.New(dispatch.Options{
		Limits:  svc,
		Scoring: engine,
		Pool:    p,
		Agents:  testAgents,
		Clock:   clk,
		Bus:     bus,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}

	return &testEnv{dispatcher: d, limits: svc, engine: engine, pool: p, connector: connector, bus: bus}
}

func okExecutor(quality float64) dispatch.Executor {
	return dispatch.ExecutorFunc(func(_ context.Context, conn *pool.Connection, _ scoring.Agent) (dispatch.Response, error) {
		if conn == nil || conn.Session == nil {
			return dispatch.Response{}, errors.New("no session")
		}
		return dispatch.Response{Quality: quality, UserSatisfaction: quality, Tokens: 100}, nil
	})
}

func request(user string) dispatch.Request {
	return dispatch.Request{
		UserID:          user,
		EstimatedTokens: 200,
		Priority:        pool.PriorityNormal,
		Context: &scoring.RequestContext{
			Capabilities: []string{"code"},
			Complexity:   scoring.Complexity{Overall: 0.7},
		},
	}
}

func assertPoolIdle(t *testing.T, p *pool.Pool) {
	t.Helper()
	if st := p.Stats(); st.Active != 0 {
		t.Errorf("pool Active = %d after dispatch, want 0", st.Active)
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := dispatch.New(dispatch.Options{}); err == nil {
		t.Error("New() with no collaborators succeeded")
	}
}

func TestDispatch_Success(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.dispatcher.Dispatch(context.Background(), request("user-1"), okExecutor(0.9))
	if err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	if res.Outcome != dispatch.OutcomeSuccess {
		t.Errorf("Outcome = %q, want success", res.Outcome)
	}
	if res.RequestID == "" {
		t.Error("RequestID not generated")
	}
	if res.Agent != "strong" || res.Provider != "alpha" {
		t.Errorf("served by %s/%s, want strong/alpha (ranking %v)", res.Agent, res.Provider, res.Ranking)
	}
	if len(res.Ranking) != 2 || res.Ranking[0].AgentID != "strong" {
		t.Errorf("Ranking = %+v", res.Ranking)
	}
	if sel := res.Selected(); sel == nil || sel.AgentID != "strong" {
		t.Errorf("Selected() = %+v", sel)
	}
	if res.ConnectionID == "" {
		t.Error("ConnectionID empty")
	}
	assertPoolIdle(t, env.pool)

	metrics := env.engine.GetScoringMetrics()
	if metrics.TotalOutcomes != 1 {
		t.Errorf("TotalOutcomes = %d, want 1", metrics.TotalOutcomes)
	}

	stats := env.dispatcher.Stats()
	if stats.Total != 1 || stats.Succeeded != 1 || stats.PerAgent["strong"] != 1 {
		t.Errorf("Stats() = %+v", stats)
	}

	completed := env.bus.completed()
	if len(completed) != 1 || completed[0].Outcome != dispatch.OutcomeSuccess {
		t.Errorf("completed events = %+v", completed)
	}
}

func TestDispatch_ReleasesConcurrentSlot(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// The free tier allows two concurrent requests; sequential dispatches
	// only succeed if each one returns its slot.
	for i := 0; i < 5; i++ {
		if _, err := env.dispatcher.Dispatch(ctx, request("user-1"), okExecutor(0.8)); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}
}

func TestDispatch_Denied(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if _, err := env.dispatcher.Dispatch(ctx, request("user-1"), okExecutor(0.8)); err != nil {
			t.Fatalf("dispatch %d: %v", i, err)
		}
	}

	executed := false
	res, err := env.dispatcher.Dispatch(ctx, request("user-1"), dispatch.ExecutorFunc(
		func(context.Context, *pool.Connection, scoring.Agent) (dispatch.Response, error) {
			executed = true
			return dispatch.Response{}, nil
		}))

	if !errors.Is(err, limits.ErrLimitExceeded) {
		t.Fatalf("error = %v, want ErrLimitExceeded", err)
	}
	if executed {
		t.Error("executor ran for a denied request")
	}
	if res.Outcome != dispatch.OutcomeRejected || res.Decision.Reason != limits.ReasonMinute {
		t.Errorf("Outcome = %q, Reason = %q", res.Outcome, res.Decision.Reason)
	}
	if res.Decision.WaitTime <= 0 {
		t.Errorf("WaitTime = %v, want > 0", res.Decision.WaitTime)
	}

	stats := env.dispatcher.Stats()
	if stats.Denied != 1 || stats.DeniedBy[string(limits.ReasonMinute)] != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestDispatch_FallsBackOnUnavailableProvider(t *testing.T) {
	tests := []struct {
		name  string
		setup func(env *testEnv)
	}{
		{
			name: "provider disabled",
			setup: func(env *testEnv) {
				if err := env.pool.SetProviderEnabled("alpha", false); err != nil {
					t.Fatalf("SetProviderEnabled: %v", err)
				}
			},
		},
		{
			name: "connect fails",
			setup: func(env *testEnv) {
				env.connector.FailConnect("alpha", pooltest.ErrInjected)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			tt.setup(env)

			res, err := env.dispatcher.Dispatch(context.Background(), request("user-1"), okExecutor(0.7))
			if err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
			if res.Agent != "weak" || res.Provider != "beta" {
				t.Errorf("served by %s/%s, want weak/beta", res.Agent, res.Provider)
			}
			if len(res.Skipped) != 1 || res.Skipped[0] != "strong" {
				t.Errorf("Skipped = %v, want [strong]", res.Skipped)
			}
			if got := env.dispatcher.Stats().Fallbacks; got != 1 {
				t.Errorf("Fallbacks = %d, want 1", got)
			}
			assertPoolIdle(t, env.pool)
		})
	}
}

func TestDispatch_NoAvailableAgent(t *testing.T) {
	env := newTestEnv(t)
	for _, id := range []string{"alpha", "beta"} {
		if err := env.pool.SetProviderEnabled(id, false); err != nil {
			t.Fatalf("SetProviderEnabled(%s): %v", id, err)
		}
	}

	res, err := env.dispatcher.Dispatch(context.Background(), request("user-1"), okExecutor(0.7))

	if !errors.Is(err, dispatch.ErrNoAvailableAgent) {
		t.Fatalf("error = %v, want ErrNoAvailableAgent", err)
	}
	if !errors.Is(err, pool.ErrProviderUnavailable) {
		t.Errorf("error = %v, want it to wrap ErrProviderUnavailable", err)
	}
	if res.Outcome != dispatch.OutcomeUnavailable || len(res.Skipped) != 2 {
		t.Errorf("Outcome = %q, Skipped = %v", res.Outcome, res.Skipped)
	}

	// The slot was returned: two more dispatches fit the concurrent cap once
	// a provider is back.
	if err := env.pool.SetProviderEnabled("beta", true); err != nil {
		t.Fatalf("SetProviderEnabled: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := env.dispatcher.Dispatch(context.Background(), request("user-1"), okExecutor(0.7)); err != nil {
			t.Fatalf("dispatch after recovery %d: %v", i, err)
		}
	}
}

func TestDispatch_ExecutorFailure(t *testing.T) {
	upstream := errors.New("upstream 502")

	tests := []struct {
		name string
		exec dispatch.Executor
		is   error
	}{
		{
			name: "error",
			exec: dispatch.ExecutorFunc(func(context.Context, *pool.Connection, scoring.Agent) (dispatch.Response, error) {
				return dispatch.Response{}, upstream
			}),
			is: upstream,
		},
		{
			name: "panic",
			exec: dispatch.ExecutorFunc(func(context.Context, *pool.Connection, scoring.Agent) (dispatch.Response, error) {
				panic("boom")
			}),
			is: dispatch.ErrExecution,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)

			res, err := env.dispatcher.Dispatch(context.Background(), request("user-1"), tt.exec)

			if !errors.Is(err, dispatch.ErrExecution) || !errors.Is(err, tt.is) {
				t.Fatalf("error = %v, want ErrExecution wrapping %v", err, tt.is)
			}
			var execErr *dispatch.ExecutionError
			if !errors.As(err, &execErr) || execErr.Agent != "strong" {
				t.Errorf("ExecutionError = %+v", execErr)
			}
			if res.Outcome != dispatch.OutcomeError {
				t.Errorf("Outcome = %q, want error", res.Outcome)
			}
			assertPoolIdle(t, env.pool)

			st := env.pool.Stats().Providers["alpha"]
			if st.ErrorCount != 1 {
				t.Errorf("alpha ErrorCount = %d, want 1", st.ErrorCount)
			}
			if got := env.engine.GetScoringMetrics().TotalOutcomes; got != 1 {
				t.Errorf("TotalOutcomes = %d, want 1", got)
			}
			if got := env.dispatcher.Stats().Failed; got != 1 {
				t.Errorf("Failed = %d, want 1", got)
			}
		})
	}
}

func TestDispatch_EstimatesTokensFromPrompt(t *testing.T) {
	tests := []struct {
		name       string
		prompt     string
		wantTokens int64
		wantReason limits.Reason
	}{
		{"short prompt admitted", strings.Repeat("x", 400), 207, ""},
		{"long prompt exceeds per-request cap", strings.Repeat("x", 20000), 6007, limits.ReasonTokens},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			req := request("user-tokens")
			req.EstimatedTokens = 0
			req.Prompt = tt.prompt

			res, err := env.dispatcher.Dispatch(context.Background(), req, okExecutor(0.9))
			if res == nil {
				t.Fatalf("Dispatch() returned no result, error = %v", err)
			}
			if res.EstimatedTokens != tt.wantTokens {
				t.Errorf("EstimatedTokens = %d, want %d", res.EstimatedTokens, tt.wantTokens)
			}
			if tt.wantReason == "" {
				if err != nil {
					t.Errorf("Dispatch() error = %v", err)
				}
				return
			}
			if !errors.Is(err, limits.ErrLimitExceeded) || res.Decision.Reason != tt.wantReason {
				t.Errorf("Dispatch() error = %v, reason %q; want %q", err, res.Decision.Reason, tt.wantReason)
			}
		})
	}
}

func TestDispatch_NilExecutor(t *testing.T) {
	env := newTestEnv(t)
	if _, err := env.dispatcher.Dispatch(context.Background(), request("user-1"), nil); err == nil {
		t.Error("Dispatch() with nil executor succeeded")
	}
}

func TestDispatch_Concurrent(t *testing.T) {
	env := newTestEnv(t)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := []string{"user-a", "user-b", "user-c", "user-d"}[i%4]
			if _, err := env.dispatcher.Dispatch(context.Background(), request(user), okExecutor(0.8)); err != nil {
				errs <- err
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, limits.ErrLimitExceeded) {
			t.Errorf("unexpected error: %v", err)
		}
	}
	assertPoolIdle(t, env.pool)
	if got := env.pool.Stats().Connections; got > 4 {
		t.Errorf("Connections = %d, want <= 4", got)
	}
}
