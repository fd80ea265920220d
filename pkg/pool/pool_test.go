package pool_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"mercator-hq/relay/internal/pooltest"
	"mercator-hq/relay/pkg/clock"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/events"
	"mercator-hq/relay/pkg/pool"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	pool      *pool.Pool
	connector *pooltest.Connector
	clock     *clock.Fake
	bus       *recordingBus
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
	n := 0
	for _, t := range b.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func newTestEnv(t *testing.T, mutate func(*config.PoolConfig)) *testEnv {
	t.Helper()

	cfg := config.PoolConfig{
		MaxConnections:            1,
		MaxConnectionsPerProvider: 1,
		AcquireTimeout:            5 * time.Second,
		RetryAttempts:             2,
		IdleTimeout:               time.Minute,
		MaintenanceInterval:       time.Hour,
		DrainTimeout:              5 * time.Second,
		Providers: []config.PoolProviderConfig{
			{ID: "alpha", BaseURL: "http://alpha.test"},
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	env := &testEnv{
		connector: pooltest.New(),
		clock:     clock.NewFake(testNow),
		bus:       &recordingBus{},
	}
	p, err := pool.New(pool.Options{
		Config:    cfg,
		Connector: env.connector,
		Clock:     env.clock,
		Bus:       env.bus,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	env.pool = p
	return env
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func mustAcquire(t *testing.T, p *pool.Pool, opts pool.AcquireOptions) *pool.Connection {
	t.Helper()
	c, err := p.Acquire(context.Background(), opts)
	if err != nil {
		t.Fatalf("Acquire(%+v) error = %v", opts, err)
	}
	return c
}

func TestAcquire_PriorityOrder(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.pool

	holder := mustAcquire(t, p, pool.AcquireOptions{})

	arrivals := []pool.Priority{pool.PriorityLow, pool.PriorityCritical, pool.PriorityNormal, pool.PriorityCritical}
	served := make(chan pool.Priority, len(arrivals))
	var wg sync.WaitGroup
	for i, pr := range arrivals {
		wg.Add(1)
		go func(pr pool.Priority) {
			defer wg.Done()
			c, err := p.Acquire(context.Background(), pool.AcquireOptions{Priority: pr})
			if err != nil {
				t.Errorf("Acquire(%s) error = %v", pr, err)
				return
			}
			served <- pr
			p.Release(c, nil)
		}(pr)
		want := i + 1
		waitFor(t, "waiter to queue", func() bool { return p.Stats().Queued == want })
	}

	p.Release(holder, nil)
	wg.Wait()
	close(served)

	want := []pool.Priority{pool.PriorityCritical, pool.PriorityCritical, pool.PriorityNormal, pool.PriorityLow}
	var got []pool.Priority
	for pr := range served {
		got = append(got, pr)
	}
	if len(got) != len(want) {
		t.Fatalf("served %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("served %v, want %v", got, want)
		}
	}
}

func TestAcquire_TimesOutWhenFull(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.MaxConnections = 2
		cfg.MaxConnectionsPerProvider = 2
	})
	p := env.pool

	first := mustAcquire(t, p, pool.AcquireOptions{})
	second := mustAcquire(t, p, pool.AcquireOptions{})
	if first.ID == second.ID {
		t.Fatal("expected two distinct connections")
	}
	if got := p.Stats().Connections; got != 2 {
		t.Fatalf("Connections = %d, want 2", got)
	}

	start := time.Now()
	_, err := p.Acquire(context.Background(), pool.AcquireOptions{Timeout: 500 * time.Millisecond})
	elapsed := time.Since(start)

	if !errors.Is(err, pool.ErrAcquireTimeout) {
		t.Fatalf("Acquire() error = %v, want ErrAcquireTimeout", err)
	}
	var te *pool.AcquireTimeoutError
	if !errors.As(err, &te) || te.Timeout != 500*time.Millisecond {
		t.Errorf("error = %#v, want AcquireTimeoutError{500ms}", err)
	}
	if elapsed < 500*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("timed out after %s, want about 500ms", elapsed)
	}

	stats := p.Stats()
	if stats.Queued != 0 {
		t.Errorf("Queued = %d, want 0", stats.Queued)
	}
	if stats.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", stats.Timeouts)
	}
	if env.bus.count(events.TopicAcquireTimeout) != 1 {
		t.Error("expected one acquire timeout event")
	}
}

func TestAcquire_QueuedWaiterServedOnRelease(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.pool

	holder := mustAcquire(t, p, pool.AcquireOptions{})

	got := make(chan *pool.Connection, 1)
	go func() {
		c, err := p.Acquire(context.Background(), pool.AcquireOptions{})
		if err != nil {
			t.Errorf("Acquire() error = %v", err)
		}
		got <- c
	}()
	waitFor(t, "waiter to queue", func() bool { return p.Stats().Queued == 1 })

	p.Release(holder, nil)

	select {
	case c := <-got:
		if c == nil || c.ID != holder.ID {
			t.Errorf("waiter got %v, want reused connection %s", c, holder.ID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not served after release")
	}
}

func TestAcquire_ContextCancelLeavesQueue(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.pool

	holder := mustAcquire(t, p, pool.AcquireOptions{})
	defer p.Release(holder, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Acquire(ctx, pool.AcquireOptions{Timeout: 5 * time.Second})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Acquire() error = %v, want context deadline", err)
	}
	if errors.Is(err, pool.ErrAcquireTimeout) {
		t.Error("context cancellation reported as acquire timeout")
	}
	if got := p.Stats().Queued; got != 0 {
		t.Errorf("Queued = %d, want 0", got)
	}
}

// queueAcquire starts an acquisition in the background and waits until it
// is queued, so arrival order follows call order.
func queueAcquire(t *testing.T, p *pool.Pool, opts pool.AcquireOptions) <-chan *pool.Connection {
	t.Helper()
	want := p.Stats().Queued + 1
	got := make(chan *pool.Connection, 1)
	go func() {
		c, err := p.Acquire(context.Background(), opts)
		if err != nil {
			t.Errorf("Acquire(%+v) error = %v", opts, err)
		}
		got <- c
	}()
	waitFor(t, "waiter to queue", func() bool { return p.Stats().Queued == want })
	return got
}

func receive(t *testing.T, name string, ch <-chan *pool.Connection) *pool.Connection {
	t.Helper()
	select {
	case c := <-ch:
		if c == nil {
			t.Fatalf("%s: acquisition failed", name)
		}
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("%s: not served", name)
		return nil
	}
}

func twoProviderEnv(t *testing.T, maxConns int) *testEnv {
	return newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.MaxConnections = maxConns
		cfg.MaxConnectionsPerProvider = 1
		cfg.Providers = []config.PoolProviderConfig{
			{ID: "alpha", BaseURL: "http://alpha.test"},
			{ID: "beta", BaseURL: "http://beta.test"},
		}
	})
}

func TestAcquire_SaturatedProviderDoesNotBlockOthers(t *testing.T) {
	p := twoProviderEnv(t, 4).pool

	holder := mustAcquire(t, p, pool.AcquireOptions{Provider: "alpha"})
	queued := queueAcquire(t, p, pool.AcquireOptions{Provider: "alpha"})

	start := time.Now()
	c, err := p.Acquire(context.Background(), pool.AcquireOptions{Provider: "beta", Timeout: time.Second})
	if err != nil {
		t.Fatalf("beta Acquire() error = %v after %s", err, time.Since(start))
	}
	if c.Provider != "beta" {
		t.Errorf("beta Acquire() got provider %s", c.Provider)
	}
	p.Release(c, nil)

	unscoped, err := p.Acquire(context.Background(), pool.AcquireOptions{Timeout: time.Second})
	if err != nil {
		t.Fatalf("unscoped Acquire() error = %v", err)
	}
	if unscoped.Provider != "beta" {
		t.Errorf("unscoped Acquire() got provider %s, want beta", unscoped.Provider)
	}
	if got := p.Stats().Queued; got != 1 {
		t.Errorf("Queued = %d, want only the alpha waiter", got)
	}

	p.Release(holder, nil)
	if got := receive(t, "alpha waiter", queued); got.ID != holder.ID {
		t.Errorf("alpha waiter got %s, want reused %s", got.ID, holder.ID)
	}
}

func TestAcquire_MixedWaitersAcrossProviders(t *testing.T) {
	p := twoProviderEnv(t, 2).pool

	a1 := mustAcquire(t, p, pool.AcquireOptions{Provider: "alpha"})
	b1 := mustAcquire(t, p, pool.AcquireOptions{Provider: "beta"})

	alphaNormal := queueAcquire(t, p, pool.AcquireOptions{Provider: "alpha", Priority: pool.PriorityNormal})
	anyLow := queueAcquire(t, p, pool.AcquireOptions{Priority: pool.PriorityLow})
	betaNormal := queueAcquire(t, p, pool.AcquireOptions{Provider: "beta", Priority: pool.PriorityNormal})
	anyCritical := queueAcquire(t, p, pool.AcquireOptions{Priority: pool.PriorityCritical})

	steps := []struct {
		release *pool.Connection
		name    string
		waiter  <-chan *pool.Connection
		want    string
		queued  int
	}{
		{release: b1, name: "critical unscoped", waiter: anyCritical, want: "beta", queued: 3},
		{release: a1, name: "alpha scoped", waiter: alphaNormal, want: "alpha", queued: 2},
	}

	var held []*pool.Connection
	for _, step := range steps {
		p.Release(step.release, nil)
		if got := p.Stats().Queued; got != step.queued {
			t.Fatalf("after serving %s: Queued = %d, want %d", step.name, got, step.queued)
		}
		c := receive(t, step.name, step.waiter)
		if c.Provider != step.want {
			t.Fatalf("%s got provider %s, want %s", step.name, c.Provider, step.want)
		}
		held = append(held, c)
	}

	// The scoped beta waiter outranks the low unscoped one for beta.
	p.Release(held[0], nil)
	if c := receive(t, "beta scoped", betaNormal); c.Provider != "beta" {
		t.Fatalf("beta scoped got provider %s", c.Provider)
	}
	p.Release(held[1], nil)
	if c := receive(t, "low unscoped", anyLow); c.Provider != "alpha" {
		t.Fatalf("low unscoped got provider %s, want alpha", c.Provider)
	}

	stats := p.Stats()
	if stats.Queued != 0 || stats.Connections > 2 {
		t.Errorf("stats = %+v, want empty queue within bounds", stats)
	}
	for id, ps := range stats.Providers {
		if ps.Connections > 1 {
			t.Errorf("provider %s has %d connections, want at most 1", id, ps.Connections)
		}
	}
}

func TestPool_NeverExceedsBounds(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.MaxConnections = 3
		cfg.MaxConnectionsPerProvider = 2
		cfg.Providers = []config.PoolProviderConfig{
			{ID: "alpha", BaseURL: "http://alpha.test"},
			{ID: "beta", BaseURL: "http://beta.test"},
		}
	})
	p := env.pool
	env.connector.SetConnectDelay(time.Millisecond)

	check := func() {
		s := p.Stats()
		if s.Connections+s.Pending > s.MaxConnections {
			t.Errorf("live connections %d exceed global max %d", s.Connections+s.Pending, s.MaxConnections)
		}
		for id, ps := range s.Providers {
			if ps.Connections+ps.Pending > ps.MaxConnections {
				t.Errorf("provider %s holds %d connections, max %d", id, ps.Connections+ps.Pending, ps.MaxConnections)
			}
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			r := rand.New(rand.NewSource(seed))
			for j := 0; j < 25; j++ {
				opts := pool.AcquireOptions{Priority: pool.Priority(r.Intn(4))}
				if r.Intn(3) == 0 {
					opts.Provider = []string{"alpha", "beta"}[r.Intn(2)]
				}
				c, err := p.Acquire(context.Background(), opts)
				if err != nil {
					t.Errorf("Acquire() error = %v", err)
					return
				}
				check()
				var relErr error
				if r.Intn(10) == 0 {
					relErr = errors.New("upstream failed")
				}
				p.Release(c, relErr)
				check()
			}
		}(int64(i))
	}

	// Errored connections only come back through health checks.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				p.RunMaintenance(context.Background())
				time.Sleep(2 * time.Millisecond)
			}
		}
	}()
	wg.Wait()
	close(stop)
	check()
}

func TestRelease_IsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.pool

	c := mustAcquire(t, p, pool.AcquireOptions{})
	p.Release(c, nil)
	p.Release(c, nil)
	p.Release(c, errors.New("late failure"))
	p.Release(nil, nil)

	s := p.Stats()
	if s.Idle != 1 || s.Active != 0 || s.Errored != 0 {
		t.Fatalf("stats = idle %d active %d errored %d, want 1/0/0", s.Idle, s.Active, s.Errored)
	}

	again := mustAcquire(t, p, pool.AcquireOptions{})
	if again.ID != c.ID {
		t.Errorf("reacquired %s, want %s", again.ID, c.ID)
	}
	if infos := p.Connections(); infos[0].ActiveRequests != 1 {
		t.Errorf("ActiveRequests = %d, want 1", infos[0].ActiveRequests)
	}
}

func TestRelease_ErrorLifecycle(t *testing.T) {
	t.Run("recovered by health check", func(t *testing.T) {
		env := newTestEnv(t, nil)
		p := env.pool

		c := mustAcquire(t, p, pool.AcquireOptions{})
		p.Release(c, errors.New("boom"))
		if got := p.Stats().Errored; got != 1 {
			t.Fatalf("Errored = %d, want 1", got)
		}

		p.RunMaintenance(context.Background())

		s := p.Stats()
		if s.Errored != 0 || s.Idle != 1 {
			t.Fatalf("after health check errored %d idle %d, want 0/1", s.Errored, s.Idle)
		}
		if again := mustAcquire(t, p, pool.AcquireOptions{}); again.ID != c.ID {
			t.Errorf("reacquired %s, want recovered %s", again.ID, c.ID)
		}
	})

	t.Run("retired after retry attempts", func(t *testing.T) {
		env := newTestEnv(t, nil)
		p := env.pool

		c := mustAcquire(t, p, pool.AcquireOptions{})
		p.Release(c, errors.New("boom"))
		env.connector.FailHealth("alpha", pooltest.ErrInjected)

		p.RunMaintenance(context.Background())
		if got := p.Stats().Connections; got != 1 {
			t.Fatalf("Connections = %d after 2 errors, want 1", got)
		}
		p.RunMaintenance(context.Background())

		s := p.Stats()
		if s.Connections != 0 || s.Closed != 1 {
			t.Fatalf("Connections = %d Closed = %d, want 0/1", s.Connections, s.Closed)
		}
		waitFor(t, "session close", func() bool { return env.connector.Closes() == 1 })
		if env.bus.count(events.TopicConnectionClosed) != 1 {
			t.Error("expected one connection closed event")
		}
	})

	t.Run("zero retry attempts close at once", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *config.PoolConfig) { cfg.RetryAttempts = 0 })
		p := env.pool

		c := mustAcquire(t, p, pool.AcquireOptions{})
		p.Release(c, errors.New("boom"))
		if got := p.Stats().Connections; got != 0 {
			t.Fatalf("Connections = %d, want 0", got)
		}
		next := mustAcquire(t, p, pool.AcquireOptions{})
		if next.ID == c.ID {
			t.Error("retired connection handed out again")
		}
	})
}

func TestAcquire_PrefersLeastLoadedIdle(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.MaxConnections = 2
		cfg.MaxConnectionsPerProvider = 2
	})
	p := env.pool

	a := mustAcquire(t, p, pool.AcquireOptions{})
	b := mustAcquire(t, p, pool.AcquireOptions{})
	p.Release(a, nil)
	p.Release(b, nil)

	busy := mustAcquire(t, p, pool.AcquireOptions{})
	p.Release(busy, nil)

	next := mustAcquire(t, p, pool.AcquireOptions{})
	if next.ID == busy.ID {
		t.Errorf("got the more used connection %s", busy.ID)
	}
}

func TestAcquire_ProviderSelection(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.MaxConnections = 10
		cfg.Providers = []config.PoolProviderConfig{
			{ID: "alpha", BaseURL: "http://alpha.test", MaxConnections: 2, Priority: 2},
			{ID: "beta", BaseURL: "http://beta.test", MaxConnections: 4, Priority: 1},
		}
	})
	p := env.pool

	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, mustAcquire(t, p, pool.AcquireOptions{}).Provider)
	}
	want := []string{"beta", "alpha", "beta"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("providers = %v, want %v", got, want)
		}
	}

	scoped := mustAcquire(t, p, pool.AcquireOptions{Provider: "alpha"})
	if scoped.Provider != "alpha" {
		t.Errorf("scoped acquire got %s", scoped.Provider)
	}
}

func TestAcquire_ProviderUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	p := env.pool

	tests := []struct {
		name     string
		setup    func()
		provider string
		reason   string
	}{
		{name: "unknown", provider: "ghost", reason: pool.ReasonNotRegistered},
		{
			name:     "disabled",
			setup:    func() { p.SetProviderEnabled("alpha", false) },
			provider: "alpha",
			reason:   pool.ReasonDisabled,
		},
		{name: "none enabled", reason: pool.ReasonNoProviders},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			_, err := p.Acquire(context.Background(), pool.AcquireOptions{Provider: tt.provider})
			var pe *pool.ProviderUnavailableError
			if !errors.As(err, &pe) || !errors.Is(err, pool.ErrProviderUnavailable) {
				t.Fatalf("Acquire() error = %v, want ProviderUnavailableError", err)
			}
			if pe.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", pe.Reason, tt.reason)
			}
		})
	}

	if err := p.SetProviderEnabled("ghost", true); !errors.Is(err, pool.ErrProviderUnavailable) {
		t.Errorf("SetProviderEnabled(ghost) error = %v", err)
	}
	if err := p.SetProviderEnabled("alpha", true); err != nil {
		t.Fatalf("SetProviderEnabled(alpha) error = %v", err)
	}
	mustAcquire(t, p, pool.AcquireOptions{Provider: "alpha"})
	if env.bus.count(events.TopicProviderToggled) != 2 {
		t.Errorf("provider toggled events = %d, want 2", env.bus.count(events.TopicProviderToggled))
	}
}

func TestAcquire_EstablishmentFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*pooltest.Connector)
		stage string
	}{
		{
			name:  "connect",
			setup: func(c *pooltest.Connector) { c.FailConnect("alpha", pooltest.ErrInjected) },
			stage: pool.StageConnect,
		},
		{
			name:  "health check",
			setup: func(c *pooltest.Connector) { c.FailHealth("alpha", pooltest.ErrInjected) },
			stage: pool.StageHealthCheck,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			tt.setup(env.connector)

			_, err := env.pool.Acquire(context.Background(), pool.AcquireOptions{})
			var ce *pool.ConnectionEstablishmentError
			if !errors.As(err, &ce) {
				t.Fatalf("Acquire() error = %v, want ConnectionEstablishmentError", err)
			}
			if ce.Stage != tt.stage || ce.Provider != "alpha" {
				t.Errorf("error = %+v, want stage %s for alpha", ce, tt.stage)
			}
			if !errors.Is(err, pool.ErrConnectionEstablishment) || !errors.Is(err, pooltest.ErrInjected) {
				t.Errorf("error chain %v missing sentinel or cause", err)
			}

			s := env.pool.Stats()
			if s.Connections != 0 || s.Pending != 0 || s.CreateFailures != 1 {
				t.Errorf("stats = %+v, want no connections and one failure", s)
			}
		})
	}
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.Breaker.ConsecutiveFailures = 2
		cfg.Breaker.OpenTimeout = time.Hour
	})
	env.connector.FailConnect("alpha", pooltest.ErrInjected)

	for i := 0; i < 2; i++ {
		if _, err := env.pool.Acquire(context.Background(), pool.AcquireOptions{}); !errors.Is(err, pool.ErrConnectionEstablishment) {
			t.Fatalf("attempt %d error = %v, want establishment failure", i, err)
		}
	}

	_, err := env.pool.Acquire(context.Background(), pool.AcquireOptions{Provider: "alpha"})
	var pe *pool.ProviderUnavailableError
	if !errors.As(err, &pe) || pe.Reason != pool.ReasonCircuitOpen {
		t.Fatalf("Acquire() error = %v, want circuit open", err)
	}
	if got := env.pool.Stats().Providers["alpha"].Breaker; got != "open" {
		t.Errorf("breaker state = %q, want open", got)
	}
	if got := env.connector.Connects(); got != 2 {
		t.Errorf("Connects = %d, want 2", got)
	}
}

func TestDrain(t *testing.T) {
	t.Run("waits for held connections", func(t *testing.T) {
		env := newTestEnv(t, nil)
		p := env.pool

		held := mustAcquire(t, p, pool.AcquireOptions{})

		queued := make(chan error, 1)
		go func() {
			_, err := p.Acquire(context.Background(), pool.AcquireOptions{})
			queued <- err
		}()
		waitFor(t, "waiter to queue", func() bool { return p.Stats().Queued == 1 })

		drained := make(chan error, 1)
		go func() { drained <- p.Drain(context.Background()) }()

		if err := <-queued; !errors.Is(err, pool.ErrPoolDraining) {
			t.Fatalf("queued acquire error = %v, want ErrPoolDraining", err)
		}
		if _, err := p.Acquire(context.Background(), pool.AcquireOptions{}); !errors.Is(err, pool.ErrPoolDraining) {
			t.Fatalf("new acquire error = %v, want ErrPoolDraining", err)
		}
		select {
		case <-drained:
			t.Fatal("Drain returned while a connection was held")
		case <-time.After(50 * time.Millisecond):
		}

		p.Release(held, nil)
		select {
		case err := <-drained:
			if err != nil {
				t.Fatalf("Drain() error = %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Drain did not finish after release")
		}
		if s := p.Stats(); s.Connections != 0 || !s.Draining {
			t.Errorf("stats = %+v, want drained", s)
		}
		if err := p.SetProviderEnabled("alpha", true); !errors.Is(err, pool.ErrPoolDraining) {
			t.Errorf("re-enable during drain error = %v", err)
		}
	})

	t.Run("force closes after timeout", func(t *testing.T) {
		env := newTestEnv(t, func(cfg *config.PoolConfig) { cfg.DrainTimeout = 50 * time.Millisecond })
		p := env.pool

		held := mustAcquire(t, p, pool.AcquireOptions{})
		if err := p.Drain(context.Background()); err != nil {
			t.Fatalf("Drain() error = %v", err)
		}
		if got := p.Stats().Connections; got != 0 {
			t.Errorf("Connections = %d, want 0", got)
		}
		p.Release(held, nil)
		if s := p.Stats(); s.Idle != 0 || s.Connections != 0 {
			t.Errorf("release after drain revived a connection: %+v", s)
		}
	})
}

func TestMaintenance_IdleEvictionKeepsMinimum(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.MaxConnections = 3
		cfg.MaxConnectionsPerProvider = 3
		cfg.MinConnections = 1
	})
	p := env.pool

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p.Start(ctx)
	waitFor(t, "top-up", func() bool { s := p.Stats(); return s.Idle == 1 && s.Pending == 0 })

	a := mustAcquire(t, p, pool.AcquireOptions{})
	b := mustAcquire(t, p, pool.AcquireOptions{})
	c := mustAcquire(t, p, pool.AcquireOptions{})
	p.Release(a, nil)
	p.Release(b, nil)
	p.Release(c, nil)
	if got := p.Stats().Connections; got != 3 {
		t.Fatalf("Connections = %d, want 3", got)
	}

	p.RunMaintenance(ctx)
	if got := p.Stats().Connections; got != 3 {
		t.Fatalf("evicted fresh connections: %d left", got)
	}

	env.clock.Advance(2 * time.Minute)
	p.RunMaintenance(ctx)
	if got := p.Stats().Connections; got != 1 {
		t.Errorf("Connections = %d after eviction, want MinConnections 1", got)
	}
}

func TestUpdateProvider(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.MaxConnections = 5
		cfg.MaxConnectionsPerProvider = 3
	})
	p := env.pool

	conns := []*pool.Connection{
		mustAcquire(t, p, pool.AcquireOptions{}),
		mustAcquire(t, p, pool.AcquireOptions{}),
		mustAcquire(t, p, pool.AcquireOptions{}),
	}
	p.Release(conns[0], nil)
	p.Release(conns[1], nil)

	one := 1
	if err := p.UpdateProvider("alpha", pool.ProviderPatch{MaxConnections: &one}); err != nil {
		t.Fatalf("UpdateProvider() error = %v", err)
	}
	if got := p.Stats().Providers["alpha"].Connections; got != 1 {
		t.Fatalf("Connections after shrink = %d, want 1 (the held one)", got)
	}

	p.Release(conns[2], nil)
	if got := p.Stats().Providers["alpha"].Connections; got != 1 {
		t.Errorf("Connections after release = %d, want 1", got)
	}

	zero := 0
	if err := p.UpdateProvider("alpha", pool.ProviderPatch{MaxConnections: &zero}); !errors.Is(err, pool.ErrInvalidProvider) {
		t.Errorf("UpdateProvider(0) error = %v, want ErrInvalidProvider", err)
	}
	if err := p.UpdateProvider("ghost", pool.ProviderPatch{}); !errors.Is(err, pool.ErrProviderUnavailable) {
		t.Errorf("UpdateProvider(ghost) error = %v", err)
	}
}

func TestRegisterProvider(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.MaxConnections = 10
		cfg.MaxConnectionsPerProvider = 4
	})
	p := env.pool

	if err := p.RegisterProvider(pool.Provider{ID: "gamma", BaseURL: "http://gamma.test", Enabled: true}); err != nil {
		t.Fatalf("RegisterProvider() error = %v", err)
	}
	if err := p.RegisterProvider(pool.Provider{ID: "gamma"}); !errors.Is(err, pool.ErrProviderExists) {
		t.Errorf("duplicate error = %v, want ErrProviderExists", err)
	}
	if err := p.RegisterProvider(pool.Provider{}); !errors.Is(err, pool.ErrInvalidProvider) {
		t.Errorf("empty id error = %v, want ErrInvalidProvider", err)
	}

	providers := p.Providers()
	if len(providers) != 2 || providers[1].ID != "gamma" {
		t.Fatalf("Providers() = %+v", providers)
	}
	if providers[1].MaxConnections != 4 || providers[1].HealthCheckPath != config.DefaultHealthCheckPath {
		t.Errorf("defaults not applied: %+v", providers[1])
	}
	if c := mustAcquire(t, p, pool.AcquireOptions{Provider: "gamma"}); c.Provider != "gamma" {
		t.Errorf("acquired from %s", c.Provider)
	}
}

func TestUtilization(t *testing.T) {
	env := newTestEnv(t, func(cfg *config.PoolConfig) {
		cfg.MaxConnections = 4
		cfg.MaxConnectionsPerProvider = 4
	})
	p := env.pool

	a := mustAcquire(t, p, pool.AcquireOptions{Metadata: map[string]string{"request_id": "r-1"}})
	mustAcquire(t, p, pool.AcquireOptions{})
	if got := p.Utilization(); got != 0.5 {
		t.Errorf("Utilization() = %v, want 0.5", got)
	}
	p.Release(a, nil)
	if got := p.Utilization(); got != 0.25 {
		t.Errorf("Utilization() = %v, want 0.25", got)
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		in      string
		want    pool.Priority
		wantErr bool
	}{
		{in: "", want: pool.PriorityNormal},
		{in: "low", want: pool.PriorityLow},
		{in: "High", want: pool.PriorityHigh},
		{in: " critical ", want: pool.PriorityCritical},
		{in: "urgent", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := pool.ParsePriority(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePriority(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParsePriority(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}
