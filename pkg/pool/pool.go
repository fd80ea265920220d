package pool

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"mercator-hq/relay/pkg/clock"
	"mercator-hq/relay/pkg/config"
	"mercator-hq/relay/pkg/events"
)

// Recorder receives pool measurements.
type Recorder interface {
	RecordAcquire(provider string, wait time.Duration)
	RecordAcquireTimeout(priority Priority)
	RecordConnections(provider string, byStatus map[Status]int)
	RecordQueueDepth(depth int)
}

type nopRecorder struct{}

func (nopRecorder) RecordAcquire(string, time.Duration) {}

func (nopRecorder) RecordAcquireTimeout(Priority) {}

func (nopRecorder) RecordConnections(string, map[Status]int) {}

func (nopRecorder) RecordQueueDepth(int) {}

// Options configures a Pool.
type Options struct {
	Config config.PoolConfig

	// Connector opens sessions. Defaults to an HTTPConnector.
	Connector Connector

	Clock    clock.Clock
	Bus      events.Bus
	Recorder Recorder
	Logger   *slog.Logger
}

type providerState struct {
	Provider
	breaker *gobreaker.CircuitBreaker
	open    int
	pending int
}

// Pool is a bounded, priority-queued connection pool. It is safe for
// concurrent use. Its mutex is never held across Connector calls.
type Pool struct {
	cfg         config.PoolConfig
	checkOnOpen bool
	connector   Connector
	clock       clock.Clock
	bus         events.Bus
	recorder    Recorder
	logger      *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	providers map[string]*providerState
	conns     map[string]*conn
	queue     waitQueue
	seq       uint64
	pending   int
	started   bool
	draining  bool
	closed    bool

	acquired       int64
	timeouts       int64
	opened         int64
	closedCount    int64
	createFailures int64
}

// New creates a pool and registers the configured providers. Call Start to
// run maintenance.
func New(opts Options) (*Pool, error) {
	cfg, err := normalizeConfig(opts.Config)
	if err != nil {
		return nil, err
	}
	if opts.Connector == nil {
		opts.Connector = NewHTTPConnector(nil)
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
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		cfg:         cfg,
		checkOnOpen: cfg.HealthCheckOnConnect == nil || *cfg.HealthCheckOnConnect,
		connector:   opts.Connector,
		clock:       opts.Clock,
		bus:         opts.Bus,
		recorder:    opts.Recorder,
		logger:      opts.Logger.With("component", "pool"),
		ctx:         ctx,
		cancel:      cancel,
		providers:   make(map[string]*providerState),
		conns:       make(map[string]*conn),
	}

	for _, pc := range cfg.Providers {
		if err := p.RegisterProvider(ProviderFromConfig(pc)); err != nil {
			cancel()
			return nil, err
		}
	}
	return p, nil
}

func normalizeConfig(cfg config.PoolConfig) (config.PoolConfig, error) {
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = config.DefaultMaxConnections
	}
	if cfg.MaxConnectionsPerProvider == 0 {
		cfg.MaxConnectionsPerProvider = config.DefaultMaxConnectionsPerProvider
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = config.DefaultConnectTimeout
	}
	if cfg.HealthCheckTimeout == 0 {
		cfg.HealthCheckTimeout = config.DefaultHealthCheckTimeout
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = config.DefaultAcquireTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = config.DefaultIdleTimeout
	}
	if cfg.MaintenanceInterval == 0 {
		cfg.MaintenanceInterval = config.DefaultMaintenanceInterval
	}
	if cfg.HealthCheckConcurrency == 0 {
		cfg.HealthCheckConcurrency = config.DefaultHealthCheckConcurrency
	}
	if cfg.DrainTimeout == 0 {
		cfg.DrainTimeout = config.DefaultDrainTimeout
	}
	if cfg.Breaker.ConsecutiveFailures == 0 {
		cfg.Breaker.ConsecutiveFailures = config.DefaultBreakerFailures
	}
	if cfg.Breaker.OpenTimeout == 0 {
		cfg.Breaker.OpenTimeout = config.DefaultBreakerOpenTimeout
	}

	switch {
	case cfg.MaxConnections < 0:
		return cfg, fmt.Errorf("pool max connections must be positive, got %d", cfg.MaxConnections)
	case cfg.MaxConnectionsPerProvider < 0:
		return cfg, fmt.Errorf("pool max connections per provider must be positive, got %d", cfg.MaxConnectionsPerProvider)
	case cfg.MinConnections < 0:
		return cfg, fmt.Errorf("pool min connections must not be negative, got %d", cfg.MinConnections)
	case cfg.RetryAttempts < 0:
		return cfg, fmt.Errorf("pool retry attempts must not be negative, got %d", cfg.RetryAttempts)
	case cfg.HealthCheckConcurrency < 0:
		return cfg, fmt.Errorf("pool health check concurrency must be positive, got %d", cfg.HealthCheckConcurrency)
	}
	return cfg, nil
}

// Acquire returns a connection, opening or waiting for one as needed.
// Queued callers are served by priority, then arrival. A caller still queued
// when opts.Timeout elapses receives an *AcquireTimeoutError; context
// cancellation also leaves the queue.
func (p *Pool) Acquire(ctx context.Context, opts AcquireOptions) (*Connection, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = p.cfg.AcquireTimeout
	}
	start := time.Now()

	p.mu.Lock()
	if err := p.acceptingLocked(); err != nil {
		p.mu.Unlock()
		return nil, err
	}
	if err := p.checkProviderLocked(opts.Provider); err != nil {
		p.mu.Unlock()
		return nil, err
	}

	p.seq++
	w := &waiter{
		id:       uuid.NewString(),
		ctx:      ctx,
		opts:     opts,
		seq:      p.seq,
		queuedAt: p.clock.Now(),
		result:   make(chan acquireResult, 1),
	}
	heap.Push(&p.queue, w)
	p.processQueueLocked()
	p.mu.Unlock()

	timer := time.NewTimer(opts.Timeout)
	defer timer.Stop()

	var cause error
	select {
	case r := <-w.result:
		return p.finishAcquire(r, start)
	case <-timer.C:
		cause = &AcquireTimeoutError{Timeout: opts.Timeout}
	case <-ctx.Done():
		cause = fmt.Errorf("waiting for connection: %w", ctx.Err())
	}

	p.mu.Lock()
	removed := p.queue.remove(w)
	if removed {
		if errors.Is(cause, ErrAcquireTimeout) {
			p.timeouts++
		}
		p.processQueueLocked()
	}
	p.mu.Unlock()

	if !removed {
		// Claimed before the deadline won; the result is on its way.
		r := <-w.result
		if r.err == nil && ctx.Err() != nil {
			p.Release(r.conn, nil)
			return nil, cause
		}
		return p.finishAcquire(r, start)
	}

	if errors.Is(cause, ErrAcquireTimeout) {
		p.recorder.RecordAcquireTimeout(opts.Priority)
		p.bus.Publish(events.TopicAcquireTimeout, AcquireTimeoutEvent{
			Provider: opts.Provider,
			Priority: opts.Priority,
			Timeout:  opts.Timeout,
		})
		p.logger.Warn("connection acquire timed out",
			"provider", opts.Provider,
			"priority", opts.Priority.String(),
			"timeout", opts.Timeout,
		)
	}
	return nil, cause
}

func (p *Pool) finishAcquire(r acquireResult, start time.Time) (*Connection, error) {
	if r.err != nil {
		return nil, r.err
	}
	wait := time.Since(start)
	p.recorder.RecordAcquire(r.conn.Provider, wait)
	p.logger.Debug("connection acquired",
		"connection_id", r.conn.ID,
		"provider", r.conn.Provider,
		"wait", wait,
	)
	return r.conn, nil
}

// Release returns a connection. A nil err marks it idle; otherwise its error
// count grows and it is retired once the count exceeds RetryAttempts.
// Releasing the same lease twice has no effect.
func (p *Pool) Release(c *Connection, err error) {
	if c == nil || c.conn == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if c.released {
		p.logger.Debug("connection already released", "connection_id", c.ID)
		return
	}
	c.released = true

	cn := c.conn
	if cn.status == StatusClosed {
		p.processQueueLocked()
		return
	}

	now := p.clock.Now()
	if cn.activeRequests > 0 {
		cn.activeRequests--
	}
	cn.lastUsed = now
	cn.observe(now.Sub(c.AcquiredAt))
	cn.metadata = nil

	ps := p.providers[cn.provider]
	switch {
	case err != nil:
		cn.errorCount++
		cn.status = StatusError
		p.logger.Debug("connection released with error",
			"connection_id", cn.id,
			"provider", cn.provider,
			"error_count", cn.errorCount,
			"error", err,
		)
		if cn.errorCount > p.cfg.RetryAttempts {
			p.closeLocked(cn, "error_limit")
			p.topUpLocked(ps)
		}
	case ps.open > ps.MaxConnections:
		p.closeLocked(cn, "over_capacity")
	default:
		cn.status = StatusIdle
	}
	p.processQueueLocked()
}

// processQueueLocked serves queued waiters in priority, then arrival order.
// A provider-scoped waiter that cannot be served holds back later waiters
// for the same provider only. An unscoped waiter that cannot be served means
// no provider has an idle connection or headroom, so the pass stops there.
func (p *Pool) processQueueLocked() {
	defer func() { p.recorder.RecordQueueDepth(p.queue.Len()) }()

	if p.queue.Len() == 0 {
		return
	}
	blocked := make(map[string]bool)
	for _, w := range p.queue.ordered() {
		if err := w.ctx.Err(); err != nil {
			p.queue.remove(w)
			w.deliver(nil, fmt.Errorf("waiting for connection: %w", err))
			continue
		}
		if err := p.acceptingLocked(); err != nil {
			p.queue.remove(w)
			w.deliver(nil, err)
			continue
		}
		if err := p.checkProviderLocked(w.opts.Provider); err != nil {
			p.queue.remove(w)
			w.deliver(nil, err)
			continue
		}
		if blocked[w.opts.Provider] {
			continue
		}
		if c := p.takeIdleLocked(w.opts); c != nil {
			p.queue.remove(w)
			w.deliver(c, nil)
			continue
		}
		ps := p.reserveLocked(w.opts.Provider)
		if ps == nil {
			if w.opts.Provider == "" {
				return
			}
			blocked[w.opts.Provider] = true
			continue
		}
		p.queue.remove(w)
		p.wg.Add(1)
		go p.openFor(w, ps, ps.Provider, ps.breaker)
	}
}

// openFor establishes a connection on behalf of a claimed waiter.
func (p *Pool) openFor(w *waiter, ps *providerState, prov Provider, br *gobreaker.CircuitBreaker) {
	defer p.wg.Done()

	session, err := p.establish(w.ctx, prov, br)

	p.mu.Lock()
	defer p.mu.Unlock()

	ps.pending--
	p.pending--

	if err != nil {
		p.createFailures++
		p.logger.Warn("connection establishment failed", "provider", prov.ID, "error", err)
		w.deliver(nil, err)
		p.processQueueLocked()
		return
	}
	if err := p.acceptingLocked(); err != nil {
		closeSession(p.logger, session)
		w.deliver(nil, err)
		return
	}

	cn := p.addLocked(ps, session)
	w.deliver(p.leaseLocked(cn, w.opts), nil)
}

// warm opens a connection to keep a provider at its minimum.
func (p *Pool) warm(ps *providerState, prov Provider, br *gobreaker.CircuitBreaker) {
	defer p.wg.Done()

	session, err := p.establish(p.ctx, prov, br)

	p.mu.Lock()
	defer p.mu.Unlock()

	ps.pending--
	p.pending--

	if err != nil {
		p.createFailures++
		p.logger.Warn("connection top-up failed", "provider", prov.ID, "error", err)
		p.processQueueLocked()
		return
	}
	if p.acceptingLocked() != nil {
		closeSession(p.logger, session)
		return
	}

	cn := p.addLocked(ps, session)
	cn.status = StatusIdle
	p.processQueueLocked()
}

// establish connects and optionally health-checks inside the provider's
// circuit breaker.
func (p *Pool) establish(ctx context.Context, prov Provider, br *gobreaker.CircuitBreaker) (Session, error) {
	res, err := br.Execute(func() (interface{}, error) {
		connectCtx, cancel := context.WithTimeout(ctx, p.cfg.ConnectTimeout)
		defer cancel()

		session, err := p.connector.Connect(connectCtx, prov)
		if err != nil {
			return nil, &ConnectionEstablishmentError{Provider: prov.ID, Stage: StageConnect, Err: err}
		}
		if !p.checkOnOpen {
			return session, nil
		}

		checkCtx, cancelCheck := context.WithTimeout(ctx, p.cfg.HealthCheckTimeout)
		defer cancelCheck()

		if err := session.HealthCheck(checkCtx); err != nil {
			closeSession(p.logger, session)
			return nil, &ConnectionEstablishmentError{Provider: prov.ID, Stage: StageHealthCheck, Err: err}
		}
		return session, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &ProviderUnavailableError{Provider: prov.ID, Reason: ReasonCircuitOpen}
		}
		return nil, err
	}
	return res.(Session), nil
}

func (p *Pool) addLocked(ps *providerState, session Session) *conn {
	now := p.clock.Now()
	cn := &conn{
		id:        uuid.NewString(),
		provider:  ps.ID,
		session:   session,
		status:    StatusConnecting,
		createdAt: now,
		lastUsed:  now,
	}
	p.conns[cn.id] = cn
	ps.open++
	p.opened++

	p.bus.Publish(events.TopicConnectionOpened, ConnectionEvent{ConnectionID: cn.id, Provider: cn.provider})
	p.logger.Debug("connection opened", "connection_id", cn.id, "provider", cn.provider)
	return cn
}

func (p *Pool) leaseLocked(cn *conn, opts AcquireOptions) *Connection {
	now := p.clock.Now()
	cn.status = StatusActive
	cn.activeRequests++
	cn.totalRequests++
	cn.lastUsed = now
	cn.metadata = copyMetadata(opts.Metadata)
	p.acquired++

	return &Connection{
		ID:         cn.id,
		Provider:   cn.provider,
		Session:    cn.session,
		AcquiredAt: now,
		Metadata:   copyMetadata(opts.Metadata),
		conn:       cn,
	}
}

// takeIdleLocked leases the idle connection with the lowest load.
func (p *Pool) takeIdleLocked(opts AcquireOptions) *Connection {
	var best *conn
	for _, cn := range p.conns {
		if cn.status != StatusIdle || cn.checking {
			continue
		}
		if opts.Provider != "" && cn.provider != opts.Provider {
			continue
		}
		if !p.usableLocked(p.providers[cn.provider]) {
			continue
		}
		if best == nil || lessLoaded(cn, best) {
			best = cn
		}
	}
	if best == nil {
		return nil
	}
	return p.leaseLocked(best, opts)
}

func lessLoaded(a, b *conn) bool {
	if a.load() != b.load() {
		return a.load() < b.load()
	}
	if !a.createdAt.Equal(b.createdAt) {
		return a.createdAt.Before(b.createdAt)
	}
	return a.id < b.id
}

// reserveLocked books capacity for one new connection, choosing a provider
// when none is requested. It returns nil when there is no headroom.
func (p *Pool) reserveLocked(provider string) *providerState {
	var ps *providerState
	if provider != "" {
		ps = p.providers[provider]
		if !p.usableLocked(ps) || !p.headroomLocked(ps) {
			return nil
		}
	} else {
		ps = p.selectProviderLocked()
		if ps == nil {
			return nil
		}
	}
	ps.pending++
	p.pending++
	return ps
}

// selectProviderLocked picks the usable provider with the lowest fill ratio,
// breaking ties by priority and then id.
func (p *Pool) selectProviderLocked() *providerState {
	var best *providerState
	var bestRatio float64
	for _, ps := range p.providers {
		if !p.usableLocked(ps) || !p.headroomLocked(ps) {
			continue
		}
		ratio := float64(ps.open+ps.pending) / float64(ps.MaxConnections)
		switch {
		case best == nil, ratio < bestRatio:
		case ratio == bestRatio && ps.Priority < best.Priority:
		case ratio == bestRatio && ps.Priority == best.Priority && ps.ID < best.ID:
		default:
			continue
		}
		best, bestRatio = ps, ratio
	}
	return best
}

func (p *Pool) headroomLocked(ps *providerState) bool {
	if len(p.conns)+p.pending >= p.cfg.MaxConnections {
		return false
	}
	return ps.open+ps.pending < ps.MaxConnections
}

func (p *Pool) usableLocked(ps *providerState) bool {
	return ps != nil && ps.Enabled && ps.breaker.State() != gobreaker.StateOpen
}

func (p *Pool) acceptingLocked() error {
	switch {
	case p.closed:
		return ErrPoolClosed
	case p.draining:
		return ErrPoolDraining
	}
	return nil
}

// checkProviderLocked reports why an acquisition can never be served right
// now, or nil when it can wait for capacity.
func (p *Pool) checkProviderLocked(id string) error {
	if id != "" {
		ps, ok := p.providers[id]
		switch {
		case !ok:
			return &ProviderUnavailableError{Provider: id, Reason: ReasonNotRegistered}
		case !ps.Enabled:
			return &ProviderUnavailableError{Provider: id, Reason: ReasonDisabled}
		case ps.breaker.State() == gobreaker.StateOpen:
			return &ProviderUnavailableError{Provider: id, Reason: ReasonCircuitOpen}
		}
		return nil
	}

	enabled, open := 0, 0
	for _, ps := range p.providers {
		if !ps.Enabled {
			continue
		}
		enabled++
		if ps.breaker.State() == gobreaker.StateOpen {
			open++
		}
	}
	switch {
	case enabled == 0:
		return &ProviderUnavailableError{Reason: ReasonNoProviders}
	case open == enabled:
		return &ProviderUnavailableError{Reason: ReasonCircuitOpen}
	}
	return nil
}

func (p *Pool) closeLocked(cn *conn, reason string) {
	if cn.status == StatusClosed {
		return
	}
	cn.status = StatusClosed
	delete(p.conns, cn.id)
	if ps := p.providers[cn.provider]; ps != nil {
		ps.open--
	}
	p.closedCount++

	go closeSession(p.logger, cn.session)

	p.bus.Publish(events.TopicConnectionClosed, ConnectionEvent{
		ConnectionID: cn.id,
		Provider:     cn.provider,
		Reason:       reason,
	})
	p.logger.Debug("connection closed", "connection_id", cn.id, "provider", cn.provider, "reason", reason)
}

func closeSession(logger *slog.Logger, s Session) {
	if err := s.Close(); err != nil {
		logger.Debug("closing session failed", "error", err)
	}
}

// topUpLocked opens connections until the provider reaches MinConnections.
func (p *Pool) topUpLocked(ps *providerState) {
	if !p.started || p.acceptingLocked() != nil || !p.usableLocked(ps) {
		return
	}
	for ps.open+ps.pending < p.cfg.MinConnections && p.headroomLocked(ps) {
		ps.pending++
		p.pending++
		p.wg.Add(1)
		go p.warm(ps, ps.Provider, ps.breaker)
	}
}

func (p *Pool) failWaitersLocked(err error) {
	for p.queue.Len() > 0 {
		w := heap.Pop(&p.queue).(*waiter)
		w.deliver(nil, err)
	}
	p.recorder.RecordQueueDepth(0)
}

// RegisterProvider adds a provider. Zero MaxConnections uses the pool's
// per-provider default.
func (p *Pool) RegisterProvider(prov Provider) error {
	if prov.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidProvider)
	}
	if prov.MaxConnections < 0 {
		return fmt.Errorf("%w: %q max connections must be positive", ErrInvalidProvider, prov.ID)
	}
	if prov.MaxConnections == 0 {
		prov.MaxConnections = p.cfg.MaxConnectionsPerProvider
	}
	if prov.HealthCheckPath == "" {
		prov.HealthCheckPath = config.DefaultHealthCheckPath
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.providers[prov.ID]; ok {
		return fmt.Errorf("%w: %q", ErrProviderExists, prov.ID)
	}
	if p.draining {
		prov.Enabled = false
	}
	ps := &providerState{Provider: prov, breaker: p.newBreaker(prov.ID)}
	p.providers[prov.ID] = ps

	p.logger.Info("provider registered",
		"provider", prov.ID,
		"max_connections", prov.MaxConnections,
		"enabled", prov.Enabled,
	)
	p.topUpLocked(ps)
	p.processQueueLocked()
	return nil
}

func (p *Pool) newBreaker(id string) *gobreaker.CircuitBreaker {
	threshold := p.cfg.Breaker.ConsecutiveFailures
	logger := p.logger
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "provider:" + id,
		Timeout: p.cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
}

// SetProviderEnabled toggles a provider. Disabled providers receive no new
// acquisitions; their existing connections stay until evicted.
func (p *Pool) SetProviderEnabled(id string, enabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.providers[id]
	if !ok {
		return &ProviderUnavailableError{Provider: id, Reason: ReasonNotRegistered}
	}
	if enabled && p.draining {
		return ErrPoolDraining
	}
	if ps.Enabled == enabled {
		return nil
	}
	ps.Enabled = enabled

	p.bus.Publish(events.TopicProviderToggled, ProviderToggledEvent{Provider: id, Enabled: enabled})
	p.logger.Info("provider toggled", "provider", id, "enabled", enabled)

	p.topUpLocked(ps)
	p.processQueueLocked()
	return nil
}

// UpdateProvider applies patch to a provider. Lowering MaxConnections closes
// surplus idle connections at once and surplus active ones on release.
func (p *Pool) UpdateProvider(id string, patch ProviderPatch) error {
	if patch.MaxConnections != nil && *patch.MaxConnections <= 0 {
		return fmt.Errorf("%w: %q max connections must be positive", ErrInvalidProvider, id)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ps, ok := p.providers[id]
	if !ok {
		return &ProviderUnavailableError{Provider: id, Reason: ReasonNotRegistered}
	}
	if patch.BaseURL != nil {
		ps.BaseURL = *patch.BaseURL
	}
	if patch.HealthCheckPath != nil {
		ps.HealthCheckPath = *patch.HealthCheckPath
	}
	if patch.Priority != nil {
		ps.Priority = *patch.Priority
	}
	if patch.MaxConnections != nil {
		ps.MaxConnections = *patch.MaxConnections
		for _, cn := range p.idleLocked(ps.ID) {
			if ps.open <= ps.MaxConnections {
				break
			}
			p.closeLocked(cn, "over_capacity")
		}
	}

	p.logger.Info("provider updated", "provider", id, "max_connections", ps.MaxConnections, "priority", ps.Priority)
	p.topUpLocked(ps)
	p.processQueueLocked()
	return nil
}

// idleLocked returns the provider's idle connections, least recently used
// first.
func (p *Pool) idleLocked(provider string) []*conn {
	var idle []*conn
	for _, cn := range p.conns {
		if cn.provider == provider && cn.status == StatusIdle && !cn.checking {
			idle = append(idle, cn)
		}
	}
	sort.Slice(idle, func(i, j int) bool {
		if !idle[i].lastUsed.Equal(idle[j].lastUsed) {
			return idle[i].lastUsed.Before(idle[j].lastUsed)
		}
		return idle[i].id < idle[j].id
	})
	return idle
}

// Providers returns the registered providers ordered by id.
func (p *Pool) Providers() []Provider {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Provider, 0, len(p.providers))
	for _, ps := range p.providers {
		out = append(out, ps.Provider)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Utilization returns the share of the global capacity held by callers.
func (p *Pool) Utilization() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	active := 0
	for _, cn := range p.conns {
		if cn.status == StatusActive {
			active++
		}
	}
	return float64(active) / float64(p.cfg.MaxConnections)
}

// Stats returns a snapshot of the pool.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := Stats{
		MaxConnections: p.cfg.MaxConnections,
		Connections:    len(p.conns),
		Pending:        p.pending,
		Queued:         p.queue.Len(),
		Draining:       p.draining,
		Acquired:       p.acquired,
		Timeouts:       p.timeouts,
		Opened:         p.opened,
		Closed:         p.closedCount,
		CreateFailures: p.createFailures,
		Providers:      make(map[string]ProviderStats, len(p.providers)),
	}

	weighted := make(map[string]time.Duration)
	for id, ps := range p.providers {
		s.Providers[id] = ProviderStats{
			ID:             id,
			Enabled:        ps.Enabled,
			Breaker:        ps.breaker.State().String(),
			MaxConnections: ps.MaxConnections,
			Connections:    ps.open,
			Pending:        ps.pending,
		}
	}
	for _, cn := range p.conns {
		ps := s.Providers[cn.provider]
		switch cn.status {
		case StatusIdle:
			s.Idle++
			ps.Idle++
		case StatusActive:
			s.Active++
			ps.Active++
		case StatusError:
			s.Errored++
			ps.Errored++
		}
		ps.TotalRequests += cn.totalRequests
		ps.ErrorCount += cn.errorCount
		weighted[cn.provider] += time.Duration(cn.totalRequests) * cn.avgResponseTime
		s.Providers[cn.provider] = ps
	}
	for id, ps := range s.Providers {
		if ps.TotalRequests > 0 {
			ps.AvgResponseTime = weighted[id] / time.Duration(ps.TotalRequests)
			s.Providers[id] = ps
		}
	}
	return s
}

// Connections returns every live connection ordered by provider and age.
func (p *Pool) Connections() []ConnectionInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]ConnectionInfo, 0, len(p.conns))
	for _, cn := range p.conns {
		out = append(out, cn.info())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func copyMetadata(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
