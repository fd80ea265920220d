package pool

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/sync/semaphore"

	"mercator-hq/relay/pkg/events"
)

const drainPoll = 10 * time.Millisecond

// Start tops providers up to MinConnections and runs maintenance every
// MaintenanceInterval until ctx is done or Close is called. It is a no-op
// after the first call.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started || p.closed {
		p.mu.Unlock()
		return
	}
	p.started = true
	for _, ps := range p.providers {
		p.topUpLocked(ps)
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.maintain(ctx)
}

func (p *Pool) maintain(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.cfg.MaintenanceInterval)
	defer ticker.Stop()

	p.logger.Info("pool maintenance started", "interval", p.cfg.MaintenanceInterval)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pool maintenance stopped", "reason", "context cancelled")
			return
		case <-p.ctx.Done():
			p.logger.Info("pool maintenance stopped", "reason", "pool closed")
			return
		case <-ticker.C:
			p.RunMaintenance(ctx)
		}
	}
}

// RunMaintenance performs one maintenance cycle: health checks of idle and
// errored connections, idle eviction and top-up.
func (p *Pool) RunMaintenance(ctx context.Context) {
	start := time.Now()
	checked := p.checkHealth(ctx)

	p.mu.Lock()
	evicted := p.evictIdleLocked()
	for _, ps := range p.providers {
		p.topUpLocked(ps)
	}
	p.processQueueLocked()
	p.recordGaugesLocked()
	p.mu.Unlock()

	p.logger.Debug("pool maintenance completed",
		"checked", checked,
		"evicted", evicted,
		"duration", time.Since(start),
	)
}

type healthTarget struct {
	cn      *conn
	session Session
	breaker *gobreaker.CircuitBreaker
}

// checkHealth probes idle and errored connections with bounded parallelism
// and returns how many were probed.
func (p *Pool) checkHealth(ctx context.Context) int {
	p.mu.Lock()
	var targets []healthTarget
	for _, cn := range p.conns {
		if cn.checking || (cn.status != StatusIdle && cn.status != StatusError) {
			continue
		}
		ps := p.providers[cn.provider]
		cn.checking = true
		targets = append(targets, healthTarget{cn: cn, session: cn.session, breaker: ps.breaker})
	}
	p.mu.Unlock()

	limit := int64(p.cfg.HealthCheckConcurrency)
	sem := semaphore.NewWeighted(limit)
	for i, t := range targets {
		if err := sem.Acquire(ctx, 1); err != nil {
			p.mu.Lock()
			for _, rest := range targets[i:] {
				rest.cn.checking = false
			}
			p.mu.Unlock()
			targets = targets[:i]
			break
		}
		go func(t healthTarget) {
			defer sem.Release(1)
			p.applyHealth(t.cn, p.probe(ctx, t))
		}(t)
	}
	// In-flight probes are bounded by HealthCheckTimeout; wait for all of them.
	_ = sem.Acquire(context.Background(), limit)
	return len(targets)
}

func (p *Pool) probe(ctx context.Context, t healthTarget) error {
	_, err := t.breaker.Execute(func() (interface{}, error) {
		checkCtx, cancel := context.WithTimeout(ctx, p.cfg.HealthCheckTimeout)
		defer cancel()
		return nil, t.session.HealthCheck(checkCtx)
	})
	return err
}

// applyHealth records a probe result. A passing probe lowers the error count
// and revives an errored connection; a failing one raises it and retires the
// connection past RetryAttempts.
func (p *Pool) applyHealth(cn *conn, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cn.checking = false
	if cn.status == StatusClosed {
		return
	}
	if errors.Is(err, context.Canceled) {
		return
	}

	if err == nil {
		if cn.errorCount > 0 {
			cn.errorCount--
		}
		if cn.status == StatusError {
			cn.status = StatusIdle
			p.logger.Info("connection recovered", "connection_id", cn.id, "provider", cn.provider)
			p.processQueueLocked()
		}
		return
	}

	cn.errorCount++
	p.logger.Warn("connection health check failed",
		"connection_id", cn.id,
		"provider", cn.provider,
		"error_count", cn.errorCount,
		"error", err,
	)
	if cn.status == StatusActive {
		return
	}
	cn.status = StatusError
	if cn.errorCount > p.cfg.RetryAttempts {
		p.closeLocked(cn, "health_check")
		p.topUpLocked(p.providers[cn.provider])
	}
}

// evictIdleLocked closes connections idle longer than IdleTimeout without
// taking an enabled provider below MinConnections.
func (p *Pool) evictIdleLocked() int {
	now := p.clock.Now()
	evicted := 0
	for id, ps := range p.providers {
		floor := 0
		if ps.Enabled {
			floor = p.cfg.MinConnections
		}
		for _, cn := range p.idleLocked(id) {
			if ps.open <= floor {
				break
			}
			if now.Sub(cn.lastUsed) <= p.cfg.IdleTimeout {
				break
			}
			p.closeLocked(cn, "idle_timeout")
			evicted++
		}
	}
	return evicted
}

func (p *Pool) recordGaugesLocked() {
	byProvider := make(map[string]map[Status]int, len(p.providers))
	for id := range p.providers {
		byProvider[id] = map[Status]int{StatusIdle: 0, StatusActive: 0, StatusError: 0, StatusConnecting: 0}
	}
	for _, cn := range p.conns {
		byProvider[cn.provider][cn.status]++
	}
	for id, counts := range byProvider {
		p.recorder.RecordConnections(id, counts)
	}
	p.recorder.RecordQueueDepth(p.queue.Len())
}

// Drain disables every provider, fails queued acquisitions with
// ErrPoolDraining and waits up to DrainTimeout for held connections to come
// back before closing everything.
func (p *Pool) Drain(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.draining = true
	ids := make([]string, 0, len(p.providers))
	for id, ps := range p.providers {
		if ps.Enabled {
			ps.Enabled = false
			ids = append(ids, id)
		}
	}
	p.failWaitersLocked(ErrPoolDraining)
	p.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		p.bus.Publish(events.TopicProviderToggled, ProviderToggledEvent{Provider: id, Enabled: false})
	}
	p.logger.Info("pool draining", "providers", len(ids), "timeout", p.cfg.DrainTimeout)

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.DrainTimeout)
	defer cancel()

	ticker := time.NewTicker(drainPoll)
	defer ticker.Stop()

wait:
	for p.busy() > 0 {
		select {
		case <-waitCtx.Done():
			break wait
		case <-ticker.C:
		}
	}

	p.mu.Lock()
	forced := 0
	for _, cn := range p.conns {
		if cn.status == StatusActive {
			forced++
		}
		p.closeLocked(cn, "drained")
	}
	p.recordGaugesLocked()
	p.mu.Unlock()

	if forced > 0 {
		p.logger.Warn("pool drain timed out, closed held connections", "forced", forced)
	} else {
		p.logger.Info("pool drained")
	}
	return ctx.Err()
}

// busy counts held connections plus those still being established.
func (p *Pool) busy() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := p.pending
	for _, cn := range p.conns {
		if cn.status == StatusActive {
			n++
		}
	}
	return n
}

// Close stops maintenance, fails queued acquisitions and closes every
// connection. Leases still held become no-ops on Release.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.failWaitersLocked(ErrPoolClosed)
	for _, cn := range p.conns {
		p.closeLocked(cn, "pool_closed")
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()
	p.logger.Info("pool closed")
	return nil
}
