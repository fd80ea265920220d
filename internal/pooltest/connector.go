// Package pooltest provides an in-memory pool.Connector for tests.
package pooltest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"mercator-hq/relay/pkg/pool"
)

// ErrInjected is returned by failures configured on a Connector.
var ErrInjected = errors.New("injected failure")

// Connector is a scriptable pool.Connector. The zero value connects
// instantly and passes every health check.
type Connector struct {
	mu          sync.Mutex
	connectErr  map[string]error
	healthErr   map[string]error
	connectWait time.Duration

	connects atomic.Int64
	checks   atomic.Int64
	closes   atomic.Int64
}

// New returns a connector with no failures configured.
func New() *Connector {
	return &Connector{}
}

// FailConnect makes connects to provider fail with err. A nil err clears it.
func (c *Connector) FailConnect(provider string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.connectErr == nil {
		c.connectErr = make(map[string]error)
	}
	if err == nil {
		delete(c.connectErr, provider)
		return
	}
	c.connectErr[provider] = err
}

// FailHealth makes health checks against provider fail with err. A nil err
// clears it.
func (c *Connector) FailHealth(provider string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.healthErr == nil {
		c.healthErr = make(map[string]error)
	}
	if err == nil {
		delete(c.healthErr, provider)
		return
	}
	c.healthErr[provider] = err
}

// SetConnectDelay delays every connect by d, honoring the context.
func (c *Connector) SetConnectDelay(d time.Duration) {
	c.mu.Lock()
	c.connectWait = d
	c.mu.Unlock()
}

// Connects returns how many connects were attempted.
func (c *Connector) Connects() int64 { return c.connects.Load() }

// HealthChecks returns how many health checks ran.
func (c *Connector) HealthChecks() int64 { return c.checks.Load() }

// Closes returns how many sessions were closed.
func (c *Connector) Closes() int64 { return c.closes.Load() }

// Connect implements pool.Connector.
func (c *Connector) Connect(ctx context.Context, p pool.Provider) (pool.Session, error) {
	c.connects.Add(1)

	c.mu.Lock()
	wait := c.connectWait
	err := c.connectErr[p.ID]
	c.mu.Unlock()

	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	if err != nil {
		return nil, err
	}
	return &Session{provider: p.ID, parent: c}, nil
}

// Session is the session type produced by Connector.
type Session struct {
	provider string
	parent   *Connector
	closed   atomic.Bool
}

// Provider returns the provider the session was opened for.
func (s *Session) Provider() string { return s.provider }

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// HealthCheck implements pool.Session.
func (s *Session) HealthCheck(ctx context.Context) error {
	s.parent.checks.Add(1)
	if err := ctx.Err(); err != nil {
		return err
	}
	s.parent.mu.Lock()
	defer s.parent.mu.Unlock()
	return s.parent.healthErr[s.provider]
}

// Close implements pool.Session.
func (s *Session) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.parent.closes.Add(1)
	}
	return nil
}
