package health

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Status values.
const (
	StatusOK        = "ok"
	StatusReady     = "ready"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// ErrCheckTimeout is reported when a check outlives the checker timeout.
var ErrCheckTimeout = errors.New("health check timeout")

// CheckFunc returns nil when the component is healthy.
type CheckFunc func(ctx context.Context) error

// CheckResult is the outcome of one check.
type CheckResult struct {
	// Status is StatusOK or StatusUnhealthy.
	Status string `json:"status"`

	// Message carries the check error when the check failed.
	Message string `json:"message,omitempty"`

	// Duration is how long the check ran, in nanoseconds on the wire.
	Duration time.Duration `json:"duration_ns,omitempty"`
}

// HealthStatus is the aggregate answer of a probe.
type HealthStatus struct {
	// Status is StatusOK for liveness; for readiness it is StatusReady,
	// StatusDegraded or StatusUnhealthy.
	Status string `json:"status"`

	// Checks holds one result per registered check (readiness only).
	Checks map[string]CheckResult `json:"checks,omitempty"`

	// Timestamp is when the probe ran.
	Timestamp time.Time `json:"timestamp"`
}

// Checker runs registered health checks.
type Checker struct {
	mu     sync.RWMutex
	checks map[string]CheckFunc

	// checkTimeout bounds each check run.
	checkTimeout time.Duration
}

// New creates a checker. A zero timeout defaults to 5 seconds per check.
func New(checkTimeout time.Duration) *Checker {
	if checkTimeout == 0 {
		checkTimeout = 5 * time.Second
	}
	return &Checker{
		checks:       make(map[string]CheckFunc),
		checkTimeout: checkTimeout,
	}
}

// RegisterCheck adds or replaces the check for name.
func (c *Checker) RegisterCheck(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// ListChecks returns the registered check names in order.
func (c *Checker) ListChecks() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CheckLiveness reports that the process is up.
func (c *Checker) CheckLiveness(context.Context) HealthStatus {
	return HealthStatus{Status: StatusOK, Timestamp: time.Now()}
}

// CheckReadiness runs every registered check concurrently.
func (c *Checker) CheckReadiness(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, check := range c.checks {
		checks[name] = check
	}
	c.mu.RUnlock()

	results := make(map[string]CheckResult, len(checks))
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			result := c.runCheck(ctx, check)

			resultMu.Lock()
			results[name] = result
			resultMu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status := StatusReady
	for _, result := range results {
		if result.Status == StatusUnhealthy {
			status = StatusDegraded
		}
	}

	return HealthStatus{Status: status, Checks: results, Timestamp: time.Now()}
}

// runCheck runs one check, abandoning it after the checker timeout.
func (c *Checker) runCheck(ctx context.Context, check CheckFunc) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.checkTimeout)
	defer cancel()

	start := time.Now()
	errChan := make(chan error, 1)
	go func() {
		errChan <- check(checkCtx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return CheckResult{Status: StatusUnhealthy, Message: err.Error(), Duration: time.Since(start)}
		}
		return CheckResult{Status: StatusOK, Duration: time.Since(start)}
	case <-checkCtx.Done():
		return CheckResult{Status: StatusUnhealthy, Message: ErrCheckTimeout.Error(), Duration: time.Since(start)}
	}
}
