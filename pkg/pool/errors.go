package pool

import (
	"errors"
	"fmt"
	"time"
)

// Common pool errors that can be checked with errors.Is().
var (
	// ErrAcquireTimeout is matched by every *AcquireTimeoutError.
	ErrAcquireTimeout = errors.New("connection acquire timed out")

	// ErrConnectionEstablishment is matched by every *ConnectionEstablishmentError.
	ErrConnectionEstablishment = errors.New("connection establishment failed")

	// ErrProviderUnavailable is matched by every *ProviderUnavailableError.
	ErrProviderUnavailable = errors.New("provider unavailable")

	// ErrPoolDraining is returned to new and queued acquisitions once Drain
	// has started.
	ErrPoolDraining = errors.New("pool is draining")

	// ErrPoolClosed is returned after Close.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrProviderExists is returned when registering a duplicate provider.
	ErrProviderExists = errors.New("provider already registered")

	// ErrInvalidProvider is returned for a provider definition that cannot be
	// used.
	ErrInvalidProvider = errors.New("invalid provider")
)

// Stages of connection establishment.
const (
	StageConnect     = "connect"
	StageHealthCheck = "health_check"
)

// AcquireTimeoutError is returned when a queued acquisition is not served in
// time.
type AcquireTimeoutError struct {
	Timeout time.Duration
}

// Error implements the error interface.
func (e *AcquireTimeoutError) Error() string {
	return fmt.Sprintf("connection acquire timed out after %s", e.Timeout)
}

// Is implements error matching for errors.Is().
func (e *AcquireTimeoutError) Is(target error) bool {
	return target == ErrAcquireTimeout
}

// ConnectionEstablishmentError describes a failed connect or health check.
type ConnectionEstablishmentError struct {
	Provider string
	Stage    string
	Err      error
}

// Error implements the error interface.
func (e *ConnectionEstablishmentError) Error() string {
	return fmt.Sprintf("establishing connection to %q (%s): %v", e.Provider, e.Stage, e.Err)
}

// Is implements error matching for errors.Is().
func (e *ConnectionEstablishmentError) Is(target error) bool {
	return target == ErrConnectionEstablishment
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *ConnectionEstablishmentError) Unwrap() error {
	return e.Err
}

// ProviderUnavailableError is returned when a provider cannot serve an
// acquisition.
type ProviderUnavailableError struct {
	Provider string
	Reason   string
}

// Error implements the error interface.
func (e *ProviderUnavailableError) Error() string {
	if e.Provider == "" {
		return fmt.Sprintf("no provider available: %s", e.Reason)
	}
	return fmt.Sprintf("provider %q unavailable: %s", e.Provider, e.Reason)
}

// Is implements error matching for errors.Is().
func (e *ProviderUnavailableError) Is(target error) bool {
	return target == ErrProviderUnavailable
}

// Reasons carried by ProviderUnavailableError.
const (
	ReasonNotRegistered = "not registered"
	ReasonDisabled      = "disabled"
	ReasonCircuitOpen   = "circuit open"
	ReasonNoProviders   = "no enabled providers"
)
