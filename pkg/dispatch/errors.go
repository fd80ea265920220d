package dispatch

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAvailableAgent is returned when every ranked agent's provider was
	// unavailable.
	ErrNoAvailableAgent = errors.New("no ranked agent has an available provider")

	// ErrExecution wraps errors returned by the Executor.
	ErrExecution = errors.New("upstream execution failed")
)

// NoAvailableAgentError lists the agents tried and the last pool error.
type NoAvailableAgentError struct {
	Tried   []string
	LastErr error
}

func (e *NoAvailableAgentError) Error() string {
	return fmt.Sprintf("%s (tried %d): %v", ErrNoAvailableAgent, len(e.Tried), e.LastErr)
}

func (e *NoAvailableAgentError) Is(target error) bool {
	return target == ErrNoAvailableAgent
}

func (e *NoAvailableAgentError) Unwrap() error {
	return e.LastErr
}

// ExecutionError carries the agent an Executor failed on.
type ExecutionError struct {
	Agent    string
	Provider string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s on agent %s (provider %s): %v", ErrExecution, e.Agent, e.Provider, e.Err)
}

func (e *ExecutionError) Is(target error) bool {
	return target == ErrExecution
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
