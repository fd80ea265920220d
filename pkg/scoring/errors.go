package scoring

import (
	"errors"
	"fmt"
)

// Common scoring errors that can be checked with errors.Is().
var (
	// ErrScoringFailed is returned when a ranking call cannot produce scores.
	ErrScoringFailed = errors.New("scoring failed")

	// ErrExtractionFailed marks a factor extraction that fell back to
	// defaults. It is logged and counted, never returned from a ranking call.
	ErrExtractionFailed = errors.New("factor extraction failed")

	// ErrNoAgents is returned when there is nothing to rank.
	ErrNoAgents = errors.New("no candidate agents")

	// ErrUnmatchedOutcome is returned when an outcome has no recent score to
	// attach to.
	ErrUnmatchedOutcome = errors.New("no recent score for agent")

	// ErrUnknownFactor is returned for an unrecognized factor name.
	ErrUnknownFactor = errors.New("unknown scoring factor")
)

// ExtractionError describes a failed extractor for one agent.
type ExtractionError struct {
	AgentID string
	Factor  Factor
	Err     error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s factor for agent %q: %v", e.Factor, e.AgentID, e.Err)
}

// Is implements error matching for errors.Is().
func (e *ExtractionError) Is(target error) bool {
	return target == ErrExtractionFailed
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// CalculationError is returned when a whole ranking call fails.
type CalculationError struct {
	// Agents is the number of candidates the call was given.
	Agents int
	Err    error
}

// Error implements the error interface.
func (e *CalculationError) Error() string {
	return fmt.Sprintf("scoring %d agents: %v", e.Agents, e.Err)
}

// Is implements error matching for errors.Is().
func (e *CalculationError) Is(target error) bool {
	return target == ErrScoringFailed
}

// Unwrap returns the wrapped error for error chain traversal.
func (e *CalculationError) Unwrap() error {
	return e.Err
}
