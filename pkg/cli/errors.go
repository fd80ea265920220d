package cli

import (
	"errors"
	"fmt"
)

// Exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
	ExitUsage   = 64
)

// ConfigError reports a configuration that could not be loaded or applied.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config error: %v", e.Err)
	}
	return fmt.Sprintf("config error in %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// CommandError reports a failed command.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// UsageError reports invalid flags or arguments.
type UsageError struct {
	Message string
}

func (e *UsageError) Error() string {
	return e.Message
}

// NewConfigError wraps err with the config path.
func NewConfigError(path string, err error) *ConfigError {
	return &ConfigError{Path: path, Err: err}
}

// NewCommandError wraps err with the command name.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{Command: command, Err: err}
}

// Usagef formats a UsageError.
func Usagef(format string, args ...any) *UsageError {
	return &UsageError{Message: fmt.Sprintf(format, args...)}
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	var configErr *ConfigError
	var usageErr *UsageError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &usageErr):
		return ExitUsage
	case errors.As(err, &configErr):
		return ExitConfig
	default:
		return ExitFailure
	}
}
