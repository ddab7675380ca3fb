package cli

import (
	"errors"
	"fmt"

	"mercator-hq/indexretain/pkg/index"
)

// Process exit codes.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitConfig   = 2
	ExitNotFound = 3
	ExitConflict = 4
	ExitInvalid  = 5
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("config error: %s", e.Message)
	}
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// CommandError represents an error from a command execution.
type CommandError struct {
	Command string
	Err     error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s failed: %v", e.Command, e.Err)
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
	}
}

// NewCommandError creates a new CommandError.
func NewCommandError(command string, err error) *CommandError {
	return &CommandError{
		Command: command,
		Err:     err,
	}
}

// ExitCode maps an error returned by a command to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}

	var (
		cfgErr      *ConfigError
		conflictErr *index.CheckpointConflictError
		invalidErr  *index.InvalidJobError
		orderErr    *index.OutOfOrderError
		scopeErr    *index.UnknownScopeError
		deletedErr  *index.SubclientDeletedError
	)
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.As(err, &conflictErr):
		return ExitConflict
	case errors.Is(err, index.ErrDuplicate):
		return ExitConflict
	case errors.As(err, &scopeErr), errors.Is(err, index.ErrNotFound):
		return ExitNotFound
	case errors.As(err, &invalidErr), errors.As(err, &orderErr), errors.As(err, &deletedErr):
		return ExitInvalid
	default:
		return ExitFailure
	}
}
