package cli

import (
	"errors"
	"fmt"

	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
)

// Exit codes returned by the compass command.
const (
	ExitOK     = 0
	ExitFailed = 1
	ExitUsage  = 2
)

// ConfigError represents an error in configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
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

// ConfigErrors returns one ConfigError per invalid field in err. Errors
// that are not validation errors yield a single entry without a field.
func ConfigErrors(err error) []*ConfigError {
	if err == nil {
		return nil
	}
	var ve config.ValidationError
	if !errors.As(err, &ve) {
		return []*ConfigError{NewConfigError("", err.Error())}
	}
	out := make([]*ConfigError, 0, len(ve.Errors))
	for _, fe := range ve.Errors {
		out = append(out, NewConfigError(fe.Field, fe.Message))
	}
	return out
}

// ExitCode maps err to a process exit status. Invalid configuration and
// invalid input exit with ExitUsage.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, compassErrors.ErrConfiguration), errors.Is(err, compassErrors.ErrInvalidInput):
		return ExitUsage
	default:
		return ExitFailed
	}
}
