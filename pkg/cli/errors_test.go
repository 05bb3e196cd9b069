package cli

import (
	"errors"
	"fmt"
	"testing"

	"mercator-hq/compass/pkg/config"
	compassErrors "mercator-hq/compass/pkg/errors"
)

func TestConfigError(t *testing.T) {
	err := &ConfigError{
		Field:   "server.listen_address",
		Message: "missing required field",
	}

	expected := "config error in server.listen_address: missing required field"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestNewConfigError(t *testing.T) {
	err := NewConfigError("field", "message")
	if err.Field != "field" {
		t.Errorf("Field = %q, want %q", err.Field, "field")
	}
	if err.Message != "message" {
		t.Errorf("Message = %q, want %q", err.Message, "message")
	}
}

func TestCommandError(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := &CommandError{
		Command: "run",
		Err:     underlyingErr,
	}

	expected := "command run failed: underlying error"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestCommandErrorUnwrap(t *testing.T) {
	underlyingErr := errors.New("underlying error")
	err := &CommandError{
		Command: "run",
		Err:     underlyingErr,
	}

	unwrapped := err.Unwrap()
	if unwrapped != underlyingErr {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlyingErr)
	}

	// Test with errors.Is
	if !errors.Is(err, underlyingErr) {
		t.Error("errors.Is() should work with CommandError.Unwrap()")
	}
}

func TestNewCommandError(t *testing.T) {
	underlyingErr := errors.New("test")
	err := NewCommandError("command", underlyingErr)

	if err.Command != "command" {
		t.Errorf("Command = %q, want %q", err.Command, "command")
	}
	if err.Err != underlyingErr {
		t.Errorf("Err = %v, want %v", err.Err, underlyingErr)
	}
}

func TestConfigErrors(t *testing.T) {
	if got := ConfigErrors(nil); got != nil {
		t.Errorf("ConfigErrors(nil) = %v, want nil", got)
	}

	ve := config.ValidationError{Errors: []config.FieldError{
		{Field: "engine.rollout_percentage", Message: "must be within [0, 1]"},
		{Field: "snapshot.schedule", Message: "invalid cron expression"},
	}}
	got := ConfigErrors(fmt.Errorf("load: %w", ve))
	if len(got) != 2 {
		t.Fatalf("ConfigErrors() returned %d errors, want 2", len(got))
	}
	if got[1].Field != "snapshot.schedule" {
		t.Errorf("Field = %q, want snapshot.schedule", got[1].Field)
	}

	plain := ConfigErrors(errors.New("file not found"))
	if len(plain) != 1 || plain[0].Field != "" {
		t.Errorf("ConfigErrors(plain) = %+v, want one fieldless error", plain)
	}
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"validation", config.ValidationError{}, ExitUsage},
		{"invalid input", compassErrors.InvalidInput("op", "bad"), ExitUsage},
		{"wrapped command", NewCommandError("run", compassErrors.Configuration("op", "bad")), ExitUsage},
		{"not found", compassErrors.NotFound("op", "missing"), ExitFailed},
		{"plain", errors.New("boom"), ExitFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExitCode(tt.err); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
		})
	}
}
