package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorIs(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		target  error
		matches bool
	}{
		{"invalid input", InvalidInput("op", "bad %d", 1), ErrInvalidInput, true},
		{"configuration", Configuration("op", "bad"), ErrConfiguration, true},
		{"conflict", Conflict("op", "dup"), ErrConflict, true},
		{"not found", NotFound("op", "missing"), ErrNotFound, true},
		{"kind mismatch", NotFound("op", "missing"), ErrConflict, false},
		{"wrapped", fmt.Errorf("outer: %w", InvalidInput("op", "x")), ErrInvalidInput, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := errors.Is(tt.err, tt.target); got != tt.matches {
				t.Errorf("errors.Is() = %v, want %v", got, tt.matches)
			}
		})
	}
}

func TestErrorMessage(t *testing.T) {
	err := InvalidInput("estimator.Update", "reward is %v", "NaN")
	if got, want := err.Error(), "estimator.Update: reward is NaN"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	cause := errors.New("disk full")
	wrapped := Wrap(KindConfiguration, "config.Load", cause)
	if !errors.Is(wrapped, cause) {
		t.Error("wrapped error should unwrap to its cause")
	}
	if !errors.Is(wrapped, ErrConfiguration) {
		t.Error("wrapped error should match ErrConfiguration")
	}
	if Wrap(KindConflict, "op", nil) != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestKindOf(t *testing.T) {
	if got := KindOf(fmt.Errorf("ctx: %w", Conflict("op", "dup"))); got != KindConflict {
		t.Errorf("KindOf() = %q, want %q", got, KindConflict)
	}
	if got := KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}
