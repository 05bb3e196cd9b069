package errors

import (
	"errors"
	"fmt"
)

// Kind categorizes an error.
type Kind string

const (
	KindInvalidInput  Kind = "invalid_input"
	KindConfiguration Kind = "configuration"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
)

// Sentinel errors that can be checked with errors.Is().
var (
	// ErrInvalidInput is matched by every KindInvalidInput error.
	ErrInvalidInput = errors.New("invalid input")

	// ErrConfiguration is matched by every KindConfiguration error.
	ErrConfiguration = errors.New("configuration error")

	// ErrConflict is matched by every KindConflict error.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is matched by every KindNotFound error.
	ErrNotFound = errors.New("not found")
)

// Error is a categorized error carrying the operation that failed.
type Error struct {
	// Kind is the failure category.
	Kind Kind

	// Op names the operation, e.g. "estimator.Update".
	Op string

	// Message describes the failure.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is().
func (e *Error) Is(target error) bool {
	return target == sentinel(e.Kind)
}

func sentinel(k Kind) error {
	switch k {
	case KindInvalidInput:
		return ErrInvalidInput
	case KindConfiguration:
		return ErrConfiguration
	case KindConflict:
		return ErrConflict
	case KindNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

func newf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// InvalidInput returns a KindInvalidInput error.
func InvalidInput(op, format string, args ...any) *Error {
	return newf(KindInvalidInput, op, format, args...)
}

// Configuration returns a KindConfiguration error.
func Configuration(op, format string, args ...any) *Error {
	return newf(KindConfiguration, op, format, args...)
}

// Conflict returns a KindConflict error.
func Conflict(op, format string, args ...any) *Error {
	return newf(KindConflict, op, format, args...)
}

// NotFound returns a KindNotFound error.
func NotFound(op, format string, args ...any) *Error {
	return newf(KindNotFound, op, format, args...)
}

// Wrap attaches kind and op to an existing error.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Message: string(kind), Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
