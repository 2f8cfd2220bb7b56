// Package apperr defines the error taxonomy shared by every automation component.
// Domain packages wrap these sentinels so callers classify failures with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned for malformed input. It is rejected synchronously
	// and never recorded as an action.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a referenced entity does not exist in the workspace.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict is returned when an entity is not in the state a transition requires.
	// Callers may retry after re-fetching.
	ErrStateConflict = errors.New("state conflict")
	// ErrRateLimited is returned when a safety limit (pause, hourly or daily cap) blocks an action.
	ErrRateLimited = errors.New("rate limited")
	// ErrHandlerFailure is returned when a module action handler fails or times out.
	ErrHandlerFailure = errors.New("handler failure")
)

// Invalid wraps a validation error as ErrInvalidArgument while keeping the original
// error reachable through errors.As.
func Invalid(err error) error {
	if err == nil {
		return nil
	}
	return &wrapped{kind: ErrInvalidArgument, err: err}
}

// Invalidf formats a message and classifies it as ErrInvalidArgument.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

type wrapped struct {
	kind error
	err  error
}

func (w *wrapped) Error() string {
	return w.kind.Error() + ": " + w.err.Error()
}

func (w *wrapped) Unwrap() []error {
	return []error{w.kind, w.err}
}

// Code returns a stable machine-readable code for an error, used by the API envelope.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return "INVALID_ARGUMENT"
	case errors.Is(err, ErrNotFound):
		return "NOT_FOUND"
	case errors.Is(err, ErrStateConflict):
		return "STATE_CONFLICT"
	case errors.Is(err, ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, ErrHandlerFailure):
		return "HANDLER_FAILURE"
	default:
		return "INTERNAL"
	}
}
