// Package apperr defines the error taxonomy shared by the session, turn and
// grading services and mapped to HTTP statuses by the API layer.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrForbidden       = errors.New("forbidden")
	// ErrConflict marks a mutation that lost a race with another mutation of
	// the same session. Retrying after re-reading the session is safe.
	ErrConflict = errors.New("conflict")
)

// Invalid returns an ErrInvalidArgument carrying a caller-facing message.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// NotFound returns an ErrNotFound naming the missing entity.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// ProviderError reports a failed or timed-out completion call. No state is
// written when it is returned, so the operation can be retried.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("completion provider failed during %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// PersistError reports a store write that failed after the provider had
// already produced output. Output holds that text so it is not lost.
type PersistError struct {
	SessionID string
	Output    string
	Err       error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("persisting session %s: %v", e.SessionID, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}

// IsProvider reports whether err wraps a ProviderError.
func IsProvider(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe)
}
