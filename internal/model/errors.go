package model

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidCode = errors.New("invalid invitation code")
)

// ValidationError reports bad input shape. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid is shorthand for a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError is returned when a lifecycle operation is not
// allowed from the meeting's current status.
type InvalidTransitionError struct {
	MeetingID string
	From      MeetingStatus
	Op        string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("meeting %s: cannot %s from status %q", e.MeetingID, e.Op, e.From)
}

// ConfirmationError explains why a date could not be confirmed.
type ConfirmationError struct {
	MeetingID string
	Reason    string
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("meeting %s: cannot confirm: %s", e.MeetingID, e.Reason)
}

// TransportFailure wraps a failed send to one recipient.
type TransportFailure struct {
	Email    string
	Attempts int
	Err      error
}

func (e *TransportFailure) Error() string {
	return fmt.Sprintf("send to %s failed after %d attempt(s): %v", e.Email, e.Attempts, e.Err)
}

func (e *TransportFailure) Unwrap() error { return e.Err }

// TransientReadFailure wraps an inbox read error that may succeed on retry.
type TransientReadFailure struct {
	Err error
}

func (e *TransientReadFailure) Error() string { return "transient read failure: " + e.Err.Error() }
func (e *TransientReadFailure) Unwrap() error { return e.Err }

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
