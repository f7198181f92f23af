package availability

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidTimezone       = errors.New("invalid timezone")
	ErrMissingField          = errors.New("missing required field")
	ErrInvalidField          = errors.New("invalid field value")
	ErrNormalization         = errors.New("window normalization failed")
	ErrUnresolvableLocalTime = errors.New("local time does not exist in timezone")
	ErrConflictDetected      = errors.New("availability windows overlap")
)

// NormalizationError wraps the time math failure behind a rejected window.
type NormalizationError struct {
	Field string
	Err   error
}

func (e *NormalizationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("normalize window: %v", e.Err)
	}
	return fmt.Sprintf("normalize window %s: %v", e.Field, e.Err)
}

func (e *NormalizationError) Unwrap() error { return e.Err }

func (e *NormalizationError) Is(target error) bool { return target == ErrNormalization }

// ConflictError carries the report that blocked a write.
type ConflictError struct {
	Report ConflictReport
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s: %s", ErrConflictDetected, strings.Join(e.Report.Overlaps, "; "))
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflictDetected }

// FieldError reports a single rejected input field.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Err.Error() }

func (e *FieldError) Unwrap() error { return e.Err }

func missing(field string) error {
	return &FieldError{Field: field, Err: ErrMissingField}
}

func invalid(field, format string, args ...any) error {
	return &FieldError{Field: field, Err: fmt.Errorf("%w: %s", ErrInvalidField, fmt.Sprintf(format, args...))}
}
