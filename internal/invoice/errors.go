package invoice

import (
	"errors"
	"fmt"
)

// Common invoice index errors
var (
	// ErrMissingColumn is returned when the seed data lacks a required column.
	ErrMissingColumn = errors.New("missing required invoice column")

	// ErrInvalidRecord is returned when a seed row cannot be turned into a Record.
	ErrInvalidRecord = errors.New("invalid invoice record")

	// ErrInvalidProjectID is returned when an identifier has no canonical project form.
	ErrInvalidProjectID = errors.New("invalid project id")

	// ErrInvalidPeriod is returned when a billing period cannot be parsed.
	ErrInvalidPeriod = errors.New("invalid billing period")

	// ErrUnsupportedFormat is returned when the invoice source format is unknown.
	ErrUnsupportedFormat = errors.New("unsupported invoice source format")
)

// IndexError wraps errors with context about invoice index loading failures.
type IndexError struct {
	// Op is the operation that failed (e.g., "LoadSeedCSV").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *IndexError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("invoice: %s failed: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("invoice: %s failed: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *IndexError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *IndexError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewIndexError creates a new IndexError with the specified operation and underlying error.
func NewIndexError(op string, err error, details string) *IndexError {
	return &IndexError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}
