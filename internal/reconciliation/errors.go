package reconciliation

import (
	"errors"
	"fmt"
)

// Common reconciliation errors
var (
	// ErrMissingColumn is returned when a required bank export column is absent.
	ErrMissingColumn = errors.New("missing required column")

	// ErrAmbiguousColumn is returned when two columns map onto the same field.
	ErrAmbiguousColumn = errors.New("ambiguous column mapping")

	// ErrEmptyInput is returned when the bank export has no header.
	ErrEmptyInput = errors.New("empty bank export")

	// ErrInvalidDate is returned for dates no known format accepts.
	ErrInvalidDate = errors.New("invalid date")

	// ErrAmbiguousDate is returned when day and month order cannot be decided.
	ErrAmbiguousDate = errors.New("ambiguous date")

	// ErrInvalidAmount is returned for amounts that are not exact decimals.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrAmbiguousAmount is returned when a lone separator could be either a
	// decimal mark or a thousands separator.
	ErrAmbiguousAmount = errors.New("ambiguous amount")

	// ErrMissingValue is returned when a required cell is empty.
	ErrMissingValue = errors.New("missing value")

	// ErrDuplicateTransaction is returned for a transaction id seen earlier in the batch.
	ErrDuplicateTransaction = errors.New("duplicate transaction id")

	// ErrNotDeposit marks rows filtered out because they are not incoming payments.
	ErrNotDeposit = errors.New("not a deposit")

	// ErrMalformedResponse is returned when the matching capability's payload is unusable.
	ErrMalformedResponse = errors.New("malformed match response")

	// ErrRejectedMatch is returned when a rejected match is used where an accepted one is required.
	ErrRejectedMatch = errors.New("match was rejected")

	// ErrUnknownReference is returned when an accepted match points at nothing.
	ErrUnknownReference = errors.New("unknown reference")

	// ErrMalformedLedgerRow is returned for ledger rows that cannot be read back.
	ErrMalformedLedgerRow = errors.New("malformed ledger row")
)

// SchemaError reports missing input structure. It is fatal to the batch.
type SchemaError struct {
	// Op is the operation that failed (e.g., "Normalize").
	Op string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("reconciliation: %s: schema error: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("reconciliation: %s: schema error: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *SchemaError) Unwrap() error {
	return e.Err
}

// Is implements error matching for Go 1.13+ error handling.
func (e *SchemaError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewSchemaError creates a new SchemaError.
func NewSchemaError(op string, err error, details string) *SchemaError {
	return &SchemaError{Op: op, Err: err, Details: details}
}

// RowError reports a single record that failed to parse. The row is skipped
// and the batch continues.
type RowError struct {
	Row     int
	Err     error
	Details string
}

// Error implements the error interface.
func (e *RowError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("row %d: %v: %s", e.Row, e.Err, e.Details)
	}
	return fmt.Sprintf("row %d: %v", e.Row, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *RowError) Unwrap() error {
	return e.Err
}

// NewRowError creates a new RowError.
func NewRowError(row int, err error, details string) *RowError {
	return &RowError{Row: row, Err: err, Details: details}
}

// MatchingUnavailableError reports that the matching capability could not be
// reached or kept returning unusable data after all retries.
type MatchingUnavailableError struct {
	Op       string
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *MatchingUnavailableError) Error() string {
	return fmt.Sprintf("reconciliation: %s: matching unavailable after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *MatchingUnavailableError) Unwrap() error {
	return e.Err
}

// NewMatchingUnavailableError creates a new MatchingUnavailableError.
func NewMatchingUnavailableError(op string, attempts int, err error) *MatchingUnavailableError {
	return &MatchingUnavailableError{Op: op, Attempts: attempts, Err: err}
}

// InvalidStateError reports a violated precondition. It is a programming
// error, not a data error.
type InvalidStateError struct {
	Op      string
	Err     error
	Details string
}

// Error implements the error interface.
func (e *InvalidStateError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("reconciliation: %s: invalid state: %s: %v", e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("reconciliation: %s: invalid state: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *InvalidStateError) Unwrap() error {
	return e.Err
}

// NewInvalidStateError creates a new InvalidStateError.
func NewInvalidStateError(op string, err error, details string) *InvalidStateError {
	return &InvalidStateError{Op: op, Err: err, Details: details}
}

// IsMatchingUnavailable reports whether err is or wraps a MatchingUnavailableError.
func IsMatchingUnavailable(err error) bool {
	var target *MatchingUnavailableError
	return errors.As(err, &target)
}
