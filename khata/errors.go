/*
errors.go - Error taxonomy of the ledger engine

PURPOSE:
  Every failure the engine reports falls into one of four kinds. Callers
  classify with errors.Is against the sentinels; structured errors carry
  the detail and unwrap to their sentinel.

ERROR KINDS:
  ErrNotFound            customer / transaction missing or owned by someone else
  ErrInvalidArgument     bad amount, bad type, empty allocation
  ErrConcurrencyConflict a concurrent writer updated the customer first
  ErrStoreFailure        persistence failed (disk, network, driver)

PROPAGATION:
  Errors are returned unchanged to the caller. Only ErrConcurrencyConflict
  is worth retrying, and retrying is the caller's decision.

SEE ALSO:
  - api/handlers.go: maps each kind to an HTTP status
*/
package khata

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrNotFound is returned when a customer or transaction does not exist
	// or does not belong to the requesting owner.
	ErrNotFound = errors.New("not found")

	// ErrInvalidArgument is returned for input that violates a ledger rule.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrConcurrencyConflict is returned when the customer record changed
	// between read and write. Safe to retry.
	ErrConcurrencyConflict = errors.New("concurrent modification detected")

	// ErrStoreFailure is returned when the underlying store fails.
	ErrStoreFailure = errors.New("store failure")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidArgument }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "customer" or "transaction"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// StoreError wraps a persistence failure with the operation that failed.
// It matches both ErrStoreFailure and the underlying cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() []error { return []error{ErrStoreFailure, e.Err} }

// WrapStoreError classifies a raw store error. Errors that already belong to
// the taxonomy pass through untouched.
func WrapStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrStoreFailure) {
		return err
	}
	return &StoreError{Op: op, Err: err}
}

// CustomerNotFound is the error stores return for a missing customer.
func CustomerNotFound(id CustomerID) error {
	return &NotFoundError{Kind: "customer", ID: string(id)}
}

// GroupShareNotFound is the error stores return for a missing group share.
func GroupShareNotFound(key string) error {
	return &NotFoundError{Kind: "group", ID: key}
}

// TransactionNotFound is the error stores return for a missing transaction.
func TransactionNotFound(id TransactionID) error {
	return &NotFoundError{Kind: "transaction", ID: string(id)}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
