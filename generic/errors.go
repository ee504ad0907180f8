/*
errors.go - Centralized error types for the generic engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages wrap these errors with additional context, and the API
  maps them onto HTTP status codes.

ERROR CATEGORIES:
  1. Ledger errors - Transaction persistence failures
  2. Validation errors - Business rule violations (amounts, ranges, fields)
  3. Store errors - Missing or conflicting records

USAGE:
  if errors.Is(err, generic.ErrPaymentOutOfRange) {
      var rangeErr *generic.PaymentRangeError
      errors.As(err, &rangeErr)
      ...
  }

SEE ALSO:
  - ledger.go: Uses these errors
  - billing/payment.go: Payment range validation
  - api/handlers.go: Error to HTTP status mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateIdempotencyKey is returned when a transaction with the same
	// idempotency key already exists. This is expected behavior for retries.
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

	// ErrTransactionFailed is returned when a transaction cannot be persisted.
	ErrTransactionFailed = errors.New("transaction failed")

	// ErrNotFound is returned when a referenced record doesn't exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidAmount is returned for non-numeric or out-of-bounds money input.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrPaymentOutOfRange is returned when a payment is not in (0, remaining].
	ErrPaymentOutOfRange = errors.New("payment out of range")

	// ErrAlreadyPaid is returned when paying or editing a settled bill.
	ErrAlreadyPaid = errors.New("bill already paid")

	// ErrAlreadyReversed is returned when reversing a payment twice.
	ErrAlreadyReversed = errors.New("transaction already reversed")

	// ErrInvalidPeriod is returned when a period is malformed (end before start).
	ErrInvalidPeriod = errors.New("invalid period: end before start")

	// ErrValidation is returned when input fails a field rule.
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied is returned when the caller may not see a resource.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrConflict is returned when a unique record already exists.
	ErrConflict = errors.New("conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PaymentRangeError explains why a payment amount was refused.
type PaymentRangeError struct {
	Requested Amount
	Remaining Amount
}

func (e *PaymentRangeError) Error() string {
	if !e.Requested.IsPositive() {
		return "payment amount must be greater than zero"
	}
	return fmt.Sprintf("payment amount %s exceeds the remaining balance of %s",
		e.Requested.Value.StringFixed(CentsPlaces), e.Remaining.Value.StringFixed(CentsPlaces))
}

func (e *PaymentRangeError) Unwrap() error {
	return ErrPaymentOutOfRange
}

// ValidationError reports a single offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NotFoundError names the kind and ID of the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// NewNotFound is a shorthand used by stores.
func NewNotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrPaymentOutOfRange) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidPeriod)
}

// IsConflict returns true if the request clashes with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateIdempotencyKey) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAlreadyPaid) ||
		errors.Is(err, ErrAlreadyReversed)
}

// IsNotFound returns true if the error indicates a missing or hidden resource.
// Permission failures are reported the same way.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrPermissionDenied)
}
