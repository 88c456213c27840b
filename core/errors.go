/*
errors.go - Error taxonomy for the consistency engine

PURPOSE:
  All business-rule failures are returned as typed errors; the request layer
  decides how to present them. Structured errors carry context and unwrap to
  a sentinel so callers can use errors.Is() without caring about the shape.

ERROR CATEGORIES:
  1. Client errors   - ValidationError, InsufficientStockError, NotFoundError,
                       InvalidStateError, AlreadyClosedError
  2. Conflict errors - ConflictError (invariant contested under concurrency)
  3. Infrastructure  - InfrastructureError (store unreachable, driver failure)
  4. Store signals   - ErrDuplicateCorrelationKey, ErrSessionAlreadyOpen,
                       ErrLockConflict (raised by Store implementations)

NOT AN ERROR:
  Recognizing an already-recognized event. See RecognitionResult.Noop.

SEE ALSO:
  - retry.go: which errors are retried
  - api/handlers.go: HTTP status mapping
*/
package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflict")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyClosed     = errors.New("session already closed")
	ErrInvalidState      = errors.New("invalid state transition")
	ErrInfrastructure    = errors.New("infrastructure failure")

	// ErrDuplicateCorrelationKey is returned by a Store when an entry with the
	// same correlation key already exists.
	ErrDuplicateCorrelationKey = errors.New("duplicate correlation key")

	// ErrSessionAlreadyOpen is returned by a Store when inserting an open
	// session while another one is open.
	ErrSessionAlreadyOpen = errors.New("a cash session is already open")

	// ErrLockConflict is a transient store conflict (busy database,
	// serialization failure, deadlock). It is retried a bounded number of times.
	ErrLockConflict = errors.New("transient lock conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes malformed input.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InsufficientStockError is an expected business outcome, not a defect.
type InsufficientStockError struct {
	StockItemID StockItemID
	OnHand      int64
	Requested   int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: on hand %d, requested %d",
		e.StockItemID, e.OnHand, e.Requested)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// NotFoundError names the kind and id of a missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError is an illegal state-machine transition.
type InvalidStateError struct {
	Kind   string
	ID     string
	State  string
	Action string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s %s in state %q", e.Action, e.Kind, e.ID, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// AlreadyClosedError is returned when closing a session twice.
// It matches both ErrAlreadyClosed and ErrInvalidState.
type AlreadyClosedError struct {
	SessionID SessionID
	ClosedAt  time.Time
}

func (e *AlreadyClosedError) Error() string {
	return fmt.Sprintf("session %s already closed at %s", e.SessionID, e.ClosedAt.Format(time.RFC3339))
}

func (e *AlreadyClosedError) Unwrap() []error {
	return []error{ErrAlreadyClosed, ErrInvalidState}
}

// ConflictError is an invariant contested under concurrency.
type ConflictError struct {
	Op    string
	Cause error
}

func (e *ConflictError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: conflict", e.Op)
	}
	return fmt.Sprintf("%s: conflict: %v", e.Op, e.Cause)
}

func (e *ConflictError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrConflict}
	}
	return []error{ErrConflict, e.Cause}
}

// InfrastructureError wraps a store failure. The operation wrote nothing.
type InfrastructureError struct {
	Op    string
	Cause error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: infrastructure failure: %v", e.Op, e.Cause)
}

func (e *InfrastructureError) Unwrap() []error {
	return []error{ErrInfrastructure, e.Cause}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockConflict) || errors.Is(err, ErrDuplicateCorrelationKey)
}

// IsClientError returns true if the error is due to the request itself.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidState)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// isBusiness reports whether err is a known domain outcome that must reach
// the caller untouched.
func isBusiness(err error) bool {
	return IsClientError(err) || IsNotFound(err) ||
		errors.Is(err, ErrConflict) || errors.Is(err, ErrSessionAlreadyOpen)
}

// maxMoney is the first value that no longer fits NUMERIC(14,2).
var maxMoney = decimal.New(1, 12)

func positive(field string, d decimal.Decimal) error {
	if !d.IsPositive() {
		return &ValidationError{Field: field, Reason: "must be greater than zero"}
	}
	return money(field, d)
}

func nonNegative(field string, d decimal.Decimal) error {
	if d.IsNegative() {
		return &ValidationError{Field: field, Reason: "must not be negative"}
	}
	return money(field, d)
}

// money rejects values the stores would round or overflow. Both backends
// must see exactly what the caller sent.
func money(field string, d decimal.Decimal) error {
	if err := cents(field, d); err != nil {
		return err
	}
	if d.Abs().GreaterThanOrEqual(maxMoney) {
		return &ValidationError{Field: field, Reason: "is too large"}
	}
	return nil
}

func cents(field string, d decimal.Decimal) error {
	if !d.Equal(d.Truncate(2)) {
		return &ValidationError{Field: field, Reason: "must have at most 2 decimal places"}
	}
	return nil
}
