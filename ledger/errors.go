/*
errors.go - Centralized error types for the stock engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers match with errors.Is / errors.As; the HTTP layer maps these
  to status codes.

ERROR CATEGORIES:
  1. Stock errors     - Refused quantity mutations
  2. Resolver errors  - Brand disambiguation failures
  3. Rollback errors  - Reversal precondition failures
  4. Validation       - Missing key fields, malformed quantities
  5. Storage I/O      - The only class treated as a system fault

Every error here is an expected business-rule rejection, surfaced to the
operator as a message. Storage failures are wrapped with %w and logged.

SEE ALSO:
  - ledger.go:   Returns stock/resolver/validation errors
  - rollback.go: Returns rollback errors
*/
package ledger

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInsufficientStock is returned when a decrease exceeds the on-hand
	// quantity (or targets a key with no record). Expected and recoverable:
	// the operator re-enters a smaller quantity.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrAmbiguousBrand is returned when a brand-less write matches more
	// than one brand at the given key. The candidate list is surfaced so
	// the caller can re-prompt.
	ErrAmbiguousBrand = errors.New("ambiguous brand")

	// ErrNotFound is returned when a referenced audit entry doesn't exist.
	ErrNotFound = errors.New("audit entry not found")

	// ErrAlreadyReversed is returned when rolling back an entry whose
	// rollback flag is already set. The transition is one-way and one-time.
	ErrAlreadyReversed = errors.New("entry already reversed")

	// ErrNotReversible is returned for event types outside the eligible
	// set (reversals and damage deductions cannot be rolled back).
	ErrNotReversible = errors.New("entry type is not reversible")

	// ErrNothingToRollback is returned when a batch rollback selects no
	// non-reversed entries.
	ErrNothingToRollback = errors.New("nothing to roll back")

	// ErrDuplicateEntry is returned when an audit append reuses an
	// idempotency key. Expected behavior for client retries.
	ErrDuplicateEntry = errors.New("duplicate idempotency key")

	// ErrValidation is the sentinel wrapped by ValidationError.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownEventType is returned when stored history carries an event
	// type outside the closed set. Legacy data must be migrated, not
	// silently accepted.
	ErrUnknownEventType = errors.New("unknown event type")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientStockError reports a refused decrease with the shortfall.
type InsufficientStockError struct {
	Key       StockKey
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock at %s/%s for %s: available %s, requested %s",
		e.Key.Warehouse, e.Key.Location, e.Key.ItemCode,
		e.Available.String(), e.Requested.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// AmbiguousBrandError carries the distinct brands found so the operator
// can be re-prompted with the choices.
type AmbiguousBrandError struct {
	Key    StockKey // brand field empty
	Brands []string
}

func (e *AmbiguousBrandError) Error() string {
	return fmt.Sprintf("multiple brands at %s/%s for %s: %s",
		e.Key.Warehouse, e.Key.Location, e.Key.ItemCode,
		strings.Join(e.Brands, ", "))
}

func (e *AmbiguousBrandError) Unwrap() error { return ErrAmbiguousBrand }

// ValidationError reports a rejected input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// UnknownEventTypeError reports a legacy history value outside the closed
// event set.
type UnknownEventTypeError struct {
	Value string
}

func (e *UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type %q", e.Value)
}

func (e *UnknownEventTypeError) Unwrap() error { return ErrUnknownEventType }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is an expected business-rule
// rejection caused by the request, not a system fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrAmbiguousBrand) ||
		errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrDuplicateEntry) ||
		errors.Is(err, ErrNothingToRollback)
}

// IsNotFound returns true if the error indicates a missing entry.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict returns true for rollback-state conflicts and idempotency
// rejections, mapped to HTTP 409 by the API layer.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyReversed) ||
		errors.Is(err, ErrNotReversible) ||
		errors.Is(err, ErrDuplicateEntry)
}
