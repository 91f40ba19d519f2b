/*
errors.go - Error taxonomy for the ledger

PURPOSE:
  Every failure a ledger operation can surface maps to exactly one Kind.
  Callers use errors.Is against the sentinels, or ErrorKindOf to render a
  message and decide whether a retry makes sense.

KINDS:
  unauthorized          actor lacks the capability
  not_found             balance, transaction or session absent
  inactive              debit attempted on an inactive balance
  insufficient_funds    hours debit would go negative
  validation            malformed input, rejected before any write
  generation_exhausted  identifier allocation ran out of attempts
  persistence           store I/O failure, including failed commits

RETRIES:
  Only persistence failures are retryable. Everything else needs changed
  input. Optimistic-concurrency conflicts are retried inside the service's
  unit of work; when the retry budget runs out they surface as persistence.

SEE ALSO:
  - validator.go: Produces InsufficientFundsError and ValidationError
  - service.go:   Wraps store failures with asPersistence
*/
package ledger

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrNotFound            = errors.New("not found")
	ErrInactive            = errors.New("balance is inactive")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrValidation          = errors.New("validation failed")
	ErrGenerationExhausted = errors.New("identifier generation exhausted")
	ErrPersistence         = errors.New("persistence failure")

	// ErrConcurrentModification is returned by stores when the version of a
	// balance changed between read and write.
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// ErrDuplicateID is returned by stores when an insert collides with an
	// existing primary key.
	ErrDuplicateID = errors.New("duplicate identifier")
)

// ErrorKind names a taxonomy bucket.
type ErrorKind string

const (
	KindUnknown             ErrorKind = "unknown"
	KindUnauthorized        ErrorKind = "unauthorized"
	KindNotFound            ErrorKind = "not_found"
	KindInactive            ErrorKind = "inactive"
	KindInsufficientFunds   ErrorKind = "insufficient_funds"
	KindValidation          ErrorKind = "validation"
	KindGenerationExhausted ErrorKind = "generation_exhausted"
	KindPersistence         ErrorKind = "persistence"
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// InsufficientFundsError details an hours debit that would go negative.
type InsufficientFundsError struct {
	BalanceID BalanceID
	Available decimal.Decimal
	Requested decimal.Decimal
}

func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds on %s: available %s, requested %s, shortfall %s",
		e.BalanceID, e.Available, e.Requested, e.Shortfall())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// PersistenceError wraps a backing store failure. It matches both
// ErrPersistence and the underlying cause.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() []error { return []error{ErrPersistence, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// ErrorKindOf classifies err. Nil maps to "".
func ErrorKindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInactive):
		return KindInactive
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrGenerationExhausted):
		return KindGenerationExhausted
	case errors.Is(err, ErrPersistence), errors.Is(err, ErrConcurrentModification):
		return KindPersistence
	}
	return KindUnknown
}

// IsRetryable reports whether the same call might succeed later.
func IsRetryable(err error) bool {
	return ErrorKindOf(err) == KindPersistence
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	switch ErrorKindOf(err) {
	case KindUnauthorized, KindNotFound, KindInactive, KindInsufficientFunds, KindValidation:
		return true
	}
	return false
}

// asPersistence leaves taxonomy errors alone and wraps everything else.
func asPersistence(op string, err error) error {
	if err == nil {
		return nil
	}
	if k := ErrorKindOf(err); k != KindUnknown {
		if errors.Is(err, ErrConcurrentModification) && !errors.Is(err, ErrPersistence) {
			return &PersistenceError{Op: op, Err: err}
		}
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

func notFound(what string, id any) error {
	return fmt.Errorf("%w: %s %v", ErrNotFound, what, id)
}
