package ledger

import (
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// =============================================================================
// INPUT BOUNDS
// =============================================================================

var (
	MinInitialAmount = decimal.NewFromFloat(0.5)
	MaxInitialAmount = decimal.NewFromInt(1000)

	// MinEntryAmount is five minutes expressed in hours.
	MinEntryAmount = decimal.RequireFromString("0.083")
	MaxEntryAmount = decimal.NewFromInt(24)
)

const (
	MinTitleLength = 2
	MaxTextLength  = 500
)

// =============================================================================
// TRANSACTION VALIDATOR
// =============================================================================

// Validate decides whether amount may be debited from b and returns the
// balance amount after the debit. It never mutates b.
//
// Rules, in order:
//   - b must be active, whatever the amount
//   - amount must be positive
//   - hours balances may not go below zero
//
// Credits balances are allowed to go negative.
func Validate(b *Balance, amount decimal.Decimal) (decimal.Decimal, error) {
	if b == nil {
		return decimal.Zero, notFound("balance", "")
	}
	if !b.IsActive() {
		return decimal.Zero, &inactiveError{id: b.ID}
	}
	if !amount.IsPositive() {
		return decimal.Zero, invalid("amount", "must be greater than zero")
	}

	next := b.CurrentAmount.Sub(amount)
	if b.Kind == KindHours && next.IsNegative() {
		return decimal.Zero, &InsufficientFundsError{
			BalanceID: b.ID,
			Available: b.CurrentAmount,
			Requested: amount,
		}
	}
	return next, nil
}

type inactiveError struct{ id BalanceID }

func (e *inactiveError) Error() string { return "balance " + string(e.id) + " is inactive" }
func (e *inactiveError) Unwrap() error { return ErrInactive }

// Validate checks a log entry's fields independent of any balance.
func (e LogEntry) Validate() error {
	if err := e.validateDetails(); err != nil {
		return err
	}
	return validateEntryAmount(e.Amount)
}

// validateDetails checks everything but the amount. The amount is checked
// once the balance is known to be active.
func (e LogEntry) validateDetails() error {
	if utf8.RuneCountInString(strings.TrimSpace(e.Title)) < MinTitleLength {
		return invalid("title", "must be at least %d characters", MinTitleLength)
	}
	if e.Category != "" && !e.Category.Valid() {
		return invalid("category", "unknown category %q", e.Category)
	}
	if e.ServiceDate.IsZero() {
		return invalid("serviceDate", "is required")
	}
	if utf8.RuneCountInString(e.Notes) > MaxTextLength {
		return invalid("notes", "must be at most %d characters", MaxTextLength)
	}
	return nil
}

// Validate checks a creation request.
func (n NewBalance) Validate() error {
	if strings.TrimSpace(n.CustomerID) == "" {
		return invalid("customerId", "is required")
	}
	if !n.Kind.Valid() {
		return invalid("kind", "must be %q or %q", KindHours, KindCredits)
	}
	if n.InitialAmount.LessThan(MinInitialAmount) {
		return invalid("initialAmount", "must be at least %s", MinInitialAmount)
	}
	if n.InitialAmount.GreaterThan(MaxInitialAmount) {
		return invalid("initialAmount", "must be at most %s", MaxInitialAmount)
	}
	if utf8.RuneCountInString(n.Notes) > MaxTextLength {
		return invalid("notes", "must be at most %d characters", MaxTextLength)
	}
	return nil
}

// Validate checks a partial update.
func (u BalanceUpdate) Validate() error {
	if u.Status != nil && !u.Status.Valid() {
		return invalid("status", "unknown status %q", *u.Status)
	}
	if u.CustomerID != nil && strings.TrimSpace(*u.CustomerID) == "" {
		return invalid("customerId", "must not be empty")
	}
	if u.Notes != nil && utf8.RuneCountInString(*u.Notes) > MaxTextLength {
		return invalid("notes", "must be at most %d characters", MaxTextLength)
	}
	if u.ClearExpiry && u.ExpiryDate != nil {
		return invalid("expiryDate", "cannot set and clear in one update")
	}
	return nil
}

func validateEntryAmount(amount decimal.Decimal) error {
	if amount.LessThan(MinEntryAmount) {
		return invalid("amount", "must be at least %s", MinEntryAmount)
	}
	if amount.GreaterThan(MaxEntryAmount) {
		return invalid("amount", "must be at most %s", MaxEntryAmount)
	}
	return nil
}
