/*
Package ledger provides the prepaid balance ledger and transaction engine.

PURPOSE:
  Customers hold prepaid balances of hours or credits. Staff log work
  against a balance, and every logged entry debits the balance in the same
  atomic unit of work that records the entry. This package owns those rules:
  identifier allocation, health classification, debit validation, role
  scoping, history correction and change notification.

KEY CONCEPTS IN THIS FILE (types.go):
  - Balance:     One prepaid account for one customer
  - Transaction: One debit against a balance (a "time entry")
  - Kind:        hours | credits (fixed at creation)
  - Status:      active | inactive (only active balances accept debits)

DESIGN PRINCIPLES:
  1. Precision: amounts are decimal.Decimal, never float64
  2. Immutability: kind, initial amount, owning balance and creator never
     change once written
  3. Optimistic concurrency: every balance carries a Version that the
     store checks on write

USAGE:
  svc := ledger.NewService(store.NewMemory())
  b, err := svc.Create(ctx, staff, ledger.NewBalance{
      CustomerID:    "cust-1",
      Kind:          ledger.KindHours,
      InitialAmount: decimal.NewFromInt(10),
  })
  remaining, err := svc.LogTransaction(ctx, staff, b.ID, ledger.LogEntry{...})

SEE ALSO:
  - service.go: Ledger Store operations
  - store.go:   Persistence contract
  - errors.go:  Error taxonomy
*/
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

// BalanceID is the human-legible balance code, e.g. "BAL00412345".
type BalanceID string

// TransactionID identifies a single transaction record.
type TransactionID string

// =============================================================================
// BALANCE
// =============================================================================

// Kind is the unit a balance is denominated in.
type Kind string

const (
	KindHours   Kind = "hours"
	KindCredits Kind = "credits"
)

func (k Kind) Valid() bool { return k == KindHours || k == KindCredits }

// BalanceStatus is the lifecycle state of a balance.
type BalanceStatus string

const (
	StatusActive   BalanceStatus = "active"
	StatusInactive BalanceStatus = "inactive"
)

func (s BalanceStatus) Valid() bool { return s == StatusActive || s == StatusInactive }

// Balance is one prepaid account for one customer.
//
// INVARIANTS:
//   - CurrentAmount is always set once the balance exists
//   - InitialAmount and Kind never change after creation
//   - Only an active balance accepts new transactions
type Balance struct {
	ID            BalanceID
	CustomerID    string
	Kind          Kind
	InitialAmount decimal.Decimal
	CurrentAmount decimal.Decimal
	Status        BalanceStatus
	ExpiryDate    *time.Time
	Notes         string

	CreatedAt time.Time
	CreatedBy string
	UpdatedAt time.Time

	// Version is the optimistic-concurrency token. Stores reject a write
	// whose Version does not match the stored one.
	Version int64
}

func (b Balance) IsActive() bool { return b.Status == StatusActive }

// NewBalance is the input for creating a balance.
type NewBalance struct {
	CustomerID    string
	Kind          Kind
	InitialAmount decimal.Decimal
	ExpiryDate    *time.Time
	Notes         string
}

// BalanceUpdate is a partial update. Nil fields are left untouched.
// Kind and InitialAmount cannot be changed.
type BalanceUpdate struct {
	CustomerID  *string
	Status      *BalanceStatus
	ExpiryDate  *time.Time
	ClearExpiry bool
	Notes       *string
}

// =============================================================================
// TRANSACTION
// =============================================================================

// Category classifies the work a transaction was logged for.
type Category string

const (
	CategoryDevelopment Category = "development"
	CategoryDesign      Category = "design"
	CategoryConsulting  Category = "consulting"
	CategorySupport     Category = "support"
	CategoryOther       Category = "other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryDevelopment, CategoryDesign, CategoryConsulting, CategorySupport, CategoryOther:
		return true
	}
	return false
}

// Transaction is one debit against a balance.
type Transaction struct {
	ID          TransactionID
	BalanceID   BalanceID
	CustomerID  string // denormalized from the balance at creation
	Title       string
	Category    Category
	Amount      decimal.Decimal
	ServiceDate time.Time
	Notes       string
	FeatureID   string // optional link to an external work item

	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time

	// Corrected is set once the amount has been amended after the fact.
	Corrected bool
}

// LogEntry is the caller-supplied part of a transaction.
type LogEntry struct {
	Title       string
	Category    Category
	Amount      decimal.Decimal
	ServiceDate time.Time
	Notes       string
	FeatureID   string
}

// =============================================================================
// RECONCILIATION REPORT
// =============================================================================

// Reconciliation compares a balance's running amount with its history.
// Corrections do not adjust the running amount, so a correction that changes
// an amount shows up as Drift.
type Reconciliation struct {
	BalanceID        BalanceID
	InitialAmount    decimal.Decimal
	CurrentAmount    decimal.Decimal
	TotalDebited     decimal.Decimal
	ExpectedAmount   decimal.Decimal
	Drift            decimal.Decimal
	Transactions     int
	CorrectedEntries int
}

func (r Reconciliation) Balanced() bool { return r.Drift.IsZero() }
