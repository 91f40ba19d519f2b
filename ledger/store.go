/*
store.go - Persistence contract for the ledger

PURPOSE:
  Defines what a backing store must provide. Two implementations exist:
  ledger/store.Memory for tests and development, store/sqlite.Store for
  durable deployments.

CONTRACT:
  - Reads of a missing row return (nil, nil), not an error
  - UpdateBalance is a compare-and-swap on Version: the stored row must
    carry b.Version, and the stored Version becomes b.Version+1. A
    mismatch returns ErrConcurrentModification, a missing row ErrNotFound
  - UpdateBalance never rewrites Kind, InitialAmount, CreatedAt or CreatedBy
  - Insert of an existing key returns ErrDuplicateID
  - WithTx runs fn atomically: either every write inside fn is visible
    afterwards or none is

ORDERING:
  - ListBalances: CreatedAt descending
  - ListTransactions: ServiceDate descending
*/
package ledger

import (
	"context"
	"time"
)

// BalanceFilter narrows ListBalances. Zero values match everything.
type BalanceFilter struct {
	CustomerID string
	Status     BalanceStatus

	// ExpiringBefore keeps balances whose expiry date is set and not after
	// the given instant.
	ExpiringBefore *time.Time
}

func (f BalanceFilter) Match(b Balance) bool {
	if f.CustomerID != "" && b.CustomerID != f.CustomerID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.ExpiringBefore != nil {
		if b.ExpiryDate == nil || b.ExpiryDate.After(*f.ExpiringBefore) {
			return false
		}
	}
	return true
}

// Store is the set of reads and writes the ledger needs.
type Store interface {
	BalanceLookup

	GetBalance(ctx context.Context, id BalanceID) (*Balance, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	InsertBalance(ctx context.Context, b Balance) error
	UpdateBalance(ctx context.Context, b Balance) error
	DeleteBalance(ctx context.Context, id BalanceID) error

	GetTransaction(ctx context.Context, id TransactionID) (*Transaction, error)
	ListTransactions(ctx context.Context, balanceID BalanceID) ([]Transaction, error)
	InsertTransaction(ctx context.Context, tx Transaction) error
	UpdateTransaction(ctx context.Context, tx Transaction) error
}

// TxStore is a Store that can run a unit of work atomically.
type TxStore interface {
	Store
	WithTx(ctx context.Context, fn func(Store) error) error
}
