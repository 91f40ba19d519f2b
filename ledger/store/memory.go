// Package store provides in-process Store implementations.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ticktalk/balance-engine/ledger"
	"github.com/ticktalk/balance-engine/timer"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements ledger.TxStore and timer.Store.
type Memory struct {
	mu           sync.RWMutex
	balances     map[ledger.BalanceID]ledger.Balance
	transactions map[ledger.TransactionID]ledger.Transaction
	sessions     map[string]timer.Session
}

func NewMemory() *Memory {
	return &Memory{
		balances:     make(map[ledger.BalanceID]ledger.Balance),
		transactions: make(map[ledger.TransactionID]ledger.Transaction),
		sessions:     make(map[string]timer.Session),
	}
}

var (
	_ ledger.TxStore = (*Memory)(nil)
	_ timer.Store    = (*Memory)(nil)
)

// =============================================================================
// BALANCES
// =============================================================================

func (m *Memory) BalanceExists(_ context.Context, id ledger.BalanceID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.balances[id]
	return ok, nil
}

func (m *Memory) GetBalance(_ context.Context, id ledger.BalanceID) (*ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBalanceLocked(id), nil
}

func (m *Memory) ListBalances(_ context.Context, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listBalancesLocked(f), nil
}

func (m *Memory) InsertBalance(_ context.Context, b ledger.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertBalanceLocked(b)
}

func (m *Memory) UpdateBalance(_ context.Context, b ledger.Balance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateBalanceLocked(b)
}

func (m *Memory) DeleteBalance(_ context.Context, id ledger.BalanceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteBalanceLocked(id)
}

func (m *Memory) getBalanceLocked(id ledger.BalanceID) *ledger.Balance {
	b, ok := m.balances[id]
	if !ok {
		return nil
	}
	return cloneBalance(b)
}

func (m *Memory) listBalancesLocked(f ledger.BalanceFilter) []ledger.Balance {
	out := make([]ledger.Balance, 0)
	for _, b := range m.balances {
		if f.Match(b) {
			out = append(out, *cloneBalance(b))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (m *Memory) insertBalanceLocked(b ledger.Balance) error {
	if _, ok := m.balances[b.ID]; ok {
		return ledger.ErrDuplicateID
	}
	m.balances[b.ID] = *cloneBalance(b)
	return nil
}

func (m *Memory) updateBalanceLocked(b ledger.Balance) error {
	stored, ok := m.balances[b.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	if stored.Version != b.Version {
		return ledger.ErrConcurrentModification
	}
	next := *cloneBalance(b)
	// Immutable columns.
	next.Kind = stored.Kind
	next.InitialAmount = stored.InitialAmount
	next.CreatedAt = stored.CreatedAt
	next.CreatedBy = stored.CreatedBy
	next.Version = stored.Version + 1
	m.balances[b.ID] = next
	return nil
}

func (m *Memory) deleteBalanceLocked(id ledger.BalanceID) error {
	if _, ok := m.balances[id]; !ok {
		return ledger.ErrNotFound
	}
	delete(m.balances, id)
	return nil
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

func (m *Memory) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id), nil
}

func (m *Memory) ListTransactions(_ context.Context, balanceID ledger.BalanceID) ([]ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked(balanceID), nil
}

func (m *Memory) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertTransactionLocked(tx)
}

func (m *Memory) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTransactionLocked(tx)
}

func (m *Memory) getTransactionLocked(id ledger.TransactionID) *ledger.Transaction {
	tx, ok := m.transactions[id]
	if !ok {
		return nil
	}
	return &tx
}

func (m *Memory) listTransactionsLocked(balanceID ledger.BalanceID) []ledger.Transaction {
	out := make([]ledger.Transaction, 0)
	for _, tx := range m.transactions {
		if tx.BalanceID == balanceID {
			out = append(out, tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ServiceDate.Equal(out[j].ServiceDate) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ServiceDate.After(out[j].ServiceDate)
	})
	return out
}

func (m *Memory) insertTransactionLocked(tx ledger.Transaction) error {
	if _, ok := m.transactions[tx.ID]; ok {
		return ledger.ErrDuplicateID
	}
	m.transactions[tx.ID] = tx
	return nil
}

func (m *Memory) updateTransactionLocked(tx ledger.Transaction) error {
	stored, ok := m.transactions[tx.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	// Owning balance, creator and creation time never change.
	tx.BalanceID = stored.BalanceID
	tx.CustomerID = stored.CustomerID
	tx.CreatedBy = stored.CreatedBy
	tx.CreatedAt = stored.CreatedAt
	m.transactions[tx.ID] = tx
	return nil
}

// =============================================================================
// TIMER SESSIONS
// =============================================================================

func (m *Memory) InsertSession(_ context.Context, s timer.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ledger.ErrDuplicateID
	}
	if s.Running() {
		for _, other := range m.sessions {
			if other.UserID == s.UserID && other.Running() {
				return fmt.Errorf("user %s: %w", s.UserID, timer.ErrAlreadyRunning)
			}
		}
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) GetSession(_ context.Context, id string) (*timer.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) UpdateSession(_ context.Context, s timer.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.sessions[s.ID]
	if !ok {
		return ledger.ErrNotFound
	}
	s.UserID = stored.UserID
	s.StartTime = stored.StartTime
	m.sessions[s.ID] = s
	return nil
}

func (m *Memory) ListSessions(_ context.Context, userID string) ([]timer.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]timer.Session, 0)
	for _, s := range m.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.After(out[j].StartTime) })
	return out, nil
}

// =============================================================================
// TRANSACTIONAL VIEW
// =============================================================================

// WithTx executes fn within a transaction.
// For the memory store this is a snapshot taken under the write lock and
// restored if fn fails.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snap := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snap)
		return err
	}
	return nil
}

type memorySnapshot struct {
	balances     map[ledger.BalanceID]ledger.Balance
	transactions map[ledger.TransactionID]ledger.Transaction
}

func (m *Memory) snapshot() memorySnapshot {
	bs := make(map[ledger.BalanceID]ledger.Balance, len(m.balances))
	for k, v := range m.balances {
		bs[k] = v
	}
	ts := make(map[ledger.TransactionID]ledger.Transaction, len(m.transactions))
	for k, v := range m.transactions {
		ts[k] = v
	}
	return memorySnapshot{balances: bs, transactions: ts}
}

func (m *Memory) restore(s memorySnapshot) {
	m.balances = s.balances
	m.transactions = s.transactions
}

// txView runs against the parent's maps while WithTx holds the lock.
type txView struct {
	parent *Memory
}

func (v *txView) BalanceExists(_ context.Context, id ledger.BalanceID) (bool, error) {
	_, ok := v.parent.balances[id]
	return ok, nil
}

func (v *txView) GetBalance(_ context.Context, id ledger.BalanceID) (*ledger.Balance, error) {
	return v.parent.getBalanceLocked(id), nil
}

func (v *txView) ListBalances(_ context.Context, f ledger.BalanceFilter) ([]ledger.Balance, error) {
	return v.parent.listBalancesLocked(f), nil
}

func (v *txView) InsertBalance(_ context.Context, b ledger.Balance) error {
	return v.parent.insertBalanceLocked(b)
}

func (v *txView) UpdateBalance(_ context.Context, b ledger.Balance) error {
	return v.parent.updateBalanceLocked(b)
}

func (v *txView) DeleteBalance(_ context.Context, id ledger.BalanceID) error {
	return v.parent.deleteBalanceLocked(id)
}

func (v *txView) GetTransaction(_ context.Context, id ledger.TransactionID) (*ledger.Transaction, error) {
	return v.parent.getTransactionLocked(id), nil
}

func (v *txView) ListTransactions(_ context.Context, balanceID ledger.BalanceID) ([]ledger.Transaction, error) {
	return v.parent.listTransactionsLocked(balanceID), nil
}

func (v *txView) InsertTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.parent.insertTransactionLocked(tx)
}

func (v *txView) UpdateTransaction(_ context.Context, tx ledger.Transaction) error {
	return v.parent.updateTransactionLocked(tx)
}

func cloneBalance(b ledger.Balance) *ledger.Balance {
	if b.ExpiryDate != nil {
		t := *b.ExpiryDate
		b.ExpiryDate = &t
	}
	return &b
}
