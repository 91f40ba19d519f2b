package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// =============================================================================
// HISTORY READER / CORRECTOR
// =============================================================================

// ListTransactions returns a balance's transactions, most recent service
// date first. Non-staff see only history of balances they own.
//
// History outlives its balance: staff can still read the transactions of a
// deleted balance.
func (s *Service) ListTransactions(ctx context.Context, actor Actor, balanceID BalanceID) ([]Transaction, error) {
	const op = "list_transactions"
	if actor.ID == "" {
		return nil, s.fail(op, Authorize(actor, CapViewAllBalances))
	}
	if !actor.Can(CapViewAllBalances) {
		b, err := s.store.GetBalance(ctx, balanceID)
		if err != nil {
			return nil, s.fail(op, asPersistence(op, err))
		}
		if b == nil || !actor.CanSee(*b) {
			return nil, s.fail(op, notFound("balance", balanceID))
		}
	}

	txs, err := s.store.ListTransactions(ctx, balanceID)
	if err != nil {
		return nil, s.fail(op, asPersistence(op, err))
	}
	return txs, nil
}

// GetTransaction returns one transaction.
func (s *Service) GetTransaction(ctx context.Context, actor Actor, id TransactionID) (*Transaction, error) {
	const op = "get_transaction"
	tx, err := s.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, s.fail(op, asPersistence(op, err))
	}
	if tx == nil || !(actor.Can(CapViewAllBalances) || (actor.ID != "" && tx.CustomerID == actor.ID)) {
		return nil, s.fail(op, notFound("transaction", id))
	}
	return tx, nil
}

// CorrectTransaction amends a transaction's amount and marks it corrected.
// The owning balance's current amount is not adjusted; Reconcile reports
// the resulting drift.
func (s *Service) CorrectTransaction(ctx context.Context, actor Actor, id TransactionID, amount decimal.Decimal) (*Transaction, error) {
	const op = "correct_transaction"
	if err := Authorize(actor, CapCorrectTransaction); err != nil {
		return nil, s.fail(op, err)
	}
	if err := validateEntryAmount(amount); err != nil {
		return nil, s.fail(op, err)
	}

	var corrected Transaction
	err := s.unitOfWork(ctx, op, func(st Store) error {
		tx, err := st.GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if tx == nil {
			return notFound("transaction", id)
		}
		tx.Amount = amount
		tx.Corrected = true
		tx.UpdatedAt = s.now().UTC()
		if err := st.UpdateTransaction(ctx, *tx); err != nil {
			return err
		}
		corrected = *tx
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err)
	}

	s.recorder.TransactionCorrected()
	s.log.Info().
		Str("transaction_id", string(corrected.ID)).
		Str("balance_id", string(corrected.BalanceID)).
		Str("amount", corrected.Amount.String()).
		Msg("transaction corrected")
	s.publish(EventTransactionCorrected, corrected.BalanceID, nil, &corrected)
	return &corrected, nil
}

// Reconcile compares a balance's current amount with initial minus the sum
// of its recorded transactions. Read-only.
func (s *Service) Reconcile(ctx context.Context, actor Actor, balanceID BalanceID) (*Reconciliation, error) {
	const op = "reconcile"
	b, err := s.Get(ctx, actor, balanceID)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.ListTransactions(ctx, balanceID)
	if err != nil {
		return nil, s.fail(op, asPersistence(op, err))
	}

	r := &Reconciliation{
		BalanceID:     b.ID,
		InitialAmount: b.InitialAmount,
		CurrentAmount: b.CurrentAmount,
		TotalDebited:  decimal.Zero,
		Transactions:  len(txs),
	}
	for _, tx := range txs {
		r.TotalDebited = r.TotalDebited.Add(tx.Amount)
		if tx.Corrected {
			r.CorrectedEntries++
		}
	}
	r.ExpectedAmount = b.InitialAmount.Sub(r.TotalDebited)
	r.Drift = b.CurrentAmount.Sub(r.ExpectedAmount)
	return r, nil
}
