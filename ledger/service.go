/*
service.go - Ledger Store operations

PURPOSE:
  The single entry point for balance and transaction writes. Every
  operation authorizes the actor, validates input, runs one unit of work
  against the TxStore and, on commit, publishes a change event.

ATOMICITY:
  LogTransaction inserts the transaction and rewrites the balance amount in
  one WithTx call. If either write fails, neither is visible. Balance writes
  are version-checked; a conflicting writer makes the unit of work fail with
  ErrConcurrentModification and the service re-runs it from a fresh read,
  up to maxRetries times. Two concurrent debits therefore serialize: 10-4-4
  ends at 2, never at 6.

SEE ALSO:
  - history.go: Transaction reads and corrections
  - view.go:    Live, role-scoped balance listing
*/
package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// DefaultMaxRetries bounds re-runs after an optimistic-concurrency conflict.
const DefaultMaxRetries = 5

// Service implements the ledger operations on top of a TxStore.
type Service struct {
	store      TxStore
	ids        *Generator
	broker     *Broker
	recorder   Recorder
	log        zerolog.Logger
	now        func() time.Time
	maxRetries int
}

type Option func(*Service)

func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }
func WithGenerator(g *Generator) Option     { return func(s *Service) { s.ids = g } }
func WithBroker(b *Broker) Option           { return func(s *Service) { s.broker = b } }
func WithRecorder(r Recorder) Option        { return func(s *Service) { s.recorder = r } }
func WithLogger(l zerolog.Logger) Option    { return func(s *Service) { s.log = l } }
func WithMaxRetries(n int) Option           { return func(s *Service) { s.maxRetries = n } }

func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:      store,
		ids:        NewGenerator(),
		broker:     NewBroker(DefaultEventBuffer),
		recorder:   nopRecorder{},
		log:        zerolog.Nop(),
		now:        time.Now,
		maxRetries: DefaultMaxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Broker exposes the change feed.
func (s *Service) Broker() *Broker { return s.broker }

// =============================================================================
// BALANCE WRITES
// =============================================================================

// Create allocates an identifier and stores a new active balance whose
// current amount equals its initial amount.
func (s *Service) Create(ctx context.Context, actor Actor, nb NewBalance) (*Balance, error) {
	const op = "create_balance"
	if err := Authorize(actor, CapCreateBalance); err != nil {
		return nil, s.fail(op, err)
	}
	nb.CustomerID = strings.TrimSpace(nb.CustomerID)
	if err := nb.Validate(); err != nil {
		return nil, s.fail(op, err)
	}

	var created Balance
	err := s.unitOfWork(ctx, op, func(st Store) error {
		id, err := s.ids.Generate(ctx, st)
		if err != nil {
			return err
		}
		now := s.now().UTC()
		created = Balance{
			ID:            id,
			CustomerID:    nb.CustomerID,
			Kind:          nb.Kind,
			InitialAmount: nb.InitialAmount,
			CurrentAmount: nb.InitialAmount,
			Status:        StatusActive,
			ExpiryDate:    utcPtr(nb.ExpiryDate),
			Notes:         nb.Notes,
			CreatedAt:     now,
			CreatedBy:     actor.ID,
			UpdatedAt:     now,
			Version:       1,
		}
		return st.InsertBalance(ctx, created)
	})
	if err != nil {
		return nil, s.fail(op, err)
	}

	s.recorder.BalanceCreated(created.Kind)
	s.log.Info().
		Str("balance_id", string(created.ID)).
		Str("customer_id", created.CustomerID).
		Str("kind", string(created.Kind)).
		Str("initial", created.InitialAmount.String()).
		Msg("balance created")
	s.publish(EventBalanceCreated, created.ID, &created, nil)
	return &created, nil
}

// Update applies a partial update. Kind and initial amount are immutable.
func (s *Service) Update(ctx context.Context, actor Actor, id BalanceID, upd BalanceUpdate) (*Balance, error) {
	const op = "update_balance"
	if err := Authorize(actor, CapUpdateBalance); err != nil {
		return nil, s.fail(op, err)
	}
	if err := upd.Validate(); err != nil {
		return nil, s.fail(op, err)
	}

	var updated Balance
	err := s.unitOfWork(ctx, op, func(st Store) error {
		b, err := st.GetBalance(ctx, id)
		if err != nil {
			return err
		}
		if b == nil {
			return notFound("balance", id)
		}
		applyUpdate(b, upd)
		b.UpdatedAt = s.now().UTC()
		if err := st.UpdateBalance(ctx, *b); err != nil {
			return err
		}
		updated = *b
		updated.Version++
		return nil
	})
	if err != nil {
		return nil, s.fail(op, err)
	}

	s.publish(EventBalanceUpdated, updated.ID, &updated, nil)
	return &updated, nil
}

// SetActive toggles a balance between active and inactive.
func (s *Service) SetActive(ctx context.Context, actor Actor, id BalanceID, active bool) (*Balance, error) {
	status := StatusInactive
	if active {
		status = StatusActive
	}
	return s.Update(ctx, actor, id, BalanceUpdate{Status: &status})
}

// Delete removes a balance. Its transactions are left in place.
func (s *Service) Delete(ctx context.Context, actor Actor, id BalanceID) error {
	const op = "delete_balance"
	if err := Authorize(actor, CapDeleteBalance); err != nil {
		return s.fail(op, err)
	}
	err := s.unitOfWork(ctx, op, func(st Store) error {
		return st.DeleteBalance(ctx, id)
	})
	if err != nil {
		return s.fail(op, err)
	}

	s.log.Info().Str("balance_id", string(id)).Str("actor", actor.ID).Msg("balance deleted")
	s.publish(EventBalanceDeleted, id, nil, nil)
	return nil
}

// =============================================================================
// LOG TRANSACTION
// =============================================================================

// LogTransaction records a debit and returns the balance amount after it.
// The transaction insert and the balance write commit together.
func (s *Service) LogTransaction(ctx context.Context, actor Actor, balanceID BalanceID, entry LogEntry) (decimal.Decimal, error) {
	const op = "log_transaction"
	if err := Authorize(actor, CapLogTransaction); err != nil {
		return decimal.Zero, s.fail(op, err)
	}
	entry.Title = strings.TrimSpace(entry.Title)
	if entry.Category == "" {
		entry.Category = CategoryOther
	}
	if err := entry.validateDetails(); err != nil {
		return decimal.Zero, s.fail(op, err)
	}

	var (
		logged  Transaction
		balance Balance
	)
	err := s.unitOfWork(ctx, op, func(st Store) error {
		b, err := st.GetBalance(ctx, balanceID)
		if err != nil {
			return err
		}
		if b == nil {
			return notFound("balance", balanceID)
		}
		if !b.IsActive() {
			return &inactiveError{id: b.ID}
		}
		if err := validateEntryAmount(entry.Amount); err != nil {
			return err
		}
		next, err := Validate(b, entry.Amount)
		if err != nil {
			return err
		}

		now := s.now().UTC()
		logged = Transaction{
			ID:          TransactionID(uuid.NewString()),
			BalanceID:   b.ID,
			CustomerID:  b.CustomerID,
			Title:       entry.Title,
			Category:    entry.Category,
			Amount:      entry.Amount,
			ServiceDate: entry.ServiceDate.UTC(),
			Notes:       entry.Notes,
			FeatureID:   entry.FeatureID,
			CreatedBy:   actor.ID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := st.InsertTransaction(ctx, logged); err != nil {
			return err
		}

		b.CurrentAmount = next
		b.UpdatedAt = now
		if err := st.UpdateBalance(ctx, *b); err != nil {
			return err
		}
		balance = *b
		balance.Version++
		return nil
	})
	if err != nil {
		return decimal.Zero, s.fail(op, err)
	}

	s.recorder.TransactionLogged(balance.Kind, logged.Amount)
	s.log.Info().
		Str("balance_id", string(balance.ID)).
		Str("transaction_id", string(logged.ID)).
		Str("amount", logged.Amount.String()).
		Str("remaining", balance.CurrentAmount.String()).
		Msg("transaction logged")
	s.publish(EventTransactionLogged, balance.ID, &balance, &logged)
	return balance.CurrentAmount, nil
}

// =============================================================================
// BALANCE READS
// =============================================================================

// ListForActor returns every balance the actor may see, newest first.
func (s *Service) ListForActor(ctx context.Context, actor Actor) ([]Balance, error) {
	const op = "list_balances"
	if actor.ID == "" {
		return nil, s.fail(op, Authorize(actor, CapViewAllBalances))
	}
	filter := BalanceFilter{}
	if !actor.Can(CapViewAllBalances) {
		filter.CustomerID = actor.ID
	}
	out, err := s.store.ListBalances(ctx, filter)
	if err != nil {
		return nil, s.fail(op, asPersistence(op, err))
	}
	return out, nil
}

// ListByCustomer lists one customer's balances. Non-staff may only ask
// for themselves.
func (s *Service) ListByCustomer(ctx context.Context, actor Actor, customerID string) ([]Balance, error) {
	const op = "list_customer_balances"
	if !actor.Can(CapViewAllBalances) && (actor.ID == "" || actor.ID != customerID) {
		return nil, s.fail(op, Authorize(actor, CapViewAllBalances))
	}
	out, err := s.store.ListBalances(ctx, BalanceFilter{CustomerID: customerID})
	if err != nil {
		return nil, s.fail(op, asPersistence(op, err))
	}
	return out, nil
}

// ListExpiring returns active balances expiring at or before the cutoff.
func (s *Service) ListExpiring(ctx context.Context, actor Actor, before time.Time) ([]Balance, error) {
	const op = "list_expiring"
	if err := Authorize(actor, CapViewAllBalances); err != nil {
		return nil, s.fail(op, err)
	}
	out, err := s.store.ListBalances(ctx, BalanceFilter{Status: StatusActive, ExpiringBefore: &before})
	if err != nil {
		return nil, s.fail(op, asPersistence(op, err))
	}
	return out, nil
}

// Get returns one balance. A balance the actor may not see is reported
// as not found.
func (s *Service) Get(ctx context.Context, actor Actor, id BalanceID) (*Balance, error) {
	const op = "get_balance"
	b, err := s.store.GetBalance(ctx, id)
	if err != nil {
		return nil, s.fail(op, asPersistence(op, err))
	}
	if b == nil || !actor.CanSee(*b) {
		return nil, s.fail(op, notFound("balance", id))
	}
	return b, nil
}

// =============================================================================
// INTERNALS
// =============================================================================

// unitOfWork runs fn in a store transaction, re-running it on version
// conflicts.
func (s *Service) unitOfWork(ctx context.Context, op string, fn func(Store) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = s.store.WithTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrConcurrentModification) || attempt >= s.maxRetries {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return asPersistence(op, ctxErr)
		}
		s.recorder.ConflictRetried(op)
		s.log.Debug().Str("op", op).Int("attempt", attempt+1).Msg("version conflict, retrying")
	}
	return asPersistence(op, err)
}

func (s *Service) fail(op string, err error) error {
	if err == nil {
		return nil
	}
	kind := ErrorKindOf(err)
	s.recorder.OperationFailed(op, kind)
	ev := s.log.Debug()
	if kind == KindPersistence || kind == KindGenerationExhausted || kind == KindUnknown {
		ev = s.log.Error()
	}
	ev.Err(err).Str("op", op).Str("kind", string(kind)).Msg("ledger operation failed")
	return err
}

func (s *Service) publish(t EventType, id BalanceID, b *Balance, tx *Transaction) {
	if s.broker == nil {
		return
	}
	s.broker.Publish(Event{Type: t, BalanceID: id, Balance: b, Transaction: tx, At: s.now().UTC()})
}

func applyUpdate(b *Balance, upd BalanceUpdate) {
	if upd.CustomerID != nil {
		b.CustomerID = strings.TrimSpace(*upd.CustomerID)
	}
	if upd.Status != nil {
		b.Status = *upd.Status
	}
	if upd.ClearExpiry {
		b.ExpiryDate = nil
	} else if upd.ExpiryDate != nil {
		b.ExpiryDate = utcPtr(upd.ExpiryDate)
	}
	if upd.Notes != nil {
		b.Notes = *upd.Notes
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
