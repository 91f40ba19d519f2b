package ledger_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticktalk/balance-engine/ledger"
	"github.com/ticktalk/balance-engine/ledger/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var (
	staff    = ledger.Actor{ID: "staff-1", Role: ledger.RoleStaff}
	customer = ledger.Actor{ID: "cust-1", Role: ledger.RoleCustomer}
	stranger = ledger.Actor{ID: "cust-2", Role: ledger.RoleCustomer}
)

var fixedNow = time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, st ledger.TxStore, opts ...ledger.Option) *ledger.Service {
	t.Helper()
	if st == nil {
		st = store.NewMemory()
	}
	opts = append([]ledger.Option{ledger.WithClock(func() time.Time { return fixedNow })}, opts...)
	return ledger.NewService(st, opts...)
}

func createHours(t *testing.T, svc *ledger.Service, initial string) *ledger.Balance {
	t.Helper()
	b, err := svc.Create(context.Background(), staff, ledger.NewBalance{
		CustomerID:    customer.ID,
		Kind:          ledger.KindHours,
		InitialAmount: d(initial),
	})
	require.NoError(t, err)
	return b
}

func entry(amount string) ledger.LogEntry {
	return ledger.LogEntry{
		Title:       "Feature work",
		Category:    ledger.CategoryDevelopment,
		Amount:      d(amount),
		ServiceDate: fixedNow,
	}
}

// conflictOnce makes the first n balance writes fail with a version conflict.
type conflictOnce struct {
	ledger.TxStore
	remaining atomic.Int32
}

func (c *conflictOnce) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return c.TxStore.WithTx(ctx, func(s ledger.Store) error {
		return fn(conflictingView{Store: s, parent: c})
	})
}

type conflictingView struct {
	ledger.Store
	parent *conflictOnce
}

func (v conflictingView) UpdateBalance(ctx context.Context, b ledger.Balance) error {
	if v.parent.remaining.Add(-1) >= 0 {
		return ledger.ErrConcurrentModification
	}
	return v.Store.UpdateBalance(ctx, b)
}

// brokenWrites fails every balance write after the transaction insert.
type brokenWrites struct{ ledger.TxStore }

func (b brokenWrites) WithTx(ctx context.Context, fn func(ledger.Store) error) error {
	return b.TxStore.WithTx(ctx, func(s ledger.Store) error {
		return fn(brokenView{Store: s})
	})
}

type brokenView struct{ ledger.Store }

func (brokenView) UpdateBalance(context.Context, ledger.Balance) error {
	return errors.New("disk full")
}

type countingRecorder struct {
	mu       sync.Mutex
	created  int
	logged   int
	failures map[ledger.ErrorKind]int
	retries  int
}

func (r *countingRecorder) BalanceCreated(ledger.Kind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created++
}

func (r *countingRecorder) TransactionLogged(ledger.Kind, decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logged++
}

func (r *countingRecorder) TransactionCorrected() {}

func (r *countingRecorder) OperationFailed(_ string, k ledger.ErrorKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = map[ledger.ErrorKind]int{}
	}
	r.failures[k]++
}

func (r *countingRecorder) ConflictRetried(string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.retries++
}

// =============================================================================
// CREATE / UPDATE / DELETE
// =============================================================================

func TestCreate_StartsActiveWithCurrentEqualToInitial(t *testing.T) {
	rec := &countingRecorder{}
	svc := newTestService(t, nil, ledger.WithRecorder(rec))

	b := createHours(t, svc, "10")

	assert.True(t, ledger.IsBalanceID(string(b.ID)))
	assert.True(t, d("10").Equal(b.CurrentAmount))
	assert.Equal(t, ledger.StatusActive, b.Status)
	assert.Equal(t, staff.ID, b.CreatedBy)
	assert.Equal(t, fixedNow, b.CreatedAt)
	assert.Equal(t, int64(1), b.Version)
	assert.Equal(t, 1, rec.created)
}

func TestCreate_RejectsAmountBelowMinimum(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Create(context.Background(), staff, ledger.NewBalance{
		CustomerID:    "cust-1",
		Kind:          ledger.KindHours,
		InitialAmount: d("0.4"),
	})

	assert.ErrorIs(t, err, ledger.ErrValidation)
}

func TestCreate_RequiresCapability(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.Create(context.Background(), customer, ledger.NewBalance{
		CustomerID:    "cust-1",
		Kind:          ledger.KindHours,
		InitialAmount: d("5"),
	})

	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestUpdate_KeepsKindAndInitialAmount(t *testing.T) {
	svc := newTestService(t, nil)
	b := createHours(t, svc, "10")
	ctx := context.Background()
	notes := "renewed"
	expiry := fixedNow.AddDate(0, 1, 0)

	updated, err := svc.Update(ctx, staff, b.ID, ledger.BalanceUpdate{Notes: &notes, ExpiryDate: &expiry})
	require.NoError(t, err)

	assert.Equal(t, "renewed", updated.Notes)
	require.NotNil(t, updated.ExpiryDate)
	assert.True(t, expiry.Equal(*updated.ExpiryDate))
	assert.Equal(t, int64(2), updated.Version)

	stored, err := svc.Get(ctx, staff, b.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.KindHours, stored.Kind)
	assert.True(t, d("10").Equal(stored.InitialAmount))
	assert.Equal(t, int64(2), stored.Version)

	cleared, err := svc.Update(ctx, staff, b.ID, ledger.BalanceUpdate{ClearExpiry: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.ExpiryDate)
}

func TestUpdate_UnknownBalanceIsNotFound(t *testing.T) {
	svc := newTestService(t, nil)
	notes := "x"

	_, err := svc.Update(context.Background(), staff, "BAL00000000", ledger.BalanceUpdate{Notes: &notes})

	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestDelete_LeavesTransactionsReadable(t *testing.T) {
	// GIVEN: A balance with one logged transaction
	// WHEN: The balance is deleted
	// THEN: The balance is gone but staff can still read its history

	svc := newTestService(t, nil)
	ctx := context.Background()
	b := createHours(t, svc, "10")
	_, err := svc.LogTransaction(ctx, staff, b.ID, entry("1"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, staff, b.ID))

	_, err = svc.Get(ctx, staff, b.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	txs, err := svc.ListTransactions(ctx, staff, b.ID)
	require.NoError(t, err)
	assert.Len(t, txs, 1)

	assert.ErrorIs(t, svc.Delete(ctx, staff, b.ID), ledger.ErrNotFound)
}

// =============================================================================
// LOG TRANSACTION
// =============================================================================

func TestLogTransaction_SequentialDebits(t *testing.T) {
	// GIVEN: A 5 hour balance
	// WHEN: Logging 2 hours twice
	// THEN: 1 hour remains and two transactions exist

	svc := newTestService(t, nil)
	ctx := context.Background()
	b := createHours(t, svc, "5")

	remaining, err := svc.LogTransaction(ctx, staff, b.ID, entry("2"))
	require.NoError(t, err)
	assert.True(t, d("3").Equal(remaining))

	remaining, err = svc.LogTransaction(ctx, staff, b.ID, entry("2"))
	require.NoError(t, err)
	assert.True(t, d("1").Equal(remaining))

	stored, err := svc.Get(ctx, staff, b.ID)
	require.NoError(t, err)
	assert.True(t, d("1").Equal(stored.CurrentAmount))

	txs, err := svc.ListTransactions(ctx, staff, b.ID)
	require.NoError(t, err)
	require.Len(t, txs, 2)
	for _, tx := range txs {
		assert.Equal(t, b.ID, tx.BalanceID)
		assert.Equal(t, customer.ID, tx.CustomerID)
		assert.Equal(t, staff.ID, tx.CreatedBy)
		assert.False(t, tx.Corrected)
	}
}

func TestLogTransaction_DefaultsCategory(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	b := createHours(t, svc, "5")

	e := entry("1")
	e.Category = ""
	_, err := svc.LogTransaction(ctx, staff, b.ID, e)
	require.NoError(t, err)

	txs, err := svc.ListTransactions(ctx, staff, b.ID)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, ledger.CategoryOther, txs[0].Category)
}

func TestLogTransaction_InsufficientHoursLeavesNoTrace(t *testing.T) {
	// GIVEN: 1 hour remaining
	// WHEN: Logging 2 hours
	// THEN: Rejected, balance unchanged, no transaction recorded

	svc := newTestService(t, nil)
	ctx := context.Background()
	b := createHours(t, svc, "5")
	_, err := svc.LogTransaction(ctx, staff, b.ID, entry("4"))
	require.NoError(t, err)

	_, err = svc.LogTransaction(ctx, staff, b.ID, entry("2"))

	var ife *ledger.InsufficientFundsError
	require.ErrorAs(t, err, &ife)
	assert.True(t, d("1").Equal(ife.Available))
	assert.True(t, ledger.IsClientError(err))

	stored, _ := svc.Get(ctx, staff, b.ID)
	assert.True(t, d("1").Equal(stored.CurrentAmount))
	txs, _ := svc.ListTransactions(ctx, staff, b.ID)
	assert.Len(t, txs, 1)
}

func TestLogTransaction_InactiveBalanceRejected(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	b := createHours(t, svc, "5")
	_, err := svc.SetActive(ctx, staff, b.ID, false)
	require.NoError(t, err)

	_, err = svc.LogTransaction(ctx, staff, b.ID, entry("1"))
	assert.ErrorIs(t, err, ledger.ErrInactive)

	for _, amt := range []string{"30", "0"} {
		_, err = svc.LogTransaction(ctx, staff, b.ID, entry(amt))
		assert.ErrorIs(t, err, ledger.ErrInactive, "out-of-bounds amount %s", amt)
	}

	_, err = svc.LogTransaction(ctx, staff, "BAL99999999", entry("30"))
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLogTransaction_AmountBoundsOnActiveBalance(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	b := createHours(t, svc, "5")

	for _, amt := range []string{"30", "0", "0.05"} {
		_, err := svc.LogTransaction(ctx, staff, b.ID, entry(amt))
		assert.ErrorIs(t, err, ledger.ErrValidation, amt)
	}

	txs, err := svc.ListTransactions(ctx, staff, b.ID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestLogTransaction_CreditsGoNegative(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	b, err := svc.Create(ctx, staff, ledger.NewBalance{
		CustomerID:    customer.ID,
		Kind:          ledger.KindCredits,
		InitialAmount: d("1"),
	})
	require.NoError(t, err)

	remaining, err := svc.LogTransaction(ctx, staff, b.ID, entry("3"))

	require.NoError(t, err)
	assert.True(t, d("-2").Equal(remaining))
}

func TestLogTransaction_UnknownBalance(t *testing.T) {
	svc := newTestService(t, nil)

	_, err := svc.LogTransaction(context.Background(), staff, "BAL00000000", entry("1"))

	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestLogTransaction_CustomerCannotLog(t *testing.T) {
	svc := newTestService(t, nil)
	b := createHours(t, svc, "5")

	_, err := svc.LogTransaction(context.Background(), customer, b.ID, entry("1"))

	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestLogTransaction_ConcurrentDebitsSerialize(t *testing.T) {
	// GIVEN: A 10 hour balance
	// WHEN: Two 4 hour debits race
	// THEN: The balance ends at 2, never 6

	svc := newTestService(t, nil)
	ctx := context.Background()
	b := createHours(t, svc, "10")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.LogTransaction(ctx, staff, b.ID, entry("4"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	stored, err := svc.Get(ctx, staff, b.ID)
	require.NoError(t, err)
	assert.True(t, d("2").Equal(stored.CurrentAmount), "got %s", stored.CurrentAmount)
}

func TestLogTransaction_OversubscribedDebitsNeverOverdraw(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	b := createHours(t, svc, "10")

	var wg sync.WaitGroup
	var ok, short atomic.Int32
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.LogTransaction(ctx, staff, b.ID, entry("3"))
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, ledger.ErrInsufficientFunds):
				short.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(3), ok.Load())
	assert.Equal(t, int32(2), short.Load())
	stored, _ := svc.Get(ctx, staff, b.ID)
	assert.True(t, d("1").Equal(stored.CurrentAmount))
}

func TestLogTransaction_RetriesVersionConflict(t *testing.T) {
	// GIVEN: The first balance write hits a version conflict
	// WHEN: Logging a transaction
	// THEN: The unit of work re-runs and exactly one transaction is stored

	mem := store.NewMemory()
	cs := &conflictOnce{TxStore: mem}
	rec := &countingRecorder{}
	svc := newTestService(t, cs, ledger.WithRecorder(rec))
	ctx := context.Background()
	b := createHours(t, svc, "10")

	cs.remaining.Store(1)
	remaining, err := svc.LogTransaction(ctx, staff, b.ID, entry("4"))

	require.NoError(t, err)
	assert.True(t, d("6").Equal(remaining))
	assert.Equal(t, 1, rec.retries)
	txs, _ := mem.ListTransactions(ctx, b.ID)
	assert.Len(t, txs, 1)
}

func TestLogTransaction_ConflictRetriesExhausted(t *testing.T) {
	mem := store.NewMemory()
	cs := &conflictOnce{TxStore: mem}
	svc := newTestService(t, cs, ledger.WithMaxRetries(2))
	ctx := context.Background()
	b := createHours(t, svc, "10")

	cs.remaining.Store(100)
	_, err := svc.LogTransaction(ctx, staff, b.ID, entry("4"))

	assert.ErrorIs(t, err, ledger.ErrPersistence)
	assert.ErrorIs(t, err, ledger.ErrConcurrentModification)
	assert.True(t, ledger.IsRetryable(err))
	assert.Equal(t, int32(100-3), cs.remaining.Load())

	txs, _ := mem.ListTransactions(ctx, b.ID)
	assert.Empty(t, txs)
}

func TestLogTransaction_FailedBalanceWriteRollsBackInsert(t *testing.T) {
	// GIVEN: A store whose balance writes fail
	// WHEN: Logging a transaction
	// THEN: A persistence error and neither write is visible

	mem := store.NewMemory()
	svc := newTestService(t, mem)
	ctx := context.Background()
	b := createHours(t, svc, "10")

	broken := newTestService(t, brokenWrites{TxStore: mem})
	_, err := broken.LogTransaction(ctx, staff, b.ID, entry("4"))

	assert.ErrorIs(t, err, ledger.ErrPersistence)
	assert.Equal(t, ledger.KindPersistence, ledger.ErrorKindOf(err))

	stored, _ := mem.GetBalance(ctx, b.ID)
	assert.True(t, d("10").Equal(stored.CurrentAmount))
	txs, _ := mem.ListTransactions(ctx, b.ID)
	assert.Empty(t, txs)
}

// =============================================================================
// READS & SCOPING
// =============================================================================

func TestListForActor_ScopesCustomers(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	createHours(t, svc, "5")
	_, err := svc.Create(ctx, staff, ledger.NewBalance{CustomerID: stranger.ID, Kind: ledger.KindHours, InitialAmount: d("5")})
	require.NoError(t, err)

	all, err := svc.ListForActor(ctx, staff)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := svc.ListForActor(ctx, customer)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, customer.ID, mine[0].CustomerID)

	_, err = svc.ListForActor(ctx, ledger.Actor{})
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestListByCustomer_OnlySelfForNonStaff(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	createHours(t, svc, "5")

	own, err := svc.ListByCustomer(ctx, customer, customer.ID)
	require.NoError(t, err)
	assert.Len(t, own, 1)

	_, err = svc.ListByCustomer(ctx, stranger, customer.ID)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

func TestGet_HiddenBalanceIsNotFound(t *testing.T) {
	svc := newTestService(t, nil)
	b := createHours(t, svc, "5")

	_, err := svc.Get(context.Background(), stranger, b.ID)
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	got, err := svc.Get(context.Background(), customer, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestListExpiring(t *testing.T) {
	svc := newTestService(t, nil)
	ctx := context.Background()
	soon := fixedNow.AddDate(0, 0, 3)
	later := fixedNow.AddDate(0, 2, 0)
	for _, exp := range []*time.Time{&soon, &later, nil} {
		_, err := svc.Create(ctx, staff, ledger.NewBalance{
			CustomerID: "c", Kind: ledger.KindHours, InitialAmount: d("5"), ExpiryDate: exp,
		})
		require.NoError(t, err)
	}

	out, err := svc.ListExpiring(ctx, staff, fixedNow.AddDate(0, 0, 14))

	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.True(t, soon.Equal(*out[0].ExpiryDate))

	_, err = svc.ListExpiring(ctx, customer, fixedNow)
	assert.ErrorIs(t, err, ledger.ErrUnauthorized)
}

// =============================================================================
// CHANGE EVENTS
// =============================================================================

func TestEvents_PublishedAfterCommit(t *testing.T) {
	svc := newTestService(t, nil)
	sub := svc.Broker().Subscribe(nil)
	defer sub.Close()
	ctx := context.Background()

	b := createHours(t, svc, "5")
	_, err := svc.LogTransaction(ctx, staff, b.ID, entry("1"))
	require.NoError(t, err)
	_, err = svc.LogTransaction(ctx, staff, b.ID, entry("9")) // rejected
	require.Error(t, err)

	created := <-sub.Events()
	assert.Equal(t, ledger.EventBalanceCreated, created.Type)
	assert.Equal(t, b.ID, created.BalanceID)

	logged := <-sub.Events()
	assert.Equal(t, ledger.EventTransactionLogged, logged.Type)
	require.NotNil(t, logged.Balance)
	require.NotNil(t, logged.Transaction)
	assert.True(t, d("4").Equal(logged.Balance.CurrentAmount))
	assert.Equal(t, int64(2), logged.Balance.Version)

	select {
	case e := <-sub.Events():
		t.Fatalf("unexpected event for a rejected debit: %s", e.Type)
	default:
	}
}
