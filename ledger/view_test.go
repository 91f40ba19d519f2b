package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ticktalk/balance-engine/ledger"
)

// =============================================================================
// BROKER
// =============================================================================

func TestBroker_FilterAndUnsubscribe(t *testing.T) {
	b := ledger.NewBroker(4)
	all := b.Subscribe(nil)
	deletes := b.Subscribe(func(e ledger.Event) bool { return e.Type == ledger.EventBalanceDeleted })
	assert.Equal(t, 2, b.Subscribers())

	b.Publish(ledger.Event{Type: ledger.EventBalanceCreated, BalanceID: "BAL00000001"})
	b.Publish(ledger.Event{Type: ledger.EventBalanceDeleted, BalanceID: "BAL00000001"})

	assert.Len(t, all.Events(), 2)
	assert.Len(t, deletes.Events(), 1)

	all.Close()
	all.Close()
	assert.Equal(t, 1, b.Subscribers())

	_, open := <-drain(all.Events())
	assert.False(t, open)
}

func TestBroker_FullBufferDropsWithoutBlocking(t *testing.T) {
	b := ledger.NewBroker(1)
	sub := b.Subscribe(nil)
	defer sub.Close()

	for i := 0; i < 3; i++ {
		b.Publish(ledger.Event{Type: ledger.EventBalanceUpdated})
	}

	assert.Equal(t, uint64(2), b.Dropped())
	select {
	case <-sub.Overflowed():
	default:
		t.Fatal("overflow was not signalled")
	}
	assert.True(t, sub.TakeOverflow())
	assert.False(t, sub.TakeOverflow())
}

func TestBroker_CloseEndsSubscriptions(t *testing.T) {
	b := ledger.NewBroker(1)
	sub := b.Subscribe(nil)

	b.Close()
	b.Close()

	_, open := <-sub.Events()
	assert.False(t, open)
	sub.Close()

	late := b.Subscribe(nil)
	_, open = <-late.Events()
	assert.False(t, open)
}

// drain empties buffered events and returns the channel.
func drain(ch <-chan ledger.Event) <-chan ledger.Event {
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return ch
			}
		default:
			return ch
		}
	}
}

// =============================================================================
// VIEW
// =============================================================================

func TestView_MergeByVersion(t *testing.T) {
	// GIVEN: A view holding version 3 of a balance
	// WHEN: Version 2 arrives late, then version 3 again
	// THEN: Neither changes the listing

	svc := newTestService(t, nil)
	v := svc.NewView(staff)
	b := ledger.Balance{ID: "BAL00000001", CustomerID: "c", Version: 3, CurrentAmount: d("5")}

	assert.True(t, v.Apply(ledger.Event{Type: ledger.EventBalanceUpdated, Balance: &b}))

	stale := b
	stale.Version = 2
	stale.CurrentAmount = d("9")
	assert.False(t, v.Apply(ledger.Event{Type: ledger.EventBalanceUpdated, Balance: &stale}))
	assert.False(t, v.Apply(ledger.Event{Type: ledger.EventBalanceUpdated, Balance: &b}))

	got, ok := v.Get(b.ID)
	require.True(t, ok)
	assert.True(t, d("5").Equal(got.CurrentAmount))
}

func TestView_DeleteIsFinal(t *testing.T) {
	svc := newTestService(t, nil)
	v := svc.NewView(staff)
	b := ledger.Balance{ID: "BAL00000001", CustomerID: "c", Version: 1}

	v.Apply(ledger.Event{Type: ledger.EventBalanceCreated, Balance: &b})
	assert.True(t, v.Apply(ledger.Event{Type: ledger.EventBalanceDeleted, BalanceID: b.ID}))

	late := b
	late.Version = 2
	assert.False(t, v.Apply(ledger.Event{Type: ledger.EventBalanceUpdated, Balance: &late}))
	assert.Empty(t, v.Balances())
}

func TestView_ReassignedBalanceLeavesCustomerView(t *testing.T) {
	svc := newTestService(t, nil)
	v := svc.NewView(customer)
	b := ledger.Balance{ID: "BAL00000001", CustomerID: customer.ID, Version: 1}
	v.Apply(ledger.Event{Type: ledger.EventBalanceCreated, Balance: &b})
	require.Len(t, v.Balances(), 1)

	moved := b
	moved.CustomerID = stranger.ID
	moved.Version = 2
	assert.True(t, v.Apply(ledger.Event{Type: ledger.EventBalanceUpdated, Balance: &moved}))
	assert.Empty(t, v.Balances())

	other := ledger.Balance{ID: "BAL00000002", CustomerID: stranger.ID, Version: 1}
	assert.False(t, v.Apply(ledger.Event{Type: ledger.EventBalanceCreated, Balance: &other}))
}

func TestView_LiveUpdatesFromService(t *testing.T) {
	// GIVEN: An open customer view over one existing balance
	// WHEN: Staff log a transaction and create a balance for someone else
	// THEN: The view reflects the debit and never shows the other balance

	svc := newTestService(t, nil)
	ctx := context.Background()
	b := createHours(t, svc, "10")

	v := svc.NewView(customer)
	updates := make(chan []ledger.Balance, 16)
	v.OnChange(func(list []ledger.Balance) { updates <- list })
	require.NoError(t, v.Open(ctx))
	require.NoError(t, v.Open(ctx))
	defer v.Close()

	initial := <-updates
	require.Len(t, initial, 1)
	assert.True(t, d("10").Equal(initial[0].CurrentAmount))

	_, err := svc.Create(ctx, staff, ledger.NewBalance{CustomerID: stranger.ID, Kind: ledger.KindHours, InitialAmount: d("5")})
	require.NoError(t, err)
	_, err = svc.LogTransaction(ctx, staff, b.ID, entry("4"))
	require.NoError(t, err)

	select {
	case list := <-updates:
		require.Len(t, list, 1)
		assert.True(t, d("6").Equal(list[0].CurrentAmount))
	case <-time.After(2 * time.Second):
		t.Fatal("view did not observe the debit")
	}

	require.NoError(t, v.Close())
	require.NoError(t, v.Close())
}

func TestView_ResyncsAfterDroppedEvents(t *testing.T) {
	// GIVEN: A view on a one-slot broker whose change callback is stalled
	// WHEN: Three more debits are logged while it is stalled
	// THEN: Events are dropped, and once released the view reloads and
	//       converges on the stored amount

	svc := newTestService(t, nil, ledger.WithBroker(ledger.NewBroker(1)))
	ctx := context.Background()
	b := createHours(t, svc, "10")

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls int
	v := svc.NewView(customer)
	v.OnChange(func([]ledger.Balance) {
		calls++
		if calls == 2 {
			entered <- struct{}{}
			<-release
		}
	})
	require.NoError(t, v.Open(ctx))
	defer v.Close()

	_, err := svc.LogTransaction(ctx, staff, b.ID, entry("1"))
	require.NoError(t, err)
	<-entered
	for i := 0; i < 3; i++ {
		_, err = svc.LogTransaction(ctx, staff, b.ID, entry("1"))
		require.NoError(t, err)
	}
	require.Greater(t, svc.Broker().Dropped(), uint64(0))

	close(release)

	assert.Eventually(t, func() bool {
		got, ok := v.Get(b.ID)
		return ok && got.CurrentAmount.Equal(d("6"))
	}, 2*time.Second, 5*time.Millisecond)
}

func TestView_ResyncDropsRowsMissingFromListing(t *testing.T) {
	svc := newTestService(t, nil, ledger.WithBroker(ledger.NewBroker(1)))
	ctx := context.Background()
	keep := createHours(t, svc, "10")
	gone := createHours(t, svc, "5")

	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	var calls int
	v := svc.NewView(staff)
	v.OnChange(func([]ledger.Balance) {
		calls++
		if calls == 2 {
			entered <- struct{}{}
			<-release
		}
	})
	require.NoError(t, v.Open(ctx))
	defer v.Close()

	_, err := svc.LogTransaction(ctx, staff, keep.ID, entry("1"))
	require.NoError(t, err)
	<-entered
	_, err = svc.LogTransaction(ctx, staff, keep.ID, entry("1"))
	require.NoError(t, err)
	require.NoError(t, svc.Delete(ctx, staff, gone.ID))

	close(release)

	assert.Eventually(t, func() bool {
		_, present := v.Get(gone.ID)
		return !present && len(v.Balances()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}
