package ledger

import (
	"context"
	"sort"
	"sync"
)

// =============================================================================
// BALANCE VIEW
// =============================================================================

// View is a live, role-scoped listing of balances. It subscribes to the
// service's broker before taking its initial snapshot, so no committed
// change between the two is lost. Events are merged by balance ID and
// Version; a stale event never overwrites a newer row.
//
// When the broker drops events for a slow view, the view reloads its
// listing from the service and reconciles against it.
//
// Open and Close are idempotent. OnChange callbacks run on the view's own
// goroutine.
type View struct {
	svc   *Service
	actor Actor

	mu       sync.RWMutex
	balances map[BalanceID]Balance
	deleted  map[BalanceID]struct{}
	onChange func([]Balance)

	lifecycle sync.Mutex
	sub       *Subscription
	done      chan struct{}
}

func (s *Service) NewView(actor Actor) *View {
	return &View{
		svc:      s,
		actor:    actor,
		balances: make(map[BalanceID]Balance),
		deleted:  make(map[BalanceID]struct{}),
	}
}

// OnChange registers fn to receive the full listing after every applied
// change. Set it before Open.
func (v *View) OnChange(fn func([]Balance)) {
	v.mu.Lock()
	v.onChange = fn
	v.mu.Unlock()
}

// Open subscribes and loads the initial listing.
func (v *View) Open(ctx context.Context) error {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()
	if v.sub != nil {
		return nil
	}

	sub := v.svc.broker.Subscribe(func(e Event) bool {
		switch e.Type {
		case EventBalanceCreated, EventBalanceUpdated, EventBalanceDeleted, EventTransactionLogged:
			return true
		}
		return false
	})

	initial, err := v.svc.ListForActor(ctx, v.actor)
	if err != nil {
		sub.Close()
		return err
	}
	for _, b := range initial {
		v.merge(b)
	}

	v.sub = sub
	v.done = make(chan struct{})
	go v.run(sub, v.done)
	v.notify()
	return nil
}

// Close unsubscribes and waits for the event loop to exit.
func (v *View) Close() error {
	v.lifecycle.Lock()
	defer v.lifecycle.Unlock()
	if v.sub == nil {
		return nil
	}
	v.sub.Close()
	<-v.done
	v.sub = nil
	return nil
}

// Balances returns the current listing, newest first.
func (v *View) Balances() []Balance {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.snapshotLocked()
}

// Get returns one balance from the listing.
func (v *View) Get(id BalanceID) (Balance, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	b, ok := v.balances[id]
	return b, ok
}

// Apply merges one event. The event loop calls it; callers may also feed
// the result of their own writes through it.
func (v *View) Apply(e Event) bool {
	var changed bool
	switch e.Type {
	case EventBalanceDeleted:
		changed = v.remove(e.BalanceID)
	default:
		if e.Balance == nil {
			return false
		}
		changed = v.merge(*e.Balance)
	}
	if changed {
		v.notify()
	}
	return changed
}

func (v *View) run(sub *Subscription, done chan struct{}) {
	defer close(done)
	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return
			}
			v.Apply(e)
		case <-sub.Overflowed():
			if sub.TakeOverflow() && !v.resync(sub) {
				return
			}
		}
	}
}

// resync applies whatever is still buffered, then reloads the listing. It
// returns false once the subscription is closed.
func (v *View) resync(sub *Subscription) bool {
	for pending := true; pending; {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				return false
			}
			v.Apply(e)
		default:
			pending = false
		}
	}

	list, err := v.svc.ListForActor(context.Background(), v.actor)
	if err != nil {
		v.svc.log.Warn().Err(err).Str("actor", v.actor.ID).Msg("view resync failed")
		return true
	}
	if v.reconcile(list) {
		v.notify()
	}
	return true
}

// reconcile merges a fresh listing and drops rows it no longer contains.
func (v *View) reconcile(list []Balance) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	changed := false
	seen := make(map[BalanceID]struct{}, len(list))
	for _, b := range list {
		seen[b.ID] = struct{}{}
		if v.mergeLocked(b) {
			changed = true
		}
	}
	for id := range v.balances {
		if _, ok := seen[id]; !ok {
			delete(v.balances, id)
			changed = true
		}
	}
	return changed
}

func (v *View) merge(b Balance) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mergeLocked(b)
}

func (v *View) mergeLocked(b Balance) bool {
	if _, gone := v.deleted[b.ID]; gone {
		return false
	}
	existing, ok := v.balances[b.ID]
	if ok && existing.Version >= b.Version {
		return false
	}
	if !v.actor.CanSee(b) {
		// Reassigned away from this actor.
		if ok {
			delete(v.balances, b.ID)
			return true
		}
		return false
	}
	v.balances[b.ID] = b
	return true
}

func (v *View) remove(id BalanceID) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deleted[id] = struct{}{}
	if _, ok := v.balances[id]; !ok {
		return false
	}
	delete(v.balances, id)
	return true
}

func (v *View) notify() {
	v.mu.RLock()
	fn := v.onChange
	var list []Balance
	if fn != nil {
		list = v.snapshotLocked()
	}
	v.mu.RUnlock()
	if fn != nil {
		fn(list)
	}
}

func (v *View) snapshotLocked() []Balance {
	out := make([]Balance, 0, len(v.balances))
	for _, b := range v.balances {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}
