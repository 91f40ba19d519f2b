package ledger

import (
	"sync"
	"sync/atomic"
	"time"
)

// =============================================================================
// CHANGE EVENTS
// =============================================================================

// EventType names a committed change.
type EventType string

const (
	EventBalanceCreated       EventType = "balance.created"
	EventBalanceUpdated       EventType = "balance.updated"
	EventBalanceDeleted       EventType = "balance.deleted"
	EventTransactionLogged    EventType = "transaction.logged"
	EventTransactionCorrected EventType = "transaction.corrected"
)

// Event is published after a unit of work commits, never before.
// Balance is the committed state (nil for deletions).
type Event struct {
	Type        EventType
	BalanceID   BalanceID
	Balance     *Balance
	Transaction *Transaction
	At          time.Time
}

// =============================================================================
// BROKER
// =============================================================================

// Broker fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full loses the event, the drop is counted and the
// subscription is marked as overflowed so it can resynchronize.
type Broker struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	buffer  int
	closed  bool
	dropped atomic.Uint64
}

// DefaultEventBuffer is the per-subscriber channel capacity.
const DefaultEventBuffer = 64

func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = DefaultEventBuffer
	}
	return &Broker{subs: make(map[uint64]*Subscription), buffer: buffer}
}

// Subscription is one listener. Close it when done.
type Subscription struct {
	id     uint64
	ch     chan Event
	filter func(Event) bool
	broker *Broker
	once   sync.Once

	overflow atomic.Bool
	lost     chan struct{}
}

// Subscribe registers a listener. A nil filter receives everything.
func (b *Broker) Subscribe(filter func(Event) bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	s := &Subscription{
		id:     b.nextID,
		ch:     make(chan Event, b.buffer),
		filter: filter,
		broker: b,
		lost:   make(chan struct{}, 1),
	}
	if b.closed {
		close(s.ch)
		s.once.Do(func() {})
		return s
	}
	b.subs[s.id] = s
	return s
}

func (s *Subscription) Events() <-chan Event { return s.ch }

// Overflowed fires after at least one event was dropped for this
// subscription. It never closes; select on it alongside Events.
func (s *Subscription) Overflowed() <-chan struct{} { return s.lost }

// TakeOverflow reports whether events were dropped since the last call and
// clears the mark.
func (s *Subscription) TakeOverflow() bool { return s.overflow.Swap(false) }

func (s *Subscription) markOverflow() {
	s.overflow.Store(true)
	select {
	case s.lost <- struct{}{}:
	default:
	}
}

func (s *Subscription) Close() {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s.id)
		s.broker.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers e to every matching subscriber without blocking.
func (b *Broker) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.subs {
		if s.filter != nil && !s.filter(e) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
			s.markOverflow()
		}
	}
}

// Dropped is the number of deliveries lost to full buffers.
func (b *Broker) Dropped() uint64 { return b.dropped.Load() }

// Subscribers is the current listener count.
func (b *Broker) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broker) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[uint64]*Subscription)
	b.mu.Unlock()

	for _, s := range subs {
		s.once.Do(func() { close(s.ch) })
	}
}
