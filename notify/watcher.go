package notify

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/ticktalk/balance-engine/ledger"
)

const (
	DefaultLowPercent   = 20
	DefaultExpiryWindow = 14 * 24 * time.Hour
)

// RecipientFunc maps a customer id to a delivery address. The customer
// directory lives outside this service; the default uses the id as is.
type RecipientFunc func(ctx context.Context, customerID string) (string, error)

// Watcher applies notification rules to ledger events.
//
// RULES:
//   - balance.created                 -> balance-created
//   - balance.updated / tx logged     -> low-balance once per crossing of
//     the low threshold, balance-expiring once per expiry date
//   - transaction.logged              -> time-logged
//
// Inactive balances never trigger low-balance or balance-expiring.
type Watcher struct {
	dispatcher   Dispatcher
	recipient    RecipientFunc
	log          zerolog.Logger
	now          func() time.Time
	lowPercent   decimal.Decimal
	expiryWindow time.Duration

	mu             sync.Mutex
	lowNotified    map[ledger.BalanceID]bool
	expiryNotified map[ledger.BalanceID]time.Time

	sub *ledger.Subscription
	wg  sync.WaitGroup
}

type WatcherOption func(*Watcher)

func WithLowPercent(p decimal.Decimal) WatcherOption {
	return func(w *Watcher) { w.lowPercent = p }
}

func WithExpiryWindow(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.expiryWindow = d }
}

func WithRecipients(fn RecipientFunc) WatcherOption {
	return func(w *Watcher) { w.recipient = fn }
}

func WithWatcherLogger(l zerolog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

func WithWatcherClock(now func() time.Time) WatcherOption {
	return func(w *Watcher) { w.now = now }
}

func NewWatcher(d Dispatcher, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dispatcher:     d,
		recipient:      func(_ context.Context, id string) (string, error) { return id, nil },
		log:            zerolog.Nop(),
		now:            time.Now,
		lowPercent:     decimal.NewFromInt(DefaultLowPercent),
		expiryWindow:   DefaultExpiryWindow,
		lowNotified:    make(map[ledger.BalanceID]bool),
		expiryNotified: make(map[ledger.BalanceID]time.Time),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start consumes events from broker until Stop.
func (w *Watcher) Start(broker *ledger.Broker) {
	w.sub = broker.Subscribe(func(e ledger.Event) bool {
		return e.Type != ledger.EventTransactionCorrected
	})
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case e, ok := <-w.sub.Events():
				if !ok {
					return
				}
				w.Handle(context.Background(), e)
			case <-w.sub.Overflowed():
				if w.sub.TakeOverflow() {
					// Lost events cannot be replayed; the expiry sweep still
					// covers expiring balances.
					w.log.Warn().Uint64("dropped_total", broker.Dropped()).Msg("[Watcher] Events dropped, notifications may be missing")
				}
			}
		}
	}()
	w.log.Info().Msg("[Watcher] Started")
}

func (w *Watcher) Stop() {
	if w.sub == nil {
		return
	}
	w.sub.Close()
	w.wg.Wait()
	w.log.Info().Msg("[Watcher] Stopped")
}

// Handle applies the rules to one event and returns what was dispatched.
func (w *Watcher) Handle(ctx context.Context, e ledger.Event) []Notification {
	var sent []Notification
	send := func(n *Notification) {
		if n != nil {
			sent = append(sent, *n)
		}
	}

	switch e.Type {
	case ledger.EventBalanceCreated:
		if e.Balance != nil {
			send(w.send(ctx, *e.Balance, TemplateBalanceCreated, w.balanceData(*e.Balance)))
		}
	case ledger.EventBalanceUpdated:
		if e.Balance != nil {
			send(w.checkLow(ctx, *e.Balance))
			send(w.checkExpiry(ctx, *e.Balance))
		}
	case ledger.EventTransactionLogged:
		if e.Balance != nil && e.Transaction != nil {
			data := w.balanceData(*e.Balance)
			data["title"] = e.Transaction.Title
			data["amount"] = ledger.FormatAmount(e.Transaction.Amount, e.Balance.Kind)
			data["serviceDate"] = e.Transaction.ServiceDate.Format("2006-01-02")
			send(w.send(ctx, *e.Balance, TemplateTimeLogged, data))
			send(w.checkLow(ctx, *e.Balance))
			send(w.checkExpiry(ctx, *e.Balance))
		}
	case ledger.EventBalanceDeleted:
		w.mu.Lock()
		delete(w.lowNotified, e.BalanceID)
		delete(w.expiryNotified, e.BalanceID)
		w.mu.Unlock()
	}
	return sent
}

// CheckExpiry sends balance-expiring for b when due. The expiry sweep
// calls it for balances that see no other activity.
func (w *Watcher) CheckExpiry(ctx context.Context, b ledger.Balance) bool {
	return w.checkExpiry(ctx, b) != nil
}

func (w *Watcher) checkLow(ctx context.Context, b ledger.Balance) *Notification {
	low := b.IsActive() && ledger.IsLow(b, w.lowPercent)

	w.mu.Lock()
	already := w.lowNotified[b.ID]
	w.lowNotified[b.ID] = low
	w.mu.Unlock()

	if !low || already {
		return nil
	}
	data := w.balanceData(b)
	data["percentRemaining"] = ledger.RemainingPercent(b).Round(0).String()
	return w.send(ctx, b, TemplateLowBalance, data)
}

func (w *Watcher) checkExpiry(ctx context.Context, b ledger.Balance) *Notification {
	if !b.IsActive() || b.ExpiryDate == nil {
		return nil
	}
	until := b.ExpiryDate.Sub(w.now())
	if until > w.expiryWindow {
		return nil
	}

	w.mu.Lock()
	last, seen := w.expiryNotified[b.ID]
	if seen && last.Equal(*b.ExpiryDate) {
		w.mu.Unlock()
		return nil
	}
	w.expiryNotified[b.ID] = *b.ExpiryDate
	w.mu.Unlock()

	data := w.balanceData(b)
	data["daysUntilExpiry"] = strconv.Itoa(int(until.Hours() / 24))
	return w.send(ctx, b, TemplateBalanceExpiring, data)
}

func (w *Watcher) send(ctx context.Context, b ledger.Balance, t Template, data map[string]string) *Notification {
	to, err := w.recipient(ctx, b.CustomerID)
	if err != nil || to == "" {
		w.log.Warn().Err(err).Str("customer_id", b.CustomerID).Str("template", string(t)).Msg("no recipient for notification")
		return nil
	}
	n := New(to, t, data, w.now())
	if err := w.dispatcher.Dispatch(ctx, n); err != nil {
		w.log.Error().Err(err).Str("notification_id", n.ID).Str("template", string(t)).Msg("notification dispatch failed")
	}
	return &n
}

func (w *Watcher) balanceData(b ledger.Balance) map[string]string {
	data := map[string]string{
		"balanceId":     string(b.ID),
		"balanceNumber": ledger.DisplayNumber(b.ID),
		"customerId":    b.CustomerID,
		"kind":          string(b.Kind),
		"initial":       ledger.FormatAmount(b.InitialAmount, b.Kind),
		"remaining":     ledger.FormatAmount(b.CurrentAmount, b.Kind),
	}
	if b.ExpiryDate != nil {
		data["expiryDate"] = b.ExpiryDate.Format("2006-01-02")
	}
	return data
}
