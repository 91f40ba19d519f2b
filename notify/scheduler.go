/*
scheduler.go - Periodic expiry sweep

PURPOSE:
  Balances that see no activity never produce ledger events, so expiry
  warnings for them come from a background sweep instead of the Watcher's
  event loop.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Lists active balances expiring within the warning window
  - Hands each to Watcher.CheckExpiry (which de-duplicates per expiry date)
  - Optionally deactivates balances whose expiry date has passed

USAGE:
  scheduler := notify.NewExpiryScheduler(ledgerSvc, watcher, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()
*/
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ticktalk/balance-engine/ledger"
)

// ExpirySource is the slice of ledger.Service the sweep needs.
type ExpirySource interface {
	ListExpiring(ctx context.Context, actor ledger.Actor, before time.Time) ([]ledger.Balance, error)
	SetActive(ctx context.Context, actor ledger.Actor, id ledger.BalanceID, active bool) (*ledger.Balance, error)
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Checked     int
	Warned      int
	Deactivated int
	Failed      int
}

// ExpiryScheduler runs Sweep on a ticker.
type ExpiryScheduler struct {
	Source        ExpirySource
	Watcher       *Watcher
	CheckInterval time.Duration
	Enabled       bool

	// DeactivateExpired switches balances past their expiry date to
	// inactive.
	DeactivateExpired bool

	// Now is the sweep clock.
	Now func() time.Time

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

func NewExpiryScheduler(src ExpirySource, w *Watcher, log zerolog.Logger) *ExpiryScheduler {
	return &ExpiryScheduler{
		Source:        src,
		Watcher:       w,
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
		log:           log,
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.log.Info().Msg("[Scheduler] Disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)
	go es.run()

	es.log.Info().Dur("interval", es.CheckInterval).Msg("[Scheduler] Started")
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker == nil {
		return
	}
	es.ticker.Stop()
	close(es.stop)
	es.wg.Wait()
	es.ticker = nil
	es.log.Info().Msg("[Scheduler] Stopped")
}

func (es *ExpiryScheduler) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.Sweep(context.Background())

	for {
		select {
		case <-es.ticker.C:
			es.Sweep(context.Background())
		case <-es.stop:
			return
		}
	}
}

// Sweep checks every active balance expiring within the watcher's window.
func (es *ExpiryScheduler) Sweep(ctx context.Context) SweepResult {
	var res SweepResult
	now := es.Now()
	cutoff := now.Add(es.Watcher.expiryWindow)

	balances, err := es.Source.ListExpiring(ctx, ledger.SystemActor, cutoff)
	if err != nil {
		es.log.Error().Err(err).Msg("[Scheduler] Error listing expiring balances")
		res.Failed++
		return res
	}

	for _, b := range balances {
		res.Checked++
		if es.DeactivateExpired && b.ExpiryDate != nil && !b.ExpiryDate.After(now) {
			if _, err := es.Source.SetActive(ctx, ledger.SystemActor, b.ID, false); err != nil {
				es.log.Error().Err(err).Str("balance_id", string(b.ID)).Msg("[Scheduler] Error deactivating expired balance")
				res.Failed++
			} else {
				res.Deactivated++
			}
			continue
		}
		if es.Watcher.CheckExpiry(ctx, b) {
			res.Warned++
		}
	}

	es.log.Info().
		Int("checked", res.Checked).
		Int("warned", res.Warned).
		Int("deactivated", res.Deactivated).
		Int("failed", res.Failed).
		Msg("[Scheduler] Sweep complete")
	return res
}
