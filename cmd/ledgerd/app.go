package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/ticktalk/balance-engine/config"
	"github.com/ticktalk/balance-engine/ledger"
	"github.com/ticktalk/balance-engine/notify"
	"github.com/ticktalk/balance-engine/observability"
	"github.com/ticktalk/balance-engine/store/sqlite"
	"github.com/ticktalk/balance-engine/timer"
)

// app is the wired service graph shared by every command.
type app struct {
	Config    *config.Config
	Log       zerolog.Logger
	Store     *sqlite.Store
	Broker    *ledger.Broker
	Ledger    *ledger.Service
	Timers    *timer.Service
	Watcher   *notify.Watcher
	Scheduler *notify.ExpiryScheduler

	closers []func() error
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	log := observability.NewLogger(cfg.Log, version)

	if dir := filepath.Dir(cfg.Database.Path); cfg.Database.Path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	st, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	a := &app{Config: cfg, Log: log, Store: st}
	a.closers = append(a.closers, st.Close)

	a.Broker = ledger.NewBroker(cfg.Ledger.EventBuffer)
	a.Ledger = ledger.NewService(st,
		ledger.WithBroker(a.Broker),
		ledger.WithGenerator(&ledger.Generator{MaxAttempts: cfg.Ledger.IDMaxAttempts}),
		ledger.WithMaxRetries(cfg.Ledger.MaxConflictRetries),
		ledger.WithRecorder(observability.LedgerMetrics{}),
		ledger.WithLogger(log.With().Str("component", "ledger").Logger()),
	)
	a.Timers = timer.NewService(st, timer.WithLogger(log.With().Str("component", "timer").Logger()))

	dispatcher, err := a.dispatcher()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Watcher = notify.NewWatcher(dispatcher,
		notify.WithLowPercent(decimal.NewFromInt(int64(cfg.Notify.LowBalancePercent))),
		notify.WithExpiryWindow(cfg.Notify.ExpiryWindow),
		notify.WithWatcherLogger(log.With().Str("component", "notify").Logger()),
	)
	a.Scheduler = notify.NewExpiryScheduler(a.Ledger, a.Watcher, log.With().Str("component", "scheduler").Logger())
	a.Scheduler.CheckInterval = cfg.Notify.SweepInterval
	a.Scheduler.Enabled = cfg.Notify.Enabled
	a.Scheduler.DeactivateExpired = cfg.Notify.DeactivateExpired

	return a, nil
}

// dispatcher picks AMQP when a broker URL is configured, the log otherwise,
// and records every delivery in the database.
func (a *app) dispatcher() (notify.Dispatcher, error) {
	var next notify.Dispatcher = notify.LogDispatcher{Log: a.Log.With().Str("component", "notify").Logger()}
	if a.Config.Notify.AMQPURL != "" {
		d, err := notify.NewAMQPDispatcher(notify.AMQPConfig{
			URL:      a.Config.Notify.AMQPURL,
			Exchange: a.Config.Notify.Exchange,
		}, a.Log)
		if err != nil {
			return nil, fmt.Errorf("failed to connect notification broker: %w", err)
		}
		a.closers = append(a.closers, d.Close)
		next = d
	}
	return notify.Recorder{Next: next, Outbox: a.Store}, nil
}

// StartBackground starts the watcher and scheduler when notifications are on.
func (a *app) StartBackground() {
	if !a.Config.Notify.Enabled {
		return
	}
	a.Watcher.Start(a.Broker)
	a.Scheduler.Start()
}

func (a *app) Close() {
	a.Scheduler.Stop()
	a.Watcher.Stop()
	a.Broker.Close()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Log.Warn().Err(err).Msg("close failed")
		}
	}
}
