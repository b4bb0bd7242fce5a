package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"tailpay/config"
	"tailpay/internal/notify"
	"tailpay/internal/scheduler"
)

// Sources are the optional data sources. A nil source disables the
// components that depend on it.
type Sources struct {
	Transfers   TransferSource
	Heights     HeightSource
	Balances    BalanceSource
	Wallet      TokenBalanceSource
	Subscribers SubscriberCounter
}

// Engine owns the watcher, the poller and the sweepers and their lifecycle.
type Engine struct {
	Watcher   *ChainWatcher
	Poller    *BalancePoller
	Confirmer *ConfirmationSweeper
	Expirer   *ExpirySweeper
	Reporter  *StatsReporter

	tasks  []scheduler.Task
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewEngine(cfg *config.Config, store IntentStore, notifier notify.Notifier, src Sources) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	now := func() time.Time { return time.Now().UTC() }
	m := &matcher{
		store:     store,
		notifier:  notifier,
		tolerance: cfg.Intent.Tolerance,
		minAlert:  cfg.Intent.MinAlertAmount,
		now:       now,
	}
	e := &Engine{
		Confirmer: &ConfirmationSweeper{
			store:         store,
			heights:       src.Heights,
			notifier:      notifier,
			depth:         cfg.Chain.Confirmations,
			offChainDelay: cfg.Exchange.ConfirmDelay,
			timeout:       cfg.Chain.CallTimeout,
			now:           now,
		},
		Expirer:  &ExpirySweeper{store: store, now: now},
		Reporter: &StatsReporter{store: store, subscribers: src.Subscribers, wallet: src.Wallet, timeout: cfg.Chain.CallTimeout},
	}
	if src.Transfers != nil {
		e.Watcher = &ChainWatcher{source: src.Transfers, m: m, retryDelay: cfg.Chain.ReconnectDelay}
	}
	if src.Balances != nil {
		e.Poller = &BalancePoller{source: src.Balances, m: m, timeout: cfg.Exchange.CallTimeout}
	}

	confirmEvery := minDuration(cfg.Chain.ConfirmInterval, cfg.Exchange.ConfirmDelay)
	tasks := []scheduler.Task{
		{
			Name:     "confirmation-sweeper",
			Interval: confirmEvery,
			Timeout:  confirmEvery,
			Run: func(ctx context.Context) error {
				_, err := e.Confirmer.Sweep(ctx)
				return err
			},
		},
		{
			Name:       "expiry-sweeper",
			Interval:   cfg.Intent.SweepInterval,
			Timeout:    cfg.Intent.SweepInterval,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				_, err := e.Expirer.Sweep(ctx)
				return err
			},
		},
		{
			Name:     "stats-reporter",
			Interval: cfg.Stats.Interval,
			Timeout:  cfg.Stats.Interval,
			Run:      e.Reporter.Report,
		},
	}
	if e.Poller != nil {
		tasks = append(tasks, scheduler.Task{
			Name:       "balance-poller",
			Interval:   cfg.Exchange.PollInterval,
			Timeout:    cfg.Exchange.PollInterval,
			RunAtStart: true,
			Run: func(ctx context.Context) error {
				_, err := e.Poller.Poll(ctx)
				return err
			},
		})
	}
	// A cycle may not outlive its period.
	e.tasks = tasks
	e.sched = scheduler.New(tasks...)
	return e
}

// Start launches every periodic task and the chain watcher.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.sched.Start(ctx)
	if e.Watcher != nil {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.Watcher.Run(ctx)
		}()
	}
	slog.Info("reconciliation engine started",
		"chain_watcher", e.Watcher != nil,
		"balance_poller", e.Poller != nil)
}

// Stop cancels all tasks and waits for in-flight cycles. Transitions are
// atomic in the store, so a cancelled cycle leaves no partial state.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}
	e.cancel()
	e.sched.Stop()
	e.wg.Wait()
	slog.Info("reconciliation engine stopped")
}

// minDuration ignores non-positive values.
func minDuration(a, b time.Duration) time.Duration {
	if b <= 0 || a < b {
		return a
	}
	return b
}
