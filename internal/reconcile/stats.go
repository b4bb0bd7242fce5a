package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tailpay/internal/domain"
)

// SubscriberCounter reports connected push subscribers.
type SubscriberCounter interface {
	ClientCount() int
}

// TokenBalanceSource reports the receiving wallet's on-chain balance.
type TokenBalanceSource interface {
	BalanceOf(ctx context.Context) (decimal.Decimal, error)
}

// StatsReporter periodically logs intent counts and source health.
type StatsReporter struct {
	store       IntentStore
	subscribers SubscriberCounter
	wallet      TokenBalanceSource
	timeout     time.Duration
}

func (r *StatsReporter) Report(ctx context.Context) error {
	counts, err := r.store.Stats(ctx)
	if err != nil {
		return err
	}
	attrs := []any{
		"pending", counts[domain.StatusPending],
		"partially_observed", counts[domain.StatusPartiallyObserved],
		"confirmed", counts[domain.StatusConfirmed],
		"expired", counts[domain.StatusExpired],
	}
	if r.subscribers != nil {
		attrs = append(attrs, "subscribers", r.subscribers.ClientCount())
	}
	if r.wallet != nil {
		bctx, cancel := context.WithTimeout(ctx, r.timeout)
		bal, err := r.wallet.BalanceOf(bctx)
		cancel()
		if err != nil {
			attrs = append(attrs, "wallet_error", err.Error())
		} else {
			attrs = append(attrs, "wallet_balance", bal.String())
		}
	}
	slog.Info("intent stats", attrs...)
	return nil
}
