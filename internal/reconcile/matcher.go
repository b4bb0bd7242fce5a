// Package reconcile matches observed payments against pending intents and
// drives intents through confirmation and expiry.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"tailpay/internal/domain"
	"tailpay/internal/models"
	"tailpay/internal/notify"
	"tailpay/internal/service"
)

// IntentStore is the subset of the intent service the engine drives.
type IntentStore interface {
	FindPendingByAmount(ctx context.Context, amount, tolerance decimal.Decimal) (*models.PaymentIntent, error)
	Transition(ctx context.Context, id string, target domain.Status, obs *service.Observation) (*models.PaymentIntent, error)
	ListPartiallyObserved(ctx context.Context) ([]models.PaymentIntent, error)
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	Stats(ctx context.Context) (map[domain.Status]int64, error)
}

// matcher performs the first-stage transition shared by every source.
type matcher struct {
	store     IntentStore
	notifier  notify.Notifier
	tolerance decimal.Decimal
	minAlert  decimal.Decimal
	now       func() time.Time
}

// material reports whether amount is large enough to be worth matching.
func (m *matcher) material(amount decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(m.minAlert)
}

// match promotes the oldest pending intent within tolerance of amount to
// PARTIALLY_OBSERVED. It returns domain.ErrNotFound when nothing matches.
func (m *matcher) match(ctx context.Context, amount decimal.Decimal, obs service.Observation) (*models.PaymentIntent, error) {
	p, err := m.store.FindPendingByAmount(ctx, amount, m.tolerance)
	if errors.Is(err, domain.ErrNotFound) {
		slog.Info("unmatched payment",
			"source", obs.Source,
			"amount", amount.String(),
			"tx_ref", obs.TxRef)
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	p, err = m.store.Transition(ctx, p.ID, domain.StatusPartiallyObserved, &obs)
	if err != nil {
		// Lost a race with another source or the deadline passed between
		// lookup and update; the store left the intent untouched.
		slog.Warn("match rejected",
			"source", obs.Source,
			"amount", amount.String(),
			"tx_ref", obs.TxRef,
			"error", err)
		return nil, err
	}
	slog.Info("payment matched",
		"intent_id", p.ID,
		"source", obs.Source,
		"amount", amount.String(),
		"tx_ref", obs.TxRef,
		"height", obs.Height)
	m.notifier.Emit(p.Event(domain.EventObserved, m.now()))
	return p, nil
}
