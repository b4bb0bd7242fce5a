// Package tail hands out the fractional suffixes that make concurrent
// payment intents distinguishable by amount alone.
package tail

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tailpay/internal/domain"
)

// PendingSource exposes the pay amounts of intents that can still be matched.
// The intent store owns this set; the allocator never caches it.
type PendingSource interface {
	PendingPayAmounts(ctx context.Context, now time.Time) ([]decimal.Decimal, error)
}

type Config struct {
	Min         int
	Max         int
	Scale       int32
	Tolerance   decimal.Decimal
	MaxAttempts int
}

// Allocation is the result of one Allocate call. Degraded is set when the
// attempt budget ran out and uniqueness could not be checked.
type Allocation struct {
	Units     int
	Tail      decimal.Decimal
	PayAmount decimal.Decimal
	Degraded  bool
}

type Allocator struct {
	cfg      Config
	source   PendingSource
	gap      decimal.Decimal
	now      func() time.Time
	intn     func(n int) int
	mu       sync.Mutex
	reserved map[string]decimal.Decimal // pay amounts handed out but not yet persisted
}

func NewAllocator(cfg Config, source PendingSource) *Allocator {
	return &Allocator{
		cfg:      cfg,
		source:   source,
		gap:      cfg.Tolerance.Mul(decimal.NewFromInt(2)),
		now:      func() time.Time { return time.Now().UTC() },
		intn:     rand.IntN,
		reserved: make(map[string]decimal.Decimal),
	}
}

// SetClock overrides the time used to decide which intents are still live.
func (a *Allocator) SetClock(now func() time.Time) {
	a.now = now
}

// SetRand replaces the uniform source; n is the size of the tail range.
func (a *Allocator) SetRand(intn func(n int) int) {
	a.intn = intn
}

// Allocate picks a tail for base whose pay amount is more than twice the
// matching tolerance away from every live pending pay amount. The returned
// pay amount stays reserved until Release.
func (a *Allocator) Allocate(ctx context.Context, base decimal.Decimal) (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	pending, err := a.source.PendingPayAmounts(ctx, a.now())
	if err != nil {
		return Allocation{}, fmt.Errorf("load pending amounts: %w", err)
	}
	for _, r := range a.reserved {
		pending = append(pending, r)
	}

	for attempt := 0; attempt < a.cfg.MaxAttempts; attempt++ {
		alloc := a.draw(base)
		if !a.conflicts(alloc.PayAmount, pending) {
			a.reserved[alloc.PayAmount.String()] = alloc.PayAmount
			return alloc, nil
		}
	}

	// The local reservations may be stale relative to the store, so they are
	// the first thing dropped. Uniqueness is probabilistic from here on.
	a.reserved = make(map[string]decimal.Decimal)
	alloc := a.draw(base)
	alloc.Degraded = true
	a.reserved[alloc.PayAmount.String()] = alloc.PayAmount
	slog.Warn("tail allocation degraded, cleared reservations",
		"error", domain.ErrAllocationExhausted,
		"base_amount", base.String(),
		"attempts", a.cfg.MaxAttempts,
		"pending", len(pending))
	return alloc, nil
}

// Release drops the reservation for a pay amount once the intent is stored
// (or its creation failed).
func (a *Allocator) Release(payAmount decimal.Decimal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.reserved, payAmount.String())
}

func (a *Allocator) draw(base decimal.Decimal) Allocation {
	units := a.cfg.Min + a.intn(a.cfg.Max-a.cfg.Min+1)
	t := decimal.New(int64(units), -a.cfg.Scale)
	return Allocation{Units: units, Tail: t, PayAmount: base.Add(t)}
}

func (a *Allocator) conflicts(pay decimal.Decimal, pending []decimal.Decimal) bool {
	for _, p := range pending {
		if pay.Sub(p).Abs().LessThanOrEqual(a.gap) {
			return true
		}
	}
	return false
}
