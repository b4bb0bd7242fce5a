package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tailpay/internal/domain"
	"tailpay/internal/models"
)

// MemoryIntentRepository keeps intents in process memory. Used in tests and
// when no database is configured.
type MemoryIntentRepository struct {
	mu      sync.RWMutex
	intents map[string]*models.PaymentIntent
	order   []string // insertion order, tie-break for equal CreatedAt
}

func NewMemoryIntentRepository() *MemoryIntentRepository {
	return &MemoryIntentRepository{intents: make(map[string]*models.PaymentIntent)}
}

func (r *MemoryIntentRepository) Create(_ context.Context, p *models.PaymentIntent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}
	cp := *p
	r.intents[p.ID] = &cp
	r.order = append(r.order, p.ID)
	return nil
}

func (r *MemoryIntentRepository) GetByID(_ context.Context, id string) (*models.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryIntentRepository) FindPendingInRange(_ context.Context, lo, hi decimal.Decimal, now time.Time) (*models.PaymentIntent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var best *models.PaymentIntent
	for _, id := range r.order {
		p := r.intents[id]
		if p.Status != domain.StatusPending || !p.ExpiresAt.After(now) {
			continue
		}
		if p.PayAmount.LessThan(lo) || p.PayAmount.GreaterThan(hi) {
			continue
		}
		if best == nil || p.CreatedAt.Before(best.CreatedAt) {
			best = p
		}
	}
	if best == nil {
		return nil, domain.ErrNotFound
	}
	cp := *best
	return &cp, nil
}

func (r *MemoryIntentRepository) PendingPayAmounts(_ context.Context, now time.Time) ([]decimal.Decimal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []decimal.Decimal
	for _, p := range r.intents {
		if p.Status == domain.StatusPending && p.ExpiresAt.After(now) {
			out = append(out, p.PayAmount)
		}
	}
	return out, nil
}

func (r *MemoryIntentRepository) ApplyTransition(_ context.Context, id string, t Transition) (*models.PaymentIntent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.intents[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if p.Status != t.From || (t.RequireLive && !p.ExpiresAt.After(t.At)) {
		return nil, rejectTransition(p, t)
	}
	at := t.At
	p.Status = t.To
	p.UpdatedAt = at
	switch t.To {
	case domain.StatusPartiallyObserved:
		p.Source = t.Source
		p.ObservedTxRef = t.TxRef
		if t.Height != nil {
			h := *t.Height
			p.ObservedAtHeight = &h
		}
		p.ObservedAt = &at
	case domain.StatusConfirmed:
		p.ConfirmedAt = &at
	}
	cp := *p
	return &cp, nil
}

func (r *MemoryIntentRepository) ListByStatus(_ context.Context, status domain.Status, limit int, newestFirst bool) ([]models.PaymentIntent, error) {
	r.mu.RLock()
	var list []models.PaymentIntent
	for _, id := range r.order {
		if p := r.intents[id]; p.Status == status {
			list = append(list, *p)
		}
	}
	r.mu.RUnlock()
	sort.SliceStable(list, func(i, j int) bool {
		if newestFirst {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].CreatedAt.Before(list[j].CreatedAt)
	})
	if limit > 0 && len(list) > limit {
		list = list[:limit]
	}
	return list, nil
}

func (r *MemoryIntentRepository) ExpirePending(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, p := range r.intents {
		if p.Status == domain.StatusPending && p.ExpiresAt.Before(now) {
			p.Status = domain.StatusExpired
			p.UpdatedAt = now
			n++
		}
	}
	return n, nil
}

func (r *MemoryIntentRepository) CountByStatus(_ context.Context) (map[domain.Status]int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[domain.Status]int64)
	for _, p := range r.intents {
		out[p.Status]++
	}
	return out, nil
}
