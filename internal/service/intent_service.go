package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"tailpay/config"
	"tailpay/internal/domain"
	"tailpay/internal/models"
	"tailpay/internal/repository"
	"tailpay/internal/tail"
)

// Metadata is carried through to notifications only.
type Metadata struct {
	Nickname string
	Message  string
}

// Observation describes the transfer that first matched an intent.
type Observation struct {
	Source string
	TxRef  string
	Height int64 // domain.NoBlockHeight for off-chain sources
}

// IntentService owns payment intents: creation, lookup, the status state
// machine and expiry. Every mutation goes through the repository's atomic
// conditional update.
type IntentService struct {
	cfg   config.IntentConfig
	repo  repository.IntentRepository
	alloc *tail.Allocator
	now   func() time.Time
}

func NewIntentService(cfg config.IntentConfig, repo repository.IntentRepository, alloc *tail.Allocator) *IntentService {
	return &IntentService{
		cfg:   cfg,
		repo:  repo,
		alloc: alloc,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the time source.
func (s *IntentService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *IntentService) Create(ctx context.Context, base decimal.Decimal, meta Metadata) (*models.PaymentIntent, error) {
	if err := s.validateAmount(base); err != nil {
		return nil, err
	}
	alloc, err := s.alloc.Allocate(ctx, base)
	if err != nil {
		return nil, err
	}
	defer s.alloc.Release(alloc.PayAmount)

	now := s.now()
	p := &models.PaymentIntent{
		ID:           uuid.NewString(),
		BaseAmount:   base,
		TailUnits:    alloc.Units,
		Tail:         alloc.Tail,
		PayAmount:    alloc.PayAmount,
		TailDegraded: alloc.Degraded,
		Status:       domain.StatusPending,
		Nickname:     meta.Nickname,
		Message:      meta.Message,
		ExpiresAt:    now.Add(s.cfg.Window),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	slog.Info("payment intent created",
		"intent_id", p.ID,
		"pay_amount", p.PayAmount.String(),
		"tail", p.Tail.String(),
		"expires_at", p.ExpiresAt,
		"tail_degraded", p.TailDegraded)
	return p, nil
}

func (s *IntentService) validateAmount(base decimal.Decimal) error {
	switch {
	case !base.IsPositive():
		return fmt.Errorf("%w: must be positive", domain.ErrInvalidAmount)
	case base.LessThan(s.cfg.MinAmount):
		return fmt.Errorf("%w: must be at least %s", domain.ErrInvalidAmount, s.cfg.MinAmount)
	case base.GreaterThan(s.cfg.MaxAmount):
		return fmt.Errorf("%w: must be at most %s", domain.ErrInvalidAmount, s.cfg.MaxAmount)
	case !base.Equal(base.Truncate(s.cfg.AmountPrecision)):
		return fmt.Errorf("%w: at most %d decimal places", domain.ErrInvalidAmount, s.cfg.AmountPrecision)
	}
	return nil
}

func (s *IntentService) FindByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return s.repo.GetByID(ctx, id)
}

// FindPendingByAmount returns the oldest live PENDING intent whose pay amount
// is within tolerance of amount.
func (s *IntentService) FindPendingByAmount(ctx context.Context, amount, tolerance decimal.Decimal) (*models.PaymentIntent, error) {
	return s.repo.FindPendingInRange(ctx, amount.Sub(tolerance), amount.Add(tolerance), s.now())
}

// Transition moves an intent to target along the only allowed edge. The
// observation is required on, and only recorded on, the edge into
// PARTIALLY_OBSERVED, which also refuses intents past their deadline.
func (s *IntentService) Transition(ctx context.Context, id string, target domain.Status, obs *Observation) (*models.PaymentIntent, error) {
	from, ok := target.Predecessor()
	if !ok {
		return nil, fmt.Errorf("%w: no transition into %q", domain.ErrInconsistentTransition, target)
	}
	t := repository.Transition{From: from, To: target, At: s.now()}
	if target == domain.StatusPartiallyObserved {
		if obs == nil {
			return nil, fmt.Errorf("%w: observation required", domain.ErrInconsistentTransition)
		}
		h := obs.Height
		t.Source = obs.Source
		t.TxRef = obs.TxRef
		t.Height = &h
		t.RequireLive = true
	}
	p, err := s.repo.ApplyTransition(ctx, id, t)
	if err != nil {
		return nil, err
	}
	slog.Info("payment intent status updated",
		"intent_id", p.ID,
		"from", from,
		"to", target,
		"tx_ref", p.ObservedTxRef)
	return p, nil
}

func (s *IntentService) ListPartiallyObserved(ctx context.Context) ([]models.PaymentIntent, error) {
	return s.repo.ListByStatus(ctx, domain.StatusPartiallyObserved, 0, false)
}

// SweepExpired expires every PENDING intent whose deadline is before now.
// Their tails become reusable since the pending set is read from storage.
func (s *IntentService) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := s.repo.ExpirePending(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("expire pending intents: %w", err)
	}
	if n > 0 {
		slog.Info("expired pending intents", "count", n)
	}
	return n, nil
}

// Recent lists the latest confirmed intents, newest first.
func (s *IntentService) Recent(ctx context.Context, limit int) ([]models.PaymentIntent, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.ListByStatus(ctx, domain.StatusConfirmed, limit, true)
}

func (s *IntentService) Stats(ctx context.Context) (map[domain.Status]int64, error) {
	return s.repo.CountByStatus(ctx)
}
