package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailpay/config"
	"tailpay/internal/domain"
	"tailpay/internal/repository"
	"tailpay/internal/tail"
)

func newTestService(t *testing.T) (*IntentService, *time.Time) {
	t.Helper()
	cfg := config.IntentConfig{
		MinAmount:       decimal.NewFromInt(1),
		MaxAmount:       decimal.NewFromInt(10000),
		AmountPrecision: 2,
		Tolerance:       decimal.RequireFromString("0.00005"),
		Window:          30 * time.Minute,
	}
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	repo := repository.NewMemoryIntentRepository()
	alloc := tail.NewAllocator(tail.Config{Min: 1, Max: 9999, Scale: 6, Tolerance: cfg.Tolerance, MaxAttempts: 1000}, repo)
	alloc.SetClock(clock)
	svc := NewIntentService(cfg, repo, alloc)
	svc.SetClock(clock)
	return svc, &now
}

func TestCreateIntent(t *testing.T) {
	svc, now := newTestService(t)
	p, err := svc.Create(context.Background(), decimal.RequireFromString("12.5"), Metadata{Nickname: "a", Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, p.Status)
	assert.True(t, p.PayAmount.Equal(p.BaseAmount.Add(p.Tail)))
	assert.True(t, p.Tail.IsPositive() && p.Tail.LessThan(decimal.RequireFromString("0.01")))
	assert.Equal(t, now.Add(30*time.Minute), p.ExpiresAt)
	assert.Equal(t, "hi", p.Message)

	got, err := svc.FindByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestCreateRejectsInvalidAmounts(t *testing.T) {
	svc, _ := newTestService(t)
	for _, amount := range []string{"0", "-1", "0.99", "10000.01", "5.001"} {
		_, err := svc.Create(context.Background(), decimal.RequireFromString(amount), Metadata{})
		assert.ErrorIs(t, err, domain.ErrInvalidAmount, amount)
	}
	for _, amount := range []string{"1", "10000", "99.99"} {
		_, err := svc.Create(context.Background(), decimal.RequireFromString(amount), Metadata{})
		assert.NoError(t, err, amount)
	}
}

func TestPendingIntentsStaySeparated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	gap := decimal.RequireFromString("0.0001")
	var pays []decimal.Decimal
	for i := 0; i < 50; i++ {
		p, err := svc.Create(ctx, decimal.NewFromInt(5), Metadata{})
		require.NoError(t, err)
		require.False(t, p.TailDegraded)
		for _, other := range pays {
			assert.True(t, p.PayAmount.Sub(other).Abs().GreaterThan(gap))
		}
		pays = append(pays, p.PayAmount)
	}
}

func TestFindPendingByAmountTolerance(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, decimal.NewFromInt(10), Metadata{})
	require.NoError(t, err)
	tol := decimal.RequireFromString("0.00005")

	got, err := svc.FindPendingByAmount(ctx, p.PayAmount.Add(decimal.RequireFromString("0.00004")), tol)
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = svc.FindPendingByAmount(ctx, p.PayAmount.Add(decimal.RequireFromString("0.00006")), tol)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestTransitionRequiresObservation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	p, err := svc.Create(ctx, decimal.NewFromInt(10), Metadata{})
	require.NoError(t, err)

	_, err = svc.Transition(ctx, p.ID, domain.StatusPartiallyObserved, nil)
	assert.ErrorIs(t, err, domain.ErrInconsistentTransition)
	_, err = svc.Transition(ctx, p.ID, domain.StatusConfirmed, nil)
	assert.ErrorIs(t, err, domain.ErrInconsistentTransition)
	_, err = svc.Transition(ctx, "missing", domain.StatusExpired, nil)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRecentClampsLimit(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		p, err := svc.Create(ctx, decimal.NewFromInt(int64(10+i)), Metadata{})
		require.NoError(t, err)
		_, err = svc.Transition(ctx, p.ID, domain.StatusPartiallyObserved, &Observation{Source: domain.SourceManual, TxRef: "m", Height: domain.NoBlockHeight})
		require.NoError(t, err)
		_, err = svc.Transition(ctx, p.ID, domain.StatusConfirmed, nil)
		require.NoError(t, err)
	}
	list, err := svc.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, list, 2)
	list, err = svc.Recent(ctx, -1)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats[domain.StatusConfirmed])
}
