package database

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tailpay/config"
	"tailpay/internal/domain"
	"tailpay/internal/models"
	"tailpay/internal/repository"
)

func TestNewDBRejectsUnknownDriver(t *testing.T) {
	_, err := NewDB(&config.DatabaseConfig{Driver: "postgres", DSN: "x"})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestSQLiteUsesSingleConnection(t *testing.T) {
	db, err := NewDB(&config.DatabaseConfig{
		Driver:          "sqlite",
		DSN:             "file:" + uuid.NewString() + "?mode=memory&cache=shared",
		MaxIdleConns:    10,
		MaxOpenConns:    100,
		ConnMaxLifetime: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)

	// concurrent transition transactions serialise instead of failing busy
	repo := repository.NewGormIntentRepository(db)
	ctx := context.Background()
	now := time.Now().UTC()
	ids := make([]string, 16)
	for i := range ids {
		ids[i] = uuid.NewString()
		require.NoError(t, repo.Create(ctx, &models.PaymentIntent{
			ID:         ids[i],
			BaseAmount: decimal.NewFromInt(int64(i + 1)),
			PayAmount:  decimal.NewFromInt(int64(i + 1)),
			Status:     domain.StatusPending,
			ExpiresAt:  now.Add(time.Hour),
			CreatedAt:  now,
			UpdatedAt:  now,
		}))
	}
	var wg sync.WaitGroup
	errs := make(chan error, len(ids))
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ApplyTransition(ctx, id, repository.Transition{
				From: domain.StatusPending, To: domain.StatusExpired, At: now,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}
