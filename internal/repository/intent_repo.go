package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"tailpay/internal/domain"
	"tailpay/internal/models"
)

// Transition is a conditional status change applied atomically: it only
// happens while the intent is still in From (and, with RequireLive, not yet
// past its deadline at At).
type Transition struct {
	From        domain.Status
	To          domain.Status
	Source      string
	TxRef       string
	Height      *int64
	At          time.Time
	RequireLive bool
}

// IntentRepository is the storage contract shared by the durable and the
// in-memory implementation.
type IntentRepository interface {
	Create(ctx context.Context, p *models.PaymentIntent) error
	GetByID(ctx context.Context, id string) (*models.PaymentIntent, error)
	// FindPendingInRange returns the oldest live PENDING intent whose pay
	// amount lies in [lo, hi].
	FindPendingInRange(ctx context.Context, lo, hi decimal.Decimal, now time.Time) (*models.PaymentIntent, error)
	PendingPayAmounts(ctx context.Context, now time.Time) ([]decimal.Decimal, error)
	ApplyTransition(ctx context.Context, id string, t Transition) (*models.PaymentIntent, error)
	ListByStatus(ctx context.Context, status domain.Status, limit int, newestFirst bool) ([]models.PaymentIntent, error)
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
	CountByStatus(ctx context.Context) (map[domain.Status]int64, error)
}

type GormIntentRepository struct {
	db *gorm.DB
}

func NewGormIntentRepository(db *gorm.DB) *GormIntentRepository {
	return &GormIntentRepository{db: db}
}

func (r *GormIntentRepository) Create(ctx context.Context, p *models.PaymentIntent) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *GormIntentRepository) GetByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	var p models.PaymentIntent
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormIntentRepository) FindPendingInRange(ctx context.Context, lo, hi decimal.Decimal, now time.Time) (*models.PaymentIntent, error) {
	var p models.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at > ?", domain.StatusPending, now).
		Where("pay_amount >= ? AND pay_amount <= ?", lo, hi).
		Order("created_at ASC").Order("id ASC").
		First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *GormIntentRepository) PendingPayAmounts(ctx context.Context, now time.Time) ([]decimal.Decimal, error) {
	var rows []models.PaymentIntent
	err := r.db.WithContext(ctx).
		Select("pay_amount").
		Where("status = ? AND expires_at > ?", domain.StatusPending, now).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.PayAmount)
	}
	return out, nil
}

func (r *GormIntentRepository) ApplyTransition(ctx context.Context, id string, t Transition) (*models.PaymentIntent, error) {
	updates := transitionColumns(t)
	var out models.PaymentIntent
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&models.PaymentIntent{}).Where("id = ? AND status = ?", id, t.From)
		if t.RequireLive {
			q = q.Where("expires_at > ?", t.At)
		}
		res := q.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var cur models.PaymentIntent
			if err := tx.Where("id = ?", id).First(&cur).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domain.ErrNotFound
				}
				return err
			}
			return rejectTransition(&cur, t)
		}
		return tx.Where("id = ?", id).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *GormIntentRepository) ListByStatus(ctx context.Context, status domain.Status, limit int, newestFirst bool) ([]models.PaymentIntent, error) {
	order := "created_at ASC"
	if newestFirst {
		order = "created_at DESC"
	}
	q := r.db.WithContext(ctx).Where("status = ?", status).Order(order)
	if limit > 0 {
		q = q.Limit(limit)
	}
	var list []models.PaymentIntent
	err := q.Find(&list).Error
	return list, err
}

func (r *GormIntentRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Where("status = ? AND expires_at < ?", domain.StatusPending, now).
		Updates(map[string]interface{}{"status": domain.StatusExpired, "updated_at": now})
	return res.RowsAffected, res.Error
}

func (r *GormIntentRepository) CountByStatus(ctx context.Context) (map[domain.Status]int64, error) {
	var rows []struct {
		Status domain.Status
		Total  int64
	}
	err := r.db.WithContext(ctx).Model(&models.PaymentIntent{}).
		Select("status, COUNT(*) AS total").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[domain.Status]int64, len(rows))
	for _, row := range rows {
		out[row.Status] = row.Total
	}
	return out, nil
}

func transitionColumns(t Transition) map[string]interface{} {
	cols := map[string]interface{}{"status": t.To, "updated_at": t.At}
	switch t.To {
	case domain.StatusPartiallyObserved:
		cols["source"] = t.Source
		cols["observed_tx_ref"] = t.TxRef
		cols["observed_at_height"] = t.Height
		cols["observed_at"] = t.At
	case domain.StatusConfirmed:
		cols["confirmed_at"] = t.At
	}
	return cols
}

// rejectTransition explains why a conditional update matched no row.
func rejectTransition(cur *models.PaymentIntent, t Transition) error {
	if cur.Status == t.From && t.RequireLive && !cur.ExpiresAt.After(t.At) {
		return fmt.Errorf("%w: intent %s expired at %s", domain.ErrInconsistentTransition, cur.ID, cur.ExpiresAt.Format(time.RFC3339))
	}
	return fmt.Errorf("%w: intent %s is %s, cannot move %s -> %s", domain.ErrInconsistentTransition, cur.ID, cur.Status, t.From, t.To)
}
