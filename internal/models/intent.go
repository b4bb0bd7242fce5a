package models

import (
	"time"

	"github.com/shopspring/decimal"

	"tailpay/internal/domain"
)

// PaymentIntent is an expected incoming payment keyed by its tailed amount.
type PaymentIntent struct {
	ID               string          `gorm:"primaryKey;size:36" json:"id"`
	BaseAmount       decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"base_amount"`
	TailUnits        int             `gorm:"not null" json:"-"`
	Tail             decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"tail"`
	PayAmount        decimal.Decimal `gorm:"type:decimal(20,6);not null;index" json:"pay_amount"`
	TailDegraded     bool            `gorm:"not null;default:false" json:"tail_degraded,omitempty"`
	Status           domain.Status   `gorm:"size:24;not null;index" json:"status"`
	Source           string          `gorm:"size:16" json:"source,omitempty"`
	ObservedTxRef    string          `gorm:"size:128" json:"tx_ref,omitempty"`
	ObservedAtHeight *int64          `json:"observed_at_height,omitempty"`
	ObservedAt       *time.Time      `json:"observed_at,omitempty"`
	Nickname         string          `gorm:"size:100" json:"nickname"`
	Message          string          `gorm:"size:500" json:"message"`
	ExpiresAt        time.Time       `gorm:"not null;index" json:"expires_at"`
	ConfirmedAt      *time.Time      `json:"confirmed_at,omitempty"`
	CreatedAt        time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

func (PaymentIntent) TableName() string {
	return "payment_intents"
}

// OffChain reports whether the observation carries no block height.
func (p *PaymentIntent) OffChain() bool {
	return p.ObservedAtHeight == nil || *p.ObservedAtHeight == domain.NoBlockHeight
}

// Method names the payment rail the intent was observed on.
func (p *PaymentIntent) Method() string {
	switch p.Source {
	case domain.SourceExchange:
		return "Binance"
	case domain.SourceManual:
		return "Manual"
	}
	return "BEP20"
}

// Event builds the notification payload for this intent.
func (p *PaymentIntent) Event(eventType string, now time.Time) domain.IntentEvent {
	nickname := p.Nickname
	if nickname == "" {
		nickname = domain.DefaultNickname
	}
	return domain.IntentEvent{
		Type:      eventType,
		ID:        p.ID,
		Status:    p.Status,
		Nickname:  nickname,
		Amount:    p.PayAmount,
		Message:   p.Message,
		Method:    p.Method(),
		TxRef:     p.ObservedTxRef,
		Timestamp: now.UnixMilli(),
	}
}
