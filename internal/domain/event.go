package domain

import "github.com/shopspring/decimal"

// Event types pushed to subscribers.
const (
	EventObserved  = "observed"
	EventConfirmed = "confirmed"
)

// IntentEvent is the payload emitted on every promotion of an intent.
type IntentEvent struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Status    Status          `json:"status"`
	Nickname  string          `json:"nickname"`
	Amount    decimal.Decimal `json:"amount"`
	Message   string          `json:"message"`
	Method    string          `json:"method"`
	TxRef     string          `json:"tx_ref,omitempty"`
	Timestamp int64           `json:"timestamp"`
}
