package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"tailpay/internal/domain"
	"tailpay/internal/models"
	"tailpay/internal/service"
)

// BalanceSource samples the pooled exchange balance of the tracked asset.
type BalanceSource interface {
	Balance(ctx context.Context) (decimal.Decimal, error)
}

// BalancePoller turns positive balance deltas into matches. Several payments
// landing within one interval show up as a single delta and at most one
// intent is matched for it.
type BalancePoller struct {
	source  BalanceSource
	m       *matcher
	timeout time.Duration

	mu          sync.Mutex
	baseline    decimal.Decimal
	hasBaseline bool
}

// Poll takes one sample. The first successful sample only sets the baseline.
// A failed sample keeps the previous baseline so no delta is invented.
func (p *BalancePoller) Poll(ctx context.Context) (*models.PaymentIntent, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	sctx, cancel := context.WithTimeout(ctx, p.timeout)
	bal, err := p.source.Balance(sctx)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrSourceUnavailable, err)
	}
	if !p.hasBaseline {
		p.baseline, p.hasBaseline = bal, true
		slog.Info("exchange balance baseline", "balance", bal.String())
		return nil, nil
	}
	delta := bal.Sub(p.baseline)
	p.baseline = bal
	if !p.m.material(delta) {
		if !delta.IsZero() {
			slog.Debug("exchange balance changed", "delta", delta.String(), "balance", bal.String())
		}
		return nil, nil
	}
	slog.Info("exchange balance increased", "delta", delta.String(), "balance", bal.String())
	return p.m.match(ctx, delta, service.Observation{
		Source: domain.SourceExchange,
		TxRef:  fmt.Sprintf("BINANCE_%d", p.m.now().UnixMilli()),
		Height: domain.NoBlockHeight,
	})
}

// Baseline returns the last good sample.
func (p *BalancePoller) Baseline() (decimal.Decimal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.baseline, p.hasBaseline
}
