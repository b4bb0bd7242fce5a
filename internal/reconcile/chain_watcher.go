package reconcile

import (
	"context"
	"log/slog"
	"time"

	"tailpay/internal/domain"
	"tailpay/internal/models"
	"tailpay/internal/service"
	"tailpay/pkg/chain"
)

// TransferSource streams transfers to the receiving address until ctx ends.
// It owns reconnection and may redeliver a transfer.
type TransferSource interface {
	StreamTransfers(ctx context.Context, out chan<- chain.Transfer) error
}

// ChainWatcher matches on-chain transfers against pending intents.
type ChainWatcher struct {
	source     TransferSource
	m          *matcher
	retryDelay time.Duration
}

// HandleTransfer matches a single transfer. Redelivery of an already matched
// transfer finds no pending intent and changes nothing.
func (w *ChainWatcher) HandleTransfer(ctx context.Context, t chain.Transfer) (*models.PaymentIntent, error) {
	if !w.m.material(t.Amount) {
		slog.Debug("transfer below alert threshold", "amount", t.Amount.String(), "tx", t.TxHash)
		return nil, nil
	}
	return w.m.match(ctx, t.Amount, service.Observation{
		Source: domain.SourceChain,
		TxRef:  t.TxHash,
		Height: int64(t.BlockNumber),
	})
}

// Run consumes the transfer stream until ctx is cancelled, restarting the
// stream after retryDelay whenever it ends with an error.
func (w *ChainWatcher) Run(ctx context.Context) {
	transfers := make(chan chain.Transfer, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			err := w.source.StreamTransfers(ctx, transfers)
			if ctx.Err() != nil {
				return
			}
			slog.Warn("transfer stream ended, restarting", "error", err, "delay", w.retryDelay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.retryDelay):
			}
		}
	}()
	slog.Info("chain watcher started")
	for {
		select {
		case <-ctx.Done():
			<-done
			slog.Info("chain watcher stopped")
			return
		case t := <-transfers:
			// errors are logged by the matcher; the transfer is not retried
			_, _ = w.HandleTransfer(ctx, t)
		}
	}
}
