package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"tailpay/internal/domain"
	"tailpay/internal/notify"
)

// HeightSource reports the current chain head.
type HeightSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// ConfirmationSweeper promotes observed intents to CONFIRMED: on-chain ones
// once they are Depth blocks deep, off-chain ones after OffChainDelay.
type ConfirmationSweeper struct {
	store         IntentStore
	heights       HeightSource
	notifier      notify.Notifier
	depth         uint64
	offChainDelay time.Duration
	timeout       time.Duration
	now           func() time.Time
}

// Sweep runs one cycle and returns how many intents were confirmed. A failed
// height query only skips on-chain candidates.
func (s *ConfirmationSweeper) Sweep(ctx context.Context) (int, error) {
	list, err := s.store.ListPartiallyObserved(ctx)
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		return 0, nil
	}

	var head uint64
	var headErr error
	for i := range list {
		if !list[i].OffChain() {
			head, headErr = s.head(ctx)
			break
		}
	}
	if headErr != nil {
		slog.Warn("chain height unavailable, skipping on-chain confirmations", "error", headErr)
	}

	now := s.now()
	confirmed := 0
	for i := range list {
		p := &list[i]
		var ready bool
		if p.OffChain() {
			ready = p.ObservedAt != nil && now.Sub(*p.ObservedAt) >= s.offChainDelay
		} else if headErr == nil {
			h := uint64(*p.ObservedAtHeight)
			ready = head >= h && head-h >= s.depth
		}
		if !ready {
			continue
		}
		done, err := s.store.Transition(ctx, p.ID, domain.StatusConfirmed, nil)
		if errors.Is(err, domain.ErrInconsistentTransition) || errors.Is(err, domain.ErrNotFound) {
			slog.Warn("confirmation rejected", "intent_id", p.ID, "error", err)
			continue
		}
		if err != nil {
			return confirmed, err
		}
		confirmed++
		slog.Info("payment confirmed",
			"intent_id", done.ID,
			"amount", done.PayAmount.String(),
			"tx_ref", done.ObservedTxRef,
			"head", head)
		s.notifier.Emit(done.Event(domain.EventConfirmed, now))
	}
	return confirmed, nil
}

func (s *ConfirmationSweeper) head(ctx context.Context) (uint64, error) {
	if s.heights == nil {
		return 0, domain.ErrSourceUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	h, err := s.heights.BlockNumber(ctx)
	if err != nil {
		return 0, errors.Join(domain.ErrSourceUnavailable, err)
	}
	return h, nil
}

// ExpirySweeper demotes PENDING intents whose deadline has passed.
type ExpirySweeper struct {
	store IntentStore
	now   func() time.Time
}

func (s *ExpirySweeper) Sweep(ctx context.Context) (int64, error) {
	return s.store.SweepExpired(ctx, s.now())
}
