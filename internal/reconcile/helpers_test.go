package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"tailpay/config"
	"tailpay/internal/domain"
	"tailpay/internal/models"
	"tailpay/internal/repository"
	"tailpay/internal/service"
	"tailpay/internal/tail"
	"tailpay/pkg/chain"
)

func testConfig() *config.Config {
	return &config.Config{
		Intent: config.IntentConfig{
			MinAmount:       decimal.NewFromInt(1),
			MaxAmount:       decimal.NewFromInt(10000),
			AmountPrecision: 2,
			TailMin:         1,
			TailMax:         9999,
			TailScale:       6,
			MaxTailAttempts: 1000,
			Tolerance:       decimal.RequireFromString("0.00005"),
			MinAlertAmount:  decimal.RequireFromString("1.00"),
			Window:          30 * time.Minute,
			SweepInterval:   time.Minute,
		},
		Chain: config.ChainConfig{
			Confirmations:   12,
			ConfirmInterval: 15 * time.Second,
			CallTimeout:     time.Second,
			ReconnectDelay:  10 * time.Millisecond,
		},
		Exchange: config.ExchangeConfig{
			PollInterval: 10 * time.Second,
			ConfirmDelay: 2 * time.Second,
			CallTimeout:  time.Second,
		},
		Stats: config.StatsConfig{Interval: 10 * time.Minute},
	}
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recorder struct {
	mu     sync.Mutex
	events []domain.IntentEvent
}

func (r *recorder) Emit(evt domain.IntentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type fixture struct {
	cfg    *config.Config
	clock  *clock
	repo   *repository.MemoryIntentRepository
	alloc  *tail.Allocator
	svc    *service.IntentService
	events *recorder
	m      *matcher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	clk := &clock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	repo := repository.NewMemoryIntentRepository()
	alloc := tail.NewAllocator(tail.Config{
		Min:         cfg.Intent.TailMin,
		Max:         cfg.Intent.TailMax,
		Scale:       cfg.Intent.TailScale,
		Tolerance:   cfg.Intent.Tolerance,
		MaxAttempts: cfg.Intent.MaxTailAttempts,
	}, repo)
	alloc.SetClock(clk.Now)
	svc := service.NewIntentService(cfg.Intent, repo, alloc)
	svc.SetClock(clk.Now)
	events := &recorder{}
	return &fixture{
		cfg:    cfg,
		clock:  clk,
		repo:   repo,
		alloc:  alloc,
		svc:    svc,
		events: events,
		m: &matcher{
			store:     svc,
			notifier:  events,
			tolerance: cfg.Intent.Tolerance,
			minAlert:  cfg.Intent.MinAlertAmount,
			now:       clk.Now,
		},
	}
}

// create makes an intent whose tail is fixed to units.
func (f *fixture) create(t *testing.T, base string, units int) *models.PaymentIntent {
	t.Helper()
	f.alloc.SetRand(func(int) int { return units - f.cfg.Intent.TailMin })
	p, err := f.svc.Create(context.Background(), decimal.RequireFromString(base), service.Metadata{Nickname: "tester"})
	require.NoError(t, err)
	return p
}

func (f *fixture) get(t *testing.T, id string) *models.PaymentIntent {
	t.Helper()
	p, err := f.svc.FindByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) watcher() *ChainWatcher {
	return &ChainWatcher{m: f.m, retryDelay: 10 * time.Millisecond}
}

func (f *fixture) confirmer(heights HeightSource) *ConfirmationSweeper {
	return &ConfirmationSweeper{
		store:         f.svc,
		heights:       heights,
		notifier:      f.events,
		depth:         f.cfg.Chain.Confirmations,
		offChainDelay: f.cfg.Exchange.ConfirmDelay,
		timeout:       time.Second,
		now:           f.clock.Now,
	}
}

type fixedHeight struct {
	mu sync.Mutex
	h  uint64
}

func (f *fixedHeight) set(h uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.h = h
}

func (f *fixedHeight) BlockNumber(context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.h, nil
}

type failingHeight struct{}

func (failingHeight) BlockNumber(context.Context) (uint64, error) {
	return 0, errors.New("rpc down")
}

// scriptedBalances returns each sample in turn; a nil entry is a failure.
type scriptedBalances struct {
	samples []*decimal.Decimal
	i       int
}

func (s *scriptedBalances) Balance(context.Context) (decimal.Decimal, error) {
	if s.i >= len(s.samples) {
		return decimal.Zero, errors.New("script exhausted")
	}
	v := s.samples[s.i]
	s.i++
	if v == nil {
		return decimal.Zero, errors.New("exchange timeout")
	}
	return *v, nil
}

func dec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

// streamOnce delivers its transfers and then blocks until cancelled.
type streamOnce struct {
	transfers []chain.Transfer
}

func (s streamOnce) StreamTransfers(ctx context.Context, out chan<- chain.Transfer) error {
	for _, t := range s.transfers {
		select {
		case out <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func transfer(amount string, block uint64, tx string) chain.Transfer {
	return chain.Transfer{
		From:        "0x00000000000000000000000000000000000000bb",
		To:          "0x00000000000000000000000000000000000000aa",
		Amount:      decimal.RequireFromString(amount),
		TxHash:      tx,
		BlockNumber: block,
	}
}

// flakyStream fails its first call and then behaves like streamOnce.
type flakyStream struct {
	mu        sync.Mutex
	calls     int
	transfers []chain.Transfer
}

func (s *flakyStream) StreamTransfers(ctx context.Context, out chan<- chain.Transfer) error {
	s.mu.Lock()
	s.calls++
	first := s.calls == 1
	s.mu.Unlock()
	if first {
		return errors.New("websocket: close 1006 (abnormal closure)")
	}
	return streamOnce{transfers: s.transfers}.StreamTransfers(ctx, out)
}

func (s *flakyStream) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fixedWallet struct {
	balance decimal.Decimal
	err     error
}

func (w fixedWallet) BalanceOf(context.Context) (decimal.Decimal, error) {
	return w.balance, w.err
}

type subscriberCount int

func (n subscriberCount) ClientCount() int { return int(n) }

// failingStore fails every stats query; other methods are unused.
type failingStore struct {
	IntentStore
}

func (failingStore) Stats(context.Context) (map[domain.Status]int64, error) {
	return nil, errors.New("database is locked")
}
