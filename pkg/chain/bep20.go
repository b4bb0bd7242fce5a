// Package chain reads BEP-20 token transfers and balances from a BSC node.
package chain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
)

const erc20ABI = `[
 {"anonymous":false,"inputs":[
  {"indexed":true,"name":"from","type":"address"},
  {"indexed":true,"name":"to","type":"address"},
  {"indexed":false,"name":"value","type":"uint256"}],
  "name":"Transfer","type":"event"},
 {"constant":true,"inputs":[{"name":"owner","type":"address"}],
  "name":"balanceOf","outputs":[{"name":"","type":"uint256"}],
  "stateMutability":"view","type":"function"}
]`

// maxBlockSpan bounds a single eth_getLogs request.
const maxBlockSpan = 2000

var (
	ErrUnavailable = errors.New("chain source unavailable")
	ErrNotTransfer = errors.New("log is not a token transfer")
)

type Config struct {
	RPCURL         string
	WSSURL         string
	Token          string
	Receiver       string
	Decimals       int32
	PollInterval   time.Duration
	CallTimeout    time.Duration
	ReconnectDelay time.Duration
}

// Transfer is a token transfer into the receiving address.
type Transfer struct {
	From        string
	To          string
	Amount      decimal.Decimal
	TxHash      string
	BlockNumber uint64
	LogIndex    uint
}

// Ref identifies the log uniquely across redeliveries.
func (t Transfer) Ref() string {
	return fmt.Sprintf("%s:%d", t.TxHash, t.LogIndex)
}

// Client watches one token contract for transfers to one receiver.
type Client struct {
	cfg      Config
	token    common.Address
	receiver common.Address
	abi      abi.ABI
	topic    common.Hash

	mu  sync.Mutex
	rpc *ethclient.Client
}

func NewClient(cfg Config) (*Client, error) {
	if !common.IsHexAddress(cfg.Token) {
		return nil, fmt.Errorf("invalid token address %q", cfg.Token)
	}
	if !common.IsHexAddress(cfg.Receiver) {
		return nil, fmt.Errorf("invalid receive address %q", cfg.Receiver)
	}
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	return &Client{
		cfg:      cfg,
		token:    common.HexToAddress(cfg.Token),
		receiver: common.HexToAddress(cfg.Receiver),
		abi:      parsed,
		topic:    parsed.Events["Transfer"].ID,
	}, nil
}

// Receiver returns the watched address in lower-case hex.
func (c *Client) Receiver() string {
	return strings.ToLower(c.receiver.Hex())
}

// ParseTransfer decodes a Transfer log emitted by the token contract.
func (c *Client) ParseTransfer(l types.Log) (Transfer, error) {
	if l.Address != c.token || len(l.Topics) != 3 || l.Topics[0] != c.topic {
		return Transfer{}, ErrNotTransfer
	}
	vals, err := c.abi.Unpack("Transfer", l.Data)
	if err != nil {
		return Transfer{}, fmt.Errorf("unpack transfer: %w", err)
	}
	value, ok := vals[0].(*big.Int)
	if !ok {
		return Transfer{}, fmt.Errorf("unpack transfer: unexpected value type %T", vals[0])
	}
	return Transfer{
		From:        strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
		To:          strings.ToLower(common.BytesToAddress(l.Topics[2].Bytes()).Hex()),
		Amount:      decimal.NewFromBigInt(value, -c.cfg.Decimals),
		TxHash:      l.TxHash.Hex(),
		BlockNumber: l.BlockNumber,
		LogIndex:    l.Index,
	}, nil
}

// BlockNumber returns the current chain head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	rpc, err := c.client(ctx)
	if err != nil {
		return 0, err
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	n, err := rpc.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", ErrUnavailable, err)
	}
	return n, nil
}

// BalanceOf returns the receiver's token balance.
func (c *Client) BalanceOf(ctx context.Context) (decimal.Decimal, error) {
	rpc, err := c.client(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	data, err := c.abi.Pack("balanceOf", c.receiver)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pack balanceOf: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	res, err := rpc.CallContract(ctx, ethereum.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: balanceOf: %v", ErrUnavailable, err)
	}
	vals, err := c.abi.Unpack("balanceOf", res)
	if err != nil || len(vals) == 0 {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: %v", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return decimal.Zero, fmt.Errorf("unpack balanceOf: unexpected type %T", vals[0])
	}
	return decimal.NewFromBigInt(bal, -c.cfg.Decimals), nil
}

// StreamTransfers delivers transfers to the receiver until ctx is cancelled.
// With a WebSocket endpoint it subscribes to logs and, after every reconnect,
// backfills the blocks missed while disconnected; otherwise it polls
// eth_getLogs with a block cursor. Transfers may be delivered more than once.
func (c *Client) StreamTransfers(ctx context.Context, out chan<- Transfer) error {
	if c.cfg.WSSURL != "" {
		return c.subscribe(ctx, out)
	}
	return c.poll(ctx, out)
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

func (c *Client) client(ctx context.Context) (*ethclient.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		return c.rpc, nil
	}
	url := c.cfg.RPCURL
	if url == "" {
		url = c.cfg.WSSURL
	}
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()
	rpc, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, url, err)
	}
	c.rpc = rpc
	return rpc, nil
}

func (c *Client) query(from, to *big.Int) ethereum.FilterQuery {
	return ethereum.FilterQuery{
		FromBlock: from,
		ToBlock:   to,
		Addresses: []common.Address{c.token},
		Topics: [][]common.Hash{
			{c.topic},
			nil,
			{common.BytesToHash(c.receiver.Bytes())},
		},
	}
}

func (c *Client) subscribe(ctx context.Context, out chan<- Transfer) error {
	var cursor uint64
	for {
		err := c.subscribeOnce(ctx, out, &cursor)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		slog.Warn("bsc websocket disconnected, reconnecting",
			"error", err, "delay", c.cfg.ReconnectDelay, "cursor", cursor)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectDelay):
		}
	}
}

func (c *Client) subscribeOnce(ctx context.Context, out chan<- Transfer, cursor *uint64) error {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	ws, err := ethclient.DialContext(dialCtx, c.cfg.WSSURL)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: dial websocket: %v", ErrUnavailable, err)
	}
	defer ws.Close()

	logs := make(chan types.Log, 64)
	sub, err := ws.SubscribeFilterLogs(ctx, c.query(nil, nil), logs)
	if err != nil {
		return fmt.Errorf("%w: subscribe logs: %v", ErrUnavailable, err)
	}
	defer sub.Unsubscribe()
	slog.Info("bsc websocket subscribed", "token", c.token.Hex(), "receiver", c.Receiver())

	// Live logs must not move the cursor past blocks that were never
	// backfilled, so a failed catch-up ends this session.
	from := *cursor
	n, err := c.catchUp(ctx, ws, out, cursor)
	if err != nil {
		return err
	}
	if n > 0 {
		slog.Info("backfilled missed transfers", "from", from+1, "to", *cursor, "count", n)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return err
		case l := <-logs:
			if l.Removed {
				continue
			}
			if !c.emit(ctx, out, l) {
				return ctx.Err()
			}
			if l.BlockNumber > *cursor {
				*cursor = l.BlockNumber
			}
		}
	}
}

func (c *Client) poll(ctx context.Context, out chan<- Transfer) error {
	var cursor uint64
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		started := cursor != 0
		rpc, err := c.client(ctx)
		if err == nil {
			_, err = c.catchUp(ctx, rpc, out, &cursor)
		}
		switch {
		case err != nil:
			slog.Warn("bsc poll failed", "cursor", cursor, "error", err)
		case !started:
			slog.Info("bsc polling started", "head", cursor, "receiver", c.Receiver())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// logReader is the part of the node API needed to catch up on missed blocks.
type logReader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// catchUp emits every transfer after *cursor up to the current head and then
// moves the cursor to the head. A zero cursor starts at the head without
// backfilling. On error the cursor is left where it was.
func (c *Client) catchUp(ctx context.Context, r logReader, out chan<- Transfer, cursor *uint64) (int, error) {
	hctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	head, err := r.BlockNumber(hctx)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("%w: block number: %v", ErrUnavailable, err)
	}
	if *cursor == 0 {
		*cursor = head
		return 0, nil
	}
	if head <= *cursor {
		return 0, nil
	}
	n, err := c.backfill(ctx, r, out, *cursor+1, head)
	if err != nil {
		return n, err
	}
	*cursor = head
	return n, nil
}

// backfill emits every transfer in [from, to], in spans of maxBlockSpan.
func (c *Client) backfill(ctx context.Context, r logReader, out chan<- Transfer, from, to uint64) (int, error) {
	n := 0
	for lo := from; lo <= to; lo += maxBlockSpan {
		hi := min(lo+maxBlockSpan-1, to)
		qctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
		logs, err := r.FilterLogs(qctx, c.query(new(big.Int).SetUint64(lo), new(big.Int).SetUint64(hi)))
		cancel()
		if err != nil {
			return n, fmt.Errorf("%w: get logs %d-%d: %v", ErrUnavailable, lo, hi, err)
		}
		for _, l := range logs {
			if l.Removed {
				continue
			}
			if !c.emit(ctx, out, l) {
				return n, ctx.Err()
			}
			n++
		}
	}
	return n, nil
}

func (c *Client) emit(ctx context.Context, out chan<- Transfer, l types.Log) bool {
	t, err := c.ParseTransfer(l)
	if err != nil {
		slog.Debug("ignoring log", "tx", l.TxHash.Hex(), "error", err)
		return true
	}
	if t.To != c.Receiver() {
		return true
	}
	select {
	case out <- t:
		return true
	case <-ctx.Done():
		return false
	}
}
