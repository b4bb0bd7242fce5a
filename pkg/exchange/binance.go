// Package exchange reads the pooled account balance from Binance.
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

var ErrUnavailable = errors.New("exchange source unavailable")

// BinanceClient signs account requests with an API key pair.
type BinanceClient struct {
	BaseURL   string
	APIKey    string
	APISecret string
	Asset     string
	client    *http.Client
	now       func() time.Time
}

func NewBinanceClient(baseURL, apiKey, apiSecret, asset string, timeout time.Duration) *BinanceClient {
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	if asset == "" {
		asset = "USDT"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &BinanceClient{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Asset:     asset,
		client:    &http.Client{Timeout: timeout},
		now:       time.Now,
	}
}

type accountResp struct {
	Balances []struct {
		Asset  string          `json:"asset"`
		Free   decimal.Decimal `json:"free"`
		Locked decimal.Decimal `json:"locked"`
	} `json:"balances"`
}

type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// Balance returns free plus locked for the tracked asset. An asset missing
// from the account is a zero balance.
func (b *BinanceClient) Balance(ctx context.Context) (decimal.Decimal, error) {
	if b.APIKey == "" || b.APISecret == "" {
		return decimal.Zero, fmt.Errorf("%w: credentials not configured", ErrUnavailable)
	}
	q := url.Values{}
	q.Set("timestamp", strconv.FormatInt(b.now().UnixMilli(), 10))
	query := q.Encode()
	endpoint := b.BaseURL + "/api/v3/account?" + query + "&signature=" + b.sign(query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("X-MBX-APIKEY", b.APIKey)
	resp, err := b.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		var ae apiError
		_ = json.Unmarshal(body, &ae)
		return decimal.Zero, fmt.Errorf("%w: account status %d code %d: %s", ErrUnavailable, resp.StatusCode, ae.Code, ae.Msg)
	}
	var acct accountResp
	if err := json.Unmarshal(body, &acct); err != nil {
		return decimal.Zero, fmt.Errorf("%w: decode account: %v", ErrUnavailable, err)
	}
	for _, bal := range acct.Balances {
		if bal.Asset == b.Asset {
			return bal.Free.Add(bal.Locked), nil
		}
	}
	return decimal.Zero, nil
}

func (b *BinanceClient) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(b.APISecret))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}
