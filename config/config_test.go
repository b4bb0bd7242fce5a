package config

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsAreValid(t *testing.T) {
	t.Setenv("TOLERANCE", "")
	cfg := Load()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "0.00005", cfg.Intent.Tolerance.String())
	assert.Equal(t, uint64(12), cfg.Chain.Confirmations)
	assert.Equal(t, 30*time.Minute, cfg.Intent.Window)
	assert.Equal(t, 2*time.Second, cfg.Exchange.ConfirmDelay)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("RECEIVE_ADDRESS", "0xABCDEF0000000000000000000000000000000001")
	t.Setenv("TIME_WINDOW_MIN", "15")
	t.Setenv("CONFIRMATIONS", "3")
	t.Setenv("BINANCE_CONFIRM_DELAY", "5s")
	t.Setenv("MIN_ALERT_AMOUNT", "not-a-number")
	cfg := Load()
	assert.Equal(t, "0xabcdef0000000000000000000000000000000001", cfg.Chain.ReceiveAddress)
	assert.Equal(t, 15*time.Minute, cfg.Intent.Window)
	assert.Equal(t, uint64(3), cfg.Chain.Confirmations)
	assert.Equal(t, 5*time.Second, cfg.Exchange.ConfirmDelay)
	assert.Equal(t, "1", cfg.Intent.MinAlertAmount.String())
	assert.True(t, cfg.Chain.Enabled())
	assert.False(t, cfg.Exchange.Enabled())
}

func TestValidateToleranceAgainstTailRange(t *testing.T) {
	cfg := Load()
	cfg.Intent.Tolerance = decimal.RequireFromString("0.005")
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TOLERANCE")
}

func TestValidateTailOverlapsBasePrecision(t *testing.T) {
	cfg := Load()
	cfg.Intent.AmountPrecision = 3
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "overlaps")
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Load()
	cfg.Intent.MinAmount = decimal.Zero
	cfg.Chain.Confirmations = 0
	cfg.Database.DSN = "x"
	cfg.Database.Driver = "postgres"
	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{"MIN_AMOUNT", "CONFIRMATIONS", "DB_DRIVER"} {
		assert.Contains(t, err.Error(), want)
	}
}
