package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	JWT      JWTConfig
	Admin    AdminConfig
	Intent   IntentConfig
	Chain    ChainConfig
	Exchange ExchangeConfig
	Firebase FirebaseConfig
	Stats    StatsConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	LogLevel     string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DatabaseConfig selects the durable store. An empty DSN runs the service on
// the in-memory repository.
type DatabaseConfig struct {
	Driver          string // mysql or sqlite
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// AdminConfig holds the single operator account. Admin login is disabled
// while PasswordHash is empty.
type AdminConfig struct {
	Username     string
	PasswordHash string // bcrypt
}

// IntentConfig governs intake validation, tail allocation and matching.
type IntentConfig struct {
	MinAmount       decimal.Decimal
	MaxAmount       decimal.Decimal
	AmountPrecision int32 // decimals allowed on the base amount
	TailMin         int
	TailMax         int
	TailScale       int32 // tail = units * 10^-TailScale
	MaxTailAttempts int
	Tolerance       decimal.Decimal
	MinAlertAmount  decimal.Decimal
	Window          time.Duration
	SweepInterval   time.Duration
}

type ChainConfig struct {
	RPCURL          string
	WSSURL          string
	TokenAddress    string
	ReceiveAddress  string
	TokenDecimals   int32
	Confirmations   uint64
	ConfirmInterval time.Duration
	PollInterval    time.Duration
	CallTimeout     time.Duration
	ReconnectDelay  time.Duration
}

// Enabled reports whether the chain watcher has enough to run.
func (c ChainConfig) Enabled() bool {
	return c.ReceiveAddress != "" && (c.RPCURL != "" || c.WSSURL != "")
}

type ExchangeConfig struct {
	BaseURL      string
	APIKey       string
	APISecret    string
	Asset        string
	PollInterval time.Duration
	ConfirmDelay time.Duration
	CallTimeout  time.Duration
}

// Enabled reports whether Binance credentials are configured.
func (c ExchangeConfig) Enabled() bool {
	return c.APIKey != "" && c.APISecret != ""
}

type FirebaseConfig struct {
	ServiceAccountPath string
	Topic              string
}

type StatsConfig struct {
	Interval time.Duration
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}
	return &Config{
		Server: ServerConfig{
			Port:         env("PORT", "3000"),
			Env:          env("APP_ENV", "development"),
			LogLevel:     env("LOG_LEVEL", "info"),
			ReadTimeout:  envDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout: envDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
		},
		Database: DatabaseConfig{
			Driver:          env("DB_DRIVER", "mysql"),
			DSN:             env("DATABASE_DSN", ""),
			MaxIdleConns:    envInt("DB_MAX_IDLE_CONNS", 10),
			MaxOpenConns:    envInt("DB_MAX_OPEN_CONNS", 100),
			ConnMaxLifetime: time.Hour,
		},
		JWT: JWTConfig{
			AccessSecret: env("JWT_SECRET", "change-me-in-production"),
			AccessExpiry: envDuration("JWT_EXPIRY", 12*time.Hour),
			Issuer:       "tailpay",
		},
		Admin: AdminConfig{
			Username:     env("ADMIN_USERNAME", "admin"),
			PasswordHash: env("ADMIN_PASSWORD_HASH", ""),
		},
		Intent: IntentConfig{
			MinAmount:       envDecimal("MIN_AMOUNT", "1"),
			MaxAmount:       envDecimal("MAX_AMOUNT", "10000"),
			AmountPrecision: 2,
			TailMin:         1,
			TailMax:         9999,
			TailScale:       6,
			MaxTailAttempts: 1000,
			Tolerance:       envDecimal("TOLERANCE", "0.00005"),
			MinAlertAmount:  envDecimal("MIN_ALERT_AMOUNT", "1.00"),
			Window:          time.Duration(envInt("TIME_WINDOW_MIN", 30)) * time.Minute,
			SweepInterval:   envDuration("EXPIRY_SWEEP_INTERVAL", time.Minute),
		},
		Chain: ChainConfig{
			RPCURL:          env("BSC_RPC_URL", "https://bsc-dataseed1.binance.org/"),
			WSSURL:          env("BSC_WSS_URL", ""),
			TokenAddress:    env("USDT_BEP20", "0x55d398326f99059fF775485246999027B3197955"),
			ReceiveAddress:  strings.ToLower(env("RECEIVE_ADDRESS", "")),
			TokenDecimals:   18,
			Confirmations:   uint64(envInt("CONFIRMATIONS", 12)),
			ConfirmInterval: envDuration("CONFIRM_INTERVAL", 15*time.Second),
			PollInterval:    envDuration("BSC_POLL_INTERVAL", 5*time.Second),
			CallTimeout:     envDuration("BSC_CALL_TIMEOUT", 10*time.Second),
			ReconnectDelay:  envDuration("BSC_RECONNECT_DELAY", 5*time.Second),
		},
		Exchange: ExchangeConfig{
			BaseURL:      env("BINANCE_BASE_URL", "https://api.binance.com"),
			APIKey:       env("BINANCE_API_KEY", ""),
			APISecret:    env("BINANCE_API_SECRET", ""),
			Asset:        "USDT",
			PollInterval: envDuration("BINANCE_POLL_INTERVAL", 10*time.Second),
			ConfirmDelay: envDuration("BINANCE_CONFIRM_DELAY", 2*time.Second),
			CallTimeout:  envDuration("BINANCE_CALL_TIMEOUT", 8*time.Second),
		},
		Firebase: FirebaseConfig{
			ServiceAccountPath: env("FIREBASE_SERVICE_ACCOUNT_PATH", ""),
			Topic:              env("FIREBASE_TOPIC", "donations"),
		},
		Stats: StatsConfig{
			Interval: envDuration("STATS_INTERVAL", 10*time.Minute),
		},
	}
}

// Validate checks the relationships between settings that would otherwise
// only surface as ambiguous matches at runtime.
func (c *Config) Validate() error {
	var errs []error
	in := c.Intent
	if !in.MinAmount.IsPositive() {
		errs = append(errs, errors.New("MIN_AMOUNT must be positive"))
	}
	if in.MaxAmount.LessThan(in.MinAmount) {
		errs = append(errs, errors.New("MAX_AMOUNT must not be below MIN_AMOUNT"))
	}
	if in.TailMin < 1 || in.TailMax <= in.TailMin {
		errs = append(errs, fmt.Errorf("tail range [%d,%d] is empty", in.TailMin, in.TailMax))
	}
	if in.TailScale <= in.AmountPrecision {
		errs = append(errs, errors.New("tail scale must exceed amount precision"))
	}
	// The largest tail must stay below one unit of base-amount precision so
	// base and tail never overlap.
	maxTail := decimal.New(int64(in.TailMax), -in.TailScale)
	if !maxTail.LessThan(decimal.New(1, -in.AmountPrecision)) {
		errs = append(errs, fmt.Errorf("tail max %s overlaps base amount precision", maxTail))
	}
	if !in.Tolerance.IsPositive() {
		errs = append(errs, errors.New("TOLERANCE must be positive"))
	}
	span := decimal.New(int64(in.TailMax-in.TailMin), -in.TailScale)
	if in.Tolerance.Mul(decimal.NewFromInt(2)).GreaterThanOrEqual(span) {
		errs = append(errs, fmt.Errorf("TOLERANCE %s leaves no room for distinct tails in span %s", in.Tolerance, span))
	}
	if in.MaxTailAttempts < 1 {
		errs = append(errs, errors.New("max tail attempts must be at least 1"))
	}
	if in.Window <= 0 || in.SweepInterval <= 0 {
		errs = append(errs, errors.New("intent window and sweep interval must be positive"))
	}
	if c.Chain.Confirmations < 1 {
		errs = append(errs, errors.New("CONFIRMATIONS must be at least 1"))
	}
	if c.Chain.ConfirmInterval <= 0 || c.Chain.PollInterval <= 0 || c.Chain.CallTimeout <= 0 {
		errs = append(errs, errors.New("chain intervals and timeouts must be positive"))
	}
	if c.Exchange.PollInterval <= 0 || c.Exchange.CallTimeout <= 0 || c.Exchange.ConfirmDelay < 0 {
		errs = append(errs, errors.New("exchange intervals and timeouts must be positive"))
	}
	if c.Database.DSN != "" && c.Database.Driver != "mysql" && c.Database.Driver != "sqlite" {
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	return errors.Join(errs...)
}

func env(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := env(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default", "key", key, "value", v)
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := env(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default", "key", key, "value", v)
		return def
	}
	return d
}

func envDecimal(key, def string) decimal.Decimal {
	v := env(key, def)
	d, err := decimal.NewFromString(v)
	if err != nil {
		slog.Warn("invalid decimal in environment, using default", "key", key, "value", v)
		return decimal.RequireFromString(def)
	}
	return d
}
