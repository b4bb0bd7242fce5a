package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tailpay/config"
	"tailpay/internal/database"
	"tailpay/internal/notify"
	"tailpay/internal/reconcile"
	"tailpay/internal/repository"
	"tailpay/internal/router"
	"tailpay/internal/service"
	"tailpay/internal/tail"
	"tailpay/internal/ws"
	"tailpay/pkg/chain"
	"tailpay/pkg/exchange"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg.Server)
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	repo, err := newRepository(cfg)
	if err != nil {
		slog.Error("database", "error", err)
		os.Exit(1)
	}

	alloc := tail.NewAllocator(tail.Config{
		Min:         cfg.Intent.TailMin,
		Max:         cfg.Intent.TailMax,
		Scale:       cfg.Intent.TailScale,
		Tolerance:   cfg.Intent.Tolerance,
		MaxAttempts: cfg.Intent.MaxTailAttempts,
	}, repo)
	intents := service.NewIntentService(cfg.Intent, repo, alloc)

	hub := ws.NewHub()
	notifiers := notify.Fanout{hub}
	fcmSvc := service.NewFCMService(cfg.Firebase.ServiceAccountPath)
	if fcmSvc != nil {
		slog.Info("push notifications enabled", "topic", cfg.Firebase.Topic)
		notifiers = append(notifiers, service.NewPushNotifier(fcmSvc, cfg.Firebase.Topic))
	} else if cfg.Firebase.ServiceAccountPath != "" {
		slog.Warn("push notifications disabled: failed to init (check service account file)")
	} else {
		slog.Info("push notifications disabled: set FIREBASE_SERVICE_ACCOUNT_PATH to enable")
	}

	src := reconcile.Sources{Subscribers: hub}
	if cfg.Chain.Enabled() {
		bsc, err := chain.NewClient(chain.Config{
			RPCURL:         cfg.Chain.RPCURL,
			WSSURL:         cfg.Chain.WSSURL,
			Token:          cfg.Chain.TokenAddress,
			Receiver:       cfg.Chain.ReceiveAddress,
			Decimals:       cfg.Chain.TokenDecimals,
			PollInterval:   cfg.Chain.PollInterval,
			CallTimeout:    cfg.Chain.CallTimeout,
			ReconnectDelay: cfg.Chain.ReconnectDelay,
		})
		if err != nil {
			slog.Error("bsc client", "error", err)
			os.Exit(1)
		}
		defer bsc.Close()
		src.Transfers, src.Heights, src.Wallet = bsc, bsc, bsc
	} else {
		slog.Warn("chain watcher disabled: set RECEIVE_ADDRESS and BSC_RPC_URL or BSC_WSS_URL")
	}
	if cfg.Exchange.Enabled() {
		src.Balances = exchange.NewBinanceClient(cfg.Exchange.BaseURL, cfg.Exchange.APIKey, cfg.Exchange.APISecret, cfg.Exchange.Asset, cfg.Exchange.CallTimeout)
	} else {
		slog.Warn("binance poller disabled: API credentials not configured")
	}

	engine := reconcile.NewEngine(cfg, intents, notifiers, src)
	engine.Start(context.Background())

	handler := router.Setup(cfg, router.Deps{
		Intents:  intents,
		Auth:     service.NewAuthService(cfg),
		Hub:      hub,
		Notifier: notifiers,
	})
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	go func() {
		slog.Info("server listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("listen", "error", err)
			os.Exit(1)
		}
	}()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down...")
	engine.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func newRepository(cfg *config.Config) (repository.IntentRepository, error) {
	if cfg.Database.DSN == "" {
		slog.Warn("DATABASE_DSN not set, intents are kept in memory only")
		return repository.NewMemoryIntentRepository(), nil
	}
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(db); err != nil {
		return nil, err
	}
	slog.Info("database connected", "driver", cfg.Database.Driver)
	return repository.NewGormIntentRepository(db), nil
}

func setupLogger(cfg config.ServerConfig) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.LogLevel))); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Env == "production" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
}
