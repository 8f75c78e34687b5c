// Package app wires configuration, storage, services, workers, and the HTTP
// server into a running process.
package app

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/nivant/tokensettle/internal/api"
	"github.com/nivant/tokensettle/internal/api/middleware"
	"github.com/nivant/tokensettle/internal/audit"
	"github.com/nivant/tokensettle/internal/clock"
	"github.com/nivant/tokensettle/internal/compliance"
	"github.com/nivant/tokensettle/internal/config"
	"github.com/nivant/tokensettle/internal/db"
	"github.com/nivant/tokensettle/internal/freeze"
	"github.com/nivant/tokensettle/internal/gateway"
	"github.com/nivant/tokensettle/internal/idempotency"
	"github.com/nivant/tokensettle/internal/observability"
	"github.com/nivant/tokensettle/internal/paymentbridge"
	"github.com/nivant/tokensettle/internal/settlement"
	"github.com/nivant/tokensettle/internal/storage/postgres"
	"github.com/nivant/tokensettle/internal/worker"
)

// Run bootstraps the settlement service and blocks until shutdown.
func Run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)
	observability.Init()
	middleware.SetJWTSecret(cfg.JWTSecret)
	middleware.SetJWTValidation(cfg.JWTIssuer, cfg.JWTAudience)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}

	redisClient, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer redisClient.Close()

	store := postgres.New(pool)
	idemStore := idempotency.NewStore(redisClient, pool, cfg.IdempotencyTTL)

	clk := clock.NewSystem()
	auditSvc := audit.NewService(clk)
	freezes := freeze.NewLedger(store, auditSvc, clk)

	gw, settlementWallet, err := newGateway(cfg)
	if err != nil {
		return fmt.Errorf("init ledger gateway: %w", err)
	}

	engine := compliance.NewEngine(store, freezes, gw, clk)
	bridge := newRefundClient(cfg)

	orchestrator := settlement.NewOrchestrator(store, engine, freezes, gw, bridge, auditSvc, clk, settlement.Config{
		SettlementWallet: settlementWallet,
		MinConfirmations: cfg.MinConfirmations,
		ConfirmTimeout:   cfg.ConfirmTimeout,
		SubmitRetries:    cfg.SubmitRetries,
		SubmitBackoff:    cfg.SubmitBackoff,
		RevalidateAfter:  cfg.RevalidateAfter,
	})
	webhookSvc := settlement.NewWebhookService(store, auditSvc, clk, cfg.WebhookHMACKey, cfg.WebhookSkipSignature)
	querySvc := settlement.NewQueryService(store)
	reconciliationSvc := settlement.NewReconciliationService(store, orchestrator, auditSvc, clk, settlement.ReconciliationConfig{
		StaleExecutingAfter: cfg.StaleExecutingAfter,
		StaleRefundAfter:    cfg.StaleRefundAfter,
	})

	settlementWorker := worker.NewSettlementWorker(store, orchestrator).
		WithPollInterval(cfg.SettlePollInterval).
		WithBatchSize(cfg.SettleBatchSize)
	stopSettlement := settlementWorker.Run(ctx)
	logger.Info("settlement worker started",
		zap.Duration("interval", cfg.SettlePollInterval), zap.Int32("batch", cfg.SettleBatchSize))

	reconciliationWorker := worker.NewReconciliationWorker(reconciliationSvc).
		WithInterval(cfg.ReconciliationInterval)
	stopReconciliation := reconciliationWorker.Run(ctx)
	logger.Info("reconciliation worker started", zap.Duration("interval", cfg.ReconciliationInterval))

	router := api.NewRouter(api.Deps{
		DB:                 pool,
		Redis:              redisClient,
		Logger:             logger,
		Idempotency:        idemStore,
		Webhooks:           webhookSvc,
		Queries:            querySvc,
		Orchestrator:       orchestrator,
		Freezes:            freezes,
		PublicRateLimitRPS: cfg.PublicRateLimitRPS,
		AuthRateLimitRPS:   cfg.AuthRateLimitRPS,
	})

	server := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      router.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("port", cfg.HTTPPort))
		serverErr <- server.ListenAndServe()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("stopping workers")
	stopSettlement()
	stopReconciliation()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}

// newGateway builds the on-chain gateway and resolves the custody wallet
// transfers are sourced from.
func newGateway(cfg *config.Config) (gateway.Gateway, string, error) {
	if cfg.LedgerMock {
		return gateway.NewMockGateway(), cfg.SettlementWallet, nil
	}

	gw, err := gateway.NewSolanaGateway(cfg.LedgerRPCURL, cfg.SettlementWalletKey, 2*time.Second)
	if err != nil {
		return nil, "", err
	}
	wallet := cfg.SettlementWallet
	if wallet == "" {
		wallet = gw.SignerAddress()
	}
	return gw, wallet, nil
}

func newRefundClient(cfg *config.Config) paymentbridge.Client {
	if cfg.PaymentServiceMock {
		return paymentbridge.NewMockClient()
	}
	return paymentbridge.NewHTTPClient(cfg.PaymentServiceURL, cfg.PaymentServiceSecret, 10*time.Second)
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	switch strings.ToLower(level) {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	return cfg.Build()
}

func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}
