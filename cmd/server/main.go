// Package main is the entry point for the stockcore API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"stockcore/internal/domain/counting"
	"stockcore/internal/domain/ledger"
	"stockcore/internal/domain/stock"
	"stockcore/internal/domain/transfer"
	"stockcore/internal/idempotency"
	v1 "stockcore/internal/infrastructure/http/v1"
	"stockcore/internal/infrastructure/storage/postgres"
	"stockcore/internal/infrastructure/storage/postgres/count_repo"
	"stockcore/internal/infrastructure/storage/postgres/stock_repo"
	"stockcore/internal/infrastructure/storage/postgres/transfer_repo"
	"stockcore/pkg/config"
	"stockcore/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
	})
	if err != nil {
		fmt.Printf("failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	log.Info("starting stockcore server")

	// --- Database ---
	poolCfg := postgres.DefaultPoolConfig(cfg.DB.ConnectionString())
	if cfg.DB.MaxConns > 0 {
		poolCfg.MaxConns = cfg.DB.MaxConns
	}
	if cfg.DB.MinConns > 0 {
		poolCfg.MinConns = cfg.DB.MinConns
	}
	pool, err := postgres.NewPool(ctx, poolCfg)
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()
	log.Info("database connection established")

	// --- Transaction manager ---
	txOpts := postgres.DefaultTxOptions()
	if cfg.Retry.MaxRetries > 0 {
		txOpts.MaxRetries = cfg.Retry.MaxRetries
	}
	if cfg.Retry.BaseDelay > 0 {
		txOpts.BaseDelay = cfg.Retry.BaseDelay
	}
	if cfg.Retry.AttemptTimeout > 0 {
		txOpts.AttemptTimeout = cfg.Retry.AttemptTimeout
	}
	txManager := postgres.NewTxManager(pool, txOpts)

	// --- Repositories ---
	balanceRepo := stock_repo.NewBalanceRepo(txManager)
	ledgerRepo := stock_repo.NewLedgerRepo(txManager)
	countRepo := count_repo.NewCountRepo(txManager)
	transferRepo := transfer_repo.NewTransferRepo(txManager)

	// --- Audit sink ---
	auditSink, err := postgres.NewAuditService(txManager)
	if err != nil {
		log.Fatalw("failed to initialize audit service", "error", err)
	}

	// --- Services ---
	stockService := stock.NewService(balanceRepo, ledgerRepo, txManager, auditSink)
	ledgerService := ledger.NewService(ledgerRepo)
	countService := counting.NewService(countRepo, stockService, txManager)
	transferService := transfer.NewService(transferRepo, balanceRepo, ledgerRepo, txManager, auditSink)

	// --- Idempotency ---
	idemStore := postgres.NewIdempotencyStore(txManager)
	executor := idempotency.NewExecutor(idemStore,
		idempotency.WithDefaultTTL(cfg.Idempotency.TTL),
		idempotency.WithPendingPoll(cfg.Idempotency.PendingPollAttempts, cfg.Idempotency.PendingPollDelay),
	)

	sweeper := postgres.NewSweeper(idemStore, cfg.Idempotency.SweepInterval)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// --- Router ---
	router := v1.NewRouter(v1.RouterConfig{
		Pool:      pool,
		Logger:    log,
		Executor:  executor,
		Stocks:    stockService,
		Ledgers:   ledgerService,
		Counts:    countService,
		Transfers: transferService,
	})

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		log.Infow("server starting", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("server failed", "error", err)
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalw("server forced to shutdown", "error", err)
	}

	log.Info("server stopped")
}
