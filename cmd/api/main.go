package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payx-ledger/config"
	httpHandler "payx-ledger/internal/adapter/http/handler"
	pgStorage "payx-ledger/internal/adapter/storage/postgres"
	redisStorage "payx-ledger/internal/adapter/storage/redis"
	"payx-ledger/internal/core/ports"
	"payx-ledger/internal/service"
	"payx-ledger/pkg/logger"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	log.Info().Str("bind_address", cfg.Server.BindAddress).Msg("Starting payx ledger")

	ctx := context.Background()

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	// Repositories
	businessRepo := pgStorage.NewBusinessRepo(pool)
	apiKeyRepo := pgStorage.NewAPIKeyRepo(pool)
	accountRepo := pgStorage.NewAccountRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	ledgerRepo := pgStorage.NewLedgerEntryRepo(pool)
	outboxRepo := pgStorage.NewOutboxRepo(pool)
	rateLimitRepo := pgStorage.NewRateLimitRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	healthCheckers := []ports.HealthChecker{pgStorage.NewHealthCheck(pool)}

	// Optional Redis idempotency cache. An empty addr runs without it; the
	// database probe stays authoritative either way.
	var idempotencyCache ports.IdempotencyCache
	if cfg.Redis.Addr != "" {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to Redis")
		}
		defer rdb.Close()
		idempotencyCache = redisStorage.NewIdempotencyCache(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	}

	// Core services
	hashSvc := service.NewArgon2HashService()
	sigSvc := service.NewHMACSignatureService()

	businessSvc := service.NewBusinessService(businessRepo, apiKeyRepo, hashSvc, cfg.Auth.RateLimitPerMinute, log)
	accountSvc := service.NewAccountService(accountRepo, txRepo, log)
	transactionSvc := service.NewTransactionService(
		txRepo, accountRepo, ledgerRepo, outboxRepo,
		idempotencyCache, transactor, log,
	)
	webhookSvc := service.NewWebhookService(outboxRepo, log)

	// Webhook delivery workers. SKIP LOCKED claims keep concurrent workers
	// from double-delivering.
	webhookClient := &http.Client{Timeout: time.Duration(cfg.Webhook.TimeoutSeconds) * time.Second}
	workerCount := cfg.Webhook.Workers
	if workerCount < 1 {
		workerCount = 1
	}
	workers := make([]*service.WebhookWorker, 0, workerCount)
	workerCtx, stopWorker := context.WithCancel(ctx)
	for i := 0; i < workerCount; i++ {
		w := service.NewWebhookWorker(
			transactor, outboxRepo, businessRepo, rateLimitRepo, sigSvc,
			webhookClient, cfg.Webhook.BatchSize, log,
		)
		w.Start(workerCtx)
		workers = append(workers, w)
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		BusinessSvc:    businessSvc,
		AccountSvc:     accountSvc,
		TransactionSvc: transactionSvc,
		WebhookSvc:     webhookSvc,
		APIKeyRepo:     apiKeyRepo,
		RateLimitRepo:  rateLimitRepo,
		HashSvc:        hashSvc,
		HealthCheckers: healthCheckers,
		Logger:         log,
	})

	srv := &http.Server{
		Addr:    cfg.Server.BindAddress,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", cfg.Server.BindAddress).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down...")

	// Drain HTTP first so no new outbox rows arrive, then stop the workers;
	// each in-flight batch commits or rolls back atomically either way.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	for _, w := range workers {
		w.Stop()
	}
	stopWorker()

	log.Info().Msg("Server exited")
}
