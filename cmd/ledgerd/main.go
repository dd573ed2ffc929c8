package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"ln-ledger/config"
	"ln-ledger/internal/adapter/lightning"
	pgStorage "ln-ledger/internal/adapter/storage/postgres"
	redisStorage "ln-ledger/internal/adapter/storage/redis"
	"ln-ledger/internal/core/ports"
	"ln-ledger/internal/service"
	"ln-ledger/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("node", cfg.Node.BaseURL).
		Dur("check_interval", cfg.Lightning.CheckInterval).
		Msg("Starting Lightning ledger daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize repositories
	walletRepo := pgStorage.NewWalletRepo(pool)
	txRepo := pgStorage.NewTransactionRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize node adapters
	httpClient := &http.Client{Timeout: cfg.Node.HTTPTimeout}
	backend := lightning.NewClient(cfg.Node, httpClient, log)
	decoder := lightning.NewBolt11Decoder()
	resolver := lightning.NewResolver(httpClient, log)
	notifier := redisStorage.NewNotifier(rdb)

	// Verify dependencies before accepting work
	healthCheckers := []ports.HealthChecker{
		pgStorage.NewHealthCheck(pool),
		redisStorage.NewHealthCheck(rdb),
	}
	for _, hc := range healthCheckers {
		if err := hc.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("dependency", hc.Name()).Msg("Dependency unhealthy")
		}
	}

	// Initialize the settlement engine and the watcher
	walletSvc := service.NewWalletService(
		txRepo,
		walletRepo,
		transactor,
		backend,
		decoder,
		resolver,
		notifier,
		cfg.Lightning,
		log,
	)
	watcher := service.NewInvoiceWatcher(txRepo, backend, walletSvc, cfg.Lightning, log)

	if err := watcher.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatal().Err(err).Msg("Invoice watcher failed")
	}
	log.Info().Msg("Shutdown complete")
}
