package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/cache"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/config"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/database"
	"github.com/davidleathers/crm-dnc-relay/internal/infrastructure/telemetry"
)

// Command-line flags
var (
	configPath = flag.String("config", "", "Path to configuration file")
	interval   = flag.Duration("interval", 0, "Sweep repeatedly at this interval (0 = sweep once and exit)")
	retention  = flag.Duration("retention", 0, "Override cache.retention")
)

// staleDeleter removes cache entries whose list timestamps are all older
// than the retention window.
type staleDeleter interface {
	DeleteStale(ctx context.Context, retention time.Duration) (int64, error)
}

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *retention > 0 {
		cfg.Cache.Retention = *retention
	}
	if err := cfg.ValidateStorage(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open cache store", zap.Error(err))
	}
	defer closeStore()

	if *interval <= 0 {
		if _, err := sweep(ctx, store, cfg.Cache.Retention, logger); err != nil {
			logger.Error("sweep failed", zap.Error(err))
			closeStore()
			os.Exit(1)
		}
		return
	}

	runLoop(ctx, store, cfg.Cache.Retention, *interval, logger)
	logger.Info("sweeper stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (staleDeleter, func(), error) {
	switch cfg.Cache.Backend {
	case "redis":
		client, err := cache.NewRedisClient(&cfg.Redis, logger)
		if err != nil {
			return nil, nil, err
		}
		store, err := cache.NewDNCCacheStore(client, cfg.Cache.KeyPrefix, cfg.Cache.Retention, logger)
		if err != nil {
			_ = client.Close()
			return nil, nil, err
		}
		return store, func() { _ = client.Close() }, nil
	case "postgres":
		pool, err := database.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return nil, nil, err
		}
		return database.NewDNCCacheRepository(pool), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown cache backend %q", cfg.Cache.Backend)
	}
}

// sweep runs one retention pass and logs how many entries it removed.
func sweep(ctx context.Context, store staleDeleter, retention time.Duration, logger *zap.Logger) (int64, error) {
	start := time.Now()
	deleted, err := store.DeleteStale(ctx, retention)
	if err != nil {
		return 0, fmt.Errorf("deleting stale cache entries: %w", err)
	}
	logger.Info("cache sweep completed",
		zap.Int64("deleted", deleted),
		zap.Duration("retention", retention),
		zap.Duration("duration", time.Since(start)))
	return deleted, nil
}

// runLoop sweeps immediately and then on every tick until ctx is done. A
// failed pass is logged and retried on the next tick.
func runLoop(ctx context.Context, store staleDeleter, retention, every time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		if _, err := sweep(ctx, store, retention, logger); err != nil && ctx.Err() == nil {
			logger.Warn("sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
