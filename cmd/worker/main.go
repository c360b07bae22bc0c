package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"qrattend/internal/audit"
	"qrattend/internal/config"
	"qrattend/internal/logger"
	"qrattend/internal/queue"
	"qrattend/internal/store"
)

// Worker drains scan events from redis into the scan_events table.
func main() {
	cfg := config.Load()
	log := logger.Must(cfg.LogLevel, cfg.LogFormat).Named("worker")
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("worker failed", zap.Error(err))
	}
	log.Info("worker stopped")
}

func run(cfg config.App, log *zap.Logger) error {
	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.QueueBackend != "redis" {
		return errors.New("worker needs QUEUE_BACKEND=redis; the memory queue is consumed inside the api process")
	}
	redisClient := store.NewRedis(cfg.RedisAddr)
	if redisClient == nil {
		return errors.New("REDIS_ADDR is required")
	}
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn("redis not reachable yet; consumer will keep retrying", zap.String("addr", cfg.RedisAddr))
	}

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	q := queue.NewRedisQueue(redisClient.Client, queue.DefaultKey)
	log.Info("worker started, waiting for scan events...")
	return audit.Consume(ctx, q, audit.NewRepository(db.Client), log)
}
