// Package main runs the background worker: webhook delivery, invite archiving and the stale
// reference sweep.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-booking/backend/config"
	"github.com/aura-booking/backend/internal/app"
	"github.com/aura-booking/backend/internal/invites"
	"github.com/aura-booking/backend/internal/webhooks"
	"github.com/aura-booking/backend/internal/worker"
	"github.com/aura-booking/backend/pkg/database"
	"github.com/aura-booking/backend/pkg/redis"
	"github.com/aura-booking/backend/pkg/storage"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx := context.Background()
	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	rdb, err := redis.NewClient(ctx, redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	s3Client, err := storage.NewS3(ctx, storage.S3Config{
		Region:               cfg.AWS.Region,
		AccessKeyID:          cfg.AWS.AccessKeyID,
		SecretAccessKey:      cfg.AWS.SecretAccessKey,
		InvitesBucket:        cfg.AWS.InvitesBucket,
		PresignExpireMinutes: cfg.AWS.PresignExpireMinutes,
	}, logger)
	if err != nil {
		logger.Fatal("s3", zap.Error(err))
	}

	core, err := app.New(cfg, pool, rdb.Client, logger)
	if err != nil {
		logger.Fatal("booking core", zap.Error(err))
	}

	dispatcher := webhooks.NewDispatcher(core.Subscriptions, cfg.Worker.WebhookTimeout, logger)
	archiver := invites.NewArchiver(core.Bookings, core.Users, s3Client, logger)
	processor := worker.NewProcessor(dispatcher, archiver, core.Queue, logger)
	sweeper := worker.NewSweeper(core.Service, cfg.Worker.SweepBatchSize, logger)

	workerCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		processor.Run(workerCtx)
		close(done)
	}()
	if err := sweeper.Start(cfg.Worker.SweepSchedule); err != nil {
		logger.Fatal("sweep schedule", zap.String("schedule", cfg.Worker.SweepSchedule), zap.Error(err))
	}
	logger.Info("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	cancel()
	sweeper.Stop()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Warn("job worker did not stop in time")
	}
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
