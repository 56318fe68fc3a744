package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/queue"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/sweeper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger, err := logging.New()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("ensure schema", zap.Error(err))
	}
	st := store.NewPostgresStore(pool, cfg.RetentionWindow)

	blobs, err := blob.NewMinio(blob.Options{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
		Region:    cfg.S3Region,
	})
	if err != nil {
		logger.Fatal("init storage", zap.Error(err))
	}
	if err := blobs.EnsureBuckets(ctx, cfg.FilesBucket, cfg.BackupBucket); err != nil {
		logger.Fatal("ensure buckets", zap.Error(err))
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.WorkerConcurrency,
	})
	sw := sweeper.New(st, blobs, logger, cfg.FilesBucket)

	scheduler := asynq.NewScheduler(redisOpt, nil)
	cronspec := fmt.Sprintf("@every %s", cfg.SweepInterval)
	if _, err := scheduler.Register(cronspec, asynq.NewTask(queue.RecycleSweepTask, nil)); err != nil {
		logger.Fatal("register sweep schedule", zap.Error(err))
	}
	go func() {
		if err := scheduler.Run(); err != nil {
			logger.Error("scheduler stopped", zap.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		scheduler.Shutdown()
		server.Shutdown()
	}()

	logger.Info("worker running", zap.Duration("sweepInterval", cfg.SweepInterval))
	if err := server.Run(sw.Handler()); err != nil {
		logger.Error("worker stopped", zap.Error(err))
		os.Exit(1)
	}
}
