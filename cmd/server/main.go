package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/api"
	"github.com/filedepot/filedepot/internal/backup"
	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/conflict"
	"github.com/filedepot/filedepot/internal/database"
	"github.com/filedepot/filedepot/internal/journal"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/signing"
	"github.com/filedepot/filedepot/internal/store"
	"github.com/filedepot/filedepot/internal/undo"
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

	journalLog := journal.NewLog(cfg.JournalCapacity)
	conflicts := conflict.NewEngine(st)
	backups := backup.NewService(st, blobs, journalLog, logger, cfg.FilesBucket, cfg.BackupBucket)
	undoer := undo.NewEngine(st, blobs, backups, journalLog, logger, cfg.FilesBucket)
	signer := signing.NewSigner(cfg.SigningSecret)

	srv := api.New(cfg, st, blobs, conflicts, backups, undoer, journalLog, signer, logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}
