package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"loonie/internal/amqp"
	"loonie/internal/categorize"
	"loonie/internal/config"
	"loonie/internal/identity"
	applog "loonie/internal/log"
	"loonie/internal/services"
	"loonie/internal/storage"
	"loonie/internal/worker"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.Config{Component: applog.ComponentWorker})
	applog.SetDefault(logger)

	logger.Info("Starting loonie-worker")

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}

	repo, err := storage.NewSQLiteRepository(cfg.SQLiteDBPath, cfg.StorageTimeout)
	if err != nil {
		logger.Error("Failed to initialize SQLite repository", "error", err, "path", cfg.SQLiteDBPath)
		os.Exit(1)
	}
	defer repo.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	ruleCache := categorize.NewRuleCache(repo, cfg.RuleCacheTTL)
	engine := categorize.NewEngine(ruleCache, repo)
	tokenizer := identity.NewTokenizer(repo, logger.WithComponent(applog.ComponentIdentity))
	importer := services.NewImportService(tokenizer, engine, repo,
		logger.WithComponent(applog.ComponentImport), cfg.MaxBatchSize)
	importWorker := worker.NewImportWorker(importer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return amqpClient.ConsumeStatementBatches(ctx, func(msg *amqp.StatementBatchMessage) error {
			return importWorker.HandleBatchMessage(ctx, msg)
		})
	})

	logger.Info("Worker consuming statement batches", "queue", cfg.AMQPQueue)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
