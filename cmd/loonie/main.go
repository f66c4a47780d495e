package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"loonie/internal/amqp"
	"loonie/internal/categorize"
	"loonie/internal/config"
	"loonie/internal/export"
	gsheet "loonie/internal/export/google"
	mem "loonie/internal/export/memory"
	apphttp "loonie/internal/http"
	"loonie/internal/identity"
	applog "loonie/internal/log"
	"loonie/internal/services"
	"loonie/internal/storage"
)

// amqpPublisher bridges the HTTP async-import endpoint to the AMQP client.
type amqpPublisher struct {
	client *amqp.Client
}

func (p *amqpPublisher) PublishStatementBatch(ctx context.Context, internalUserID int64, txs []apphttp.TransactionRequest) (string, error) {
	payloads := make([]amqp.TransactionPayload, len(txs))
	for i, tx := range txs {
		payloads[i] = amqp.TransactionPayload{
			Date:        tx.Date,
			Description: tx.Description,
			Merchant:    tx.Merchant,
			Amount:      tx.Amount,
			Direction:   tx.Direction,
			Account:     tx.Account,
		}
	}
	msg := amqp.NewStatementBatchMessage(internalUserID, payloads)
	if err := p.client.PublishStatementBatch(ctx, msg); err != nil {
		return "", err
	}
	return msg.BatchID, nil
}

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	logger := applog.New(applog.DefaultConfig())
	applog.SetDefault(logger)

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

	ruleCache := categorize.NewRuleCache(repo, cfg.RuleCacheTTL)
	engine := categorize.NewEngine(ruleCache, repo)
	tokenizer := identity.NewTokenizer(repo, logger.WithComponent(applog.ComponentIdentity))
	importer := services.NewImportService(tokenizer, engine, repo,
		logger.WithComponent(applog.ComponentImport), cfg.MaxBatchSize)

	// Export backend (default: memory).
	var (
		factExp export.FactExporter
		profExp export.ProfileExporter
	)
	switch cfg.ExportBackend {
	case "sheets":
		cli, err := gsheet.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets export client", "error", err)
			os.Exit(1)
		}
		factExp, profExp = cli, cli
		logger.Info("Initialized Google Sheets export backend")
	default:
		store := mem.New()
		factExp, profExp = store, store
		logger.Info("Initialized memory export backend")
	}

	// AMQP is optional: without it the async import endpoint returns 503.
	var publisher apphttp.BatchPublisher
	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, async import disabled", "error", err)
		} else {
			defer amqpClient.Close()
			publisher = &amqpPublisher{client: amqpClient}
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, apphttp.Deps{
		Importer:  importer,
		Tokens:    tokenizer,
		Publisher: publisher,
		Rules:     repo,
		RuleCache: ruleCache,
		Facts:     repo,
		Identity:  repo,
		FactExp:   factExp,
		ProfExp:   profExp,
	})

	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting loonie server", "port", cfg.Port, "export_backend", cfg.ExportBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}
