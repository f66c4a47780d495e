// Package worker consumes statement batch messages and feeds them through
// the import pipeline.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"loonie/internal/amqp"
	"loonie/internal/core"
	"loonie/internal/log"
	"loonie/internal/services"
)

// BatchImporter is the pipeline entry point the worker drives.
type BatchImporter interface {
	ImportBatch(ctx context.Context, internalUserID int64, txs []core.RawTransaction) (services.Summary, error)
}

// ImportWorker handles statement batches delivered over AMQP.
type ImportWorker struct {
	importer BatchImporter
}

func NewImportWorker(importer BatchImporter) *ImportWorker {
	return &ImportWorker{importer: importer}
}

// HandleBatchMessage processes a single statement batch message from AMQP.
// A line that fails conversion is counted in the summary's errors with its
// reason, so one broken line never requeues the whole batch.
func (w *ImportWorker) HandleBatchMessage(ctx context.Context, msg *amqp.StatementBatchMessage) error {
	slog.InfoContext(ctx, "Processing statement batch",
		log.FieldBatchID, msg.BatchID,
		"transactions", len(msg.Transactions))

	txs := make([]core.RawTransaction, 0, len(msg.Transactions))
	var lineErrors []string
	for i, payload := range msg.Transactions {
		tx, err := payload.ToDomain()
		if err != nil {
			slog.WarnContext(ctx, "Statement line could not be converted",
				log.FieldBatchID, msg.BatchID, "line", i, log.FieldError, err)
			lineErrors = append(lineErrors, fmt.Sprintf("line %d: %v", i, err))
			continue
		}
		txs = append(txs, tx)
	}

	var summary services.Summary
	if len(txs) > 0 {
		var err error
		summary, err = w.importer.ImportBatch(ctx, msg.InternalUserID, txs)
		if err != nil {
			if core.IsValidation(err) {
				// A malformed batch will never succeed; log and drop rather
				// than requeue forever.
				slog.ErrorContext(ctx, "Dropping unprocessable batch",
					log.FieldBatchID, msg.BatchID, log.FieldError, err)
				return nil
			}
			return fmt.Errorf("import batch %s: %w", msg.BatchID, err)
		}
	}
	summary.Errors = append(summary.Errors, lineErrors...)

	slog.InfoContext(ctx, "Statement batch processed",
		log.FieldBatchID, msg.BatchID,
		log.FieldImported, summary.Imported,
		log.FieldSkipped, summary.Skipped,
		log.FieldErrors, len(summary.Errors))
	return nil
}
