// Package services wires the pipeline stages together: tokenization,
// categorization, duplicate detection, persistence, and the retention sweep.
package services

import (
	"context"
	"errors"
	"fmt"

	"loonie/internal/categorize"
	"loonie/internal/core"
	"loonie/internal/log"
)

// Categorizer decides a category for one transaction. It never errors.
type Categorizer interface {
	Categorize(ctx context.Context, internalUserID int64, tx core.RawTransaction) categorize.Decision
}

// TokenProvider resolves the opaque analytics token for an identity.
type TokenProvider interface {
	GetOrCreateToken(ctx context.Context, internalUserID int64) (string, error)
}

// FactStore is the slice of the repository the import pipeline writes to.
type FactStore interface {
	FactExists(ctx context.Context, token string, date core.Date, amount core.Money, merchant string, direction core.Direction) (bool, error)
	InsertFact(ctx context.Context, fact core.Fact) (int64, error)
	GetFact(ctx context.Context, token string, factID int64) (core.Fact, error)
	UpdateFactCategory(ctx context.Context, token string, factID int64, category, label string) error
	UpsertCorrection(ctx context.Context, internalUserID int64, pattern, category, label string) error
}

// Summary is the per-batch accounting. Each failed transaction contributes
// one message to Errors; Imported + Skipped + len(Errors) always equals the
// number of transactions submitted.
type Summary struct {
	Imported int      `json:"imported"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

func (s Summary) Total() int {
	return s.Imported + s.Skipped + len(s.Errors)
}

// ImportService runs statement batches through the pipeline. A batch is not
// transactional: each transaction lands or fails on its own, and the summary
// accounts for every one.
type ImportService struct {
	tokens       TokenProvider
	engine       Categorizer
	facts        FactStore
	logger       *log.Logger
	maxBatchSize int
}

func NewImportService(tokens TokenProvider, engine Categorizer, facts FactStore, logger *log.Logger, maxBatchSize int) *ImportService {
	if maxBatchSize <= 0 {
		maxBatchSize = 500
	}
	return &ImportService{
		tokens:       tokens,
		engine:       engine,
		facts:        facts,
		logger:       logger,
		maxBatchSize: maxBatchSize,
	}
}

// ImportBatch tokenizes once, then runs every transaction through validate,
// duplicate-check, categorize, persist. A failing transaction is reported in
// the summary, never aborts the rest of the batch. The returned error covers
// only batch-level failures (empty batch, size limit, token resolution).
func (s *ImportService) ImportBatch(ctx context.Context, internalUserID int64, txs []core.RawTransaction) (Summary, error) {
	summary := Summary{Errors: []string{}}

	if len(txs) == 0 {
		return summary, &core.ValidationError{Field: "transactions", Reason: "batch is empty"}
	}
	if len(txs) > s.maxBatchSize {
		return summary, &core.ValidationError{
			Field:  "transactions",
			Reason: fmt.Sprintf("batch of %d exceeds limit %d", len(txs), s.maxBatchSize),
		}
	}

	// One token per batch. PII stops here: everything below this line keys
	// on the token alone.
	token, err := s.tokens.GetOrCreateToken(ctx, internalUserID)
	if err != nil {
		return summary, fmt.Errorf("resolve batch token: %w", err)
	}

	for _, tx := range txs {
		res, reason := s.importOne(ctx, internalUserID, token, tx)
		switch res {
		case outcomeImported:
			summary.Imported++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeError:
			summary.Errors = append(summary.Errors, reason)
		}
	}

	s.logger.InfoContext(ctx, "Batch imported",
		log.FieldImported, summary.Imported,
		log.FieldSkipped, summary.Skipped,
		log.FieldErrors, len(summary.Errors))
	return summary, nil
}

type outcome int

const (
	outcomeImported outcome = iota
	outcomeSkipped
	outcomeError
)

// importOne returns the transaction's outcome; for outcomeError the second
// return value carries the caller-visible failure reason.
func (s *ImportService) importOne(ctx context.Context, internalUserID int64, token string, tx core.RawTransaction) (outcome, string) {
	if err := tx.Validate(); err != nil {
		s.logger.WarnContext(ctx, "Transaction rejected", log.FieldError, err.Error())
		return outcomeError, err.Error()
	}

	merchant := core.Normalize(tx.Merchant)

	// Duplicates are detected before categorization; a re-imported line
	// never reaches the rule engine.
	exists, err := s.facts.FactExists(ctx, token, tx.Date, tx.Amount, merchant, tx.Direction)
	if err != nil {
		s.logger.ErrorContext(ctx, "Duplicate check failed", log.FieldError, err.Error())
		return outcomeError, fmt.Sprintf("duplicate check: %v", err)
	}
	if exists {
		return outcomeSkipped, ""
	}

	decision := s.engine.Categorize(ctx, internalUserID, tx)

	_, err = s.facts.InsertFact(ctx, core.Fact{
		Token:       token,
		Date:        tx.Date,
		Description: core.Normalize(tx.Description),
		Merchant:    merchant,
		Amount:      tx.Amount,
		Direction:   tx.Direction,
		Category:    decision.Category,
		Label:       decision.Label,
		Account:     tx.Account,
	})
	if errors.Is(err, core.ErrConflict) {
		// Lost a race with a concurrent import of the same statement.
		return outcomeSkipped, ""
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "Fact insert failed", log.FieldError, err.Error())
		return outcomeError, fmt.Sprintf("insert fact: %v", err)
	}

	s.logger.DebugContext(ctx, "Transaction imported",
		log.FieldCategory, decision.Category,
		log.FieldMatchSource, string(decision.Source),
		log.FieldConfidence, decision.Confidence)
	return outcomeImported, ""
}

// RecordCorrection applies a user re-categorization to a fact and remembers
// it against the fact's description so future imports learn from it.
func (s *ImportService) RecordCorrection(ctx context.Context, internalUserID int64, token string, factID int64, category, label string) error {
	if category == "" {
		return &core.ValidationError{Field: "category", Reason: "must not be empty"}
	}

	fact, err := s.facts.GetFact(ctx, token, factID)
	if err != nil {
		return fmt.Errorf("load fact: %w", err)
	}
	if err := s.facts.UpdateFactCategory(ctx, token, factID, category, label); err != nil {
		return fmt.Errorf("update fact: %w", err)
	}

	pattern := fact.Description
	if pattern == "" {
		pattern = fact.Merchant
	}
	if pattern == "" {
		// Nothing to learn from; the re-label alone still stands.
		return nil
	}
	if err := s.facts.UpsertCorrection(ctx, internalUserID, pattern, category, label); err != nil {
		return fmt.Errorf("record correction: %w", err)
	}

	s.logger.InfoContext(ctx, "Correction recorded",
		log.FieldFactID, factID,
		log.FieldCategory, category)
	return nil
}
