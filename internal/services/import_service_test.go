package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"loonie/internal/categorize"
	"loonie/internal/core"
	"loonie/internal/log"
)

type fakeTokens struct {
	token string
	err   error
	calls int
}

func (f *fakeTokens) GetOrCreateToken(ctx context.Context, internalUserID int64) (string, error) {
	f.calls++
	return f.token, f.err
}

type fakeCategorizer struct {
	decision categorize.Decision
}

func (f *fakeCategorizer) Categorize(ctx context.Context, internalUserID int64, tx core.RawTransaction) categorize.Decision {
	return f.decision
}

type factKey struct {
	date      string
	cents     int64
	merchant  string
	direction core.Direction
}

// fakeFactStore keeps the unique-index semantics of the real repository.
type fakeFactStore struct {
	facts       map[factKey]core.Fact
	byID        map[int64]core.Fact
	nextID      int64
	corrections map[string]int

	existsErr error
	insertErr error
}

func newFakeFactStore() *fakeFactStore {
	return &fakeFactStore{
		facts:       make(map[factKey]core.Fact),
		byID:        make(map[int64]core.Fact),
		corrections: make(map[string]int),
		nextID:      1,
	}
}

func key(f core.Fact) factKey {
	return factKey{date: f.Date.String(), cents: f.Amount.Cents, merchant: f.Merchant, direction: f.Direction}
}

func (s *fakeFactStore) FactExists(ctx context.Context, token string, date core.Date, amount core.Money, merchant string, direction core.Direction) (bool, error) {
	if s.existsErr != nil {
		return false, s.existsErr
	}
	_, ok := s.facts[factKey{date: date.String(), cents: amount.Cents, merchant: merchant, direction: direction}]
	return ok, nil
}

func (s *fakeFactStore) InsertFact(ctx context.Context, fact core.Fact) (int64, error) {
	if s.insertErr != nil {
		return 0, s.insertErr
	}
	k := key(fact)
	if _, ok := s.facts[k]; ok {
		return 0, core.ErrConflict
	}
	fact.ID = s.nextID
	s.nextID++
	s.facts[k] = fact
	s.byID[fact.ID] = fact
	return fact.ID, nil
}

func (s *fakeFactStore) GetFact(ctx context.Context, token string, factID int64) (core.Fact, error) {
	fact, ok := s.byID[factID]
	if !ok || fact.Token != token {
		return core.Fact{}, core.ErrNotFound
	}
	return fact, nil
}

func (s *fakeFactStore) UpdateFactCategory(ctx context.Context, token string, factID int64, category, label string) error {
	fact, ok := s.byID[factID]
	if !ok || fact.Token != token {
		return core.ErrNotFound
	}
	fact.Category = category
	fact.Label = label
	s.byID[factID] = fact
	return nil
}

func (s *fakeFactStore) UpsertCorrection(ctx context.Context, internalUserID int64, pattern, category, label string) error {
	s.corrections[pattern]++
	return nil
}

func serviceLogger() *log.Logger {
	return log.New(log.Config{Component: log.ComponentImport})
}

func validTx(day int, cents int64, merchant string) core.RawTransaction {
	return core.RawTransaction{
		Date:        core.NewDate(2024, 3, day),
		Description: fmt.Sprintf("%s PURCHASE", merchant),
		Merchant:    merchant,
		Amount:      core.Money{Cents: cents},
		Direction:   core.Expense,
	}
}

func TestImportBatchAccounting(t *testing.T) {
	store := newFakeFactStore()
	tokens := &fakeTokens{token: "tok-1"}
	engine := &fakeCategorizer{decision: categorize.Decision{Category: "Groceries", Confidence: 0.9, Source: categorize.SourceMerchantSubstring}}
	svc := NewImportService(tokens, engine, store, serviceLogger(), 100)

	txs := []core.RawTransaction{
		validTx(1, -1200, "METRO"),
		validTx(2, -3400, "LOBLAWS"),
		validTx(1, -1200, "METRO"),       // duplicate of the first
		{Date: core.NewDate(2024, 3, 3)}, // invalid: no amount, direction, fields
	}

	summary, err := svc.ImportBatch(context.Background(), 7, txs)
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if summary.Imported != 2 || summary.Skipped != 1 || len(summary.Errors) != 1 {
		t.Errorf("summary = %+v, want 2 imported, 1 skipped, 1 error", summary)
	}
	if len(summary.Errors) == 1 && !strings.Contains(summary.Errors[0], "invalid cashflow direction") {
		t.Errorf("error = %q, want the rejection reason", summary.Errors[0])
	}
	if summary.Total() != len(txs) {
		t.Errorf("total = %d, want %d", summary.Total(), len(txs))
	}
	if tokens.calls != 1 {
		t.Errorf("token resolved %d times, want once per batch", tokens.calls)
	}
}

func TestImportBatchReimportSkipsEverything(t *testing.T) {
	store := newFakeFactStore()
	svc := NewImportService(&fakeTokens{token: "tok-1"}, &fakeCategorizer{}, store, serviceLogger(), 100)
	txs := []core.RawTransaction{validTx(1, -1200, "METRO"), validTx(2, -500, "PRESTO")}
	ctx := context.Background()

	first, err := svc.ImportBatch(ctx, 7, txs)
	if err != nil {
		t.Fatalf("first import: %v", err)
	}
	if first.Imported != 2 {
		t.Fatalf("first import = %+v", first)
	}

	second, err := svc.ImportBatch(ctx, 7, txs)
	if err != nil {
		t.Fatalf("second import: %v", err)
	}
	if second.Imported != 0 || second.Skipped != 2 {
		t.Errorf("second import = %+v, want all skipped", second)
	}
}

func TestImportBatchNormalizesBeforePersisting(t *testing.T) {
	store := newFakeFactStore()
	svc := NewImportService(&fakeTokens{token: "tok-1"}, &fakeCategorizer{}, store, serviceLogger(), 100)

	tx := core.RawTransaction{
		Date:        core.NewDate(2024, 3, 1),
		Description: "TIM HORTONS #1234  COFFEE",
		Merchant:    "TIM HORTONS #1234",
		Amount:      core.Money{Cents: -450},
		Direction:   core.Expense,
	}
	if _, err := svc.ImportBatch(context.Background(), 7, []core.RawTransaction{tx}); err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}

	fact := store.byID[1]
	if fact.Merchant != "tim hortons 1234" {
		t.Errorf("merchant = %q, want normalized form", fact.Merchant)
	}
	if fact.Description != "tim hortons 1234 coffee" {
		t.Errorf("description = %q, want normalized form", fact.Description)
	}

	// The same line with different raw rendering is now a duplicate.
	tx.Merchant = "  tim  hortons  #1234 "
	summary, err := svc.ImportBatch(context.Background(), 7, []core.RawTransaction{tx})
	if err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if summary.Skipped != 1 {
		t.Errorf("summary = %+v, want re-rendered line skipped", summary)
	}
}

func TestImportBatchInsertConflictCountsAsSkip(t *testing.T) {
	store := newFakeFactStore()
	store.insertErr = core.ErrConflict
	svc := NewImportService(&fakeTokens{token: "tok-1"}, &fakeCategorizer{}, store, serviceLogger(), 100)

	summary, err := svc.ImportBatch(context.Background(), 7, []core.RawTransaction{validTx(1, -100, "METRO")})
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if summary.Skipped != 1 || len(summary.Errors) != 0 {
		t.Errorf("summary = %+v, want conflict counted as skip", summary)
	}
}

func TestImportBatchStorageFailureCountsAsError(t *testing.T) {
	store := newFakeFactStore()
	store.existsErr = errors.New("db down")
	svc := NewImportService(&fakeTokens{token: "tok-1"}, &fakeCategorizer{}, store, serviceLogger(), 100)

	summary, err := svc.ImportBatch(context.Background(), 7, []core.RawTransaction{validTx(1, -100, "METRO")})
	if err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}
	if len(summary.Errors) != 1 {
		t.Fatalf("summary = %+v, want storage failure counted per transaction", summary)
	}
	if !strings.Contains(summary.Errors[0], "db down") {
		t.Errorf("error = %q, want the storage failure reason", summary.Errors[0])
	}
}

func TestImportBatchLimits(t *testing.T) {
	svc := NewImportService(&fakeTokens{token: "tok-1"}, &fakeCategorizer{}, newFakeFactStore(), serviceLogger(), 2)

	if _, err := svc.ImportBatch(context.Background(), 7, nil); !core.IsValidation(err) {
		t.Errorf("empty batch err = %v, want validation error", err)
	}

	txs := []core.RawTransaction{validTx(1, -100, "A"), validTx(2, -100, "B"), validTx(3, -100, "C")}
	if _, err := svc.ImportBatch(context.Background(), 7, txs); !core.IsValidation(err) {
		t.Errorf("oversized batch err = %v, want validation error", err)
	}
}

func TestImportBatchTokenFailureAbortsBatch(t *testing.T) {
	tokens := &fakeTokens{err: errors.New("identity store down")}
	svc := NewImportService(tokens, &fakeCategorizer{}, newFakeFactStore(), serviceLogger(), 100)

	if _, err := svc.ImportBatch(context.Background(), 7, []core.RawTransaction{validTx(1, -100, "METRO")}); err == nil {
		t.Error("expected batch-level error when token resolution fails")
	}
}

func TestRecordCorrection(t *testing.T) {
	store := newFakeFactStore()
	svc := NewImportService(&fakeTokens{token: "tok-1"}, &fakeCategorizer{}, store, serviceLogger(), 100)
	ctx := context.Background()

	if _, err := svc.ImportBatch(ctx, 7, []core.RawTransaction{validTx(1, -450, "TIM HORTONS")}); err != nil {
		t.Fatalf("ImportBatch: %v", err)
	}

	if err := svc.RecordCorrection(ctx, 7, "tok-1", 1, "Restaurants", "Coffee"); err != nil {
		t.Fatalf("RecordCorrection: %v", err)
	}

	fact := store.byID[1]
	if fact.Category != "Restaurants" || fact.Label != "Coffee" {
		t.Errorf("fact after correction = %s/%s", fact.Category, fact.Label)
	}
	if store.corrections["tim hortons purchase"] != 1 {
		t.Errorf("corrections = %v, want one recorded against the description", store.corrections)
	}

	if err := svc.RecordCorrection(ctx, 7, "tok-1", 99, "X", ""); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown fact err = %v, want ErrNotFound", err)
	}
	if err := svc.RecordCorrection(ctx, 7, "tok-1", 1, "", ""); !core.IsValidation(err) {
		t.Errorf("empty category err = %v, want validation error", err)
	}
}
