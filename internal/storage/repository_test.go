package storage

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"loonie/internal/core"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "loonie.db"), 5*time.Second)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func seedToken(t *testing.T, repo *SQLiteRepository, userID int64, token string) {
	t.Helper()
	if err := repo.InsertTokenRecord(context.Background(), userID, token); err != nil {
		t.Fatalf("InsertTokenRecord: %v", err)
	}
}

func TestRuleCRUD(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rule, err := repo.CreateRule(ctx, core.Rule{
		Kind:              core.MerchantRule,
		Pattern:           "Shoppers Drug Mart #44",
		AlternatePatterns: []string{"Pharmaprix"},
		Category:          "Health",
		Label:             "Pharmacy",
		Priority:          8,
		Active:            true,
	})
	if err != nil {
		t.Fatalf("CreateRule: %v", err)
	}
	if rule.Pattern != "SHOPPERS DRUG MART 44" {
		t.Errorf("pattern not normalized on write: %q", rule.Pattern)
	}
	if rule.AlternatePatterns[0] != "PHARMAPRIX" {
		t.Errorf("alternate not normalized on write: %q", rule.AlternatePatterns[0])
	}

	// Same (kind, pattern, category) conflicts.
	_, err = repo.CreateRule(ctx, core.Rule{
		Kind:     core.MerchantRule,
		Pattern:  "shoppers-drug-mart 44",
		Category: "Health",
		Active:   true,
	})
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("duplicate rule = %v, want ErrConflict", err)
	}

	rules, err := repo.ListRules(ctx, RuleFilter{Kind: core.MerchantRule, Category: "Health"})
	if err != nil {
		t.Fatalf("ListRules: %v", err)
	}
	if len(rules) != 1 || rules[0].ID != rule.ID {
		t.Fatalf("ListRules = %+v, want the created rule", rules)
	}

	rule.Active = false
	if err := repo.UpdateRule(ctx, rule); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	active, err := repo.ActiveRules(ctx)
	if err != nil {
		t.Fatalf("ActiveRules: %v", err)
	}
	for _, r := range active {
		if r.ID == rule.ID {
			t.Error("deactivated rule still listed as active")
		}
	}

	if err := repo.DeleteRule(ctx, rule.ID); err != nil {
		t.Fatalf("DeleteRule: %v", err)
	}
	if err := repo.DeleteRule(ctx, rule.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
}

func TestSeededRulesPresent(t *testing.T) {
	repo := newTestRepo(t)

	rules, err := repo.ActiveRules(context.Background())
	if err != nil {
		t.Fatalf("ActiveRules: %v", err)
	}
	var patterns []string
	for _, r := range rules {
		patterns = append(patterns, r.Pattern)
	}
	for _, want := range []string{"TIM HORTONS", "FIDO", "PAYROLL"} {
		if !slices.Contains(patterns, want) {
			t.Errorf("seed rule %q missing from active rules", want)
		}
	}
}

func TestTokenRecordIdempotentInsert(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.InsertTokenRecord(ctx, 7, "tok-first"); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	// Losing a creation race is silent; the first record stays.
	if err := repo.InsertTokenRecord(ctx, 7, "tok-second"); err != nil {
		t.Fatalf("second insert: %v", err)
	}

	token, err := repo.TokenByInternalID(ctx, 7)
	if err != nil {
		t.Fatalf("TokenByInternalID: %v", err)
	}
	if token != "tok-first" {
		t.Errorf("token = %q, want the first-inserted record", token)
	}

	id, err := repo.InternalIDByToken(ctx, "tok-first")
	if err != nil {
		t.Fatalf("InternalIDByToken: %v", err)
	}
	if id != 7 {
		t.Errorf("internal id = %d, want 7", id)
	}

	if _, err := repo.TokenByInternalID(ctx, 999); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("missing token = %v, want ErrNotFound", err)
	}
}

func TestFactInsertAndDuplicateKey(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedToken(t, repo, 1, "tok-1")

	fact := core.Fact{
		Token:       "tok-1",
		Date:        core.NewDate(2024, 1, 15),
		Description: "FIDO MOBILE payment",
		Merchant:    "FIDO MOBILE",
		Amount:      core.Money{Cents: -6000},
		Direction:   core.Expense,
		Category:    "Bills",
		Label:       "Telecom",
	}

	id, err := repo.InsertFact(ctx, fact)
	if err != nil {
		t.Fatalf("InsertFact: %v", err)
	}
	if id == 0 {
		t.Error("InsertFact returned zero id")
	}

	exists, err := repo.FactExists(ctx, "tok-1", fact.Date, fact.Amount, fact.Merchant, fact.Direction)
	if err != nil {
		t.Fatalf("FactExists: %v", err)
	}
	if !exists {
		t.Error("FactExists = false for just-inserted fact")
	}

	// Description differs but the four-field key matches: still a duplicate
	// at the constraint level.
	dup := fact
	dup.Description = "edited later"
	dup.Category = "Uncategorised"
	if _, err := repo.InsertFact(ctx, dup); !errors.Is(err, core.ErrConflict) {
		t.Errorf("duplicate insert = %v, want ErrConflict", err)
	}

	// A different amount is a different financial event.
	other := fact
	other.Amount = core.Money{Cents: -6500}
	if _, err := repo.InsertFact(ctx, other); err != nil {
		t.Errorf("distinct fact insert: %v", err)
	}
}

func TestFactTableCarriesNoPII(t *testing.T) {
	repo := newTestRepo(t)

	rows, err := repo.db.Query(`SELECT * FROM transaction_facts LIMIT 0`)
	if err != nil {
		t.Fatalf("select facts: %v", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	for _, col := range cols {
		switch col {
		case "email", "given_name", "family_name", "date_of_birth", "phone", "internal_user_id":
			t.Errorf("fact table exposes identity column %q", col)
		}
	}
}

func TestFactScopedOperations(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedToken(t, repo, 1, "tok-a")
	seedToken(t, repo, 2, "tok-b")

	fact := core.Fact{
		Token:     "tok-a",
		Date:      core.NewDate(2024, 2, 1),
		Merchant:  "LOBLAWS",
		Amount:    core.Money{Cents: -12345},
		Direction: core.Expense,
		Category:  "Groceries",
	}
	id, err := repo.InsertFact(ctx, fact)
	if err != nil {
		t.Fatalf("InsertFact: %v", err)
	}

	// Another token cannot touch it.
	if err := repo.UpdateFactCategory(ctx, "tok-b", id, "X", ""); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-token update = %v, want ErrNotFound", err)
	}
	if err := repo.DeleteFact(ctx, "tok-b", id); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cross-token delete = %v, want ErrNotFound", err)
	}

	if err := repo.UpdateFactCategory(ctx, "tok-a", id, "Food", "Weekly shop"); err != nil {
		t.Fatalf("UpdateFactCategory: %v", err)
	}
	got, err := repo.GetFact(ctx, "tok-a", id)
	if err != nil {
		t.Fatalf("GetFact: %v", err)
	}
	if got.Category != "Food" || got.Label != "Weekly shop" {
		t.Errorf("fact after update = %s/%s", got.Category, got.Label)
	}
}

func TestListFactsRangeAndSummary(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	seedToken(t, repo, 1, "tok-1")

	insert := func(date core.Date, cents int64, merchant string, dir core.Direction, category string) {
		t.Helper()
		_, err := repo.InsertFact(ctx, core.Fact{
			Token: "tok-1", Date: date, Merchant: merchant,
			Amount: core.Money{Cents: cents}, Direction: dir, Category: category,
		})
		if err != nil {
			t.Fatalf("InsertFact: %v", err)
		}
	}
	insert(core.NewDate(2024, 1, 5), 250000, "EMPLOYER", core.Income, "Income")
	insert(core.NewDate(2024, 1, 10), -6000, "FIDO", core.Expense, "Bills")
	insert(core.NewDate(2024, 2, 10), -4000, "METRO", core.Expense, "Groceries")

	january, err := repo.ListFacts(ctx, "tok-1", core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	if err != nil {
		t.Fatalf("ListFacts: %v", err)
	}
	if len(january) != 2 {
		t.Fatalf("january facts = %d, want 2", len(january))
	}
	if january[0].Date.String() != "2024-01-10" {
		t.Errorf("facts not ordered newest first: %s", january[0].Date)
	}

	summary, err := repo.CashflowSummary(ctx, "tok-1", core.NewDate(2024, 1, 1), core.NewDate(2024, 1, 31))
	if err != nil {
		t.Fatalf("CashflowSummary: %v", err)
	}
	if summary.Income.Cents != 250000 {
		t.Errorf("income = %d, want 250000", summary.Income.Cents)
	}
	if summary.Expenses.Cents != -6000 {
		t.Errorf("expenses = %d, want -6000", summary.Expenses.Cents)
	}
	if len(summary.ByCategory) != 2 {
		t.Errorf("categories = %d, want 2", len(summary.ByCategory))
	}
}

func TestCorrectionFrequencyIncrement(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for range 3 {
		if err := repo.UpsertCorrection(ctx, 4, "netflix com", "Entertainment", "Streaming"); err != nil {
			t.Fatalf("UpsertCorrection: %v", err)
		}
	}
	if err := repo.UpsertCorrection(ctx, 4, "spotify", "Entertainment", "Music"); err != nil {
		t.Fatalf("UpsertCorrection: %v", err)
	}

	corrections, err := repo.CorrectionsByUser(ctx, 4)
	if err != nil {
		t.Fatalf("CorrectionsByUser: %v", err)
	}
	if len(corrections) != 2 {
		t.Fatalf("corrections = %d, want 2", len(corrections))
	}
	if corrections[0].Pattern != "netflix com" || corrections[0].Frequency != 3 {
		t.Errorf("most frequent = %q freq %d, want netflix com freq 3",
			corrections[0].Pattern, corrections[0].Frequency)
	}

	if err := repo.UpsertCorrection(ctx, 4, "", "X", ""); !core.IsValidation(err) {
		t.Errorf("empty pattern = %v, want ValidationError", err)
	}
}

func TestPIIRetentionGuard(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	for _, u := range []core.PIIUser{
		{InternalUserID: 1, Email: "old@example.ca", Region: "ON"},
		{InternalUserID: 2, Email: "recent@example.ca", Region: "QC"},
		{InternalUserID: 3, Email: "active@example.ca", Region: "BC"},
	} {
		if err := repo.UpsertPIIUser(ctx, u); err != nil {
			t.Fatalf("UpsertPIIUser: %v", err)
		}
	}

	// Backdate the deletions directly: user 1 past the window, user 2 inside it.
	now := time.Now().UTC()
	backdate := func(id int64, deletedAt time.Time) {
		t.Helper()
		if _, err := repo.db.Exec(`UPDATE pii_users SET deleted_at = ? WHERE internal_user_id = ?`,
			deletedAt.Format(timeFormat), id); err != nil {
			t.Fatalf("backdate: %v", err)
		}
	}
	backdate(1, now.Add(-31*24*time.Hour))
	backdate(2, now.Add(-10*24*time.Hour))

	erased, err := repo.EraseExpiredPII(ctx, now.Add(-core.RetentionWindow))
	if err != nil {
		t.Fatalf("EraseExpiredPII: %v", err)
	}
	if erased != 1 {
		t.Errorf("erased = %d, want 1", erased)
	}

	if _, err := repo.GetPIIUser(ctx, 1); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("user 1 should be erased, got %v", err)
	}
	if _, err := repo.GetPIIUser(ctx, 2); err != nil {
		t.Errorf("user 2 inside the window should survive: %v", err)
	}
	if _, err := repo.GetPIIUser(ctx, 3); err != nil {
		t.Errorf("never-deleted user should survive: %v", err)
	}
}

func TestMarkPIIDeletedKeepsOriginalClock(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	if err := repo.UpsertPIIUser(ctx, core.PIIUser{InternalUserID: 9, Email: "x@example.ca"}); err != nil {
		t.Fatalf("UpsertPIIUser: %v", err)
	}
	if err := repo.MarkPIIDeleted(ctx, 9); err != nil {
		t.Fatalf("MarkPIIDeleted: %v", err)
	}
	first, err := repo.GetPIIUser(ctx, 9)
	if err != nil {
		t.Fatalf("GetPIIUser: %v", err)
	}
	if first.DeletedAt == nil {
		t.Fatal("deleted_at not set")
	}

	time.Sleep(1100 * time.Millisecond)
	if err := repo.MarkPIIDeleted(ctx, 9); err != nil {
		t.Fatalf("second MarkPIIDeleted: %v", err)
	}
	second, err := repo.GetPIIUser(ctx, 9)
	if err != nil {
		t.Fatalf("GetPIIUser: %v", err)
	}
	if !second.DeletedAt.Equal(*first.DeletedAt) {
		t.Errorf("repeated delete moved the clock: %v -> %v", first.DeletedAt, second.DeletedAt)
	}

	if err := repo.MarkPIIDeleted(ctx, 404); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown user = %v, want ErrNotFound", err)
	}
}
