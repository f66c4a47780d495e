package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loonie/internal/core"
)

// FactExists is the duplicate-detection read: an exact match on the
// four-field key for the same token. Description and category are excluded
// deliberately, both may be edited after the original import.
func (r *SQLiteRepository) FactExists(ctx context.Context, token string, date core.Date, amount core.Money, merchant string, direction core.Direction) (bool, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM transaction_facts
		WHERE token = ? AND date = ? AND amount_cents = ? AND merchant = ? AND direction = ?
		LIMIT 1`,
		token, date.String(), amount.Cents, merchant, string(direction)).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, persistErr("fact exists", err)
	}
	return true, nil
}

// InsertFact persists an analytics fact. The unique index on the duplicate
// key means a concurrent double-import surfaces as core.ErrConflict.
func (r *SQLiteRepository) InsertFact(ctx context.Context, fact core.Fact) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO transaction_facts (token, date, description, merchant, amount_cents, direction, category, label, account, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fact.Token, fact.Date.String(), fact.Description, fact.Merchant, fact.Amount.Cents,
		string(fact.Direction), fact.Category, fact.Label, fact.Account,
		time.Now().UTC().Format(timeFormat))
	if err != nil {
		return 0, persistErr("insert fact", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, persistErr("fact id", err)
	}
	return id, nil
}

// ListFacts returns the facts for one token, newest date first. A zero from
// or to leaves that side of the range open.
func (r *SQLiteRepository) ListFacts(ctx context.Context, token string, from, to core.Date) ([]core.Fact, error) {
	query := `
		SELECT id, token, date, description, merchant, amount_cents, direction, category, label, account, created_at
		FROM transaction_facts WHERE token = ?`
	args := []any{token}
	if !from.IsZero() {
		query += ` AND date >= ?`
		args = append(args, from.String())
	}
	if !to.IsZero() {
		query += ` AND date <= ?`
		args = append(args, to.String())
	}
	query += ` ORDER BY date DESC, id DESC`

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list facts", err)
	}
	defer rows.Close()

	var facts []core.Fact
	for rows.Next() {
		var (
			fact      core.Fact
			date      string
			direction string
			createdAt string
		)
		if err := rows.Scan(&fact.ID, &fact.Token, &date, &fact.Description, &fact.Merchant,
			&fact.Amount.Cents, &direction, &fact.Category, &fact.Label, &fact.Account, &createdAt); err != nil {
			return nil, persistErr("scan fact", err)
		}
		fact.Date, _ = core.ParseDate(date)
		fact.Direction = core.Direction(direction)
		fact.CreatedAt = parseStoredTime(createdAt)
		facts = append(facts, fact)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list facts", err)
	}
	return facts, nil
}

// UpdateFactCategory re-labels a fact, scoped to the owning token so one
// user cannot edit another's facts by id guessing.
func (r *SQLiteRepository) UpdateFactCategory(ctx context.Context, token string, factID int64, category, label string) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE transaction_facts SET category = ?, label = ?
		WHERE id = ? AND token = ?`,
		category, label, factID, token)
	if err != nil {
		return persistErr("update fact category", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update fact rows", err)
	}
	if n == 0 {
		return fmt.Errorf("fact %d: %w", factID, core.ErrNotFound)
	}
	return nil
}

// GetFact returns one fact scoped to the owning token.
func (r *SQLiteRepository) GetFact(ctx context.Context, token string, factID int64) (core.Fact, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var (
		fact      core.Fact
		date      string
		direction string
		createdAt string
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, token, date, description, merchant, amount_cents, direction, category, label, account, created_at
		FROM transaction_facts WHERE id = ? AND token = ?`, factID, token).
		Scan(&fact.ID, &fact.Token, &date, &fact.Description, &fact.Merchant,
			&fact.Amount.Cents, &direction, &fact.Category, &fact.Label, &fact.Account, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Fact{}, fmt.Errorf("fact %d: %w", factID, core.ErrNotFound)
	}
	if err != nil {
		return core.Fact{}, persistErr("get fact", err)
	}
	fact.Date, _ = core.ParseDate(date)
	fact.Direction = core.Direction(direction)
	fact.CreatedAt = parseStoredTime(createdAt)
	return fact, nil
}

func (r *SQLiteRepository) DeleteFact(ctx context.Context, token string, factID int64) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM transaction_facts WHERE id = ? AND token = ?`, factID, token)
	if err != nil {
		return persistErr("delete fact", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete fact rows", err)
	}
	if n == 0 {
		return fmt.Errorf("fact %d: %w", factID, core.ErrNotFound)
	}

	slog.InfoContext(ctx, "Fact deleted", "fact_id", factID)
	return nil
}

// CashflowSummary aggregates income, expenses, and per-category totals for
// one token over a date range.
func (r *SQLiteRepository) CashflowSummary(ctx context.Context, token string, from, to core.Date) (core.CashflowSummary, error) {
	var summary core.CashflowSummary

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN direction = 'income' THEN amount_cents ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN direction = 'expense' THEN amount_cents ELSE 0 END), 0)
		FROM transaction_facts
		WHERE token = ? AND date >= ? AND date <= ?`,
		token, from.String(), to.String()).Scan(&summary.Income.Cents, &summary.Expenses.Cents)
	if err != nil {
		return summary, persistErr("cashflow totals", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT category, COALESCE(SUM(amount_cents), 0)
		FROM transaction_facts
		WHERE token = ? AND date >= ? AND date <= ?
		GROUP BY category
		ORDER BY category ASC`,
		token, from.String(), to.String())
	if err != nil {
		return summary, persistErr("cashflow by category", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ca core.CategoryAmount
		if err := rows.Scan(&ca.Name, &ca.Amount.Cents); err != nil {
			return summary, persistErr("scan category amount", err)
		}
		summary.ByCategory = append(summary.ByCategory, ca)
	}
	if err := rows.Err(); err != nil {
		return summary, persistErr("cashflow by category", err)
	}
	return summary, nil
}
