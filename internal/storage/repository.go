package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"loonie/internal/core"
	"loonie/internal/log"

	_ "modernc.org/sqlite"
)

// timeFormat is the canonical storage form for timestamps. RFC3339 in UTC
// compares lexicographically, which the retention guard query relies on.
const timeFormat = time.RFC3339

type SQLiteRepository struct {
	db      *sql.DB
	timeout time.Duration
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath, runs
// migrations, and returns a repository whose persistence calls are bounded by
// timeout. A zero timeout means 5s.
func NewSQLiteRepository(dbPath string, timeout time.Duration) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return &SQLiteRepository{db: db, timeout: timeout}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// opCtx bounds a single persistence call. The parent context still aborts
// the call early when the request is cancelled.
func (r *SQLiteRepository) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// isUniqueViolation reports whether err is a sqlite unique-constraint
// failure. The modernc driver surfaces these as textual errors.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// persistErr wraps a driver error into the shared taxonomy: unique-key
// violations become core.ErrConflict, everything else a PersistenceError.
func persistErr(op string, err error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%s: %w", op, core.ErrConflict)
	}
	return &core.PersistenceError{Op: op, Err: err}
}

// --- Rule store ---

// RuleFilter narrows ListRules. Zero values mean "any".
type RuleFilter struct {
	Kind       core.RuleKind
	Category   string
	ActiveOnly bool
}

// CreateRule normalizes the pattern, validates, and inserts the rule.
// Returns core.ErrConflict when (kind, pattern, category) already exists.
func (r *SQLiteRepository) CreateRule(ctx context.Context, rule core.Rule) (core.Rule, error) {
	rule.Pattern = core.NormalizePattern(rule.Pattern)
	for i, alt := range rule.AlternatePatterns {
		rule.AlternatePatterns[i] = core.NormalizePattern(alt)
	}
	if err := rule.Validate(); err != nil {
		return core.Rule{}, &core.ValidationError{Field: "rule", Reason: err.Error()}
	}

	alternates, err := json.Marshal(rule.AlternatePatterns)
	if err != nil {
		return core.Rule{}, fmt.Errorf("marshal alternate patterns: %w", err)
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO category_rules (kind, pattern, alternate_patterns, category, label, priority, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(rule.Kind), rule.Pattern, string(alternates), rule.Category, rule.Label,
		rule.Priority, boolToInt(rule.Active), now.Format(timeFormat), now.Format(timeFormat))
	if err != nil {
		return core.Rule{}, persistErr("insert rule", err)
	}

	rule.ID, err = res.LastInsertId()
	if err != nil {
		return core.Rule{}, persistErr("rule id", err)
	}

	slog.InfoContext(ctx, "Rule created",
		log.FieldRuleID, rule.ID,
		log.FieldRuleKind, rule.Kind,
		log.FieldPattern, rule.Pattern,
		log.FieldCategory, rule.Category)

	return rule, nil
}

// UpdateRule replaces the mutable fields of an existing rule.
func (r *SQLiteRepository) UpdateRule(ctx context.Context, rule core.Rule) error {
	rule.Pattern = core.NormalizePattern(rule.Pattern)
	for i, alt := range rule.AlternatePatterns {
		rule.AlternatePatterns[i] = core.NormalizePattern(alt)
	}
	if err := rule.Validate(); err != nil {
		return &core.ValidationError{Field: "rule", Reason: err.Error()}
	}

	alternates, err := json.Marshal(rule.AlternatePatterns)
	if err != nil {
		return fmt.Errorf("marshal alternate patterns: %w", err)
	}

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE category_rules
		SET kind = ?, pattern = ?, alternate_patterns = ?, category = ?, label = ?, priority = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		string(rule.Kind), rule.Pattern, string(alternates), rule.Category, rule.Label,
		rule.Priority, boolToInt(rule.Active), time.Now().UTC().Format(timeFormat), rule.ID)
	if err != nil {
		return persistErr("update rule", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("update rule rows", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", rule.ID, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) DeleteRule(ctx context.Context, id int64) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `DELETE FROM category_rules WHERE id = ?`, id)
	if err != nil {
		return persistErr("delete rule", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("delete rule rows", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %d: %w", id, core.ErrNotFound)
	}
	return nil
}

func (r *SQLiteRepository) ListRules(ctx context.Context, filter RuleFilter) ([]core.Rule, error) {
	query := `
		SELECT id, kind, pattern, alternate_patterns, category, label, priority, active, created_at, updated_at
		FROM category_rules WHERE 1=1`
	var args []any
	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(filter.Kind))
	}
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, filter.Category)
	}
	if filter.ActiveOnly {
		query += ` AND active = 1`
	}
	query += ` ORDER BY priority DESC, pattern ASC`

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list rules", err)
	}
	defer rows.Close()

	var rules []core.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, persistErr("scan rule", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list rules", err)
	}
	return rules, nil
}

// ActiveRules is the categorization read path: every active rule, highest
// priority first. Callers go through the snapshot cache, not this directly.
func (r *SQLiteRepository) ActiveRules(ctx context.Context) ([]core.Rule, error) {
	return r.ListRules(ctx, RuleFilter{ActiveOnly: true})
}

func scanRule(rows *sql.Rows) (core.Rule, error) {
	var (
		rule       core.Rule
		kind       string
		alternates string
		active     int
		createdAt  string
		updatedAt  string
	)
	if err := rows.Scan(&rule.ID, &kind, &rule.Pattern, &alternates, &rule.Category,
		&rule.Label, &rule.Priority, &active, &createdAt, &updatedAt); err != nil {
		return core.Rule{}, err
	}
	rule.Kind = core.RuleKind(kind)
	rule.Active = active != 0
	if err := json.Unmarshal([]byte(alternates), &rule.AlternatePatterns); err != nil {
		return core.Rule{}, fmt.Errorf("decode alternate patterns: %w", err)
	}
	rule.CreatedAt = parseStoredTime(createdAt)
	rule.UpdatedAt = parseStoredTime(updatedAt)
	return rule, nil
}

func parseStoredTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
