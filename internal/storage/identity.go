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

// --- Token records ---

// InsertTokenRecord stores a freshly minted token for an identity. The
// insert is a no-op when a record already exists, so concurrent first-time
// calls cannot produce two tokens for one identity; the caller reads back
// whichever record won.
func (r *SQLiteRepository) InsertTokenRecord(ctx context.Context, internalUserID int64, token string) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_tokens (internal_user_id, token, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (internal_user_id) DO NOTHING`,
		internalUserID, token, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return persistErr("insert token record", err)
	}
	return nil
}

// TokenByInternalID returns the token for an identity, or core.ErrNotFound.
func (r *SQLiteRepository) TokenByInternalID(ctx context.Context, internalUserID int64) (string, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var token string
	err := r.db.QueryRowContext(ctx,
		`SELECT token FROM user_tokens WHERE internal_user_id = ?`, internalUserID).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("token for user %d: %w", internalUserID, core.ErrNotFound)
	}
	if err != nil {
		return "", persistErr("token by internal id", err)
	}
	return token, nil
}

// InternalIDByToken is the privileged reverse lookup used by export and
// deletion flows. It is never exposed on the analytics query path.
func (r *SQLiteRepository) InternalIDByToken(ctx context.Context, token string) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var id int64
	err := r.db.QueryRowContext(ctx,
		`SELECT internal_user_id FROM user_tokens WHERE token = ?`, token).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("internal id for token: %w", core.ErrNotFound)
	}
	if err != nil {
		return 0, persistErr("internal id by token", err)
	}
	return id, nil
}

// --- PII records ---

// UpsertPIIUser creates or refreshes the identity profile. A refresh clears
// a pending soft-delete (the user came back before the sweep ran).
func (r *SQLiteRepository) UpsertPIIUser(ctx context.Context, u core.PIIUser) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO pii_users (internal_user_id, email, given_name, family_name, date_of_birth, phone, region, created_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT (internal_user_id) DO UPDATE SET
			email = excluded.email,
			given_name = excluded.given_name,
			family_name = excluded.family_name,
			date_of_birth = excluded.date_of_birth,
			phone = excluded.phone,
			region = excluded.region,
			deleted_at = NULL`,
		u.InternalUserID, u.Email, u.GivenName, u.FamilyName, u.DateOfBirth,
		u.Phone, u.Region, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return persistErr("upsert pii user", err)
	}
	return nil
}

// GetPIIUser returns the profile for export flows, or core.ErrNotFound.
func (r *SQLiteRepository) GetPIIUser(ctx context.Context, internalUserID int64) (core.PIIUser, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	var (
		u         core.PIIUser
		createdAt string
		deletedAt sql.NullString
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT internal_user_id, email, given_name, family_name, date_of_birth, phone, region, created_at, deleted_at
		FROM pii_users WHERE internal_user_id = ?`, internalUserID).
		Scan(&u.InternalUserID, &u.Email, &u.GivenName, &u.FamilyName, &u.DateOfBirth,
			&u.Phone, &u.Region, &createdAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.PIIUser{}, fmt.Errorf("pii user %d: %w", internalUserID, core.ErrNotFound)
	}
	if err != nil {
		return core.PIIUser{}, persistErr("get pii user", err)
	}
	u.CreatedAt = parseStoredTime(createdAt)
	if deletedAt.Valid {
		t := parseStoredTime(deletedAt.String)
		u.DeletedAt = &t
	}
	return u, nil
}

// MarkPIIDeleted starts the retention clock. Already-deleted rows keep
// their original deleted_at so repeated requests cannot push the erasure
// date forward.
func (r *SQLiteRepository) MarkPIIDeleted(ctx context.Context, internalUserID int64) error {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		UPDATE pii_users SET deleted_at = ?
		WHERE internal_user_id = ? AND deleted_at IS NULL`,
		time.Now().UTC().Format(timeFormat), internalUserID)
	if err != nil {
		return persistErr("mark pii deleted", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return persistErr("mark pii deleted rows", err)
	}
	if n == 0 {
		// Either unknown or already soft-deleted; distinguish for the caller.
		if _, err := r.GetPIIUser(ctx, internalUserID); err != nil {
			return err
		}
	}
	return nil
}

// EraseExpiredPII permanently deletes soft-deleted profiles whose
// deleted_at is older than cutoff. The guard is part of the DELETE itself,
// never a blind delete, so a clock mistake cannot erase a fresh record.
func (r *SQLiteRepository) EraseExpiredPII(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		DELETE FROM pii_users
		WHERE deleted_at IS NOT NULL AND deleted_at < ?`,
		cutoff.UTC().Format(timeFormat))
	if err != nil {
		return 0, persistErr("erase expired pii", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, persistErr("erase expired pii rows", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "Expired PII records erased", "count", n)
	}
	return n, nil
}

// --- Correction history ---

// UpsertCorrection records a user re-categorization against the normalized
// description pattern, incrementing frequency on repeats.
func (r *SQLiteRepository) UpsertCorrection(ctx context.Context, internalUserID int64, pattern, category, label string) error {
	if pattern == "" {
		return &core.ValidationError{Field: "pattern", Reason: "empty after normalization"}
	}

	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO category_corrections (internal_user_id, pattern, category, label, frequency, last_used_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (internal_user_id, pattern) DO UPDATE SET
			category = excluded.category,
			label = excluded.label,
			frequency = frequency + 1,
			last_used_at = excluded.last_used_at`,
		internalUserID, pattern, category, label, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return persistErr("upsert correction", err)
	}
	return nil
}

// CorrectionsByUser returns a user's correction history, most frequent
// first, for the categorization engine's learning tier.
func (r *SQLiteRepository) CorrectionsByUser(ctx context.Context, internalUserID int64) ([]core.Correction, error) {
	ctx, cancel := r.opCtx(ctx)
	defer cancel()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, internal_user_id, pattern, category, label, frequency, last_used_at
		FROM category_corrections
		WHERE internal_user_id = ?
		ORDER BY frequency DESC, pattern ASC`, internalUserID)
	if err != nil {
		return nil, persistErr("list corrections", err)
	}
	defer rows.Close()

	var corrections []core.Correction
	for rows.Next() {
		var (
			c          core.Correction
			lastUsedAt string
		)
		if err := rows.Scan(&c.ID, &c.InternalUserID, &c.Pattern, &c.Category,
			&c.Label, &c.Frequency, &lastUsedAt); err != nil {
			return nil, persistErr("scan correction", err)
		}
		c.LastUsedAt = parseStoredTime(lastUsedAt)
		corrections = append(corrections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list corrections", err)
	}
	return corrections, nil
}
