// Package identity maps authenticated user identities to opaque tokens so the
// analytical store never carries a provider user id or any other identifier.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"loonie/internal/core"
	"loonie/internal/log"
)

// TokenStore persists the identity-to-token mapping.
type TokenStore interface {
	InsertTokenRecord(ctx context.Context, internalUserID int64, token string) error
	TokenByInternalID(ctx context.Context, internalUserID int64) (string, error)
	InternalIDByToken(ctx context.Context, token string) (int64, error)
}

// Tokenizer mints and resolves per-user tokens. Every user has exactly one
// token for their lifetime; it is never rotated and never derived from
// identity attributes.
type Tokenizer struct {
	store  TokenStore
	logger *log.Logger
}

func NewTokenizer(store TokenStore, logger *log.Logger) *Tokenizer {
	return &Tokenizer{store: store, logger: logger}
}

// GetOrCreateToken returns the user's token, minting one on first sight.
// Concurrent first calls race on the insert; the conflict-tolerant insert
// plus read-back guarantees both callers observe the same winning token.
func (t *Tokenizer) GetOrCreateToken(ctx context.Context, internalUserID int64) (string, error) {
	if internalUserID <= 0 {
		return "", &core.ValidationError{Field: "internal_user_id", Reason: "must be positive"}
	}

	token, err := t.store.TokenByInternalID(ctx, internalUserID)
	if err == nil {
		return token, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return "", fmt.Errorf("lookup token: %w", err)
	}

	minted := uuid.NewString()
	if err := t.store.InsertTokenRecord(ctx, internalUserID, minted); err != nil {
		return "", fmt.Errorf("insert token: %w", err)
	}

	// Read back rather than trusting our mint: a concurrent caller may have
	// won the insert, and its token is the durable one.
	token, err = t.store.TokenByInternalID(ctx, internalUserID)
	if err != nil {
		return "", fmt.Errorf("read back token: %w", err)
	}
	if token != minted {
		t.logger.InfoContext(ctx, "Token mint lost insert race, using stored token",
			log.FieldUserID, internalUserID)
	}
	return token, nil
}

// ResolveInternalID maps a token back to its internal user id, for scoping
// fact reads and writes. Unknown tokens return core.ErrNotFound.
func (t *Tokenizer) ResolveInternalID(ctx context.Context, token string) (int64, error) {
	if token == "" {
		return 0, &core.ValidationError{Field: "token", Reason: "must not be empty"}
	}
	id, err := t.store.InternalIDByToken(ctx, token)
	if err != nil {
		return 0, fmt.Errorf("resolve token: %w", err)
	}
	return id, nil
}
