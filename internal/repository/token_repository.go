package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	appErrors "github.com/noah-isme/one-time-login-api/pkg/errors"

	"github.com/noah-isme/one-time-login-api/internal/models"
)

// TokenMetaKey is the fixed user_meta key holding a user's serialized
// login-token set.
const TokenMetaKey = "one_time_login_tokens"

type userMetaStore interface {
	GetMeta(ctx context.Context, userID, key string) ([]byte, error)
	SetMeta(ctx context.Context, userID, key string, value []byte) error
}

// TokenRepository is the token store: a pure key/value adapter mapping
// a user id to that user's ordered token set. It holds no validation
// logic of its own.
type TokenRepository struct {
	meta userMetaStore
}

// NewTokenRepository builds the store on top of the user-record
// collaborator.
func NewTokenRepository(meta userMetaStore) *TokenRepository {
	return &TokenRepository{meta: meta}
}

// Load returns the user's token set, empty when none was ever saved.
func (r *TokenRepository) Load(ctx context.Context, userID string) ([]models.LoginToken, error) {
	raw, err := r.meta.GetMeta(ctx, userID, TokenMetaKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.LoginToken{}, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "load token set")
	}
	if len(raw) == 0 {
		return []models.LoginToken{}, nil
	}

	var tokens []models.LoginToken
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "decode token set")
	}
	return tokens, nil
}

// Save overwrites the user's token set. Full overwrite, last writer
// wins; callers serialize through the per-user lock.
func (r *TokenRepository) Save(ctx context.Context, userID string, tokens []models.LoginToken) error {
	if tokens == nil {
		tokens = []models.LoginToken{}
	}
	raw, err := json.Marshal(tokens)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "encode token set")
	}
	if err := r.meta.SetMeta(ctx, userID, TokenMetaKey, raw); err != nil {
		return appErrors.Wrap(err, appErrors.ErrStoreUnavailable.Code, appErrors.ErrStoreUnavailable.Status, "save token set")
	}
	return nil
}
