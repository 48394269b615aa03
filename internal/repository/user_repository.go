package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/one-time-login-api/internal/models"
)

// UserRepository provides database access for users and their
// key/value metadata.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, login, email, password_hash, full_name, role, active, created_at, updated_at`

// FindByID returns a user by identifier.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by id: %w", err)
	}
	return &user, nil
}

// FindByEmail returns a user by email address.
func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, email); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by email: %w", err)
	}
	return &user, nil
}

// FindByLogin returns a user by login name.
func (r *UserRepository) FindByLogin(ctx context.Context, login string) (*models.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE login = $1 LIMIT 1`, userColumns)
	var user models.User
	if err := r.db.GetContext(ctx, &user, query, login); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find user by login: %w", err)
	}
	return &user, nil
}

// Fetch resolves an identifier that may be a user id, an email
// address, or a login name, in that order.
func (r *UserRepository) Fetch(ctx context.Context, identifier string) (*models.User, error) {
	if _, err := uuid.Parse(identifier); err == nil {
		if user, err := r.FindByID(ctx, identifier); err == nil {
			return user, nil
		} else if err != sql.ErrNoRows {
			return nil, err
		}
	}
	if strings.Contains(identifier, "@") {
		if user, err := r.FindByEmail(ctx, identifier); err == nil {
			return user, nil
		} else if err != sql.ErrNoRows {
			return nil, err
		}
	}
	return r.FindByLogin(ctx, identifier)
}

// Create inserts a new user.
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	const query = `INSERT INTO users (id, login, email, password_hash, full_name, role, active, created_at, updated_at) VALUES (:id, :login, :email, :password_hash, :full_name, :role, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// GetMeta returns the raw value stored under key for the given user.
// sql.ErrNoRows is returned untouched when the key is absent.
func (r *UserRepository) GetMeta(ctx context.Context, userID, key string) ([]byte, error) {
	const query = `SELECT meta_value FROM user_meta WHERE user_id = $1 AND meta_key = $2 LIMIT 1`
	var value []byte
	if err := r.db.GetContext(ctx, &value, query, userID, key); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("get user meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta overwrites the value stored under key for the given user.
func (r *UserRepository) SetMeta(ctx context.Context, userID, key string, value []byte) error {
	const query = `INSERT INTO user_meta (user_id, meta_key, meta_value, updated_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.ExecContext(ctx, query, userID, key, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("set user meta %s: %w", key, err)
	}
	return nil
}
