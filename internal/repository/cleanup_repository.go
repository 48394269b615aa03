package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/one-time-login-api/internal/models"
)

// CleanupRepository persists one-shot token cleanup registrations so
// scheduled retirements survive process restarts.
type CleanupRepository struct {
	db *sqlx.DB
}

// NewCleanupRepository creates a new instance of CleanupRepository.
func NewCleanupRepository(db *sqlx.DB) *CleanupRepository {
	return &CleanupRepository{db: db}
}

// Create stores a cleanup job targeting the given secrets at runAt.
func (r *CleanupRepository) Create(ctx context.Context, userID string, runAt time.Time, secrets []string) (*models.CleanupJob, error) {
	encoded, err := json.Marshal(secrets)
	if err != nil {
		return nil, fmt.Errorf("encode cleanup secrets: %w", err)
	}
	job := &models.CleanupJob{
		ID:        uuid.NewString(),
		UserID:    userID,
		RunAt:     runAt.UTC(),
		Secrets:   encoded,
		CreatedAt: time.Now().UTC(),
	}
	const query = `INSERT INTO cleanup_jobs (id, user_id, run_at, secrets, created_at) VALUES (:id, :user_id, :run_at, :secrets, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return nil, fmt.Errorf("create cleanup job: %w", err)
	}
	return job, nil
}

// FindDue returns jobs whose run_at has passed, oldest first.
func (r *CleanupRepository) FindDue(ctx context.Context, now time.Time, limit int) ([]models.CleanupJob, error) {
	if limit <= 0 {
		limit = 50
	}
	const query = `SELECT id, user_id, run_at, secrets, created_at FROM cleanup_jobs WHERE run_at <= $1 ORDER BY run_at ASC LIMIT $2`
	var jobs []models.CleanupJob
	if err := r.db.SelectContext(ctx, &jobs, query, now.UTC(), limit); err != nil {
		return nil, fmt.Errorf("find due cleanup jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes a completed job. Deleting an already-removed job is
// not an error.
func (r *CleanupRepository) Delete(ctx context.Context, id string) error {
	const query = `DELETE FROM cleanup_jobs WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete cleanup job: %w", err)
	}
	return nil
}

// DeleteForUser removes every pending job for a user. Used when an
// admin prunes all tokens by hand.
func (r *CleanupRepository) DeleteForUser(ctx context.Context, userID string) error {
	const query = `DELETE FROM cleanup_jobs WHERE user_id = $1`
	if _, err := r.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("delete cleanup jobs for user: %w", err)
	}
	return nil
}
