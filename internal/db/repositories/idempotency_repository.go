package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/third-space/third-space-api/internal/db/models"
)

// IdempotencyRepository handles idempotency record database operations. All
// state transitions are single statements whose WHERE clause encodes the
// legal predecessor state, so two executors racing on the same (token, user)
// pair resolve at the database rather than in memory.
type IdempotencyRepository struct {
	db *sqlx.DB
}

// NewIdempotencyRepository creates a new IdempotencyRepository.
func NewIdempotencyRepository(db *sqlx.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// InsertPending attempts to claim the (token, user) pair by inserting a
// pending record. ON CONFLICT DO NOTHING makes the claim race-free: exactly
// one of N concurrent executors observes acquired=true.
func (r *IdempotencyRepository) InsertPending(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	query := `
		INSERT INTO idempotency_records (token, user_id, method, path, request_fingerprint, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (token, user_id) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.Token, rec.UserID, rec.Method, rec.Path, rec.RequestFingerprint,
		models.IdempotencyPending,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Get retrieves the record for a (token, user) pair. Returns (nil, nil) when
// absent.
func (r *IdempotencyRepository) Get(ctx context.Context, token, userID string) (*models.IdempotencyRecord, error) {
	query := `
		SELECT token, user_id, method, path, request_fingerprint, status,
		       response_body, response_code, created_at, completed_at
		FROM idempotency_records
		WHERE token = $1 AND user_id = $2
	`

	rec := &models.IdempotencyRecord{}
	err := r.db.GetContext(ctx, rec, query, token, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// RetryFailed re-claims a failed record for another execution attempt,
// resetting it to pending with the new request's identity. The status guard
// ensures only one of several concurrent retries wins; the losers observe
// acquired=false and re-read.
func (r *IdempotencyRepository) RetryFailed(ctx context.Context, rec *models.IdempotencyRecord) (bool, error) {
	query := `
		UPDATE idempotency_records
		SET method = $3, path = $4, request_fingerprint = $5,
		    status = $6, response_body = NULL, response_code = NULL,
		    created_at = NOW(), completed_at = NULL
		WHERE token = $1 AND user_id = $2 AND status = $7
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.Token, rec.UserID, rec.Method, rec.Path, rec.RequestFingerprint,
		models.IdempotencyPending, models.IdempotencyFailed,
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// DeleteExpired removes a single record, but only if it is still older than
// the cutoff: a concurrent executor may have already deleted and re-claimed
// the pair, and this guard stops us destroying the fresh claim. Returns
// whether a row was removed.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, token, userID string, cutoff time.Time) (bool, error) {
	query := `
		DELETE FROM idempotency_records
		WHERE token = $1 AND user_id = $2 AND created_at < $3
	`

	result, err := r.db.ExecContext(ctx, query, token, userID, cutoff)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// MarkCompleted transitions pending → completed, caching the response for
// replays. A record another process has already moved out of pending is left
// alone.
func (r *IdempotencyRepository) MarkCompleted(ctx context.Context, token, userID string, responseCode int, responseBody []byte) error {
	query := `
		UPDATE idempotency_records
		SET status = $3, response_code = $4, response_body = $5, completed_at = NOW()
		WHERE token = $1 AND user_id = $2 AND status = $6
	`

	_, err := r.db.ExecContext(ctx, query,
		token, userID, models.IdempotencyCompleted, responseCode, responseBody,
		models.IdempotencyPending,
	)
	return err
}

// MarkFailed transitions pending → failed, releasing the pair for a retry.
func (r *IdempotencyRepository) MarkFailed(ctx context.Context, token, userID string) error {
	query := `
		UPDATE idempotency_records
		SET status = $3, completed_at = NOW()
		WHERE token = $1 AND user_id = $2 AND status = $4
	`

	_, err := r.db.ExecContext(ctx, query,
		token, userID, models.IdempotencyFailed, models.IdempotencyPending,
	)
	return err
}

// PurgeExpired deletes all records older than the cutoff, for the retention
// job. Returns the number removed.
func (r *IdempotencyRepository) PurgeExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM idempotency_records WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
