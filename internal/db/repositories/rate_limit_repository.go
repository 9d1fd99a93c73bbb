package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
)

// RateLimitRepository handles fixed-window rate accounting. The whole limiter
// is one upsert: insert the window's bucket with the request's units, or
// increment it if it already exists, returning the post-charge count. Every
// process racing on the same window serializes on the row, so no request is
// ever double-counted or lost.
type RateLimitRepository struct {
	db *sqlx.DB
}

// NewRateLimitRepository creates a new RateLimitRepository.
func NewRateLimitRepository(db *sqlx.DB) *RateLimitRepository {
	return &RateLimitRepository{db: db}
}

// Charge atomically adds units to the credential's bucket for the window
// containing now, creating the bucket on first use, and returns the count
// after the charge. The caller compares the result against the credential's
// limit; a count above the limit means this request overshot and must be
// rejected. Overshoot units stay recorded, which only makes the limiter
// stricter within the window.
func (r *RateLimitRepository) Charge(ctx context.Context, apiKeyID, bucketType string, windowStart time.Time, units int) (int, error) {
	query := `
		INSERT INTO rate_limit_buckets (api_key_id, bucket_type, window_start, request_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (api_key_id, bucket_type, window_start)
		DO UPDATE SET request_count = rate_limit_buckets.request_count + EXCLUDED.request_count
		RETURNING request_count
	`

	var count int
	err := r.db.QueryRowContext(ctx, query, apiKeyID, bucketType, windowStart, units).Scan(&count)
	if err != nil {
		return 0, err
	}
	return count, nil
}

// DeleteStale removes buckets whose window started before the cutoff, for the
// retention job. Returns the number removed.
func (r *RateLimitRepository) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM rate_limit_buckets WHERE window_start < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
