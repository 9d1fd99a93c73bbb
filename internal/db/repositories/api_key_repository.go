// api_key_repository.go implements APIKeyRepository, the persistent KeyStore:
// digest lookup for authentication, issuance, soft revocation, coarse
// last-used tracking, and digest redaction for long-revoked keys.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/third-space/third-space-api/internal/auth"
	"github.com/third-space/third-space-api/internal/db/models"
)

// APIKeyRepository handles API key database operations.
type APIKeyRepository struct {
	db *sqlx.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository.
func NewAPIKeyRepository(db *sqlx.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// CreateAPIKey inserts a newly issued key. The caller has already digested the
// plaintext secret; it is never passed here.
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, apiKey *models.APIKey) error {
	apiKey.ID = uuid.New().String()
	apiKey.CreatedAt = time.Now()

	scopesJSON, err := json.Marshal(apiKey.Scopes)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO api_keys (id, user_id, key_digest, key_prefix, name, scopes,
		                      rate_limit_reads, rate_limit_writes, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		apiKey.ID,
		apiKey.UserID,
		apiKey.KeyDigest,
		apiKey.KeyPrefix,
		apiKey.Name,
		scopesJSON,
		apiKey.RateLimitReads,
		apiKey.RateLimitWrites,
		apiKey.ExpiresAt,
		apiKey.CreatedAt,
	)

	return err
}

// GetByDigest retrieves a non-revoked key by its digest, joined with the
// owner's lockout state. Returns (nil, nil) when no row matches; revoked keys
// are excluded at the SQL level so they are indistinguishable from unknown
// digests. Expiry is evaluated by the caller so its failure path can share the
// uniform-timing branch.
func (r *APIKeyRepository) GetByDigest(ctx context.Context, digest string) (*models.AuthenticatedKey, error) {
	query := `
		SELECT ak.id, ak.user_id, ak.key_digest, ak.key_prefix, ak.name, ak.scopes,
		       ak.rate_limit_reads, ak.rate_limit_writes, ak.created_at, ak.last_used_at,
		       ak.expires_at, ak.revoked_at,
		       u.username AS owner_username, u.locked_until AS owner_locked_until
		FROM api_keys ak
		JOIN users u ON u.id = ak.user_id
		WHERE ak.key_digest = $1 AND ak.revoked_at IS NULL
	`

	key := &models.AuthenticatedKey{}
	var scopesJSON []byte

	err := r.db.QueryRowContext(ctx, query, digest).Scan(
		&key.ID,
		&key.UserID,
		&key.KeyDigest,
		&key.KeyPrefix,
		&key.Name,
		&scopesJSON,
		&key.RateLimitReads,
		&key.RateLimitWrites,
		&key.CreatedAt,
		&key.LastUsedAt,
		&key.ExpiresAt,
		&key.RevokedAt,
		&key.OwnerUsername,
		&key.OwnerLockedUntil,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(scopesJSON, &key.Scopes); err != nil {
		return nil, err
	}

	return key, nil
}

// GetByID retrieves a key by ID, revoked or not.
func (r *APIKeyRepository) GetByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `
		SELECT id, user_id, key_digest, key_prefix, name, scopes,
		       rate_limit_reads, rate_limit_writes, created_at, last_used_at,
		       expires_at, revoked_at
		FROM api_keys
		WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, keyID))
}

// ListByUser retrieves all keys belonging to a user, newest first.
func (r *APIKeyRepository) ListByUser(ctx context.Context, userID string) ([]*models.APIKey, error) {
	query := `
		SELECT id, user_id, key_digest, key_prefix, name, scopes,
		       rate_limit_reads, rate_limit_writes, created_at, last_used_at,
		       expires_at, revoked_at
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key := &models.APIKey{}
		var scopesJSON []byte
		err := rows.Scan(
			&key.ID, &key.UserID, &key.KeyDigest, &key.KeyPrefix, &key.Name, &scopesJSON,
			&key.RateLimitReads, &key.RateLimitWrites, &key.CreatedAt, &key.LastUsedAt,
			&key.ExpiresAt, &key.RevokedAt,
		)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(scopesJSON, &key.Scopes); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// Revoke soft-deletes a key by stamping revoked_at. The row is kept for the
// audit trail; already-revoked keys are left untouched. Returns ErrNotFound
// when the key does not exist or belongs to a different user.
func (r *APIKeyRepository) Revoke(ctx context.Context, keyID, userID string) error {
	query := `
		UPDATE api_keys
		SET revoked_at = NOW()
		WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL
	`

	result, err := r.db.ExecContext(ctx, query, keyID, userID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchLastUsed refreshes last_used_at, at most once per coarse interval:
// the guard inside the statement makes the write a no-op when the timestamp
// is already fresh, bounding write amplification on hot keys. Called
// fire-and-forget from the auth middleware.
func (r *APIKeyRepository) TouchLastUsed(ctx context.Context, keyID string, interval time.Duration) error {
	query := `
		UPDATE api_keys
		SET last_used_at = NOW()
		WHERE id = $1
		  AND (last_used_at IS NULL OR last_used_at < NOW() - ($2 * interval '1 second'))
	`

	_, err := r.db.ExecContext(ctx, query, keyID, int64(interval.Seconds()))
	return err
}

// RedactRevokedDigests irreversibly overwrites the digest of keys revoked
// before the cutoff. The rows remain for the audit trail but the credential
// can never authenticate or be correlated again. Returns the number of keys
// redacted.
func (r *APIKeyRepository) RedactRevokedDigests(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE api_keys
		SET key_digest = $1
		WHERE revoked_at IS NOT NULL AND revoked_at < $2 AND key_digest <> $1
	`

	result, err := r.db.ExecContext(ctx, query, auth.RedactedDigest, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *APIKeyRepository) scanOne(row *sql.Row) (*models.APIKey, error) {
	key := &models.APIKey{}
	var scopesJSON []byte
	err := row.Scan(
		&key.ID, &key.UserID, &key.KeyDigest, &key.KeyPrefix, &key.Name, &scopesJSON,
		&key.RateLimitReads, &key.RateLimitWrites, &key.CreatedAt, &key.LastUsedAt,
		&key.ExpiresAt, &key.RevokedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(scopesJSON, &key.Scopes); err != nil {
		return nil, err
	}
	return key, nil
}
