package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/third-space/third-space-api/internal/db/models"
)

// UserRepository handles account database operations, including the lockout
// failure accounting that backs AccountLockout.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// CreateUser inserts a new account. Username and email uniqueness is enforced
// by the database; callers translate the unique violation.
func (r *UserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = uuid.New().String()
	user.CreatedAt = time.Now()

	permissionsJSON, err := json.Marshal(user.Permissions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO users (id, username, email, password_hash, display_name, permissions, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.ExecContext(ctx, query,
		user.ID,
		user.Username,
		user.Email,
		user.PasswordHash,
		user.DisplayName,
		permissionsJSON,
		user.CreatedAt,
	)

	return err
}

// GetByID retrieves an account by ID. Returns (nil, nil) when absent.
func (r *UserRepository) GetByID(ctx context.Context, userID string) (*models.User, error) {
	query := userSelectColumns + ` WHERE id = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, userID))
}

// GetByUsernameOrEmail retrieves an account by either identifier, for login.
// Returns (nil, nil) when absent.
func (r *UserRepository) GetByUsernameOrEmail(ctx context.Context, identifier string) (*models.User, error) {
	query := userSelectColumns + ` WHERE username = $1 OR email = $1`
	return r.scanOne(r.db.QueryRowContext(ctx, query, identifier))
}

const userSelectColumns = `
	SELECT id, username, email, password_hash, display_name, permissions,
	       failed_login_count, last_failed_at, locked_until, last_successful_at,
	       created_at
	FROM users
`

// RecordAuthFailure counts one failed authentication attempt and locks the
// account when the count reaches threshold, in a single UPDATE so concurrent
// failures across processes are each counted exactly once. A count that
// predates an expired lock restarts at 1. Every CASE arm reads the old row
// values, so the threshold comparison and the count increment see the same
// state. Returns the post-update count and lock expiry.
func (r *UserRepository) RecordAuthFailure(ctx context.Context, userID string, threshold int, lockFor time.Duration) (int, *time.Time, error) {
	query := `
		UPDATE users
		SET failed_login_count = CASE
		        WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN 1
		        ELSE failed_login_count + 1
		    END,
		    last_failed_at = NOW(),
		    locked_until = CASE
		        WHEN locked_until IS NOT NULL AND locked_until <= NOW() THEN
		            CASE WHEN 1 >= $2 THEN NOW() + ($3 * interval '1 second') ELSE NULL END
		        WHEN failed_login_count + 1 >= $2 THEN NOW() + ($3 * interval '1 second')
		        ELSE locked_until
		    END
		WHERE id = $1
		RETURNING failed_login_count, locked_until
	`

	var count int
	var lockedUntil *time.Time
	err := r.db.QueryRowContext(ctx, query, userID, threshold, int64(lockFor.Seconds())).
		Scan(&count, &lockedUntil)
	if err == sql.ErrNoRows {
		return 0, nil, ErrNotFound
	}
	if err != nil {
		return 0, nil, err
	}
	return count, lockedUntil, nil
}

// RecordAuthSuccess clears the failure counter and lock after a successful
// authentication.
func (r *UserRepository) RecordAuthSuccess(ctx context.Context, userID string) error {
	query := `
		UPDATE users
		SET failed_login_count = 0,
		    last_failed_at = NULL,
		    locked_until = NULL,
		    last_successful_at = NOW()
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query, userID)
	return err
}

func (r *UserRepository) scanOne(row *sql.Row) (*models.User, error) {
	user := &models.User{}
	var permissionsJSON []byte
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.DisplayName,
		&permissionsJSON,
		&user.FailedLoginCount, &user.LastFailedAt, &user.LockedUntil, &user.LastSuccessfulAt,
		&user.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(permissionsJSON, &user.Permissions); err != nil {
		return nil, err
	}
	return user, nil
}
