// Package models defines the database model types for the third space API.
// Each type corresponds to a database table; db struct tags drive sqlx row
// scanning where a column maps directly, and JSONB columns are marshalled in
// the repositories layer. Models are pure data types — business logic belongs
// in the services layer, query logic in the repositories layer.
package models

import "time"

// User represents an account. Lockout state is embedded on the row so that
// failure accounting can be one atomic UPDATE per attempt.
type User struct {
	ID           string  `db:"id"`
	Username     string  `db:"username"`
	Email        *string `db:"email"`
	PasswordHash *string `db:"password_hash"`
	DisplayName  *string `db:"display_name"`
	// Permissions is the account-level capability set; key scopes must be a
	// subset of this at issuance time. Stored as JSONB.
	Permissions []string `db:"-"`

	FailedLoginCount int        `db:"failed_login_count"`
	LastFailedAt     *time.Time `db:"last_failed_at"`
	LockedUntil      *time.Time `db:"locked_until"`
	LastSuccessfulAt *time.Time `db:"last_successful_at"`

	CreatedAt time.Time `db:"created_at"`
}

// LockedNow reports whether the account's lockout window is live at t.
// An expired lock is treated as unlocked; the columns are cleared lazily on
// the next successful authentication.
func (u *User) LockedNow(t time.Time) bool {
	return u.LockedUntil != nil && u.LockedUntil.After(t)
}
