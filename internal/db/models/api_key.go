package models

import "time"

// APIKey represents an issued credential. The plaintext key is shown once at
// issuance and never stored; KeyDigest is its keyed HMAC-SHA256.
type APIKey struct {
	ID        string `db:"id"`
	UserID    string `db:"user_id"`
	KeyDigest string `db:"key_digest"`
	// KeyPrefix is the first characters of the full key, stored for display in
	// listings only. It plays no part in authentication.
	KeyPrefix string  `db:"key_prefix"`
	Name      *string `db:"name"`
	// Scopes is the key-level capability set (JSONB), a subset of the owning
	// account's permissions, enforced at issuance.
	Scopes []string `db:"-"`
	// Per-window limits for the fixed-window rate limiter.
	RateLimitReads  int `db:"rate_limit_reads"`
	RateLimitWrites int `db:"rate_limit_writes"`

	CreatedAt  time.Time  `db:"created_at"`
	LastUsedAt *time.Time `db:"last_used_at"`
	ExpiresAt  *time.Time `db:"expires_at"`
	RevokedAt  *time.Time `db:"revoked_at"`
}

// ExpiredNow reports whether the key's expiry has passed at t.
func (k *APIKey) ExpiredNow(t time.Time) bool {
	return k.ExpiresAt != nil && t.After(*k.ExpiresAt)
}

// AuthenticatedKey is an APIKey joined with the owner columns AuthGate needs:
// the account's lockout state, consulted before scopes are evaluated.
type AuthenticatedKey struct {
	APIKey
	OwnerUsername    string     `db:"owner_username"`
	OwnerLockedUntil *time.Time `db:"owner_locked_until"`
}

// OwnerLockedNow reports whether the owning account is locked at t.
func (k *AuthenticatedKey) OwnerLockedNow(t time.Time) bool {
	return k.OwnerLockedUntil != nil && k.OwnerLockedUntil.After(t)
}
