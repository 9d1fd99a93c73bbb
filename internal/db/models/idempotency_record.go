package models

import "time"

// Idempotency record statuses. A record is created pending, and moves to
// completed or failed exactly once; failed and TTL-expired records are the
// only states that permit another executor to proceed.
const (
	IdempotencyPending   = "pending"
	IdempotencyCompleted = "completed"
	IdempotencyFailed    = "failed"
)

// IdempotencyRecord tracks one deduplicated write. Keyed (token, user_id);
// method, path, and the request-body fingerprint disambiguate token reuse
// across different operations, which is a conflict rather than a replay.
type IdempotencyRecord struct {
	Token              string `db:"token"`
	UserID             string `db:"user_id"`
	Method             string `db:"method"`
	Path               string `db:"path"`
	RequestFingerprint string `db:"request_fingerprint"`
	Status             string `db:"status"`
	// ResponseBody is the cached response (JSONB), replayed verbatim.
	ResponseBody []byte     `db:"response_body"`
	ResponseCode *int       `db:"response_code"`
	CreatedAt    time.Time  `db:"created_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

// Matches reports whether a new request is the same operation this record was
// created for.
func (r *IdempotencyRecord) Matches(method, path, fingerprint string) bool {
	return r.Method == method && r.Path == path && r.RequestFingerprint == fingerprint
}

// ExpiredAt reports whether the record is older than the TTL cutoff.
func (r *IdempotencyRecord) ExpiredAt(cutoff time.Time) bool {
	return r.CreatedAt.Before(cutoff)
}
