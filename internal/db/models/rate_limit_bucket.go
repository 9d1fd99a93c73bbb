package models

import "time"

// Operation classes for rate accounting.
const (
	BucketRead  = "read"
	BucketWrite = "write"
)

// RateLimitBucket is one fixed accounting window for one credential and
// operation class. Rows are only ever touched by the atomic
// insert-or-increment in the repository; they are pruned by the retention job
// once the window is long past.
type RateLimitBucket struct {
	APIKeyID     string    `db:"api_key_id"`
	BucketType   string    `db:"bucket_type"`
	WindowStart  time.Time `db:"window_start"`
	RequestCount int       `db:"request_count"`
}
