package models

import "time"

// Activity is one append-only audit record of an authenticated action.
// Recording is fire-and-forget: a failed insert never affects the request.
type Activity struct {
	ID           string         `db:"id"`
	UserID       *string        `db:"user_id"`
	APIKeyID     *string        `db:"api_key_id"`
	Action       string         `db:"action"` // e.g. "article.created", "PUT /api/v1/library/articles/:slug"
	ResourceType *string        `db:"resource_type"`
	ResourceID   *string        `db:"resource_id"`
	Metadata     map[string]any `db:"-"` // JSONB
	IPAddress    *string        `db:"ip_address"`
	CreatedAt    time.Time      `db:"created_at"`
}
