package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/third-space/third-space-api/internal/db/models"
)

// ActivityRepository handles the append-only audit trail.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository creates a new ActivityRepository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// Insert appends one activity record.
func (r *ActivityRepository) Insert(ctx context.Context, activity *models.Activity) error {
	activity.ID = uuid.New().String()
	activity.CreatedAt = time.Now()

	var metadataJSON []byte
	if activity.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(activity.Metadata)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO activities (id, user_id, api_key_id, action, resource_type, resource_id, metadata, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		activity.ID, activity.UserID, activity.APIKeyID, activity.Action,
		activity.ResourceType, activity.ResourceID, metadataJSON,
		activity.IPAddress, activity.CreatedAt,
	)
	return err
}

// Prune deletes activity records older than the cutoff, for the retention
// job. Returns the number removed.
func (r *ActivityRepository) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM activities WHERE created_at < $1`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
