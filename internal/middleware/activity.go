// activity.go records authenticated actions to the append-only activity log.
// Recording is strictly fire-and-forget: it happens after the response is
// written and a failed insert can never affect the request that caused it.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/third-space/third-space-api/internal/config"
	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/safego"
)

// ActivityMiddleware records successful authenticated writes, and reads too
// when configured. Failed requests are not recorded; the audit trail answers
// "what changed", not "what was attempted".
func ActivityMiddleware(cfg *config.Config, activityRepo *repositories.ActivityRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if !cfg.Activity.Enabled {
			return
		}
		if c.Request.Method == http.MethodOptions {
			return
		}
		if c.Writer.Status() >= 400 {
			return
		}

		isRead := c.Request.Method == http.MethodGet || c.Request.Method == http.MethodHead
		if isRead && !cfg.Activity.RecordReads {
			return
		}

		userID := c.GetString(ContextUserID)
		if userID == "" {
			return
		}

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		activity := &models.Activity{
			UserID: &userID,
			Action: c.Request.Method + " " + path,
			Metadata: map[string]any{
				"status":     c.Writer.Status(),
				"request_id": c.GetString(RequestIDKey),
			},
		}
		if keyID := c.GetString(ContextAPIKeyID); keyID != "" {
			activity.APIKeyID = &keyID
		}
		if ip := c.ClientIP(); ip != "" {
			activity.IPAddress = &ip
		}

		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = activityRepo.Insert(ctx, activity)
		})
	}
}
