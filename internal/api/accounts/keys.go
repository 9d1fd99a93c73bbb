// keys.go implements API key issuance, listing, and revocation. The plaintext
// key appears exactly once, in the issuance response; afterwards only its
// keyed digest exists server-side.
package accounts

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/third-space/third-space-api/internal/apierror"
	"github.com/third-space/third-space-api/internal/auth"
	"github.com/third-space/third-space-api/internal/config"
	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/middleware"
)

type createKeyRequest struct {
	Name          *string  `json:"name" binding:"omitempty,max=128"`
	Scopes        []string `json:"scopes"`
	ExpiresInDays *int     `json:"expires_in_days" binding:"omitempty,min=1,max=3650"`
}

type keyResponse struct {
	ID              string     `json:"id"`
	Name            *string    `json:"name,omitempty"`
	KeyPrefix       string     `json:"key_prefix"`
	Scopes          []string   `json:"scopes"`
	RateLimitReads  int        `json:"rate_limit_reads"`
	RateLimitWrites int        `json:"rate_limit_writes"`
	CreatedAt       time.Time  `json:"created_at"`
	LastUsedAt      *time.Time `json:"last_used_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	RevokedAt       *time.Time `json:"revoked_at,omitempty"`
}

type createdKeyResponse struct {
	keyResponse
	// Key is the plaintext credential, shown only in this response.
	Key string `json:"key"`
}

func toKeyResponse(k *models.APIKey) keyResponse {
	return keyResponse{
		ID:              k.ID,
		Name:            k.Name,
		KeyPrefix:       k.KeyPrefix,
		Scopes:          k.Scopes,
		RateLimitReads:  k.RateLimitReads,
		RateLimitWrites: k.RateLimitWrites,
		CreatedAt:       k.CreatedAt,
		LastUsedAt:      k.LastUsedAt,
		ExpiresAt:       k.ExpiresAt,
		RevokedAt:       k.RevokedAt,
	}
}

// CreateKeyHandler issues a new API key for the authenticated account. The
// requested scopes must be a subset of the account's own permissions; an
// empty scope list requests the account's default scopes.
// Implements: POST /api/v1/auth/api-keys
func CreateKeyHandler(cfg *config.Config, userRepo *repositories.UserRepository, apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, err.Error())
			return
		}

		userID := c.GetString(middleware.ContextUserID)
		user, err := userRepo.GetByID(c.Request.Context(), userID)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}
		if user == nil {
			apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid or missing credentials")
			return
		}

		scopes := req.Scopes
		if len(scopes) == 0 {
			scopes = auth.DefaultScopes()
		}
		if err := auth.ValidateScopes(scopes); err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, err.Error())
			return
		}
		// Issuance cannot escalate: a key can carry at most the permissions
		// its owner holds at issuance time.
		if !auth.SubsetOf(scopes, user.Permissions) {
			apierror.Abort(c, http.StatusForbidden, apierror.CodeForbidden,
				"requested scopes exceed account permissions")
			return
		}

		key, digest, displayPrefix, err := auth.GenerateAPIKey(cfg.Auth.APIKeys.Prefix)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}

		apiKey := &models.APIKey{
			UserID:          userID,
			KeyDigest:       digest,
			KeyPrefix:       displayPrefix,
			Name:            req.Name,
			Scopes:          scopes,
			RateLimitReads:  cfg.RateLimits.DefaultReads,
			RateLimitWrites: cfg.RateLimits.DefaultWrites,
		}
		if req.ExpiresInDays != nil {
			expiry := time.Now().Add(time.Duration(*req.ExpiresInDays) * 24 * time.Hour)
			apiKey.ExpiresAt = &expiry
		}

		if err := apiKeyRepo.CreateAPIKey(c.Request.Context(), apiKey); err != nil {
			apierror.AbortInternal(c)
			return
		}

		c.JSON(http.StatusCreated, createdKeyResponse{
			keyResponse: toKeyResponse(apiKey),
			Key:         key,
		})
	}
}

// ListKeysHandler lists the authenticated account's keys, revoked included.
// Digests never appear; the display prefix identifies keys in the list.
// Implements: GET /api/v1/auth/api-keys
func ListKeysHandler(apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)
		keys, err := apiKeyRepo.ListByUser(c.Request.Context(), userID)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}

		out := make([]keyResponse, 0, len(keys))
		for _, k := range keys {
			out = append(out, toKeyResponse(k))
		}
		c.JSON(http.StatusOK, gin.H{"keys": out})
	}
}

// RevokeKeyHandler revokes one of the authenticated account's keys. The key
// stops authenticating immediately; in-flight requests already past the auth
// gate complete.
// Implements: DELETE /api/v1/auth/api-keys/:id
func RevokeKeyHandler(apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetString(middleware.ContextUserID)
		keyID := c.Param("id")

		err := apiKeyRepo.Revoke(c.Request.Context(), keyID, userID)
		if errors.Is(err, repositories.ErrNotFound) {
			apierror.Abort(c, http.StatusNotFound, apierror.CodeNotFound, "key not found")
			return
		}
		if err != nil {
			apierror.AbortInternal(c)
			return
		}

		c.Status(http.StatusNoContent)
	}
}
