// Package accounts implements the account and credential endpoints: account
// registration, password login with lockout, session refresh, and API key
// issuance, listing, and revocation.
package accounts

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lib/pq"
	"github.com/third-space/third-space-api/internal/apierror"
	"github.com/third-space/third-space-api/internal/auth"
	"github.com/third-space/third-space-api/internal/config"
	"github.com/third-space/third-space-api/internal/db/models"
	"github.com/third-space/third-space-api/internal/db/repositories"
)

type registerRequest struct {
	Username    string  `json:"username" binding:"required,min=3,max=64"`
	Email       *string `json:"email" binding:"omitempty,email"`
	Password    string  `json:"password" binding:"required,min=10,max=128"`
	DisplayName *string `json:"display_name" binding:"omitempty,max=128"`
}

type userResponse struct {
	ID          string   `json:"id"`
	Username    string   `json:"username"`
	Email       *string  `json:"email,omitempty"`
	DisplayName *string  `json:"display_name,omitempty"`
	Permissions []string `json:"permissions"`
}

func toUserResponse(u *models.User) userResponse {
	return userResponse{
		ID:          u.ID,
		Username:    u.Username,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		Permissions: u.Permissions,
	}
}

// isUniqueViolation reports whether err is a Postgres unique-constraint
// violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	return false
}

type registeredResponse struct {
	userResponse
	// APIKey is the account's initial key; the plaintext appears only here.
	APIKey createdKeyResponse `json:"api_key"`
}

// RegisterHandler creates a new account with the default permission set and
// issues its initial API key. The plaintext key is returned once.
// Implements: POST /api/v1/auth/register
func RegisterHandler(cfg *config.Config, userRepo *repositories.UserRepository, apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, err.Error())
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}

		if req.Email != nil {
			lowered := strings.ToLower(*req.Email)
			req.Email = &lowered
		}

		user := &models.User{
			Username:     strings.ToLower(strings.TrimSpace(req.Username)),
			Email:        req.Email,
			PasswordHash: &hash,
			DisplayName:  req.DisplayName,
			Permissions:  auth.DefaultScopes(),
		}

		if err := userRepo.CreateUser(c.Request.Context(), user); err != nil {
			if isUniqueViolation(err) {
				apierror.Abort(c, http.StatusConflict, apierror.CodeConflict,
					"username or email is already taken")
				return
			}
			apierror.AbortInternal(c)
			return
		}

		key, digest, displayPrefix, err := auth.GenerateAPIKey(cfg.Auth.APIKeys.Prefix)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}
		name := "Initial key"
		apiKey := &models.APIKey{
			UserID:          user.ID,
			KeyDigest:       digest,
			KeyPrefix:       displayPrefix,
			Name:            &name,
			Scopes:          user.Permissions,
			RateLimitReads:  cfg.RateLimits.DefaultReads,
			RateLimitWrites: cfg.RateLimits.DefaultWrites,
		}
		if err := apiKeyRepo.CreateAPIKey(c.Request.Context(), apiKey); err != nil {
			apierror.AbortInternal(c)
			return
		}

		c.JSON(http.StatusCreated, registeredResponse{
			userResponse: toUserResponse(user),
			APIKey: createdKeyResponse{
				keyResponse: toKeyResponse(apiKey),
				Key:         key,
			},
		})
	}
}
