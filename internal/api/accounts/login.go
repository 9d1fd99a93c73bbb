package accounts

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/third-space/third-space-api/internal/apierror"
	"github.com/third-space/third-space-api/internal/auth"
	"github.com/third-space/third-space-api/internal/config"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/services"
)

type loginRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Password   string `json:"password" binding:"required"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

func loginFailed(c *gin.Context) {
	apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid credentials")
}

func loginLocked(c *gin.Context) {
	apierror.Abort(c, http.StatusLocked, apierror.CodeAccountLocked,
		"account temporarily locked due to repeated authentication failures")
}

// LoginHandler authenticates with username-or-email and password, issuing a
// session token pair. The three failure modes are carefully distinguished
// only where the caller already holds proof:
//
//   - unknown account and wrong password both answer the same opaque 401,
//     with a burned bcrypt comparison on the unknown path for timing parity;
//   - a live lock answers 423, including on the attempt that trips it.
//
// Failure accounting goes through LockoutService, one atomic UPDATE per
// attempt, so a distributed brute force against one account is counted
// exactly across processes.
// Implements: POST /api/v1/auth/login
func LoginHandler(cfg *config.Config, userRepo *repositories.UserRepository, lockout *services.LockoutService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, err.Error())
			return
		}

		identifier := strings.ToLower(strings.TrimSpace(req.Identifier))
		user, err := userRepo.GetByUsernameOrEmail(c.Request.Context(), identifier)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}
		if user == nil || user.PasswordHash == nil {
			auth.BurnPasswordCompare(req.Password)
			loginFailed(c)
			return
		}

		if lockout.IsLocked(user) {
			loginLocked(c)
			return
		}

		if !auth.VerifyPassword(req.Password, *user.PasswordHash) {
			tripped, err := lockout.RecordFailure(c.Request.Context(), user.ID)
			if err != nil {
				apierror.AbortInternal(c)
				return
			}
			if tripped {
				loginLocked(c)
				return
			}
			loginFailed(c)
			return
		}

		if err := lockout.RecordSuccess(c.Request.Context(), user.ID); err != nil {
			apierror.AbortInternal(c)
			return
		}

		accessTTL := cfg.Auth.Session.AccessTokenTTL
		access, err := auth.GenerateSessionToken(user.ID, auth.TokenTypeAccess, accessTTL)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}
		refresh, err := auth.GenerateSessionToken(user.ID, auth.TokenTypeRefresh, cfg.Auth.Session.RefreshTokenTTL)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}

		c.JSON(http.StatusOK, tokenResponse{
			AccessToken:  access,
			RefreshToken: refresh,
			TokenType:    "Bearer",
			ExpiresIn:    int(accessTTL.Seconds()),
		})
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// RefreshHandler exchanges a valid refresh token for a new access token. The
// account's lockout state is re-checked so a refresh cannot outlive a lock.
// Implements: POST /api/v1/auth/refresh
func RefreshHandler(cfg *config.Config, userRepo *repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			apierror.Abort(c, http.StatusBadRequest, apierror.CodeValidation, err.Error())
			return
		}

		claims, err := auth.ValidateSessionToken(req.RefreshToken)
		if err != nil || claims.TokenType != auth.TokenTypeRefresh {
			loginFailed(c)
			return
		}

		user, err := userRepo.GetByID(c.Request.Context(), claims.UserID)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}
		if user == nil {
			loginFailed(c)
			return
		}
		if user.LockedNow(time.Now()) {
			loginLocked(c)
			return
		}

		accessTTL := cfg.Auth.Session.AccessTokenTTL
		access, err := auth.GenerateSessionToken(user.ID, auth.TokenTypeAccess, accessTTL)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}

		c.JSON(http.StatusOK, tokenResponse{
			AccessToken: access,
			TokenType:   "Bearer",
			ExpiresIn:   int(accessTTL.Seconds()),
		})
	}
}
