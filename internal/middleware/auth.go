// Package middleware provides the Gin middleware chain enforcing the API's
// concurrency-control contract.
//
// Ordering matters and is wired in internal/api/router.go:
//
//	RequestID → SecurityHeaders → Metrics → [IPThrottle] → Auth → Activity → Scope → RateLimit → Idempotency → Handler
//
// Request IDs and security headers come first so every response carries them.
// The Redis IP throttle guards only the unauthenticated auth endpoints. Auth
// establishes identity; scope checks and the per-credential rate limiter read
// from it. Activity registers early but records after the handler completes.
// Idempotency wraps the handler last so a replayed response is never
// double-charged by the limiter.
package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/third-space/third-space-api/internal/apierror"
	"github.com/third-space/third-space-api/internal/auth"
	"github.com/third-space/third-space-api/internal/config"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/safego"
	"github.com/third-space/third-space-api/internal/telemetry"
)

// Context keys populated by AuthMiddleware.
const (
	ContextUserID     = "user_id"
	ContextScopes     = "scopes"
	ContextAuthMethod = "auth_method"
	ContextAPIKeyID   = "api_key_id"
	ContextAPIKey     = "api_key"
)

const (
	authMethodSession = "session"
	authMethodAPIKey  = "api_key"
)

// unauthorized rejects the request with the single opaque message used for
// every authentication failure, burning a digest comparison first so the
// rejection paths stay uniform in time.
func unauthorized(c *gin.Context, method string) {
	auth.BurnFailureCompare()
	telemetry.AuthOutcomesTotal.WithLabelValues(method, "unauthenticated").Inc()
	apierror.Abort(c, http.StatusUnauthorized, apierror.CodeUnauthorized, "invalid or missing credentials")
}

func accountLocked(c *gin.Context, method string) {
	telemetry.AuthOutcomesTotal.WithLabelValues(method, "locked").Inc()
	apierror.Abort(c, http.StatusLocked, apierror.CodeAccountLocked,
		"account temporarily locked due to repeated authentication failures")
}

// AuthMiddleware validates the bearer credential (session JWT or API key) and
// populates the request identity. Every failure path produces the same 401
// body and passes through a digest comparison, so callers cannot distinguish
// unknown, revoked, and expired credentials by response or by timing. A live
// account lock is the one deliberate exception: it answers 423 because the
// caller already proved nothing by presenting the credential.
func AuthMiddleware(cfg *config.Config, userRepo *repositories.UserRepository, apiKeyRepo *repositories.APIKeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := auth.ExtractBearerToken(c.GetHeader("Authorization"))
		if err != nil {
			unauthorized(c, "none")
			return
		}

		// Session tokens validate statelessly, so they are tried first; a
		// failed JWT parse costs no database round-trip before the API key
		// path runs.
		if claims, err := auth.ValidateSessionToken(token); err == nil {
			if claims.TokenType != auth.TokenTypeAccess {
				unauthorized(c, authMethodSession)
				return
			}

			user, err := userRepo.GetByID(c.Request.Context(), claims.UserID)
			if err != nil {
				apierror.AbortInternal(c)
				return
			}
			if user == nil {
				unauthorized(c, authMethodSession)
				return
			}
			if user.LockedNow(time.Now()) {
				accountLocked(c, authMethodSession)
				return
			}

			telemetry.AuthOutcomesTotal.WithLabelValues(authMethodSession, "ok").Inc()
			c.Set(ContextUserID, user.ID)
			c.Set(ContextScopes, user.Permissions)
			c.Set(ContextAuthMethod, authMethodSession)
			c.Next()
			return
		}

		// API key path. The digest is computed unconditionally and the lookup
		// is by exact digest match; no prefix narrowing, no early outs.
		digest := auth.DigestAPIKey(token)
		key, err := apiKeyRepo.GetByDigest(c.Request.Context(), digest)
		if err != nil {
			apierror.AbortInternal(c)
			return
		}
		if key == nil {
			unauthorized(c, authMethodAPIKey)
			return
		}
		if key.ExpiredNow(time.Now()) {
			unauthorized(c, authMethodAPIKey)
			return
		}
		if key.OwnerLockedNow(time.Now()) {
			accountLocked(c, authMethodAPIKey)
			return
		}

		telemetry.AuthOutcomesTotal.WithLabelValues(authMethodAPIKey, "ok").Inc()
		c.Set(ContextUserID, key.UserID)
		c.Set(ContextScopes, key.Scopes)
		c.Set(ContextAuthMethod, authMethodAPIKey)
		c.Set(ContextAPIKeyID, key.ID)
		c.Set(ContextAPIKey, &key.APIKey)

		// Last-used tracking is decoupled from the request: it must never add
		// latency or turn a working request into a 500.
		keyID := key.ID
		interval := cfg.Auth.APIKeys.LastUsedInterval
		safego.Go(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = apiKeyRepo.TouchLastUsed(ctx, keyID, interval)
		})

		c.Next()
	}
}

// RequireScope aborts with 403 unless the request identity carries the given
// scope. Runs after AuthMiddleware.
func RequireScope(required auth.Scope) gin.HandlerFunc {
	return func(c *gin.Context) {
		scopes, ok := c.Get(ContextScopes)
		if !ok {
			apierror.Abort(c, http.StatusForbidden, apierror.CodeForbidden, "no scopes associated with credential")
			return
		}
		scopeList, ok := scopes.([]string)
		if !ok || !auth.HasScope(scopeList, required) {
			apierror.Abort(c, http.StatusForbidden, apierror.CodeForbidden,
				"credential lacks required scope: "+string(required))
			return
		}
		c.Next()
	}
}
