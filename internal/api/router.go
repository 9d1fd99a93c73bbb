// Package api wires the HTTP routes and the middleware chain.
//
// Route grouping:
//   - /health, /ready, /version are unauthenticated probes.
//   - /api/v1/auth/* is unauthenticated but sits behind the per-IP Redis
//     throttle when one is configured; it is the brute-force surface.
//   - Everything else under /api/v1/ requires a credential, then a scope,
//     then passes the per-credential rate limiter; writes additionally pass
//     the idempotency coordinator.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/third-space/third-space-api/internal/api/accounts"
	"github.com/third-space/third-space-api/internal/api/library"
	"github.com/third-space/third-space-api/internal/auth"
	"github.com/third-space/third-space-api/internal/config"
	"github.com/third-space/third-space-api/internal/db/repositories"
	"github.com/third-space/third-space-api/internal/jobs"
	"github.com/third-space/third-space-api/internal/middleware"
	"github.com/third-space/third-space-api/internal/safego"
	"github.com/third-space/third-space-api/internal/services"
)

// BackgroundServices holds background loops that must be stopped during
// graceful shutdown, after the HTTP server has drained.
type BackgroundServices struct {
	retentionJob *jobs.RetentionJob
}

// Start launches the background loops. Separated from NewRouter so tests can
// build a router without spinning up tickers.
func (bg *BackgroundServices) Start(ctx context.Context) {
	job := bg.retentionJob
	safego.Go(func() { job.Start(ctx) })
}

// Shutdown stops all background goroutines.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.retentionJob != nil {
		bg.retentionJob.Stop()
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router. redisClient may be nil; the
// per-IP auth throttle is then disabled and login brute force is bounded by
// account lockout alone.
func NewRouter(cfg *config.Config, db *sqlx.DB, redisClient *redis.Client) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	userRepo := repositories.NewUserRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	idempotencyRepo := repositories.NewIdempotencyRepository(db)
	rateLimitRepo := repositories.NewRateLimitRepository(db)
	articleRepo := repositories.NewArticleRepository(db)
	activityRepo := repositories.NewActivityRepository(db)

	lockoutSvc := services.NewLockoutService(userRepo, cfg.Auth.Lockout.Threshold, cfg.Auth.Lockout.Duration)
	idempotencySvc := services.NewIdempotencyService(idempotencyRepo, cfg.Idempotency.TTL)

	retentionJob := jobs.NewRetentionJob(idempotencyRepo, rateLimitRepo, apiKeyRepo, activityRepo, cfg)

	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))

	router.GET("/health", healthCheckHandler(db))
	router.GET("/ready", readinessHandler(db, redisClient))
	router.GET("/version", versionHandler())

	// Unauthenticated auth endpoints, behind the per-IP throttle when Redis
	// is configured.
	authGroup := router.Group("/api/v1/auth")
	if redisClient != nil && cfg.RateLimits.AuthPerMinute > 0 {
		authGroup.Use(middleware.IPThrottleMiddleware(redisClient, cfg.RateLimits.AuthPerMinute))
	}
	{
		authGroup.POST("/register", accounts.RegisterHandler(cfg, userRepo, apiKeyRepo))
		authGroup.POST("/login", accounts.LoginHandler(cfg, userRepo, lockoutSvc))
		authGroup.POST("/refresh", accounts.RefreshHandler(cfg, userRepo))
	}

	authed := router.Group("/api/v1")
	authed.Use(middleware.AuthMiddleware(cfg, userRepo, apiKeyRepo))
	authed.Use(middleware.ActivityMiddleware(cfg, activityRepo))

	// Key management. Session-authenticated, so the per-credential limiter
	// does not apply; keys:manage gates it for API-key callers.
	keys := authed.Group("/auth/api-keys")
	keys.Use(middleware.RequireScope(auth.ScopeKeysManage))
	{
		keys.POST("", accounts.CreateKeyHandler(cfg, userRepo, apiKeyRepo))
		keys.GET("", accounts.ListKeysHandler(apiKeyRepo))
		keys.DELETE("/:id", accounts.RevokeKeyHandler(apiKeyRepo))
	}

	rateLimit := middleware.RateLimitMiddleware(cfg, rateLimitRepo)
	idempotent := middleware.IdempotencyMiddleware(idempotencySvc)

	lib := authed.Group("/library")
	{
		lib.GET("/articles/:slug",
			middleware.RequireScope(auth.ScopeLibraryRead), rateLimit,
			library.GetArticleHandler(articleRepo))
		lib.GET("/articles/:slug/revisions",
			middleware.RequireScope(auth.ScopeLibraryRead), rateLimit,
			library.ListRevisionsHandler(articleRepo))
		lib.GET("/articles/:slug/revisions/:version",
			middleware.RequireScope(auth.ScopeLibraryRead), rateLimit,
			library.GetRevisionHandler(articleRepo))

		// The batch read parses its body ahead of the limiter so N slugs
		// charge N read units before the handler runs.
		lib.POST("/articles/batch-get",
			middleware.RequireScope(auth.ScopeLibraryRead), library.BatchReadUnits(), rateLimit,
			library.BatchGetHandler(articleRepo))

		lib.POST("/articles",
			middleware.RequireScope(auth.ScopeLibraryCreate), rateLimit, idempotent,
			library.CreateArticleHandler(articleRepo))
		lib.PUT("/articles/:slug",
			middleware.RequireScope(auth.ScopeLibraryEdit), rateLimit, idempotent,
			library.UpdateArticleHandler(articleRepo))
	}

	return router, &BackgroundServices{retentionJob: retentionJob}
}

func healthCheckHandler(db *sqlx.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// readinessHandler also probes Redis when the IP throttle is configured; the
// throttle fails open, so Redis being down degrades rather than fails
// readiness and is reported in the checks map.
func readinessHandler(db *sqlx.DB, redisClient *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.PingContext(c.Request.Context()); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		if redisClient != nil {
			if err := redisClient.Ping(c.Request.Context()).Err(); err != nil {
				checks["redis"] = "degraded"
			} else {
				checks["redis"] = "healthy"
			}
		}

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware emits one structured log record per request.
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", time.Since(start)),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}
