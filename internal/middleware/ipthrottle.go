// ipthrottle.go applies a per-IP Redis rate limit to the unauthenticated
// login and register endpoints. Those requests carry no credential to account
// against, and they are the brute-force surface, so they get a separate,
// much tighter throttle in front of any database work.
package middleware

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"github.com/third-space/third-space-api/internal/apierror"
)

// IPThrottleMiddleware limits each client IP to perMinute requests on the
// routes it guards, using Redis GCRA via redis_rate so the budget is shared
// across all API processes. A Redis outage fails open: losing the throttle
// degrades brute-force protection to account lockout alone, which beats
// taking login down with the cache.
func IPThrottleMiddleware(client *redis.Client, perMinute int) gin.HandlerFunc {
	limiter := redis_rate.NewLimiter(client)
	limit := redis_rate.PerMinute(perMinute)

	return func(c *gin.Context) {
		res, err := limiter.Allow(c.Request.Context(), "ipthrottle:"+c.ClientIP(), limit)
		if err != nil {
			slog.Warn("ip throttle unavailable, failing open", "error", err)
			c.Next()
			return
		}

		if res.Allowed == 0 {
			c.Header("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())+1))
			apierror.Abort(c, http.StatusTooManyRequests, apierror.CodeRateLimited,
				"too many attempts from this address, slow down")
			return
		}

		c.Next()
	}
}
