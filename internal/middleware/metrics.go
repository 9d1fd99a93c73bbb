package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/third-space/third-space-api/internal/telemetry"
)

// MetricsMiddleware records request count and latency for every request. The
// path label uses c.FullPath(), the matched route template, so parameterized
// routes share one label value; requests matching no route use "<no-route>"
// to keep cardinality bounded. Register after recovery and request ID so
// error statuses are captured.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}
