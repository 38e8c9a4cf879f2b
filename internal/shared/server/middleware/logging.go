package middleware

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"startup-analyst/internal/shared/telemetry"
)

// Logging emits a structured log per request. Handlers add correlation
// fields with c.Set("jobIds", ...) and c.Set("resultId", ...).
func Logging() gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.EqualFold(c.Request.Method, "OPTIONS") {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		latency := time.Since(start)

		telemetry.Info("request.complete", map[string]any{
			"request_id":  RequestIDFromContext(c),
			"method":      c.Request.Method,
			"path":        c.Request.URL.Path,
			"route":       c.FullPath(),
			"status":      c.Writer.Status(),
			"duration_ms": float64(latency.Microseconds()) / 1000.0,
			"job_ids":     c.GetString("jobIds"),
			"result_id":   c.GetString("resultId"),
			"client_ip":   c.ClientIP(),
			"user_agent":  c.Request.UserAgent(),
		})
	}
}
