package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"startup-analyst/internal/shared/server/respond"
	"startup-analyst/internal/shared/telemetry"
)

// Recovery turns a handler panic into a 500 envelope. The stack is logged,
// never returned.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			fields := map[string]any{
				"request_id": RequestIDFromContext(c),
				"method":     c.Request.Method,
				"route":      c.FullPath(),
				"panic":      rec,
				"stack":      string(debug.Stack()),
			}
			if ids := c.GetString("jobIds"); ids != "" {
				fields["job_ids"] = ids
			}
			telemetry.Error("http.panic", fields)
			if !c.Writer.Written() {
				respond.Error(c, http.StatusInternalServerError, "internal_error", "unexpected server error", nil)
			}
			c.Abort()
		}()
		c.Next()
	}
}
