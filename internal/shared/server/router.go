package server

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"startup-analyst/internal/session"
	"startup-analyst/internal/shared/config"
	"startup-analyst/internal/shared/metrics"
	"startup-analyst/internal/shared/server/middleware"
)

// RouterDeps are the handlers mounted by NewRouter.
type RouterDeps struct {
	Config  config.Config
	Session *session.Handler
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Config.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
	)

	r.GET("/metrics", metrics.Handler())
	api := r.Group("/api/v1")
	if deps.Session != nil {
		deps.Session.RegisterRoutes(api)
	}
	return r
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return fmt.Sprintf(":%s", port)
}
