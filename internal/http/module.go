package http

import (
	"fieldops_backend/internal/events"
	"fieldops_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
)

// Module is a bounded context that mounts its own routes.
type Module interface {
	Name() string
	RegisterRoutes(ctx *RouterContext)
}

// EventSubscriber is implemented by modules that react to domain events.
type EventSubscriber interface {
	RegisterHandlers(bus events.Bus)
}

// RouterContext is what the router hands each module.
type RouterContext struct {
	// V1 is /api/v1 with the API rate limit and no authentication.
	V1 *gin.RouterGroup
	// Protected is V1 behind bearer-token authentication.
	Protected *gin.RouterGroup
	// ServiceAuth admits only the shared backfill secret.
	ServiceAuth        gin.HandlerFunc
	ServiceRateLimiter *httpkit.ServiceRateLimiter
}
