// Package http holds the contracts between the router and the domain modules.
package http

import (
	"context"

	"fieldops_backend/internal/events"
	"fieldops_backend/platform/config"
	"fieldops_backend/platform/logger"
)

// RouterConfig is the configuration the router reads.
type RouterConfig interface {
	config.HTTPConfig
	config.JWTConfig
	GetStageBackfillSecret() string
}

// HealthChecker backs GET /api/health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// App is assembled in main and handed to router.New.
type App struct {
	Config   RouterConfig
	Logger   *logger.Logger
	Health   HealthChecker
	EventBus events.Bus
	Modules  []Module
}

// SubscribeModules registers the event handlers of every module that has any.
func (a *App) SubscribeModules() {
	if a.EventBus == nil {
		return
	}
	for _, m := range a.Modules {
		if sub, ok := m.(EventSubscriber); ok {
			sub.RegisterHandlers(a.EventBus)
		}
	}
}
