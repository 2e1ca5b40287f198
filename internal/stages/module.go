// Package stages provides the job lifecycle bounded context: the checklist
// actions, the stage catalog and the backfill reconciler.
package stages

import (
	"fieldops_backend/internal/events"
	apphttp "fieldops_backend/internal/http"
	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/internal/stages/handler"
	"fieldops_backend/internal/stages/repository"
	"fieldops_backend/internal/stages/service"
	"fieldops_backend/platform/config"
	"fieldops_backend/platform/logger"
	"fieldops_backend/platform/validator"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ModuleConfig combines the config interfaces the stages module reads.
type ModuleConfig interface {
	config.BackfillConfig
}

// Module is the stages bounded context module implementing http.Module.
type Module struct {
	handler    *handler.Handler
	service    *service.Service
	backfiller *service.Backfiller
	repo       repository.Repository
}

// NewModule creates and initializes the stages module with all its dependencies.
// locker and enqueuer are optional and may be nil.
func NewModule(pool *pgxpool.Pool, engine *domain.Engine, bus events.Bus, locker service.RunLocker, enqueuer handler.Enqueuer, cfg ModuleConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	return newModule(repo, engine, bus, locker, enqueuer, cfg, val, log)
}

func newModule(repo repository.Repository, engine *domain.Engine, bus events.Bus, locker service.RunLocker, enqueuer handler.Enqueuer, cfg ModuleConfig, val *validator.Validator, log *logger.Logger) *Module {
	svc := service.New(repo, engine, bus, log)
	backfiller := service.NewBackfiller(svc, repo, locker, service.BackfillSettings{
		Workers: cfg.GetStageBackfillWorkers(),
		MaxJobs: cfg.GetStageBackfillMaxJobs(),
		LockTTL: cfg.GetStageBackfillLockTTL(),
	}, log)

	return &Module{
		handler:    handler.New(svc, backfiller, enqueuer, val),
		service:    svc,
		backfiller: backfiller,
		repo:       repo,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "stages"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// Backfiller returns the reconciler for the scheduler worker and CLI.
func (m *Module) Backfiller() *service.Backfiller {
	return m.backfiller
}

// RegisterRoutes mounts stage routes on the provided router context.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	ctx.Protected.GET("/jobs/:id/stages", m.handler.GetChecklist)
	ctx.Protected.POST("/jobs/:id/stages", m.handler.Action)
	ctx.Protected.PUT("/jobs/:id/stages", m.handler.Action)
	ctx.Protected.GET("/stages/catalog", m.handler.Catalog)

	// Called by the scheduler with the shared secret, not by end users.
	backfill := ctx.V1.Group("/stages/backfill")
	backfill.Use(ctx.ServiceRateLimiter.RateLimit(), ctx.ServiceAuth)
	backfill.POST("", m.handler.RunBackfill)
	backfill.GET("", m.handler.BackfillStatus)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
