// Package jobs provides the job records module: creation, the kanban list,
// synchronized status/stage writes and the activity feed.
package jobs

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"fieldops_backend/internal/events"
	apphttp "fieldops_backend/internal/http"
	"fieldops_backend/internal/jobs/handler"
	"fieldops_backend/internal/jobs/repository"
	"fieldops_backend/internal/jobs/service"
	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/platform/config"
	"fieldops_backend/platform/logger"
	"fieldops_backend/platform/validator"
)

// Module is the jobs bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
	log     *logger.Logger
}

// NewModule creates the jobs module. proposals may be nil.
func NewModule(pool *pgxpool.Pool, engine *domain.Engine, proposals service.ProposalFactsReader, bus events.Bus, cfg config.PhoneConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, engine, proposals, bus, cfg.GetPhoneDefaultRegion(), log)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
		log:     log,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "jobs"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts job routes under /api/v1/jobs.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/jobs"))
}

// RegisterHandlers subscribes the activity feed to lifecycle events.
func (m *Module) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.JobStageChanged{}.EventName(), m)
	bus.Subscribe(events.JobStepsCompleted{}.EventName(), m)
	m.log.Info("jobs module registered event handlers")
}

// Handle routes events to the activity feed.
func (m *Module) Handle(ctx context.Context, event events.Event) error {
	switch e := event.(type) {
	case events.JobStageChanged:
		return m.service.RecordStageChanged(ctx, e)
	case events.JobStepsCompleted:
		return m.service.RecordStepsCompleted(ctx, e)
	default:
		return nil
	}
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
