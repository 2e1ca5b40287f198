// Package proposals provides the proposal module: approval and milestone
// payments, both of which feed the job lifecycle triggers.
package proposals

import (
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldops_backend/internal/events"
	apphttp "fieldops_backend/internal/http"
	"fieldops_backend/internal/proposals/handler"
	"fieldops_backend/internal/proposals/repository"
	"fieldops_backend/internal/proposals/service"
	"fieldops_backend/platform/config"
	"fieldops_backend/platform/logger"
	"fieldops_backend/platform/validator"
)

// Module is the proposals bounded context module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the proposals module. triggers may be nil, in which case
// approvals and payments do not touch linked jobs.
func NewModule(pool *pgxpool.Pool, triggers service.StageTrigger, bus events.Bus, cfg config.BillingConfig, val *validator.Validator, log *logger.Logger) *Module {
	repo := repository.New(pool)
	svc := service.New(repo, triggers, bus, cfg.GetPaymentMatchToleranceCents(), log)

	return &Module{
		handler: handler.New(svc, val),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "proposals"
}

// Service returns the service layer for external use.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts proposal routes under /api/v1/proposals.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/proposals"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
