package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldops_backend/internal/proposals/service"
	"fieldops_backend/internal/proposals/transport"
	"fieldops_backend/platform/httpkit"
	"fieldops_backend/platform/validator"
)

const (
	msgInvalidRequest    = "invalid request"
	msgValidationFailed  = "validation failed"
	msgInvalidProposalID = "invalid proposal ID"
)

// Handler handles HTTP requests for proposals.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a new proposals handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterRoutes registers the proposal routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("/:id", h.GetByID)
	rg.POST("/:id/approve", h.Approve)
	rg.GET("/:id/payments", h.ListPayments)
	rg.POST("/:id/payments", h.RecordPayment)
}

// Create handles POST /api/v1/proposals
func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateProposalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Fields(err))
		return
	}

	result, err := h.svc.Create(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

// GetByID handles GET /api/v1/proposals/:id
func (h *Handler) GetByID(c *gin.Context) {
	id, ok := parseProposalID(c)
	if !ok {
		return
	}

	result, err := h.svc.GetByID(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Approve handles POST /api/v1/proposals/:id/approve
func (h *Handler) Approve(c *gin.Context) {
	id, ok := parseProposalID(c)
	if !ok {
		return
	}

	result, err := h.svc.Approve(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// RecordPayment handles POST /api/v1/proposals/:id/payments
func (h *Handler) RecordPayment(c *gin.Context) {
	id, ok := parseProposalID(c)
	if !ok {
		return
	}

	var req transport.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Fields(err))
		return
	}

	result, err := h.svc.RecordPayment(c.Request.Context(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.JSON(c, http.StatusCreated, result)
}

// ListPayments handles GET /api/v1/proposals/:id/payments
func (h *Handler) ListPayments(c *gin.Context) {
	id, ok := parseProposalID(c)
	if !ok {
		return
	}

	result, err := h.svc.ListPayments(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func parseProposalID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidProposalID, nil)
		return uuid.Nil, false
	}
	return id, true
}
