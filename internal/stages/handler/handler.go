package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/internal/stages/service"
	"fieldops_backend/internal/stages/transport"
	"fieldops_backend/platform/httpkit"
	"fieldops_backend/platform/validator"
)

// Handler handles HTTP requests for job stages.
type Handler struct {
	svc        *service.Service
	backfiller *service.Backfiller
	enqueuer   Enqueuer
	val        *validator.Validator
}

// Enqueuer is the queue port used by POST /stages/backfill?async=true.
type Enqueuer interface {
	EnqueueStageBackfill(ctx context.Context, req transport.BackfillRequest) (string, error)
}

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidJobID     = "invalid job ID"
)

// New creates a new stages handler. enqueuer may be nil when no queue is configured.
func New(svc *service.Service, backfiller *service.Backfiller, enqueuer Enqueuer, val *validator.Validator) *Handler {
	return &Handler{svc: svc, backfiller: backfiller, enqueuer: enqueuer, val: val}
}

// GetChecklist returns the current stage, steps, progress and history of a job.
// GET /api/v1/jobs/:id/stages
func (h *Handler) GetChecklist(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	result, err := h.svc.GetChecklist(c.Request.Context(), jobID)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Action applies a checklist action to a job.
// POST|PUT /api/v1/jobs/:id/stages
func (h *Handler) Action(c *gin.Context) {
	jobID, ok := parseJobID(c)
	if !ok {
		return
	}

	var req transport.StageActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Fields(err))
		return
	}

	actor := httpkit.ActorID(c)
	ctx := c.Request.Context()

	var (
		result transport.StageActionResponse
		err    error
	)
	switch req.Action {
	case transport.ActionCompleteStep:
		result, err = h.svc.CompleteStep(ctx, jobID, domain.StepID(req.StepID), actor)
	case transport.ActionUncompleteStep:
		result, err = h.svc.UncompleteStep(ctx, jobID, domain.StepID(req.StepID))
	case transport.ActionAdvanceStage:
		result, err = h.svc.AdvanceStage(ctx, jobID, actor)
	}
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Catalog returns every stage with its step definitions.
// GET /api/v1/stages/catalog
func (h *Handler) Catalog(c *gin.Context) {
	httpkit.OK(c, h.svc.Catalog())
}

// RunBackfill reconciles checklists with current facts.
// POST /api/v1/stages/backfill
func (h *Handler) RunBackfill(c *gin.Context) {
	var req transport.BackfillRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	if c.Query("async") == "true" {
		if h.enqueuer == nil {
			httpkit.Error(c, http.StatusServiceUnavailable, "task queue is not configured", nil)
			return
		}
		taskID, err := h.enqueuer.EnqueueStageBackfill(c.Request.Context(), req)
		if httpkit.HandleError(c, err) {
			return
		}
		httpkit.JSON(c, http.StatusAccepted, transport.BackfillQueuedResponse{Message: "stage backfill queued", TaskID: taskID})
		return
	}

	report, err := h.backfiller.Run(c.Request.Context(), service.BackfillOptions{JobID: req.JobID, AutoAdvance: req.AutoAdvance})
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, report)
}

// BackfillStatus returns job counts per stage.
// GET /api/v1/stages/backfill
func (h *Handler) BackfillStatus(c *gin.Context) {
	result, err := h.svc.StageSummary(c.Request.Context())
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidJobID, nil)
		return uuid.Nil, false
	}
	return id, true
}
