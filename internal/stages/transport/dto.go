package transport

import (
	"time"

	"github.com/google/uuid"

	"fieldops_backend/internal/stages/domain"
)

// Stage actions accepted by POST|PUT /jobs/:id/stages.
const (
	ActionCompleteStep   = "complete_step"
	ActionUncompleteStep = "uncomplete_step"
	ActionAdvanceStage   = "advance_stage"
)

// StageActionRequest drives one transition engine operation.
type StageActionRequest struct {
	Action string `json:"action" validate:"required,oneof=complete_step uncomplete_step advance_stage"`
	StepID string `json:"step_id" validate:"required_unless=Action advance_stage,max=100"`
}

// StepView is a step definition merged with the job's state for it.
type StepView struct {
	ID              domain.StepID `json:"id"`
	Label           string        `json:"label"`
	Description     string        `json:"description,omitempty"`
	Required        bool          `json:"required"`
	AutoCompletable bool          `json:"autoCompletable"`
	Completed       bool          `json:"completed"`
	CompletedAt     *time.Time    `json:"completedAt,omitempty"`
	AutoCompleted   bool          `json:"autoCompleted"`
}

// ChecklistResponse is the checklist read model of one job. Keys are camelCase
// except the persisted stage columns, which keep their snake_case wire names.
type ChecklistResponse struct {
	JobID                   uuid.UUID                           `json:"jobId"`
	JobNumber               string                              `json:"jobNumber"`
	Status                  domain.Status                       `json:"status"`
	Stage                   domain.Stage                        `json:"stage"`
	NextStage               *domain.Stage                       `json:"nextStage,omitempty"`
	ProgressPercent         int                                 `json:"progressPercent"`
	CanAdvance              bool                                `json:"canAdvance"`
	IncompleteRequiredSteps []domain.StepID                     `json:"incompleteRequiredSteps"`
	Steps                   []StepView                          `json:"steps"`
	StageSteps              map[domain.StepID]domain.StepStatus `json:"stage_steps"`
	StageHistory            []domain.HistoryEntry               `json:"stage_history"`
	Version                 int                                 `json:"version"`
}

// StageActionResponse is returned after a stage action.
type StageActionResponse struct {
	Message string `json:"message"`
	Changed bool   `json:"changed"`
	ChecklistResponse
}

// CatalogResponse exposes the full stage catalog and the legacy status table.
type CatalogResponse struct {
	Stages   []domain.StageDefinition `json:"stages"`
	Statuses []StatusMapping          `json:"statuses"`
}

// StatusMapping is one row of the legacy status table.
type StatusMapping struct {
	Status    domain.Status `json:"status"`
	Stage     domain.Stage  `json:"stage"`
	Canonical bool          `json:"canonical"`
}

// BackfillRequest is the body of POST /stages/backfill.
type BackfillRequest struct {
	JobID       *uuid.UUID `json:"job_id"`
	AutoAdvance bool       `json:"auto_advance"`
}

// BackfillReport summarises one reconciliation run.
type BackfillReport struct {
	JobsProcessed       int      `json:"jobsProcessed"`
	JobsUpdated         int      `json:"jobsUpdated"`
	TotalStepsCompleted int      `json:"totalStepsCompleted"`
	Errors              []string `json:"errors"`
}

// BackfillQueuedResponse is returned when a run was enqueued instead of executed.
type BackfillQueuedResponse struct {
	Message string `json:"message"`
	TaskID  string `json:"taskId"`
}

// StageSummaryResponse is the operational view served by GET /stages/backfill.
type StageSummaryResponse struct {
	Counts map[domain.Stage]int `json:"counts"`
	Active int                  `json:"active"`
	Total  int                  `json:"total"`
}
