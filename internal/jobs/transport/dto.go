package transport

import (
	"time"

	"github.com/google/uuid"

	"fieldops_backend/internal/stages/domain"
)

// CreateJobRequest is the body of POST /jobs.
type CreateJobRequest struct {
	Title                string     `json:"title" validate:"required,min=1,max=200"`
	CustomerName         string     `json:"customerName" validate:"max=200"`
	CustomerPhone        string     `json:"customerPhone" validate:"max=40"`
	ProposalID           *uuid.UUID `json:"proposalId"`
	ScheduledDate        *time.Time `json:"scheduled_date"`
	AssignedTechnicianID *uuid.UUID `json:"assigned_technician_id"`
}

// UpdateJobRequest is the body of PUT /jobs. Only supplied fields are written.
type UpdateJobRequest struct {
	JobID                uuid.UUID                           `json:"jobId" validate:"required"`
	Version              *int                                `json:"version" validate:"omitempty,min=1"`
	Title                *string                             `json:"title" validate:"omitempty,min=1,max=200"`
	CustomerName         *string                             `json:"customerName" validate:"omitempty,max=200"`
	CustomerPhone        *string                             `json:"customerPhone" validate:"omitempty,max=40"`
	Status               *string                             `json:"status" validate:"omitempty,job_status"`
	Stage                *string                             `json:"stage" validate:"omitempty,job_stage"`
	StageSteps           map[domain.StepID]domain.StepStatus `json:"stage_steps"`
	StageHistory         []domain.HistoryEntry               `json:"stage_history"`
	ScheduledDate        *time.Time                          `json:"scheduled_date"`
	AssignedTechnicianID *uuid.UUID                          `json:"assigned_technician_id"`
}

// ListJobsRequest holds the kanban list query parameters.
type ListJobsRequest struct {
	Stage    string `form:"stage" validate:"omitempty,job_stage"`
	Status   string `form:"status" validate:"omitempty,job_status"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// JobResponse is a job record with its derived progress. The stage columns and
// the scheduling fields use the snake_case names PUT /jobs accepts.
type JobResponse struct {
	ID                   uuid.UUID                           `json:"id"`
	JobNumber            string                              `json:"jobNumber"`
	Title                string                              `json:"title"`
	CustomerName         string                              `json:"customerName"`
	CustomerPhone        string                              `json:"customerPhone"`
	ProposalID           *uuid.UUID                          `json:"proposalId,omitempty"`
	Status               domain.Status                       `json:"status"`
	Stage                domain.Stage                        `json:"stage"`
	StageSteps           map[domain.StepID]domain.StepStatus `json:"stage_steps"`
	StageHistory         []domain.HistoryEntry               `json:"stage_history"`
	ProgressPercent      int                                 `json:"progressPercent"`
	ScheduledDate        *time.Time                          `json:"scheduled_date,omitempty"`
	AssignedTechnicianID *uuid.UUID                          `json:"assigned_technician_id,omitempty"`
	Version              int                                 `json:"version"`
	CreatedAt            time.Time                           `json:"createdAt"`
	UpdatedAt            time.Time                           `json:"updatedAt"`
}

// JobListResponse is one page of the kanban list.
type JobListResponse struct {
	Items    []JobResponse `json:"items"`
	Total    int           `json:"total"`
	Page     int           `json:"page"`
	PageSize int           `json:"pageSize"`
}

// ActivityResponse is one activity feed entry.
type ActivityResponse struct {
	ID        uuid.UUID      `json:"id"`
	ActorType string         `json:"actorType"`
	ActorID   *uuid.UUID     `json:"actorId,omitempty"`
	EventType string         `json:"eventType"`
	Title     string         `json:"title"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"createdAt"`
}

// ActivityListResponse wraps the activity feed.
type ActivityListResponse struct {
	Items []ActivityResponse `json:"items"`
}
