package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fieldops_backend/internal/stages/domain"
)

// Job is the database model of a job record.
type Job struct {
	ID                   uuid.UUID
	JobNumber            string
	Title                string
	CustomerName         string
	CustomerPhone        string
	ProposalID           *uuid.UUID
	Status               domain.Status
	Data                 domain.StageData
	ScheduledDate        *time.Time
	AssignedTechnicianID *uuid.UUID
	Version              int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ListParams filters the kanban list. Nil filters match every job.
type ListParams struct {
	Stage  *domain.Stage
	Status *domain.Status
	Offset int
	Limit  int
}

// Activity is one entry of a job's activity feed.
type Activity struct {
	ID        uuid.UUID
	JobID     uuid.UUID
	ActorType string
	ActorID   *uuid.UUID
	EventType string
	Title     string
	Metadata  map[string]any
	CreatedAt time.Time
}

// Actor types written to the activity feed.
const (
	ActorTypeUser   = "user"
	ActorTypeSystem = "system"
)

// Repository defines the persistence operations of job records.
type Repository interface {
	// Create inserts the job and fills in the generated id, number, version and timestamps.
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, id uuid.UUID) (Job, error)
	List(ctx context.Context, params ListParams) ([]Job, int, error)
	// Update writes every mutable column when the stored version still equals
	// job.Version and returns the new version.
	Update(ctx context.Context, job Job) (int, error)

	AddActivity(ctx context.Context, activity Activity) error
	ListActivity(ctx context.Context, jobID uuid.UUID, limit int) ([]Activity, error)
}
