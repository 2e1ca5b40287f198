package repository

import (
	"context"

	"github.com/google/uuid"

	"fieldops_backend/internal/stages/domain"
)

// JobStage is the lifecycle slice of a job row.
type JobStage struct {
	ID         uuid.UUID
	JobNumber  string
	Status     domain.Status
	ProposalID *uuid.UUID
	Data       domain.StageData
	Version    int
}

// Ref returns the label used in backfill error messages.
func (j JobStage) Ref() string {
	if j.JobNumber != "" {
		return j.JobNumber
	}
	return j.ID.String()
}

// JobRef identifies a job selected for a batch run.
type JobRef struct {
	ID        uuid.UUID
	JobNumber string
}

// Ref returns the job number, or the id when the number is empty.
func (r JobRef) Ref() string {
	if r.JobNumber != "" {
		return r.JobNumber
	}
	return r.ID.String()
}

// Repository defines the persistence operations of the stage engine.
type Repository interface {
	GetJobStage(ctx context.Context, jobID uuid.UUID) (JobStage, error)
	// SaveJobStage writes status and stage data when the stored version still
	// equals job.Version and returns the new version.
	SaveJobStage(ctx context.Context, job JobStage) (int, error)
	GetJobFacts(ctx context.Context, jobID uuid.UUID) (domain.JobFacts, error)
	GetJobRef(ctx context.Context, jobID uuid.UUID) (JobRef, error)
	ListActiveJobs(ctx context.Context, limit int) ([]JobRef, error)
	ListJobIDsByProposal(ctx context.Context, proposalID uuid.UUID) ([]uuid.UUID, error)
	CountByStage(ctx context.Context) (map[domain.Stage]int, error)
}
