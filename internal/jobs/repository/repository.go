package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldops_backend/internal/stages/domain"
	stagerepo "fieldops_backend/internal/stages/repository"
	"fieldops_backend/platform/apperr"
)

const jobNotFoundMsg = "job not found"

const jobColumns = `id, job_number, title, customer_name, customer_phone, proposal_id, status,
	stage, stage_steps, stage_history, scheduled_date, assigned_technician_id, version,
	created_at, updated_at`

// Repo implements Repository with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new jobs repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

// Create inserts a job. The job number comes from the database sequence.
func (r *Repo) Create(ctx context.Context, job *Job) error {
	rawSteps, rawHistory, err := stagerepo.EncodeStageData(job.Data)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			title, customer_name, customer_phone, proposal_id, status, stage,
			stage_steps, stage_history, scheduled_date, assigned_technician_id
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, job_number, version, created_at, updated_at`

	err = r.pool.QueryRow(ctx, query,
		job.Title, job.CustomerName, job.CustomerPhone, job.ProposalID, string(job.Status),
		string(job.Data.Stage), rawSteps, rawHistory, job.ScheduledDate, job.AssignedTechnicianID,
	).Scan(&job.ID, &job.JobNumber, &job.Version, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its id.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	job, err := scanJob(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, apperr.NotFound(jobNotFoundMsg)
		}
		return Job{}, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

// List returns one page of jobs matching the filters, newest first, and the total count.
func (r *Repo) List(ctx context.Context, params ListParams) ([]Job, int, error) {
	var stage, status *string
	if params.Stage != nil {
		s := string(*params.Stage)
		stage = &s
	}
	if params.Status != nil {
		s := string(*params.Status)
		status = &s
	}

	where := ` WHERE ($1::text IS NULL OR stage = $1) AND ($2::text IS NULL OR status = $2)`

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM jobs`+where, stage, status).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs` + where + ` ORDER BY created_at DESC LIMIT $3 OFFSET $4`
	rows, err := r.pool.Query(ctx, query, stage, status, params.Limit, params.Offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]Job, 0)
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, total, nil
}

// Update performs an optimistic write guarded by the version column.
func (r *Repo) Update(ctx context.Context, job Job) (int, error) {
	rawSteps, rawHistory, err := stagerepo.EncodeStageData(job.Data)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE jobs SET
			title = $3,
			customer_name = $4,
			customer_phone = $5,
			status = $6,
			stage = $7,
			stage_steps = $8,
			stage_history = $9,
			scheduled_date = $10,
			assigned_technician_id = $11,
			version = version + 1,
			updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version`

	var version int
	err = r.pool.QueryRow(ctx, query,
		job.ID, job.Version, job.Title, job.CustomerName, job.CustomerPhone, string(job.Status),
		string(job.Data.Stage), rawSteps, rawHistory, job.ScheduledDate, job.AssignedTechnicianID,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.Conflict("job was modified concurrently")
		}
		return 0, fmt.Errorf("failed to update job: %w", err)
	}
	return version, nil
}

// AddActivity appends an entry to the job's activity feed.
func (r *Repo) AddActivity(ctx context.Context, activity Activity) error {
	metadata := activity.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	rawMetadata, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode activity metadata: %w", err)
	}

	query := `
		INSERT INTO job_activity (job_id, actor_type, actor_id, event_type, title, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := r.pool.Exec(ctx, query,
		activity.JobID, activity.ActorType, activity.ActorID, activity.EventType, activity.Title, rawMetadata,
	); err != nil {
		return fmt.Errorf("failed to add job activity: %w", err)
	}
	return nil
}

// ListActivity returns the most recent activity entries of a job.
func (r *Repo) ListActivity(ctx context.Context, jobID uuid.UUID, limit int) ([]Activity, error) {
	query := `
		SELECT id, job_id, actor_type, actor_id, event_type, title, metadata, created_at
		FROM job_activity
		WHERE job_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, jobID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list job activity: %w", err)
	}
	defer rows.Close()

	items := make([]Activity, 0)
	for rows.Next() {
		var a Activity
		var rawMetadata []byte
		if err := rows.Scan(&a.ID, &a.JobID, &a.ActorType, &a.ActorID, &a.EventType, &a.Title, &rawMetadata, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan job activity: %w", err)
		}
		if len(rawMetadata) > 0 {
			if err := json.Unmarshal(rawMetadata, &a.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode activity metadata: %w", err)
			}
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func scanJob(row pgx.Row) (Job, error) {
	var job Job
	var status, stage string
	var rawSteps, rawHistory []byte

	err := row.Scan(
		&job.ID, &job.JobNumber, &job.Title, &job.CustomerName, &job.CustomerPhone, &job.ProposalID, &status,
		&stage, &rawSteps, &rawHistory, &job.ScheduledDate, &job.AssignedTechnicianID, &job.Version,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return Job{}, err
	}

	job.Status = domain.Status(status)
	job.Data, err = stagerepo.DecodeStageData(stage, rawSteps, rawHistory)
	if err != nil {
		return Job{}, fmt.Errorf("job %s: %w", job.JobNumber, err)
	}
	return job, nil
}
