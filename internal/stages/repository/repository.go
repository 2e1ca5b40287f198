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
	"fieldops_backend/platform/apperr"
)

const jobNotFoundMessage = "job not found"

// Repo implements the Repository interface with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new stages repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

// Compile-time check that Repo implements Repository.
var _ Repository = (*Repo)(nil)

// GetJobStage loads the lifecycle columns of a job.
func (r *Repo) GetJobStage(ctx context.Context, jobID uuid.UUID) (JobStage, error) {
	query := `
		SELECT id, job_number, status, proposal_id, stage, stage_steps, stage_history, version
		FROM jobs
		WHERE id = $1`

	var job JobStage
	var status, stage string
	var rawSteps, rawHistory []byte

	err := r.pool.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.JobNumber, &status, &job.ProposalID, &stage, &rawSteps, &rawHistory, &job.Version,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JobStage{}, apperr.NotFound(jobNotFoundMessage)
		}
		return JobStage{}, fmt.Errorf("get job stage: %w", err)
	}

	job.Status = domain.Status(status)
	job.Data, err = DecodeStageData(stage, rawSteps, rawHistory)
	if err != nil {
		return JobStage{}, fmt.Errorf("job %s: %w", job.Ref(), err)
	}
	return job, nil
}

// SaveJobStage performs an optimistic write guarded by the version column.
func (r *Repo) SaveJobStage(ctx context.Context, job JobStage) (int, error) {
	rawSteps, rawHistory, err := EncodeStageData(job.Data)
	if err != nil {
		return 0, err
	}

	query := `
		UPDATE jobs
		SET status = $3, stage = $4, stage_steps = $5, stage_history = $6,
			version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2
		RETURNING version`

	var version int
	err = r.pool.QueryRow(ctx, query, job.ID, job.Version, string(job.Status), string(job.Data.Stage), rawSteps, rawHistory).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, apperr.Conflict("job was modified concurrently")
		}
		return 0, fmt.Errorf("save job stage: %w", err)
	}
	return version, nil
}

// GetJobFacts derives trigger facts from the job and its linked proposal.
func (r *Repo) GetJobFacts(ctx context.Context, jobID uuid.UUID) (domain.JobFacts, error) {
	query := `
		SELECT j.scheduled_date, j.assigned_technician_id,
			p.approved_at, p.deposit_paid_at, p.progress_paid_at, p.final_paid_at
		FROM jobs j
		LEFT JOIN proposals p ON p.id = j.proposal_id
		WHERE j.id = $1`

	var facts domain.JobFacts
	err := r.pool.QueryRow(ctx, query, jobID).Scan(
		&facts.ScheduledDate, &facts.TechnicianID,
		&facts.ProposalApprovedAt, &facts.DepositPaidAt, &facts.ProgressPaidAt, &facts.FinalPaidAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobFacts{}, apperr.NotFound(jobNotFoundMessage)
		}
		return domain.JobFacts{}, fmt.Errorf("get job facts: %w", err)
	}
	return facts, nil
}

// GetJobRef loads the reference of a single job.
func (r *Repo) GetJobRef(ctx context.Context, jobID uuid.UUID) (JobRef, error) {
	var ref JobRef
	err := r.pool.QueryRow(ctx, `SELECT id, job_number FROM jobs WHERE id = $1`, jobID).Scan(&ref.ID, &ref.JobNumber)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return JobRef{}, apperr.NotFound(jobNotFoundMessage)
		}
		return JobRef{}, fmt.Errorf("get job ref: %w", err)
	}
	return ref, nil
}

// ListActiveJobs returns jobs that have not reached the completed stage, oldest first.
func (r *Repo) ListActiveJobs(ctx context.Context, limit int) ([]JobRef, error) {
	query := `
		SELECT id, job_number
		FROM jobs
		WHERE stage <> $1
		ORDER BY created_at ASC
		LIMIT $2`

	rows, err := r.pool.Query(ctx, query, string(domain.StageCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}
	defer rows.Close()

	var refs []JobRef
	for rows.Next() {
		var ref JobRef
		if err := rows.Scan(&ref.ID, &ref.JobNumber); err != nil {
			return nil, fmt.Errorf("scan active job: %w", err)
		}
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// ListJobIDsByProposal returns the jobs linked to a proposal.
func (r *Repo) ListJobIDsByProposal(ctx context.Context, proposalID uuid.UUID) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM jobs WHERE proposal_id = $1 ORDER BY created_at ASC`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("list jobs by proposal: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CountByStage returns the number of jobs per stage. Stages without jobs are reported as zero.
func (r *Repo) CountByStage(ctx context.Context) (map[domain.Stage]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT stage, COUNT(*) FROM jobs GROUP BY stage`)
	if err != nil {
		return nil, fmt.Errorf("count jobs by stage: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.Stage]int)
	for _, s := range domain.StagesInOrder() {
		counts[s] = 0
	}
	for rows.Next() {
		var stage string
		var n int
		if err := rows.Scan(&stage, &n); err != nil {
			return nil, fmt.Errorf("scan stage count: %w", err)
		}
		counts[domain.Stage(stage)] = n
	}
	return counts, rows.Err()
}

// DecodeStageData builds the aggregate from the stored columns.
func DecodeStageData(stage string, rawSteps, rawHistory []byte) (domain.StageData, error) {
	data := domain.NewStageData()
	data.Stage = domain.Stage(stage)
	if len(rawSteps) > 0 {
		if err := json.Unmarshal(rawSteps, &data.Steps); err != nil {
			return domain.StageData{}, fmt.Errorf("decode stage_steps: %w", err)
		}
	}
	if len(rawHistory) > 0 {
		if err := json.Unmarshal(rawHistory, &data.History); err != nil {
			return domain.StageData{}, fmt.Errorf("decode stage_history: %w", err)
		}
	}
	if data.Steps == nil {
		data.Steps = map[domain.StepID]domain.StepStatus{}
	}
	if data.History == nil {
		data.History = []domain.HistoryEntry{}
	}
	return data, nil
}

// EncodeStageData serialises steps and history for the JSONB columns.
func EncodeStageData(data domain.StageData) ([]byte, []byte, error) {
	steps := data.Steps
	if steps == nil {
		steps = map[domain.StepID]domain.StepStatus{}
	}
	history := data.History
	if history == nil {
		history = []domain.HistoryEntry{}
	}
	rawSteps, err := json.Marshal(steps)
	if err != nil {
		return nil, nil, fmt.Errorf("encode stage_steps: %w", err)
	}
	rawHistory, err := json.Marshal(history)
	if err != nil {
		return nil, nil, fmt.Errorf("encode stage_history: %w", err)
	}
	return rawSteps, rawHistory, nil
}
