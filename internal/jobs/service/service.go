package service

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/google/uuid"

	"fieldops_backend/internal/events"
	"fieldops_backend/internal/jobs/repository"
	"fieldops_backend/internal/jobs/transport"
	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/platform/apperr"
	"fieldops_backend/platform/logger"
	"fieldops_backend/platform/phone"
)

const (
	defaultPageSize   = 25
	activityFeedLimit = 100
)

// ProposalFactsReader reads the lifecycle facts a proposal already proves.
// Only the proposal fields of the returned JobFacts are set.
type ProposalFactsReader interface {
	ProposalFacts(ctx context.Context, proposalID uuid.UUID) (domain.JobFacts, error)
}

// Service holds the business logic for job records.
type Service struct {
	repo        repository.Repository
	engine      *domain.Engine
	proposals   ProposalFactsReader
	bus         events.Bus
	phoneRegion string
	log         *logger.Logger
}

// New creates a new jobs service. proposals may be nil, in which case new jobs
// are not pre-seeded from their proposal.
func New(repo repository.Repository, engine *domain.Engine, proposals ProposalFactsReader, bus events.Bus, phoneRegion string, log *logger.Logger) *Service {
	return &Service{
		repo:        repo,
		engine:      engine,
		proposals:   proposals,
		bus:         bus,
		phoneRegion: phoneRegion,
		log:         log,
	}
}

// Create inserts a job at the beginning stage with every step its facts already prove.
func (s *Service) Create(ctx context.Context, actor *uuid.UUID, req transport.CreateJobRequest) (transport.JobResponse, error) {
	var facts domain.JobFacts
	if req.ProposalID != nil && s.proposals != nil {
		pf, err := s.proposals.ProposalFacts(ctx, *req.ProposalID)
		if err != nil {
			if apperr.Is(err, apperr.KindNotFound) {
				return transport.JobResponse{}, apperr.Validation("proposal does not exist")
			}
			return transport.JobResponse{}, err
		}
		facts = pf
	}
	facts.ScheduledDate = req.ScheduledDate
	facts.TechnicianID = req.AssignedTechnicianID

	data := domain.NewStageData()
	seeded, err := s.engine.ApplyFacts(&data, facts.Active(), domain.TriggerAuto)
	if err != nil {
		return transport.JobResponse{}, err
	}
	status, _ := domain.CanonicalStatus(data.Stage)

	job := repository.Job{
		Title:                req.Title,
		CustomerName:         req.CustomerName,
		CustomerPhone:        phone.NormalizeE164(req.CustomerPhone, s.phoneRegion),
		ProposalID:           req.ProposalID,
		Status:               status,
		Data:                 data,
		ScheduledDate:        req.ScheduledDate,
		AssignedTechnicianID: req.AssignedTechnicianID,
	}
	if err := s.repo.Create(ctx, &job); err != nil {
		return transport.JobResponse{}, err
	}

	if err := s.repo.AddActivity(ctx, repository.Activity{
		JobID:     job.ID,
		ActorType: actorType(actor),
		ActorID:   actor,
		EventType: "job_created",
		Title:     fmt.Sprintf("Job %s created", job.JobNumber),
	}); err != nil {
		s.log.Warn("failed to record job activity", "job_id", job.ID, "error", err)
	}
	s.publishSteps(ctx, job, seeded.Changed, true, "job_created", actor)

	return s.toResponse(job), nil
}

// GetByID returns one job.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (transport.JobResponse, error) {
	job, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.JobResponse{}, err
	}
	return s.toResponse(job), nil
}

// List returns one page of the kanban list.
func (s *Service) List(ctx context.Context, req transport.ListJobsRequest) (transport.JobListResponse, error) {
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size < 1 {
		size = defaultPageSize
	}

	params := repository.ListParams{Offset: (page - 1) * size, Limit: size}
	if req.Stage != "" {
		stage, ok := domain.ParseStage(req.Stage)
		if !ok {
			return transport.JobListResponse{}, apperr.Validation(fmt.Sprintf("unknown stage %q", req.Stage))
		}
		params.Stage = &stage
	}
	if req.Status != "" {
		status, ok := domain.ParseStatus(req.Status)
		if !ok {
			return transport.JobListResponse{}, apperr.Validation(fmt.Sprintf("unknown status %q", req.Status))
		}
		params.Status = &status
	}

	jobs, total, err := s.repo.List(ctx, params)
	if err != nil {
		return transport.JobListResponse{}, err
	}

	resp := transport.JobListResponse{Items: make([]transport.JobResponse, 0, len(jobs)), Total: total, Page: page, PageSize: size}
	for _, job := range jobs {
		resp.Items = append(resp.Items, s.toResponse(job))
	}
	return resp, nil
}

// Update applies a partial job write. Status and stage are kept in sync: a
// status write moves the stage to the status's stage, a stage write resets the
// status to the stage's canonical one, and both moves are recorded as override
// transitions. Step data is only touched by an explicit stage_steps value or
// by the schedule and technician triggers.
func (s *Service) Update(ctx context.Context, actor *uuid.UUID, req transport.UpdateJobRequest) (transport.JobResponse, error) {
	job, err := s.repo.GetByID(ctx, req.JobID)
	if err != nil {
		return transport.JobResponse{}, err
	}
	if req.Version != nil && *req.Version != job.Version {
		return transport.JobResponse{}, apperr.Conflict("job was modified concurrently")
	}

	original := job
	original.Data = job.Data.Clone()
	job.Data = job.Data.Clone()

	if req.Title != nil {
		job.Title = *req.Title
	}
	if req.CustomerName != nil {
		job.CustomerName = *req.CustomerName
	}
	if req.CustomerPhone != nil {
		job.CustomerPhone = phone.NormalizeE164(*req.CustomerPhone, s.phoneRegion)
	}

	if req.StageHistory != nil {
		if err := s.replaceHistory(&job, req.StageHistory); err != nil {
			return transport.JobResponse{}, err
		}
	}
	if err := s.applyStatusAndStage(&job, req.Status, req.Stage, actor); err != nil {
		return transport.JobResponse{}, err
	}
	if req.StageSteps != nil {
		if err := s.engine.Catalog().ValidateSteps(job.Data.HighestReached(), req.StageSteps); err != nil {
			return transport.JobResponse{}, err
		}
		job.Data.Steps = make(map[domain.StepID]domain.StepStatus, len(req.StageSteps))
		for id, st := range req.StageSteps {
			job.Data.Steps[id] = st
		}
	}
	manualSteps := newlyCompleted(original.Data, job.Data)

	autoSteps, err := s.applyAssignment(&job, req)
	if err != nil {
		return transport.JobResponse{}, err
	}

	if reflect.DeepEqual(original, job) {
		return s.toResponse(job), nil
	}

	version, err := s.repo.Update(ctx, job)
	if err != nil {
		return transport.JobResponse{}, err
	}
	job.Version = version

	s.publishSteps(ctx, job, manualSteps, false, "job_update", actor)
	s.publishSteps(ctx, job, autoSteps, true, "job_update", actor)
	if original.Data.Stage != job.Data.Stage {
		s.log.WithContext(ctx).StageTransition(job.ID.String(), string(original.Data.Stage), string(job.Data.Stage), string(domain.TriggerOverride))
		s.bus.Publish(ctx, events.JobStageChanged{
			BaseEvent: events.NewBaseEvent(),
			JobID:     job.ID,
			From:      string(original.Data.Stage),
			To:        string(job.Data.Stage),
			Trigger:   string(domain.TriggerOverride),
			ActorID:   actor,
		})
	}

	return s.toResponse(job), nil
}

// replaceHistory accepts a client history only when it appends to the stored
// one and still ends at the stored stage.
func (s *Service) replaceHistory(job *repository.Job, next []domain.HistoryEntry) error {
	if err := domain.ValidateHistoryExtends(job.Data.History, next); err != nil {
		return err
	}
	if n := len(next); n > 0 && next[n-1].To != job.Data.Stage {
		return apperr.Validation(fmt.Sprintf("stage_history must end at the current stage %q", job.Data.Stage))
	}
	job.Data.History = slices.Clone(next)
	return nil
}

func (s *Service) applyStatusAndStage(job *repository.Job, rawStatus, rawStage *string, actor *uuid.UUID) error {
	switch {
	case rawStatus != nil && rawStage != nil:
		status := domain.Status(*rawStatus)
		stage := domain.Stage(*rawStage)
		derived, ok := domain.StageForStatus(status)
		if !ok {
			return apperr.Validation(fmt.Sprintf("unknown status %q", status))
		}
		if derived != stage {
			return apperr.Validation(fmt.Sprintf("status %q belongs to stage %q, not %q", status, derived, stage))
		}
		if _, err := s.engine.ForceStage(&job.Data, stage, actor); err != nil {
			return err
		}
		job.Status = status

	case rawStatus != nil:
		synced, err := domain.Sync(domain.Status(*rawStatus), job.Data.Stage, domain.ChangedStatus)
		if err != nil {
			return err
		}
		if _, err := s.engine.ForceStage(&job.Data, synced.Stage, actor); err != nil {
			return err
		}
		job.Status = synced.Status

	case rawStage != nil:
		stage := domain.Stage(*rawStage)
		changed, err := s.engine.ForceStage(&job.Data, stage, actor)
		if err != nil {
			return err
		}
		if changed {
			synced, err := domain.Sync(job.Status, stage, domain.ChangedStage)
			if err != nil {
				return err
			}
			job.Status = synced.Status
		}
	}
	return nil
}

// applyAssignment writes schedule and technician and runs their triggers when
// the value is newly set or changed.
func (s *Service) applyAssignment(job *repository.Job, req transport.UpdateJobRequest) ([]domain.StepID, error) {
	var facts []domain.Fact
	if req.ScheduledDate != nil && (job.ScheduledDate == nil || !job.ScheduledDate.Equal(*req.ScheduledDate)) {
		at := *req.ScheduledDate
		job.ScheduledDate = &at
		facts = append(facts, domain.FactJobScheduled)
	}
	if req.AssignedTechnicianID != nil && (job.AssignedTechnicianID == nil || *job.AssignedTechnicianID != *req.AssignedTechnicianID) {
		tech := *req.AssignedTechnicianID
		job.AssignedTechnicianID = &tech
		facts = append(facts, domain.FactTechnicianAssigned)
	}
	if len(facts) == 0 {
		return nil, nil
	}

	res, err := s.engine.ApplyFacts(&job.Data, facts, domain.TriggerAuto)
	if err != nil {
		return nil, err
	}
	return res.Changed, nil
}

func (s *Service) publishSteps(ctx context.Context, job repository.Job, steps []domain.StepID, auto bool, source string, actor *uuid.UUID) {
	if len(steps) == 0 {
		return
	}
	names := make([]string, len(steps))
	for i, id := range steps {
		names[i] = string(id)
	}
	s.bus.Publish(ctx, events.JobStepsCompleted{
		BaseEvent: events.NewBaseEvent(),
		JobID:     job.ID,
		Stage:     string(job.Data.Stage),
		Steps:     names,
		Auto:      auto,
		Source:    source,
		Actor:     actor,
	})
}

func (s *Service) toResponse(job repository.Job) transport.JobResponse {
	return transport.JobResponse{
		ID:                   job.ID,
		JobNumber:            job.JobNumber,
		Title:                job.Title,
		CustomerName:         job.CustomerName,
		CustomerPhone:        job.CustomerPhone,
		ProposalID:           job.ProposalID,
		Status:               job.Status,
		Stage:                job.Data.Stage,
		StageSteps:           job.Data.Steps,
		StageHistory:         job.Data.History,
		ProgressPercent:      s.engine.Catalog().ProgressPercent(job.Data.Stage, job.Data.Steps),
		ScheduledDate:        job.ScheduledDate,
		AssignedTechnicianID: job.AssignedTechnicianID,
		Version:              job.Version,
		CreatedAt:            job.CreatedAt,
		UpdatedAt:            job.UpdatedAt,
	}
}

func newlyCompleted(before, after domain.StageData) []domain.StepID {
	var out []domain.StepID
	for id, st := range after.Steps {
		if st.Completed && !before.Steps[id].Completed {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return out
}

func actorType(actor *uuid.UUID) string {
	if actor == nil {
		return repository.ActorTypeSystem
	}
	return repository.ActorTypeUser
}
