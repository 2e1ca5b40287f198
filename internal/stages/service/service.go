package service

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"fieldops_backend/internal/events"
	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/internal/stages/repository"
	"fieldops_backend/internal/stages/transport"
	"fieldops_backend/platform/apperr"
	"fieldops_backend/platform/logger"
)

// maxConflictRetries bounds how often trigger and backfill writes reload after
// losing an optimistic version race.
const maxConflictRetries = 3

// Service runs transition engine operations against persisted jobs.
type Service struct {
	repo   repository.Repository
	engine *domain.Engine
	bus    events.Bus
	log    *logger.Logger
}

// New creates a new stages service.
func New(repo repository.Repository, engine *domain.Engine, bus events.Bus, log *logger.Logger) *Service {
	return &Service{repo: repo, engine: engine, bus: bus, log: log}
}

// Engine returns the transition engine used by the service.
func (s *Service) Engine() *domain.Engine {
	return s.engine
}

// mutation is the outcome of one mutate call.
type mutation struct {
	job      repository.JobStage
	changed  bool
	from     domain.Stage
	trigger  domain.Trigger
	newSteps []domain.StepID
}

// mutate loads a job, applies fn to a copy of its stage data and persists the
// result once. When the stage moved, status is re-derived from the new stage.
// With retry set, a version conflict reloads the job and runs fn again.
func (s *Service) mutate(ctx context.Context, jobID uuid.UUID, retry bool, fn func(job *repository.JobStage) (bool, error)) (mutation, error) {
	attempts := 1
	if retry {
		attempts = maxConflictRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		job, err := s.repo.GetJobStage(ctx, jobID)
		if err != nil {
			return mutation{}, err
		}
		before := job.Data.Clone()
		job.Data = job.Data.Clone()

		changed, err := fn(&job)
		if err != nil {
			return mutation{job: job}, err
		}
		if !changed {
			return mutation{job: job}, nil
		}

		if job.Data.Stage != before.Stage {
			synced, err := domain.Sync(job.Status, job.Data.Stage, domain.ChangedStage)
			if err != nil {
				return mutation{job: job}, err
			}
			job.Status = synced.Status
		}

		version, err := s.repo.SaveJobStage(ctx, job)
		if err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				lastErr = err
				continue
			}
			return mutation{job: job}, err
		}
		job.Version = version

		m := mutation{job: job, changed: true, from: before.Stage, newSteps: newlyCompleted(before, job.Data)}
		if n := len(job.Data.History); n > len(before.History) {
			m.trigger = job.Data.History[n-1].Trigger
		}
		return m, nil
	}
	return mutation{}, lastErr
}

// publish emits events for a persisted mutation.
func (s *Service) publish(ctx context.Context, m mutation, source string, by domain.Trigger, actor *uuid.UUID) {
	if !m.changed {
		return
	}
	if len(m.newSteps) > 0 {
		s.bus.Publish(ctx, events.JobStepsCompleted{
			BaseEvent: events.NewBaseEvent(),
			JobID:     m.job.ID,
			Stage:     string(m.job.Data.Stage),
			Steps:     stepStrings(m.newSteps),
			Auto:      by != domain.TriggerManual,
			Source:    source,
			Actor:     actor,
		})
	}
	if m.from != m.job.Data.Stage {
		s.log.WithContext(ctx).StageTransition(m.job.ID.String(), string(m.from), string(m.job.Data.Stage), string(m.trigger))
		s.bus.Publish(ctx, events.JobStageChanged{
			BaseEvent: events.NewBaseEvent(),
			JobID:     m.job.ID,
			From:      string(m.from),
			To:        string(m.job.Data.Stage),
			Trigger:   string(m.trigger),
			ActorID:   actor,
		})
	}
}

// GetChecklist returns the checklist read model of a job.
func (s *Service) GetChecklist(ctx context.Context, jobID uuid.UUID) (transport.ChecklistResponse, error) {
	job, err := s.repo.GetJobStage(ctx, jobID)
	if err != nil {
		return transport.ChecklistResponse{}, err
	}
	return toChecklist(s.engine.Catalog(), job), nil
}

// Catalog returns the stage catalog and the legacy status table.
func (s *Service) Catalog() transport.CatalogResponse {
	resp := transport.CatalogResponse{Stages: s.engine.Catalog().Stages()}
	for _, st := range domain.Statuses() {
		stage, _ := domain.StageForStatus(st)
		canonical, _ := domain.CanonicalStatus(stage)
		resp.Statuses = append(resp.Statuses, transport.StatusMapping{Status: st, Stage: stage, Canonical: canonical == st})
	}
	return resp
}

// CompleteStep marks a checklist step done on behalf of a user.
func (s *Service) CompleteStep(ctx context.Context, jobID uuid.UUID, stepID domain.StepID, actor *uuid.UUID) (transport.StageActionResponse, error) {
	m, err := s.mutate(ctx, jobID, false, func(job *repository.JobStage) (bool, error) {
		return s.engine.CompleteStep(&job.Data, stepID, domain.TriggerManual)
	})
	if err != nil {
		return transport.StageActionResponse{}, err
	}
	s.publish(ctx, m, "checklist", domain.TriggerManual, actor)

	msg := fmt.Sprintf("step %s completed", stepID)
	if !m.changed {
		msg = fmt.Sprintf("step %s already completed", stepID)
	}
	return s.actionResponse(msg, m), nil
}

// UncompleteStep clears a step of the current stage.
func (s *Service) UncompleteStep(ctx context.Context, jobID uuid.UUID, stepID domain.StepID) (transport.StageActionResponse, error) {
	m, err := s.mutate(ctx, jobID, false, func(job *repository.JobStage) (bool, error) {
		return s.engine.UncompleteStep(&job.Data, stepID)
	})
	if err != nil {
		return transport.StageActionResponse{}, err
	}

	msg := fmt.Sprintf("step %s marked incomplete", stepID)
	if !m.changed {
		msg = fmt.Sprintf("step %s was not completed", stepID)
	}
	return s.actionResponse(msg, m), nil
}

// AdvanceStage moves a job to its next stage when the checklist allows it.
// Facts that already hold are applied again after the move, so steps deferred
// while the stage was out of reach complete in the same write.
func (s *Service) AdvanceStage(ctx context.Context, jobID uuid.UUID, actor *uuid.UUID) (transport.StageActionResponse, error) {
	facts, err := s.repo.GetJobFacts(ctx, jobID)
	if err != nil && !apperr.Is(err, apperr.KindNotFound) {
		s.log.Warn("job facts unavailable, advancing without triggers", "job_id", jobID, "error", err)
	}
	active := facts.Active()

	m, err := s.mutate(ctx, jobID, false, func(job *repository.JobStage) (bool, error) {
		if _, err := s.engine.Advance(&job.Data, domain.TriggerManual, actor); err != nil {
			return false, err
		}
		if _, err := s.engine.ApplyFacts(&job.Data, active, domain.TriggerAuto); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return transport.StageActionResponse{}, err
	}
	// Only triggers complete steps here; the stage event keeps the manual trigger.
	s.publish(ctx, m, "advance", domain.TriggerAuto, actor)

	return s.actionResponse(fmt.Sprintf("advanced to %s", m.job.Data.Stage), m), nil
}

// ApplyFact runs one auto-completion trigger against a job. Version conflicts are retried.
func (s *Service) ApplyFact(ctx context.Context, jobID uuid.UUID, fact domain.Fact, by domain.Trigger) (domain.TriggerResult, error) {
	var result domain.TriggerResult
	m, err := s.mutate(ctx, jobID, true, func(job *repository.JobStage) (bool, error) {
		res, err := s.engine.ApplyFact(&job.Data, fact, by)
		if err != nil {
			return false, err
		}
		result = res
		return len(res.Changed) > 0, nil
	})
	if err != nil {
		return domain.TriggerResult{}, err
	}
	s.publish(ctx, m, string(fact), by, nil)
	return result, nil
}

// JobTriggerResult pairs a job with what a trigger did to it.
type JobTriggerResult struct {
	JobID uuid.UUID `json:"jobId"`
	domain.TriggerResult
	Error string `json:"error,omitempty"`
}

// ApplyFactToProposalJobs runs a trigger for every job linked to a proposal.
// A failing job is reported in its result and does not stop the others.
func (s *Service) ApplyFactToProposalJobs(ctx context.Context, proposalID uuid.UUID, fact domain.Fact) ([]JobTriggerResult, error) {
	ids, err := s.repo.ListJobIDsByProposal(ctx, proposalID)
	if err != nil {
		return nil, err
	}

	results := make([]JobTriggerResult, 0, len(ids))
	for _, id := range ids {
		res, err := s.ApplyFact(ctx, id, fact, domain.TriggerAuto)
		entry := JobTriggerResult{JobID: id, TriggerResult: res}
		if err != nil {
			s.log.Warn("stage trigger failed", "job_id", id, "fact", fact, "error", err)
			entry.Fact = fact
			entry.Error = err.Error()
		}
		results = append(results, entry)
	}
	return results, nil
}

// StageSummary counts jobs per stage.
func (s *Service) StageSummary(ctx context.Context) (transport.StageSummaryResponse, error) {
	counts, err := s.repo.CountByStage(ctx)
	if err != nil {
		return transport.StageSummaryResponse{}, err
	}
	resp := transport.StageSummaryResponse{Counts: counts}
	for stage, n := range counts {
		resp.Total += n
		if stage != domain.StageCompleted {
			resp.Active += n
		}
	}
	return resp, nil
}

func (s *Service) actionResponse(msg string, m mutation) transport.StageActionResponse {
	return transport.StageActionResponse{
		Message:           msg,
		Changed:           m.changed,
		ChecklistResponse: toChecklist(s.engine.Catalog(), m.job),
	}
}

func toChecklist(c *domain.Catalog, job repository.JobStage) transport.ChecklistResponse {
	resp := transport.ChecklistResponse{
		JobID:                   job.ID,
		JobNumber:               job.JobNumber,
		Status:                  job.Status,
		Stage:                   job.Data.Stage,
		ProgressPercent:         c.ProgressPercent(job.Data.Stage, job.Data.Steps),
		IncompleteRequiredSteps: c.IncompleteRequiredSteps(job.Data.Stage, job.Data.Steps),
		StageSteps:              job.Data.Steps,
		StageHistory:            job.Data.History,
		Version:                 job.Version,
	}
	if resp.IncompleteRequiredSteps == nil {
		resp.IncompleteRequiredSteps = []domain.StepID{}
	}
	if next, ok := domain.NextStage(job.Data.Stage); ok {
		resp.NextStage = &next
		resp.CanAdvance = len(resp.IncompleteRequiredSteps) == 0
	}
	for _, def := range c.StepsFor(job.Data.Stage) {
		st := job.Data.Steps[def.ID]
		resp.Steps = append(resp.Steps, transport.StepView{
			ID:              def.ID,
			Label:           def.Label,
			Description:     def.Description,
			Required:        def.Required,
			AutoCompletable: def.AutoCompletable(),
			Completed:       st.Completed,
			CompletedAt:     st.CompletedAt,
			AutoCompleted:   st.AutoCompleted,
		})
	}
	if resp.Steps == nil {
		resp.Steps = []transport.StepView{}
	}
	return resp
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

func stepStrings(ids []domain.StepID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
