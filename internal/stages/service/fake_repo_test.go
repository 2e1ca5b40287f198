package service

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"fieldops_backend/internal/events"
	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/internal/stages/repository"
	"fieldops_backend/platform/apperr"
	"fieldops_backend/platform/logger"
)

type fakeRepo struct {
	mu          sync.Mutex
	jobs        map[uuid.UUID]repository.JobStage
	facts       map[uuid.UUID]domain.JobFacts
	factErrs    map[uuid.UUID]error
	order       []uuid.UUID
	conflicts   int
	saves       int
	proposalMap map[uuid.UUID][]uuid.UUID
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		jobs:        map[uuid.UUID]repository.JobStage{},
		facts:       map[uuid.UUID]domain.JobFacts{},
		factErrs:    map[uuid.UUID]error{},
		proposalMap: map[uuid.UUID][]uuid.UUID{},
	}
}

func (r *fakeRepo) addJob(number string, data domain.StageData, facts domain.JobFacts) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	status, _ := domain.CanonicalStatus(data.Stage)
	r.jobs[id] = repository.JobStage{ID: id, JobNumber: number, Status: status, Data: data, Version: 1}
	r.facts[id] = facts
	r.order = append(r.order, id)
	return id
}

func (r *fakeRepo) job(id uuid.UUID) repository.JobStage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

func (r *fakeRepo) GetJobStage(_ context.Context, jobID uuid.UUID) (repository.JobStage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return repository.JobStage{}, apperr.NotFound("job not found")
	}
	job.Data = job.Data.Clone()
	return job, nil
}

func (r *fakeRepo) SaveJobStage(_ context.Context, job repository.JobStage) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conflicts > 0 {
		r.conflicts--
		return 0, apperr.Conflict("job was modified concurrently")
	}
	current, ok := r.jobs[job.ID]
	if !ok || current.Version != job.Version {
		return 0, apperr.Conflict("job was modified concurrently")
	}
	job.Version++
	job.Data = job.Data.Clone()
	r.jobs[job.ID] = job
	r.saves++
	return job.Version, nil
}

func (r *fakeRepo) GetJobFacts(_ context.Context, jobID uuid.UUID) (domain.JobFacts, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.factErrs[jobID]; err != nil {
		return domain.JobFacts{}, err
	}
	return r.facts[jobID], nil
}

func (r *fakeRepo) GetJobRef(_ context.Context, jobID uuid.UUID) (repository.JobRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[jobID]
	if !ok {
		return repository.JobRef{}, apperr.NotFound("job not found")
	}
	return repository.JobRef{ID: job.ID, JobNumber: job.JobNumber}, nil
}

func (r *fakeRepo) ListActiveJobs(_ context.Context, limit int) ([]repository.JobRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var refs []repository.JobRef
	for _, id := range r.order {
		job := r.jobs[id]
		if job.Data.Stage == domain.StageCompleted {
			continue
		}
		if len(refs) == limit {
			break
		}
		refs = append(refs, repository.JobRef{ID: id, JobNumber: job.JobNumber})
	}
	return refs, nil
}

func (r *fakeRepo) ListJobIDsByProposal(_ context.Context, proposalID uuid.UUID) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.proposalMap[proposalID], nil
}

func (r *fakeRepo) CountByStage(_ context.Context) (map[domain.Stage]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[domain.Stage]int{}
	for _, job := range r.jobs {
		counts[job.Data.Stage]++
	}
	return counts, nil
}

var _ repository.Repository = (*fakeRepo)(nil)

// recordingBus captures published events synchronously.
type recordingBus struct {
	mu     sync.Mutex
	events []events.Event
}

func (b *recordingBus) Publish(_ context.Context, event events.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBus) PublishSync(ctx context.Context, event events.Event) error {
	b.Publish(ctx, event)
	return nil
}

func (b *recordingBus) Subscribe(string, events.Handler) {}

func (b *recordingBus) names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.events))
	for i, e := range b.events {
		out[i] = e.EventName()
	}
	sort.Strings(out)
	return out
}

func newTestService(repo *fakeRepo) (*Service, *recordingBus) {
	bus := &recordingBus{}
	return New(repo, domain.NewEngine(domain.DefaultCatalog()), bus, logger.New("test")), bus
}
