package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fieldops_backend/internal/events"
	apphttp "fieldops_backend/internal/http"
	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/internal/stages/repository"
	"fieldops_backend/internal/stages/transport"
	"fieldops_backend/platform/apperr"
	"fieldops_backend/platform/httpkit"
	"fieldops_backend/platform/logger"
	"fieldops_backend/platform/validator"
)

const testSecret = "backfill-secret"

type memRepo struct {
	mu    sync.Mutex
	jobs  map[uuid.UUID]repository.JobStage
	facts map[uuid.UUID]domain.JobFacts
}

func (r *memRepo) GetJobStage(_ context.Context, id uuid.UUID) (repository.JobStage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return repository.JobStage{}, apperr.NotFound("job not found")
	}
	job.Data = job.Data.Clone()
	return job, nil
}

func (r *memRepo) SaveJobStage(_ context.Context, job repository.JobStage) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.jobs[job.ID].Version != job.Version {
		return 0, apperr.Conflict("job was modified concurrently")
	}
	job.Version++
	r.jobs[job.ID] = job
	return job.Version, nil
}

func (r *memRepo) GetJobFacts(_ context.Context, id uuid.UUID) (domain.JobFacts, error) {
	return r.facts[id], nil
}

func (r *memRepo) GetJobRef(_ context.Context, id uuid.UUID) (repository.JobRef, error) {
	job, err := r.GetJobStage(context.Background(), id)
	if err != nil {
		return repository.JobRef{}, err
	}
	return repository.JobRef{ID: job.ID, JobNumber: job.JobNumber}, nil
}

func (r *memRepo) ListActiveJobs(_ context.Context, _ int) ([]repository.JobRef, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var refs []repository.JobRef
	for _, job := range r.jobs {
		if job.Data.Stage != domain.StageCompleted {
			refs = append(refs, repository.JobRef{ID: job.ID, JobNumber: job.JobNumber})
		}
	}
	return refs, nil
}

func (r *memRepo) ListJobIDsByProposal(context.Context, uuid.UUID) ([]uuid.UUID, error) {
	return nil, nil
}

func (r *memRepo) CountByStage(context.Context) (map[domain.Stage]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := map[domain.Stage]int{}
	for _, job := range r.jobs {
		counts[job.Data.Stage]++
	}
	return counts, nil
}

type testConfig struct{}

func (testConfig) GetStageBackfillSecret() string          { return testSecret }
func (testConfig) GetStageBackfillWorkers() int            { return 2 }
func (testConfig) GetStageBackfillMaxJobs() int            { return 100 }
func (testConfig) GetStageBackfillLockTTL() time.Duration { return time.Minute }

type fakeEnqueuer struct{ got *transport.BackfillRequest }

func (f *fakeEnqueuer) EnqueueStageBackfill(_ context.Context, req transport.BackfillRequest) (string, error) {
	f.got = &req
	return "task-1", nil
}

func newTestServer(t *testing.T, repo *memRepo, enq *fakeEnqueuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.New("test")

	val := validator.New()
	if err := transport.RegisterValidations(val); err != nil {
		t.Fatalf("register validations: %v", err)
	}
	engine := domain.NewEngine(domain.DefaultCatalog())
	m := newModule(repo, engine, events.NewInMemoryBus(log), nil, enq, testConfig{}, val, log)

	r := gin.New()
	v1 := r.Group("/api/v1")
	m.RegisterRoutes(&apphttp.RouterContext{
		V1:                 v1,
		Protected:          v1.Group(""),
		ServiceAuth:        httpkit.SharedSecretRequired(testSecret, log),
		ServiceRateLimiter: httpkit.NewServiceRateLimiter(log),
	})
	return r
}

func newMemRepo() (*memRepo, uuid.UUID) {
	id := uuid.New()
	now := time.Now()
	repo := &memRepo{
		jobs: map[uuid.UUID]repository.JobStage{
			id: {ID: id, JobNumber: "JOB-1001", Status: domain.StatusNew, Data: domain.NewStageData(), Version: 1},
		},
		facts: map[uuid.UUID]domain.JobFacts{id: {ProposalApprovedAt: &now}},
	}
	return repo, id
}

func do(r http.Handler, method, path, auth string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", "Bearer "+auth)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestStageActionEndpoints(t *testing.T) {
	repo, id := newMemRepo()
	r := newTestServer(t, repo, nil)
	path := "/api/v1/jobs/" + id.String() + "/stages"

	rec := do(r, http.MethodPost, path, "", map[string]string{"action": "complete_step", "step_id": "permits_filed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("complete_step: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp transport.StageActionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !resp.Changed || !resp.StageSteps["permits_filed"].Completed || resp.ProgressPercent != 17 {
		t.Fatalf("unexpected response %+v", resp)
	}

	rec = do(r, http.MethodPut, path, "", map[string]string{"action": "advance_stage"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("advance_stage: expected 422, got %d: %s", rec.Code, rec.Body.String())
	}
	var errResp struct {
		Error   string                 `json:"error"`
		Details domain.IncompleteSteps `json:"details"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errResp); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if len(errResp.Details.IncompleteSteps) != 4 {
		t.Fatalf("expected 4 incomplete steps, got %v", errResp.Details.IncompleteSteps)
	}

	rec = do(r, http.MethodPost, path, "", map[string]string{"action": "complete_step"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing step_id: expected 400, got %d", rec.Code)
	}

	rec = do(r, http.MethodPost, path, "", map[string]string{"action": "complete_step", "step_id": "final_walkthrough"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("future step: expected 400, got %d", rec.Code)
	}

	rec = do(r, http.MethodGet, "/api/v1/jobs/"+uuid.NewString()+"/stages", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown job: expected 404, got %d", rec.Code)
	}
}

func TestBackfillEndpointRequiresSecret(t *testing.T) {
	repo, id := newMemRepo()
	r := newTestServer(t, repo, nil)

	rec := do(r, http.MethodPost, "/api/v1/stages/backfill", "wrong", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if len(repo.jobs[id].Data.Steps) != 0 {
		t.Fatal("unauthorized call must not process jobs")
	}

	rec = do(r, http.MethodPost, "/api/v1/stages/backfill", testSecret, map[string]any{"job_id": id})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report transport.BackfillReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if report.JobsProcessed != 1 || report.JobsUpdated != 1 || report.TotalStepsCompleted != 1 || len(report.Errors) != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	rec = do(r, http.MethodGet, "/api/v1/stages/backfill", testSecret, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for status, got %d", rec.Code)
	}
}

func TestBackfillEndpointAsync(t *testing.T) {
	repo, _ := newMemRepo()
	enq := &fakeEnqueuer{}
	r := newTestServer(t, repo, enq)

	rec := do(r, http.MethodPost, "/api/v1/stages/backfill?async=true", testSecret, map[string]any{"auto_advance": true})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if enq.got == nil || !enq.got.AutoAdvance {
		t.Fatalf("expected enqueued request with auto_advance, got %+v", enq.got)
	}
}
