package service

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/platform/apperr"
)

func TestCompleteStepTwiceIsNoop(t *testing.T) {
	repo := newFakeRepo()
	id := repo.addJob("JOB-1001", domain.NewStageData(), domain.JobFacts{})
	svc, bus := newTestService(repo)
	ctx := context.Background()

	first, err := svc.CompleteStep(ctx, id, "permits_filed", nil)
	if err != nil || !first.Changed {
		t.Fatalf("first completion: %+v %v", first, err)
	}
	afterFirst := repo.job(id)

	second, err := svc.CompleteStep(ctx, id, "permits_filed", nil)
	if err != nil || second.Changed {
		t.Fatalf("second completion: %+v %v", second, err)
	}
	afterSecond := repo.job(id)

	if afterFirst.Version != afterSecond.Version || !reflect.DeepEqual(afterFirst.Data, afterSecond.Data) {
		t.Fatal("second completion must not write")
	}
	if got := bus.names(); len(got) != 1 || got[0] != "jobs.steps.completed" {
		t.Fatalf("expected one steps event, got %v", got)
	}
}

func TestAdvanceStageBlockedLeavesJobUntouched(t *testing.T) {
	repo := newFakeRepo()
	data := domain.NewStageData()
	data.Steps["customer_confirmed"] = domain.StepStatus{Completed: true}
	id := repo.addJob("JOB-1001", data, domain.JobFacts{})
	svc, _ := newTestService(repo)

	_, err := svc.AdvanceStage(context.Background(), id, nil)
	if !apperr.Is(err, apperr.KindStepsIncomplete) {
		t.Fatalf("expected steps incomplete, got %v", err)
	}
	missing, _ := domain.MissingSteps(err)
	want := []domain.StepID{"deposit_received", "job_scheduled", "technician_assigned"}
	if !reflect.DeepEqual(missing, want) {
		t.Fatalf("expected %v, got %v", want, missing)
	}
	if job := repo.job(id); job.Data.Stage != domain.StageBeginning || job.Version != 1 {
		t.Fatalf("job changed: %+v", job)
	}
}

func TestAdvanceStageSyncsCanonicalStatus(t *testing.T) {
	repo := newFakeRepo()
	data := domain.NewStageData()
	for _, def := range domain.DefaultCatalog().StepsFor(domain.StageBeginning) {
		if def.Required {
			data.Steps[def.ID] = domain.StepStatus{Completed: true}
		}
	}
	id := repo.addJob("JOB-1001", data, domain.JobFacts{})
	svc, bus := newTestService(repo)
	actor := uuid.New()

	resp, err := svc.AdvanceStage(context.Background(), id, &actor)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Stage != domain.StageRoughIn || resp.Status != domain.StatusWorkingOnIt {
		t.Fatalf("expected rough_in/working_on_it, got %s/%s", resp.Stage, resp.Status)
	}
	if resp.ProgressPercent != 0 || len(resp.Steps) != 4 {
		t.Fatalf("expected fresh rough_in checklist, got %d%% with %d steps", resp.ProgressPercent, len(resp.Steps))
	}
	entry := repo.job(id).Data.History[0]
	if entry.Trigger != domain.TriggerManual || entry.ActorID == nil || *entry.ActorID != actor {
		t.Fatalf("unexpected history entry %+v", entry)
	}
	if got := bus.names(); len(got) != 1 || got[0] != "jobs.stage.changed" {
		t.Fatalf("expected one stage event, got %v", got)
	}
}

func TestAdvanceStageAppliesDeferredFacts(t *testing.T) {
	repo := newFakeRepo()
	data := domain.NewStageData()
	for _, def := range domain.DefaultCatalog().StepsFor(domain.StageBeginning) {
		if def.Required {
			data.Steps[def.ID] = domain.StepStatus{Completed: true}
		}
	}
	paid := time.Date(2025, 5, 2, 10, 0, 0, 0, time.UTC)
	id := repo.addJob("JOB-1002", data, domain.JobFacts{ProgressPaidAt: &paid})
	svc, bus := newTestService(repo)

	resp, err := svc.AdvanceStage(context.Background(), id, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Stage != domain.StageRoughIn {
		t.Fatalf("expected rough_in, got %s", resp.Stage)
	}
	step := repo.job(id).Data.Steps["progress_payment_received"]
	if !step.Completed || !step.AutoCompleted {
		t.Fatalf("expected progress payment step auto-completed, got %+v", step)
	}
	if repo.saves != 1 {
		t.Fatalf("expected a single write, got %d", repo.saves)
	}
	if got := bus.names(); !reflect.DeepEqual(got, []string{"jobs.stage.changed", "jobs.steps.completed"}) {
		t.Fatalf("unexpected events %v", got)
	}
	if entry := repo.job(id).Data.History[0]; entry.Trigger != domain.TriggerManual {
		t.Fatalf("advance must stay a manual transition, got %+v", entry)
	}
}

func TestAdvanceStageTerminal(t *testing.T) {
	repo := newFakeRepo()
	id := repo.addJob("JOB-1001", domain.StageData{Stage: domain.StageCompleted, Steps: map[domain.StepID]domain.StepStatus{}}, domain.JobFacts{})
	svc, _ := newTestService(repo)

	if _, err := svc.AdvanceStage(context.Background(), id, nil); !apperr.Is(err, apperr.KindTerminalStage) {
		t.Fatalf("expected terminal stage error, got %v", err)
	}
}

func TestManualActionSurfacesConflict(t *testing.T) {
	repo := newFakeRepo()
	id := repo.addJob("JOB-1001", domain.NewStageData(), domain.JobFacts{})
	repo.conflicts = 1
	svc, _ := newTestService(repo)

	if _, err := svc.CompleteStep(context.Background(), id, "permits_filed", nil); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestApplyFactRetriesConflict(t *testing.T) {
	repo := newFakeRepo()
	id := repo.addJob("JOB-1001", domain.NewStageData(), domain.JobFacts{})
	repo.conflicts = 2
	svc, _ := newTestService(repo)

	res, err := svc.ApplyFact(context.Background(), id, domain.FactProposalApproved, domain.TriggerAuto)
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if !reflect.DeepEqual(res.Changed, []domain.StepID{"customer_confirmed"}) {
		t.Fatalf("unexpected changed %v", res.Changed)
	}
	step := repo.job(id).Data.Steps["customer_confirmed"]
	if !step.Completed || !step.AutoCompleted {
		t.Fatalf("unexpected step status %+v", step)
	}

	again, err := svc.ApplyFact(context.Background(), id, domain.FactProposalApproved, domain.TriggerAuto)
	if err != nil || len(again.Changed) != 0 {
		t.Fatalf("expected idempotent replay, got %+v %v", again, err)
	}
}

func TestApplyFactGivesUpAfterRetries(t *testing.T) {
	repo := newFakeRepo()
	id := repo.addJob("JOB-1001", domain.NewStageData(), domain.JobFacts{})
	repo.conflicts = maxConflictRetries
	svc, _ := newTestService(repo)

	if _, err := svc.ApplyFact(context.Background(), id, domain.FactProposalApproved, domain.TriggerAuto); !apperr.Is(err, apperr.KindConflict) {
		t.Fatalf("expected conflict after retries, got %v", err)
	}
}

func TestApplyFactToProposalJobs(t *testing.T) {
	repo := newFakeRepo()
	proposalID := uuid.New()
	a := repo.addJob("JOB-1001", domain.NewStageData(), domain.JobFacts{})
	b := repo.addJob("JOB-1002", domain.StageData{Stage: domain.StageBeginning}, domain.JobFacts{})
	repo.proposalMap[proposalID] = []uuid.UUID{a, b}
	svc, _ := newTestService(repo)

	results, err := svc.ApplyFactToProposalJobs(context.Background(), proposalID, domain.FactDepositPaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	for _, r := range results {
		if r.Error != "" || !reflect.DeepEqual(r.Changed, []domain.StepID{"deposit_received"}) {
			t.Fatalf("unexpected result %+v", r)
		}
	}
}

func TestUncompleteStepRejectsOtherStage(t *testing.T) {
	repo := newFakeRepo()
	data := domain.StageData{Stage: domain.StageRoughIn, Steps: map[domain.StepID]domain.StepStatus{
		"customer_confirmed": {Completed: true},
	}}
	id := repo.addJob("JOB-1001", data, domain.JobFacts{})
	svc, _ := newTestService(repo)

	if _, err := svc.UncompleteStep(context.Background(), id, "customer_confirmed"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetChecklistNotFound(t *testing.T) {
	svc, _ := newTestService(newFakeRepo())
	if _, err := svc.GetChecklist(context.Background(), uuid.New()); !apperr.Is(err, apperr.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
