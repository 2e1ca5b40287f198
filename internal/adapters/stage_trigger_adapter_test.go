package adapters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldops_backend/internal/stages/domain"
	stagesvc "fieldops_backend/internal/stages/service"
)

type stubProposalJobs struct {
	results []stagesvc.JobTriggerResult
	err     error
}

func (s stubProposalJobs) ApplyFactToProposalJobs(context.Context, uuid.UUID, domain.Fact) ([]stagesvc.JobTriggerResult, error) {
	return s.results, s.err
}

func TestStageTriggerAdapterConvertsResults(t *testing.T) {
	jobID := uuid.New()
	adapter := NewStageTriggerAdapter(stubProposalJobs{results: []stagesvc.JobTriggerResult{
		{JobID: jobID, TriggerResult: domain.TriggerResult{Fact: domain.FactDepositPaid, Changed: []domain.StepID{"deposit_received"}}},
		{JobID: uuid.New(), Error: "job was modified concurrently"},
	}})

	out, err := adapter.ApplyToProposalJobs(context.Background(), uuid.New(), domain.FactDepositPaid)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 results, got %d", len(out))
	}
	if out[0].JobID != jobID || len(out[0].Changed) != 1 || out[0].Changed[0] != "deposit_received" {
		t.Fatalf("unexpected first result %+v", out[0])
	}
	if out[1].Error == "" || out[1].Fact != domain.FactDepositPaid || out[1].Changed == nil {
		t.Fatalf("failed job must keep its error and fact, got %+v", out[1])
	}
}

func TestStageTriggerAdapterWrapsErrors(t *testing.T) {
	boom := errors.New("db down")
	adapter := NewStageTriggerAdapter(stubProposalJobs{err: boom})

	if _, err := adapter.ApplyToProposalJobs(context.Background(), uuid.New(), domain.FactFinalPaid); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type stubFactsSource struct{ facts domain.JobFacts }

func (s stubFactsSource) ProposalFacts(context.Context, uuid.UUID) (domain.JobFacts, error) {
	return s.facts, nil
}

func TestProposalFactsReaderDropsJobOwnedFacts(t *testing.T) {
	now := time.Now()
	tech := uuid.New()
	reader := NewProposalFactsReader(stubFactsSource{facts: domain.JobFacts{
		ProposalApprovedAt: &now,
		ScheduledDate:      &now,
		TechnicianID:       &tech,
	}})

	facts, err := reader.ProposalFacts(context.Background(), uuid.New())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if facts.ProposalApprovedAt == nil || facts.ScheduledDate != nil || facts.TechnicianID != nil {
		t.Fatalf("unexpected facts %+v", facts)
	}
}
