package adapters

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	proposaltransport "fieldops_backend/internal/proposals/transport"
	"fieldops_backend/internal/stages/domain"
	stagesvc "fieldops_backend/internal/stages/service"
)

// ProposalJobsTrigger is the narrow stages interface the adapter needs.
type ProposalJobsTrigger interface {
	ApplyFactToProposalJobs(ctx context.Context, proposalID uuid.UUID, fact domain.Fact) ([]stagesvc.JobTriggerResult, error)
}

// StageTriggerAdapter lets the proposals module run lifecycle triggers on the
// jobs linked to a proposal without depending on the stages module.
// It implements proposals/service.StageTrigger.
type StageTriggerAdapter struct {
	stages ProposalJobsTrigger
}

// NewStageTriggerAdapter creates a new stage trigger adapter.
func NewStageTriggerAdapter(stages ProposalJobsTrigger) *StageTriggerAdapter {
	return &StageTriggerAdapter{stages: stages}
}

// ApplyToProposalJobs runs the trigger and converts the per-job results.
func (a *StageTriggerAdapter) ApplyToProposalJobs(ctx context.Context, proposalID uuid.UUID, fact domain.Fact) ([]proposaltransport.JobTriggerResult, error) {
	results, err := a.stages.ApplyFactToProposalJobs(ctx, proposalID, fact)
	if err != nil {
		return nil, fmt.Errorf("apply %s to proposal jobs: %w", fact, err)
	}

	out := make([]proposaltransport.JobTriggerResult, 0, len(results))
	for _, r := range results {
		changed := r.Changed
		if changed == nil {
			changed = []domain.StepID{}
		}
		out = append(out, proposaltransport.JobTriggerResult{
			JobID:    r.JobID,
			Fact:     fact,
			Changed:  changed,
			Deferred: r.Deferred,
			Error:    r.Error,
		})
	}
	return out, nil
}
