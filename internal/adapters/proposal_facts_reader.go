package adapters

import (
	"context"

	"github.com/google/uuid"

	"fieldops_backend/internal/stages/domain"
)

// ProposalFactsSource is the narrow proposals interface the reader needs.
type ProposalFactsSource interface {
	ProposalFacts(ctx context.Context, proposalID uuid.UUID) (domain.JobFacts, error)
}

// ProposalFactsReader hands proposal facts to the jobs module so new jobs start
// with every step their proposal already proves.
// It implements jobs/service.ProposalFactsReader.
type ProposalFactsReader struct {
	proposals ProposalFactsSource
}

// NewProposalFactsReader creates a new proposal facts reader.
func NewProposalFactsReader(proposals ProposalFactsSource) *ProposalFactsReader {
	return &ProposalFactsReader{proposals: proposals}
}

// ProposalFacts returns only the proposal-owned facts. Job-owned facts such as
// the schedule are left empty for the caller to fill.
func (r *ProposalFactsReader) ProposalFacts(ctx context.Context, proposalID uuid.UUID) (domain.JobFacts, error) {
	facts, err := r.proposals.ProposalFacts(ctx, proposalID)
	if err != nil {
		return domain.JobFacts{}, err
	}
	return domain.JobFacts{
		ProposalApprovedAt: facts.ProposalApprovedAt,
		DepositPaidAt:      facts.DepositPaidAt,
		ProgressPaidAt:     facts.ProgressPaidAt,
		FinalPaidAt:        facts.FinalPaidAt,
	}, nil
}
