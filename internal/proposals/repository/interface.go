package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fieldops_backend/internal/billing"
)

// Proposal is the database model of a customer proposal.
type Proposal struct {
	ID                  uuid.UUID
	Title               string
	DepositAmountCents  int64
	ProgressAmountCents int64
	FinalAmountCents    int64
	ApprovedAt          *time.Time
	DepositPaidAt       *time.Time
	ProgressPaidAt      *time.Time
	FinalPaidAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Milestones returns the configured payment amounts.
func (p Proposal) Milestones() billing.Milestones {
	return billing.Milestones{
		DepositCents:  p.DepositAmountCents,
		ProgressCents: p.ProgressAmountCents,
		FinalCents:    p.FinalAmountCents,
	}
}

// Payment is one received payment and the milestone it was matched to.
type Payment struct {
	ID           uuid.UUID
	ProposalID   uuid.UUID
	AmountCents  int64
	PaymentStage billing.PaymentStage
	NeedsReview  bool
	ReceivedAt   time.Time
}

// Repository defines the persistence operations of proposals and payments.
type Repository interface {
	Create(ctx context.Context, p *Proposal) error
	GetByID(ctx context.Context, id uuid.UUID) (Proposal, error)
	// MarkApproved sets approved_at when it is still empty. It reports whether
	// this call set it and returns the stored proposal.
	MarkApproved(ctx context.Context, id uuid.UUID, at time.Time) (Proposal, bool, error)
	// RecordPayment inserts the payment and stamps the milestone's paid
	// timestamp when it is still empty, in one transaction.
	RecordPayment(ctx context.Context, payment *Payment) (Proposal, error)
	ListPayments(ctx context.Context, proposalID uuid.UUID) ([]Payment, error)
}
