package transport

import (
	"time"

	"github.com/google/uuid"

	"fieldops_backend/internal/billing"
	"fieldops_backend/internal/stages/domain"
)

// CreateProposalRequest is the body of POST /proposals.
type CreateProposalRequest struct {
	Title               string `json:"title" validate:"required,min=1,max=200"`
	DepositAmountCents  int64  `json:"deposit_amount_cents" validate:"min=0"`
	ProgressAmountCents int64  `json:"progress_payment_amount_cents" validate:"min=0"`
	FinalAmountCents    int64  `json:"final_payment_amount_cents" validate:"min=0"`
}

// RecordPaymentRequest is the body of POST /proposals/:id/payments.
type RecordPaymentRequest struct {
	AmountCents int64 `json:"amount_cents" validate:"required,gt=0"`
}

// ProposalResponse is a proposal with its milestone state.
type ProposalResponse struct {
	ID                  uuid.UUID  `json:"id"`
	Title               string     `json:"title"`
	DepositAmountCents  int64      `json:"deposit_amount_cents"`
	ProgressAmountCents int64      `json:"progress_payment_amount_cents"`
	FinalAmountCents    int64      `json:"final_payment_amount_cents"`
	ApprovedAt          *time.Time `json:"approved_at,omitempty"`
	DepositPaidAt       *time.Time `json:"deposit_paid_at,omitempty"`
	ProgressPaidAt      *time.Time `json:"progress_paid_at,omitempty"`
	FinalPaidAt         *time.Time `json:"final_paid_at,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// PaymentResponse is one recorded payment.
type PaymentResponse struct {
	ID           uuid.UUID            `json:"id"`
	AmountCents  int64                `json:"amount_cents"`
	PaymentStage billing.PaymentStage `json:"payment_stage"`
	NeedsReview  bool                 `json:"needs_review"`
	ReceivedAt   time.Time            `json:"received_at"`
}

// JobTriggerResult reports what a lifecycle trigger did to one linked job.
type JobTriggerResult struct {
	JobID    uuid.UUID       `json:"jobId"`
	Fact     domain.Fact     `json:"fact"`
	Changed  []domain.StepID `json:"changed"`
	Deferred []domain.StepID `json:"deferred,omitempty"`
	Error    string          `json:"error,omitempty"`
}

// ApproveResponse is returned by POST /proposals/:id/approve.
type ApproveResponse struct {
	Proposal        ProposalResponse   `json:"proposal"`
	AlreadyApproved bool               `json:"alreadyApproved"`
	Jobs            []JobTriggerResult `json:"jobs"`
}

// RecordPaymentResponse is returned by POST /proposals/:id/payments.
type RecordPaymentResponse struct {
	Payment    PaymentResponse        `json:"payment"`
	Candidates []billing.PaymentStage `json:"candidates,omitempty"`
	Proposal   ProposalResponse       `json:"proposal"`
	Jobs       []JobTriggerResult     `json:"jobs"`
}

// PaymentListResponse wraps the payments of a proposal.
type PaymentListResponse struct {
	Items []PaymentResponse `json:"items"`
}
