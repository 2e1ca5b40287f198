package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"fieldops_backend/internal/billing"
	"fieldops_backend/internal/events"
	"fieldops_backend/internal/proposals/repository"
	"fieldops_backend/internal/proposals/transport"
	"fieldops_backend/internal/stages/domain"
	"fieldops_backend/platform/logger"
)

// StageTrigger runs a lifecycle trigger on every job linked to a proposal.
type StageTrigger interface {
	ApplyToProposalJobs(ctx context.Context, proposalID uuid.UUID, fact domain.Fact) ([]transport.JobTriggerResult, error)
}

// Service holds the business logic for proposals and payments.
type Service struct {
	repo      repository.Repository
	triggers  StageTrigger
	bus       events.Bus
	tolerance int64
	log       *logger.Logger
	now       func() time.Time
}

// New creates a new proposals service. A non-positive tolerance falls back to
// billing.DefaultToleranceCents.
func New(repo repository.Repository, triggers StageTrigger, bus events.Bus, toleranceCents int64, log *logger.Logger) *Service {
	if toleranceCents <= 0 {
		toleranceCents = billing.DefaultToleranceCents
	}
	return &Service{
		repo:      repo,
		triggers:  triggers,
		bus:       bus,
		tolerance: toleranceCents,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create stores a new proposal.
func (s *Service) Create(ctx context.Context, req transport.CreateProposalRequest) (transport.ProposalResponse, error) {
	p := repository.Proposal{
		Title:               req.Title,
		DepositAmountCents:  req.DepositAmountCents,
		ProgressAmountCents: req.ProgressAmountCents,
		FinalAmountCents:    req.FinalAmountCents,
	}
	if err := s.repo.Create(ctx, &p); err != nil {
		return transport.ProposalResponse{}, err
	}
	return toProposalResponse(p), nil
}

// GetByID returns one proposal.
func (s *Service) GetByID(ctx context.Context, id uuid.UUID) (transport.ProposalResponse, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.ProposalResponse{}, err
	}
	return toProposalResponse(p), nil
}

// ProposalFacts returns the lifecycle facts a proposal proves.
func (s *Service) ProposalFacts(ctx context.Context, id uuid.UUID) (domain.JobFacts, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return domain.JobFacts{}, err
	}
	return domain.JobFacts{
		ProposalApprovedAt: p.ApprovedAt,
		DepositPaidAt:      p.DepositPaidAt,
		ProgressPaidAt:     p.ProgressPaidAt,
		FinalPaidAt:        p.FinalPaidAt,
	}, nil
}

// Approve records the approval once and runs the approval trigger on linked
// jobs. Repeating the call re-runs the trigger, which completes nothing new.
func (s *Service) Approve(ctx context.Context, id uuid.UUID) (transport.ApproveResponse, error) {
	p, newlyApproved, err := s.repo.MarkApproved(ctx, id, s.now())
	if err != nil {
		return transport.ApproveResponse{}, err
	}
	if newlyApproved {
		s.bus.Publish(ctx, events.ProposalApproved{BaseEvent: events.NewBaseEvent(), ProposalID: p.ID})
	}

	jobs, err := s.runTrigger(ctx, p.ID, domain.FactProposalApproved)
	if err != nil {
		return transport.ApproveResponse{}, err
	}
	return transport.ApproveResponse{
		Proposal:        toProposalResponse(p),
		AlreadyApproved: !newlyApproved,
		Jobs:            jobs,
	}, nil
}

// RecordPayment matches a received amount to a milestone, stores it and runs
// the milestone's trigger on linked jobs. Partial payments complete nothing.
func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, req transport.RecordPaymentRequest) (transport.RecordPaymentResponse, error) {
	p, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return transport.RecordPaymentResponse{}, err
	}

	match := billing.MatchPaymentStage(p.Milestones(), req.AmountCents, s.tolerance)
	if match.NeedsReview {
		s.log.Warn("payment matched ambiguously",
			"proposal_id", id,
			"amount_cents", req.AmountCents,
			"stage", match.Stage,
			"candidates", match.Candidates,
		)
	}

	payment := repository.Payment{
		ProposalID:   id,
		AmountCents:  req.AmountCents,
		PaymentStage: match.Stage,
		NeedsReview:  match.NeedsReview,
	}
	p, err = s.repo.RecordPayment(ctx, &payment)
	if err != nil {
		return transport.RecordPaymentResponse{}, err
	}

	s.bus.Publish(ctx, events.PaymentReceived{
		BaseEvent:    events.NewBaseEvent(),
		ProposalID:   id,
		PaymentID:    payment.ID,
		PaymentStage: string(payment.PaymentStage),
		AmountCents:  payment.AmountCents,
		NeedsReview:  payment.NeedsReview,
	})

	resp := transport.RecordPaymentResponse{
		Payment:    toPaymentResponse(payment),
		Candidates: match.Candidates,
		Proposal:   toProposalResponse(p),
		Jobs:       []transport.JobTriggerResult{},
	}
	if fact, ok := domain.FactForPayment(match.Stage); ok {
		resp.Jobs, err = s.runTrigger(ctx, id, fact)
		if err != nil {
			return transport.RecordPaymentResponse{}, err
		}
	}
	return resp, nil
}

// ListPayments returns the payments of a proposal.
func (s *Service) ListPayments(ctx context.Context, id uuid.UUID) (transport.PaymentListResponse, error) {
	if _, err := s.repo.GetByID(ctx, id); err != nil {
		return transport.PaymentListResponse{}, err
	}
	payments, err := s.repo.ListPayments(ctx, id)
	if err != nil {
		return transport.PaymentListResponse{}, err
	}
	resp := transport.PaymentListResponse{Items: make([]transport.PaymentResponse, 0, len(payments))}
	for _, p := range payments {
		resp.Items = append(resp.Items, toPaymentResponse(p))
	}
	return resp, nil
}

func (s *Service) runTrigger(ctx context.Context, proposalID uuid.UUID, fact domain.Fact) ([]transport.JobTriggerResult, error) {
	if s.triggers == nil {
		return []transport.JobTriggerResult{}, nil
	}
	jobs, err := s.triggers.ApplyToProposalJobs(ctx, proposalID, fact)
	if err != nil {
		return nil, err
	}
	if jobs == nil {
		jobs = []transport.JobTriggerResult{}
	}
	return jobs, nil
}

func toProposalResponse(p repository.Proposal) transport.ProposalResponse {
	return transport.ProposalResponse{
		ID:                  p.ID,
		Title:               p.Title,
		DepositAmountCents:  p.DepositAmountCents,
		ProgressAmountCents: p.ProgressAmountCents,
		FinalAmountCents:    p.FinalAmountCents,
		ApprovedAt:          p.ApprovedAt,
		DepositPaidAt:       p.DepositPaidAt,
		ProgressPaidAt:      p.ProgressPaidAt,
		FinalPaidAt:         p.FinalPaidAt,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

func toPaymentResponse(p repository.Payment) transport.PaymentResponse {
	return transport.PaymentResponse{
		ID:           p.ID,
		AmountCents:  p.AmountCents,
		PaymentStage: p.PaymentStage,
		NeedsReview:  p.NeedsReview,
		ReceivedAt:   p.ReceivedAt,
	}
}
