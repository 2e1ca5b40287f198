// Package events defines the job lifecycle and billing events exchanged by
// modules. The bus itself lives in platform/events.
package events

import (
	"fieldops_backend/platform/events"
	"fieldops_backend/platform/logger"

	"github.com/google/uuid"
)

type (
	Event       = events.Event
	Bus         = events.Bus
	Handler     = events.Handler
	HandlerFunc = events.HandlerFunc
	BaseEvent   = events.BaseEvent
	InMemoryBus = events.InMemoryBus
)

var NewBaseEvent = events.NewBaseEvent

func NewInMemoryBus(log *logger.Logger) *InMemoryBus {
	return events.NewInMemoryBus(log)
}

// =============================================================================
// Job Lifecycle Events
// =============================================================================

// JobStageChanged is published after a job's stage was persisted with a new value.
type JobStageChanged struct {
	BaseEvent
	JobID   uuid.UUID  `json:"jobId"`
	From    string     `json:"fromStage"`
	To      string     `json:"toStage"`
	Trigger string     `json:"trigger"`
	ActorID *uuid.UUID `json:"actorId,omitempty"`
}

func (e JobStageChanged) EventName() string { return "jobs.stage.changed" }

// JobStepsCompleted is published when one or more checklist steps were newly completed.
type JobStepsCompleted struct {
	BaseEvent
	JobID  uuid.UUID  `json:"jobId"`
	Stage  string     `json:"stage"`
	Steps  []string   `json:"steps"`
	Auto   bool       `json:"auto"`
	Source string     `json:"source"` // trigger fact or "checklist"
	Actor  *uuid.UUID `json:"actorId,omitempty"`
}

func (e JobStepsCompleted) EventName() string { return "jobs.steps.completed" }

// =============================================================================
// Proposal Events
// =============================================================================

// ProposalApproved is published the first time a proposal is approved.
type ProposalApproved struct {
	BaseEvent
	ProposalID uuid.UUID `json:"proposalId"`
}

func (e ProposalApproved) EventName() string { return "proposals.approved" }

// PaymentReceived is published after a payment was recorded and matched to a milestone.
type PaymentReceived struct {
	BaseEvent
	ProposalID   uuid.UUID `json:"proposalId"`
	PaymentID    uuid.UUID `json:"paymentId"`
	PaymentStage string    `json:"paymentStage"`
	AmountCents  int64     `json:"amountCents"`
	NeedsReview  bool      `json:"needsReview"`
}

func (e PaymentReceived) EventName() string { return "proposals.payment.received" }
