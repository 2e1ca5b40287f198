package domain

import (
	"time"

	"github.com/google/uuid"

	"fieldops_backend/internal/billing"
)

// Fact is a business event that auto-completes checklist steps.
type Fact string

const (
	FactProposalApproved   Fact = "proposal_approved"
	FactDepositPaid        Fact = "deposit_paid"
	FactProgressPaid       Fact = "progress_paid"
	FactFinalPaid          Fact = "final_paid"
	FactJobScheduled       Fact = "job_scheduled"
	FactTechnicianAssigned Fact = "technician_assigned"
)

var knownFacts = []Fact{
	FactProposalApproved,
	FactDepositPaid,
	FactProgressPaid,
	FactFinalPaid,
	FactJobScheduled,
	FactTechnicianAssigned,
}

// Valid reports whether f is a known fact.
func (f Fact) Valid() bool {
	for _, k := range knownFacts {
		if k == f {
			return true
		}
	}
	return false
}

// FactForPayment maps a matched payment milestone onto its fact. Partial
// payments complete nothing.
func FactForPayment(stage billing.PaymentStage) (Fact, bool) {
	switch stage {
	case billing.PaymentStageDeposit:
		return FactDepositPaid, true
	case billing.PaymentStageRoughIn:
		return FactProgressPaid, true
	case billing.PaymentStageFinal:
		return FactFinalPaid, true
	}
	return "", false
}

// JobFacts is what a job and its linked proposal currently prove.
type JobFacts struct {
	ProposalApprovedAt *time.Time
	DepositPaidAt      *time.Time
	ProgressPaidAt     *time.Time
	FinalPaidAt        *time.Time
	ScheduledDate      *time.Time
	TechnicianID       *uuid.UUID
}

// Active lists the facts that hold, in a fixed order.
func (f JobFacts) Active() []Fact {
	var out []Fact
	if f.ProposalApprovedAt != nil {
		out = append(out, FactProposalApproved)
	}
	if f.DepositPaidAt != nil {
		out = append(out, FactDepositPaid)
	}
	if f.ProgressPaidAt != nil {
		out = append(out, FactProgressPaid)
	}
	if f.FinalPaidAt != nil {
		out = append(out, FactFinalPaid)
	}
	if f.ScheduledDate != nil {
		out = append(out, FactJobScheduled)
	}
	if f.TechnicianID != nil {
		out = append(out, FactTechnicianAssigned)
	}
	return out
}

// TriggerResult reports what one fact did to a job.
type TriggerResult struct {
	Fact     Fact     `json:"fact"`
	Changed  []StepID `json:"changed"`
	Deferred []StepID `json:"deferred,omitempty"`
}

// ApplyFact completes every step bound to f. Triggers never advance the stage.
func (e *Engine) ApplyFact(d *StageData, f Fact, by Trigger) (TriggerResult, error) {
	res, err := e.CompleteSteps(d, e.catalog.StepsForFact(f), by)
	if err != nil {
		return TriggerResult{}, err
	}
	return TriggerResult{Fact: f, Changed: res.Changed, Deferred: res.Deferred}, nil
}

// ApplyFacts applies several facts and merges their results.
func (e *Engine) ApplyFacts(d *StageData, facts []Fact, by Trigger) (StepResult, error) {
	var merged StepResult
	for _, f := range facts {
		res, err := e.ApplyFact(d, f, by)
		if err != nil {
			return merged, err
		}
		merged.Changed = append(merged.Changed, res.Changed...)
		merged.Deferred = append(merged.Deferred, res.Deferred...)
	}
	return merged, nil
}

// Reconcile applies facts and, when autoAdvance is set, keeps advancing while
// the current stage's required steps are complete, re-applying facts after each
// move so deferred steps land in the stage they belong to.
func (e *Engine) Reconcile(d *StageData, facts []Fact, by Trigger, autoAdvance bool) (StepResult, []Stage, error) {
	res, err := e.ApplyFacts(d, facts, by)
	if err != nil {
		return res, nil, err
	}
	if !autoAdvance {
		return res, nil, nil
	}

	var advanced []Stage
	for {
		if _, ok := NextStage(d.Stage); !ok {
			break
		}
		if !e.catalog.RequiredStepsComplete(d.Stage, d.Steps) {
			break
		}
		next, err := e.Advance(d, by, nil)
		if err != nil {
			return res, advanced, err
		}
		advanced = append(advanced, next)

		again, err := e.ApplyFacts(d, facts, by)
		if err != nil {
			return res, advanced, err
		}
		res.Changed = append(res.Changed, again.Changed...)
		res.Deferred = again.Deferred
	}
	if len(advanced) == 0 {
		return res, nil, nil
	}
	return res, advanced, nil
}
