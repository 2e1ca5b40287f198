package domain

import (
	"fmt"

	"fieldops_backend/platform/apperr"
)

// Status is the legacy job status label still used by list filters and kanban columns.
type Status string

const (
	StatusNew               Status = "new"
	StatusEstimateSent      Status = "estimate_sent"
	StatusApproved          Status = "approved"
	StatusDepositPaid       Status = "deposit_paid"
	StatusScheduled         Status = "scheduled"
	StatusWorkingOnIt       Status = "working_on_it"
	StatusRoughInInspection Status = "rough_in_inspection"
	StatusOnHold            Status = "on_hold"
	StatusTrimOut           Status = "trim_out"
	StatusFinalInspection   Status = "final_inspection"
	StatusPunchList         Status = "punch_list"
	StatusInvoiced          Status = "invoiced"
	StatusPaid              Status = "paid"
	StatusCompleted         Status = "completed"
)

// statusOrder lists legacy statuses grouped by stage.
var statusOrder = []Status{
	StatusNew,
	StatusEstimateSent,
	StatusApproved,
	StatusDepositPaid,
	StatusScheduled,
	StatusWorkingOnIt,
	StatusRoughInInspection,
	StatusOnHold,
	StatusTrimOut,
	StatusFinalInspection,
	StatusPunchList,
	StatusInvoiced,
	StatusPaid,
	StatusCompleted,
}

// statusStage is many-to-one: every legacy status belongs to exactly one stage.
var statusStage = map[Status]Stage{
	StatusNew:               StageBeginning,
	StatusEstimateSent:      StageBeginning,
	StatusApproved:          StageBeginning,
	StatusDepositPaid:       StageBeginning,
	StatusScheduled:         StageBeginning,
	StatusWorkingOnIt:       StageRoughIn,
	StatusRoughInInspection: StageRoughIn,
	StatusOnHold:            StageRoughIn,
	StatusTrimOut:           StageTrimOut,
	StatusFinalInspection:   StageTrimOut,
	StatusPunchList:         StageClosing,
	StatusInvoiced:          StageClosing,
	StatusPaid:              StageCompleted,
	StatusCompleted:         StageCompleted,
}

// canonicalStatus is one-to-one and intentionally not the inverse of statusStage.
var canonicalStatus = map[Stage]Status{
	StageBeginning: StatusNew,
	StageRoughIn:   StatusWorkingOnIt,
	StageTrimOut:   StatusTrimOut,
	StageClosing:   StatusInvoiced,
	StageCompleted: StatusCompleted,
}

// ParseStatus validates a raw legacy status.
func ParseStatus(raw string) (Status, bool) {
	s := Status(raw)
	_, ok := statusStage[s]
	return s, ok
}

// Statuses returns every legacy status.
func Statuses() []Status {
	out := make([]Status, len(statusOrder))
	copy(out, statusOrder)
	return out
}

// StageForStatus maps a legacy status onto its stage.
func StageForStatus(s Status) (Stage, bool) {
	st, ok := statusStage[s]
	return st, ok
}

// CanonicalStatus is the default status written when stage is the authoritative field.
func CanonicalStatus(s Stage) (Status, bool) {
	st, ok := canonicalStatus[s]
	return st, ok
}

// ChangedField names which of the two representations the caller wrote.
type ChangedField string

const (
	ChangedStatus ChangedField = "status"
	ChangedStage  ChangedField = "stage"
)

// SyncResult is the reconciled pair.
type SyncResult struct {
	Status Status
	Stage  Stage
}

// Sync derives the other field from the authoritative one. Step data is never
// touched: a status write may leave steps that under- or over-represent the new stage.
func Sync(status Status, stage Stage, changed ChangedField) (SyncResult, error) {
	switch changed {
	case ChangedStatus:
		st, ok := StageForStatus(status)
		if !ok {
			return SyncResult{}, apperr.Validation(fmt.Sprintf("unknown status %q", status))
		}
		return SyncResult{Status: status, Stage: st}, nil
	case ChangedStage:
		s, ok := CanonicalStatus(stage)
		if !ok {
			return SyncResult{}, errUnknownStage(stage)
		}
		return SyncResult{Status: s, Stage: stage}, nil
	default:
		return SyncResult{}, apperr.Validation(fmt.Sprintf("unknown changed field %q", changed))
	}
}
