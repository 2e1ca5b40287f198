package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldops_backend/platform/apperr"
)

// Trigger records what caused a stage transition or step completion.
type Trigger string

const (
	TriggerManual   Trigger = "manual"
	TriggerAuto     Trigger = "auto"
	TriggerBackfill Trigger = "backfill"
	// TriggerOverride marks a direct stage write that skipped checklist gating.
	TriggerOverride Trigger = "override"
)

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	switch t {
	case TriggerManual, TriggerAuto, TriggerBackfill, TriggerOverride:
		return true
	}
	return false
}

// StepStatus is the per-job state of one step. A missing entry means not completed.
type StepStatus struct {
	Completed     bool       `json:"completed"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	AutoCompleted bool       `json:"auto_completed"`
}

// HistoryEntry is an immutable record of one stage transition.
type HistoryEntry struct {
	From    Stage      `json:"from_stage"`
	To      Stage      `json:"to_stage"`
	At      time.Time  `json:"at"`
	Trigger Trigger    `json:"trigger"`
	ActorID *uuid.UUID `json:"actor_id,omitempty"`
}

// StageData is the lifecycle aggregate owned by a job.
type StageData struct {
	Stage   Stage                 `json:"stage"`
	Steps   map[StepID]StepStatus `json:"stage_steps"`
	History []HistoryEntry        `json:"stage_history"`
}

// NewStageData returns the state of a freshly created job.
func NewStageData() StageData {
	return StageData{
		Stage:   StageBeginning,
		Steps:   map[StepID]StepStatus{},
		History: []HistoryEntry{},
	}
}

// Clone returns a deep copy so callers can mutate without aliasing.
func (d StageData) Clone() StageData {
	out := StageData{
		Stage:   d.Stage,
		Steps:   make(map[StepID]StepStatus, len(d.Steps)),
		History: make([]HistoryEntry, len(d.History)),
	}
	for k, v := range d.Steps {
		out.Steps[k] = v
	}
	copy(out.History, d.History)
	return out
}

// CompletedStepIDs lists completed step ids of stage s in catalog order.
func (d StageData) CompletedStepIDs(c *Catalog, s Stage) []StepID {
	var out []StepID
	for _, def := range c.StepsFor(s) {
		if d.Steps[def.ID].Completed {
			out = append(out, def.ID)
		}
	}
	return out
}

// ValidateHistory checks the chain rule: the first entry starts at beginning and
// every entry starts where the previous one ended.
func ValidateHistory(history []HistoryEntry) error {
	prev := StageBeginning
	for i, h := range history {
		if _, ok := ParseStage(string(h.From)); !ok {
			return apperr.Validation(fmt.Sprintf("stage_history[%d]: unknown from_stage %q", i, h.From))
		}
		if _, ok := ParseStage(string(h.To)); !ok {
			return apperr.Validation(fmt.Sprintf("stage_history[%d]: unknown to_stage %q", i, h.To))
		}
		if !h.Trigger.Valid() {
			return apperr.Validation(fmt.Sprintf("stage_history[%d]: unknown trigger %q", i, h.Trigger))
		}
		if h.From != prev {
			return apperr.Validation(fmt.Sprintf("stage_history[%d]: from_stage %q does not follow %q", i, h.From, prev))
		}
		prev = h.To
	}
	return nil
}

// ValidateHistoryExtends checks that next keeps every entry of current unchanged
// and only appends after it.
func ValidateHistoryExtends(current, next []HistoryEntry) error {
	if len(next) < len(current) {
		return apperr.Validation("stage_history is append-only")
	}
	for i := range current {
		if !sameEntry(current[i], next[i]) {
			return apperr.Validation(fmt.Sprintf("stage_history[%d] cannot be modified", i))
		}
	}
	return ValidateHistory(next)
}

func sameEntry(a, b HistoryEntry) bool {
	if a.From != b.From || a.To != b.To || a.Trigger != b.Trigger || !a.At.Equal(b.At) {
		return false
	}
	if (a.ActorID == nil) != (b.ActorID == nil) {
		return false
	}
	return a.ActorID == nil || *a.ActorID == *b.ActorID
}

// HighestReached is the latest stage the job has been at, counting the current
// stage and every stage history moved it to. A backward move keeps the steps
// of the stages it left, so those stages still count as visited.
func (d StageData) HighestReached() Stage {
	highest := d.Stage
	for _, h := range d.History {
		if IsEarlier(highest, h.To) {
			highest = h.To
		}
	}
	return highest
}

// ValidateSteps checks that every id is known and none belongs to a stage later
// than reached, the highest stage the job has visited.
func (c *Catalog) ValidateSteps(reached Stage, steps map[StepID]StepStatus) error {
	for id := range steps {
		owner, ok := c.StageOf(id)
		if !ok {
			return apperr.Validation(fmt.Sprintf("unknown step %q", id))
		}
		if IsEarlier(reached, owner) {
			return apperr.Validation(fmt.Sprintf("step %q belongs to stage %q which the job has not reached", id, owner))
		}
	}
	return nil
}
