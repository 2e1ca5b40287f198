package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"fieldops_backend/platform/apperr"
)

// Engine applies checklist and stage transitions to a job's StageData.
// It never reads or writes storage; callers load, mutate and persist.
type Engine struct {
	catalog *Catalog
	now     func() time.Time
}

// NewEngine creates an engine over the given catalog.
func NewEngine(catalog *Catalog) *Engine {
	return &Engine{catalog: catalog, now: func() time.Time { return time.Now().UTC() }}
}

// WithClock replaces the time source. Used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Catalog returns the catalog the engine validates against.
func (e *Engine) Catalog() *Catalog {
	return e.catalog
}

// StepResult reports the outcome of a batch completion.
type StepResult struct {
	// Changed holds the steps that were not completed before the call.
	Changed []StepID `json:"changed"`
	// Deferred holds steps that belong to a stage the job has not reached yet.
	Deferred []StepID `json:"deferred,omitempty"`
}

// CompleteStep marks a step completed. Completing an already completed step is
// a no-op that reports changed=false. Steps of a later stage are rejected.
func (e *Engine) CompleteStep(d *StageData, id StepID, by Trigger) (bool, error) {
	owner, ok := e.catalog.StageOf(id)
	if !ok {
		return false, errUnknownStep(id)
	}
	if IsEarlier(d.Stage, owner) {
		return false, apperr.Validation(fmt.Sprintf("step %q belongs to stage %q which the job has not reached", id, owner))
	}
	return e.markComplete(d, id, by), nil
}

// CompleteSteps is the batch form used by triggers and backfill. Unknown ids fail
// the whole call before anything is applied; steps of a later stage are deferred.
func (e *Engine) CompleteSteps(d *StageData, ids []StepID, by Trigger) (StepResult, error) {
	for _, id := range ids {
		if _, ok := e.catalog.StageOf(id); !ok {
			return StepResult{}, errUnknownStep(id)
		}
	}

	var res StepResult
	for _, id := range ids {
		owner, _ := e.catalog.StageOf(id)
		if IsEarlier(d.Stage, owner) {
			res.Deferred = append(res.Deferred, id)
			continue
		}
		if e.markComplete(d, id, by) {
			res.Changed = append(res.Changed, id)
		}
	}
	return res, nil
}

func (e *Engine) markComplete(d *StageData, id StepID, by Trigger) bool {
	if d.Steps == nil {
		d.Steps = map[StepID]StepStatus{}
	}
	if d.Steps[id].Completed {
		return false
	}
	at := e.now()
	d.Steps[id] = StepStatus{Completed: true, CompletedAt: &at, AutoCompleted: by != TriggerManual}
	return true
}

// UncompleteStep clears a step of the current stage. Clearing a step that is not
// completed is a no-op.
func (e *Engine) UncompleteStep(d *StageData, id StepID) (bool, error) {
	owner, ok := e.catalog.StageOf(id)
	if !ok {
		return false, errUnknownStep(id)
	}
	if owner != d.Stage {
		return false, apperr.Validation(fmt.Sprintf("step %q does not belong to the current stage %q", id, d.Stage))
	}
	if _, present := d.Steps[id]; !present {
		return false, nil
	}
	delete(d.Steps, id)
	return true, nil
}

// Advance moves the job to the next stage when every required step of the
// current stage is complete, and appends a history entry.
func (e *Engine) Advance(d *StageData, by Trigger, actor *uuid.UUID) (Stage, error) {
	if _, ok := ParseStage(string(d.Stage)); !ok {
		return d.Stage, errUnknownStage(d.Stage)
	}
	next, ok := NextStage(d.Stage)
	if !ok {
		return d.Stage, errTerminal(d.Stage)
	}
	if missing := e.catalog.IncompleteRequiredSteps(d.Stage, d.Steps); len(missing) > 0 {
		return d.Stage, errStepsIncomplete(d.Stage, missing)
	}
	e.transition(d, next, by, actor)
	return next, nil
}

// ForceStage sets the stage unconditionally and records an override entry.
// It is the audited path for direct stage writes such as kanban drags.
func (e *Engine) ForceStage(d *StageData, target Stage, actor *uuid.UUID) (bool, error) {
	if _, ok := ParseStage(string(target)); !ok {
		return false, errUnknownStage(target)
	}
	if d.Stage == target {
		return false, nil
	}
	e.transition(d, target, TriggerOverride, actor)
	return true, nil
}

func (e *Engine) transition(d *StageData, to Stage, by Trigger, actor *uuid.UUID) {
	d.History = append(d.History, HistoryEntry{
		From:    d.Stage,
		To:      to,
		At:      e.now(),
		Trigger: by,
		ActorID: actor,
	})
	d.Stage = to
}
