package domain

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"fieldops_backend/platform/apperr"
)

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(DefaultCatalog()).WithClock(func() time.Time { return fixedNow })
}

const twoStepCatalog = `
stages:
  - id: beginning
    steps:
      - {id: intake, required: true}
  - id: rough_in
    steps:
      - {id: A, required: true}
      - {id: B, required: true}
      - {id: notes, required: false}
  - id: trim_out
    steps:
      - {id: trim, required: true}
  - id: closing
    steps: []
  - id: completed
    steps: []
`

func TestCompleteStepIsIdempotent(t *testing.T) {
	e := newTestEngine()
	d := NewStageData()

	changed, err := e.CompleteStep(&d, "permits_filed", TriggerManual)
	if err != nil || !changed {
		t.Fatalf("first completion: changed=%v err=%v", changed, err)
	}
	once := d.Clone()

	e.WithClock(func() time.Time { return fixedNow.Add(time.Hour) })
	changed, err = e.CompleteStep(&d, "permits_filed", TriggerManual)
	if err != nil || changed {
		t.Fatalf("second completion: changed=%v err=%v", changed, err)
	}
	if !reflect.DeepEqual(once, d) {
		t.Fatalf("second completion mutated state:\n%+v\n%+v", once, d)
	}
	if d.Steps["permits_filed"].AutoCompleted {
		t.Fatal("manual completion must not be flagged auto")
	}
}

func TestCompleteStepRejectsUnknownAndFutureSteps(t *testing.T) {
	e := newTestEngine()
	d := NewStageData()

	if _, err := e.CompleteStep(&d, "does_not_exist", TriggerManual); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for unknown step, got %v", err)
	}
	if _, err := e.CompleteStep(&d, "trim_out_completed", TriggerManual); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for future step, got %v", err)
	}
	if len(d.Steps) != 0 {
		t.Fatalf("expected no steps recorded, got %v", d.Steps)
	}
}

func TestCompleteStepAllowsPreviousStage(t *testing.T) {
	e := newTestEngine()
	d := StageData{Stage: StageRoughIn, Steps: map[StepID]StepStatus{}}

	if changed, err := e.CompleteStep(&d, "materials_ordered", TriggerManual); err != nil || !changed {
		t.Fatalf("expected completing a past stage step to succeed, changed=%v err=%v", changed, err)
	}
}

func TestCompleteStepsDefersFutureStage(t *testing.T) {
	e := newTestEngine()
	d := NewStageData()

	res, err := e.CompleteSteps(&d, []StepID{"customer_confirmed", "progress_payment_received"}, TriggerAuto)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(res.Changed, []StepID{"customer_confirmed"}) {
		t.Fatalf("unexpected changed %v", res.Changed)
	}
	if !reflect.DeepEqual(res.Deferred, []StepID{"progress_payment_received"}) {
		t.Fatalf("unexpected deferred %v", res.Deferred)
	}
	if _, present := d.Steps["progress_payment_received"]; present {
		t.Fatal("future step must not be recorded")
	}
}

func TestCompleteStepsUnknownIDAppliesNothing(t *testing.T) {
	e := newTestEngine()
	d := NewStageData()

	if _, err := e.CompleteSteps(&d, []StepID{"customer_confirmed", "bogus"}, TriggerAuto); err == nil {
		t.Fatal("expected error")
	}
	if len(d.Steps) != 0 {
		t.Fatalf("expected nothing applied, got %v", d.Steps)
	}
}

func TestUncompleteStepCurrentStageOnly(t *testing.T) {
	e := newTestEngine()
	d := StageData{Stage: StageRoughIn, Steps: map[StepID]StepStatus{
		"customer_confirmed": {Completed: true},
		"rough_in_started":   {Completed: true},
	}}

	if _, err := e.UncompleteStep(&d, "customer_confirmed"); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for past stage step, got %v", err)
	}
	changed, err := e.UncompleteStep(&d, "rough_in_started")
	if err != nil || !changed {
		t.Fatalf("expected uncomplete to succeed, changed=%v err=%v", changed, err)
	}
	if _, present := d.Steps["rough_in_started"]; present {
		t.Fatal("expected entry to be cleared")
	}
	if changed, _ := e.UncompleteStep(&d, "rough_in_started"); changed {
		t.Fatal("expected second uncomplete to be a no-op")
	}
}

func TestAdvanceBlockedByIncompleteRequiredSteps(t *testing.T) {
	c, err := ParseCatalog([]byte(twoStepCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	e := NewEngine(c)
	d := StageData{Stage: StageRoughIn, Steps: map[StepID]StepStatus{"A": {Completed: true}}}

	_, err = e.Advance(&d, TriggerManual, nil)
	if !apperr.Is(err, apperr.KindStepsIncomplete) {
		t.Fatalf("expected steps incomplete error, got %v", err)
	}
	missing, ok := MissingSteps(err)
	if !ok || !reflect.DeepEqual(missing, []StepID{"B"}) {
		t.Fatalf("expected missing [B], got %v", missing)
	}
	if d.Stage != StageRoughIn || len(d.History) != 0 {
		t.Fatalf("stage or history changed: %+v", d)
	}
}

func TestAdvanceSucceedsIffRequiredComplete(t *testing.T) {
	c, err := ParseCatalog([]byte(twoStepCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	e := NewEngine(c).WithClock(func() time.Time { return fixedNow })

	subsets := []map[StepID]StepStatus{
		{},
		{"A": {Completed: true}},
		{"B": {Completed: true}, "notes": {Completed: true}},
		{"A": {Completed: true}, "B": {Completed: true}},
		{"A": {Completed: true}, "B": {Completed: false}},
	}
	for _, steps := range subsets {
		d := StageData{Stage: StageRoughIn, Steps: steps}
		want := c.RequiredStepsComplete(StageRoughIn, steps)
		next, err := e.Advance(&d, TriggerManual, nil)
		if want {
			if err != nil || next != StageTrimOut || d.Stage != StageTrimOut {
				t.Fatalf("steps %v: expected advance to trim_out, got %s %v", steps, next, err)
			}
			entry := d.History[len(d.History)-1]
			if entry.From != StageRoughIn || entry.To != StageTrimOut || entry.Trigger != TriggerManual || !entry.At.Equal(fixedNow) {
				t.Fatalf("unexpected history entry %+v", entry)
			}
		} else if !apperr.Is(err, apperr.KindStepsIncomplete) {
			t.Fatalf("steps %v: expected steps incomplete, got %v", steps, err)
		}
	}
}

func TestAdvanceTerminal(t *testing.T) {
	e := newTestEngine()
	d := StageData{Stage: StageCompleted}

	if _, err := e.Advance(&d, TriggerManual, nil); !apperr.Is(err, apperr.KindTerminalStage) {
		t.Fatalf("expected terminal stage error, got %v", err)
	}
}

func TestAdvanceKeepsHistoryChain(t *testing.T) {
	c, err := ParseCatalog([]byte(twoStepCatalog))
	if err != nil {
		t.Fatalf("parse catalog: %v", err)
	}
	e := NewEngine(c)
	d := NewStageData()
	all := map[StepID]StepStatus{
		"intake": {Completed: true}, "A": {Completed: true}, "B": {Completed: true}, "trim": {Completed: true},
	}
	d.Steps = all

	for {
		if _, err := e.Advance(&d, TriggerManual, nil); err != nil {
			if !apperr.Is(err, apperr.KindTerminalStage) {
				t.Fatalf("unexpected error: %v", err)
			}
			break
		}
	}
	if d.Stage != StageCompleted || len(d.History) != 4 {
		t.Fatalf("expected 4 transitions to completed, got %s with %d", d.Stage, len(d.History))
	}
	if err := ValidateHistory(d.History); err != nil {
		t.Fatalf("history chain broken: %v", err)
	}
}

func TestForceStageRecordsOverride(t *testing.T) {
	e := newTestEngine()
	d := NewStageData()
	actor := uuid.New()

	changed, err := e.ForceStage(&d, StageTrimOut, &actor)
	if err != nil || !changed {
		t.Fatalf("expected force to succeed, changed=%v err=%v", changed, err)
	}
	entry := d.History[0]
	if entry.Trigger != TriggerOverride || entry.ActorID == nil || *entry.ActorID != actor {
		t.Fatalf("unexpected override entry %+v", entry)
	}

	changed, err = e.ForceStage(&d, StageTrimOut, &actor)
	if err != nil || changed || len(d.History) != 1 {
		t.Fatalf("expected same-stage force to be a no-op, changed=%v len=%d", changed, len(d.History))
	}
	if _, err := e.ForceStage(&d, Stage("demolition"), nil); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected validation error for unknown stage, got %v", err)
	}
}

func TestMovingBackKeepsCompletionsOfLaterStages(t *testing.T) {
	e := newTestEngine()
	d := NewStageData()
	if _, err := e.ForceStage(&d, StageRoughIn, nil); err != nil {
		t.Fatalf("force: %v", err)
	}
	if _, err := e.CompleteStep(&d, "rough_in_started", TriggerManual); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := e.ForceStage(&d, StageBeginning, nil); err != nil {
		t.Fatalf("force back: %v", err)
	}

	if got := d.HighestReached(); got != StageRoughIn {
		t.Fatalf("expected rough_in as highest reached, got %s", got)
	}
	if err := e.Catalog().ValidateSteps(d.HighestReached(), d.Steps); err != nil {
		t.Fatalf("stored steps must stay valid: %v", err)
	}
	if err := e.Catalog().ValidateSteps(d.HighestReached(), map[StepID]StepStatus{"trim_out_completed": {}}); !apperr.Is(err, apperr.KindValidation) {
		t.Fatalf("expected unreached stage step rejected, got %v", err)
	}

	for _, def := range e.Catalog().StepsFor(StageBeginning) {
		if def.Required {
			e.markComplete(&d, def.ID, TriggerManual)
		}
	}
	if _, err := e.Advance(&d, TriggerManual, nil); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if !d.Steps["rough_in_started"].Completed {
		t.Fatal("completions of a revisited stage are kept")
	}
}

func TestValidateHistoryExtends(t *testing.T) {
	current := []HistoryEntry{{From: StageBeginning, To: StageRoughIn, At: fixedNow, Trigger: TriggerManual}}

	appended := append([]HistoryEntry{}, current...)
	appended = append(appended, HistoryEntry{From: StageRoughIn, To: StageTrimOut, At: fixedNow, Trigger: TriggerManual})
	if err := ValidateHistoryExtends(current, appended); err != nil {
		t.Fatalf("expected valid extension, got %v", err)
	}

	if err := ValidateHistoryExtends(current, nil); err == nil {
		t.Fatal("expected truncation to be rejected")
	}

	edited := []HistoryEntry{{From: StageBeginning, To: StageClosing, At: fixedNow, Trigger: TriggerManual}}
	if err := ValidateHistoryExtends(current, edited); err == nil {
		t.Fatal("expected edit to be rejected")
	}

	broken := append([]HistoryEntry{}, current...)
	broken = append(broken, HistoryEntry{From: StageClosing, To: StageCompleted, At: fixedNow, Trigger: TriggerManual})
	if err := ValidateHistoryExtends(current, broken); err == nil {
		t.Fatal("expected broken chain to be rejected")
	}
}
