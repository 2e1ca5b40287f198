package domain

import (
	"strings"
	"testing"
)

func TestStageOrdering(t *testing.T) {
	stages := StagesInOrder()
	if stages[0] != StageBeginning || stages[len(stages)-1] != StageCompleted {
		t.Fatalf("unexpected stage order %v", stages)
	}
	for i := 0; i < len(stages)-1; i++ {
		next, ok := NextStage(stages[i])
		if !ok || next != stages[i+1] {
			t.Fatalf("NextStage(%s) = %s, %v", stages[i], next, ok)
		}
		if !IsEarlier(stages[i], stages[i+1]) || IsEarlier(stages[i+1], stages[i]) {
			t.Fatalf("IsEarlier inconsistent for %s/%s", stages[i], stages[i+1])
		}
	}
	if _, ok := NextStage(StageCompleted); ok {
		t.Fatal("expected no stage after completed")
	}
}

func TestRequiredStepsAreSubsetOfStageSteps(t *testing.T) {
	c := DefaultCatalog()
	for _, s := range StagesInOrder() {
		all := map[StepID]bool{}
		for _, def := range c.StepsFor(s) {
			all[def.ID] = true
		}
		for _, missing := range c.IncompleteRequiredSteps(s, nil) {
			if !all[missing] {
				t.Fatalf("required step %s is not a step of %s", missing, s)
			}
		}
	}
}

func TestDefaultCatalogBindsEveryFact(t *testing.T) {
	c := DefaultCatalog()
	for _, f := range knownFacts {
		if len(c.StepsForFact(f)) == 0 {
			t.Errorf("fact %s completes no step", f)
		}
	}
	def, ok := c.Step("customer_confirmed")
	if !ok || !def.AutoCompletable() || def.AutoTrigger != FactProposalApproved {
		t.Fatalf("unexpected customer_confirmed definition %+v", def)
	}
	if manual, _ := c.Step("rough_in_started"); manual.AutoCompletable() {
		t.Fatal("rough_in_started must be manual")
	}
}

func TestProgressPercent(t *testing.T) {
	c := DefaultCatalog()
	steps := map[StepID]StepStatus{}

	if got := c.ProgressPercent(StageRoughIn, steps); got != 0 {
		t.Fatalf("expected 0 for empty steps, got %d", got)
	}

	prev := 0
	defs := c.StepsFor(StageRoughIn)
	for i, def := range defs {
		steps[def.ID] = StepStatus{Completed: true}
		got := c.ProgressPercent(StageRoughIn, steps)
		if got < prev {
			t.Fatalf("progress decreased from %d to %d", prev, got)
		}
		if i < len(defs)-1 && got == 100 {
			t.Fatalf("progress reached 100 with %d of %d steps", i+1, len(defs))
		}
		prev = got
	}
	if prev != 100 {
		t.Fatalf("expected 100 when every step is complete, got %d", prev)
	}
}

func TestProgressPercentCountsOptionalSteps(t *testing.T) {
	c := DefaultCatalog()
	steps := map[StepID]StepStatus{}
	for _, def := range c.StepsFor(StageTrimOut) {
		if def.Required {
			steps[def.ID] = StepStatus{Completed: true}
		}
	}
	if got := c.ProgressPercent(StageTrimOut, steps); got != 67 {
		t.Fatalf("expected 67 with 2 of 3 steps, got %d", got)
	}
	if !c.RequiredStepsComplete(StageTrimOut, steps) {
		t.Fatal("expected required steps complete")
	}
}

func TestProgressPercentCompletedStage(t *testing.T) {
	if got := DefaultCatalog().ProgressPercent(StageCompleted, nil); got != 100 {
		t.Fatalf("expected 100 for completed, got %d", got)
	}
}

func TestParseCatalogRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"wrong order": `
stages:
  - id: rough_in
  - id: beginning
  - id: trim_out
  - id: closing
  - id: completed
`,
		"missing stage": `
stages:
  - id: beginning
`,
		"duplicate step": `
stages:
  - id: beginning
    steps: [{id: a}]
  - id: rough_in
    steps: [{id: a}]
  - id: trim_out
  - id: closing
  - id: completed
`,
		"unknown trigger": `
stages:
  - id: beginning
    steps: [{id: a, auto_trigger: invoice_opened}]
  - id: rough_in
  - id: trim_out
  - id: closing
  - id: completed
`,
	}

	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalog([]byte(strings.TrimSpace(doc))); err == nil {
				t.Fatal("expected parse error")
			}
		})
	}
}

func TestLoadCatalogEmptyPathUsesDefault(t *testing.T) {
	c, err := LoadCatalog("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c != DefaultCatalog() {
		t.Fatal("expected default catalog")
	}
}
