// Package domain holds the job lifecycle rules: the stage catalog, the
// transition engine, the legacy status mapping and the auto-completion
// triggers. Everything here is pure and performs no I/O except loading an
// optional catalog override file.
package domain

import (
	_ "embed"
	"fmt"
	"math"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// Stage is one of the fixed, totally ordered lifecycle phases of a job.
type Stage string

const (
	StageBeginning Stage = "beginning"
	StageRoughIn   Stage = "rough_in"
	StageTrimOut   Stage = "trim_out"
	StageClosing   Stage = "closing"
	StageCompleted Stage = "completed"
)

var stageOrder = []Stage{StageBeginning, StageRoughIn, StageTrimOut, StageClosing, StageCompleted}

var stageIndex = func() map[Stage]int {
	m := make(map[Stage]int, len(stageOrder))
	for i, s := range stageOrder {
		m[s] = i
	}
	return m
}()

// StagesInOrder returns every stage, beginning first and completed last.
func StagesInOrder() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// ParseStage validates a raw stage string.
func ParseStage(raw string) (Stage, bool) {
	s := Stage(raw)
	_, ok := stageIndex[s]
	return s, ok
}

// NextStage returns the stage after s. ok is false for completed and unknown stages.
func NextStage(s Stage) (Stage, bool) {
	i, known := stageIndex[s]
	if !known || i == len(stageOrder)-1 {
		return "", false
	}
	return stageOrder[i+1], true
}

// IsEarlier reports whether a comes strictly before b.
func IsEarlier(a, b Stage) bool {
	return stageIndex[a] < stageIndex[b]
}

// StepID identifies a checklist step. The set of valid ids is closed by the catalog.
type StepID string

// StepDefinition describes one checklist step of a stage.
type StepDefinition struct {
	ID          StepID `yaml:"id" json:"id"`
	Label       string `yaml:"label" json:"label"`
	Description string `yaml:"description" json:"description,omitempty"`
	Required    bool   `yaml:"required" json:"required"`
	AutoTrigger Fact   `yaml:"auto_trigger" json:"autoTrigger,omitempty"`
}

// AutoCompletable reports whether a business fact completes this step.
func (d StepDefinition) AutoCompletable() bool {
	return d.AutoTrigger != ""
}

// StageDefinition is a stage with its display label and ordered steps.
type StageDefinition struct {
	ID    Stage            `json:"id"`
	Label string           `json:"label"`
	Steps []StepDefinition `json:"steps"`
}

// Catalog is the immutable step configuration for every stage.
type Catalog struct {
	stages    []StageDefinition
	byStage   map[Stage][]StepDefinition
	stepStage map[StepID]Stage
	byID      map[StepID]StepDefinition
}

type catalogFile struct {
	Stages []struct {
		ID    Stage            `yaml:"id"`
		Label string           `yaml:"label"`
		Steps []StepDefinition `yaml:"steps"`
	} `yaml:"stages"`
}

//go:embed catalog.yaml
var defaultCatalogYAML []byte

var (
	defaultCatalog     *Catalog
	defaultCatalogOnce sync.Once
)

// DefaultCatalog returns the catalog compiled into the binary.
func DefaultCatalog() *Catalog {
	defaultCatalogOnce.Do(func() {
		c, err := ParseCatalog(defaultCatalogYAML)
		if err != nil {
			panic(fmt.Sprintf("embedded stage catalog is invalid: %v", err))
		}
		defaultCatalog = c
	})
	return defaultCatalog
}

// LoadCatalog reads the catalog from path, or returns the default when path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stage catalog: %w", err)
	}
	return ParseCatalog(data)
}

// ParseCatalog decodes and validates a YAML catalog. The stage list must match
// the fixed stage order exactly; step ids must be unique across all stages.
func ParseCatalog(data []byte) (*Catalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode stage catalog: %w", err)
	}
	if len(file.Stages) != len(stageOrder) {
		return nil, fmt.Errorf("stage catalog must define %d stages, got %d", len(stageOrder), len(file.Stages))
	}

	c := &Catalog{
		byStage:   make(map[Stage][]StepDefinition, len(stageOrder)),
		stepStage: make(map[StepID]Stage),
		byID:      make(map[StepID]StepDefinition),
	}
	for i, st := range file.Stages {
		if st.ID != stageOrder[i] {
			return nil, fmt.Errorf("stage %d must be %q, got %q", i, stageOrder[i], st.ID)
		}
		for _, step := range st.Steps {
			if step.ID == "" {
				return nil, fmt.Errorf("stage %q has a step without id", st.ID)
			}
			if prev, dup := c.stepStage[step.ID]; dup {
				return nil, fmt.Errorf("step %q defined in both %q and %q", step.ID, prev, st.ID)
			}
			if step.AutoTrigger != "" && !step.AutoTrigger.Valid() {
				return nil, fmt.Errorf("step %q has unknown auto_trigger %q", step.ID, step.AutoTrigger)
			}
			c.stepStage[step.ID] = st.ID
			c.byID[step.ID] = step
		}
		c.byStage[st.ID] = st.Steps
		c.stages = append(c.stages, StageDefinition{ID: st.ID, Label: st.Label, Steps: st.Steps})
	}
	return c, nil
}

// Stages returns the full catalog in stage order.
func (c *Catalog) Stages() []StageDefinition {
	out := make([]StageDefinition, len(c.stages))
	copy(out, c.stages)
	return out
}

// StepsFor returns the step definitions of a stage in catalog order.
func (c *Catalog) StepsFor(s Stage) []StepDefinition {
	steps := c.byStage[s]
	out := make([]StepDefinition, len(steps))
	copy(out, steps)
	return out
}

// Step looks up a step definition by id.
func (c *Catalog) Step(id StepID) (StepDefinition, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// StageOf returns the stage a step belongs to.
func (c *Catalog) StageOf(id StepID) (Stage, bool) {
	s, ok := c.stepStage[id]
	return s, ok
}

// StepsForFact returns every step completed by the given fact, in stage order.
func (c *Catalog) StepsForFact(f Fact) []StepID {
	var out []StepID
	for _, st := range c.stages {
		for _, step := range st.Steps {
			if step.AutoTrigger == f {
				out = append(out, step.ID)
			}
		}
	}
	return out
}

// RequiredStepsComplete reports whether every required step of s is completed.
func (c *Catalog) RequiredStepsComplete(s Stage, steps map[StepID]StepStatus) bool {
	return len(c.IncompleteRequiredSteps(s, steps)) == 0
}

// IncompleteRequiredSteps lists the required steps of s that are not completed.
func (c *Catalog) IncompleteRequiredSteps(s Stage, steps map[StepID]StepStatus) []StepID {
	var missing []StepID
	for _, def := range c.byStage[s] {
		if def.Required && !steps[def.ID].Completed {
			missing = append(missing, def.ID)
		}
	}
	return missing
}

// ProgressPercent is the rounded share of completed steps among all steps of s.
// A stage without steps reports 100.
func (c *Catalog) ProgressPercent(s Stage, steps map[StepID]StepStatus) int {
	defs := c.byStage[s]
	if len(defs) == 0 {
		return 100
	}
	done := 0
	for _, def := range defs {
		if steps[def.ID].Completed {
			done++
		}
	}
	return int(math.Round(100 * float64(done) / float64(len(defs))))
}
