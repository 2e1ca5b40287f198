package domain

import (
	"errors"
	"fmt"

	"fieldops_backend/platform/apperr"
)

// IncompleteSteps is attached as details to a steps-incomplete error.
type IncompleteSteps struct {
	Stage           Stage    `json:"stage"`
	IncompleteSteps []StepID `json:"incomplete_steps"`
}

func errStepsIncomplete(s Stage, missing []StepID) error {
	return apperr.StepsIncomplete(
		fmt.Sprintf("required steps of stage %q are not complete", s),
		IncompleteSteps{Stage: s, IncompleteSteps: missing},
	)
}

func errTerminal(s Stage) error {
	return apperr.TerminalStage(fmt.Sprintf("stage %q is the final stage", s))
}

func errUnknownStep(id StepID) error {
	return apperr.Validation(fmt.Sprintf("unknown step %q", id))
}

func errUnknownStage(s Stage) error {
	return apperr.Validation(fmt.Sprintf("unknown stage %q", s))
}

// MissingSteps extracts the incomplete step ids from a steps-incomplete error.
func MissingSteps(err error) ([]StepID, bool) {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) || appErr.Kind != apperr.KindStepsIncomplete {
		return nil, false
	}
	details, ok := appErr.Details.(IncompleteSteps)
	if !ok {
		return nil, false
	}
	return details.IncompleteSteps, true
}
