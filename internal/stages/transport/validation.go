package transport

import (
	"github.com/go-playground/validator/v10"

	"fieldops_backend/internal/stages/domain"
	appvalidator "fieldops_backend/platform/validator"
)

// RegisterValidations adds the job_stage and job_status tags.
func RegisterValidations(val *appvalidator.Validator) error {
	if err := val.RegisterValidation("job_stage", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseStage(fl.Field().String())
		return ok
	}); err != nil {
		return err
	}
	return val.RegisterValidation("job_status", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseStatus(fl.Field().String())
		return ok
	})
}
