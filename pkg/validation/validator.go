package validation

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateRecord checks a parsed record against its `validate` struct tags
// and reports the first violation in a readable form.
func ValidateRecord(record any) error {
	if record == nil {
		return errors.New("record cannot be nil")
	}
	if err := validate.Struct(record); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// FieldError describes one violated struct-tag rule.
type FieldError struct {
	Field string
	Rule  string
	Param string
	Value any
}

func (e *FieldError) Error() string {
	switch e.Rule {
	case "required":
		return fmt.Sprintf("%s: field is required", e.Field)
	case "min":
		return fmt.Sprintf("%s: %v must be at least %s", e.Field, e.Value, e.Param)
	case "max":
		return fmt.Sprintf("%s: %v must not exceed %s", e.Field, e.Value, e.Param)
	case "oneof":
		return fmt.Sprintf("%s: %v must be one of [%s]", e.Field, e.Value, e.Param)
	default:
		return fmt.Sprintf("%s: validation failed (%s)", e.Field, e.Rule)
	}
}

func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return err
	}
	first := validationErrs[0]
	return &FieldError{
		Field: first.Field(),
		Rule:  first.Tag(),
		Param: first.Param(),
		Value: first.Value(),
	}
}
