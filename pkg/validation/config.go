package validation

import (
	"errors"
	"fmt"
	"time"
)

// ConfigValidator checks configuration fields fluently and collects every
// failure instead of stopping at the first one.
type ConfigValidator struct {
	section string
	errs    []error
}

// NewConfigValidator creates a validator whose messages are prefixed with
// the given config section.
func NewConfigValidator(section string) *ConfigValidator {
	return &ConfigValidator{section: section}
}

func (cv *ConfigValidator) fail(field, format string, args ...any) *ConfigValidator {
	cv.errs = append(cv.errs, fmt.Errorf("%s.%s: %s", cv.section, field, fmt.Sprintf(format, args...)))
	return cv
}

// Required fails when value is empty.
func (cv *ConfigValidator) Required(field, value string) *ConfigValidator {
	if value == "" {
		return cv.fail(field, "required field is empty")
	}
	return cv
}

// Positive fails unless value > 0.
func (cv *ConfigValidator) Positive(field string, value int) *ConfigValidator {
	if value <= 0 {
		return cv.fail(field, "value %d must be positive", value)
	}
	return cv
}

// NonNegative fails when value < 0.
func (cv *ConfigValidator) NonNegative(field string, value int) *ConfigValidator {
	if value < 0 {
		return cv.fail(field, "value %d must be non-negative", value)
	}
	return cv
}

// RangeInt fails unless min <= value <= max.
func (cv *ConfigValidator) RangeInt(field string, value, min, max int) *ConfigValidator {
	if value < min || value > max {
		return cv.fail(field, "value %d is outside range [%d, %d]", value, min, max)
	}
	return cv
}

// MinFloat fails when value < min.
func (cv *ConfigValidator) MinFloat(field string, value, min float64) *ConfigValidator {
	if value < min {
		return cv.fail(field, "value %g is below minimum %g", value, min)
	}
	return cv
}

// PositiveDuration fails unless value > 0.
func (cv *ConfigValidator) PositiveDuration(field string, value time.Duration) *ConfigValidator {
	if value <= 0 {
		return cv.fail(field, "duration %v must be positive", value)
	}
	return cv
}

// DurationNotBelow fails when value < floor.
func (cv *ConfigValidator) DurationNotBelow(field string, value, floor time.Duration) *ConfigValidator {
	if value < floor {
		return cv.fail(field, "duration %v is below %v", value, floor)
	}
	return cv
}

// OneOf fails unless value is in allowed.
func (cv *ConfigValidator) OneOf(field, value string, allowed []string) *ConfigValidator {
	for _, a := range allowed {
		if value == a {
			return cv
		}
	}
	return cv.fail(field, "value %q must be one of %v", value, allowed)
}

// Custom records the error returned by fn, if any.
func (cv *ConfigValidator) Custom(field string, fn func() error) *ConfigValidator {
	if err := fn(); err != nil {
		cv.errs = append(cv.errs, fmt.Errorf("%s.%s: %w", cv.section, field, err))
	}
	return cv
}

// When runs validations only if condition holds.
func (cv *ConfigValidator) When(condition bool, validations func(*ConfigValidator)) *ConfigValidator {
	if condition {
		validations(cv)
	}
	return cv
}

// Merge appends the failures collected by other.
func (cv *ConfigValidator) Merge(other *ConfigValidator) *ConfigValidator {
	cv.errs = append(cv.errs, other.errs...)
	return cv
}

// HasErrors reports whether any check failed.
func (cv *ConfigValidator) HasErrors() bool {
	return len(cv.errs) > 0
}

// Errors returns every failure in the order checks ran.
func (cv *ConfigValidator) Errors() []error {
	return cv.errs
}

// Validate returns nil, the single failure, or all failures joined.
func (cv *ConfigValidator) Validate() error {
	switch len(cv.errs) {
	case 0:
		return nil
	case 1:
		return cv.errs[0]
	default:
		return fmt.Errorf("%s: %d invalid fields: %w", cv.section, len(cv.errs), errors.Join(cv.errs...))
	}
}

// DefaultOr returns value unless it is the zero value.
func DefaultOr[T comparable](value, fallback T) T {
	var zero T
	if value == zero {
		return fallback
	}
	return value
}
