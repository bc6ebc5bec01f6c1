package validation

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidator_Required(t *testing.T) {
	cv := NewConfigValidator("graph")
	cv.Required("hostname", "")

	if !cv.HasErrors() {
		t.Error("Expected error for empty required field")
	}

	cv2 := NewConfigValidator("graph")
	cv2.Required("hostname", "db.internal")

	if cv2.HasErrors() {
		t.Error("Expected no error for non-empty required field")
	}
}

func TestConfigValidator_RangeInt(t *testing.T) {
	tests := []struct {
		name      string
		value     int
		expectErr bool
	}{
		{"below range", 0, true},
		{"lower bound", 1, false},
		{"upper bound", 2, false},
		{"above range", 3, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cv := NewConfigValidator("config")
			cv.RangeInt("header_rows_to_skip", tt.value, 1, 2)
			if cv.HasErrors() != tt.expectErr {
				t.Errorf("RangeInt(%d) errors = %v, want %v", tt.value, cv.Errors(), tt.expectErr)
			}
		})
	}
}

func TestConfigValidator_Positive(t *testing.T) {
	tests := []struct {
		value     int
		expectErr bool
	}{
		{-1, true},
		{0, true},
		{1, false},
		{10000, false},
	}

	for _, tt := range tests {
		cv := NewConfigValidator("config")
		cv.Positive("batch_size", tt.value)
		if cv.HasErrors() != tt.expectErr {
			t.Errorf("Positive(%d) hasErrors = %v, want %v", tt.value, cv.HasErrors(), tt.expectErr)
		}
	}
}

func TestConfigValidator_Durations(t *testing.T) {
	cv := NewConfigValidator("retry")
	cv.PositiveDuration("initial_interval", 0).
		DurationNotBelow("max_interval", time.Millisecond, time.Second)

	if got := len(cv.Errors()); got != 2 {
		t.Fatalf("Expected 2 errors, got %d: %v", got, cv.Errors())
	}
}

func TestConfigValidator_OneOf(t *testing.T) {
	cv := NewConfigValidator("graph")
	cv.OneOf("backend", "neo4j", []string{"neo4j", "memory"})
	if cv.HasErrors() {
		t.Errorf("Unexpected error: %v", cv.Validate())
	}

	cv.OneOf("backend", "arangodb", []string{"neo4j", "memory"})
	if !cv.HasErrors() {
		t.Error("Expected error for value outside allowed set")
	}
	if !strings.Contains(cv.Validate().Error(), "graph.backend") {
		t.Errorf("Error should name the field, got %q", cv.Validate())
	}
}

func TestConfigValidator_Custom(t *testing.T) {
	sentinel := errors.New("ticks must be sorted")

	cv := NewConfigValidator("source_paths")
	cv.Custom("ticks", func() error { return sentinel })

	if !errors.Is(cv.Validate(), sentinel) {
		t.Errorf("Custom error should wrap the cause, got %v", cv.Validate())
	}
}

func TestConfigValidator_When(t *testing.T) {
	cv := NewConfigValidator("graph")
	cv.When(false, func(v *ConfigValidator) {
		v.Required("hostname", "")
	})
	if cv.HasErrors() {
		t.Error("When(false) must not run validations")
	}

	cv.When(true, func(v *ConfigValidator) {
		v.Required("hostname", "")
	})
	if !cv.HasErrors() {
		t.Error("When(true) must run validations")
	}
}

func TestConfigValidator_ValidateJoinsAll(t *testing.T) {
	cv := NewConfigValidator("config")
	cv.Positive("batch_size", 0).
		RangeInt("header_rows_to_skip", 5, 1, 2).
		Required("persons", "")

	err := cv.Validate()
	if err == nil {
		t.Fatal("Expected combined error")
	}
	for _, field := range []string{"batch_size", "header_rows_to_skip", "persons"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Combined error %q is missing %s", err, field)
		}
	}
}

func TestConfigValidator_Merge(t *testing.T) {
	parent := NewConfigValidator("config")
	child := NewConfigValidator("retry").Positive("max_attempts", 0)

	parent.Merge(child)
	if !parent.HasErrors() {
		t.Error("Merge should carry child failures")
	}
}

func TestDefaultOr(t *testing.T) {
	if got := DefaultOr("", "neo4j"); got != "neo4j" {
		t.Errorf("DefaultOr(\"\") = %q", got)
	}
	if got := DefaultOr(500, 10000); got != 500 {
		t.Errorf("DefaultOr(500) = %d", got)
	}
}
