// Package validator provides struct validation utilities with custom validators.
package validator

import (
	stderrors "errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/deplai/api/pkg/domain/run"
)

// Validator wraps the go-playground validator with custom validations.
type Validator struct {
	validate *validator.Validate
}

// ValidationError represents a single field validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

// Error implements the error interface.
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, e := range v {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(fmt.Sprintf("%s: %s", e.Field, e.Message))
	}
	return sb.String()
}

// New creates a new Validator with custom validators registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	_ = v.RegisterValidation("scan_type", validateScanType)
	_ = v.RegisterValidation("trigger", validateTrigger)
	_ = v.RegisterValidation("severity", validateSeverity)
	_ = v.RegisterValidation("run_status", validateRunStatus)

	return &Validator{validate: v}
}

// Validate validates a struct and returns ValidationErrors if validation fails.
func (v *Validator) Validate(s interface{}) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !stderrors.As(err, &validationErrors) {
		return err
	}

	result := make(ValidationErrors, 0, len(validationErrors))
	for _, e := range validationErrors {
		result = append(result, ValidationError{
			Field:   toSnakeCase(e.Field()),
			Message: formatErrorMessage(e),
		})
	}

	return result
}

// validateScanType validates that a string is a valid ScanType.
func validateScanType(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	return run.ScanType(value).IsValid()
}

// validateTrigger validates that a string is a valid run Trigger.
func validateTrigger(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	switch run.Trigger(value) {
	case run.TriggerManual, run.TriggerPush, run.TriggerPullRequest:
		return true
	}
	return false
}

// validateSeverity validates that a string is a recognized severity bucket.
func validateSeverity(fl validator.FieldLevel) bool {
	value := strings.ToLower(fl.Field().String())
	if value == "" {
		return true // Let 'required' handle empty values
	}
	for _, b := range run.SeverityBuckets {
		if value == b {
			return true
		}
	}
	return false
}

// validateRunStatus validates that a string is a valid run Status.
func validateRunStatus(fl validator.FieldLevel) bool {
	value := fl.Field().String()
	if value == "" {
		return true // Let 'required' handle empty values
	}
	switch run.Status(value) {
	case run.StatusPending, run.StatusRunning, run.StatusCompleted, run.StatusFailed:
		return true
	}
	return false
}

// formatErrorMessage converts validation errors to human-readable messages.
func formatErrorMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s characters", e.Param())
	case "max":
		return fmt.Sprintf("must be at most %s characters", e.Param())
	case "url":
		return "must be a valid URL"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", e.Param())
	case "scan_type":
		return "must be a valid scan type (full, sast, dast, sca)"
	case "trigger":
		return "must be a valid trigger (manual, push, pull_request)"
	case "severity":
		return "must be a recognized severity (critical, high, medium, low)"
	case "run_status":
		return "must be a valid run status"
	default:
		return fmt.Sprintf("failed %s validation", e.Tag())
	}
}

// toSnakeCase converts a CamelCase field name to snake_case.
func toSnakeCase(s string) string {
	var sb strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				sb.WriteRune('_')
			}
			sb.WriteRune(unicode.ToLower(r))
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}
