package schema

import "fmt"

// ValidationSeverity indicates whether an issue is an error or warning.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is a single problem found in a flow version.
// Path is a JSON pointer into the document; StepName is set when the issue
// belongs to a specific step.
type ValidationIssue struct {
	Path     string             `json:"path"`
	StepName string             `json:"step_name,omitempty"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// ValidationResult aggregates the issues of every validation stage.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid returns true if there are no errors (warnings are acceptable).
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError appends an error-severity issue.
func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddStepError appends an error-severity issue attached to a step.
func (r *ValidationResult) AddStepError(stepName, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		StepName: stepName, Code: code, Message: message, Severity: SeverityError,
	})
}

// AddStepWarning appends a warning attached to a step.
func (r *ValidationResult) AddStepWarning(stepName, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		StepName: stepName, Code: code, Message: message, Severity: SeverityWarning,
	})
}

// Merge combines another ValidationResult into this one.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError converts the result to an EngineError if invalid, nil if valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	first := r.Errors[0]
	msg := first.Message
	if first.StepName != "" {
		msg = fmt.Sprintf("step %s: %s", first.StepName, first.Message)
	}
	if len(r.Errors) > 1 {
		msg = fmt.Sprintf("flow version is invalid: %d errors, first: %s", len(r.Errors), msg)
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"error_count":   len(r.Errors),
			"warning_count": len(r.Warnings),
			"errors":        r.Errors,
			"warnings":      r.Warnings,
		})
}
