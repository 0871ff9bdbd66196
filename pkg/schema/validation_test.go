package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationResult_EmptyIsValid(t *testing.T) {
	r := &ValidationResult{}
	assert.True(t, r.Valid())
	assert.NoError(t, r.ToError())
}

func TestValidationResult_AddStepError(t *testing.T) {
	r := &ValidationResult{}
	r.AddStepError("step_1", ErrCodeValidation, "unknown action type")

	assert.False(t, r.Valid())
	require.Len(t, r.Errors, 1)
	assert.Equal(t, "step_1", r.Errors[0].StepName)
	assert.Equal(t, SeverityError, r.Errors[0].Severity)
}

func TestValidationResult_WarningsStayValid(t *testing.T) {
	r := &ValidationResult{}
	r.AddStepWarning("loop_1", ErrCodeValidation, "loop has no child steps")

	assert.True(t, r.Valid())
	require.Len(t, r.Warnings, 1)
	assert.Equal(t, SeverityWarning, r.Warnings[0].Severity)
}

func TestValidationResult_ToError(t *testing.T) {
	r := &ValidationResult{}
	r.AddStepError("step_1", ErrCodeValidation, "first")
	r.AddError("/trigger", ErrCodeValidation, "second")

	err := r.ToError()
	require.Error(t, err)

	var engErr *EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, ErrCodeValidation, engErr.Code)
	assert.Contains(t, engErr.Message, "2 errors")
	assert.Contains(t, engErr.Message, "step step_1: first")
	assert.Equal(t, 2, engErr.Details["error_count"])
}

func TestValidationResult_Merge(t *testing.T) {
	r1 := &ValidationResult{}
	r1.AddError("/", ErrCodeValidation, "err1")

	r2 := &ValidationResult{}
	r2.AddStepError("step_2", ErrCodeConflict, "err2")
	r2.AddStepWarning("step_3", ErrCodeValidation, "warn")

	r1.Merge(r2)
	r1.Merge(nil)

	assert.Len(t, r1.Errors, 2)
	assert.Len(t, r1.Warnings, 1)
}
