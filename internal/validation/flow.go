package validation

import "github.com/rendis/flowengine/pkg/schema"

// FlowValidator orchestrates the two-stage validation pipeline:
// 1. Structural (JSON Schema over the flow version document)
// 2. Semantic (unique names, per-kind settings, split options, block lookup)
type FlowValidator struct {
	jsonSchema *JSONSchemaValidator
	blocks     BlockLookup
}

// NewFlowValidator creates a FlowValidator.
// lookup may be nil to skip block existence checks.
func NewFlowValidator(lookup BlockLookup) (*FlowValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &FlowValidator{jsonSchema: jsv, blocks: lookup}, nil
}

// Validate runs both stages and returns an aggregated result.
// Structural errors short-circuit the semantic stage.
func (fv *FlowValidator) Validate(version *schema.FlowVersion) *schema.ValidationResult {
	if version == nil {
		r := &schema.ValidationResult{}
		r.AddError("/", schema.ErrCodeValidation, "flow version is nil")
		return r
	}

	result := validateStructural(fv.jsonSchema, version)
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(version, fv.blocks))
	return result
}

// ValidateFlowVersion satisfies the Validator interface.
func (fv *FlowValidator) ValidateFlowVersion(version *schema.FlowVersion) error {
	return fv.Validate(version).ToError()
}

// ValidateInput delegates to the underlying JSONSchemaValidator.
func (fv *FlowValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	return fv.jsonSchema.ValidateInput(input, inputSchema)
}

// validateStructural converts the JSON Schema error output into a ValidationResult.
func validateStructural(v *JSONSchemaValidator, version *schema.FlowVersion) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	err := v.ValidateFlowVersion(version)
	if err == nil {
		return result
	}

	engErr, ok := err.(*schema.EngineError)
	if !ok {
		result.AddError("/", schema.ErrCodeValidation, err.Error())
		return result
	}
	if violations, ok := engErr.Details["violations"].([]string); ok {
		for _, v := range violations {
			result.AddError("/", schema.ErrCodeValidation, v)
		}
		return result
	}
	result.AddError("/", schema.ErrCodeValidation, engErr.Message)
	return result
}

var (
	_ Validator = (*FlowValidator)(nil)
	_ Validator = (*JSONSchemaValidator)(nil)
)
