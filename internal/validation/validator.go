package validation

import "github.com/rendis/flowengine/pkg/schema"

// Validator checks flow versions for correctness before execution.
// Uses JSON Schema Draft 2020-12 for document and block input validation.
type Validator interface {
	ValidateFlowVersion(fv *schema.FlowVersion) error
	ValidateInput(input map[string]any, inputSchema []byte) error
}

// BlockLookup reports whether a block action can be dispatched locally.
type BlockLookup interface {
	Has(blockName, actionName string) bool
}
