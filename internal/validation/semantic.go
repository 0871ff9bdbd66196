package validation

import (
	"fmt"

	"github.com/rendis/flowengine/pkg/schema"
)

// validateSemantic checks what the document schema cannot express: step names
// unique across the whole tree, per-kind required settings, split options
// that exist, and block actions that can be dispatched.
func validateSemantic(fv *schema.FlowVersion, lookup BlockLookup) *schema.ValidationResult {
	result := &schema.ValidationResult{}

	seen := make(map[string]bool)
	for _, step := range schema.AllSteps(&fv.Trigger) {
		if step.Name == "" {
			result.AddError("/", schema.ErrCodeValidation, "step name is required")
			continue
		}
		if seen[step.Name] {
			result.AddStepError(step.Name, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate step name %q", step.Name))
		}
		seen[step.Name] = true

		if step.IsTrigger() {
			continue
		}
		validateAction(step.Action, lookup, result)
	}
	return result
}

func validateAction(a *schema.Action, lookup BlockLookup, result *schema.ValidationResult) {
	if !a.Valid {
		result.AddStepWarning(a.Name, schema.ErrCodeValidation, "step is marked as not valid")
	}

	switch a.Type {
	case schema.ActionTypeCode:
		if a.Settings.SourceCode == nil || a.Settings.SourceCode.Code == "" {
			result.AddStepError(a.Name, schema.ErrCodeValidation, "code step has no source code")
		}
	case schema.ActionTypeBlock:
		validateBlock(a, lookup, result)
	case schema.ActionTypeLoop:
		if a.Settings.Items == "" {
			result.AddStepError(a.Name, schema.ErrCodeValidation, "loop step has no items")
		}
		if a.FirstLoopAction == nil {
			result.AddStepWarning(a.Name, schema.ErrCodeValidation, "loop step has no actions")
		}
	case schema.ActionTypeBranch:
		if len(a.Settings.Conditions) == 0 {
			result.AddStepWarning(a.Name, schema.ErrCodeValidation,
				"branch step has no conditions and always takes the failure path")
		}
		validateConditions(a.Name, a.Settings.Conditions, result)
	case schema.ActionTypeSplit:
		validateSplit(a, result)
	default:
		result.AddStepError(a.Name, schema.ErrCodeValidation,
			fmt.Sprintf("unknown action type %q", a.Type))
	}
}

func validateBlock(a *schema.Action, lookup BlockLookup, result *schema.ValidationResult) {
	s := a.Settings
	if s.BlockName == "" || s.ActionName == "" {
		result.AddStepError(a.Name, schema.ErrCodeValidation, "block step requires blockName and actionName")
		return
	}
	if lookup != nil && !lookup.Has(s.BlockName, s.ActionName) {
		result.AddStepError(a.Name, schema.ErrCodeNotFound,
			fmt.Sprintf("block action %s:%s not registered", s.BlockName, s.ActionName))
	}
}

func validateSplit(a *schema.Action, result *schema.ValidationResult) {
	options := make(map[string]bool, len(a.Settings.Options))
	for _, opt := range a.Settings.Options {
		if options[opt.ID] {
			result.AddStepError(a.Name, schema.ErrCodeValidation,
				fmt.Sprintf("duplicate split option %q", opt.ID))
		}
		options[opt.ID] = true
		validateConditions(a.Name, opt.Conditions, result)
	}

	if d := a.Settings.DefaultBranch; d != "" && !options[d] {
		result.AddStepError(a.Name, schema.ErrCodeValidation,
			fmt.Sprintf("default branch %q is not a split option", d))
	}
	for _, b := range a.Branches {
		if !options[b.OptionID] {
			result.AddStepWarning(a.Name, schema.ErrCodeValidation,
				fmt.Sprintf("branch for unknown option %q is unreachable", b.OptionID))
		}
	}
}

func validateConditions(stepName string, groups [][]schema.BranchCondition, result *schema.ValidationResult) {
	for i, group := range groups {
		for j, c := range group {
			if !c.Operator.SingleValue() && c.SecondValue == nil {
				result.AddStepWarning(stepName, schema.ErrCodeValidation,
					fmt.Sprintf("condition [%d][%d] %s has no second value", i, j, c.Operator))
			}
		}
	}
}
