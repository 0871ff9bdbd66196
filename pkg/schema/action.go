package schema

// ActionType is the discriminant of the Action sum type.
type ActionType string

const (
	ActionTypeCode   ActionType = "CODE"
	ActionTypeBlock  ActionType = "BLOCK"
	ActionTypeLoop   ActionType = "LOOP_ON_ITEMS"
	ActionTypeBranch ActionType = "BRANCH"
	ActionTypeSplit  ActionType = "SPLIT"
)

// Valid reports whether t is one of the known action kinds.
func (t ActionType) Valid() bool {
	switch t {
	case ActionTypeCode, ActionTypeBlock, ActionTypeLoop, ActionTypeBranch, ActionTypeSplit:
		return true
	}
	return false
}

// Action is one node of a flow's action tree.
// NextAction is shared by every kind; the remaining links are set only for
// the kind that owns them (Branch, Loop, Split).
type Action struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Type        ActionType     `json:"type"`
	Valid       bool           `json:"valid"`
	Settings    ActionSettings `json:"settings"`
	NextAction  *Action        `json:"nextAction,omitempty"`

	OnSuccessAction *Action       `json:"onSuccessAction,omitempty"`
	OnFailureAction *Action       `json:"onFailureAction,omitempty"`
	FirstLoopAction *Action       `json:"firstLoopAction,omitempty"`
	Branches        []SplitBranch `json:"branches,omitempty"`
}

// ActionSettings carries the per-kind configuration of an action.
// Fields that do not apply to an action's kind are left empty.
type ActionSettings struct {
	Input       map[string]any `json:"input,omitempty"`
	InputUIInfo *InputUIInfo   `json:"inputUiInfo,omitempty"`

	// Code
	SourceCode *SourceCode `json:"sourceCode,omitempty"`

	// Block
	BlockName    string `json:"blockName,omitempty"`
	BlockVersion string `json:"blockVersion,omitempty"`
	ActionName   string `json:"actionName,omitempty"`
	TriggerName  string `json:"triggerName,omitempty"`

	ErrorHandlingOptions *ErrorHandlingOptions `json:"errorHandlingOptions,omitempty"`

	// Branch
	Conditions [][]BranchCondition `json:"conditions,omitempty"`

	// Loop
	Items string `json:"items,omitempty"`

	// Split
	DefaultBranch string        `json:"defaultBranch,omitempty"`
	Options       []SplitOption `json:"options,omitempty"`
}

// InputUIInfo holds editor-side data, notably the sample output selected by
// the user when the step was last tested.
type InputUIInfo struct {
	CurrentSelectedData any            `json:"currentSelectedData,omitempty"`
	LastTestDate        string         `json:"lastTestDate,omitempty"`
	CustomizedInputs    map[string]any `json:"customizedInputs,omitempty"`
}

// SourceCode is the body of a Code action.
type SourceCode struct {
	Code        string `json:"code"`
	PackageJSON string `json:"packageJson,omitempty"`
	// Language selects the in-process evaluator: expr (default), jq or cel.
	Language string `json:"language,omitempty"`
}

// Toggle is the {"value": bool} wrapper used by error handling options.
type Toggle struct {
	Value bool `json:"value"`
}

// ErrorHandlingOptions controls how Code and Block failures affect the run.
type ErrorHandlingOptions struct {
	ContinueOnFailure *Toggle `json:"continueOnFailure,omitempty"`
	RetryOnFailure    *Toggle `json:"retryOnFailure,omitempty"`
}

// ContinueOnFailure reports whether a failed step should leave the run going.
func (s ActionSettings) ContinueOnFailure() bool {
	return s.ErrorHandlingOptions != nil &&
		s.ErrorHandlingOptions.ContinueOnFailure != nil &&
		s.ErrorHandlingOptions.ContinueOnFailure.Value
}

// RetryOnFailure reports whether the step runner should retry the body.
func (s ActionSettings) RetryOnFailure() bool {
	return s.ErrorHandlingOptions != nil &&
		s.ErrorHandlingOptions.RetryOnFailure != nil &&
		s.ErrorHandlingOptions.RetryOnFailure.Value
}

// SplitOption is one named, condition-guarded route of a Split action.
type SplitOption struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Conditions [][]BranchCondition `json:"conditions"`
}

// SplitBranch links a split option to the head of its chain.
type SplitBranch struct {
	OptionID   string  `json:"optionId"`
	NextAction *Action `json:"nextAction,omitempty"`
}

// BranchFor returns the chain head for a split option, or nil.
func (a *Action) BranchFor(optionID string) *Action {
	for _, b := range a.Branches {
		if b.OptionID == optionID {
			return b.NextAction
		}
	}
	return nil
}

// BranchOperator names a comparison used by Branch and Split conditions.
type BranchOperator string

const (
	OperatorTextContains            BranchOperator = "TEXT_CONTAINS"
	OperatorTextDoesNotContain      BranchOperator = "TEXT_DOES_NOT_CONTAIN"
	OperatorTextExactlyMatches      BranchOperator = "TEXT_EXACTLY_MATCHES"
	OperatorTextDoesNotExactlyMatch BranchOperator = "TEXT_DOES_NOT_EXACTLY_MATCH"
	OperatorTextStartsWith          BranchOperator = "TEXT_START_WITH"
	OperatorTextDoesNotStartWith    BranchOperator = "TEXT_DOES_NOT_START_WITH"
	OperatorTextEndsWith            BranchOperator = "TEXT_ENDS_WITH"
	OperatorTextDoesNotEndWith      BranchOperator = "TEXT_DOES_NOT_END_WITH"
	OperatorNumberIsGreaterThan     BranchOperator = "NUMBER_IS_GREATER_THAN"
	OperatorNumberIsLessThan        BranchOperator = "NUMBER_IS_LESS_THAN"
	OperatorNumberIsEqualTo         BranchOperator = "NUMBER_IS_EQUAL_TO"
	OperatorBooleanIsTrue           BranchOperator = "BOOLEAN_IS_TRUE"
	OperatorBooleanIsFalse          BranchOperator = "BOOLEAN_IS_FALSE"
	OperatorDateIsBefore            BranchOperator = "DATE_IS_BEFORE"
	OperatorDateIsAfter             BranchOperator = "DATE_IS_AFTER"
	OperatorListIsEmpty             BranchOperator = "LIST_IS_EMPTY"
	OperatorListIsNotEmpty          BranchOperator = "LIST_IS_NOT_EMPTY"
	OperatorListCountIsGreaterThan  BranchOperator = "LIST_COUNT_IS_GREATER_THAN"
	OperatorListCountIsLessThan     BranchOperator = "LIST_COUNT_IS_LESS_THAN"
	OperatorListCountIsEqualTo      BranchOperator = "LIST_COUNT_IS_EQUAL_TO"
	OperatorListContains            BranchOperator = "LIST_CONTAINS"
	OperatorListNotContains         BranchOperator = "LIST_NOT_CONTAINS"
	OperatorExists                  BranchOperator = "EXISTS"
	OperatorDoesNotExist            BranchOperator = "DOES_NOT_EXIST"
)

// SingleValue reports whether the operator ignores SecondValue.
func (o BranchOperator) SingleValue() bool {
	switch o {
	case OperatorBooleanIsTrue, OperatorBooleanIsFalse,
		OperatorListIsEmpty, OperatorListIsNotEmpty,
		OperatorExists, OperatorDoesNotExist:
		return true
	}
	return false
}

// BranchCondition compares FirstValue against SecondValue with Operator.
// Both values may hold {{ }} templates; they are resolved before evaluation.
type BranchCondition struct {
	FirstValue    any            `json:"firstValue"`
	SecondValue   any            `json:"secondValue,omitempty"`
	CaseSensitive bool           `json:"caseSensitive,omitempty"`
	Operator      BranchOperator `json:"operator"`
}
