package schema

// TriggerType is the discriminant of a flow's root node.
type TriggerType string

const (
	TriggerTypeEmpty TriggerType = "EMPTY"
	TriggerTypeBlock TriggerType = "TRIGGER"
)

// Trigger is the root of the action tree. It has no parent and always
// starts the chain through NextAction.
type Trigger struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	DisplayName string         `json:"displayName"`
	Type        TriggerType    `json:"type"`
	Valid       bool           `json:"valid"`
	Settings    ActionSettings `json:"settings"`
	NextAction  *Action        `json:"nextAction,omitempty"`
}

// FlowVersionState tracks whether a version can still be edited.
type FlowVersionState string

const (
	FlowVersionDraft  FlowVersionState = "DRAFT"
	FlowVersionLocked FlowVersionState = "LOCKED"
)

// FlowVersion is an immutable snapshot of a flow definition.
type FlowVersion struct {
	ID          string           `json:"id"`
	FlowID      string           `json:"flowId"`
	DisplayName string           `json:"displayName"`
	Valid       bool             `json:"valid"`
	State       FlowVersionState `json:"state,omitempty"`
	Trigger     Trigger          `json:"trigger"`
	Created     string           `json:"created,omitempty"`
	Updated     string           `json:"updated,omitempty"`
}

// StepRef is a flattened view over either the trigger or an action, used by
// code that needs to visit every step regardless of its kind.
type StepRef struct {
	ID       string
	Name     string
	Type     string
	Settings ActionSettings
	Action   *Action // nil for the trigger
}

// IsTrigger reports whether the reference points at the flow's trigger.
func (r StepRef) IsTrigger() bool { return r.Action == nil }

// AllSteps lists the trigger followed by every action, depth first: an
// action comes before its children, children before its NextAction.
func AllSteps(trigger *Trigger) []StepRef {
	if trigger == nil {
		return nil
	}
	steps := []StepRef{{
		ID:       trigger.ID,
		Name:     trigger.Name,
		Type:     string(trigger.Type),
		Settings: trigger.Settings,
	}}
	return appendChain(steps, trigger.NextAction)
}

func appendChain(steps []StepRef, action *Action) []StepRef {
	for a := action; a != nil; a = a.NextAction {
		steps = append(steps, StepRef{
			ID:       a.ID,
			Name:     a.Name,
			Type:     string(a.Type),
			Settings: a.Settings,
			Action:   a,
		})
		switch a.Type {
		case ActionTypeBranch:
			steps = appendChain(steps, a.OnSuccessAction)
			steps = appendChain(steps, a.OnFailureAction)
		case ActionTypeLoop:
			steps = appendChain(steps, a.FirstLoopAction)
		case ActionTypeSplit:
			for _, b := range a.Branches {
				steps = appendChain(steps, b.NextAction)
			}
		}
	}
	return steps
}

// StepByName finds a step anywhere in the tree.
func StepByName(trigger *Trigger, name string) (StepRef, bool) {
	for _, s := range AllSteps(trigger) {
		if s.Name == name {
			return s, true
		}
	}
	return StepRef{}, false
}
