package schema

import (
	"encoding/json"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// StepOutputStatus is the lifecycle state of a single step.
type StepOutputStatus string

const (
	StepStatusRunning   StepOutputStatus = "RUNNING"
	StepStatusSucceeded StepOutputStatus = "SUCCEEDED"
	StepStatusFailed    StepOutputStatus = "FAILED"
	StepStatusPaused    StepOutputStatus = "PAUSED"
	StepStatusStopped   StepOutputStatus = "STOPPED"
)

// StepOutput is the runtime record of one executed (or synthesized) step.
// Duration is expressed in milliseconds.
type StepOutput struct {
	Type         string           `json:"type"`
	Status       StepOutputStatus `json:"status"`
	Input        any              `json:"input"`
	Output       any              `json:"output,omitempty"`
	ErrorMessage any              `json:"errorMessage,omitempty"`
	Duration     float64          `json:"duration,omitempty"`
}

// LoopOutput is the output of a Loop step: the currently exposed item and
// index plus one step map per processed iteration.
type LoopOutput struct {
	Item       any       `json:"item"`
	Index      int       `json:"index"`
	Iterations []StepMap `json:"iterations"`
}

// BranchOutput is the output of a Branch step. Condition is nil while the
// branch has not been evaluated.
type BranchOutput struct {
	Condition *bool `json:"condition"`
}

// SplitOutput is the output of a Split step.
type SplitOutput struct {
	OptionID *string `json:"optionId"`
}

// PlainValue converts structured step outputs into the map form templates
// traverse. Other values are returned untouched.
func PlainValue(v any) any {
	switch o := v.(type) {
	case LoopOutput:
		iterations := make([]any, 0, len(o.Iterations))
		for _, it := range o.Iterations {
			iterations = append(iterations, it.PlainMap())
		}
		return map[string]any{"item": o.Item, "index": o.Index, "iterations": iterations}
	case *LoopOutput:
		if o == nil {
			return nil
		}
		return PlainValue(*o)
	case BranchOutput:
		var c any
		if o.Condition != nil {
			c = *o.Condition
		}
		return map[string]any{"condition": c}
	case SplitOutput:
		var id any
		if o.OptionID != nil {
			id = *o.OptionID
		}
		return map[string]any{"optionId": id}
	default:
		return v
	}
}

// StepMap is an insertion-ordered map of step name to StepOutput. The zero
// value is an empty map. StepMap values are never mutated in place: With
// returns a modified copy.
type StepMap struct {
	m *orderedmap.OrderedMap[string, StepOutput]
}

// NewStepMap returns an empty StepMap.
func NewStepMap() StepMap {
	return StepMap{m: orderedmap.New[string, StepOutput]()}
}

// Len returns the number of entries.
func (s StepMap) Len() int {
	if s.m == nil {
		return 0
	}
	return s.m.Len()
}

// Get returns the output recorded under name.
func (s StepMap) Get(name string) (StepOutput, bool) {
	if s.m == nil {
		return StepOutput{}, false
	}
	return s.m.Get(name)
}

// Names returns the step names in insertion order.
func (s StepMap) Names() []string {
	names := make([]string, 0, s.Len())
	s.Each(func(name string, _ StepOutput) {
		names = append(names, name)
	})
	return names
}

// Each visits entries in insertion order.
func (s StepMap) Each(fn func(name string, out StepOutput)) {
	if s.m == nil {
		return
	}
	for pair := s.m.Oldest(); pair != nil; pair = pair.Next() {
		fn(pair.Key, pair.Value)
	}
}

// With returns a copy holding name → out. An existing entry keeps its
// position; a new one is appended.
func (s StepMap) With(name string, out StepOutput) StepMap {
	cp := s.clone()
	cp.m.Set(name, out)
	return cp
}

func (s StepMap) clone() StepMap {
	cp := NewStepMap()
	s.Each(func(name string, out StepOutput) {
		cp.m.Set(name, out)
	})
	return cp
}

// PlainMap returns name → {type, status, input, output, ...} as plain maps.
func (s StepMap) PlainMap() map[string]any {
	out := make(map[string]any, s.Len())
	s.Each(func(name string, o StepOutput) {
		entry := map[string]any{
			"type":   o.Type,
			"status": string(o.Status),
			"input":  o.Input,
			"output": PlainValue(o.Output),
		}
		if o.ErrorMessage != nil {
			entry["errorMessage"] = o.ErrorMessage
		}
		out[name] = entry
	})
	return out
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (s StepMap) MarshalJSON() ([]byte, error) {
	if s.m == nil {
		return []byte("{}"), nil
	}
	return s.m.MarshalJSON()
}

// UnmarshalJSON decodes a JSON object keeping the document's key order.
func (s *StepMap) UnmarshalJSON(data []byte) error {
	m := orderedmap.New[string, StepOutput]()
	if err := m.UnmarshalJSON(data); err != nil {
		return err
	}
	s.m = m
	return nil
}

var (
	_ json.Marshaler   = StepMap{}
	_ json.Unmarshaler = (*StepMap)(nil)
)
