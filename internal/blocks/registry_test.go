package blocks

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/flowengine/internal/validation"
	"github.com/rendis/flowengine/pkg/schema"
)

// stubAction is a minimal Action for registry tests.
type stubAction struct {
	name   string
	desc   string
	schema string
	calls  int
}

func (s *stubAction) Name() string { return s.name }
func (s *stubAction) Schema() ActionSchema {
	return ActionSchema{Description: s.desc, InputSchema: json.RawMessage(s.schema)}
}
func (s *stubAction) Execute(_ context.Context, _ ActionInput) (*ActionOutput, error) {
	s.calls++
	return &ActionOutput{Data: json.RawMessage(`{"ok":true}`)}, nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	v, err := validation.NewJSONSchemaValidator()
	require.NoError(t, err)
	return NewRegistry(v)
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	var engErr *schema.EngineError
	require.True(t, errors.As(err, &engErr), "expected EngineError, got %T: %v", err, err)
	assert.Equal(t, code, engErr.Code)
}

func TestRegistry_RegisterBlock(t *testing.T) {
	reg := newTestRegistry(t)
	n, err := reg.RegisterBlock("@acme/block-a", []Action{&stubAction{name: "one"}, &stubAction{name: "two"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 2, reg.Count())
	assert.True(t, reg.Has("@acme/block-a", "one"))
	assert.False(t, reg.Has("@acme/block-a", "three"))
	assert.False(t, reg.Has("@acme/block-b", "one"))
}

func TestRegistry_RegisterBlock_Duplicate(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.RegisterBlock("@acme/block-a", []Action{&stubAction{name: "one"}})
	require.NoError(t, err)

	n, err := reg.RegisterBlock("@acme/block-a", []Action{&stubAction{name: "other"}, &stubAction{name: "one"}})
	requireCode(t, err, schema.ErrCodeConflict)
	assert.Equal(t, 1, n)
}

func TestRegistry_RegisterBlock_Invalid(t *testing.T) {
	reg := newTestRegistry(t)

	_, err := reg.RegisterBlock("", []Action{&stubAction{name: "one"}})
	requireCode(t, err, schema.ErrCodeValidation)

	_, err = reg.RegisterBlock("@acme/block-a", []Action{&stubAction{name: ""}})
	requireCode(t, err, schema.ErrCodeValidation)

	_, err = reg.RegisterBlock("@acme/block-a", []Action{nil})
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.Get("@acme/block-a", "missing")
	requireCode(t, err, schema.ErrCodeNotFound)
	assert.Contains(t, err.Error(), "@acme/block-a:missing")
}

func TestRegistry_List_Sorted(t *testing.T) {
	reg := newTestRegistry(t)
	_, err := reg.RegisterBlock("@acme/block-b", []Action{&stubAction{name: "z", desc: "last"}})
	require.NoError(t, err)
	_, err = reg.RegisterBlock("@acme/block-a", []Action{&stubAction{name: "y"}, &stubAction{name: "x"}})
	require.NoError(t, err)

	infos := reg.List()
	require.Len(t, infos, 3)
	assert.Equal(t, ActionInfo{Block: "@acme/block-a", Action: "x"}, infos[0])
	assert.Equal(t, ActionInfo{Block: "@acme/block-a", Action: "y"}, infos[1])
	assert.Equal(t, ActionInfo{Block: "@acme/block-b", Action: "z", Description: "last"}, infos[2])
}

func TestRegistry_Execute_ValidatesInput(t *testing.T) {
	reg := newTestRegistry(t)
	action := &stubAction{name: "one", schema: `{"type":"object","required":["url"]}`}
	_, err := reg.RegisterBlock("@acme/block-a", []Action{action})
	require.NoError(t, err)

	_, err = reg.Execute(context.Background(), "@acme/block-a", "one", ActionInput{})
	requireCode(t, err, schema.ErrCodeValidation)
	assert.Equal(t, 0, action.calls)

	out, err := reg.Execute(context.Background(), "@acme/block-a", "one", ActionInput{Params: map[string]any{"url": "x"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(out.Data))
	assert.Equal(t, 1, action.calls)
}

func TestRegistry_Execute_WithoutValidator(t *testing.T) {
	reg := NewRegistry(nil)
	action := &stubAction{name: "one", schema: `{"type":"object","required":["url"]}`}
	_, err := reg.RegisterBlock("@acme/block-a", []Action{action})
	require.NoError(t, err)

	_, err = reg.Execute(context.Background(), "@acme/block-a", "one", ActionInput{})
	require.NoError(t, err)
	assert.Equal(t, 1, action.calls)
}

func TestRegisterBuiltins(t *testing.T) {
	reg := newTestRegistry(t)
	require.NoError(t, RegisterBuiltins(reg, BuiltinConfig{}))

	assert.True(t, reg.Has(HTTPBlock, "send_request"))
	assert.True(t, reg.Has(DataBlock, "jq_transform"))
	assert.True(t, reg.Has(DataBlock, "expr_eval"))
	assert.True(t, reg.Has(CoreBlock, "delay"))
	assert.True(t, reg.Has(CoreBlock, "stop"))
	assert.Equal(t, 5, reg.Count())

	// Builtin input schemas compile.
	for _, info := range reg.List() {
		a, err := reg.Get(info.Block, info.Action)
		require.NoError(t, err)
		_, err = reg.Execute(context.Background(), info.Block, info.Action, ActionInput{Params: map[string]any{"__probe": true}})
		if err != nil {
			assert.NotContains(t, err.Error(), "invalid input schema", a.Name())
		}
	}
}
