package blocks

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/rendis/flowengine/pkg/schema"
)

// Registry is a thread-safe set of block actions keyed "blockName:actionName".
type Registry struct {
	mu        sync.RWMutex
	actions   map[string]Action
	validator InputValidator
}

// NewRegistry creates an empty Registry. validator may be nil to skip input
// schema checks.
func NewRegistry(validator InputValidator) *Registry {
	return &Registry{
		actions:   make(map[string]Action),
		validator: validator,
	}
}

// Key builds the registry key of a block action.
func Key(blockName, actionName string) string {
	return blockName + ":" + actionName
}

// RegisterBlock adds every action of a block. Returns the number registered
// before the first conflict.
func (r *Registry) RegisterBlock(blockName string, acts []Action) (int, error) {
	if blockName == "" {
		return 0, schema.NewError(schema.ErrCodeValidation, "block name is empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	registered := 0
	for _, a := range acts {
		if a == nil || a.Name() == "" {
			return registered, schema.NewErrorf(schema.ErrCodeValidation, "block %s has an unnamed action", blockName)
		}
		key := Key(blockName, a.Name())
		if _, exists := r.actions[key]; exists {
			return registered, schema.NewErrorf(schema.ErrCodeConflict, "block action %q already registered", key)
		}
		r.actions[key] = a
		registered++
	}
	return registered, nil
}

// Get retrieves a block action.
func (r *Registry) Get(blockName, actionName string) (Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	action, ok := r.actions[Key(blockName, actionName)]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "block action %q not registered", Key(blockName, actionName))
	}
	return action, nil
}

// Has checks if a block action is registered.
func (r *Registry) Has(blockName, actionName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.actions[Key(blockName, actionName)]
	return ok
}

// Count returns the number of registered actions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.actions)
}

// List returns info for all registered actions, sorted by key.
func (r *Registry) List() []ActionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]ActionInfo, 0, len(r.actions))
	for key, a := range r.actions {
		i := strings.LastIndex(key, ":")
		infos = append(infos, ActionInfo{
			Block:       key[:i],
			Action:      key[i+1:],
			Description: a.Schema().Description,
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return Key(infos[i].Block, infos[i].Action) < Key(infos[j].Block, infos[j].Action)
	})
	return infos
}

// Execute validates input.Params against the action's input schema and runs it.
func (r *Registry) Execute(ctx context.Context, blockName, actionName string, input ActionInput) (*ActionOutput, error) {
	action, err := r.Get(blockName, actionName)
	if err != nil {
		return nil, err
	}
	if input.Params == nil {
		input.Params = map[string]any{}
	}
	if r.validator != nil {
		if s := action.Schema().InputSchema; len(s) > 0 {
			if err := r.validator.ValidateInput(input.Params, s); err != nil {
				return nil, err
			}
		}
	}
	return action.Execute(ctx, input)
}
