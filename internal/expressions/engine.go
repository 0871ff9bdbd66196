package expressions

import (
	"context"
	"sync"

	"github.com/rendis/flowengine/pkg/schema"
)

// Engine evaluates an expression against a data environment.
// ExprEngine backs {{ }} templates and the default code language; GoJQEngine
// and CELEngine back code steps written in jq or CEL.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines is a lookup of engines by name.
type Engines map[string]Engine

// NewEngines builds the default engine set.
func NewEngines() (Engines, error) {
	celEngine, err := NewCELEngine("inputs")
	if err != nil {
		return nil, err
	}
	engines := Engines{}
	for _, e := range []Engine{NewExprEngine(), NewGoJQEngine(), celEngine} {
		engines[e.Name()] = e
	}
	return engines, nil
}

// programCache memoizes compiled programs by source text. Two goroutines
// may compile the same source concurrently; the first stored program wins.
type programCache[P any] struct {
	compile func(source string) (P, error)

	mu       sync.RWMutex
	programs map[string]P
}

func newProgramCache[P any](compile func(string) (P, error)) *programCache[P] {
	return &programCache[P]{compile: compile, programs: make(map[string]P)}
}

func (c *programCache[P]) get(source string) (P, error) {
	c.mu.RLock()
	p, ok := c.programs[source]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	p, err := c.compile(source)
	if err != nil {
		var zero P
		return zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.programs[source]; ok {
		return existing, nil
	}
	c.programs[source] = p
	return p, nil
}

func (c *programCache[P]) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.programs)
}

// expressionError wraps a compile or evaluation failure. format takes the
// expression and the cause message.
func expressionError(code, format, expression string, cause error) *schema.EngineError {
	return schema.NewErrorf(code, format, expression, cause.Error()).
		WithCause(cause).
		WithDetails(map[string]any{"expression": expression})
}
