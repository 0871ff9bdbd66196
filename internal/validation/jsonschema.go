package validation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/flowengine/pkg/schema"
)

const flowSchemaURL = "https://flowengine.dev/schemas/flow-version.json"

// flowVersionSchemaJSON is the JSON Schema for FlowVersion documents.
// Embedded as a constant to avoid filesystem dependencies.
const flowVersionSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://flowengine.dev/schemas/flow-version.json",
  "type": "object",
  "required": ["trigger"],
  "properties": {
    "id": { "type": "string" },
    "flowId": { "type": "string" },
    "displayName": { "type": "string" },
    "valid": { "type": "boolean" },
    "state": { "type": "string", "enum": ["DRAFT", "LOCKED"] },
    "trigger": { "$ref": "#/$defs/trigger" },
    "created": { "type": "string" },
    "updated": { "type": "string" }
  },
  "$defs": {
    "name": {
      "type": "string",
      "minLength": 1,
      "pattern": "^[A-Za-z_][A-Za-z0-9_]*$"
    },
    "trigger": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "id": { "type": "string" },
        "name": { "$ref": "#/$defs/name" },
        "displayName": { "type": "string" },
        "type": { "type": "string", "enum": ["EMPTY", "TRIGGER"] },
        "valid": { "type": "boolean" },
        "settings": { "$ref": "#/$defs/settings" },
        "nextAction": { "$ref": "#/$defs/action" }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["name", "type"],
      "properties": {
        "id": { "type": "string" },
        "name": { "$ref": "#/$defs/name" },
        "displayName": { "type": "string" },
        "type": {
          "type": "string",
          "enum": ["CODE", "BLOCK", "LOOP_ON_ITEMS", "BRANCH", "SPLIT"]
        },
        "valid": { "type": "boolean" },
        "settings": { "$ref": "#/$defs/settings" },
        "nextAction": { "$ref": "#/$defs/action" },
        "onSuccessAction": { "$ref": "#/$defs/action" },
        "onFailureAction": { "$ref": "#/$defs/action" },
        "firstLoopAction": { "$ref": "#/$defs/action" },
        "branches": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["optionId"],
            "properties": {
              "optionId": { "type": "string", "minLength": 1 },
              "nextAction": { "$ref": "#/$defs/action" }
            },
            "additionalProperties": false
          }
        }
      },
      "additionalProperties": false
    },
    "settings": {
      "type": "object",
      "properties": {
        "input": { "type": "object" },
        "inputUiInfo": { "type": "object" },
        "sourceCode": {
          "type": "object",
          "required": ["code"],
          "properties": {
            "code": { "type": "string" },
            "packageJson": { "type": "string" },
            "language": { "type": "string", "enum": ["expr", "jq", "cel"] }
          }
        },
        "blockName": { "type": "string" },
        "blockVersion": { "type": "string" },
        "actionName": { "type": "string" },
        "triggerName": { "type": "string" },
        "errorHandlingOptions": {
          "type": "object",
          "properties": {
            "continueOnFailure": { "$ref": "#/$defs/toggle" },
            "retryOnFailure": { "$ref": "#/$defs/toggle" }
          }
        },
        "conditions": { "$ref": "#/$defs/conditionGroups" },
        "items": { "type": "string" },
        "defaultBranch": { "type": "string" },
        "options": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id"],
            "properties": {
              "id": { "type": "string", "minLength": 1 },
              "name": { "type": "string" },
              "conditions": { "$ref": "#/$defs/conditionGroups" }
            }
          }
        }
      }
    },
    "toggle": {
      "type": "object",
      "required": ["value"],
      "properties": { "value": { "type": "boolean" } }
    },
    "conditionGroups": {
      "type": ["array", "null"],
      "items": {
        "type": "array",
        "items": { "$ref": "#/$defs/condition" }
      }
    },
    "condition": {
      "type": "object",
      "required": ["operator"],
      "properties": {
        "firstValue": {},
        "secondValue": {},
        "caseSensitive": { "type": "boolean" },
        "operator": {
          "type": "string",
          "enum": [
            "TEXT_CONTAINS", "TEXT_DOES_NOT_CONTAIN", "TEXT_EXACTLY_MATCHES",
            "TEXT_DOES_NOT_EXACTLY_MATCH", "TEXT_START_WITH", "TEXT_DOES_NOT_START_WITH",
            "TEXT_ENDS_WITH", "TEXT_DOES_NOT_END_WITH", "NUMBER_IS_GREATER_THAN",
            "NUMBER_IS_LESS_THAN", "NUMBER_IS_EQUAL_TO", "BOOLEAN_IS_TRUE",
            "BOOLEAN_IS_FALSE", "DATE_IS_BEFORE", "DATE_IS_AFTER", "LIST_IS_EMPTY",
            "LIST_IS_NOT_EMPTY", "LIST_COUNT_IS_GREATER_THAN", "LIST_COUNT_IS_LESS_THAN",
            "LIST_COUNT_IS_EQUAL_TO", "LIST_CONTAINS", "LIST_NOT_CONTAINS", "EXISTS",
            "DOES_NOT_EXIST"
          ]
        }
      },
      "additionalProperties": false
    }
  }
}`

// JSONSchemaValidator validates flow documents and block inputs against
// JSON Schema Draft 2020-12. It is safe for concurrent use.
type JSONSchemaValidator struct {
	flowSchema *jsonschema.Schema

	// mu guards the cache for dynamic schema compilation.
	mu    sync.RWMutex
	cache map[string]*jsonschema.Schema
}

// NewJSONSchemaValidator creates a JSONSchemaValidator with the flow version schema pre-compiled.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := newCompiler()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(flowVersionSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal flow schema: %w", err)
	}
	if err := c.AddResource(flowSchemaURL, schemaDoc); err != nil {
		return nil, fmt.Errorf("add flow schema resource: %w", err)
	}

	flowSchema, err := c.Compile(flowSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile flow schema: %w", err)
	}

	return &JSONSchemaValidator{
		flowSchema: flowSchema,
		cache:      make(map[string]*jsonschema.Schema),
	}, nil
}

// ValidateFlowVersion validates the JSON form of fv against the flow version schema.
func (v *JSONSchemaValidator) ValidateFlowVersion(fv *schema.FlowVersion) error {
	if fv == nil {
		return schema.NewError(schema.ErrCodeValidation, "flow version is nil")
	}

	doc, err := toJSONValue(fv)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize flow version").WithCause(err)
	}
	return v.ValidateDocument(doc)
}

// ValidateDocument validates an already decoded JSON document (as returned by
// jsonschema.UnmarshalJSON) against the flow version schema.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if err := v.flowSchema.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

// ValidateInput validates input data against a JSON Schema provided as raw bytes.
// The schema is compiled and cached for subsequent calls with the same schema.
func (v *JSONSchemaValidator) ValidateInput(input map[string]any, inputSchema []byte) error {
	if input == nil {
		return schema.NewError(schema.ErrCodeValidation, "input is nil")
	}
	if len(inputSchema) == 0 {
		return nil // no schema means no validation needed
	}

	compiled, err := v.getOrCompile(inputSchema)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "invalid input schema").WithCause(err)
	}

	// Convert input to JSON-compatible value (json.Number for numbers).
	doc, err := toJSONValue(input)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize input").WithCause(err)
	}

	if err := compiled.Validate(doc); err != nil {
		return toEngineError(err)
	}
	return nil
}

// getOrCompile returns a cached compiled schema or compiles and caches a new one.
func (v *JSONSchemaValidator) getOrCompile(schemaBytes []byte) (*jsonschema.Schema, error) {
	key := string(schemaBytes)

	v.mu.RLock()
	if cached, ok := v.cache[key]; ok {
		v.mu.RUnlock()
		return cached, nil
	}
	v.mu.RUnlock()

	v.mu.Lock()
	defer v.mu.Unlock()

	// Double-check after acquiring write lock.
	if cached, ok := v.cache[key]; ok {
		return cached, nil
	}

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(key))
	if err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	// Each dynamic schema gets a unique URL and a fresh compiler to avoid
	// resource collisions.
	url := fmt.Sprintf("flowengine://input-schema/%d", len(v.cache))
	c := newCompiler()
	if err := c.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.cache[key] = compiled
	return compiled, nil
}

func newCompiler() *jsonschema.Compiler {
	c := jsonschema.NewCompiler()
	c.AssertFormat()
	return c
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toEngineError converts a jsonschema.ValidationError into an EngineError
// listing every leaf violation under details["violations"].
func toEngineError(err error) *schema.EngineError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages prefixed with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
