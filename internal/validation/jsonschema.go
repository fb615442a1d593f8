package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rendis/actionkit/pkg/schema"
	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

const menuSchemaURL = "https://actionkit.dev/schemas/menu.json"

// menuSchemaJSON is the JSON Schema for menu definitions.
const menuSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://actionkit.dev/schemas/menu.json",
  "type": "object",
  "required": ["surfaces", "actions"],
  "properties": {
    "version": { "type": "integer", "minimum": 1 },
    "data": {
      "type": "object",
      "additionalProperties": { "$ref": "#/$defs/data_key" }
    },
    "surfaces": {
      "type": "object",
      "minProperties": 1,
      "additionalProperties": { "$ref": "#/$defs/surface" }
    },
    "actions": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/action" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "duration": {
      "type": "string",
      "pattern": "^[0-9]+(ns|us|µs|ms|s|m|h)$"
    },
    "data_key": {
      "type": "object",
      "required": ["query"],
      "properties": {
        "query": { "type": "string", "minLength": 1 },
        "fast": { "type": "boolean" },
        "delay": { "$ref": "#/$defs/duration" }
      },
      "additionalProperties": false
    },
    "surface": {
      "type": "object",
      "required": ["root"],
      "properties": {
        "root": { "type": "string", "minLength": 1 },
        "place": { "type": "string" },
        "hide_disabled": { "type": "boolean" },
        "refresh": { "type": "string" }
      },
      "additionalProperties": false
    },
    "action": {
      "type": "object",
      "required": ["id"],
      "properties": {
        "id": { "type": "string", "pattern": "^[A-Za-z][A-Za-z0-9_.]*$" },
        "text": { "type": "string" },
        "description": { "type": "string" },
        "icon": { "type": "string" },
        "uses": { "type": "array", "items": { "type": "string" }, "uniqueItems": true },
        "visible": { "type": "string" },
        "enabled": { "type": "string" },
        "selected": { "type": "string" },
        "background": { "type": "boolean" },
        "cost": { "$ref": "#/$defs/duration" },
        "always_visible": { "type": "boolean" },
        "group": { "type": "boolean" },
        "popup": { "type": "boolean" },
        "compact": { "type": "boolean" },
        "hide_if_empty": { "type": "boolean" },
        "disable_if_empty": { "type": "boolean" },
        "perform_if": { "type": "string" },
        "children": { "type": "array", "items": { "type": "string", "minLength": 1 } }
      },
      "additionalProperties": false,
      "dependentSchemas": {
        "children": { "properties": { "group": { "const": true } }, "required": ["group"] },
        "popup": { "properties": { "group": { "const": true } }, "required": ["group"] },
        "perform_if": { "properties": { "group": { "const": true } }, "required": ["group"] }
      }
    }
  }
}`

// JSONSchemaValidator checks the shape of a menu document against the
// embedded JSON Schema (Draft 2020-12). It is safe for concurrent use.
type JSONSchemaValidator struct {
	menuSchema *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the menu schema.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(menuSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal menu schema: %w", err)
	}
	if err := c.AddResource(menuSchemaURL, doc); err != nil {
		return nil, fmt.Errorf("add menu schema resource: %w", err)
	}
	compiled, err := c.Compile(menuSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile menu schema: %w", err)
	}
	return &JSONSchemaValidator{menuSchema: compiled}, nil
}

// ValidateDocument validates a decoded menu document. doc may come from
// YAML or JSON; it is normalized through JSON first.
func (v *JSONSchemaValidator) ValidateDocument(doc any) error {
	if doc == nil {
		return schema.NewError(schema.ErrCodeValidation, "menu document is empty")
	}
	inst, err := toJSONValue(doc)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "menu document is not JSON-compatible").WithCause(err)
	}
	if err := v.menuSchema.Validate(inst); err != nil {
		return toActionError(err)
	}
	return nil
}

// toJSONValue round-trips a Go value through JSON so numbers become
// json.Number, as the jsonschema library requires.
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toActionError flattens a ValidationError tree into one VALIDATION_ERROR
// listing every violation with its instance location.
func toActionError(err error) *schema.ActionError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	case 1:
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "validation failed with %d errors", len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}
	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
