package validation

import (
	"errors"

	"github.com/rendis/actionkit/pkg/schema"
)

// MenuValidator runs the three-stage validation pipeline:
// 1. Structural (JSON Schema over the raw document)
// 2. Semantic (references, data keys, expressions, schedules)
// 3. Graph (containment cycles, reachability)
type MenuValidator struct {
	jsonSchema *JSONSchemaValidator
	compilers  Compilers
}

// NewMenuValidator creates a MenuValidator. compilers may be nil to skip
// expression checks.
func NewMenuValidator(compilers Compilers) (*MenuValidator, error) {
	jsv, err := NewJSONSchemaValidator()
	if err != nil {
		return nil, err
	}
	return &MenuValidator{jsonSchema: jsv, compilers: compilers}, nil
}

// Validate runs the pipeline. doc is the raw decoded document and def its
// typed form. Structural errors short-circuit the later stages, as do
// semantic errors the graph stage.
func (mv *MenuValidator) Validate(doc any, def *schema.MenuDefinition) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	if def == nil {
		result.Errorf("/", "menu definition is nil")
		return result
	}

	result.Merge(validateStructural(mv.jsonSchema, doc))
	if !result.Valid() {
		return result
	}
	result.Merge(validateSemantic(def, mv.compilers))
	if result.Valid() {
		result.Merge(validateGraph(def))
	}
	return result
}

// ValidateDocument validates only the structure of doc.
func (mv *MenuValidator) ValidateDocument(doc any) error {
	return mv.jsonSchema.ValidateDocument(doc)
}

// validateStructural converts the schema validator's error into result
// issues, one per violation.
func validateStructural(v *JSONSchemaValidator, doc any) *schema.ValidationResult {
	result := &schema.ValidationResult{}
	err := v.ValidateDocument(doc)
	if err == nil {
		return result
	}

	var ae *schema.ActionError
	if !errors.As(err, &ae) {
		result.Errorf("/", "%s", err.Error())
		return result
	}
	if violations, ok := ae.Details["violations"].([]string); ok {
		for _, msg := range violations {
			result.Errorf("/", "%s", msg)
		}
		return result
	}
	result.Errorf("/", "%s", ae.Message)
	return result
}
