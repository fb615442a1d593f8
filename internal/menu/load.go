// Package menu builds action trees from declarative YAML menu files and
// serves their data context from a JSON state document.
package menu

import (
	"fmt"
	"os"

	"github.com/rendis/actionkit/internal/validation"
	"github.com/rendis/actionkit/pkg/schema"
	"gopkg.in/yaml.v3"
)

// Load reads and validates the menu file at path.
func Load(path string, v validation.Validator) (*schema.MenuDefinition, []schema.ValidationIssue, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read menu %s: %w", path, err)
	}
	def, warnings, err := Parse(data, v)
	if err != nil {
		return nil, warnings, fmt.Errorf("menu %s: %w", path, err)
	}
	return def, warnings, nil
}

// Parse decodes a YAML menu and runs it through v. It returns the
// validation warnings alongside the definition; errors fail the parse.
func Parse(data []byte, v validation.Validator) (*schema.MenuDefinition, []schema.ValidationIssue, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "menu is not valid YAML").WithCause(err)
	}
	var def schema.MenuDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		// The document decodes but does not fit the types: report it the
		// way the schema sees it.
		if verr := v.ValidateDocument(doc); verr != nil {
			return nil, nil, verr
		}
		return nil, nil, schema.NewError(schema.ErrCodeValidation, "menu does not match the definition types").WithCause(err)
	}

	result := v.Validate(doc, &def)
	if err := result.ToError(); err != nil {
		return nil, result.Warnings, err
	}
	if def.Version == 0 {
		def.Version = 1
	}
	return &def, result.Warnings, nil
}
