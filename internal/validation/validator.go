package validation

import "github.com/rendis/actionkit/pkg/schema"

// Validator checks menu definitions before they are built into nodes.
type Validator interface {
	Validate(doc any, def *schema.MenuDefinition) *schema.ValidationResult
	ValidateDocument(doc any) error
}

var _ Validator = (*MenuValidator)(nil)
