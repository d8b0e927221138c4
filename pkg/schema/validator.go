// Package schema validates structured model output against caller-
// supplied JSON Schemas.
package schema

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	geminierrors "github.com/digitallysavvy/go-gemini/pkg/gemini/errors"
)

// Validator validates decoded JSON data against a schema
type Validator interface {
	// Validate returns a ValidationError when data does not conform
	Validate(data interface{}) error

	// JSONSchema returns the schema as sent to the provider
	JSONSchema() map[string]interface{}
}

// JSONSchemaValidator validates against a JSON Schema document
type JSONSchemaValidator struct {
	schema map[string]interface{}
}

// NewJSONSchema creates a validator for the given schema document
func NewJSONSchema(schema map[string]interface{}) *JSONSchemaValidator {
	return &JSONSchemaValidator{schema: schema}
}

// JSONSchema implements Validator
func (v *JSONSchemaValidator) JSONSchema() map[string]interface{} {
	return v.schema
}

// Validate implements Validator
func (v *JSONSchemaValidator) Validate(data interface{}) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(v.schema),
		gojsonschema.NewGoLoader(data),
	)
	if err != nil {
		return geminierrors.NewValidationError("response_json_schema", "schema evaluation failed", err)
	}
	if result.Valid() {
		return nil
	}

	messages := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		messages = append(messages, desc.String())
	}
	return geminierrors.NewValidationError("response_json_schema", strings.Join(messages, "; "), nil)
}
