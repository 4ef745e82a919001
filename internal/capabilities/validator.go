package capabilities

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaResource = "capabilities-schema.json"

// Validator checks capability configurations against their schema. XML
// documents, as shipped by most modules, are accepted without checks.
type Validator struct{}

func NewValidator() *Validator {
	return &Validator{}
}

// IsJSONSchema reports whether doc looks like a JSON Schema document.
func IsJSONSchema(doc string) bool {
	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(doc), &fields); err != nil {
		return false
	}
	_, hasSchema := fields["$schema"]
	_, hasType := fields["type"]
	_, hasProps := fields["properties"]
	return hasSchema || hasType || hasProps
}

func (v *Validator) Validate(schemaDoc, configurationDoc string) error {
	if !IsJSONSchema(schemaDoc) {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResource, strings.NewReader(schemaDoc)); err != nil {
		return fmt.Errorf("failed to add schema resource: %w", err)
	}

	schema, err := compiler.Compile(schemaResource)
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	var configuration interface{}
	if err := json.Unmarshal([]byte(configurationDoc), &configuration); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := schema.Validate(configuration); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	return nil
}
