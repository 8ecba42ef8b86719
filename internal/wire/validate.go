package wire

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles and caches JSON Schema documents, validating
// candidate payloads against them. Grounded on the compile-once pattern
// in goa-ai's registry/service.go (validatePayloadJSONAgainstSchema):
// unmarshal the schema and the payload as untyped JSON, AddResource +
// Compile once, then Validate on every subsequent call.
type Validator struct {
	mu        sync.Mutex
	compiled  map[string]*jsonschema.Schema
	resourceN int
}

// NewValidator returns an empty schema cache.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks payload (raw JSON bytes) against schema (raw JSON
// Schema bytes), compiling and caching schema on first use. A nil or
// empty schema always validates.
func (v *Validator) Validate(schema, payload []byte) error {
	if len(schema) == 0 {
		return nil
	}

	compiled, err := v.compile(schema)
	if err != nil {
		return fmt.Errorf("wire: compile schema: %w", err)
	}

	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("wire: unmarshal payload for validation: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("wire: schema validation failed: %w", err)
	}
	return nil
}

func (v *Validator) compile(schema []byte) (*jsonschema.Schema, error) {
	key := string(schema)

	v.mu.Lock()
	defer v.mu.Unlock()

	if cached, ok := v.compiled[key]; ok {
		return cached, nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}

	v.resourceN++
	resourceID := fmt.Sprintf("schema-%d.json", v.resourceN)

	c := jsonschema.NewCompiler()
	if err := c.AddResource(resourceID, schemaDoc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}

	compiled, err := c.Compile(resourceID)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.compiled[key] = compiled
	return compiled, nil
}
