package manifest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// templateJSON is the manifest schema template (spec.md §6 "Manifest schema
// file"): presence and type checks for capabilities/input_spec/output_spec.
// It is compiled once and reused, mirroring how a schema-driven validator
// amortizes compilation across requests.
const templateJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["capabilities"],
  "properties": {
    "capabilities": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "custom_input_handler": {"type": "string"}
        }
      }
    },
    "input_spec": {
      "type": "object",
      "required": ["type"],
      "properties": {"type": {"type": "string"}}
    },
    "output_spec": {
      "type": "object",
      "required": ["type"],
      "properties": {"type": {"type": "string"}}
    }
  }
}`

var (
	compileOnce  sync.Once
	compiled     *jsonschema.Schema
	compileError error
)

func schema() (*jsonschema.Schema, error) {
	compileOnce.Do(func() {
		var doc interface{}
		if err := json.Unmarshal([]byte(templateJSON), &doc); err != nil {
			compileError = fmt.Errorf("decode manifest schema template: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("manifest_template.json", doc); err != nil {
			compileError = fmt.Errorf("load manifest schema template: %w", err)
			return
		}
		s, err := c.Compile("manifest_template.json")
		if err != nil {
			compileError = fmt.Errorf("compile manifest schema template: %w", err)
			return
		}
		compiled = s
	})
	return compiled, compileError
}

// validateSchema re-encodes the normalized manifest to a plain
// map[string]interface{} and validates it against the compiled schema.
func validateSchema(m *Manifest) error {
	s, err := schema()
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("re-encode normalized manifest: %w", err)
	}
	var doc interface{}
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return fmt.Errorf("decode normalized manifest: %w", err)
	}

	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("manifest schema violation: %w", err)
	}
	return nil
}
