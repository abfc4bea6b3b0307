// Package manifest implements the Manifest Validator (spec.md §4.1): a pure
// function that normalizes the three wire shapes an agent may advertise its
// capabilities in, then validates the normalized document against a fixed
// JSON-Schema template.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clearcoreai/orchestrator/internal/errorsx"
)

// Capability is a single advertised operation, in normalized form.
type Capability struct {
	Name               string `json:"name"`
	Description        string `json:"description"`
	CustomInputHandler string `json:"custom_input_handler,omitempty"`
}

// Spec is a JSON-schema-like tag carried by input_spec/output_spec: only
// the top-level "type" field is a cross-cutting contract (spec.md §4.5).
type Spec map[string]interface{}

// Type returns the spec's top-level "type" tag, or "" if absent.
func (s Spec) Type() string {
	if s == nil {
		return ""
	}
	t, _ := s["type"].(string)
	return t
}

// Manifest is the normalized form of an agent's declared capabilities.
type Manifest struct {
	Capabilities []Capability `json:"capabilities"`
	InputSpec    Spec         `json:"input_spec,omitempty"`
	OutputSpec   Spec         `json:"output_spec,omitempty"`
}

// CapabilityMeta returns the capability named name, or false if absent.
func (m *Manifest) CapabilityMeta(name string) (Capability, bool) {
	for _, c := range m.Capabilities {
		if c.Name == name {
			return c, true
		}
	}
	return Capability{}, false
}

// HasCapability reports whether name is advertised.
func (m *Manifest) HasCapability(name string) bool {
	_, ok := m.CapabilityMeta(name)
	return ok
}

// Validate normalizes raw (the agent's /manifest response body) and
// validates it against the fixed schema. It never performs I/O.
func Validate(raw []byte) (*Manifest, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errorsx.Wrap("manifest.Validate", errorsx.KindBadManifest, "", fmt.Errorf("manifest is not a JSON object: %w", err))
	}

	normalizedCaps, err := normalizeCapabilities(doc["capabilities"])
	if err != nil {
		return nil, errorsx.Wrap("manifest.Validate", errorsx.KindBadManifest, "", err)
	}

	m := &Manifest{Capabilities: normalizedCaps}
	if is, ok := doc["input_spec"].(map[string]interface{}); ok {
		m.InputSpec = Spec(is)
	}
	if os, ok := doc["output_spec"].(map[string]interface{}); ok {
		m.OutputSpec = Spec(os)
	}

	if err := validateSchema(m); err != nil {
		return nil, errorsx.Wrap("manifest.Validate", errorsx.KindBadManifest, "", err)
	}

	return m, nil
}

// normalizeCapabilities converges the three accepted wire shapes:
//  1. ["cap_a", "cap_b"]
//  2. [{"name": "cap_a", "description": "..."}]
//  3. {"cap_a": "description", "cap_b": "description"}
//
// Entries lacking a non-empty name are dropped. Duplicate names keep the
// first occurrence (capability names must be unique within a manifest).
func normalizeCapabilities(raw interface{}) ([]Capability, error) {
	if raw == nil {
		return nil, fmt.Errorf("manifest has no 'capabilities' field")
	}

	seen := make(map[string]bool)
	out := make([]Capability, 0)

	add := func(c Capability) {
		name := strings.TrimSpace(c.Name)
		if name == "" || seen[name] {
			return
		}
		c.Name = name
		seen[name] = true
		out = append(out, c)
	}

	switch v := raw.(type) {
	case []interface{}:
		for _, item := range v {
			switch entry := item.(type) {
			case string:
				add(Capability{Name: entry})
			case map[string]interface{}:
				add(capabilityFromObject(entry))
			default:
				return nil, fmt.Errorf("unsupported capability entry type %T", item)
			}
		}
	case map[string]interface{}:
		for name, desc := range v {
			description, _ := desc.(string)
			add(Capability{Name: name, Description: description})
		}
	default:
		return nil, fmt.Errorf("unsupported 'capabilities' shape %T", raw)
	}

	return out, nil
}

func capabilityFromObject(obj map[string]interface{}) Capability {
	c := Capability{}
	if name, ok := obj["name"].(string); ok {
		c.Name = name
	}
	if desc, ok := obj["description"].(string); ok {
		c.Description = desc
	}
	if handler, ok := obj["custom_input_handler"].(string); ok {
		c.CustomInputHandler = handler
	}
	return c
}
