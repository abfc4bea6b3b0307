// Package catalog builds the Capability Catalog (spec.md §4.3): a derived,
// read-only projection of the registry that is the sole artifact passed to
// the LLM for feasibility/planning and to the Planner's validator/repairer.
package catalog

import (
	"sort"

	"github.com/clearcoreai/orchestrator/internal/manifest"
	"github.com/clearcoreai/orchestrator/internal/registry"
)

// CapabilityMeta is the planner-facing metadata for one capability.
type CapabilityMeta struct {
	Description        string `json:"description"`
	CustomInputHandler string `json:"custom_input_handler,omitempty"`
}

// AgentEntry is one agent's projection in the catalog.
type AgentEntry struct {
	Capabilities    []string                  `json:"capabilities"`
	CapabilityMeta  map[string]CapabilityMeta `json:"capability_meta"`
	InputSpec       manifest.Spec             `json:"input_spec,omitempty"`
	OutputSpec      manifest.Spec             `json:"output_spec,omitempty"`
}

// Catalog is the full derived view: agents keyed by name.
type Catalog struct {
	Agents map[string]AgentEntry `json:"agents"`
}

// Build rebuilds the catalog deterministically from a registry snapshot.
// It never mutates the snapshot in place.
func Build(snapshot map[string]*registry.Record) *Catalog {
	c := &Catalog{Agents: make(map[string]AgentEntry, len(snapshot))}
	for name, rec := range snapshot {
		meta := make(map[string]CapabilityMeta, len(rec.Manifest.Capabilities))
		names := make([]string, 0, len(rec.Manifest.Capabilities))
		for _, cap := range rec.Manifest.Capabilities {
			names = append(names, cap.Name)
			meta[cap.Name] = CapabilityMeta{
				Description:        cap.Description,
				CustomInputHandler: cap.CustomInputHandler,
			}
		}
		c.Agents[name] = AgentEntry{
			Capabilities:   names,
			CapabilityMeta: meta,
			InputSpec:      rec.Manifest.InputSpec,
			OutputSpec:     rec.Manifest.OutputSpec,
		}
	}
	return c
}

// HasAgentCapability reports whether agent advertises capability.
func (c *Catalog) HasAgentCapability(agent, capability string) bool {
	entry, ok := c.Agents[agent]
	if !ok {
		return false
	}
	_, ok = entry.CapabilityMeta[capability]
	return ok
}

// IsEmpty reports whether the catalog has no agents at all.
func (c *Catalog) IsEmpty() bool {
	return len(c.Agents) == 0
}

// AnySpecs reports whether at least one agent declares an input or output
// spec -- spec.md §4.5 rule 2: "If no agent declares specs at all, accept
// the remainder as-is."
func (c *Catalog) AnySpecs() bool {
	for _, entry := range c.Agents {
		if entry.InputSpec != nil || entry.OutputSpec != nil {
			return true
		}
	}
	return false
}

// AuditCapability describes a discovered audit meta-capability.
type AuditCapability struct {
	Agent      string
	Capability string
}

// FindAuditCapability locates the audit capability per spec.md §4.5 rule
//3: name equals "audit_trace", or metadata custom_input_handler equals
// "use_execution_trace", or the name contains "audit". Agent names are
// iterated in sorted order so the result is deterministic when multiple
// agents qualify.
func (c *Catalog) FindAuditCapability() (AuditCapability, bool) {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, agent := range names {
		entry := c.Agents[agent]
		caps := append([]string(nil), entry.Capabilities...)
		sort.Strings(caps)
		for _, capName := range caps {
			meta := entry.CapabilityMeta[capName]
			if capName == "audit_trace" ||
				meta.CustomInputHandler == "use_execution_trace" ||
				containsAudit(capName) {
				return AuditCapability{Agent: agent, Capability: capName}, true
			}
		}
	}
	return AuditCapability{}, false
}

func containsAudit(name string) bool {
	for i := 0; i+len("audit") <= len(name); i++ {
		if name[i:i+len("audit")] == "audit" {
			return true
		}
	}
	return false
}

// FindCompatibleSubstitute searches the catalog for another agent that
// advertises capability with an input_spec compatible with prevOutputType,
// excluding the given agent name. Used by the Planner's repair step
// (spec.md §4.5 rule 3).
func (c *Catalog) FindCompatibleSubstitute(capability, excludeAgent, prevOutputType string) (string, bool) {
	names := make([]string, 0, len(c.Agents))
	for name := range c.Agents {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if name == excludeAgent {
			continue
		}
		entry := c.Agents[name]
		if _, ok := entry.CapabilityMeta[capability]; !ok {
			continue
		}
		if entry.InputSpec == nil {
			continue
		}
		if entry.InputSpec.Type() == prevOutputType {
			return name, true
		}
	}
	return "", false
}
