// Package registry implements the Agent Registry (spec.md §4.2): an
// in-memory, reader/writer-locked map from agent name to its base URL and
// normalized manifest, with an atomically persisted JSON snapshot.
package registry

import (
	"github.com/clearcoreai/orchestrator/internal/manifest"
)

// Record is a registered agent: its reachable base URL and normalized
// manifest. Once stored, BaseURL is immutable for the record's lifetime;
// re-registration of the same name replaces the whole record.
type Record struct {
	Name     string             `json:"-"`
	BaseURL  string             `json:"base_url"`
	Manifest *manifest.Manifest `json:"manifest"`
}

// CapabilityNames returns the agent's capability names, in manifest order
// -- used for the backward-compatible "capabilities: [str]" catalog shape.
func (r *Record) CapabilityNames() []string {
	names := make([]string, 0, len(r.Manifest.Capabilities))
	for _, c := range r.Manifest.Capabilities {
		names = append(names, c.Name)
	}
	return names
}

// snapshotRecord is the on-disk/on-wire shape of a Record: spec.md's
// persisted registry snapshot is `{agent_name: {base_url, manifest,
// capabilities}}`, carrying a redundant capabilities list for tooling that
// reads the snapshot file directly without re-deriving it from the manifest.
type snapshotRecord struct {
	BaseURL      string             `json:"base_url"`
	Manifest     *manifest.Manifest `json:"manifest"`
	Capabilities []string           `json:"capabilities"`
}
