package planner

import "github.com/clearcoreai/orchestrator/internal/catalog"

// validateAndRepair implements spec.md §4.5's "Validation & repair" state.
func validateAndRepair(plan Plan, cat *catalog.Catalog) (Plan, error) {
	// Rule 1: drop any pair not present in the catalog.
	filtered := make(Plan, 0, len(plan))
	for _, step := range plan {
		if cat.HasAgentCapability(step.Agent, step.Capability) {
			filtered = append(filtered, step)
		}
	}

	// Rule 2: if no agent declares specs at all, accept the remainder as-is.
	var repaired Plan
	if !cat.AnySpecs() {
		repaired = filtered
	} else {
		repaired = repairBySpecCompatibility(filtered, cat)
	}

	// Rule 4: ensure a single terminal audit step.
	repaired = ensureTerminalAudit(repaired, cat)

	return repaired, nil
}

// repairBySpecCompatibility walks steps left-to-right enforcing
// compatible(prev_out, curr_in), substituting or dropping incompatible
// steps (spec.md §4.5 rule 3).
func repairBySpecCompatibility(plan Plan, cat *catalog.Catalog) Plan {
	var out Plan
	var prevOutType string
	havePrev := false

	for _, step := range plan {
		entry := cat.Agents[step.Agent]

		if !havePrev {
			out = append(out, step)
			prevOutType = entry.OutputSpec.Type()
			havePrev = entry.OutputSpec != nil
			continue
		}

		currType := entry.InputSpec.Type()
		if entry.InputSpec == nil || currType == prevOutType {
			out = append(out, step)
			if entry.OutputSpec != nil {
				prevOutType = entry.OutputSpec.Type()
			}
			continue
		}

		// Incompatible: search for a substitute agent offering the same
		// capability with a compatible input_spec.
		if substitute, ok := cat.FindCompatibleSubstitute(step.Capability, step.Agent, prevOutType); ok {
			subEntry := cat.Agents[substitute]
			out = append(out, Step{Agent: substitute, Capability: step.Capability})
			if subEntry.OutputSpec != nil {
				prevOutType = subEntry.OutputSpec.Type()
			}
			continue
		}
		// Otherwise drop the step; prevOutType/havePrev carry forward unchanged.
	}

	return out
}

// ensureTerminalAudit appends the catalog's detected audit capability as
// the final step if it isn't already present exactly once at the end. A
// plan that was repaired down to nothing stays empty: there is no
// executable work to append a terminal audit onto, so the caller's
// no-executable-steps rejection takes over instead.
func ensureTerminalAudit(plan Plan, cat *catalog.Catalog) Plan {
	if len(plan) == 0 {
		return plan
	}

	ac, ok := cat.FindAuditCapability()
	if !ok {
		return plan
	}

	out := make(Plan, 0, len(plan)+1)
	for _, step := range plan {
		if step.Agent == ac.Agent && step.Capability == ac.Capability {
			continue
		}
		out = append(out, step)
	}

	return append(out, Step{Agent: ac.Agent, Capability: ac.Capability})
}
