// Package planner implements the Planner (spec.md §4.5): feasibility gate,
// LLM-backed plan generation, strict parsing, and schema-driven
// validation/repair against the capability catalog.
package planner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Step is one (agent, capability) pair in a plan.
type Step struct {
	Agent      string
	Capability string
}

// Plan is an ordered sequence of steps.
type Plan []Step

const arrow = "→" // U+2192, canonical arrow

// stepLineRe accepts both the canonical arrow and the ASCII "->" on input;
// agent/capability tokens are identifier-like (letters, digits, '_', '-').
var stepLineRe = regexp.MustCompile(`^\s*(\d+)\.\s*([A-Za-z0-9_\-]+)\s*(?:` + arrow + `|->)\s*([A-Za-z0-9_\-]+)\s*$`)

// MatchLine attempts to parse a single plan-text line into a Step using
// the same grammar the Planner and Executor both rely on (spec.md §4.6:
// "Parse plan text into steps using the same regex as the Planner").
func MatchLine(line string) (Step, bool) {
	m := stepLineRe.FindStringSubmatch(line)
	if m == nil {
		return Step{}, false
	}
	return Step{Agent: m[2], Capability: m[3]}, true
}

// Parse extracts steps from plan text. Lines that don't match the
// numbered-step pattern are ignored -- no prose passes through (spec.md
// §4.5 "Parsing").
func Parse(text string) Plan {
	var plan Plan
	for _, line := range strings.Split(text, "\n") {
		if step, ok := MatchLine(line); ok {
			plan = append(plan, step)
		}
	}
	return plan
}

// Render renders steps back to canonical text, renumbering from 1 with
// the canonical U+2192 arrow (spec.md §4.5 "Emit").
func Render(plan Plan) string {
	lines := make([]string, 0, len(plan))
	for i, step := range plan {
		lines = append(lines, fmt.Sprintf("%s. %s %s %s", strconv.Itoa(i+1), step.Agent, arrow, step.Capability))
	}
	return strings.Join(lines, "\n")
}
