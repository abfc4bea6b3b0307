package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_AcceptsArrowAndAsciiArrow(t *testing.T) {
	text := "1. A → do\n2. B -> work\nsome prose line\n"
	plan := Parse(text)
	assert.Equal(t, Plan{{Agent: "A", Capability: "do"}, {Agent: "B", Capability: "work"}}, plan)
}

func TestRenderParseRoundTrip(t *testing.T) {
	plan := Plan{{Agent: "A", Capability: "do"}, {Agent: "B", Capability: "work"}}
	rendered := Render(plan)
	assert.Equal(t, "1. A → do\n2. B → work", rendered)
	assert.Equal(t, plan, Parse(rendered))
}

func TestParse_IgnoresProse(t *testing.T) {
	plan := Parse("Sure, here is the plan:\n1. A → do\nThanks!")
	assert.Equal(t, Plan{{Agent: "A", Capability: "do"}}, plan)
}
