package planner

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcoreai/orchestrator/internal/catalog"
	"github.com/clearcoreai/orchestrator/internal/errorsx"
	"github.com/clearcoreai/orchestrator/internal/llmclient"
)

type scriptedClient struct {
	replies []string
	calls   int
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llmclient.Message, opts llmclient.ChatOptions) (string, error) {
	reply := c.replies[c.calls]
	c.calls++
	return reply, nil
}

type erroringClient struct{ err error }

func (c *erroringClient) Chat(ctx context.Context, messages []llmclient.Message, opts llmclient.ChatOptions) (string, error) {
	return "", c.err
}

func catalogWithOneAgent() *catalog.Catalog {
	return &catalog.Catalog{Agents: map[string]catalog.AgentEntry{
		"A": {Capabilities: []string{"do"}, CapabilityMeta: map[string]catalog.CapabilityMeta{"do": {}}},
	}}
}

func TestPlan_SingleStepSuccess(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"feasible": true}`, "1. A → do"}}
	p := New(client)

	plan, err := p.Plan(context.Background(), "do it", catalogWithOneAgent())
	require.NoError(t, err)
	assert.Equal(t, "1. A → do", plan)
}

func TestPlan_FeasibilityFalse_IsUnsupportedGoal(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"feasible": false}`}}
	p := New(client)

	_, err := p.Plan(context.Background(), "do the impossible", catalogWithOneAgent())
	require.Error(t, err)
	assert.Equal(t, errorsx.KindUnsupportedGoal, errorsx.KindOf(err))
}

func TestPlan_FeasibilityGateLLMError_IsLLMError(t *testing.T) {
	client := &erroringClient{err: fmt.Errorf("missing API key")}
	p := New(client)

	_, err := p.Plan(context.Background(), "do it", catalogWithOneAgent())
	require.Error(t, err)
	assert.Equal(t, errorsx.KindLLMError, errorsx.KindOf(err))
}

func TestPlan_EmptyCatalog_NoExecutableSteps(t *testing.T) {
	client := &scriptedClient{}
	p := New(client)

	_, err := p.Plan(context.Background(), "do it", &catalog.Catalog{Agents: map[string]catalog.AgentEntry{}})
	require.Error(t, err)
	assert.Equal(t, errorsx.KindNoExecutableSteps, errorsx.KindOf(err))
}

func TestPlan_LLMUnsupportedReply(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"feasible": true}`, "UNSUPPORTED | no agent can do this"}}
	p := New(client)

	_, err := p.Plan(context.Background(), "do it", catalogWithOneAgent())
	require.Error(t, err)
	assert.Equal(t, errorsx.KindUnsupportedGoal, errorsx.KindOf(err))
}

func TestPlan_SpecBasedRepair(t *testing.T) {
	cat := &catalog.Catalog{Agents: map[string]catalog.AgentEntry{
		"A": {Capabilities: []string{"do"}, CapabilityMeta: map[string]catalog.CapabilityMeta{"do": {}}, OutputSpec: map[string]interface{}{"type": "x"}},
		"B": {Capabilities: []string{"work"}, CapabilityMeta: map[string]catalog.CapabilityMeta{"work": {}}, InputSpec: map[string]interface{}{"type": "y"}, OutputSpec: map[string]interface{}{"type": "z"}},
		"C": {Capabilities: []string{"work"}, CapabilityMeta: map[string]catalog.CapabilityMeta{"work": {}}, InputSpec: map[string]interface{}{"type": "x"}, OutputSpec: map[string]interface{}{"type": "z"}},
	}}

	client := &scriptedClient{replies: []string{`{"feasible": true}`, "1. A → do\n2. B → work"}}
	p := New(client)

	plan, err := p.Plan(context.Background(), "do then work", cat)
	require.NoError(t, err)
	assert.Equal(t, "1. A → do\n2. C → work", plan)
}

func TestPlan_AppendsTerminalAudit(t *testing.T) {
	cat := &catalog.Catalog{Agents: map[string]catalog.AgentEntry{
		"A": {Capabilities: []string{"do"}, CapabilityMeta: map[string]catalog.CapabilityMeta{"do": {}}},
		"Auditor": {Capabilities: []string{"audit_trace"}, CapabilityMeta: map[string]catalog.CapabilityMeta{"audit_trace": {}}},
	}}

	client := &scriptedClient{replies: []string{`{"feasible": true}`, "1. A → do"}}
	p := New(client)

	plan, err := p.Plan(context.Background(), "do it", cat)
	require.NoError(t, err)
	assert.Equal(t, "1. A → do\n2. Auditor → audit_trace", plan)
}

func TestPlan_AllStepsDropped_NoExecutableSteps_EvenWithAuditCapability(t *testing.T) {
	cat := &catalog.Catalog{Agents: map[string]catalog.AgentEntry{
		"Auditor": {Capabilities: []string{"audit_trace"}, CapabilityMeta: map[string]catalog.CapabilityMeta{"audit_trace": {}}},
	}}

	client := &scriptedClient{replies: []string{`{"feasible": true}`, "1. Ghost → nope"}}
	p := New(client)

	_, err := p.Plan(context.Background(), "do it", cat)
	require.Error(t, err)
	assert.Equal(t, errorsx.KindNoExecutableSteps, errorsx.KindOf(err))
}

func TestPlan_DropsStepsNotInCatalog(t *testing.T) {
	client := &scriptedClient{replies: []string{`{"feasible": true}`, "1. A → do\n2. Ghost → nope"}}
	p := New(client)

	plan, err := p.Plan(context.Background(), "do it", catalogWithOneAgent())
	require.NoError(t, err)
	assert.Equal(t, "1. A → do", plan)
}
