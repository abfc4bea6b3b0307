package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/clearcoreai/orchestrator/internal/catalog"
	"github.com/clearcoreai/orchestrator/internal/corelog"
	"github.com/clearcoreai/orchestrator/internal/errorsx"
	"github.com/clearcoreai/orchestrator/internal/llmclient"
	"github.com/clearcoreai/orchestrator/internal/telemetry"
)

const (
	feasibilityTimeout = 20 * time.Second
	generationTimeout  = 30 * time.Second
)

// WaterSink accounts the water cost of a successfully emitted plan.
type WaterSink interface {
	Increment(delta float64)
}

type noopWaterSink struct{}

func (noopWaterSink) Increment(float64) {}

// Planner runs the goal -> plan state machine of spec.md §4.5:
// Idle -> CollectCatalog -> FeasibilityGate -> Generate -> Parse ->
// ValidateRepair -> Emit | Reject.
type Planner struct {
	llm         llmclient.ChatClient
	model       string
	temperature float32
	logger      corelog.Logger
	water       WaterSink
}

// Option configures a Planner.
type Option func(*Planner)

func WithLogger(l corelog.Logger) Option   { return func(p *Planner) { p.logger = l } }
func WithWaterSink(w WaterSink) Option     { return func(p *Planner) { p.water = w } }
func WithModel(model string) Option        { return func(p *Planner) { p.model = model } }
func WithTemperature(t float32) Option     { return func(p *Planner) { p.temperature = t } }

// New builds a Planner around an LLM chat client.
func New(llm llmclient.ChatClient, opts ...Option) *Planner {
	p := &Planner{
		llm:         llm,
		model:       "mistral-large-latest",
		temperature: 0.2,
		logger:      corelog.NoOpLogger{},
		water:       noopWaterSink{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// feasibilityReply is the strict {"feasible": bool} shape the gate expects.
type feasibilityReply struct {
	Feasible bool `json:"feasible"`
}

// Plan runs the full state machine for goal against cat and returns the
// canonical plan text.
func (p *Planner) Plan(ctx context.Context, goal string, cat *catalog.Catalog) (string, error) {
	const op = "planner.Plan"

	ctx, end := telemetry.StartSpan(ctx, op)
	defer func() { end(nil) }()

	if cat.IsEmpty() {
		return "", errorsx.New(op, errorsx.KindNoExecutableSteps, "no agents are registered")
	}

	feasible, reason, err := p.checkFeasibility(ctx, goal, cat)
	if err != nil {
		p.logger.WarnWithContext(ctx, "feasibility gate could not reach the LLM", map[string]interface{}{"error": err.Error()})
		return "", errorsx.Wrap(op, errorsx.KindLLMError, "", err)
	}
	if !feasible {
		msg := "Unsupported goal: goal is not achievable with the registered agents"
		if reason != "" {
			msg = "Unsupported goal: " + reason
		}
		return "", errorsx.New(op, errorsx.KindUnsupportedGoal, msg)
	}

	raw, err := p.generate(ctx, goal, cat)
	if err != nil {
		return "", errorsx.Wrap(op, errorsx.KindLLMError, "", err)
	}

	if reason, ok := unsupportedReason(raw); ok {
		return "", errorsx.New(op, errorsx.KindUnsupportedGoal, "Unsupported goal: "+reason)
	}

	parsed := Parse(raw)
	repaired, err := validateAndRepair(parsed, cat)
	if err != nil {
		return "", err
	}
	if len(repaired) == 0 {
		return "", errorsx.New(op, errorsx.KindNoExecutableSteps, "no steps survived validation against the catalog")
	}

	p.water.Increment(1)
	text := Render(repaired)
	p.logger.InfoWithContext(ctx, "plan emitted", map[string]interface{}{"goal": goal, "steps": len(repaired)})
	return text, nil
}

func unsupportedReason(raw string) (string, bool) {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(strings.ToUpper(trimmed), "UNSUPPORTED") {
		return "", false
	}
	parts := strings.SplitN(trimmed, "|", 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[1]), true
	}
	return "goal declared unsupported by the planner", true
}

// checkFeasibility sends the strict feasibility prompt. An API error or an
// unparsable reply is returned as an error, which the caller reports as
// KindLLMError rather than as an infeasible goal.
func (p *Planner) checkFeasibility(ctx context.Context, goal string, cat *catalog.Catalog) (bool, string, error) {
	ctx, cancel := context.WithTimeout(ctx, feasibilityTimeout)
	defer cancel()

	catalogJSON, err := json.Marshal(cat)
	if err != nil {
		return false, "", fmt.Errorf("marshal catalog: %w", err)
	}

	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: "You are a feasibility gate for a multi-agent orchestrator. " +
			"Given a JSON capability catalog and a user goal, answer ONLY with a JSON object " +
			`{"feasible": true} or {"feasible": false}. No prose, no markdown.`},
		{Role: llmclient.RoleUser, Content: fmt.Sprintf("Catalog:\n%s\n\nGoal: %s", string(catalogJSON), goal)},
	}

	reply, err := p.llm.Chat(ctx, messages, llmclient.ChatOptions{Model: p.model, Temperature: 0})
	if err != nil {
		return false, "", err
	}

	var parsed feasibilityReply
	if err := llmclient.ExtractJSONObject(reply, &parsed); err != nil {
		return false, "", fmt.Errorf("unparsable feasibility reply: %w", err)
	}
	return parsed.Feasible, "", nil
}

// generate sends the catalog + goal and the strict generation prompt.
func (p *Planner) generate(ctx context.Context, goal string, cat *catalog.Catalog) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, generationTimeout)
	defer cancel()

	catalogJSON, err := json.Marshal(cat)
	if err != nil {
		return "", fmt.Errorf("marshal catalog: %w", err)
	}

	auditHint := ""
	if ac, ok := cat.FindAuditCapability(); ok {
		auditHint = fmt.Sprintf("\n4. An audit capability exists (%s -> %s); include it exactly once as the final step.", ac.Agent, ac.Capability)
	}

	system := "You plan executions for a multi-agent orchestrator.\n" +
		"Rules:\n" +
		"1. Use only agent names and capability names present in the catalog.\n" +
		"2. Output ONLY numbered steps in the form \"N. <agent> " + arrow + " <capability>\", one per line. No prose.\n" +
		"3. If the goal cannot be achieved with the catalog, output exactly \"UNSUPPORTED | <reason>\" and nothing else." +
		auditHint

	messages := []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: system},
		{Role: llmclient.RoleUser, Content: fmt.Sprintf("Catalog:\n%s\n\nGoal: %s", string(catalogJSON), goal)},
	}

	return p.llm.Chat(ctx, messages, llmclient.ChatOptions{Model: p.model, Temperature: p.temperature})
}
