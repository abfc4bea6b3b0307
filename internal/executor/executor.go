package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/clearcoreai/orchestrator/internal/breaker"
	"github.com/clearcoreai/orchestrator/internal/corelog"
	"github.com/clearcoreai/orchestrator/internal/planner"
	"github.com/clearcoreai/orchestrator/internal/registry"
	"github.com/clearcoreai/orchestrator/internal/telemetry"
)

const (
	executeTimeout          = 30 * time.Second
	metaUseExecutionTrace   = "use_execution_trace"
	fieldAgentBaseURL       = "_agent_base_url"
	fieldWaterdropsUsed     = "waterdrops_used"
	flatWaterCostPerExecute = 0.02
)

// WaterSink accounts the flat per-plan-execution water cost.
type WaterSink interface {
	Increment(delta float64)
}

type noopWaterSink struct{}

func (noopWaterSink) Increment(float64) {}

// Executor dispatches plan steps sequentially against a point-in-time
// registry snapshot (spec.md §5: "Registry reads during a plan take a
// consistent snapshot").
type Executor struct {
	snapshot map[string]*registry.Record
	client   *http.Client
	breakers *breaker.Registry
	logger   corelog.Logger
	water    WaterSink
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(l corelog.Logger) Option { return func(e *Executor) { e.logger = l } }
func WithWaterSink(w WaterSink) Option   { return func(e *Executor) { e.water = w } }
func WithHTTPClient(c *http.Client) Option {
	return func(e *Executor) { e.client = c }
}

// New builds an Executor bound to a registry snapshot taken at plan start.
func New(snapshot map[string]*registry.Record, opts ...Option) *Executor {
	e := &Executor{
		snapshot: snapshot,
		client:   &http.Client{},
		breakers: breaker.NewRegistry(),
		logger:   corelog.NoOpLogger{},
		water:    noopWaterSink{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes planText step by step, returning the full trace. It never
// returns an error: every failure mode is represented inside the trace
// itself (spec.md §7: "The Executor does not raise on agent errors").
func (e *Executor) Run(ctx context.Context, planText string) *ExecutionTrace {
	const op = "executor.Run"
	ctx, end := telemetry.StartSpan(ctx, op)
	defer func() { end(nil) }()

	trace := &ExecutionTrace{RunID: uuid.NewString()}
	var context_, businessContext interface{}
	stepNum := 0

	for _, line := range splitLines(planText) {
		if isBlank(line) {
			continue
		}

		step, ok := planner.MatchLine(line)
		if !ok {
			stepNum++
			trace.Steps = append(trace.Steps, StepTrace{
				Step:    stepNum,
				Error:   errString("Unrecognized format"),
				Skipped: true,
			})
			continue
		}
		stepNum++

		rec, registered := e.snapshot[step.Agent]
		if !registered {
			trace.Steps = append(trace.Steps, StepTrace{
				Step:       stepNum,
				Agent:      step.Agent,
				Capability: step.Capability,
				Error:      errString(fmt.Sprintf("Agent '%s' is not registered", step.Agent)),
			})
			continue
		}

		if !rec.Manifest.HasCapability(step.Capability) {
			trace.Steps = append(trace.Steps, StepTrace{
				Step:       stepNum,
				Agent:      step.Agent,
				Capability: step.Capability,
				Skipped:    true,
				Reason:     "Capability not advertised by agent manifest",
			})
			continue
		}

		meta, _ := rec.Manifest.CapabilityMeta(step.Capability)
		isMeta := meta.CustomInputHandler == metaUseExecutionTrace

		payload := buildPayload(context_, rec.BaseURL, isMeta, trace.Steps)

		output, err := e.dispatch(ctx, rec.Name, rec.BaseURL, step.Capability, payload)
		if err != nil {
			e.logger.ErrorWithContext(ctx, "step dispatch failed, halting plan", map[string]interface{}{
				"agent": step.Agent, "capability": step.Capability, "error": err.Error(),
			})
			trace.Steps = append(trace.Steps, StepTrace{
				Step:       stepNum,
				Agent:      step.Agent,
				Capability: step.Capability,
				InputUsed:  payload,
				Output:     nil,
				Error:      errString(err.Error()),
			})
			break // halt: no subsequent steps are attempted
		}

		annotateBaseURL(output, rec.BaseURL)
		trace.Steps = append(trace.Steps, StepTrace{
			Step:       stepNum,
			Agent:      step.Agent,
			Capability: step.Capability,
			InputUsed:  payload,
			Output:     output,
			Error:      nil,
		})

		context_ = output
		if !isMeta {
			businessContext = output
		}
	}

	if businessContext != nil {
		trace.FinalOutput = businessContext
	} else {
		trace.FinalOutput = context_
	}
	trace.TotalWaterdropsUsed = extractWaterdrops(trace.FinalOutput)

	e.water.Increment(flatWaterCostPerExecute)
	e.logger.InfoWithContext(ctx, "plan execution finished", map[string]interface{}{
		"run_id": trace.RunID, "steps": len(trace.Steps),
	})
	return trace
}

// dispatch POSTs {capability, input: payload} to {baseURL}/execute through
// the agent's circuit breaker, with a 30s timeout.
func (e *Executor) dispatch(ctx context.Context, breakerName, baseURL, capability string, payload map[string]interface{}) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	body, err := json.Marshal(map[string]interface{}{"capability": capability, "input": payload})
	if err != nil {
		return nil, fmt.Errorf("marshal execute payload: %w", err)
	}

	result, err := e.breakers.Do(breakerName, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/execute", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("agent returned status %d: %s", resp.StatusCode, string(data))
		}

		var parsed interface{}
		if err := json.Unmarshal(data, &parsed); err != nil {
			return nil, fmt.Errorf("agent response is not valid JSON: %w", err)
		}
		return parsed, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// buildPayload implements spec.md §4.6 step 3.
func buildPayload(rollingContext interface{}, baseURL string, isMeta bool, priorSteps []StepTrace) map[string]interface{} {
	var payload map[string]interface{}

	switch v := rollingContext.(type) {
	case nil:
		payload = map[string]interface{}{}
	case map[string]interface{}:
		payload = make(map[string]interface{}, len(v))
		for k, val := range v {
			if k == fieldWaterdropsUsed {
				continue
			}
			payload[k] = val
		}
	default:
		payload = map[string]interface{}{"_value": rollingContext}
	}

	if isMeta {
		payload = traceProjection(priorSteps)
	}

	payload[fieldAgentBaseURL] = baseURL
	return payload
}

// traceProjection builds the {steps: [{agent, input, output, error}]}
// shape a meta-capability (custom_input_handler == "use_execution_trace")
// receives as input.
func traceProjection(priorSteps []StepTrace) map[string]interface{} {
	steps := make([]map[string]interface{}, 0, len(priorSteps))
	for _, s := range priorSteps {
		var errVal interface{}
		if s.Error != nil {
			errVal = *s.Error
		}
		steps = append(steps, map[string]interface{}{
			"agent":  s.Agent,
			"input":  s.InputUsed,
			"output": s.Output,
			"error":  errVal,
		})
	}
	return map[string]interface{}{"steps": steps}
}

// annotateBaseURL sets _agent_base_url on output if it is a JSON object.
// Idempotent: re-setting the same key on an already-annotated output is a
// no-op in effect.
func annotateBaseURL(output interface{}, baseURL string) {
	if obj, ok := output.(map[string]interface{}); ok {
		obj[fieldAgentBaseURL] = baseURL
	}
}

// extractWaterdrops reads final_output.waterdrops_used when output is an
// object carrying that field, else 0.
func extractWaterdrops(finalOutput interface{}) float64 {
	obj, ok := finalOutput.(map[string]interface{})
	if !ok {
		return 0
	}
	v, ok := obj[fieldWaterdropsUsed]
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return f
}

func splitLines(text string) []string {
	var lines []string
	start := 0
	for i, r := range text {
		if r == '\n' {
			lines = append(lines, text[start:i])
			start = i + 1
		}
	}
	lines = append(lines, text[start:])
	return lines
}

func isBlank(line string) bool {
	for _, r := range line {
		if r != ' ' && r != '\t' && r != '\r' {
			return false
		}
	}
	return true
}
