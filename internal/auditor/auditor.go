// Package auditor implements the Auditor Core (spec.md §4.7): strict
// per-agent policy discovery from an execution trace, a compacted
// trace+policies payload, an LLM-backed verdict, and schema coercion. It
// performs no local rule evaluation -- the LLM's judgment is final.
package auditor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/clearcoreai/orchestrator/internal/corelog"
	"github.com/clearcoreai/orchestrator/internal/errorsx"
	"github.com/clearcoreai/orchestrator/internal/llmclient"
	"github.com/clearcoreai/orchestrator/internal/telemetry"
)

const (
	policyTimeout  = 4 * time.Second
	auditTimeout   = 45 * time.Second
	previewChars   = 800
	previewListCap = 10
	previewMapCap  = 20
)

var validStatuses = map[string]bool{"valid": true, "warning": true, "fail": true}

// StepInput is one step of the trace an Auditor receives, matching the
// wire shape the Executor sends to a meta-capability agent (`{agent,
// input, output, error}`) and the shape accepted directly at POST /run.
type StepInput struct {
	Agent  string      `json:"agent"`
	Input  interface{} `json:"input"`
	Output interface{} `json:"output"`
	Error  *string     `json:"error"`
}

// ExecutionTrace is the full trace body the Auditor audits.
type ExecutionTrace struct {
	Steps []StepInput `json:"steps"`
}

// AuditFeedback is one agent's verdict line.
type AuditFeedback struct {
	Agent   string  `json:"agent"`
	Status  string  `json:"status"`
	Comment string  `json:"comment"`
	Score   float64 `json:"score"`
}

// AuditResult is the full audit produced by a /run call.
type AuditResult struct {
	Status  string          `json:"status"`
	Summary string          `json:"summary"`
	Details []AuditFeedback `json:"details"`
}

// WaterSink accounts the water cost of a completed audit.
type WaterSink interface {
	Increment(delta float64)
}

type noopWaterSink struct{}

func (noopWaterSink) Increment(float64) {}

// Auditor runs the trace -> AuditResult pipeline.
type Auditor struct {
	llm         llmclient.ChatClient
	httpClient  *http.Client
	model       string
	temperature float32
	logger      corelog.Logger
	water       WaterSink
}

// Option configures an Auditor.
type Option func(*Auditor)

func WithLogger(l corelog.Logger) Option       { return func(a *Auditor) { a.logger = l } }
func WithWaterSink(w WaterSink) Option         { return func(a *Auditor) { a.water = w } }
func WithModel(model string) Option            { return func(a *Auditor) { a.model = model } }
func WithHTTPClient(c *http.Client) Option     { return func(a *Auditor) { a.httpClient = c } }

// New builds an Auditor around an LLM chat client.
func New(llm llmclient.ChatClient, opts ...Option) *Auditor {
	a := &Auditor{
		llm:         llm,
		httpClient:  &http.Client{},
		model:       "mistral-small-latest",
		temperature: 0.2,
		logger:      corelog.NoOpLogger{},
		water:       noopWaterSink{},
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run audits trace end to end: strict policy discovery, prompt
// construction, LLM call, and schema coercion.
func (a *Auditor) Run(ctx context.Context, trace *ExecutionTrace) (*AuditResult, error) {
	const op = "auditor.Run"
	ctx, end := telemetry.StartSpan(ctx, op)
	defer func() { end(nil) }()

	if trace == nil || len(trace.Steps) == 0 {
		return nil, errorsx.New(op, errorsx.KindPolicyDiscoveryError, "execution trace has no steps to audit")
	}

	policies, err := a.discoverPolicies(ctx, trace.Steps)
	if err != nil {
		return nil, err
	}

	compact := compactTrace(trace.Steps)
	messages := buildMessages(compact, policies)

	callCtx, cancel := context.WithTimeout(ctx, auditTimeout)
	defer cancel()

	reply, err := a.llm.Chat(callCtx, messages, llmclient.ChatOptions{Model: a.model, Temperature: a.temperature})
	if err != nil {
		return nil, errorsx.Wrap(op, errorsx.KindLLMError, "", err)
	}

	var raw rawAuditReply
	if err := llmclient.ExtractJSONObject(reply, &raw); err != nil {
		return nil, errorsx.Wrap(op, errorsx.KindLLMError, "", fmt.Errorf("unparsable audit reply: %w", err))
	}

	result := coerce(raw)

	a.water.Increment(6 + 0.5*float64(len(trace.Steps)))
	a.logger.InfoWithContext(ctx, "audit completed", map[string]interface{}{"status": result.Status, "agents": len(result.Details)})
	return result, nil
}

// discoverPolicies locates every unique agent's base URL in the trace
// (input then output, first occurrence wins) and fetches its audit
// policy. Any missing URL or unreachable/non-object policy is fatal
// (spec.md §4.7 Phase A).
func (a *Auditor) discoverPolicies(ctx context.Context, steps []StepInput) (map[string]interface{}, error) {
	const op = "auditor.discoverPolicies"

	policies := make(map[string]interface{})
	seen := make(map[string]bool)

	for _, s := range steps {
		if s.Agent == "" || seen[s.Agent] {
			continue
		}
		seen[s.Agent] = true

		baseURL, ok := baseURLFromStep(s)
		if !ok {
			return nil, errorsx.New(op, errorsx.KindPolicyDiscoveryError,
				fmt.Sprintf("missing '_agent_base_url' in step for agent '%s'", s.Agent))
		}

		policy, err := a.fetchPolicy(ctx, baseURL)
		if err != nil {
			return nil, errorsx.Wrap(op, errorsx.KindPolicyDiscoveryError, "", err)
		}
		policies[s.Agent] = policy
	}

	return policies, nil
}

func baseURLFromStep(s StepInput) (string, bool) {
	if url, ok := baseURLFromValue(s.Input); ok {
		return url, true
	}
	return baseURLFromValue(s.Output)
}

func baseURLFromValue(v interface{}) (string, bool) {
	obj, ok := v.(map[string]interface{})
	if !ok {
		return "", false
	}
	url, ok := obj["_agent_base_url"].(string)
	if !ok || strings.TrimSpace(url) == "" {
		return "", false
	}
	return strings.TrimSpace(url), true
}

func (a *Auditor) fetchPolicy(ctx context.Context, baseURL string) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, policyTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/audit_policy", nil)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch audit policy from %s: %w", baseURL, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read audit policy from %s: %w", baseURL, err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("audit policy fetch from %s returned status %d", baseURL, resp.StatusCode)
	}

	var policy map[string]interface{}
	if err := json.Unmarshal(data, &policy); err != nil {
		return nil, fmt.Errorf("policy from %s is not a JSON object: %w", baseURL, err)
	}
	if policy == nil {
		return nil, fmt.Errorf("policy from %s is not a JSON object", baseURL)
	}
	return policy, nil
}

// rawAuditReply is the assistant's loosely-typed JSON reply before
// coercion.
type rawAuditReply struct {
	Status  string                   `json:"status"`
	Summary string                   `json:"summary"`
	Details []map[string]interface{} `json:"details"`
}

func coerce(raw rawAuditReply) *AuditResult {
	result := &AuditResult{Status: strings.ToLower(strings.TrimSpace(raw.Status)), Summary: strings.TrimSpace(raw.Summary)}

	for _, item := range raw.Details {
		agent, _ := item["agent"].(string)
		if agent == "" {
			agent = "unknown"
		}
		status, _ := item["status"].(string)
		status = strings.ToLower(strings.TrimSpace(status))
		if !validStatuses[status] {
			status = "warning"
		}
		comment, _ := item["comment"].(string)
		comment = strings.TrimSpace(comment)
		if comment == "" {
			comment = "No comment."
		}
		score := 0.5
		if v, ok := item["score"].(float64); ok {
			score = v
		}
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		result.Details = append(result.Details, AuditFeedback{Agent: agent, Status: status, Comment: comment, Score: score})
	}

	if len(result.Details) == 0 {
		result.Details = []AuditFeedback{{Agent: "unknown", Status: "warning", Comment: "No details from LLM.", Score: 0.2}}
	}

	if result.Status != "ok" && result.Status != "partial" && result.Status != "fail" {
		result.Status = deriveStatus(result.Details)
	}

	if result.Summary == "" {
		valid := 0
		for _, d := range result.Details {
			if d.Status == "valid" {
				valid++
			}
		}
		result.Summary = fmt.Sprintf("%d/%d agents validated", valid, len(result.Details))
	}

	return result
}

func deriveStatus(details []AuditFeedback) string {
	hasWarning := false
	for _, d := range details {
		if d.Status == "fail" {
			return "fail"
		}
		if d.Status == "warning" {
			hasWarning = true
		}
	}
	if hasWarning {
		return "partial"
	}
	return "ok"
}

// buildMessages assembles the strict system/user prompt pair (spec.md
// §4.7 Phase B).
func buildMessages(compact []map[string]interface{}, policies map[string]interface{}) []llmclient.Message {
	system := "You are a rigorous pipeline auditor. " +
		"You receive an execution trace (steps from different agents) and each agent's audit policy. " +
		"Audit quality, structure, and consistency against the policies. " +
		"Return ONLY a JSON object matching exactly this schema:\n\n" +
		`{"status": "ok"|"partial"|"fail", "summary": "string", ` +
		`"details": [{"agent": "string", "status": "valid"|"warning"|"fail", "comment": "string", "score": 0.0-1.0}]}` + "\n\n" +
		"Rules:\n" +
		"- Use 'valid' if output looks coherent and non-empty, 'warning' for suspicious/short/partial output, 'fail' if errors or missing critical data.\n" +
		"- The global 'status' is 'ok' if all are valid, 'partial' if a mix of valid/warning, 'fail' if any fail.\n" +
		"- 'score' reflects confidence in [0.0, 1.0].\n" +
		"- Follow the supplied policies strictly; do not inflate scores when evidence is weak.\n" +
		"- Do not include extra keys or commentary outside the JSON object."

	policiesJSON, _ := json.Marshal(policies)
	traceJSON, _ := json.Marshal(map[string]interface{}{"steps": compact})

	user := fmt.Sprintf("Policies (MUST FOLLOW):\n%s\n\nCompact execution trace:\n%s", string(policiesJSON), string(traceJSON))

	return []llmclient.Message{
		{Role: llmclient.RoleSystem, Content: system},
		{Role: llmclient.RoleUser, Content: user},
	}
}

// compactTrace makes the trace token-safe for the prompt (spec.md §4.7
// Phase B): previews truncate strings to ~800 chars, lists to <=10
// entries, and maps to <=20 keys, recursively.
func compactTrace(steps []StepInput) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(steps))
	for _, s := range steps {
		var errVal interface{}
		if s.Error != nil {
			errVal = *s.Error
		}
		out = append(out, map[string]interface{}{
			"agent":          s.Agent,
			"has_error":      s.Error != nil,
			"input_preview":  preview(s.Input),
			"output_preview": preview(s.Output),
			"error":          errVal,
		})
	}
	return out
}

func preview(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return truncate(val)
	case float64, int, bool:
		return val
	case []interface{}:
		n := len(val)
		if n > previewListCap {
			n = previewListCap
		}
		items := make([]interface{}, n)
		for i := 0; i < n; i++ {
			items[i] = preview(val[i])
		}
		return items
	case map[string]interface{}:
		out := make(map[string]interface{}, previewMapCap)
		i := 0
		for k, item := range val {
			if i >= previewMapCap {
				break
			}
			out[k] = preview(item)
			i++
		}
		return out
	default:
		return truncate(fmt.Sprintf("%v", val))
	}
}

func truncate(s string) string {
	if len(s) <= previewChars {
		return s
	}
	return s[:previewChars]
}
