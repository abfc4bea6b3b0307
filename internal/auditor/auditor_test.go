package auditor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcoreai/orchestrator/internal/errorsx"
	"github.com/clearcoreai/orchestrator/internal/llmclient"
)

type scriptedClient struct {
	reply string
}

func (c *scriptedClient) Chat(ctx context.Context, messages []llmclient.Message, opts llmclient.ChatOptions) (string, error) {
	return c.reply, nil
}

func policyServer(t *testing.T, policyBody string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(policyBody))
	}))
}

func TestRun_Success_ReturnsCoercedResult(t *testing.T) {
	srv := policyServer(t, `{"rules": [{"id": "R1", "target": "output.y", "assert": {"required": true}}]}`)
	defer srv.Close()

	trace := &ExecutionTrace{Steps: []StepInput{
		{Agent: "X", Input: map[string]interface{}{"_agent_base_url": srv.URL}, Output: map[string]interface{}{"y": "ok"}},
	}}

	reply := `{"status":"ok","summary":"1/1 agents validated","details":[{"agent":"X","status":"valid","comment":"ok","score":0.9}]}`
	a := New(&scriptedClient{reply: reply})

	result, err := a.Run(context.Background(), trace)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Status)
	require.Len(t, result.Details, 1)
	assert.Equal(t, "X", result.Details[0].Agent)
	assert.Equal(t, "valid", result.Details[0].Status)
	assert.Equal(t, 0.9, result.Details[0].Score)
}

func TestRun_MissingBaseURL_IsPolicyDiscoveryError(t *testing.T) {
	trace := &ExecutionTrace{Steps: []StepInput{
		{Agent: "X", Input: map[string]interface{}{}, Output: map[string]interface{}{}},
	}}

	a := New(&scriptedClient{})
	_, err := a.Run(context.Background(), trace)
	require.Error(t, err)
	assert.Equal(t, errorsx.KindPolicyDiscoveryError, errorsx.KindOf(err))
}

func TestRun_PolicyFetchFails_IsPolicyDiscoveryError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	trace := &ExecutionTrace{Steps: []StepInput{
		{Agent: "X", Input: map[string]interface{}{"_agent_base_url": srv.URL}, Output: nil},
	}}

	a := New(&scriptedClient{})
	_, err := a.Run(context.Background(), trace)
	require.Error(t, err)
	assert.Equal(t, errorsx.KindPolicyDiscoveryError, errorsx.KindOf(err))
}

func TestRun_CoercesUnknownStatusAndClampsScore(t *testing.T) {
	srv := policyServer(t, `{"rules": []}`)
	defer srv.Close()

	trace := &ExecutionTrace{Steps: []StepInput{
		{Agent: "X", Input: map[string]interface{}{"_agent_base_url": srv.URL}, Output: map[string]interface{}{}},
	}}

	reply := `{"status":"weird","summary":"","details":[{"agent":"X","status":"unknown","comment":"","score":5}]}`
	a := New(&scriptedClient{reply: reply})

	result, err := a.Run(context.Background(), trace)
	require.NoError(t, err)
	assert.Equal(t, "partial", result.Status) // derived: one warning, no fail
	require.Len(t, result.Details, 1)
	assert.Equal(t, "warning", result.Details[0].Status)
	assert.Equal(t, "No comment.", result.Details[0].Comment)
	assert.Equal(t, 1.0, result.Details[0].Score)
	assert.Equal(t, "0/1 agents validated", result.Summary)
}

func TestRun_EmptyTrace_IsPolicyDiscoveryError(t *testing.T) {
	a := New(&scriptedClient{})
	_, err := a.Run(context.Background(), &ExecutionTrace{})
	require.Error(t, err)
	assert.Equal(t, errorsx.KindPolicyDiscoveryError, errorsx.KindOf(err))
}

func TestRun_WaterCost_IsFlatPlusPerStep(t *testing.T) {
	srv := policyServer(t, `{"rules": []}`)
	defer srv.Close()

	trace := &ExecutionTrace{Steps: []StepInput{
		{Agent: "X", Input: map[string]interface{}{"_agent_base_url": srv.URL}},
		{Agent: "X", Input: map[string]interface{}{"_agent_base_url": srv.URL}},
	}}

	var got float64
	a := New(&scriptedClient{reply: `{"status":"ok","summary":"s","details":[]}`}, WithWaterSink(waterSinkFunc(func(d float64) { got += d })))

	_, err := a.Run(context.Background(), trace)
	require.NoError(t, err)
	assert.Equal(t, 6+0.5*2, got)
}

type waterSinkFunc func(delta float64)

func (f waterSinkFunc) Increment(delta float64) { f(delta) }
