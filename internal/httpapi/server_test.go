package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcoreai/orchestrator/internal/llmclient"
	"github.com/clearcoreai/orchestrator/internal/planner"
	"github.com/clearcoreai/orchestrator/internal/registry"
	"github.com/clearcoreai/orchestrator/internal/water"
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

func newTestServer(t *testing.T, llm *scriptedClient) (*Server, *registry.Registry) {
	t.Helper()
	store := registry.NewFileStore(filepath.Join(t.TempDir(), "registry.json"))
	reg, err := registry.New(context.Background(), store)
	require.NoError(t, err)

	acct := water.New(filepath.Join(t.TempDir(), "aiwaterdrops.json"))
	pl := planner.New(llm)

	return New(reg, pl, acct, loggerForTest{}), reg
}

type loggerForTest struct{}

func (loggerForTest) Info(string, map[string]interface{})                              {}
func (loggerForTest) Warn(string, map[string]interface{})                              {}
func (loggerForTest) Error(string, map[string]interface{})                             {}
func (loggerForTest) Debug(string, map[string]interface{})                             {}
func (loggerForTest) InfoWithContext(context.Context, string, map[string]interface{})  {}
func (loggerForTest) WarnWithContext(context.Context, string, map[string]interface{})  {}
func (loggerForTest) ErrorWithContext(context.Context, string, map[string]interface{}) {}
func (loggerForTest) DebugWithContext(context.Context, string, map[string]interface{}) {}

func TestHealth_ReportsRegisteredAgents(t *testing.T) {
	srv, reg := newTestServer(t, &scriptedClient{})
	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"capabilities": ["do"]}`))
	}))
	defer agentSrv.Close()
	require.NoError(t, reg.Register(context.Background(), "A", agentSrv.URL))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Router(nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	agents, _ := body["registered_agents"].([]interface{})
	assert.Contains(t, agents, "A")
}

func TestRegisterAgent_MissingBody_Returns400(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedClient{})

	req := httptest.NewRequest(http.MethodPost, "/register_agent", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Router(nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterAgent_Unreachable_Returns400(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedClient{})

	body := `{"name":"A","base_url":"http://127.0.0.1:1"}`
	req := httptest.NewRequest(http.MethodPost, "/register_agent", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router(nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunGoal_EndToEnd_Succeeds(t *testing.T) {
	llm := &scriptedClient{replies: []string{`{"feasible": true}`, "1. A → do"}}
	srv, reg := newTestServer(t, llm)

	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/manifest") {
			w.Write([]byte(`{"capabilities": ["do"]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer agentSrv.Close()
	require.NoError(t, reg.Register(context.Background(), "A", agentSrv.URL))

	body := `{"goal":"do it"}`
	req := httptest.NewRequest(http.MethodPost, "/run_goal", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router(nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1. A → do", resp["plan"])
	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["ok"])
}

func TestPlan_UnsupportedGoal_Returns422(t *testing.T) {
	llm := &scriptedClient{replies: []string{`{"feasible": false}`}}
	srv, reg := newTestServer(t, llm)

	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"capabilities": ["do"]}`))
	}))
	defer agentSrv.Close()
	require.NoError(t, reg.Register(context.Background(), "A", agentSrv.URL))

	body := `{"goal":"do the impossible"}`
	req := httptest.NewRequest(http.MethodPost, "/plan", strings.NewReader(body))
	rec := httptest.NewRecorder()
	srv.Router(nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestExecutePlan_MissingPlan_Returns400(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedClient{})

	req := httptest.NewRequest(http.MethodPost, "/execute_plan", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	srv.Router(nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWaterTotal_ReportsAccumulatedCounter(t *testing.T) {
	srv, _ := newTestServer(t, &scriptedClient{})

	req := httptest.NewRequest(http.MethodGet, "/water/total", nil)
	rec := httptest.NewRecorder()
	srv.Router(nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 0.0, body["total_waterdrops"])
	breakdown, ok := body["breakdown"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, breakdown, "execution")
	assert.Contains(t, breakdown, "planning")
	assert.Contains(t, breakdown, "registration")
	assert.Contains(t, breakdown, "audit")
}

func TestWaterTotal_BreakdownCreditsExecutionAfterRunGoal(t *testing.T) {
	llm := &scriptedClient{replies: []string{`{"feasible": true}`, "1. A → do"}}
	srv, reg := newTestServer(t, llm)

	agentSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/manifest") {
			w.Write([]byte(`{"capabilities": ["do"]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok": true}`))
	}))
	defer agentSrv.Close()
	require.NoError(t, reg.Register(context.Background(), "A", agentSrv.URL))

	req := httptest.NewRequest(http.MethodPost, "/run_goal", strings.NewReader(`{"goal":"do it"}`))
	rec := httptest.NewRecorder()
	srv.Router(nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/water/total", nil)
	rec = httptest.NewRecorder()
	srv.Router(nil).ServeHTTP(rec, req)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	breakdown := body["breakdown"].(map[string]interface{})
	assert.Greater(t, breakdown["execution"], 0.0)
}
