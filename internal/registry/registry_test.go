package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clearcoreai/orchestrator/internal/errorsx"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store := NewFileStore(filepath.Join(t.TempDir(), "registry.json"))
	r, err := New(context.Background(), store)
	require.NoError(t, err)
	return r
}

func agentServer(t *testing.T, manifestBody, metricsBody string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(manifestBody))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(metricsBody))
	})
	return httptest.NewServer(mux)
}

func TestRegister_Success(t *testing.T) {
	srv := agentServer(t, `{"capabilities": ["do"], "output_spec": {"type": "x"}}`, `{"aiwaterdrops_consumed": 1}`)
	defer srv.Close()

	r := newTestRegistry(t)
	err := r.Register(context.Background(), "A", srv.URL)
	require.NoError(t, err)

	m, err := r.GetManifest("A")
	require.NoError(t, err)
	assert.True(t, m.HasCapability("do"))
}

func TestRegister_Unreachable(t *testing.T) {
	r := newTestRegistry(t)
	err := r.Register(context.Background(), "A", "http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, errorsx.KindUnreachableAgent, errorsx.KindOf(err))
}

func TestRegister_BadManifest(t *testing.T) {
	srv := agentServer(t, `{}`, `{}`)
	defer srv.Close()

	r := newTestRegistry(t)
	err := r.Register(context.Background(), "A", srv.URL)
	require.Error(t, err)
	assert.Equal(t, errorsx.KindBadManifest, errorsx.KindOf(err))
}

func TestGetManifest_NotFound(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.GetManifest("missing")
	require.Error(t, err)
	assert.Equal(t, errorsx.KindNotFound, errorsx.KindOf(err))
}

func TestReRegistration_ReplacesRecord(t *testing.T) {
	srv1 := agentServer(t, `{"capabilities": ["do"]}`, `{}`)
	defer srv1.Close()
	srv2 := agentServer(t, `{"capabilities": ["work"]}`, `{}`)
	defer srv2.Close()

	r := newTestRegistry(t)
	require.NoError(t, r.Register(context.Background(), "A", srv1.URL))
	require.NoError(t, r.Register(context.Background(), "A", srv2.URL))

	m, err := r.GetManifest("A")
	require.NoError(t, err)
	assert.False(t, m.HasCapability("do"))
	assert.True(t, m.HasCapability("work"))
}

func TestDetectConnections(t *testing.T) {
	srvA := agentServer(t, `{"capabilities": ["do"], "output_spec": {"type": "x"}}`, `{}`)
	defer srvA.Close()
	srvB := agentServer(t, `{"capabilities": ["work"], "input_spec": {"type": "x"}}`, `{}`)
	defer srvB.Close()

	r := newTestRegistry(t)
	require.NoError(t, r.Register(context.Background(), "A", srvA.URL))
	require.NoError(t, r.Register(context.Background(), "B", srvB.URL))

	conns := r.DetectConnections()
	require.Len(t, conns, 1)
	assert.Equal(t, "A", conns[0].From)
	assert.Equal(t, "B", conns[0].To)
}

func TestAggregateMetrics_IsolatesFailures(t *testing.T) {
	srvA := agentServer(t, `{"capabilities": ["do"]}`, `{"ok": true}`)
	defer srvA.Close()

	mux := http.NewServeMux()
	mux.HandleFunc("/manifest", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"capabilities": ["work"]}`))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srvB := httptest.NewServer(mux)
	defer srvB.Close()

	r := newTestRegistry(t)
	require.NoError(t, r.Register(context.Background(), "A", srvA.URL))
	require.NoError(t, r.Register(context.Background(), "B", srvB.URL))

	metrics := r.AggregateMetrics(context.Background())
	require.Contains(t, metrics, "A")
	require.Contains(t, metrics, "B")
	bErr, ok := metrics["B"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, bErr, "error")
}
