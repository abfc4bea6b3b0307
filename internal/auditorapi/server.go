// Package auditorapi is the Auditor process's thin HTTP surface (spec.md
// §6): it is itself a registrable agent (GET /manifest, GET /metrics) as
// well as the audit endpoint pair (POST /run, POST /execute).
package auditorapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/clearcoreai/orchestrator/internal/auditor"
	"github.com/clearcoreai/orchestrator/internal/corelog"
	"github.com/clearcoreai/orchestrator/internal/errorsx"
	"github.com/clearcoreai/orchestrator/internal/httpx"
)

const (
	agentName = "auditor agent"
	version   = "0.3.0"
)

// WaterAccountant is the slice of internal/water.Accountant's API the
// surface needs to answer /metrics.
type WaterAccountant interface {
	Get() float64
}

// manifestDoc is the static manifest this process serves at GET /manifest
// so the orchestrator can register it as an ordinary agent.
var manifestDoc = map[string]interface{}{
	"capabilities": []map[string]interface{}{
		{
			"name":                 "audit_trace",
			"description":          "Audit an execution trace against each agent's declared policy.",
			"custom_input_handler": "use_execution_trace",
		},
	},
}

// Server wires the Auditor Core behind the HTTP contract of spec.md §6.
type Server struct {
	auditor   *auditor.Auditor
	water     WaterAccountant
	logger    corelog.Logger
	startedAt time.Time
}

// New builds a Server around a.
func New(a *auditor.Auditor, water WaterAccountant, logger corelog.Logger) *Server {
	return &Server{auditor: a, water: water, logger: logger, startedAt: time.Now()}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/manifest", s.handleManifest)
	r.Get("/metrics", s.handleMetrics)
	r.Post("/run", s.handleRun)
	r.Post("/execute", s.handleExecute)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, s.logger, http.StatusOK, map[string]string{"status": "Auditor Agent is up and running."})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, s.logger, http.StatusOK, manifestDoc)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"agent":                  agentName,
		"version":                version,
		"uptime_seconds":         int(time.Since(s.startedAt).Seconds()),
		"aiwaterdrops_consumed": s.water.Get(),
	})
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var trace auditor.ExecutionTrace
	if err := json.NewDecoder(r.Body).Decode(&trace); err != nil {
		httpx.WriteError(w, s.logger, errorsx.New("auditorapi.handleRun", errorsx.KindMissingField, err.Error()))
		return
	}

	result, err := s.auditor.Run(r.Context(), &trace)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, s.logger, http.StatusOK, result)
}

type executeRequest struct {
	Capability string                  `json:"capability"`
	Input      auditor.ExecutionTrace `json:"input"`
}

// handleExecute dispatches the single supported capability, "audit_trace",
// matching the generic Agent contract's POST /execute shape.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.WriteError(w, s.logger, errorsx.New("auditorapi.handleExecute", errorsx.KindMissingField, err.Error()))
		return
	}

	if req.Capability != "audit_trace" {
		httpx.WriteJSON(w, s.logger, http.StatusBadRequest, map[string]string{"detail": "Unknown capability: " + req.Capability})
		return
	}

	result, err := s.auditor.Run(r.Context(), &req.Input)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, s.logger, http.StatusOK, result)
}
