// Package httpapi is the Orchestrator's thin HTTP surface (spec.md §4.9,
// §6): every handler translates one core operation and maps core errors
// to status codes via internal/httpx. No business logic lives here.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"

	"github.com/clearcoreai/orchestrator/internal/catalog"
	"github.com/clearcoreai/orchestrator/internal/corelog"
	"github.com/clearcoreai/orchestrator/internal/errorsx"
	"github.com/clearcoreai/orchestrator/internal/executor"
	"github.com/clearcoreai/orchestrator/internal/httpx"
	"github.com/clearcoreai/orchestrator/internal/planner"
	"github.com/clearcoreai/orchestrator/internal/registry"
	"github.com/clearcoreai/orchestrator/internal/water"
)

// WaterAccountant is the slice of internal/water.Accountant's API the
// surface needs to answer /water/total and to attribute execution cost to
// its own source in the breakdown.
type WaterAccountant interface {
	Get() float64
	Breakdown() map[string]float64
	Source(name string) water.WaterSink
}

// Server wires the registry, planner, executor and water accountant
// behind the HTTP contract of spec.md §6.
type Server struct {
	registry *registry.Registry
	planner  *planner.Planner
	water    WaterAccountant
	logger   corelog.Logger
	validate *validator.Validate
}

// New builds a Server. An empty allowedOrigins passed to Router disables
// cross-origin requests entirely: no CORS middleware is installed.
func New(reg *registry.Registry, pl *planner.Planner, water WaterAccountant, logger corelog.Logger) *Server {
	return &Server{registry: reg, planner: pl, water: water, logger: logger, validate: validator.New()}
}

// Router builds the chi router: request-ID injection, panic recovery, and
// CORS ahead of the route table.
func (s *Server) Router(allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type"},
		}))
	}

	r.Get("/health", s.handleHealth)
	r.Post("/register_agent", s.handleRegisterAgent)
	r.Get("/agents", s.handleListAgents)
	r.Get("/agent_manifest/{name}", s.handleGetManifest)
	r.Get("/agents/connections", s.handleConnections)
	r.Get("/agents/metrics", s.handleAggregateMetrics)
	r.Get("/agents/raw", s.handleRawSnapshot)
	r.Post("/plan", s.handlePlanAndRun)
	r.Post("/execute_plan", s.handleExecutePlan)
	r.Post("/run_goal", s.handlePlanAndRun)
	r.Get("/water/total", s.handleWaterTotal)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0)
	for name := range s.registry.List() {
		names = append(names, name)
	}
	httpx.WriteJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"status":           "orchestrator is up and running",
		"registered_agents": names,
	})
}

type registerAgentRequest struct {
	Name    string `json:"name" validate:"required"`
	BaseURL string `json:"base_url" validate:"required,url"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req registerAgentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	if err := s.registry.Register(r.Context(), req.Name, req.BaseURL); err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, s.logger, http.StatusOK, map[string]string{"message": "agent registered successfully"})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, s.logger, http.StatusOK, map[string]interface{}{"agents": s.registry.List()})
}

func (s *Server) handleGetManifest(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, err := s.registry.GetManifest(name)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}
	httpx.WriteJSON(w, s.logger, http.StatusOK, m)
}

func (s *Server) handleConnections(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, s.logger, http.StatusOK, map[string]interface{}{"connections": s.registry.DetectConnections()})
}

func (s *Server) handleAggregateMetrics(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, s.logger, http.StatusOK, s.registry.AggregateMetrics(r.Context()))
}

func (s *Server) handleRawSnapshot(w http.ResponseWriter, r *http.Request) {
	raw := s.registry.RawSnapshot()
	out := make(map[string]interface{}, len(raw))
	for name, rec := range raw {
		out[name] = rec.Manifest
	}
	httpx.WriteJSON(w, s.logger, http.StatusOK, out)
}

type goalRequest struct {
	Goal string `json:"goal" validate:"required"`
}

// handlePlanAndRun backs both /plan and /run_goal: spec.md §6 gives the
// two routes an identical {goal} -> {goal, plan, result} contract, so one
// handler serves both (plan, then execute, then report the final_output
// as "result").
func (s *Server) handlePlanAndRun(w http.ResponseWriter, r *http.Request) {
	var req goalRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	ctx := r.Context()
	snapshot := s.registry.Snapshot()
	cat := catalog.Build(snapshot)

	planText, err := s.planner.Plan(ctx, req.Goal, cat)
	if err != nil {
		httpx.WriteError(w, s.logger, err)
		return
	}

	trace := executor.New(snapshot, executor.WithWaterSink(s.water.Source("execution"))).Run(ctx, planText)

	httpx.WriteJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"goal":   req.Goal,
		"plan":   planText,
		"result": trace.FinalOutput,
	})
}

type executePlanRequest struct {
	Plan string `json:"plan" validate:"required"`
}

func (s *Server) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	var req executePlanRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}

	trace := executor.New(s.registry.Snapshot(), executor.WithWaterSink(s.water.Source("execution"))).Run(r.Context(), req.Plan)
	httpx.WriteJSON(w, s.logger, http.StatusOK, trace)
}

func (s *Server) handleWaterTotal(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, s.logger, http.StatusOK, map[string]interface{}{
		"breakdown":        s.water.Breakdown(),
		"total_waterdrops": s.water.Get(),
	})
}

// decodeAndValidate decodes the JSON body into dst and validates struct
// tags, writing a 400 MissingField response and returning false on any
// failure.
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := decodeJSON(r, dst); err != nil {
		httpx.WriteError(w, s.logger, errorsx.New("httpapi.decode", errorsx.KindMissingField, err.Error()))
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		httpx.WriteError(w, s.logger, errorsx.New("httpapi.validate", errorsx.KindMissingField, err.Error()))
		return false
	}
	return true
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}
