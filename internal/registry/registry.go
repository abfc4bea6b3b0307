package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/clearcoreai/orchestrator/internal/breaker"
	"github.com/clearcoreai/orchestrator/internal/corelog"
	"github.com/clearcoreai/orchestrator/internal/errorsx"
	"github.com/clearcoreai/orchestrator/internal/manifest"
	"github.com/clearcoreai/orchestrator/internal/telemetry"
)

const (
	registerTimeout = 5 * time.Second
	metricsTimeout  = 3 * time.Second
)

// WaterSink accounts the water cost of registry operations. It is the
// minimal slice of internal/water.Accountant's API the registry needs.
type WaterSink interface {
	Increment(delta float64)
}

type noopWaterSink struct{}

func (noopWaterSink) Increment(float64) {}

// Registry is the process-wide, read-mostly agent catalog backing store.
// Writes (Register) are serialized by mu; readers take the RLock and see
// either the old or the new record, never a torn state.
type Registry struct {
	mu       sync.RWMutex
	records  map[string]*Record
	store    Store
	client   *http.Client
	breakers *breaker.Registry
	logger   corelog.Logger
	water    WaterSink
}

// Option configures a Registry at construction time.
type Option func(*Registry)

// WithLogger attaches a structured logger.
func WithLogger(l corelog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// WithWaterSink attaches the water accountant.
func WithWaterSink(w WaterSink) Option {
	return func(r *Registry) { r.water = w }
}

// WithHTTPClient overrides the HTTP client used for manifest/metrics
// fetches -- primarily for tests.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Registry) { r.client = c }
}

// New constructs a Registry backed by store, loading any existing snapshot
// synchronously. A corrupt snapshot is a fatal startup error (spec.md
// §4.2), so New returns an error rather than starting empty.
func New(ctx context.Context, store Store, opts ...Option) (*Registry, error) {
	r := &Registry{
		records:  make(map[string]*Record),
		store:    store,
		client:   &http.Client{},
		breakers: breaker.NewRegistry(),
		logger:   corelog.NoOpLogger{},
		water:    noopWaterSink{},
	}
	for _, opt := range opts {
		opt(r)
	}

	snapshot, err := store.Load(ctx)
	if err != nil {
		return nil, errorsx.Wrap("registry.New", errorsx.KindPersistenceError, "", err)
	}
	for name, rec := range snapshot {
		r.records[name] = &Record{Name: name, BaseURL: rec.BaseURL, Manifest: rec.Manifest}
	}
	return r, nil
}

// Register fetches GET {baseURL}/manifest, validates it, and stores or
// replaces the record for name. On success the snapshot is persisted
// atomically before the call returns.
func (r *Registry) Register(ctx context.Context, name, baseURL string) error {
	const op = "registry.Register"

	ctx, end := telemetry.StartSpan(ctx, op)
	defer func() { end(nil) }()

	fetchCtx, cancel := context.WithTimeout(ctx, registerTimeout)
	defer cancel()

	body, err := r.fetchJSON(fetchCtx, name, baseURL+"/manifest")
	if err != nil {
		r.logger.ErrorWithContext(ctx, "agent unreachable during registration", map[string]interface{}{"agent": name, "base_url": baseURL, "error": err.Error()})
		return errorsx.Wrap(op, errorsx.KindUnreachableAgent, name, err)
	}

	m, err := manifest.Validate(body)
	if err != nil {
		return errorsx.Wrap(op, errorsx.KindBadManifest, name, err)
	}

	record := &Record{Name: name, BaseURL: baseURL, Manifest: m}

	r.mu.Lock()
	r.records[name] = record
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	if err := r.store.Save(ctx, snapshot); err != nil {
		return errorsx.Wrap(op, errorsx.KindPersistenceError, name, err)
	}

	r.water.Increment(0.2)
	r.logger.InfoWithContext(ctx, "agent registered", map[string]interface{}{"agent": name, "base_url": baseURL, "capabilities": len(m.Capabilities)})
	return nil
}

// fetchJSON performs a GET through the agent's circuit breaker and returns
// the raw response body.
func (r *Registry) fetchJSON(ctx context.Context, breakerName, url string) ([]byte, error) {
	result, err := r.breakers.Do(breakerName, func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := r.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%s returned status %d", url, resp.StatusCode)
		}
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]byte), nil
}

// snapshotLocked builds the persisted snapshot shape. Callers must hold
// at least the read lock.
func (r *Registry) snapshotLocked() map[string]snapshotRecord {
	snapshot := make(map[string]snapshotRecord, len(r.records))
	for name, rec := range r.records {
		snapshot[name] = snapshotRecord{
			BaseURL:      rec.BaseURL,
			Manifest:     rec.Manifest,
			Capabilities: rec.CapabilityNames(),
		}
	}
	return snapshot
}

// Snapshot returns a consistent point-in-time copy of every record,
// keyed by name. Used by the Planner/Executor to take a plan-start
// snapshot so a concurrent re-registration cannot change the agents a
// plan dispatches against mid-execution (spec.md §5).
func (r *Registry) Snapshot() map[string]*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*Record, len(r.records))
	for name, rec := range r.records {
		copied := *rec
		out[name] = &copied
	}
	return out
}

// List returns every registered agent name, base URL and capability list.
func (r *Registry) List() map[string]struct {
	BaseURL      string   `json:"base_url"`
	Capabilities []string `json:"capabilities"`
} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]struct {
		BaseURL      string   `json:"base_url"`
		Capabilities []string `json:"capabilities"`
	}, len(r.records))
	for name, rec := range r.records {
		out[name] = struct {
			BaseURL      string   `json:"base_url"`
			Capabilities []string `json:"capabilities"`
		}{BaseURL: rec.BaseURL, Capabilities: rec.CapabilityNames()}
	}
	return out
}

// GetManifest returns the normalized manifest for name, or NotFound.
func (r *Registry) GetManifest(name string) (*manifest.Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok {
		return nil, errorsx.New("registry.GetManifest", errorsx.KindNotFound, fmt.Sprintf("agent not found: %s", name))
	}
	return rec.Manifest, nil
}

// GetAllManifests returns every registered agent's manifest, keyed by name.
func (r *Registry) GetAllManifests() map[string]*manifest.Manifest {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]*manifest.Manifest, len(r.records))
	for name, rec := range r.records {
		out[name] = rec.Manifest
	}
	return out
}

// RawSnapshot returns the full stored record (base_url + manifest) for
// every agent -- the original ClearCoreAI orchestrator's earliest
// `/agents` response shape, kept as `/agents/raw` (SPEC_FULL.md).
func (r *Registry) RawSnapshot() map[string]*Record {
	return r.Snapshot()
}

// Connection describes an inferred data-flow edge between two agents.
type Connection struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Reason string `json:"reason"`
}

// DetectConnections is a pure scan over the current snapshot producing
// every (from, to) pair whose manifests both declare specs and whose
// top-level "type" tags match. Self-pairs are excluded.
func (r *Registry) DetectConnections() []Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var conns []Connection
	for fromName, from := range r.records {
		if from.Manifest.OutputSpec == nil {
			continue
		}
		for toName, to := range r.records {
			if fromName == toName {
				continue
			}
			if to.Manifest.InputSpec == nil {
				continue
			}
			if from.Manifest.OutputSpec.Type() == to.Manifest.InputSpec.Type() {
				conns = append(conns, Connection{
					From:   fromName,
					To:     toName,
					Reason: fmt.Sprintf("Output from '%s' matches input of '%s'", fromName, toName),
				})
			}
		}
	}
	return conns
}

// AggregateMetrics fans out GET {base_url}/metrics to every registered
// agent. A per-agent failure is captured as {"error": msg} and does not
// abort the aggregate.
func (r *Registry) AggregateMetrics(ctx context.Context) map[string]interface{} {
	snapshot := r.Snapshot()

	type result struct {
		name string
		data interface{}
	}
	results := make(chan result, len(snapshot))
	var wg sync.WaitGroup

	for name, rec := range snapshot {
		wg.Add(1)
		go func(name, baseURL string) {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, metricsTimeout)
			defer cancel()

			body, err := r.fetchJSON(fetchCtx, name, baseURL+"/metrics")
			if err != nil {
				results <- result{name: name, data: map[string]interface{}{"error": fmt.Sprintf("Failed to fetch metrics: %v", err)}}
				return
			}
			var parsed interface{}
			if err := json.Unmarshal(body, &parsed); err != nil {
				results <- result{name: name, data: map[string]interface{}{"error": fmt.Sprintf("Failed to fetch metrics: %v", err)}}
				return
			}
			results <- result{name: name, data: parsed}
		}(name, rec.BaseURL)
	}

	wg.Wait()
	close(results)

	out := make(map[string]interface{}, len(snapshot))
	for res := range results {
		out[res.name] = res.data
	}
	return out
}
