// Package water implements the Water Accountant (spec.md §4.8): a
// process-wide monotonic counter of "waterdrops" consumed, persisted to a
// well-known JSON path and exposed as a Prometheus gauge alongside the
// JSON snapshot.
package water

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/clearcoreai/orchestrator/internal/corelog"
)

var waterdropsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "orchestrator_aiwaterdrops_consumed_total",
	Help: "Total AIWaterdrops consumed by this process.",
})

func init() {
	prometheus.MustRegister(waterdropsGauge)
}

type snapshot struct {
	AIWaterdropsConsumed float64            `json:"aiwaterdrops_consumed"`
	Breakdown            map[string]float64 `json:"breakdown"`
}

// canonicalSources are the four cost centers SPEC_FULL.md's DOMAIN STACK
// expansion requires /water/total to break down by: registration,
// planning, execution and audit. They are pre-seeded at 0 so the
// breakdown's JSON shape is always complete, even before a source has
// billed anything.
var canonicalSources = []string{"registration", "planning", "execution", "audit"}

// Accountant is a thread-safe, lazily-loaded, persisted waterdrop counter.
// Load happens on first access (spec.md §4.8: "load() at startup is lazy
// on first access; missing file -> start at 0").
type Accountant struct {
	mu        sync.Mutex
	path      string
	loaded    bool
	value     float64
	breakdown map[string]float64
	logger    corelog.Logger
}

// Option configures an Accountant.
type Option func(*Accountant)

// WithLogger sets the logger used to report (non-fatal) persistence
// failures.
func WithLogger(l corelog.Logger) Option { return func(a *Accountant) { a.logger = l } }

// New returns an Accountant that persists to path. No I/O happens until
// the first Get/Increment call.
func New(path string, opts ...Option) *Accountant {
	a := &Accountant{path: path, logger: corelog.NoOpLogger{}, breakdown: seededBreakdown()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func seededBreakdown() map[string]float64 {
	b := make(map[string]float64, len(canonicalSources))
	for _, s := range canonicalSources {
		b[s] = 0
	}
	return b
}

// Get returns the current total, loading from disk on first call.
func (a *Accountant) Get() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLoadedLocked()
	return a.value
}

// Increment adds delta to the total and persists the new value. delta
// must be non-negative. Persistence failures are logged but never
// surfaced to the caller (spec.md §4.8: "persistence failure is logged
// but does not abort callers").
func (a *Accountant) Increment(delta float64) {
	if delta < 0 {
		delta = 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLoadedLocked()

	a.value += delta
	waterdropsGauge.Set(a.value)

	if err := a.saveLocked(); err != nil {
		a.logger.Warn("failed to persist waterdrop counter", map[string]interface{}{"error": err.Error(), "path": a.path})
	}
}

// IncrementSource adds delta to both the named source's running total and
// the aggregate, persisting the new snapshot. Sources outside
// canonicalSources are tracked too, so a handler never has to pre-register
// one; /water/total's documented breakdown always carries at least the
// four canonical keys.
func (a *Accountant) IncrementSource(source string, delta float64) {
	if delta < 0 {
		delta = 0
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLoadedLocked()

	a.value += delta
	a.breakdown[source] += delta
	waterdropsGauge.Set(a.value)

	if err := a.saveLocked(); err != nil {
		a.logger.Warn("failed to persist waterdrop counter", map[string]interface{}{"error": err.Error(), "path": a.path})
	}
}

// Breakdown returns a copy of the per-source totals.
func (a *Accountant) Breakdown() map[string]float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLoadedLocked()

	out := make(map[string]float64, len(a.breakdown))
	for k, v := range a.breakdown {
		out[k] = v
	}
	return out
}

// WaterSink is the single-method shape every consumer (registry, planner,
// executor, auditor) declares locally for its own cost center. Any value
// with an Increment(float64) method, including what Source returns, is
// assignable to each of those local interfaces.
type WaterSink interface {
	Increment(delta float64)
}

// sourceSink is the WaterSink adapter Source returns: it routes Increment
// calls at a single named cost center without requiring registry,
// planner, executor or auditor to know about per-source accounting.
type sourceSink struct {
	acct *Accountant
	name string
}

func (s sourceSink) Increment(delta float64) { s.acct.IncrementSource(s.name, delta) }

// Source returns a WaterSink that attributes every Increment it receives
// to name in the persisted breakdown, while still adding to the shared
// aggregate total.
func (a *Accountant) Source(name string) WaterSink {
	return sourceSink{acct: a, name: name}
}

// Save forces a persist of the current in-memory value, for callers that
// want an explicit synchronization point (e.g. graceful shutdown).
func (a *Accountant) Save() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ensureLoadedLocked()
	return a.saveLocked()
}

func (a *Accountant) ensureLoadedLocked() {
	if a.loaded {
		return
	}
	a.loaded = true

	if a.breakdown == nil {
		a.breakdown = seededBreakdown()
	}

	data, err := os.ReadFile(a.path)
	if os.IsNotExist(err) {
		a.value = 0
		return
	}
	if err != nil {
		a.logger.Warn("failed to read waterdrop snapshot, starting at 0", map[string]interface{}{"error": err.Error(), "path": a.path})
		a.value = 0
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		a.logger.Warn("corrupt waterdrop snapshot, starting at 0", map[string]interface{}{"error": err.Error(), "path": a.path})
		a.value = 0
		return
	}
	a.value = snap.AIWaterdropsConsumed
	for k, v := range snap.Breakdown {
		a.breakdown[k] = v
	}
	waterdropsGauge.Set(a.value)
}

func (a *Accountant) saveLocked() error {
	data, err := json.Marshal(snapshot{AIWaterdropsConsumed: a.value, Breakdown: a.breakdown})
	if err != nil {
		return fmt.Errorf("marshal waterdrop snapshot: %w", err)
	}

	dir := filepath.Dir(a.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create waterdrop snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".aiwaterdrops-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp waterdrop snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp waterdrop snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp waterdrop snapshot: %w", err)
	}
	if err := os.Rename(tmpName, a.path); err != nil {
		return fmt.Errorf("rename waterdrop snapshot into place: %w", err)
	}
	return nil
}

