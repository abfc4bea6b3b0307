// Package breaker wraps github.com/sony/gobreaker around outbound HTTP
// calls to worker agents: one named breaker per remote collaborator,
// fail-fast rather than retried. This is explicitly NOT a retry mechanism
// -- it only shortens the wait before a known-bad agent fails the next
// call.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Registry hands out one circuit breaker per name (the callers use the
// agent name), created lazily and cached for the lifetime of the Registry.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewRegistry returns an empty breaker registry.
func NewRegistry() *Registry {
	return &Registry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// For returns (creating if necessary) the circuit breaker for name (an
// agent name or base URL).
func (r *Registry) For(name string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
	r.breakers[name] = cb
	return cb
}

// Do executes fn through the named breaker, surfacing the breaker's
// gobreaker.ErrOpenState / gobreaker.ErrTooManyRequests as ordinary errors
// the caller maps to UnreachableAgent.
func (r *Registry) Do(name string, fn func() (interface{}, error)) (interface{}, error) {
	return r.For(name).Execute(fn)
}
