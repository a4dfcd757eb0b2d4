// Package embed wraps the opaque external embedding function behind its
// own mutex and a circuit breaker, so the engine can serialize embed calls
// independently of the store's mutex — the two must never be held at once.
package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the breaker has tripped and is rejecting
// calls to protect the caller from a stuck or failing embedding backend.
var ErrCircuitOpen = errors.New("embed: circuit breaker is open")

// Func is the opaque embedding function the core consumes: deterministic,
// text in, a fixed-length real vector out.
type Func func(ctx context.Context, text string) ([]float32, error)

// BreakerConfig configures the embedder's circuit breaker.
type BreakerConfig struct {
	MaxFailures          uint32
	Timeout              time.Duration
	HalfOpenMaxSuccesses uint32
}

// DefaultBreakerConfig mirrors the defaults used for external-call
// protection elsewhere in this corpus.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{MaxFailures: 3, Timeout: 30 * time.Second, HalfOpenMaxSuccesses: 2}
}

// Embedder serializes calls to an embedding function behind its own mutex,
// distinct from the store's mutex, per the concurrency model's mutex
// discipline: embed first, release this lock, only then take the store
// lock. A circuit breaker trips after repeated failures so a stuck
// embedding backend cannot pile up indefinitely blocked callers.
type Embedder struct {
	fn      Func
	dim     int
	mu      sync.Mutex
	breaker *gobreaker.CircuitBreaker
}

// New wraps fn, validating that every returned vector has exactly dim
// dimensions (384 per the tuning constants).
func New(fn Func, dim int, cfg BreakerConfig) *Embedder {
	settings := gobreaker.Settings{
		Name:        "embedder",
		MaxRequests: cfg.HalfOpenMaxSuccesses,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
	}
	return &Embedder{fn: fn, dim: dim, breaker: gobreaker.NewCircuitBreaker(settings)}
}

// Embed runs fn under the embedder's own lock and circuit breaker. Callers
// must not hold the store's mutex while this is in flight.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.breaker.Execute(func() (interface{}, error) {
		v, err := e.fn(ctx, text)
		if err != nil {
			return nil, err
		}
		if len(v) != e.dim {
			return nil, fmt.Errorf("embed: expected %d dimensions, got %d", e.dim, len(v))
		}
		return v, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) {
			return nil, ErrCircuitOpen
		}
		return nil, err
	}
	return result.([]float32), nil
}

// State returns the breaker's current state ("closed", "open", "half-open").
func (e *Embedder) State() string {
	switch e.breaker.State() {
	case gobreaker.StateClosed:
		return "closed"
	case gobreaker.StateOpen:
		return "open"
	case gobreaker.StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}
