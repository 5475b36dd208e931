// Package rpcpool keeps the redundant RPC endpoints of one chain together
// with their health, and decides the order in which they are tried.
package rpcpool

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/yourorg/chain-reader/internal/circuitbreaker"
)

// FailureKind classifies a failed attempt.
type FailureKind int

const (
	// FailureTransient is a network error, timeout or rate limit. Counts against the endpoint.
	FailureTransient FailureKind = iota
	// FailureDefinitive is a deterministic answer such as a revert. The endpoint responded fine.
	FailureDefinitive
	// FailureAborted means the caller gave up. Not the endpoint's fault.
	FailureAborted
)

func (k FailureKind) String() string {
	switch k {
	case FailureTransient:
		return "transient"
	case FailureDefinitive:
		return "definitive"
	case FailureAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Health is a snapshot of an endpoint's record.
type Health struct {
	ConsecutiveFailures int
	LastFailure         time.Time
	LastError           string
	LastSuccess         time.Time
	LastBlock           uint64
	TotalRequests       uint64
	FailedRequests      uint64
	AverageLatency      time.Duration
}

// Endpoint is one RPC endpoint of a chain.
type Endpoint struct {
	URL      string
	Priority int

	index   int
	name    string
	client  Client
	limiter *rate.Limiter
	breaker *circuitbreaker.CircuitBreaker

	mu     sync.RWMutex
	health Health
}

// Client returns the endpoint's RPC client.
func (e *Endpoint) Client() Client {
	return e.client
}

// Name is the URL without path or query, safe to log.
func (e *Endpoint) Name() string {
	return e.name
}

// Health returns a copy of the current health record.
func (e *Endpoint) Health() Health {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.health
}

// State returns the cool-down state.
func (e *Endpoint) State() circuitbreaker.State {
	return e.breaker.GetState()
}

// Wait blocks until the endpoint's rate limiter admits a request.
func (e *Endpoint) Wait(ctx context.Context) error {
	if e.limiter == nil {
		return nil
	}
	return e.limiter.Wait(ctx)
}

// ObserveBlock records a block height seen from this endpoint. Heights only move forward.
func (e *Endpoint) ObserveBlock(n uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if n > e.health.LastBlock {
		e.health.LastBlock = n
	}
}

func (e *Endpoint) recordLatency(d time.Duration) {
	// exponential moving average, alpha 0.2
	if e.health.AverageLatency == 0 {
		e.health.AverageLatency = d
		return
	}
	e.health.AverageLatency = (e.health.AverageLatency*4 + d) / 5
}
