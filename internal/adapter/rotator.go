package adapter

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

// EndpointRotator hands out RPC endpoints round-robin over a fixed list.
// Rate-limited endpoints are skipped for a cooldown window, and each endpoint
// is paced by its own token bucket.
type EndpointRotator struct {
	endpoints []string
	cursor    atomic.Uint64

	mu        sync.Mutex
	cooldowns map[string]time.Time // endpoint -> cooldown expiry
	cooldown  time.Duration

	limiters map[string]*rate.Limiter
	now      func() time.Time
}

// RotatorConfig holds configuration for creating a rotator
type RotatorConfig struct {
	Endpoints []string
	// Cooldown is how long a rate-limited endpoint is skipped. Default: 60 seconds
	Cooldown time.Duration
	// RequestsPerSecond paces each endpoint; zero disables pacing
	RequestsPerSecond float64
}

// NewEndpointRotator creates a rotator. The endpoint list must not be empty.
func NewEndpointRotator(cfg RotatorConfig) (*EndpointRotator, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("at least one RPC endpoint is required")
	}

	cooldown := cfg.Cooldown
	if cooldown == 0 {
		cooldown = 60 * time.Second
	}

	r := &EndpointRotator{
		endpoints: append([]string(nil), cfg.Endpoints...),
		cooldowns: make(map[string]time.Time),
		cooldown:  cooldown,
		limiters:  make(map[string]*rate.Limiter, len(cfg.Endpoints)),
		now:       time.Now,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := int(cfg.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		for _, ep := range r.endpoints {
			r.limiters[ep] = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
		}
	}
	return r, nil
}

// Len returns the number of configured endpoints
func (r *EndpointRotator) Len() int {
	return len(r.endpoints)
}

// Endpoints returns a copy of the configured endpoints
func (r *EndpointRotator) Endpoints() []string {
	return append([]string(nil), r.endpoints...)
}

// NextEndpoint returns the next endpoint in round-robin order, skipping
// endpoints in cooldown. When every endpoint is cooling down the plain
// round-robin choice is returned.
func (r *EndpointRotator) NextEndpoint() string {
	n := uint64(len(r.endpoints))
	first := r.endpoints[(r.cursor.Add(1)-1)%n]
	if !r.inCooldown(first) {
		return first
	}
	for i := uint64(1); i < n; i++ {
		ep := r.endpoints[(r.cursor.Add(1)-1)%n]
		if !r.inCooldown(ep) {
			return ep
		}
	}
	return first
}

func (r *EndpointRotator) inCooldown(endpoint string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	until, ok := r.cooldowns[endpoint]
	if !ok {
		return false
	}
	if r.now().Before(until) {
		return true
	}
	delete(r.cooldowns, endpoint)
	return false
}

// MarkCooldown takes endpoint out of rotation for the cooldown window
func (r *EndpointRotator) MarkCooldown(endpoint string) {
	r.mu.Lock()
	r.cooldowns[endpoint] = r.now().Add(r.cooldown)
	r.mu.Unlock()
}

// Wait blocks until endpoint may be called again under its pacing limit
func (r *EndpointRotator) Wait(ctx context.Context, endpoint string) error {
	limiter, ok := r.limiters[endpoint]
	if !ok {
		return nil
	}
	return limiter.Wait(ctx)
}

// EndpointStatus represents the status of a single endpoint
type EndpointStatus struct {
	URL               string        `json:"url"`
	InCooldown        bool          `json:"inCooldown"`
	CooldownRemaining time.Duration `json:"cooldownRemaining"`
}

// Status returns a snapshot of every endpoint
func (r *EndpointRotator) Status() []EndpointStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	out := make([]EndpointStatus, len(r.endpoints))
	for i, ep := range r.endpoints {
		out[i] = EndpointStatus{URL: ep}
		if until, ok := r.cooldowns[ep]; ok && now.Before(until) {
			out[i].InCooldown = true
			out[i].CooldownRemaining = until.Sub(now)
		}
	}
	return out
}
