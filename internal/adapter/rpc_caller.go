package adapter

import (
	"context"

	apperrors "github.com/avco-ledger/internal/errors"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/metrics"
	"github.com/avco-ledger/internal/retry"
	"github.com/avco-ledger/internal/types"
)

// RPCCaller wraps adapter calls with retry, endpoint rotation and cooldown.
// Each attempt goes to the next endpoint; a range-too-wide failure is
// returned at once so the adapter can bisect.
type RPCCaller struct {
	network types.Network
	rotator *EndpointRotator
	policy  *retry.Policy
	budget  Budget
}

// Budget meters requests across every process sharing a provider
type Budget interface {
	Acquire(ctx context.Context, network types.Network) error
}

// NewRPCCaller creates a caller for one network
func NewRPCCaller(network types.Network, rotator *EndpointRotator, policy *retry.Policy) *RPCCaller {
	if policy == nil {
		policy = retry.DefaultPolicy()
	}
	p := *policy
	if p.ShouldRetry == nil {
		p.ShouldRetry = IsTransientError
	}
	return &RPCCaller{network: network, rotator: rotator, policy: &p}
}

// SetBudget makes every attempt draw from b first; nil disables metering
func (c *RPCCaller) SetBudget(b Budget) {
	c.budget = b
}

// Rotator returns the underlying endpoint rotator
func (c *RPCCaller) Rotator() *EndpointRotator {
	return c.rotator
}

// Call runs fn against rotating endpoints until it succeeds or the policy gives up
func (c *RPCCaller) Call(ctx context.Context, op string, fn func(ctx context.Context, endpoint string) error) error {
	network := string(c.network)

	return retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		if c.budget != nil {
			if err := c.budget.Acquire(ctx, c.network); err != nil {
				return retry.Permanent(err)
			}
		}
		endpoint := c.rotator.NextEndpoint()
		if err := c.rotator.Wait(ctx, endpoint); err != nil {
			return retry.Permanent(err)
		}

		err := fn(ctx, endpoint)
		switch {
		case err == nil:
			metrics.RPCAttempts.WithLabelValues(network, "ok").Inc()
			return nil
		case ctx.Err() != nil:
			return retry.Permanent(ctx.Err())
		case IsRangeTooWideError(err):
			metrics.RPCAttempts.WithLabelValues(network, "range_too_wide").Inc()
			return retry.Permanent(err)
		case IsRateLimitError(err):
			metrics.RPCAttempts.WithLabelValues(network, "rate_limited").Inc()
			metrics.EndpointCooldowns.WithLabelValues(network).Inc()
			c.rotator.MarkCooldown(endpoint)
			logging.FromContext(ctx).WithFields(map[string]interface{}{
				"network":  network,
				"endpoint": endpoint,
				"op":       op,
			}).Warn("Endpoint rate limited, cooling down")
			return apperrors.NewProviderRateLimitError(endpoint, err)
		default:
			metrics.RPCAttempts.WithLabelValues(network, "error").Inc()
			return apperrors.NewProviderError(endpoint, err)
		}
	})
}
