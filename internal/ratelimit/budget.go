// Package ratelimit meters RPC requests against a per-network budget kept in
// Redis, so every process talking to the same provider draws from one
// allowance.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/types"
)

// Default budget configuration values.
const (
	DefaultWindowSize = time.Second
	DefaultKeyPrefix  = "rpcbudget:"
)

// consumeScript atomically checks and increments a window counter.
// Returns {allowed, used}.
var consumeScript = redis.NewScript(`
	local key = KEYS[1]
	local n = tonumber(ARGV[1])
	local limit = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local used = tonumber(redis.call('GET', key) or '0')
	if used + n > limit then
		return {0, used}
	end

	redis.call('INCRBY', key, n)
	redis.call('PEXPIRE', key, ttl)
	return {1, used + n}
`)

// Config holds configuration for the shared budget.
type Config struct {
	// Redis is the client used for cross-process coordination. Required.
	Redis redis.Cmdable

	// RequestsPerWindow is the allowance of each network per window. Required.
	RequestsPerWindow int

	// WindowSize is the fixed window duration. Default: 1s.
	WindowSize time.Duration

	// KeyPrefix namespaces the counters. Default: "rpcbudget:".
	KeyPrefix string
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.RequestsPerWindow <= 0 {
		return fmt.Errorf("requests per window must be positive, got %d", c.RequestsPerWindow)
	}
	if c.WindowSize < 0 {
		return errors.New("window size cannot be negative")
	}
	return nil
}

// Budget is a fixed-window request budget per network
type Budget struct {
	redis  redis.Cmdable
	limit  int
	window time.Duration
	prefix string
	now    func() time.Time
}

// NewBudget creates a budget with the given configuration.
func NewBudget(cfg *Config) (*Budget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	return &Budget{
		redis:  cfg.Redis,
		limit:  cfg.RequestsPerWindow,
		window: window,
		prefix: prefix,
		now:    time.Now,
	}, nil
}

// windowStart aligns now to the window boundary
func (b *Budget) windowStart() time.Time {
	return b.now().Truncate(b.window)
}

func (b *Budget) key(network types.Network, start time.Time) string {
	return b.prefix + string(network) + ":" + strconv.FormatInt(start.UnixMilli(), 10)
}

// TryConsume takes n requests from network's current window. When the window
// is exhausted it returns false and the time until the next window.
func (b *Budget) TryConsume(ctx context.Context, network types.Network, n int) (bool, time.Duration, error) {
	if n <= 0 {
		return true, 0, nil
	}

	start := b.windowStart()
	// Keys outlive their window by one window so late readers still see them
	ttl := 2 * b.window

	result, err := consumeScript.Run(ctx, b.redis, []string{b.key(network, start)},
		n, b.limit, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("consume budget: %w", err)
	}
	if result[0] == 1 {
		return true, 0, nil
	}
	return false, b.untilNextWindow(start), nil
}

func (b *Budget) untilNextWindow(start time.Time) time.Duration {
	wait := start.Add(b.window).Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	// Small buffer to land inside the next window
	return wait + time.Millisecond
}

// Acquire blocks until one request of network fits the budget. A Redis
// failure lets the request through so an outage never stalls backfills.
func (b *Budget) Acquire(ctx context.Context, network types.Network) error {
	for {
		ok, wait, err := b.TryConsume(ctx, network, 1)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.FromContext(ctx).WithError(err).WithField("network", string(network)).
				Warn("rpc budget unavailable, proceeding unmetered")
			return nil
		}
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Used returns the requests consumed in network's current window
func (b *Budget) Used(ctx context.Context, network types.Network) (int, error) {
	val, err := b.redis.Get(ctx, b.key(network, b.windowStart())).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return val, err
}

// Limit returns the configured requests per window.
func (b *Budget) Limit() int {
	return b.limit
}
