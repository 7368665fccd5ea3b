package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avco-ledger/internal/models"
)

// CacheKeyType represents different types of cache keys
type CacheKeyType string

const (
	// CacheKeyCrossWallet is for cross-wallet AVCO views
	CacheKeyCrossWallet CacheKeyType = "xwallet"
)

// CacheService provides JSON caching on top of Redis
type CacheService struct {
	redis *RedisCache
	ttl   time.Duration
}

// NewCacheService creates a new cache service
func NewCacheService(redis *RedisCache, ttl time.Duration) *CacheService {
	return &CacheService{redis: redis, ttl: ttl}
}

// GenerateCacheKey generates a cache key for a given type and parameters
// Format: <type>:<param1>:<param2>:...
func (c *CacheService) GenerateCacheKey(keyType CacheKeyType, params ...string) string {
	parts := make([]string, 0, len(params)+1)
	parts = append(parts, string(keyType))
	for _, p := range params {
		parts = append(parts, strings.ToLower(p))
	}
	return strings.Join(parts, ":")
}

// CrossWalletKey is independent of the order wallets are given in
func (c *CacheService) CrossWalletKey(wallets []string, asset string) string {
	sorted := make([]string, len(wallets))
	for i, w := range wallets {
		sorted[i] = strings.ToLower(w)
	}
	sort.Strings(sorted)
	return c.GenerateCacheKey(CacheKeyCrossWallet, asset, strings.Join(sorted, ","))
}

// Set stores value as JSON with the configured TTL
func (c *CacheService) Set(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.redis.Set(ctx, key, data, c.ttl)
}

// Get loads key into dest; false on a cache miss
func (c *CacheService) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := c.redis.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("failed to get from cache: %w", err)
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached value: %w", err)
	}
	return true, nil
}

// InvalidatePattern removes all keys matching a pattern
func (c *CacheService) InvalidatePattern(ctx context.Context, pattern string) error {
	keys, err := c.redis.ScanKeys(ctx, pattern)
	if err != nil {
		return fmt.Errorf("failed to find keys matching pattern: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return c.redis.Del(ctx, keys...)
}

// GetCrossWallet returns a cached view for (wallets, asset)
func (c *CacheService) GetCrossWallet(ctx context.Context, wallets []string, asset string) (*models.CrossWalletPosition, bool, error) {
	var pos models.CrossWalletPosition
	ok, err := c.Get(ctx, c.CrossWalletKey(wallets, asset), &pos)
	if err != nil || !ok {
		return nil, false, err
	}
	return &pos, true, nil
}

// SetCrossWallet caches pos under its wallet set and asset
func (c *CacheService) SetCrossWallet(ctx context.Context, pos *models.CrossWalletPosition) error {
	return c.Set(ctx, c.CrossWalletKey(pos.Wallets, pos.Asset), pos)
}

// InvalidateCrossWallet drops every cached cross-wallet view
func (c *CacheService) InvalidateCrossWallet(ctx context.Context) error {
	return c.InvalidatePattern(ctx, string(CacheKeyCrossWallet)+":*")
}
