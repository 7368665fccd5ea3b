package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avco-ledger/internal/types"
)

// setupTestBudget creates a Budget backed by miniredis with a controllable clock
func setupTestBudget(t *testing.T, limit int, window time.Duration) (*Budget, *miniredis.Miniredis, *time.Time) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	b, err := NewBudget(&Config{Redis: client, RequestsPerWindow: limit, WindowSize: window})
	require.NoError(t, err)

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return now }
	return b, mr, &now
}

func TestNewBudget(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:0"})
	defer client.Close()

	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "nil config", cfg: nil, wantErr: true},
		{name: "nil redis client", cfg: &Config{RequestsPerWindow: 10}, wantErr: true},
		{name: "zero limit", cfg: &Config{Redis: client}, wantErr: true},
		{name: "negative window", cfg: &Config{Redis: client, RequestsPerWindow: 1, WindowSize: -time.Second}, wantErr: true},
		{name: "defaults applied", cfg: &Config{Redis: client, RequestsPerWindow: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBudget(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 5, b.Limit())
			assert.Equal(t, DefaultWindowSize, b.window)
			assert.Equal(t, DefaultKeyPrefix, b.prefix)
		})
	}
}

func TestTryConsume(t *testing.T) {
	ctx := context.Background()
	b, _, now := setupTestBudget(t, 3, time.Second)

	for i := 0; i < 3; i++ {
		ok, _, err := b.TryConsume(ctx, types.NetworkEthereum, 1)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}

	ok, wait, err := b.TryConsume(ctx, types.NetworkEthereum, 1)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, time.Second+time.Millisecond, wait)

	used, err := b.Used(ctx, types.NetworkEthereum)
	require.NoError(t, err)
	assert.Equal(t, 3, used)

	// Other networks have their own allowance
	ok, _, err = b.TryConsume(ctx, types.NetworkBase, 3)
	require.NoError(t, err)
	assert.True(t, ok)

	// A request larger than what is left is refused whole
	*now = now.Add(time.Second)
	ok, _, err = b.TryConsume(ctx, types.NetworkEthereum, 4)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, _, err = b.TryConsume(ctx, types.NetworkEthereum, 2)
	require.NoError(t, err)
	assert.True(t, ok)

	used, err = b.Used(ctx, types.NetworkEthereum)
	require.NoError(t, err)
	assert.Equal(t, 2, used)
}

func TestTryConsumeSetsExpiry(t *testing.T) {
	ctx := context.Background()
	b, mr, _ := setupTestBudget(t, 10, time.Second)

	ok, _, err := b.TryConsume(ctx, types.NetworkEthereum, 1)
	require.NoError(t, err)
	require.True(t, ok)

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Equal(t, 2*time.Second, mr.TTL(keys[0]))
}

func TestAcquire(t *testing.T) {
	t.Run("returns when budget is available", func(t *testing.T) {
		b, _, _ := setupTestBudget(t, 1, time.Second)
		assert.NoError(t, b.Acquire(context.Background(), types.NetworkEthereum))
	})

	t.Run("blocks until context ends when exhausted", func(t *testing.T) {
		b, _, _ := setupTestBudget(t, 1, time.Hour)
		require.NoError(t, b.Acquire(context.Background(), types.NetworkEthereum))

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, b.Acquire(ctx, types.NetworkEthereum), context.DeadlineExceeded)
	})

	t.Run("proceeds when redis is down", func(t *testing.T) {
		b, mr, _ := setupTestBudget(t, 1, time.Second)
		mr.Close()
		assert.NoError(t, b.Acquire(context.Background(), types.NetworkEthereum))
	})
}
