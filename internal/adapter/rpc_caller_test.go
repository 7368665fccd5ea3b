package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avco-ledger/internal/retry"
	"github.com/avco-ledger/internal/types"
)

func newTestCaller(t *testing.T, endpoints []string, attempts int) *RPCCaller {
	t.Helper()
	r, err := NewEndpointRotator(RotatorConfig{Endpoints: endpoints, Cooldown: time.Minute})
	require.NoError(t, err)
	return NewRPCCaller(types.NetworkEthereum, r, &retry.Policy{BaseDelay: time.Millisecond, MaxAttempts: attempts})
}

func TestCallRotatesEndpointPerAttempt(t *testing.T) {
	c := newTestCaller(t, []string{"a", "b", "c"}, 3)
	var used []string

	err := c.Call(context.Background(), "test", func(ctx context.Context, endpoint string) error {
		used = append(used, endpoint)
		if len(used) < 3 {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, used)
}

func TestCallCoolsDownRateLimitedEndpoint(t *testing.T) {
	c := newTestCaller(t, []string{"a", "b"}, 3)
	var used []string

	err := c.Call(context.Background(), "test", func(ctx context.Context, endpoint string) error {
		used = append(used, endpoint)
		if endpoint == "a" {
			return errors.New("429 Too Many Requests")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, used)

	// a stays out of rotation while cooling down
	for i := 0; i < 4; i++ {
		assert.Equal(t, "b", c.Rotator().NextEndpoint())
	}
}

func TestCallRangeTooWideIsNotRetried(t *testing.T) {
	c := newTestCaller(t, []string{"a", "b"}, 5)
	calls := 0

	err := c.Call(context.Background(), "eth_getLogs", func(ctx context.Context, endpoint string) error {
		calls++
		return errors.New("query returned more than 10000 results")
	})

	assert.Error(t, err)
	assert.True(t, IsRangeTooWideError(err))
	assert.Equal(t, 1, calls)
}

func TestCallRaisesAfterMaxAttempts(t *testing.T) {
	c := newTestCaller(t, []string{"a"}, 4)
	calls := 0

	err := c.Call(context.Background(), "test", func(ctx context.Context, endpoint string) error {
		calls++
		return errors.New("connection reset by peer")
	})

	assert.Error(t, err)
	assert.Equal(t, 4, calls)
}

type countingBudget struct {
	acquired int
	err      error
}

func (b *countingBudget) Acquire(ctx context.Context, network types.Network) error {
	b.acquired++
	return b.err
}

func TestCallDrawsFromBudgetPerAttempt(t *testing.T) {
	c := newTestCaller(t, []string{"a"}, 3)
	budget := &countingBudget{}
	c.SetBudget(budget)
	calls := 0

	err := c.Call(context.Background(), "test", func(ctx context.Context, endpoint string) error {
		calls++
		if calls < 2 {
			return errors.New("503 service unavailable")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, budget.acquired)
}

func TestCallStopsWhenBudgetFails(t *testing.T) {
	c := newTestCaller(t, []string{"a"}, 3)
	c.SetBudget(&countingBudget{err: context.DeadlineExceeded})
	calls := 0

	err := c.Call(context.Background(), "test", func(ctx context.Context, endpoint string) error {
		calls++
		return nil
	})

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, calls)
}
