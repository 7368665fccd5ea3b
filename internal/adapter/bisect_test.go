package adapter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fetchBlocks returns each block number in range, refusing ranges wider than limit
func fetchBlocks(limit uint64, calls *int) RangeFetch[uint64] {
	return func(ctx context.Context, from, to uint64) ([]uint64, error) {
		*calls++
		if to-from+1 > limit {
			return nil, errors.New("exceed maximum block range: 1000")
		}
		var out []uint64
		for b := from; b <= to; b++ {
			out = append(out, b)
		}
		return out, nil
	}
}

func TestFetchWithBisectionCoversRangeInOrder(t *testing.T) {
	calls := 0
	splits := 0

	got, err := FetchWithBisection(context.Background(), 100, 199, fetchBlocks(30, &calls), func(from, to uint64) { splits++ })

	require.NoError(t, err)
	require.Len(t, got, 100)
	for i, b := range got {
		assert.Equal(t, uint64(100+i), b)
	}
	assert.Greater(t, splits, 0)
}

func TestFetchWithBisectionNoSplitWhenAccepted(t *testing.T) {
	calls := 0
	got, err := FetchWithBisection(context.Background(), 1, 10, fetchBlocks(100, &calls), nil)

	require.NoError(t, err)
	assert.Len(t, got, 10)
	assert.Equal(t, 1, calls)
}

func TestFetchWithBisectionPropagatesOtherErrors(t *testing.T) {
	boom := errors.New("connection refused")
	_, err := FetchWithBisection(context.Background(), 1, 10, func(ctx context.Context, from, to uint64) ([]int, error) {
		return nil, boom
	}, nil)

	assert.ErrorIs(t, err, boom)
}

func TestFetchWithBisectionSingleBlockStillTooWide(t *testing.T) {
	calls := 0
	_, err := FetchWithBisection(context.Background(), 5, 6, fetchBlocks(0, &calls), nil)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "single block")
}
