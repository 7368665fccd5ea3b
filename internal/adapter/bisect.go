package adapter

import (
	"context"
	"fmt"
)

// RangeFetch fetches items for the inclusive block range [from, to]
type RangeFetch[T any] func(ctx context.Context, from, to uint64) ([]T, error)

// FetchWithBisection calls fetch over [from, to]. When the provider rejects the
// range as too wide, the range is halved and each half fetched recursively.
// onSplit, if set, is called for every split.
func FetchWithBisection[T any](ctx context.Context, from, to uint64, fetch RangeFetch[T], onSplit func(from, to uint64)) ([]T, error) {
	if from > to {
		return nil, nil
	}

	items, err := fetch(ctx, from, to)
	if err == nil {
		return items, nil
	}
	if !IsRangeTooWideError(err) {
		return nil, err
	}
	if from == to {
		return nil, fmt.Errorf("single block %d still too wide: %w", from, err)
	}
	if onSplit != nil {
		onSplit(from, to)
	}

	mid := from + (to-from)/2
	left, err := FetchWithBisection(ctx, from, mid, fetch, onSplit)
	if err != nil {
		return nil, err
	}
	right, err := FetchWithBisection(ctx, mid+1, to, fetch, onSplit)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}
