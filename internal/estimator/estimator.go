// Package estimator maps block numbers to timestamps by linear interpolation
// between two exact anchors, so classification never needs a per-block RPC.
package estimator

import (
	"context"
	"fmt"
	"time"

	"github.com/avco-ledger/internal/types"
)

// TimestampSource looks up one exact block timestamp
type TimestampSource interface {
	BlockTimestamp(ctx context.Context, network types.Network, block uint64) (time.Time, error)
}

// BlockTimestampEstimator is immutable after calibration and safe for concurrent use
type BlockTimestampEstimator struct {
	fromBlock uint64
	fromTime  int64 // unix seconds
	toBlock   uint64
	toTime    int64
	// slopeNanos is used when both anchors are the same block
	slopeNanos int64
}

// Calibrate resolves exact timestamps for fromBlock and toBlock. When the range
// is a single block only one lookup is made and fallbackBlockTime is the slope.
func Calibrate(ctx context.Context, src TimestampSource, network types.Network, fromBlock, toBlock uint64, fallbackBlockTime time.Duration) (*BlockTimestampEstimator, error) {
	if fromBlock > toBlock {
		return nil, fmt.Errorf("invalid calibration range %d-%d", fromBlock, toBlock)
	}

	start, err := src.BlockTimestamp(ctx, network, fromBlock)
	if err != nil {
		return nil, fmt.Errorf("calibrate anchor %d: %w", fromBlock, err)
	}
	if fromBlock == toBlock {
		return NewSingleAnchor(fromBlock, start, fallbackBlockTime), nil
	}

	end, err := src.BlockTimestamp(ctx, network, toBlock)
	if err != nil {
		return nil, fmt.Errorf("calibrate anchor %d: %w", toBlock, err)
	}
	return NewTwoAnchor(fromBlock, start, toBlock, end), nil
}

// NewTwoAnchor builds an estimator from two known points
func NewTwoAnchor(fromBlock uint64, fromTime time.Time, toBlock uint64, toTime time.Time) *BlockTimestampEstimator {
	return &BlockTimestampEstimator{
		fromBlock: fromBlock,
		fromTime:  fromTime.Unix(),
		toBlock:   toBlock,
		toTime:    toTime.Unix(),
	}
}

// NewSingleAnchor builds an estimator from one known point and an average block time
func NewSingleAnchor(block uint64, at time.Time, blockTime time.Duration) *BlockTimestampEstimator {
	return &BlockTimestampEstimator{
		fromBlock:  block,
		fromTime:   at.Unix(),
		toBlock:    block,
		toTime:     at.Unix(),
		slopeNanos: int64(blockTime),
	}
}

// Estimate returns the interpolated timestamp of block. Blocks outside the
// calibrated range are extrapolated along the same line.
func (e *BlockTimestampEstimator) Estimate(block uint64) time.Time {
	offset := int64(block) - int64(e.fromBlock)

	if e.toBlock == e.fromBlock {
		return time.Unix(e.fromTime, 0).UTC().Add(time.Duration(offset * e.slopeNanos))
	}

	span := int64(e.toBlock - e.fromBlock)
	seconds := e.fromTime + offset*(e.toTime-e.fromTime)/span
	return time.Unix(seconds, 0).UTC()
}

// Anchors returns the calibration points
func (e *BlockTimestampEstimator) Anchors() (fromBlock uint64, fromTime time.Time, toBlock uint64, toTime time.Time) {
	return e.fromBlock, time.Unix(e.fromTime, 0).UTC(), e.toBlock, time.Unix(e.toTime, 0).UTC()
}
