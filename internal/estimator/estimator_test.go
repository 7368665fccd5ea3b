package estimator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avco-ledger/internal/types"
)

type stubSource struct {
	calls []uint64
	base  time.Time
	step  time.Duration
	err   error
}

func (s *stubSource) BlockTimestamp(ctx context.Context, network types.Network, block uint64) (time.Time, error) {
	s.calls = append(s.calls, block)
	if s.err != nil {
		return time.Time{}, s.err
	}
	return s.base.Add(time.Duration(block) * s.step), nil
}

func TestCalibrateTwoAnchors(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &stubSource{base: base, step: 12 * time.Second}

	est, err := Calibrate(context.Background(), src, types.NetworkEthereum, 1000, 2000, 0)
	require.NoError(t, err)

	assert.Equal(t, []uint64{1000, 2000}, src.calls)
	assert.Equal(t, base.Add(1500*12*time.Second), est.Estimate(1500))
	assert.Equal(t, base.Add(1000*12*time.Second), est.Estimate(1000))
	assert.Equal(t, base.Add(2000*12*time.Second), est.Estimate(2000))
	// extrapolation stays on the line
	assert.Equal(t, base.Add(2100*12*time.Second), est.Estimate(2100))
	assert.Equal(t, base.Add(900*12*time.Second), est.Estimate(900))
}

func TestCalibrateSingleBlockUsesFallback(t *testing.T) {
	base := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &stubSource{base: base, step: 2 * time.Second}

	est, err := Calibrate(context.Background(), src, types.NetworkPolygon, 500, 500, 3*time.Second)
	require.NoError(t, err)

	assert.Equal(t, []uint64{500}, src.calls)
	anchor := base.Add(1000 * time.Second)
	assert.Equal(t, anchor, est.Estimate(500))
	assert.Equal(t, anchor.Add(30*time.Second), est.Estimate(510))
}

func TestCalibrateErrors(t *testing.T) {
	src := &stubSource{err: errors.New("rpc down")}
	_, err := Calibrate(context.Background(), src, types.NetworkEthereum, 1, 2, time.Second)
	assert.Error(t, err)

	_, err = Calibrate(context.Background(), &stubSource{}, types.NetworkEthereum, 5, 4, time.Second)
	assert.Error(t, err)
}

func TestEstimateIsMonotonic(t *testing.T) {
	est := NewTwoAnchor(0, time.Unix(1_600_000_000, 0), 1_000_000, time.Unix(1_612_000_000, 0))

	prev := est.Estimate(0)
	for b := uint64(1); b <= 1_000_000; b += 9_973 {
		cur := est.Estimate(b)
		assert.False(t, cur.Before(prev))
		prev = cur
	}
}
