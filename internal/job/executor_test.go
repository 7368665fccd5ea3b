package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avco-ledger/internal/adapter"
	"github.com/avco-ledger/internal/config"
	"github.com/avco-ledger/internal/events"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/pricing"
	"github.com/avco-ledger/internal/types"
)

type executorFixture struct {
	chain    *fakeChain
	cls      *stubClassifier
	stores   *testStores
	registry *adapter.Registry
	prices   *pricing.StablecoinResolver
	rec      *events.Recorder
	exec     *BackfillNetworkExecutor
}

func newExecutorFixture(t *testing.T, chain *fakeChain, cfg config.BackfillConfig) *executorFixture {
	t.Helper()
	f := &executorFixture{
		chain:    chain,
		cls:      &stubClassifier{},
		stores:   newTestStores(),
		registry: registryWith(chain),
		prices:   pricing.NewStablecoinResolver(),
		rec:      &events.Recorder{},
	}
	f.prices.Add(types.NetworkEthereum, testAsset)
	deferred := pricing.NewDeferredPriceJob(f.stores.Events, f.prices)
	f.exec = NewBackfillNetworkExecutor(f.registry, f.stores.Stores, f.cls, f.prices, deferred, f.rec, cfg, config.NetworksConfig{})
	return f
}

func (f *executorFixture) sync(t *testing.T) *models.SyncStatus {
	t.Helper()
	st, err := f.stores.Syncs.Get(context.Background(), testWallet, types.NetworkEthereum)
	require.NoError(t, err)
	return st
}

func (f *executorFixture) eventCount(t *testing.T) int {
	t.Helper()
	evs, err := f.stores.Events.ListForAsset(context.Background(), testWallet, types.NetworkEthereum, testAsset)
	require.NoError(t, err)
	return len(evs)
}

func assertCoverage(t *testing.T, ranges []BlockRange, from, to uint64) {
	t.Helper()
	require.NotEmpty(t, ranges)
	assert.Equal(t, from, ranges[0].From)
	assert.Equal(t, to, ranges[len(ranges)-1].To)
	for i := 1; i < len(ranges); i++ {
		assert.Equal(t, ranges[i-1].To+1, ranges[i].From, "gap or overlap before %s", ranges[i])
	}
}

func TestExecuteParallelBackfill(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(99, 7)
	chain.addTx(3, "0xa")
	chain.addTx(30, "0xb")
	chain.addTx(30, "0xc")
	chain.addTx(77, "0xd")
	chain.addTx(99, "0xe")

	f := newExecutorFixture(t, chain, config.BackfillConfig{
		WindowBlocks:      100,
		ParallelSegments:  4,
		ParallelThreshold: 10,
		RetryBaseDelay:    time.Minute,
	})

	require.NoError(t, f.exec.Execute(ctx, testWallet, types.NetworkEthereum))

	st := f.sync(t)
	assert.Equal(t, types.SyncComplete, st.State)
	assert.Equal(t, 100, st.ProgressPct)
	require.NotNil(t, st.LastBlockSynced)
	assert.Equal(t, uint64(99), *st.LastBlockSynced)
	assert.False(t, st.HasPlannedRange())
	assert.False(t, st.RawFetchComplete)
	assert.Zero(t, st.RetryCount)

	assertCoverage(t, chain.fetchedRanges(), 0, 99)

	assert.Equal(t, 5, f.stores.raw.Len())
	done, err := f.stores.Raw.ListByStatus(ctx, testWallet, types.NetworkEthereum, types.ClassificationComplete)
	require.NoError(t, err)
	assert.Len(t, done, 5)

	evs, err := f.stores.Events.ListForAsset(ctx, testWallet, types.NetworkEthereum, testAsset)
	require.NoError(t, err)
	require.Len(t, evs, 5)
	for _, ev := range evs {
		assert.False(t, ev.PricePending)
		assert.Equal(t, "1", ev.PriceUSD.String())
		assert.Equal(t, types.PriceSourceStablecoin, ev.PriceSource)
	}
	assert.True(t, genesis.Add(36*time.Second).Equal(evs[0].BlockTimestamp), "got %s", evs[0].BlockTimestamp)

	assert.Len(t, f.rec.OfKind(events.KindRawFetchComplete), 1)
	assert.Len(t, f.rec.OfKind(events.KindRecalculateWalletRequested), 1)

	segs, err := f.stores.Segments.ListBySync(ctx, st.ID)
	require.NoError(t, err)
	assert.Empty(t, segs)
}

func TestExecuteFailureThenResume(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(99, 10)
	chain.addTx(5, "0xa")
	chain.addTx(80, "0xb")
	chain.failBlock(65, true)

	f := newExecutorFixture(t, chain, config.BackfillConfig{
		WindowBlocks:     100,
		ParallelSegments: 1,
		RetryBaseDelay:   time.Minute,
	})
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	f.exec.now = func() time.Time { return now }

	err := f.exec.Execute(ctx, testWallet, types.NetworkEthereum)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errRPC))

	st := f.sync(t)
	assert.Equal(t, types.SyncFailed, st.State)
	assert.Equal(t, 1, st.RetryCount)
	require.NotNil(t, st.NextRetryAfter)
	assert.True(t, now.Add(time.Minute).Equal(*st.NextRetryAfter))
	require.NotNil(t, st.BannerMessage)
	assert.Contains(t, *st.BannerMessage, "ethereum")
	require.True(t, st.HasPlannedRange())
	assert.Equal(t, uint64(0), *st.PlannedFromBlock)
	assert.Equal(t, uint64(99), *st.PlannedToBlock)
	assert.False(t, st.RawFetchComplete)
	assert.Less(t, st.ProgressPct, 50)

	segs, err := f.stores.Segments.ListBySync(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, types.SegmentFailed, segs[0].Status)
	assert.Equal(t, types.PhaseRawFetch, segs[0].Phase)
	require.NotNil(t, segs[0].LastProcessedBlock)
	assert.Equal(t, uint64(59), *segs[0].LastProcessedBlock)
	assert.Equal(t, 1, f.stores.raw.Len())
	assert.Empty(t, f.rec.Signals())

	t.Run("backoff doubles", func(t *testing.T) {
		require.Error(t, f.exec.Execute(ctx, testWallet, types.NetworkEthereum))
		st := f.sync(t)
		assert.Equal(t, 2, st.RetryCount)
		require.NotNil(t, st.NextRetryAfter)
		assert.True(t, now.Add(2*time.Minute).Equal(*st.NextRetryAfter))
	})

	t.Run("resumes the planned range", func(t *testing.T) {
		chain.failBlock(65, false)
		chain.setHeight(150)
		chain.resetFetches()

		require.NoError(t, f.exec.Execute(ctx, testWallet, types.NetworkEthereum))

		ranges := chain.fetchedRanges()
		assertCoverage(t, ranges, 60, 99)

		st := f.sync(t)
		assert.Equal(t, types.SyncComplete, st.State)
		assert.Equal(t, uint64(99), *st.LastBlockSynced)
		assert.Zero(t, st.RetryCount)
		assert.Nil(t, st.NextRetryAfter)
		assert.Nil(t, st.BannerMessage)
		assert.Equal(t, 2, f.eventCount(t))
	})
}

func TestExecuteInterruptedStaysRunning(t *testing.T) {
	chain := newFakeChain(99, 10)
	chain.addTx(5, "0xa")
	chain.failBlock(65, true)

	f := newExecutorFixture(t, chain, config.BackfillConfig{WindowBlocks: 100, ParallelSegments: 1})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, f.exec.Execute(ctx, testWallet, types.NetworkEthereum))

	st := f.sync(t)
	assert.Equal(t, types.SyncRunning, st.State)
	assert.Zero(t, st.RetryCount)
	assert.Nil(t, st.NextRetryAfter)
}

func TestExecuteIncrementalFromLastSynced(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(99, 50)
	chain.addTx(10, "0xa")

	f := newExecutorFixture(t, chain, config.BackfillConfig{WindowBlocks: 100, ParallelSegments: 1})
	require.NoError(t, f.exec.Execute(ctx, testWallet, types.NetworkEthereum))

	chain.setHeight(120)
	chain.addTx(110, "0xb")
	chain.resetFetches()
	require.NoError(t, f.exec.Execute(ctx, testWallet, types.NetworkEthereum))

	assertCoverage(t, chain.fetchedRanges(), 100, 120)
	assert.Equal(t, uint64(120), *f.sync(t).LastBlockSynced)
	assert.Equal(t, 2, f.eventCount(t))

	t.Run("up to date", func(t *testing.T) {
		chain.resetFetches()
		require.NoError(t, f.exec.Execute(ctx, testWallet, types.NetworkEthereum))
		assert.Empty(t, chain.fetchedRanges())
		assert.Equal(t, types.SyncComplete, f.sync(t).State)
	})
}

func TestExecuteWindowBoundsRange(t *testing.T) {
	chain := newFakeChain(1000, 1000)
	f := newExecutorFixture(t, chain, config.BackfillConfig{WindowBlocks: 100, ParallelSegments: 1})

	require.NoError(t, f.exec.Execute(context.Background(), testWallet, types.NetworkEthereum))
	assert.Equal(t, []BlockRange{{901, 1000}}, chain.fetchedRanges())
}

func TestExecuteUnsupportedNetworkCompletes(t *testing.T) {
	ctx := context.Background()
	f := newExecutorFixture(t, newFakeChain(10, 10), config.BackfillConfig{WindowBlocks: 100})

	require.NoError(t, f.exec.Execute(ctx, testWallet, types.NetworkSolana))
	st, err := f.stores.Syncs.Get(ctx, testWallet, types.NetworkSolana)
	require.NoError(t, err)
	assert.Equal(t, types.SyncComplete, st.State)
}

func TestClassificationFailureIsSkippedThenSwept(t *testing.T) {
	ctx := context.Background()
	chain := newFakeChain(49, 10)
	chain.addTx(10, "0xgood")
	chain.addTx(20, "0xbad")

	f := newExecutorFixture(t, chain, config.BackfillConfig{
		WindowBlocks:      50,
		ParallelSegments:  2,
		ParallelThreshold: 10,
	})
	f.cls.setReject("0xbad", true)

	require.NoError(t, f.exec.Execute(ctx, testWallet, types.NetworkEthereum))
	assert.Equal(t, types.SyncComplete, f.sync(t).State)
	assert.Equal(t, 1, f.eventCount(t))

	failed, err := f.stores.Raw.ListByStatus(ctx, testWallet, types.NetworkEthereum, types.ClassificationFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "0xbad", failed[0].TxID)

	sweep := NewClassificationSweep(f.registry, f.cls, f.prices, f.stores.Stores, f.exec.BlockTime)

	t.Run("still failing", func(t *testing.T) {
		n, err := sweep.Run(ctx, testWallet, types.NetworkEthereum)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("recovers", func(t *testing.T) {
		f.cls.setReject("0xbad", false)
		n, err := sweep.Run(ctx, testWallet, types.NetworkEthereum)
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		failed, err := f.stores.Raw.ListByStatus(ctx, testWallet, types.NetworkEthereum, types.ClassificationFailed)
		require.NoError(t, err)
		assert.Empty(t, failed)

		evs, err := f.stores.Events.ListForAsset(ctx, testWallet, types.NetworkEthereum, testAsset)
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.True(t, genesis.Add(240*time.Second).Equal(evs[1].BlockTimestamp), "got %s", evs[1].BlockTimestamp)
	})
}

func TestProgressTrackerWeightsByBlocks(t *testing.T) {
	stores := newTestStores()
	st := &models.SyncStatus{Wallet: testWallet, Network: types.NetworkEthereum}
	segs := []*models.BackfillSegment{
		{SegmentIndex: 0, FromBlock: 0, ToBlock: 99},
		{SegmentIndex: 1, FromBlock: 100, ToBlock: 399},
	}
	tracker := newProgressTracker(context.Background(), stores.Syncs, st, segs, 0, 50)

	last := uint64(99)
	tracker.update(&models.BackfillSegment{SegmentIndex: 0, FromBlock: 0, ToBlock: 99, LastProcessedBlock: &last})
	assert.Equal(t, 12, st.ProgressPct)

	tracker.update(&models.BackfillSegment{SegmentIndex: 1, FromBlock: 100, ToBlock: 399, Status: types.SegmentComplete})
	assert.Equal(t, 50, st.ProgressPct)
}
