package storage

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

func TestEventRepository_UpsertMerge(t *testing.T) {
	db := testPostgres(t)
	repo := NewEventRepository(db)
	ctx := testContext(t)

	wallet := "0x" + uuid.NewString()
	hash := "0x" + uuid.NewString()
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	ev := &models.EconomicEvent{
		Network: types.NetworkEthereum, Wallet: wallet, TxHash: &hash, Asset: "eth",
		BlockTimestamp: ts, EventType: types.EventExternalInbound,
		QuantityDelta: decimal.NewFromInt(2), PriceSource: types.PriceSourceUnknown, PricePending: true,
	}
	require.NoError(t, repo.Upsert(ctx, ev))
	id := ev.ID

	require.NoError(t, repo.UpdatePrice(ctx, id, decimal.NewFromInt(1500), types.PriceSourceHistorical, false, nil))
	require.NoError(t, repo.UpdateEventType(ctx, id, types.EventInternalTransfer))

	again := &models.EconomicEvent{
		Network: types.NetworkEthereum, Wallet: wallet, TxHash: &hash, Asset: "eth",
		BlockTimestamp: ts, EventType: types.EventExternalInbound,
		QuantityDelta: decimal.NewFromInt(2), PriceSource: types.PriceSourceUnknown, PricePending: true,
	}
	require.NoError(t, repo.Upsert(ctx, again))

	assert.Equal(t, id, again.ID)
	assert.Equal(t, types.EventInternalTransfer, again.EventType)
	assert.False(t, again.PricePending)
	assert.True(t, decimal.NewFromInt(1500).Equal(again.PriceUSD))

	events, err := repo.ListForAsset(ctx, wallet, types.NetworkEthereum, "eth")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestOverrideRepository_SingleActive(t *testing.T) {
	db := testPostgres(t)
	events := NewEventRepository(db)
	repo := NewOverrideRepository(db)
	ctx := testContext(t)

	hash := "0x" + uuid.NewString()
	ev := &models.EconomicEvent{
		Network: types.NetworkEthereum, Wallet: "0x" + uuid.NewString(), TxHash: &hash, Asset: "eth",
		BlockTimestamp: time.Now().UTC(), EventType: types.EventBuy, QuantityDelta: decimal.NewFromInt(1),
		PriceSource: types.PriceSourceHistorical,
	}
	require.NoError(t, events.Upsert(ctx, ev))

	require.NoError(t, repo.Create(ctx, &models.CostBasisOverride{EventID: ev.ID, PriceUSD: decimal.NewFromInt(900)}))
	assert.ErrorIs(t, repo.Create(ctx, &models.CostBasisOverride{EventID: ev.ID, PriceUSD: decimal.NewFromInt(1)}), ErrActiveOverrideExists)

	prices, err := repo.ActivePrices(ctx, []string{ev.ID})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(900).Equal(prices[ev.ID]))

	ok, err := repo.Deactivate(ctx, ev.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.Deactivate(ctx, ev.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSyncStatusRepository_SaveAndList(t *testing.T) {
	db := testPostgres(t)
	repo := NewSyncStatusRepository(db)
	segments := NewSegmentRepository(db)
	ctx := testContext(t)

	wallet := "0x" + uuid.NewString()
	st := &models.SyncStatus{Wallet: wallet, Network: types.NetworkBase, State: types.SyncPending}
	require.NoError(t, repo.Save(ctx, st))
	firstID := st.ID

	st2 := &models.SyncStatus{Wallet: wallet, Network: types.NetworkBase, State: types.SyncFailed, RetryCount: 2}
	require.NoError(t, repo.Save(ctx, st2))
	assert.Equal(t, firstID, st2.ID)

	got, err := repo.Get(ctx, wallet, types.NetworkBase)
	require.NoError(t, err)
	assert.Equal(t, types.SyncFailed, got.State)
	assert.Equal(t, 2, got.RetryCount)

	last := uint64(41)
	require.NoError(t, segments.Save(ctx, &models.BackfillSegment{
		SyncID: firstID, SegmentIndex: 0, Phase: types.PhaseRawFetch,
		FromBlock: 1, ToBlock: 100, Status: types.SegmentRunning, LastProcessedBlock: &last,
	}))
	segs, err := segments.ListBySync(ctx, firstID)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	assert.Equal(t, uint64(42), segs[0].ResumeFrom())
	require.NoError(t, segments.DeleteBySync(ctx, firstID))
}

func TestRawTransactionRepository_IdempotentUpsert(t *testing.T) {
	db := testClickHouse(t)
	repo := NewRawTransactionRepository(db)
	ctx := testContext(t)

	wallet := "0x" + uuid.NewString()
	tx := &models.RawTransaction{
		TxID: "0xfeed", Network: types.NetworkEthereum, Wallet: wallet, BlockNumber: 10,
		ClassificationStatus: types.ClassificationPending, Payload: []byte(`{"a":1}`),
	}
	require.NoError(t, repo.Upsert(ctx, tx))
	require.NoError(t, repo.Upsert(ctx, tx))
	require.NoError(t, repo.SetClassificationStatus(ctx, tx, types.ClassificationComplete))

	got, err := repo.ListByBlockRange(ctx, wallet, types.NetworkEthereum, 0, 100)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, types.ClassificationComplete, got[0].ClassificationStatus)
	assert.JSONEq(t, `{"a":1}`, string(got[0].Payload))
}
