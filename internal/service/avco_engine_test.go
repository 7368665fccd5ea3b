package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

func TestReplayWeightedAverage(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	buy := onChain(walletA, "0x1", types.EventBuy, "2", "1000", 0)
	sell := onChain(walletA, "0x2", types.EventSell, "-1", "1200", 10)
	f.store(t, buy, sell)

	pos, err := f.engine.Replay(ctx, walletA, types.NetworkEthereum, weth)
	require.NoError(t, err)
	require.NotNil(t, pos)

	assertDec(t, "1", pos.Quantity)
	assertDec(t, "1000", pos.AvcoUSD)
	assertDec(t, "200", pos.RealizedPnLUSD)
	assertDec(t, "1000", pos.CostBasisUSD)
	assert.False(t, pos.HasIncompleteHistory)
	assert.True(t, pos.LastEventAt.Equal(sell.BlockTimestamp))

	stored, err := f.positions.Get(ctx, walletA, types.NetworkEthereum, weth)
	require.NoError(t, err)
	assertDec(t, "1000", stored.AvcoUSD)

	annotated, err := f.events.GetByID(ctx, sell.ID)
	require.NoError(t, err)
	require.NotNil(t, annotated.RealizedPnLUSD)
	require.NotNil(t, annotated.AvcoAtSaleUSD)
	assertDec(t, "200", *annotated.RealizedPnLUSD)
	assertDec(t, "1000", *annotated.AvcoAtSaleUSD)
}

func TestReplayLoneSellFlagsIncompleteHistory(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store(t, onChain(walletA, "0x1", types.EventSell, "-1", "1200", 0))

	pos, err := f.engine.Replay(ctx, walletA, types.NetworkEthereum, weth)
	require.NoError(t, err)

	assert.True(t, pos.HasIncompleteHistory)
	assertDec(t, "0", pos.Quantity)
	assertDec(t, "0", pos.AvcoUSD)
}

func TestReplayHonorsOverride(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	buy := onChain(walletA, "0x1", types.EventBuy, "2", "1000", 0)
	sell := onChain(walletA, "0x2", types.EventSell, "-1", "1200", 10)
	f.store(t, buy, sell)

	require.NoError(t, f.overrides.Create(ctx, &models.CostBasisOverride{EventID: buy.ID, PriceUSD: dec("900")}))

	pos, err := f.engine.Replay(ctx, walletA, types.NetworkEthereum, weth)
	require.NoError(t, err)
	assertDec(t, "900", pos.AvcoUSD)
	assertDec(t, "300", pos.RealizedPnLUSD)

	t.Run("revert restores stored price", func(t *testing.T) {
		ok, err := f.overrides.Deactivate(ctx, buy.ID)
		require.NoError(t, err)
		require.True(t, ok)

		pos, err := f.engine.Replay(ctx, walletA, types.NetworkEthereum, weth)
		require.NoError(t, err)
		assertDec(t, "1000", pos.AvcoUSD)
		assertDec(t, "200", pos.RealizedPnLUSD)
	})
}

func TestReplayEmptyHistoryDeletesPosition(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	require.NoError(t, f.positions.Save(ctx, &models.AssetPosition{Wallet: walletA, Network: types.NetworkEthereum, Asset: weth}))

	pos, err := f.engine.Replay(ctx, walletA, types.NetworkEthereum, weth)
	require.NoError(t, err)
	assert.Nil(t, pos)

	_, err = f.positions.Get(ctx, walletA, types.NetworkEthereum, weth)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestReplayIsDeterministic(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.store(t,
		onChain(walletA, "0x1", types.EventBuy, "3", "1000.123456789", 0),
		onChain(walletA, "0x2", types.EventBuy, "7", "999.987654321", 5),
		onChain(walletA, "0x3", types.EventSell, "-4.5", "1100", 10),
	)

	first, err := f.engine.Replay(ctx, walletA, types.NetworkEthereum, weth)
	require.NoError(t, err)
	second, err := f.engine.Replay(ctx, walletA, types.NetworkEthereum, weth)
	require.NoError(t, err)

	assert.Equal(t, first.AvcoUSD.String(), second.AvcoUSD.String())
	assert.Equal(t, first.RealizedPnLUSD.String(), second.RealizedPnLUSD.String())
	assert.Equal(t, first.Quantity.String(), second.Quantity.String())
	assert.LessOrEqual(t, -first.AvcoUSD.Exponent(), int32(18))
}

func TestRecalculateForWallet(t *testing.T) {
	ctx := context.Background()
	f := newFixture()

	usdc := onChain(walletA, "0x9", types.EventExternalInbound, "500", "1", 3)
	usdc.Asset = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	f.store(t,
		onChain(walletA, "0x1", types.EventBuy, "1", "2000", 0),
		usdc,
		onChain(walletB, "0x2", types.EventBuy, "1", "3000", 0),
	)

	n, err := f.engine.RecalculateForWallet(ctx, "0xAAAA")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	positions, err := f.positions.ListByWallet(ctx, walletA)
	require.NoError(t, err)
	assert.Len(t, positions, 2)

	_, err = f.positions.Get(ctx, walletB, types.NetworkEthereum, weth)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFold(t *testing.T) {
	t.Run("blends inflows", func(t *testing.T) {
		res := Fold([]*models.EconomicEvent{
			onChain(walletA, "0x1", types.EventBuy, "1", "100", 0),
			onChain(walletA, "0x2", types.EventSwapBuy, "3", "200", 1),
		}, nil)
		assertDec(t, "175", res.AvcoUSD)
		assertDec(t, "4", res.Quantity)
	})

	t.Run("gas included in basis inflates unit price", func(t *testing.T) {
		buy := onChain(walletA, "0x1", types.EventBuy, "2", "100", 0)
		buy.GasCostUSD = dec("10")
		buy.GasIncludedInBasis = true
		res := Fold([]*models.EconomicEvent{buy}, nil)
		assertDec(t, "105", res.AvcoUSD)
		assertDec(t, "10", res.TotalGasPaidUSD)
	})

	t.Run("gas outside basis is only accumulated", func(t *testing.T) {
		buy := onChain(walletA, "0x1", types.EventBuy, "2", "100", 0)
		buy.GasCostUSD = dec("10")
		sell := onChain(walletA, "0x2", types.EventSell, "-1", "100", 1)
		sell.GasCostUSD = dec("2.5")
		res := Fold([]*models.EconomicEvent{buy, sell}, nil)
		assertDec(t, "100", res.AvcoUSD)
		assertDec(t, "12.5", res.TotalGasPaidUSD)
	})

	t.Run("non-sell outflow moves quantity only", func(t *testing.T) {
		res := Fold([]*models.EconomicEvent{
			onChain(walletA, "0x1", types.EventBuy, "2", "100", 0),
			onChain(walletA, "0x2", types.EventStakeDeposit, "-1", "150", 1),
		}, nil)
		assertDec(t, "1", res.Quantity)
		assertDec(t, "100", res.AvcoUSD)
		assertDec(t, "0", res.RealizedPnLUSD)
		assert.Empty(t, res.Sells)
		assert.False(t, res.HasIncompleteHistory)
	})

	t.Run("first outflow marks incomplete history", func(t *testing.T) {
		res := Fold([]*models.EconomicEvent{
			onChain(walletA, "0x1", types.EventExternalOutbound, "-1", "0", 0),
			onChain(walletA, "0x2", types.EventBuy, "1", "100", 1),
		}, nil)
		assert.True(t, res.HasIncompleteHistory)
		assertDec(t, "100", res.AvcoUSD)
	})

	t.Run("principal return does not blend", func(t *testing.T) {
		res := Fold([]*models.EconomicEvent{
			onChain(walletA, "0x1", types.EventBuy, "2", "100", 0),
			onChain(walletA, "0x2", types.EventStakeWithdrawal, "1", "400", 1),
		}, nil)
		assertDec(t, "3", res.Quantity)
		assertDec(t, "100", res.AvcoUSD)
	})

	t.Run("orders by timestamp then log index", func(t *testing.T) {
		sell := onChain(walletA, "0x1", types.EventSell, "-1", "300", 0)
		sell.LogIndex = 2
		buy := onChain(walletA, "0x1", types.EventBuy, "1", "100", 0)
		buy.LogIndex = 1
		res := Fold([]*models.EconomicEvent{sell, buy}, nil)
		assert.False(t, res.HasIncompleteHistory)
		assertDec(t, "200", res.RealizedPnLUSD)
	})

	t.Run("overrides skip manual events", func(t *testing.T) {
		m := manual(walletA, "opening", "1", "50", 0)
		m.ID = "manual-1"
		res := Fold([]*models.EconomicEvent{m}, map[string]decimal.Decimal{"manual-1": dec("999")})
		assertDec(t, "50", res.AvcoUSD)
	})

	t.Run("counts unresolved flags", func(t *testing.T) {
		pending := onChain(walletA, "0x1", types.EventBuy, "1", "0", 0)
		pending.PricePending = true
		flag := types.FlagClassificationAmbiguous
		ambiguous := onChain(walletA, "0x2", types.EventSwapBuy, "1", "10", 1)
		ambiguous.Flag = &flag
		res := Fold([]*models.EconomicEvent{pending, ambiguous, onChain(walletA, "0x3", types.EventBuy, "1", "10", 2)}, nil)
		assert.Equal(t, 2, res.UnresolvedFlagCount)
	})

	t.Run("empty", func(t *testing.T) {
		res := Fold(nil, nil)
		assertDec(t, "0", res.Quantity)
		assert.False(t, res.HasIncompleteHistory)
	})
}
