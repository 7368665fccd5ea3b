package classifier

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

const (
	wallet = "0x00000000000000000000000000000000000000aa"
	other  = "0x00000000000000000000000000000000000000bb"
	usdc   = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
	weth   = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

func rawTx(t *testing.T, transfers ...models.EVMTransfer) *models.RawTransaction {
	t.Helper()
	payload, err := json.Marshal(models.EVMTransferPayload{TxHash: "0xtx", BlockNumber: 100, Transfers: transfers})
	require.NoError(t, err)
	return &models.RawTransaction{
		TxID: "0xtx", Network: types.NetworkEthereum, Wallet: wallet, BlockNumber: 100, Payload: payload,
	}
}

type fixedClock time.Time

func (f fixedClock) Estimate(uint64) time.Time { return time.Time(f) }

func TestTransferClassifier(t *testing.T) {
	c := NewTransferClassifier(nil)
	ctx := context.Background()

	t.Run("inbound", func(t *testing.T) {
		events, err := c.Classify(ctx, rawTx(t, models.EVMTransfer{Token: usdc, From: other, To: wallet, Value: "2500000", LogIndex: 3}))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventExternalInbound, events[0].EventType)
		assert.True(t, decimal.RequireFromString("2.5").Equal(events[0].QuantityDelta))
		assert.Equal(t, "USDC", events[0].AssetSymbol)
		assert.Equal(t, other, events[0].Counterparty)
		assert.Equal(t, 3, events[0].LogIndex)
	})

	t.Run("outbound", func(t *testing.T) {
		events, err := c.Classify(ctx, rawTx(t, models.EVMTransfer{Token: weth, From: wallet, To: other, Value: "1000000000000000000"}))
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, types.EventExternalOutbound, events[0].EventType)
		assert.True(t, decimal.NewFromInt(-1).Equal(events[0].QuantityDelta))
	})

	t.Run("swap nets legs per asset", func(t *testing.T) {
		events, err := c.Classify(ctx, rawTx(t,
			models.EVMTransfer{Token: usdc, From: wallet, To: other, Value: "3000000000", LogIndex: 1},
			models.EVMTransfer{Token: weth, From: other, To: wallet, Value: "600000000000000000", LogIndex: 2},
			models.EVMTransfer{Token: weth, From: other, To: wallet, Value: "400000000000000000", LogIndex: 4},
		))
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, types.EventSwapSell, events[0].EventType)
		assert.True(t, decimal.NewFromInt(-3000).Equal(events[0].QuantityDelta))
		assert.Equal(t, types.EventSwapBuy, events[1].EventType)
		assert.True(t, decimal.NewFromInt(1).Equal(events[1].QuantityDelta))
		assert.Nil(t, events[0].Flag)
	})

	t.Run("self transfer and unrelated legs are ignored", func(t *testing.T) {
		events, err := c.Classify(ctx, rawTx(t,
			models.EVMTransfer{Token: usdc, From: wallet, To: wallet, Value: "1"},
			models.EVMTransfer{Token: usdc, From: other, To: other, Value: "1"},
		))
		require.NoError(t, err)
		assert.Empty(t, events)
	})

	t.Run("bad payload", func(t *testing.T) {
		_, err := c.Classify(ctx, &models.RawTransaction{TxID: "0x1", Network: types.NetworkEthereum, Payload: []byte("{")})
		assert.Error(t, err)
	})
}

func TestDispatcher(t *testing.T) {
	d := NewDispatcher(NewTransferClassifier(nil))

	assert.True(t, d.Supports(types.NetworkBase))
	assert.False(t, d.Supports(types.NetworkSolana))

	_, err := d.Classify(context.Background(), &models.RawTransaction{Network: types.NetworkSolana})
	assert.ErrorIs(t, err, ErrNoClassifier)
}

func TestNormalize(t *testing.T) {
	at := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	raw := &models.RawTransaction{TxID: "0xtx", Network: types.NetworkEthereum, Wallet: "0xAA", BlockNumber: 7}
	price := decimal.NewFromInt(1)

	events := Normalize(raw, []RawEvent{
		{EventType: types.EventExternalInbound, Asset: "0xTOKEN", QuantityDelta: decimal.NewFromInt(5)},
		{EventType: types.EventSwapBuy, Asset: usdc, QuantityDelta: decimal.NewFromInt(1), PriceUSD: &price, PriceSource: types.PriceSourceStablecoin},
	}, fixedClock(at))

	require.Len(t, events, 2)
	assert.Equal(t, "0xaa", events[0].Wallet)
	assert.Equal(t, "0xtoken", events[0].Asset)
	assert.Equal(t, at, events[0].BlockTimestamp)
	assert.Equal(t, uint64(7), events[0].BlockNumber)
	assert.True(t, events[0].PricePending)
	assert.False(t, events[1].PricePending)
	assert.Equal(t, types.PriceSourceStablecoin, events[1].PriceSource)
	require.NotNil(t, events[1].TxHash)
	assert.Equal(t, "0xtx", *events[1].TxHash)
}
