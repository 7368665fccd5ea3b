package service

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage/memory"
	"github.com/avco-ledger/internal/types"
)

const (
	walletA = "0xaaaa"
	walletB = "0xbbbb"
	weth    = "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2"
)

var t0 = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// onChain builds an on-chain event of asset weth at t0 + minutes
func onChain(wallet, tx string, typ types.EventType, qty, price string, minutes int) *models.EconomicEvent {
	return &models.EconomicEvent{
		Network:        types.NetworkEthereum,
		Wallet:         wallet,
		TxHash:         &tx,
		BlockNumber:    uint64(1000 + minutes),
		BlockTimestamp: t0.Add(time.Duration(minutes) * time.Minute),
		EventType:      typ,
		Asset:          weth,
		QuantityDelta:  dec(qty),
		PriceUSD:       dec(price),
		PriceSource:    types.PriceSourceHistorical,
		GasCostUSD:     decimal.Zero,
	}
}

func manual(wallet, key string, qty, price string, minutes int) *models.EconomicEvent {
	return &models.EconomicEvent{
		Network:        types.NetworkEthereum,
		Wallet:         wallet,
		IdempotencyKey: &key,
		BlockTimestamp: t0.Add(time.Duration(minutes) * time.Minute),
		EventType:      types.EventManualCompensating,
		Asset:          weth,
		QuantityDelta:  dec(qty),
		PriceUSD:       dec(price),
		PriceSource:    types.PriceSourceManual,
		GasCostUSD:     decimal.Zero,
	}
}

type fixture struct {
	events    *memory.EventStore
	positions *memory.PositionStore
	overrides *memory.OverrideStore
	syncs     *memory.SyncStatusStore
	engine    *AvcoEngine
}

func newFixture() *fixture {
	f := &fixture{
		events:    memory.NewEventStore(),
		positions: memory.NewPositionStore(),
		overrides: memory.NewOverrideStore(),
		syncs:     memory.NewSyncStatusStore(),
	}
	f.engine = NewAvcoEngine(f.events, f.positions, f.overrides)
	return f
}

func (f *fixture) store(t *testing.T, evs ...*models.EconomicEvent) {
	t.Helper()
	for _, ev := range evs {
		require.NoError(t, f.events.Upsert(context.Background(), ev))
	}
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s got %s", want, got.String())
}
