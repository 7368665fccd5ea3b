package models

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/types"
)

// EconomicEvent is one effect of a transaction on a wallet's balance of one asset
type EconomicEvent struct {
	ID                  string            `json:"id" db:"id"`
	Network             types.Network     `json:"network" db:"network"`
	Wallet              string            `json:"wallet" db:"wallet"`
	TxHash              *string           `json:"txHash,omitempty" db:"tx_hash"`
	IdempotencyKey      *string           `json:"idempotencyKey,omitempty" db:"idempotency_key"`
	LogIndex            int               `json:"logIndex" db:"log_index"`
	BlockNumber         uint64            `json:"blockNumber" db:"block_number"`
	BlockTimestamp      time.Time         `json:"blockTimestamp" db:"block_timestamp"`
	EventType           types.EventType   `json:"eventType" db:"event_type"`
	Asset               string            `json:"asset" db:"asset"`
	AssetSymbol         string            `json:"assetSymbol,omitempty" db:"asset_symbol"`
	CounterpartyAddress string            `json:"counterpartyAddress,omitempty" db:"counterparty_address"`
	QuantityDelta       decimal.Decimal   `json:"quantityDelta" db:"quantity_delta"`
	PriceUSD            decimal.Decimal   `json:"priceUsd" db:"price_usd"`
	PriceSource         types.PriceSource `json:"priceSource" db:"price_source"`
	PricePending        bool              `json:"pricePending" db:"price_pending"`
	GasCostUSD          decimal.Decimal   `json:"gasCostUsd" db:"gas_cost_usd"`
	GasIncludedInBasis  bool              `json:"gasIncludedInBasis" db:"gas_included_in_basis"`
	RealizedPnLUSD      *decimal.Decimal  `json:"realizedPnlUsd,omitempty" db:"realized_pnl_usd"`
	AvcoAtSaleUSD       *decimal.Decimal  `json:"avcoAtSaleUsd,omitempty" db:"avco_at_sale_usd"`
	Flag                *types.FlagCode   `json:"flag,omitempty" db:"flag_code"`
	CreatedAt           time.Time         `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time         `json:"updatedAt" db:"updated_at"`
}

// IsManual reports whether the event was entered by hand rather than derived from chain data
func (e *EconomicEvent) IsManual() bool {
	return e.TxHash == nil
}

// UniqueKey is the event's identity across re-classification runs
func (e *EconomicEvent) UniqueKey() string {
	if e.TxHash == nil {
		key := ""
		if e.IdempotencyKey != nil {
			key = *e.IdempotencyKey
		}
		return "manual|" + key
	}
	return "tx|" + *e.TxHash + "|" + string(e.Network) + "|" + e.Wallet + "|" + e.Asset
}

// HasUnresolvedFlag reports whether the event still needs resolution
func (e *EconomicEvent) HasUnresolvedFlag() bool {
	return e.Flag != nil || e.PricePending
}

// NetworkAsset is a (network, asset) pair with history for a wallet
type NetworkAsset struct {
	Network types.Network `json:"network"`
	Asset   string        `json:"asset"`
}

// SortEvents orders events by block timestamp, then log index, then id
func SortEvents(events []*EconomicEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.BlockTimestamp.Equal(b.BlockTimestamp) {
			return a.BlockTimestamp.Before(b.BlockTimestamp)
		}
		if a.LogIndex != b.LogIndex {
			return a.LogIndex < b.LogIndex
		}
		return a.ID < b.ID
	})
}
