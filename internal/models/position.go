package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/types"
)

// AssetPosition is the replay-derived snapshot of one (wallet, network, asset).
// It is overwritten wholesale on each replay and never updated incrementally.
type AssetPosition struct {
	Wallet               string          `json:"wallet" db:"wallet"`
	Network              types.Network   `json:"network" db:"network"`
	Asset                string          `json:"asset" db:"asset"`
	Quantity             decimal.Decimal `json:"quantity" db:"quantity"`
	AvcoUSD              decimal.Decimal `json:"avcoUsd" db:"avco_usd"`
	CostBasisUSD         decimal.Decimal `json:"costBasisUsd" db:"cost_basis_usd"`
	TotalGasPaidUSD      decimal.Decimal `json:"totalGasPaidUsd" db:"total_gas_paid_usd"`
	RealizedPnLUSD       decimal.Decimal `json:"realizedPnlUsd" db:"realized_pnl_usd"`
	HasIncompleteHistory bool            `json:"hasIncompleteHistory" db:"has_incomplete_history"`
	UnresolvedFlagCount  int             `json:"unresolvedFlagCount" db:"unresolved_flag_count"`
	LastEventAt          time.Time       `json:"lastEventAt" db:"last_event_at"`
	LastRecomputedAt     time.Time       `json:"lastRecomputedAt" db:"last_recomputed_at"`
}

// CrossWalletPosition is a non-persisted AVCO view over a set of wallets
type CrossWalletPosition struct {
	Wallets        []string        `json:"wallets"`
	Asset          string          `json:"asset"`
	Quantity       decimal.Decimal `json:"quantity"`
	AvcoUSD        decimal.Decimal `json:"avcoUsd"`
	RealizedPnLUSD decimal.Decimal `json:"realizedPnlUsd"`
	EventCount     int             `json:"eventCount"`
	ComputedAt     time.Time       `json:"computedAt"`
}
