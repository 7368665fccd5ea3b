package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CostBasisOverride is a user correction of one on-chain event's price.
// At most one override per event is active; superseded ones stay as history.
type CostBasisOverride struct {
	ID        string          `json:"id" db:"id"`
	EventID   string          `json:"eventId" db:"event_id"`
	PriceUSD  decimal.Decimal `json:"priceUsd" db:"price_usd"`
	Active    bool            `json:"active" db:"active"`
	Note      string          `json:"note,omitempty" db:"note"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}
