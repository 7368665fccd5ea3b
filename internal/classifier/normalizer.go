package classifier

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

// Normalize converts classified legs into economic events. Events without a
// known price are written price-pending for the deferred resolution job.
func Normalize(raw *models.RawTransaction, legs []RawEvent, ts Timestamper) []*models.EconomicEvent {
	events := make([]*models.EconomicEvent, 0, len(legs))
	for _, leg := range legs {
		hash := leg.TxHash
		if hash == "" {
			hash = raw.TxID
		}
		block := leg.BlockNumber
		if block == 0 {
			block = raw.BlockNumber
		}

		ev := &models.EconomicEvent{
			Network:             raw.Network,
			Wallet:              strings.ToLower(raw.Wallet),
			TxHash:              &hash,
			LogIndex:            leg.LogIndex,
			BlockNumber:         block,
			BlockTimestamp:      ts.Estimate(block),
			EventType:           leg.EventType,
			Asset:               strings.ToLower(leg.Asset),
			AssetSymbol:         leg.AssetSymbol,
			CounterpartyAddress: strings.ToLower(leg.Counterparty),
			QuantityDelta:       models.Quantize(leg.QuantityDelta),
			GasCostUSD:          models.Quantize(leg.GasCostUSD),
			GasIncludedInBasis:  leg.GasInBasis,
			PriceUSD:            decimal.Zero,
			PriceSource:         leg.PriceSource,
			PricePending:        true,
			Flag:                leg.Flag,
		}
		if ev.PriceSource == "" {
			ev.PriceSource = types.PriceSourceUnknown
		}
		if leg.PriceUSD != nil {
			ev.PriceUSD = models.Quantize(*leg.PriceUSD)
			ev.PricePending = false
		}
		events = append(events, ev)
	}
	return events
}
