package pricing

import (
	"context"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

// PriceInline fills prices that need no network lookup: every pending event is
// offered to resolver, then swap legs are derived from their priced counterpart.
// Events are mutated in place; the return value counts newly priced events.
func PriceInline(ctx context.Context, resolver Resolver, events []*models.EconomicEvent) (int, error) {
	priced := 0
	if resolver != nil {
		for _, ev := range events {
			if !ev.PricePending {
				continue
			}
			q, err := resolver.Resolve(ctx, ev.Network, ev.Asset, ev.BlockTimestamp)
			if err != nil {
				return priced, err
			}
			if q.Known {
				ev.PriceUSD = models.Quantize(q.PriceUSD)
				ev.PriceSource = q.Source
				ev.PricePending = false
				priced++
			}
		}
	}
	return priced + DeriveSwapPrices(events), nil
}

// DeriveSwapPrices prices the pending leg of each two-leg swap from the value
// of its priced leg: |qty_priced| x price_priced / |qty_pending|. Swaps with
// more legs are left for the deferred job.
func DeriveSwapPrices(events []*models.EconomicEvent) int {
	type legs struct{ sells, buys []*models.EconomicEvent }
	byTx := make(map[string]*legs)
	var order []string
	for _, ev := range events {
		if ev.TxHash == nil {
			continue
		}
		l, ok := byTx[*ev.TxHash]
		if !ok {
			l = &legs{}
			byTx[*ev.TxHash] = l
			order = append(order, *ev.TxHash)
		}
		switch ev.EventType {
		case types.EventSwapSell:
			l.sells = append(l.sells, ev)
		case types.EventSwapBuy:
			l.buys = append(l.buys, ev)
		}
	}

	derived := 0
	for _, tx := range order {
		l := byTx[tx]
		if len(l.sells) != 1 || len(l.buys) != 1 {
			continue
		}
		sell, buy := l.sells[0], l.buys[0]
		var known, pending *models.EconomicEvent
		switch {
		case sell.PricePending && !buy.PricePending:
			known, pending = buy, sell
		case buy.PricePending && !sell.PricePending:
			known, pending = sell, buy
		default:
			continue
		}
		if pending.QuantityDelta.IsZero() {
			continue
		}
		value := known.QuantityDelta.Abs().Mul(known.PriceUSD)
		pending.PriceUSD = models.Div(value, pending.QuantityDelta.Abs())
		pending.PriceSource = types.PriceSourceInlineSwap
		pending.PricePending = false
		derived++
	}
	return derived
}
