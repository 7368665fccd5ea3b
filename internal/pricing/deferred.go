package pricing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// DeferredPriceJob resolves events left price-pending by classification
type DeferredPriceJob struct {
	events   storage.EventStore
	resolver Resolver
}

// NewDeferredPriceJob creates a job resolving through resolver
func NewDeferredPriceJob(events storage.EventStore, resolver Resolver) *DeferredPriceJob {
	return &DeferredPriceJob{events: events, resolver: resolver}
}

// ResolveResult summarizes one pass
type ResolveResult struct {
	Resolved   int
	Unresolved int
}

// ResolvePending prices every pending event of (wallet, network). Events that
// stay unknown keep PricePending and are flagged PRICE_UNRESOLVED.
func (j *DeferredPriceJob) ResolvePending(ctx context.Context, wallet string, network types.Network) (ResolveResult, error) {
	var res ResolveResult
	pending, err := j.events.ListPricePending(ctx, wallet, network)
	if err != nil {
		return res, fmt.Errorf("list pending events: %w", err)
	}

	log := logging.FromContext(ctx).WithFields(logging.Fields{"wallet": wallet, "network": network})

	if _, err := PriceInline(ctx, j.resolver, pending); err != nil {
		return res, fmt.Errorf("resolve prices: %w", err)
	}

	for _, ev := range pending {
		if !ev.PricePending {
			flag := ev.Flag
			if flag != nil && *flag == types.FlagPriceUnresolved {
				flag = nil
			}
			if err := j.events.UpdatePrice(ctx, ev.ID, ev.PriceUSD, ev.PriceSource, false, flag); err != nil {
				return res, fmt.Errorf("update price %s: %w", ev.ID, err)
			}
			res.Resolved++
			continue
		}

		flag := types.FlagPriceUnresolved
		if ev.Flag != nil {
			flag = *ev.Flag
		}
		if err := j.events.UpdatePrice(ctx, ev.ID, decimal.Zero, types.PriceSourceUnknown, true, &flag); err != nil {
			return res, fmt.Errorf("flag unresolved %s: %w", ev.ID, err)
		}
		res.Unresolved++
	}

	if len(pending) > 0 {
		log.WithFields(logging.Fields{"resolved": res.Resolved, "unresolved": res.Unresolved}).Info("deferred price resolution finished")
	}
	return res, nil
}
