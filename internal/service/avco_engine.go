// Package service holds the ledger's domain services: the AVCO replay engine,
// the cross-wallet view, cost basis overrides and internal transfer detection.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/metrics"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// FoldResult is the state reached after folding an ordered event history
type FoldResult struct {
	Quantity             decimal.Decimal
	AvcoUSD              decimal.Decimal
	TotalGasPaidUSD      decimal.Decimal
	RealizedPnLUSD       decimal.Decimal
	HasIncompleteHistory bool
	UnresolvedFlagCount  int
	LastEventAt          time.Time
	// Sells are the sell-type events annotated with realized P&L and avco at sale
	Sells []*models.EconomicEvent
}

// Fold replays events in block timestamp, log index, id order. overrides maps
// event id to an active override price; overrides never apply to manual events.
// Sell events are annotated in place. Quantity is clamped to zero at the end.
func Fold(events []*models.EconomicEvent, overrides map[string]decimal.Decimal) FoldResult {
	models.SortEvents(events)

	res := FoldResult{
		Quantity:        decimal.Zero,
		AvcoUSD:         decimal.Zero,
		TotalGasPaidUSD: decimal.Zero,
		RealizedPnLUSD:  decimal.Zero,
	}
	if len(events) == 0 {
		return res
	}

	first := events[0]
	res.HasIncompleteHistory = first.EventType.IsSell() || first.QuantityDelta.IsNegative()

	qty, avco := decimal.Zero, decimal.Zero
	for _, ev := range events {
		price := ev.PriceUSD
		if !ev.IsManual() {
			if p, ok := overrides[ev.ID]; ok {
				price = p
			}
		}

		delta := ev.QuantityDelta
		switch {
		case delta.IsPositive() && ev.EventType.IsAcquisition():
			unit := price
			if ev.GasIncludedInBasis && ev.GasCostUSD.IsPositive() {
				unit = unit.Add(models.Div(ev.GasCostUSD, delta))
			}
			if qty.IsPositive() {
				avco = models.Div(avco.Mul(qty).Add(unit.Mul(delta)), qty.Add(delta))
			} else {
				avco = models.Quantize(unit)
			}
			qty = qty.Add(delta)

		case delta.IsNegative() && ev.EventType.IsSell():
			pnl := models.Quantize(price.Sub(avco).Mul(delta.Abs()))
			ev.RealizedPnLUSD = &pnl
			ev.AvcoAtSaleUSD = models.DecimalPtr(avco)
			res.RealizedPnLUSD = res.RealizedPnLUSD.Add(pnl)
			res.Sells = append(res.Sells, ev)
			qty = qty.Add(delta)

		default:
			// principal returns and non-sell outflows move quantity only
			qty = qty.Add(delta)
		}

		res.TotalGasPaidUSD = res.TotalGasPaidUSD.Add(ev.GasCostUSD)
		if ev.HasUnresolvedFlag() {
			res.UnresolvedFlagCount++
		}
		res.LastEventAt = ev.BlockTimestamp
	}

	if qty.IsNegative() {
		qty = decimal.Zero
	}
	res.Quantity = models.Quantize(qty)
	res.AvcoUSD = models.Quantize(avco)
	res.TotalGasPaidUSD = models.Quantize(res.TotalGasPaidUSD)
	res.RealizedPnLUSD = models.Quantize(res.RealizedPnLUSD)
	return res
}

// CostBasis returns avco times the held quantity
func (r FoldResult) CostBasis() decimal.Decimal {
	return models.Quantize(r.AvcoUSD.Mul(r.Quantity))
}

// AvcoEngine recomputes positions by full replay of stored events
type AvcoEngine struct {
	events    storage.EventStore
	positions storage.PositionStore
	overrides storage.OverrideStore
	now       func() time.Time
}

// NewAvcoEngine creates an engine over the given stores
func NewAvcoEngine(events storage.EventStore, positions storage.PositionStore, overrides storage.OverrideStore) *AvcoEngine {
	return &AvcoEngine{
		events:    events,
		positions: positions,
		overrides: overrides,
		now:       time.Now,
	}
}

func onChainIDs(events []*models.EconomicEvent) []string {
	ids := make([]string, 0, len(events))
	for _, ev := range events {
		if !ev.IsManual() {
			ids = append(ids, ev.ID)
		}
	}
	return ids
}

// Replay rebuilds the (wallet, network, asset) position from its full history.
// An empty history deletes the position and returns nil.
func (e *AvcoEngine) Replay(ctx context.Context, wallet string, network types.Network, asset string) (*models.AssetPosition, error) {
	start := time.Now()
	defer func() { metrics.ReplayDuration.Observe(time.Since(start).Seconds()) }()

	wallet, asset = strings.ToLower(wallet), strings.ToLower(asset)

	events, err := e.events.ListForAsset(ctx, wallet, network, asset)
	if err != nil {
		return nil, fmt.Errorf("load events: %w", err)
	}
	if len(events) == 0 {
		if err := e.positions.Delete(ctx, wallet, network, asset); err != nil {
			return nil, fmt.Errorf("delete empty position: %w", err)
		}
		return nil, nil
	}

	prices, err := e.overrides.ActivePrices(ctx, onChainIDs(events))
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}

	res := Fold(events, prices)
	pos := &models.AssetPosition{
		Wallet:               wallet,
		Network:              network,
		Asset:                asset,
		Quantity:             res.Quantity,
		AvcoUSD:              res.AvcoUSD,
		CostBasisUSD:         res.CostBasis(),
		TotalGasPaidUSD:      res.TotalGasPaidUSD,
		RealizedPnLUSD:       res.RealizedPnLUSD,
		HasIncompleteHistory: res.HasIncompleteHistory,
		UnresolvedFlagCount:  res.UnresolvedFlagCount,
		LastEventAt:          res.LastEventAt,
		LastRecomputedAt:     e.now().UTC(),
	}

	if len(res.Sells) > 0 {
		if err := e.events.SaveRealized(ctx, res.Sells); err != nil {
			return nil, fmt.Errorf("save realized pnl: %w", err)
		}
	}
	if err := e.positions.Save(ctx, pos); err != nil {
		return nil, fmt.Errorf("save position: %w", err)
	}

	logging.FromContext(ctx).WithFields(logging.Fields{
		"wallet":   wallet,
		"network":  string(network),
		"asset":    asset,
		"events":   len(events),
		"quantity": pos.Quantity.String(),
		"avco":     pos.AvcoUSD.String(),
	}).Debug("position replayed")
	return pos, nil
}

// RecalculateForWallet replays every (network, asset) the wallet has history
// for. Each asset replays independently; failures are joined.
func (e *AvcoEngine) RecalculateForWallet(ctx context.Context, wallet string) (int, error) {
	wallet = strings.ToLower(wallet)
	pairs, err := e.events.DistinctAssets(ctx, wallet)
	if err != nil {
		return 0, fmt.Errorf("list assets: %w", err)
	}

	var errs []error
	replayed := 0
	for _, p := range pairs {
		if _, err := e.Replay(ctx, wallet, p.Network, p.Asset); err != nil {
			errs = append(errs, fmt.Errorf("%s/%s: %w", p.Network, p.Asset, err))
			continue
		}
		replayed++
	}

	logging.FromContext(ctx).WithFields(logging.Fields{
		"wallet": wallet,
		"assets": replayed,
		"failed": len(errs),
	}).Info("wallet recalculated")
	return replayed, errors.Join(errs...)
}
