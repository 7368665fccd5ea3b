// Package pricing resolves USD unit prices for economic events.
package pricing

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/types"
)

// Quote is either a known USD price with its source, or unknown
type Quote struct {
	Known    bool
	PriceUSD decimal.Decimal
	Source   types.PriceSource
}

// Unknown is the quote of an unresolvable price
func Unknown() Quote {
	return Quote{Source: types.PriceSourceUnknown}
}

// Known builds a resolved quote
func Known(price decimal.Decimal, source types.PriceSource) Quote {
	return Quote{Known: true, PriceUSD: price, Source: source}
}

// Resolver looks up the USD price of asset at a point in time
type Resolver interface {
	Resolve(ctx context.Context, network types.Network, asset string, at time.Time) (Quote, error)
}

// Chain asks each resolver in order and returns the first known quote.
// A failing resolver is logged and skipped.
type Chain []Resolver

// Resolve implements Resolver
func (c Chain) Resolve(ctx context.Context, network types.Network, asset string, at time.Time) (Quote, error) {
	for _, r := range c {
		q, err := r.Resolve(ctx, network, asset, at)
		if err != nil {
			if ctx.Err() != nil {
				return Unknown(), ctx.Err()
			}
			logging.FromContext(ctx).WithFields(logging.Fields{
				"network": network,
				"asset":   asset,
			}).WithError(err).Warn("price resolver failed")
			continue
		}
		if q.Known {
			return q, nil
		}
	}
	return Unknown(), nil
}

// StablecoinResolver prices known USD stablecoins at exactly one dollar
type StablecoinResolver struct {
	assets map[string]bool
}

// NewStablecoinResolver creates a resolver seeded with the major USD stablecoins
func NewStablecoinResolver() *StablecoinResolver {
	r := &StablecoinResolver{assets: make(map[string]bool)}
	for network, contracts := range map[types.Network][]string{
		types.NetworkEthereum: {
			"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", // USDC
			"0xdac17f958d2ee523a2206206994597c13d831ec7", // USDT
			"0x6b175474e89094c44da98b954eedeac495271d0f", // DAI
		},
		types.NetworkPolygon:  {"0x3c499c542cef5e3811e1192ce70d8cc03d5c3359"},
		types.NetworkArbitrum: {"0xaf88d065e77c8cc2239327c5edb3a432268e5831"},
		types.NetworkOptimism: {"0x0b2c639c533813f4aa9d7837caf62653d097ff85"},
		types.NetworkBase:     {"0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"},
		types.NetworkBNB:      {"0x55d398326f99059ff775485246999027b3197955"},
	} {
		for _, c := range contracts {
			r.Add(network, c)
		}
	}
	return r
}

// Add marks asset on network as a USD stablecoin
func (r *StablecoinResolver) Add(network types.Network, asset string) {
	r.assets[string(network)+":"+strings.ToLower(asset)] = true
}

// Resolve implements Resolver
func (r *StablecoinResolver) Resolve(ctx context.Context, network types.Network, asset string, at time.Time) (Quote, error) {
	if r.assets[string(network)+":"+strings.ToLower(asset)] {
		return Known(decimal.NewFromInt(1), types.PriceSourceStablecoin), nil
	}
	return Unknown(), nil
}
