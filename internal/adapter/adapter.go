// Package adapter isolates per-chain fetch mechanics behind small capability
// interfaces and provides the retry/rotation layer their RPC calls go through.
package adapter

import (
	"context"
	"time"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

// NetworkAdapter fetches raw transactions for a wallet over a block range.
// Implementations chunk by their own MaxBlockBatchSize and aggregate.
type NetworkAdapter interface {
	Supports(network types.Network) bool
	FetchTransactions(ctx context.Context, wallet string, network types.Network, fromBlock, toBlock uint64) ([]*models.RawTransaction, error)
	MaxBlockBatchSize() int
}

// HeightResolver reports the current chain height
type HeightResolver interface {
	Supports(network types.Network) bool
	CurrentHeight(ctx context.Context, network types.Network) (uint64, error)
}

// TimestampResolver looks up the exact timestamp of one block
type TimestampResolver interface {
	Supports(network types.Network) bool
	BlockTimestamp(ctx context.Context, network types.Network, block uint64) (time.Time, error)
}

// Registry is an ordered capability-dispatch list. The first registered
// implementation supporting a network wins.
type Registry struct {
	adapters   []NetworkAdapter
	heights    []HeightResolver
	timestamps []TimestampResolver
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds impl to every capability list it satisfies
func (r *Registry) Register(impl interface{}) {
	if a, ok := impl.(NetworkAdapter); ok {
		r.adapters = append(r.adapters, a)
	}
	if h, ok := impl.(HeightResolver); ok {
		r.heights = append(r.heights, h)
	}
	if t, ok := impl.(TimestampResolver); ok {
		r.timestamps = append(r.timestamps, t)
	}
}

// AdapterFor returns the first adapter supporting network
func (r *Registry) AdapterFor(network types.Network) (NetworkAdapter, bool) {
	for _, a := range r.adapters {
		if a.Supports(network) {
			return a, true
		}
	}
	return nil, false
}

// HeightResolverFor returns the first height resolver supporting network
func (r *Registry) HeightResolverFor(network types.Network) (HeightResolver, bool) {
	for _, h := range r.heights {
		if h.Supports(network) {
			return h, true
		}
	}
	return nil, false
}

// TimestampResolverFor returns the first timestamp resolver supporting network
func (r *Registry) TimestampResolverFor(network types.Network) (TimestampResolver, bool) {
	for _, t := range r.timestamps {
		if t.Supports(network) {
			return t, true
		}
	}
	return nil, false
}

// Capable reports whether network has an adapter and both resolvers
func (r *Registry) Capable(network types.Network) bool {
	_, a := r.AdapterFor(network)
	_, h := r.HeightResolverFor(network)
	_, t := r.TimestampResolverFor(network)
	return a && h && t
}
