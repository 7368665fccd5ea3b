package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

var _ storage.PositionStore = (*PositionStore)(nil)

// PositionStore keeps one position per (wallet, network, asset)
type PositionStore struct {
	mu        sync.RWMutex
	positions map[string]models.AssetPosition
}

// NewPositionStore creates an empty store
func NewPositionStore() *PositionStore {
	return &PositionStore{positions: make(map[string]models.AssetPosition)}
}

func positionKey(wallet string, network types.Network, asset string) string {
	return wallet + "|" + string(network) + "|" + asset
}

// Save overwrites the position
func (s *PositionStore) Save(ctx context.Context, pos *models.AssetPosition) error {
	s.mu.Lock()
	s.positions[positionKey(pos.Wallet, pos.Network, pos.Asset)] = *pos
	s.mu.Unlock()
	return nil
}

// Delete removes the position if present
func (s *PositionStore) Delete(ctx context.Context, wallet string, network types.Network, asset string) error {
	s.mu.Lock()
	delete(s.positions, positionKey(wallet, network, asset))
	s.mu.Unlock()
	return nil
}

// Get returns the position or storage.ErrNotFound
func (s *PositionStore) Get(ctx context.Context, wallet string, network types.Network, asset string) (*models.AssetPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.positions[positionKey(wallet, network, asset)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &pos, nil
}

// ListByWallet returns the wallet's positions ordered by network and asset
func (s *PositionStore) ListByWallet(ctx context.Context, wallet string) ([]*models.AssetPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.AssetPosition
	for _, pos := range s.positions {
		if pos.Wallet == wallet {
			cp := pos
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Network != out[j].Network {
			return out[i].Network < out[j].Network
		}
		return out[i].Asset < out[j].Asset
	})
	return out, nil
}
