package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

var _ storage.EventStore = (*EventStore)(nil)

// EventStore keeps economic events indexed by id and unique key
type EventStore struct {
	mu    sync.RWMutex
	byID  map[string]*models.EconomicEvent
	byKey map[string]string // unique key -> id
}

// NewEventStore creates an empty store
func NewEventStore() *EventStore {
	return &EventStore{
		byID:  make(map[string]*models.EconomicEvent),
		byKey: make(map[string]string),
	}
}

func clone(ev *models.EconomicEvent) *models.EconomicEvent {
	cp := *ev
	return &cp
}

// Upsert inserts ev or replaces the event with the same unique key
func (s *EventStore) Upsert(ctx context.Context, ev *models.EconomicEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	key := ev.UniqueKey()
	if id, ok := s.byKey[key]; ok {
		existing := s.byID[id]
		merged := clone(ev)
		merged.ID = existing.ID
		merged.CreatedAt = existing.CreatedAt
		merged.UpdatedAt = now
		if merged.PricePending && !existing.PricePending {
			merged.PriceUSD = existing.PriceUSD
			merged.PriceSource = existing.PriceSource
			merged.PricePending = false
			merged.Flag = existing.Flag
		}
		if existing.EventType == types.EventInternalTransfer && merged.EventType == types.EventExternalInbound {
			merged.EventType = types.EventInternalTransfer
		}
		merged.RealizedPnLUSD = existing.RealizedPnLUSD
		merged.AvcoAtSaleUSD = existing.AvcoAtSaleUSD
		s.byID[id] = merged
		*ev = *clone(merged)
		return nil
	}

	stored := clone(ev)
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now
	s.byID[stored.ID] = stored
	s.byKey[key] = stored.ID
	ev.ID = stored.ID
	ev.CreatedAt = stored.CreatedAt
	ev.UpdatedAt = stored.UpdatedAt
	return nil
}

// GetByID returns the event or storage.ErrNotFound
func (s *EventStore) GetByID(ctx context.Context, id string) (*models.EconomicEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return clone(ev), nil
}

func (s *EventStore) filter(match func(ev *models.EconomicEvent) bool) []*models.EconomicEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.EconomicEvent
	for _, ev := range s.byID {
		if match(ev) {
			out = append(out, clone(ev))
		}
	}
	models.SortEvents(out)
	return out
}

// ListForAsset returns the (wallet, network, asset) history in replay order
func (s *EventStore) ListForAsset(ctx context.Context, wallet string, network types.Network, asset string) ([]*models.EconomicEvent, error) {
	return s.filter(func(ev *models.EconomicEvent) bool {
		return ev.Wallet == wallet && ev.Network == network && ev.Asset == asset
	}), nil
}

// ListForWalletsAsset returns the merged history of asset across wallets
func (s *EventStore) ListForWalletsAsset(ctx context.Context, wallets []string, asset string) ([]*models.EconomicEvent, error) {
	set := make(map[string]bool, len(wallets))
	for _, w := range wallets {
		set[w] = true
	}
	return s.filter(func(ev *models.EconomicEvent) bool {
		return set[ev.Wallet] && ev.Asset == asset
	}), nil
}

// ListPricePending returns events still waiting for a price
func (s *EventStore) ListPricePending(ctx context.Context, wallet string, network types.Network) ([]*models.EconomicEvent, error) {
	return s.filter(func(ev *models.EconomicEvent) bool {
		return ev.Wallet == wallet && ev.Network == network && ev.PricePending
	}), nil
}

// ListByType returns every event of eventType
func (s *EventStore) ListByType(ctx context.Context, eventType types.EventType) ([]*models.EconomicEvent, error) {
	return s.filter(func(ev *models.EconomicEvent) bool {
		return ev.EventType == eventType
	}), nil
}

// DistinctAssets returns each (network, asset) with history for wallet
func (s *EventStore) DistinctAssets(ctx context.Context, wallet string) ([]models.NetworkAsset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[models.NetworkAsset]bool)
	var out []models.NetworkAsset
	for _, ev := range s.byID {
		if ev.Wallet != wallet {
			continue
		}
		na := models.NetworkAsset{Network: ev.Network, Asset: ev.Asset}
		if !seen[na] {
			seen[na] = true
			out = append(out, na)
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

// UpdatePrice fills in the price of one event
func (s *EventStore) UpdatePrice(ctx context.Context, id string, price decimal.Decimal, source types.PriceSource, pending bool, flag *types.FlagCode) error {
	return s.update(id, func(ev *models.EconomicEvent) {
		ev.PriceUSD = models.Quantize(price)
		ev.PriceSource = source
		ev.PricePending = pending
		ev.Flag = flag
	})
}

// UpdateEventType reclassifies one event
func (s *EventStore) UpdateEventType(ctx context.Context, id string, eventType types.EventType) error {
	return s.update(id, func(ev *models.EconomicEvent) {
		ev.EventType = eventType
	})
}

// SaveRealized stores the realized P&L fields of replayed events
func (s *EventStore) SaveRealized(ctx context.Context, events []*models.EconomicEvent) error {
	for _, in := range events {
		realized, avco := in.RealizedPnLUSD, in.AvcoAtSaleUSD
		if err := s.update(in.ID, func(ev *models.EconomicEvent) {
			ev.RealizedPnLUSD = realized
			ev.AvcoAtSaleUSD = avco
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *EventStore) update(id string, fn func(ev *models.EconomicEvent)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byID[id]
	if !ok {
		return storage.ErrNotFound
	}
	cp := clone(ev)
	fn(cp)
	cp.UpdatedAt = time.Now().UTC()
	s.byID[id] = cp
	return nil
}

// Len returns the number of stored events
func (s *EventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}
