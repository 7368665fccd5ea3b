package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
)

var _ storage.OverrideStore = (*OverrideStore)(nil)

// OverrideStore keeps override history per event
type OverrideStore struct {
	mu      sync.RWMutex
	byEvent map[string][]models.CostBasisOverride
}

// NewOverrideStore creates an empty store
func NewOverrideStore() *OverrideStore {
	return &OverrideStore{byEvent: make(map[string][]models.CostBasisOverride)}
}

// Create stores o as the event's active override
func (s *OverrideStore) Create(ctx context.Context, o *models.CostBasisOverride) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.byEvent[o.EventID] {
		if existing.Active {
			return storage.ErrActiveOverrideExists
		}
	}
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.Active = true
	s.byEvent[o.EventID] = append(s.byEvent[o.EventID], *o)
	return nil
}

// GetActive returns the active override or storage.ErrNotFound
func (s *OverrideStore) GetActive(ctx context.Context, eventID string) (*models.CostBasisOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, o := range s.byEvent[eventID] {
		if o.Active {
			cp := o
			return &cp, nil
		}
	}
	return nil, storage.ErrNotFound
}

// ActivePrices returns the active override price for each id that has one
func (s *OverrideStore) ActivePrices(ctx context.Context, eventIDs []string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]decimal.Decimal)
	for _, id := range eventIDs {
		for _, o := range s.byEvent[id] {
			if o.Active {
				out[id] = o.PriceUSD
			}
		}
	}
	return out, nil
}

// Deactivate clears the active flag, keeping the row as history
func (s *OverrideStore) Deactivate(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	history := s.byEvent[eventID]
	for i := range history {
		if history[i].Active {
			history[i].Active = false
			return true, nil
		}
	}
	return false, nil
}

// ListByEvent returns the event's override history, oldest first
func (s *OverrideStore) ListByEvent(ctx context.Context, eventID string) ([]*models.CostBasisOverride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.CostBasisOverride
	for _, o := range s.byEvent[eventID] {
		cp := o
		out = append(out, &cp)
	}
	return out, nil
}
