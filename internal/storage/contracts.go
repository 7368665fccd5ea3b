package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

// ErrNotFound is returned by single-row lookups that match nothing
var ErrNotFound = errors.New("not found")

// ErrActiveOverrideExists is returned when an event already has an active override
var ErrActiveOverrideExists = errors.New("active override exists")

// RawTransactionStore persists raw payloads idempotently by natural key
type RawTransactionStore interface {
	Upsert(ctx context.Context, tx *models.RawTransaction) error
	UpsertBatch(ctx context.Context, txs []*models.RawTransaction) error
	// ListByBlockRange returns transactions in [from, to] ordered by block then id
	ListByBlockRange(ctx context.Context, wallet string, network types.Network, from, to uint64) ([]*models.RawTransaction, error)
	ListByStatus(ctx context.Context, wallet string, network types.Network, status types.ClassificationStatus) ([]*models.RawTransaction, error)
	SetClassificationStatus(ctx context.Context, tx *models.RawTransaction, status types.ClassificationStatus) error
}

// EventStore persists economic events. On-chain events are unique by
// (tx hash, network, wallet, asset); manual events by idempotency key.
type EventStore interface {
	// Upsert inserts or replaces the event, keeping the stored id on conflict.
	// A resolved price and an INTERNAL_TRANSFER type survive re-classification.
	Upsert(ctx context.Context, ev *models.EconomicEvent) error
	GetByID(ctx context.Context, id string) (*models.EconomicEvent, error)
	// ListForAsset returns events ordered by block timestamp, log index, id
	ListForAsset(ctx context.Context, wallet string, network types.Network, asset string) ([]*models.EconomicEvent, error)
	// ListForWalletsAsset returns events of every network for the wallets, same order
	ListForWalletsAsset(ctx context.Context, wallets []string, asset string) ([]*models.EconomicEvent, error)
	ListPricePending(ctx context.Context, wallet string, network types.Network) ([]*models.EconomicEvent, error)
	ListByType(ctx context.Context, eventType types.EventType) ([]*models.EconomicEvent, error)
	DistinctAssets(ctx context.Context, wallet string) ([]models.NetworkAsset, error)
	UpdatePrice(ctx context.Context, id string, price decimal.Decimal, source types.PriceSource, pending bool, flag *types.FlagCode) error
	UpdateEventType(ctx context.Context, id string, eventType types.EventType) error
	// SaveRealized writes realized P&L and avco-at-sale for replayed sell events
	SaveRealized(ctx context.Context, events []*models.EconomicEvent) error
}

// PositionStore holds replay-derived positions, last writer wins
type PositionStore interface {
	Save(ctx context.Context, pos *models.AssetPosition) error
	Delete(ctx context.Context, wallet string, network types.Network, asset string) error
	Get(ctx context.Context, wallet string, network types.Network, asset string) (*models.AssetPosition, error)
	ListByWallet(ctx context.Context, wallet string) ([]*models.AssetPosition, error)
}

// OverrideStore holds cost basis overrides
type OverrideStore interface {
	// Create stores an active override, or returns ErrActiveOverrideExists
	Create(ctx context.Context, o *models.CostBasisOverride) error
	GetActive(ctx context.Context, eventID string) (*models.CostBasisOverride, error)
	// ActivePrices maps event id to override price for the active overrides among ids
	ActivePrices(ctx context.Context, eventIDs []string) (map[string]decimal.Decimal, error)
	// Deactivate marks the active override inactive; false when there was none
	Deactivate(ctx context.Context, eventID string) (bool, error)
	ListByEvent(ctx context.Context, eventID string) ([]*models.CostBasisOverride, error)
}

// SyncStatusStore holds one row per (wallet, network)
type SyncStatusStore interface {
	Get(ctx context.Context, wallet string, network types.Network) (*models.SyncStatus, error)
	Save(ctx context.Context, s *models.SyncStatus) error
	ListByStates(ctx context.Context, states ...types.SyncState) ([]*models.SyncStatus, error)
	ListByWallet(ctx context.Context, wallet string) ([]*models.SyncStatus, error)
	// TrackedWallets returns every wallet with at least one sync row
	TrackedWallets(ctx context.Context) ([]string, error)
}

// SegmentStore holds one row per (sync id, segment index)
type SegmentStore interface {
	Save(ctx context.Context, seg *models.BackfillSegment) error
	ListBySync(ctx context.Context, syncID string) ([]*models.BackfillSegment, error)
	DeleteBySync(ctx context.Context, syncID string) error
}

// Stores bundles every store the pipeline needs
type Stores struct {
	Raw       RawTransactionStore
	Events    EventStore
	Positions PositionStore
	Overrides OverrideStore
	Syncs     SyncStatusStore
	Segments  SegmentStore
}
