package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	apperrors "github.com/avco-ledger/internal/errors"
	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// ViewCache briefly caches cross-wallet views by (sorted wallet set, asset)
type ViewCache interface {
	GetCrossWallet(ctx context.Context, wallets []string, asset string) (*models.CrossWalletPosition, bool, error)
	SetCrossWallet(ctx context.Context, pos *models.CrossWalletPosition) error
	InvalidateCrossWallet(ctx context.Context) error
}

// CrossWalletAvcoService computes AVCO over the merged history of several
// wallets. The result is a view: it is cached but never stored as a position.
type CrossWalletAvcoService struct {
	events    storage.EventStore
	overrides storage.OverrideStore
	cache     ViewCache
	now       func() time.Time
}

// NewCrossWalletAvcoService creates the service; cache may be nil
func NewCrossWalletAvcoService(events storage.EventStore, overrides storage.OverrideStore, cache ViewCache) *CrossWalletAvcoService {
	return &CrossWalletAvcoService{
		events:    events,
		overrides: overrides,
		cache:     cache,
		now:       time.Now,
	}
}

func normalizeWallets(wallets []string) []string {
	seen := make(map[string]bool, len(wallets))
	out := make([]string, 0, len(wallets))
	for _, w := range wallets {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" || seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
	}
	sort.Strings(out)
	return out
}

// Compute returns the cross-wallet position of asset. Internal transfers are
// excluded since they only move value between the wallets of the set.
func (s *CrossWalletAvcoService) Compute(ctx context.Context, wallets []string, asset string) (*models.CrossWalletPosition, error) {
	wallets = normalizeWallets(wallets)
	asset = strings.ToLower(strings.TrimSpace(asset))
	if len(wallets) == 0 {
		return nil, apperrors.NewInvalidParameterError("wallets", "at least one wallet is required")
	}
	if asset == "" {
		return nil, apperrors.NewInvalidParameterError("asset", "asset is required")
	}

	log := logging.FromContext(ctx).WithFields(logging.Fields{"wallets": len(wallets), "asset": asset})

	if s.cache != nil {
		pos, ok, err := s.cache.GetCrossWallet(ctx, wallets, asset)
		if err != nil {
			log.WithError(err).Warn("cross-wallet cache read failed")
		} else if ok {
			return pos, nil
		}
	}

	all, err := s.events.ListForWalletsAsset(ctx, wallets, asset)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list cross-wallet events", err)
	}
	events := make([]*models.EconomicEvent, 0, len(all))
	for _, ev := range all {
		if ev.EventType != types.EventInternalTransfer {
			events = append(events, ev)
		}
	}

	prices, err := s.overrides.ActivePrices(ctx, onChainIDs(events))
	if err != nil {
		return nil, apperrors.NewDatabaseError("load overrides", err)
	}

	res := Fold(events, prices)
	pos := &models.CrossWalletPosition{
		Wallets:        wallets,
		Asset:          asset,
		Quantity:       res.Quantity,
		AvcoUSD:        res.AvcoUSD,
		RealizedPnLUSD: res.RealizedPnLUSD,
		EventCount:     len(events),
		ComputedAt:     s.now().UTC(),
	}

	if s.cache != nil {
		if err := s.cache.SetCrossWallet(ctx, pos); err != nil {
			log.WithError(err).Warn("cross-wallet cache write failed")
		}
	}
	return pos, nil
}

// Invalidate drops every cached view. Called when events or overrides change.
func (s *CrossWalletAvcoService) Invalidate(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.InvalidateCrossWallet(ctx); err != nil {
		return fmt.Errorf("invalidate cross-wallet views: %w", err)
	}
	return nil
}
