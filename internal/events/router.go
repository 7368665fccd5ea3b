package events

import (
	"context"
	"fmt"

	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

// BackfillEnqueuer schedules wallet backfills
type BackfillEnqueuer interface {
	Enqueue(ctx context.Context, wallet string, networks []types.Network) error
}

// AssetReplayer recomputes positions
type AssetReplayer interface {
	Replay(ctx context.Context, wallet string, network types.Network, asset string) (*models.AssetPosition, error)
	RecalculateForWallet(ctx context.Context, wallet string) (int, error)
}

// ClassificationSweeper retries failed classifications of one (wallet, network)
type ClassificationSweeper interface {
	Run(ctx context.Context, wallet string, network types.Network) (int, error)
}

// ViewInvalidator drops cached views derived from events
type ViewInvalidator interface {
	Invalidate(ctx context.Context) error
}

// Router wires each signal to the stage it wakes:
//
//	WalletAdded                -> backfill runner
//	OverrideSaved/Reverted     -> replay of the event's asset
//	RawFetchComplete           -> classification sweep
//	RecalculateWalletRequested -> replay of every asset of the wallet
type Router struct {
	backfills BackfillEnqueuer
	replayer  AssetReplayer
	sweeper   ClassificationSweeper
	views     ViewInvalidator
}

// NewRouter creates a router; sweeper and views may be nil
func NewRouter(backfills BackfillEnqueuer, replayer AssetReplayer, sweeper ClassificationSweeper, views ViewInvalidator) *Router {
	return &Router{
		backfills: backfills,
		replayer:  replayer,
		sweeper:   sweeper,
		views:     views,
	}
}

// Attach subscribes the router's handlers on bus
func (r *Router) Attach(bus *Bus) {
	bus.Subscribe(KindWalletAdded, r.onWalletAdded)
	bus.Subscribe(KindOverrideSaved, r.onOverrideChanged)
	bus.Subscribe(KindOverrideReverted, r.onOverrideChanged)
	bus.Subscribe(KindRawFetchComplete, r.onRawFetchComplete)
	bus.Subscribe(KindRecalculateWalletRequested, r.onRecalculate)
}

func (r *Router) onWalletAdded(ctx context.Context, s Signal) error {
	sig := s.(WalletAdded)
	return r.backfills.Enqueue(ctx, sig.Wallet, sig.Networks)
}

func (r *Router) onOverrideChanged(ctx context.Context, s Signal) error {
	var wallet, asset string
	var network types.Network
	switch sig := s.(type) {
	case OverrideSaved:
		wallet, network, asset = sig.Wallet, sig.Network, sig.Asset
	case OverrideReverted:
		wallet, network, asset = sig.Wallet, sig.Network, sig.Asset
	default:
		return fmt.Errorf("unexpected signal %T", s)
	}

	if _, err := r.replayer.Replay(ctx, wallet, network, asset); err != nil {
		return fmt.Errorf("replay %s/%s/%s: %w", wallet, network, asset, err)
	}
	return r.invalidate(ctx)
}

func (r *Router) onRawFetchComplete(ctx context.Context, s Signal) error {
	if r.sweeper == nil {
		return nil
	}
	sig := s.(RawFetchComplete)
	n, err := r.sweeper.Run(ctx, sig.Wallet, sig.Network)
	if err != nil {
		return fmt.Errorf("classification sweep: %w", err)
	}
	if n > 0 {
		logging.FromContext(ctx).WithFields(logging.Fields{
			"wallet":    sig.Wallet,
			"network":   string(sig.Network),
			"recovered": n,
		}).Info("sweep recovered transactions")
	}
	return nil
}

func (r *Router) onRecalculate(ctx context.Context, s Signal) error {
	sig := s.(RecalculateWalletRequested)
	if _, err := r.replayer.RecalculateForWallet(ctx, sig.Wallet); err != nil {
		return fmt.Errorf("recalculate %s: %w", sig.Wallet, err)
	}
	return r.invalidate(ctx)
}

func (r *Router) invalidate(ctx context.Context) error {
	if r.views == nil {
		return nil
	}
	return r.views.Invalidate(ctx)
}
