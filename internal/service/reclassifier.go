package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/avco-ledger/internal/logging"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

// InternalTransferReclassifier turns inbound transfers whose sender is another
// tracked wallet into internal transfers. A wallet is tracked once it has a
// sync row.
type InternalTransferReclassifier struct {
	events storage.EventStore
	syncs  storage.SyncStatusStore
}

// NewInternalTransferReclassifier creates a reclassifier
func NewInternalTransferReclassifier(events storage.EventStore, syncs storage.SyncStatusStore) *InternalTransferReclassifier {
	return &InternalTransferReclassifier{events: events, syncs: syncs}
}

// Run reclassifies every matching EXTERNAL_INBOUND event and returns the
// wallets whose history changed, sorted
func (r *InternalTransferReclassifier) Run(ctx context.Context) ([]string, error) {
	tracked, err := r.syncs.TrackedWallets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tracked wallets: %w", err)
	}
	if len(tracked) < 2 {
		return nil, nil
	}
	isTracked := make(map[string]bool, len(tracked))
	for _, w := range tracked {
		isTracked[strings.ToLower(w)] = true
	}

	inbound, err := r.events.ListByType(ctx, types.EventExternalInbound)
	if err != nil {
		return nil, fmt.Errorf("list inbound events: %w", err)
	}

	affected := make(map[string]bool)
	changed := 0
	for _, ev := range inbound {
		from := strings.ToLower(ev.CounterpartyAddress)
		if from == "" || from == ev.Wallet || !isTracked[from] {
			continue
		}
		if err := r.events.UpdateEventType(ctx, ev.ID, types.EventInternalTransfer); err != nil {
			return nil, fmt.Errorf("reclassify event %s: %w", ev.ID, err)
		}
		affected[ev.Wallet] = true
		changed++
	}

	wallets := make([]string, 0, len(affected))
	for w := range affected {
		wallets = append(wallets, w)
	}
	sort.Strings(wallets)

	if changed > 0 {
		logging.FromContext(ctx).WithFields(logging.Fields{
			"events":  changed,
			"wallets": len(wallets),
		}).Info("inbound transfers reclassified as internal")
	}
	return wallets, nil
}
