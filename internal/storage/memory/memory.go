// Package memory provides in-memory implementations of the storage contracts.
// Useful for tests and for running the pipeline without databases.
package memory

import (
	"github.com/avco-ledger/internal/storage"
)

// NewStores returns a full set of empty in-memory stores
func NewStores() *storage.Stores {
	return &storage.Stores{
		Raw:       NewRawTransactionStore(),
		Events:    NewEventStore(),
		Positions: NewPositionStore(),
		Overrides: NewOverrideStore(),
		Syncs:     NewSyncStatusStore(),
		Segments:  NewSegmentStore(),
	}
}
