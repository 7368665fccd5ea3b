package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

var _ storage.RawTransactionStore = (*RawTransactionStore)(nil)

// RawTransactionStore keeps raw transactions keyed by natural key
type RawTransactionStore struct {
	mu  sync.RWMutex
	txs map[string]models.RawTransaction
}

// NewRawTransactionStore creates an empty store
func NewRawTransactionStore() *RawTransactionStore {
	return &RawTransactionStore{txs: make(map[string]models.RawTransaction)}
}

// Upsert replaces any transaction with the same natural key
func (s *RawTransactionStore) Upsert(ctx context.Context, tx *models.RawTransaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *tx
	cp.Payload = append([]byte(nil), tx.Payload...)
	s.txs[tx.NaturalKey()] = cp
	return nil
}

// UpsertBatch upserts every transaction
func (s *RawTransactionStore) UpsertBatch(ctx context.Context, txs []*models.RawTransaction) error {
	for _, tx := range txs {
		if err := s.Upsert(ctx, tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *RawTransactionStore) list(match func(tx *models.RawTransaction) bool) []*models.RawTransaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.RawTransaction
	for _, tx := range s.txs {
		if match(&tx) {
			cp := tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].BlockNumber != out[j].BlockNumber {
			return out[i].BlockNumber < out[j].BlockNumber
		}
		return out[i].NaturalKey() < out[j].NaturalKey()
	})
	return out
}

// ListByBlockRange returns the wallet's transactions in [from, to]
func (s *RawTransactionStore) ListByBlockRange(ctx context.Context, wallet string, network types.Network, from, to uint64) ([]*models.RawTransaction, error) {
	return s.list(func(tx *models.RawTransaction) bool {
		return tx.Wallet == wallet && tx.Network == network && tx.BlockNumber >= from && tx.BlockNumber <= to
	}), nil
}

// ListByStatus returns the wallet's transactions in a classification status
func (s *RawTransactionStore) ListByStatus(ctx context.Context, wallet string, network types.Network, status types.ClassificationStatus) ([]*models.RawTransaction, error) {
	return s.list(func(tx *models.RawTransaction) bool {
		return tx.Wallet == wallet && tx.Network == network && tx.ClassificationStatus == status
	}), nil
}

// SetClassificationStatus updates the stored status of tx
func (s *RawTransactionStore) SetClassificationStatus(ctx context.Context, tx *models.RawTransaction, status types.ClassificationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := tx.NaturalKey()
	stored, ok := s.txs[key]
	if !ok {
		return storage.ErrNotFound
	}
	stored.ClassificationStatus = status
	s.txs[key] = stored
	tx.ClassificationStatus = status
	return nil
}

// Len returns the number of stored transactions
func (s *RawTransactionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.txs)
}
