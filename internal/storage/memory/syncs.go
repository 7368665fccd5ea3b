package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/storage"
	"github.com/avco-ledger/internal/types"
)

var _ storage.SyncStatusStore = (*SyncStatusStore)(nil)
var _ storage.SegmentStore = (*SegmentStore)(nil)

// SyncStatusStore keeps one sync row per (wallet, network)
type SyncStatusStore struct {
	mu    sync.RWMutex
	syncs map[string]models.SyncStatus
}

// NewSyncStatusStore creates an empty store
func NewSyncStatusStore() *SyncStatusStore {
	return &SyncStatusStore{syncs: make(map[string]models.SyncStatus)}
}

func syncKey(wallet string, network types.Network) string {
	return wallet + "|" + string(network)
}

// Get returns the sync row or storage.ErrNotFound
func (s *SyncStatusStore) Get(ctx context.Context, wallet string, network types.Network) (*models.SyncStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st, ok := s.syncs[syncKey(wallet, network)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return &st, nil
}

// Save upserts the row, assigning an id on first write
func (s *SyncStatusStore) Save(ctx context.Context, st *models.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := syncKey(st.Wallet, st.Network)
	now := time.Now().UTC()
	if existing, ok := s.syncs[key]; ok {
		st.ID = existing.ID
		st.CreatedAt = existing.CreatedAt
	}
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	s.syncs[key] = *st
	return nil
}

func (s *SyncStatusStore) list(match func(st *models.SyncStatus) bool) []*models.SyncStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.SyncStatus
	for _, st := range s.syncs {
		if match(&st) {
			cp := st
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wallet != out[j].Wallet {
			return out[i].Wallet < out[j].Wallet
		}
		return out[i].Network < out[j].Network
	})
	return out
}

// ListByStates returns rows in any of states
func (s *SyncStatusStore) ListByStates(ctx context.Context, states ...types.SyncState) ([]*models.SyncStatus, error) {
	want := make(map[types.SyncState]bool, len(states))
	for _, st := range states {
		want[st] = true
	}
	return s.list(func(st *models.SyncStatus) bool { return want[st.State] }), nil
}

// ListByWallet returns every network row for wallet
func (s *SyncStatusStore) ListByWallet(ctx context.Context, wallet string) ([]*models.SyncStatus, error) {
	return s.list(func(st *models.SyncStatus) bool { return st.Wallet == wallet }), nil
}

// TrackedWallets returns the distinct wallets with a sync row
func (s *SyncStatusStore) TrackedWallets(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	var out []string
	for _, st := range s.syncs {
		if !seen[st.Wallet] {
			seen[st.Wallet] = true
			out = append(out, st.Wallet)
		}
	}
	sort.Strings(out)
	return out, nil
}

// SegmentStore keeps segment rows per sync
type SegmentStore struct {
	mu       sync.RWMutex
	segments map[string]map[int]models.BackfillSegment
}

// NewSegmentStore creates an empty store
func NewSegmentStore() *SegmentStore {
	return &SegmentStore{segments: make(map[string]map[int]models.BackfillSegment)}
}

// Save upserts the row for (sync id, segment index)
func (s *SegmentStore) Save(ctx context.Context, seg *models.BackfillSegment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, ok := s.segments[seg.SyncID]
	if !ok {
		rows = make(map[int]models.BackfillSegment)
		s.segments[seg.SyncID] = rows
	}
	seg.UpdatedAt = time.Now().UTC()
	rows[seg.SegmentIndex] = *seg
	return nil
}

// ListBySync returns the sync's segments ordered by index
func (s *SegmentStore) ListBySync(ctx context.Context, syncID string) ([]*models.BackfillSegment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BackfillSegment
	for _, seg := range s.segments[syncID] {
		cp := seg
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SegmentIndex < out[j].SegmentIndex })
	return out, nil
}

// DeleteBySync drops every segment of the sync
func (s *SegmentStore) DeleteBySync(ctx context.Context, syncID string) error {
	s.mu.Lock()
	delete(s.segments, syncID)
	s.mu.Unlock()
	return nil
}
