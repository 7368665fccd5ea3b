package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

var _ SyncStatusStore = (*SyncStatusRepository)(nil)

// SyncStatusRepository handles sync status data persistence
type SyncStatusRepository struct {
	db *PostgresDB
}

// NewSyncStatusRepository creates a new sync status repository
func NewSyncStatusRepository(db *PostgresDB) *SyncStatusRepository {
	return &SyncStatusRepository{db: db}
}

const syncColumns = `id, wallet, network, state, progress_pct, last_block_synced,
	planned_from_block, planned_to_block, retry_count, next_retry_after, banner_message,
	raw_fetch_complete, classification_complete, created_at, updated_at`

func scanSyncStatus(row rowScanner) (*models.SyncStatus, error) {
	var st models.SyncStatus
	var network, state string
	err := row.Scan(
		&st.ID,
		&st.Wallet,
		&network,
		&state,
		&st.ProgressPct,
		&st.LastBlockSynced,
		&st.PlannedFromBlock,
		&st.PlannedToBlock,
		&st.RetryCount,
		&st.NextRetryAfter,
		&st.BannerMessage,
		&st.RawFetchComplete,
		&st.ClassificationComplete,
		&st.CreatedAt,
		&st.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.Network = types.Network(network)
	st.State = types.SyncState(state)
	return &st, nil
}

// Get retrieves the sync status for a wallet and network
func (r *SyncStatusRepository) Get(ctx context.Context, wallet string, network types.Network) (*models.SyncStatus, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+syncColumns+` FROM sync_status WHERE wallet = $1 AND network = $2`,
		wallet, string(network))
	st, err := scanSyncStatus(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get sync status: %w", err)
	}
	return st, nil
}

// Save upserts the row for (wallet, network); st receives the stored id
func (r *SyncStatusRepository) Save(ctx context.Context, st *models.SyncStatus) error {
	if st.ID == "" {
		st.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now

	query := `
		INSERT INTO sync_status (` + syncColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (wallet, network) DO UPDATE SET
			state = EXCLUDED.state,
			progress_pct = EXCLUDED.progress_pct,
			last_block_synced = EXCLUDED.last_block_synced,
			planned_from_block = EXCLUDED.planned_from_block,
			planned_to_block = EXCLUDED.planned_to_block,
			retry_count = EXCLUDED.retry_count,
			next_retry_after = EXCLUDED.next_retry_after,
			banner_message = EXCLUDED.banner_message,
			raw_fetch_complete = EXCLUDED.raw_fetch_complete,
			classification_complete = EXCLUDED.classification_complete,
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at`

	err := r.db.Pool().QueryRow(ctx, query,
		st.ID,
		st.Wallet,
		string(st.Network),
		string(st.State),
		st.ProgressPct,
		st.LastBlockSynced,
		st.PlannedFromBlock,
		st.PlannedToBlock,
		st.RetryCount,
		st.NextRetryAfter,
		st.BannerMessage,
		st.RawFetchComplete,
		st.ClassificationComplete,
		st.CreatedAt,
		st.UpdatedAt,
	).Scan(&st.ID, &st.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save sync status: %w", err)
	}
	return nil
}

func (r *SyncStatusRepository) list(ctx context.Context, where string, args ...any) ([]*models.SyncStatus, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+syncColumns+` FROM sync_status WHERE `+where+` ORDER BY wallet, network`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync status: %w", err)
	}
	defer rows.Close()

	var out []*models.SyncStatus
	for rows.Next() {
		st, err := scanSyncStatus(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync status: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// ListByStates returns rows in any of states
func (r *SyncStatusRepository) ListByStates(ctx context.Context, states ...types.SyncState) ([]*models.SyncStatus, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	return r.list(ctx, "state = ANY($1)", names)
}

// ListByWallet returns every network row for wallet
func (r *SyncStatusRepository) ListByWallet(ctx context.Context, wallet string) ([]*models.SyncStatus, error) {
	return r.list(ctx, "wallet = $1", wallet)
}

// TrackedWallets returns the distinct wallets with a sync row
func (r *SyncStatusRepository) TrackedWallets(ctx context.Context) ([]string, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT DISTINCT wallet FROM sync_status ORDER BY wallet`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tracked wallets: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var w string
		if err := rows.Scan(&w); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}
