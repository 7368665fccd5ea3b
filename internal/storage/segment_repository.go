package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

var _ SegmentStore = (*SegmentRepository)(nil)

// SegmentRepository handles backfill segment persistence
type SegmentRepository struct {
	db *PostgresDB
}

// NewSegmentRepository creates a new segment repository
func NewSegmentRepository(db *PostgresDB) *SegmentRepository {
	return &SegmentRepository{db: db}
}

// Save upserts the row for (sync id, segment index)
func (r *SegmentRepository) Save(ctx context.Context, seg *models.BackfillSegment) error {
	seg.UpdatedAt = time.Now().UTC()
	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO backfill_segments (
			sync_id, segment_index, phase, from_block, to_block, status,
			progress_pct, last_processed_block, retry_count, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (sync_id, segment_index) DO UPDATE SET
			phase = EXCLUDED.phase,
			from_block = EXCLUDED.from_block,
			to_block = EXCLUDED.to_block,
			status = EXCLUDED.status,
			progress_pct = EXCLUDED.progress_pct,
			last_processed_block = EXCLUDED.last_processed_block,
			retry_count = EXCLUDED.retry_count,
			updated_at = EXCLUDED.updated_at`,
		seg.SyncID,
		seg.SegmentIndex,
		string(seg.Phase),
		seg.FromBlock,
		seg.ToBlock,
		string(seg.Status),
		seg.ProgressPct,
		seg.LastProcessedBlock,
		seg.RetryCount,
		seg.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save segment %s/%d: %w", seg.SyncID, seg.SegmentIndex, err)
	}
	return nil
}

// ListBySync returns the sync's segments ordered by index
func (r *SegmentRepository) ListBySync(ctx context.Context, syncID string) ([]*models.BackfillSegment, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT sync_id, segment_index, phase, from_block, to_block, status,
			progress_pct, last_processed_block, retry_count, updated_at
		FROM backfill_segments
		WHERE sync_id = $1
		ORDER BY segment_index`, syncID)
	if err != nil {
		return nil, fmt.Errorf("failed to query segments: %w", err)
	}
	defer rows.Close()

	var out []*models.BackfillSegment
	for rows.Next() {
		var seg models.BackfillSegment
		var phase, status string
		err := rows.Scan(
			&seg.SyncID,
			&seg.SegmentIndex,
			&phase,
			&seg.FromBlock,
			&seg.ToBlock,
			&status,
			&seg.ProgressPct,
			&seg.LastProcessedBlock,
			&seg.RetryCount,
			&seg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}
		seg.Phase = types.BackfillPhase(phase)
		seg.Status = types.SegmentStatus(status)
		out = append(out, &seg)
	}
	return out, rows.Err()
}

// DeleteBySync drops every segment of the sync
func (r *SegmentRepository) DeleteBySync(ctx context.Context, syncID string) error {
	if _, err := r.db.Pool().Exec(ctx, `DELETE FROM backfill_segments WHERE sync_id = $1`, syncID); err != nil {
		return fmt.Errorf("failed to delete segments: %w", err)
	}
	return nil
}
