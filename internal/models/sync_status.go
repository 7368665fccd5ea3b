package models

import (
	"time"

	"github.com/avco-ledger/internal/types"
)

// SyncStatus tracks the backfill of one (wallet, network)
type SyncStatus struct {
	ID                     string          `json:"id" db:"id"`
	Wallet                 string          `json:"wallet" db:"wallet"`
	Network                types.Network   `json:"network" db:"network"`
	State                  types.SyncState `json:"state" db:"state"`
	ProgressPct            int             `json:"progressPct" db:"progress_pct"`
	LastBlockSynced        *uint64         `json:"lastBlockSynced,omitempty" db:"last_block_synced"`
	PlannedFromBlock       *uint64         `json:"plannedFromBlock,omitempty" db:"planned_from_block"`
	PlannedToBlock         *uint64         `json:"plannedToBlock,omitempty" db:"planned_to_block"`
	RetryCount             int             `json:"retryCount" db:"retry_count"`
	NextRetryAfter         *time.Time      `json:"nextRetryAfter,omitempty" db:"next_retry_after"`
	BannerMessage          *string         `json:"syncBannerMessage,omitempty" db:"banner_message"`
	RawFetchComplete       bool            `json:"rawFetchComplete" db:"raw_fetch_complete"`
	ClassificationComplete bool            `json:"classificationComplete" db:"classification_complete"`
	CreatedAt              time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt              time.Time       `json:"updatedAt" db:"updated_at"`
}

// HasPlannedRange reports whether an unfinished run left a range to resume
func (s *SyncStatus) HasPlannedRange() bool {
	return s.PlannedFromBlock != nil && s.PlannedToBlock != nil
}

// ClearPlan forgets the planned range and phase flags once a run completes
func (s *SyncStatus) ClearPlan() {
	s.PlannedFromBlock = nil
	s.PlannedToBlock = nil
	s.RawFetchComplete = false
	s.ClassificationComplete = false
}

// BackfillSegment is one contiguous block range within a phase of a sync
type BackfillSegment struct {
	SyncID             string              `json:"syncId" db:"sync_id"`
	SegmentIndex       int                 `json:"segmentIndex" db:"segment_index"`
	Phase              types.BackfillPhase `json:"phase" db:"phase"`
	FromBlock          uint64              `json:"fromBlock" db:"from_block"`
	ToBlock            uint64              `json:"toBlock" db:"to_block"`
	Status             types.SegmentStatus `json:"status" db:"status"`
	ProgressPct        int                 `json:"progressPct" db:"progress_pct"`
	LastProcessedBlock *uint64             `json:"lastProcessedBlock,omitempty" db:"last_processed_block"`
	RetryCount         int                 `json:"retryCount" db:"retry_count"`
	UpdatedAt          time.Time           `json:"updatedAt" db:"updated_at"`
}

// ResumeFrom returns the first block still to process
func (s *BackfillSegment) ResumeFrom() uint64 {
	if s.LastProcessedBlock != nil && *s.LastProcessedBlock >= s.FromBlock {
		return *s.LastProcessedBlock + 1
	}
	return s.FromBlock
}

// Blocks returns the number of blocks the segment covers
func (s *BackfillSegment) Blocks() uint64 {
	return s.ToBlock - s.FromBlock + 1
}
