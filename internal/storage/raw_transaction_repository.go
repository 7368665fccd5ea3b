package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

var _ RawTransactionStore = (*RawTransactionRepository)(nil)

// RawTransactionRepository stores raw payloads in a ReplacingMergeTree keyed by
// natural key. Every write inserts a new version; reads use FINAL so only the
// latest version of each key is visible.
type RawTransactionRepository struct {
	db  *ClickHouseDB
	now func() time.Time
}

// NewRawTransactionRepository creates a new raw transaction repository
func NewRawTransactionRepository(db *ClickHouseDB) *RawTransactionRepository {
	return &RawTransactionRepository{db: db, now: time.Now}
}

const rawColumns = `natural_key, tx_id, network, wallet, block_number,
	classification_status, payload, fetched_at, version`

// Upsert writes tx as the latest version of its natural key
func (r *RawTransactionRepository) Upsert(ctx context.Context, tx *models.RawTransaction) error {
	return r.UpsertBatch(ctx, []*models.RawTransaction{tx})
}

// UpsertBatch writes every transaction in one insert block
func (r *RawTransactionRepository) UpsertBatch(ctx context.Context, txs []*models.RawTransaction) error {
	if len(txs) == 0 {
		return nil
	}

	batch, err := r.db.Conn().PrepareBatch(ctx, "INSERT INTO raw_transactions ("+rawColumns+")")
	if err != nil {
		return fmt.Errorf("failed to prepare batch: %w", err)
	}

	version := uint64(r.now().UnixNano()) // #nosec G115 - wall clock is positive
	for i, tx := range txs {
		if tx.FetchedAt.IsZero() {
			tx.FetchedAt = r.now().UTC()
		}
		err := batch.Append(
			tx.NaturalKey(),
			tx.TxID,
			string(tx.Network),
			tx.Wallet,
			tx.BlockNumber,
			string(tx.ClassificationStatus),
			string(tx.Payload),
			tx.FetchedAt,
			version+uint64(i), // later duplicates in one batch win
		)
		if err != nil {
			return fmt.Errorf("failed to append raw transaction %s: %w", tx.NaturalKey(), err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send batch: %w", err)
	}
	return nil
}

func (r *RawTransactionRepository) query(ctx context.Context, where string, args ...any) ([]*models.RawTransaction, error) {
	query := `
		SELECT tx_id, network, wallet, block_number, classification_status, payload, fetched_at
		FROM raw_transactions FINAL
		WHERE ` + where + `
		ORDER BY block_number, natural_key`

	rows, err := r.db.Conn().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query raw transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.RawTransaction
	for rows.Next() {
		var tx models.RawTransaction
		var network, status, payload string
		if err := rows.Scan(&tx.TxID, &network, &tx.Wallet, &tx.BlockNumber, &status, &payload, &tx.FetchedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw transaction: %w", err)
		}
		tx.Network = types.Network(network)
		tx.ClassificationStatus = types.ClassificationStatus(status)
		tx.Payload = []byte(payload)
		out = append(out, &tx)
	}
	return out, rows.Err()
}

// ListByBlockRange returns the wallet's transactions in [from, to]
func (r *RawTransactionRepository) ListByBlockRange(ctx context.Context, wallet string, network types.Network, from, to uint64) ([]*models.RawTransaction, error) {
	return r.query(ctx, "wallet = ? AND network = ? AND block_number BETWEEN ? AND ?",
		wallet, string(network), from, to)
}

// ListByStatus returns the wallet's transactions in a classification status
func (r *RawTransactionRepository) ListByStatus(ctx context.Context, wallet string, network types.Network, status types.ClassificationStatus) ([]*models.RawTransaction, error) {
	return r.query(ctx, "wallet = ? AND network = ? AND classification_status = ?",
		wallet, string(network), string(status))
}

// SetClassificationStatus writes a new version of tx carrying status
func (r *RawTransactionRepository) SetClassificationStatus(ctx context.Context, tx *models.RawTransaction, status types.ClassificationStatus) error {
	updated := *tx
	updated.ClassificationStatus = status
	if err := r.Upsert(ctx, &updated); err != nil {
		return err
	}
	tx.ClassificationStatus = status
	return nil
}
