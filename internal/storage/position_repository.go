package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

var _ PositionStore = (*PositionRepository)(nil)

// PositionRepository handles asset position persistence
type PositionRepository struct {
	db *PostgresDB
}

// NewPositionRepository creates a new position repository
func NewPositionRepository(db *PostgresDB) *PositionRepository {
	return &PositionRepository{db: db}
}

const positionColumns = `wallet, network, asset, quantity, avco_usd, cost_basis_usd,
	total_gas_paid_usd, realized_pnl_usd, has_incomplete_history, unresolved_flag_count,
	last_event_at, last_recomputed_at`

// Save overwrites the position row; the last writer wins
func (r *PositionRepository) Save(ctx context.Context, pos *models.AssetPosition) error {
	query := `
		INSERT INTO asset_positions (` + positionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (wallet, network, asset) DO UPDATE SET
			quantity = EXCLUDED.quantity,
			avco_usd = EXCLUDED.avco_usd,
			cost_basis_usd = EXCLUDED.cost_basis_usd,
			total_gas_paid_usd = EXCLUDED.total_gas_paid_usd,
			realized_pnl_usd = EXCLUDED.realized_pnl_usd,
			has_incomplete_history = EXCLUDED.has_incomplete_history,
			unresolved_flag_count = EXCLUDED.unresolved_flag_count,
			last_event_at = EXCLUDED.last_event_at,
			last_recomputed_at = EXCLUDED.last_recomputed_at`

	_, err := r.db.Pool().Exec(ctx, query,
		pos.Wallet,
		string(pos.Network),
		pos.Asset,
		pos.Quantity,
		pos.AvcoUSD,
		pos.CostBasisUSD,
		pos.TotalGasPaidUSD,
		pos.RealizedPnLUSD,
		pos.HasIncompleteHistory,
		pos.UnresolvedFlagCount,
		pos.LastEventAt,
		pos.LastRecomputedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save position: %w", err)
	}
	return nil
}

// Delete removes the position row if present
func (r *PositionRepository) Delete(ctx context.Context, wallet string, network types.Network, asset string) error {
	_, err := r.db.Pool().Exec(ctx,
		`DELETE FROM asset_positions WHERE wallet = $1 AND network = $2 AND asset = $3`,
		wallet, string(network), asset)
	if err != nil {
		return fmt.Errorf("failed to delete position: %w", err)
	}
	return nil
}

func scanPosition(row rowScanner) (*models.AssetPosition, error) {
	var pos models.AssetPosition
	var network string
	err := row.Scan(
		&pos.Wallet,
		&network,
		&pos.Asset,
		&pos.Quantity,
		&pos.AvcoUSD,
		&pos.CostBasisUSD,
		&pos.TotalGasPaidUSD,
		&pos.RealizedPnLUSD,
		&pos.HasIncompleteHistory,
		&pos.UnresolvedFlagCount,
		&pos.LastEventAt,
		&pos.LastRecomputedAt,
	)
	if err != nil {
		return nil, err
	}
	pos.Network = types.Network(network)
	return &pos, nil
}

// Get returns the position or ErrNotFound
func (r *PositionRepository) Get(ctx context.Context, wallet string, network types.Network, asset string) (*models.AssetPosition, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+positionColumns+` FROM asset_positions WHERE wallet = $1 AND network = $2 AND asset = $3`,
		wallet, string(network), asset)
	pos, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get position: %w", err)
	}
	return pos, nil
}

// ListByWallet returns every position of wallet ordered by network and asset
func (r *PositionRepository) ListByWallet(ctx context.Context, wallet string) ([]*models.AssetPosition, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+positionColumns+` FROM asset_positions WHERE wallet = $1 ORDER BY network, asset`, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to query positions: %w", err)
	}
	defer rows.Close()

	var out []*models.AssetPosition
	for rows.Next() {
		pos, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}
