package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/models"
	"github.com/avco-ledger/internal/types"
)

var _ EventStore = (*EventRepository)(nil)

// EventRepository handles economic event persistence
type EventRepository struct {
	db *PostgresDB
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *PostgresDB) *EventRepository {
	return &EventRepository{db: db}
}

// rowScanner is satisfied by pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...any) error
}

const eventColumns = `id, network, wallet, tx_hash, idempotency_key, log_index, block_number,
	block_timestamp, event_type, asset, asset_symbol, counterparty_address, quantity_delta,
	price_usd, price_source, price_pending, gas_cost_usd, gas_included_in_basis,
	realized_pnl_usd, avco_at_sale_usd, flag_code, created_at, updated_at`

// conflictUpdate keeps a resolved price over a pending one and an
// INTERNAL_TRANSFER type over a re-derived EXTERNAL_INBOUND
const conflictUpdate = `DO UPDATE SET
	log_index = EXCLUDED.log_index,
	block_number = EXCLUDED.block_number,
	block_timestamp = EXCLUDED.block_timestamp,
	event_type = CASE
		WHEN economic_events.event_type = 'INTERNAL_TRANSFER' AND EXCLUDED.event_type = 'EXTERNAL_INBOUND'
		THEN economic_events.event_type ELSE EXCLUDED.event_type END,
	asset_symbol = EXCLUDED.asset_symbol,
	counterparty_address = EXCLUDED.counterparty_address,
	quantity_delta = EXCLUDED.quantity_delta,
	price_usd = CASE WHEN EXCLUDED.price_pending AND NOT economic_events.price_pending
		THEN economic_events.price_usd ELSE EXCLUDED.price_usd END,
	price_source = CASE WHEN EXCLUDED.price_pending AND NOT economic_events.price_pending
		THEN economic_events.price_source ELSE EXCLUDED.price_source END,
	flag_code = CASE WHEN EXCLUDED.price_pending AND NOT economic_events.price_pending
		THEN economic_events.flag_code ELSE EXCLUDED.flag_code END,
	price_pending = economic_events.price_pending AND EXCLUDED.price_pending,
	gas_cost_usd = EXCLUDED.gas_cost_usd,
	gas_included_in_basis = EXCLUDED.gas_included_in_basis,
	updated_at = EXCLUDED.updated_at`

func flagArg(flag *types.FlagCode) *string {
	if flag == nil {
		return nil
	}
	s := string(*flag)
	return &s
}

func scanEvent(row rowScanner) (*models.EconomicEvent, error) {
	var ev models.EconomicEvent
	var network, eventType, priceSource string
	var flag *string
	err := row.Scan(
		&ev.ID,
		&network,
		&ev.Wallet,
		&ev.TxHash,
		&ev.IdempotencyKey,
		&ev.LogIndex,
		&ev.BlockNumber,
		&ev.BlockTimestamp,
		&eventType,
		&ev.Asset,
		&ev.AssetSymbol,
		&ev.CounterpartyAddress,
		&ev.QuantityDelta,
		&ev.PriceUSD,
		&priceSource,
		&ev.PricePending,
		&ev.GasCostUSD,
		&ev.GasIncludedInBasis,
		&ev.RealizedPnLUSD,
		&ev.AvcoAtSaleUSD,
		&flag,
		&ev.CreatedAt,
		&ev.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	ev.Network = types.Network(network)
	ev.EventType = types.EventType(eventType)
	ev.PriceSource = types.PriceSource(priceSource)
	if flag != nil {
		code := types.FlagCode(*flag)
		ev.Flag = &code
	}
	return &ev, nil
}

// Upsert inserts ev or merges it into the row with the same unique key.
// ev is updated in place with the stored id and merged fields.
func (r *EventRepository) Upsert(ctx context.Context, ev *models.EconomicEvent) error {
	conflict := "ON CONFLICT (tx_hash, network, wallet, asset) WHERE tx_hash IS NOT NULL "
	if ev.IsManual() {
		conflict = "ON CONFLICT (idempotency_key) WHERE tx_hash IS NULL "
	}

	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = now
	}
	ev.UpdatedAt = now

	query := `INSERT INTO economic_events (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		` + conflict + conflictUpdate + `
		RETURNING ` + eventColumns

	row := r.db.Pool().QueryRow(ctx, query,
		ev.ID,
		string(ev.Network),
		ev.Wallet,
		ev.TxHash,
		ev.IdempotencyKey,
		ev.LogIndex,
		ev.BlockNumber,
		ev.BlockTimestamp,
		string(ev.EventType),
		ev.Asset,
		ev.AssetSymbol,
		ev.CounterpartyAddress,
		models.Quantize(ev.QuantityDelta),
		models.Quantize(ev.PriceUSD),
		string(ev.PriceSource),
		ev.PricePending,
		models.Quantize(ev.GasCostUSD),
		ev.GasIncludedInBasis,
		ev.RealizedPnLUSD,
		ev.AvcoAtSaleUSD,
		flagArg(ev.Flag),
		ev.CreatedAt,
		ev.UpdatedAt,
	)
	stored, err := scanEvent(row)
	if err != nil {
		return fmt.Errorf("failed to upsert event %s: %w", ev.UniqueKey(), err)
	}
	*ev = *stored
	return nil
}

// GetByID returns the event or ErrNotFound
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.EconomicEvent, error) {
	row := r.db.Pool().QueryRow(ctx, `SELECT `+eventColumns+` FROM economic_events WHERE id = $1`, id)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get event: %w", err)
	}
	return ev, nil
}

func (r *EventRepository) list(ctx context.Context, where string, args ...any) ([]*models.EconomicEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM economic_events WHERE ` + where +
		` ORDER BY block_timestamp, log_index, id`

	rows, err := r.db.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []*models.EconomicEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ListForAsset returns the (wallet, network, asset) history in replay order
func (r *EventRepository) ListForAsset(ctx context.Context, wallet string, network types.Network, asset string) ([]*models.EconomicEvent, error) {
	return r.list(ctx, "wallet = $1 AND network = $2 AND asset = $3", wallet, string(network), asset)
}

// ListForWalletsAsset returns the merged history of asset across wallets
func (r *EventRepository) ListForWalletsAsset(ctx context.Context, wallets []string, asset string) ([]*models.EconomicEvent, error) {
	return r.list(ctx, "wallet = ANY($1) AND asset = $2", wallets, asset)
}

// ListPricePending returns events still waiting for a price
func (r *EventRepository) ListPricePending(ctx context.Context, wallet string, network types.Network) ([]*models.EconomicEvent, error) {
	return r.list(ctx, "wallet = $1 AND network = $2 AND price_pending", wallet, string(network))
}

// ListByType returns every event of eventType
func (r *EventRepository) ListByType(ctx context.Context, eventType types.EventType) ([]*models.EconomicEvent, error) {
	return r.list(ctx, "event_type = $1", string(eventType))
}

// DistinctAssets returns each (network, asset) with history for wallet
func (r *EventRepository) DistinctAssets(ctx context.Context, wallet string) ([]models.NetworkAsset, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT DISTINCT network, asset FROM economic_events
		WHERE wallet = $1
		ORDER BY network, asset`, wallet)
	if err != nil {
		return nil, fmt.Errorf("failed to query assets: %w", err)
	}
	defer rows.Close()

	var out []models.NetworkAsset
	for rows.Next() {
		var network, asset string
		if err := rows.Scan(&network, &asset); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		out = append(out, models.NetworkAsset{Network: types.Network(network), Asset: asset})
	}
	return out, rows.Err()
}

func (r *EventRepository) exec(ctx context.Context, id, query string, args ...any) error {
	tag, err := r.db.Pool().Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update event %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdatePrice fills in the price of one event
func (r *EventRepository) UpdatePrice(ctx context.Context, id string, price decimal.Decimal, source types.PriceSource, pending bool, flag *types.FlagCode) error {
	return r.exec(ctx, id, `
		UPDATE economic_events
		SET price_usd = $2, price_source = $3, price_pending = $4, flag_code = $5, updated_at = NOW()
		WHERE id = $1`,
		id, models.Quantize(price), string(source), pending, flagArg(flag))
}

// UpdateEventType reclassifies one event
func (r *EventRepository) UpdateEventType(ctx context.Context, id string, eventType types.EventType) error {
	return r.exec(ctx, id, `
		UPDATE economic_events SET event_type = $2, updated_at = NOW() WHERE id = $1`,
		id, string(eventType))
}

// SaveRealized stores the realized P&L fields of replayed events in one transaction
func (r *EventRepository) SaveRealized(ctx context.Context, events []*models.EconomicEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			UPDATE economic_events
			SET realized_pnl_usd = $2, avco_at_sale_usd = $3, updated_at = NOW()
			WHERE id = $1`,
			ev.ID, ev.RealizedPnLUSD, ev.AvcoAtSaleUSD)
	}

	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // nolint:errcheck // no-op after commit
	}()

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to save realized p&l: %w", err)
	}
	return tx.Commit(ctx)
}
