package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/avco-ledger/internal/models"
)

var _ OverrideStore = (*OverrideRepository)(nil)

// uniqueViolation is the Postgres SQLSTATE for a unique index conflict
const uniqueViolation = "23505"

// OverrideRepository handles cost basis override persistence. The partial
// unique index on (event_id) WHERE active enforces one active override per event.
type OverrideRepository struct {
	db *PostgresDB
}

// NewOverrideRepository creates a new override repository
func NewOverrideRepository(db *PostgresDB) *OverrideRepository {
	return &OverrideRepository{db: db}
}

const overrideColumns = `id, event_id, price_usd, active, note, created_at`

// Create stores o as the event's active override
func (r *OverrideRepository) Create(ctx context.Context, o *models.CostBasisOverride) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.Active = true

	_, err := r.db.Pool().Exec(ctx, `
		INSERT INTO cost_basis_overrides (`+overrideColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		o.ID, o.EventID, models.Quantize(o.PriceUSD), o.Active, o.Note, o.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrActiveOverrideExists
		}
		return fmt.Errorf("failed to create override: %w", err)
	}
	return nil
}

func scanOverride(row rowScanner) (*models.CostBasisOverride, error) {
	var o models.CostBasisOverride
	if err := row.Scan(&o.ID, &o.EventID, &o.PriceUSD, &o.Active, &o.Note, &o.CreatedAt); err != nil {
		return nil, err
	}
	return &o, nil
}

// GetActive returns the active override or ErrNotFound
func (r *OverrideRepository) GetActive(ctx context.Context, eventID string) (*models.CostBasisOverride, error) {
	row := r.db.Pool().QueryRow(ctx,
		`SELECT `+overrideColumns+` FROM cost_basis_overrides WHERE event_id = $1 AND active`, eventID)
	o, err := scanOverride(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get override: %w", err)
	}
	return o, nil
}

// ActivePrices returns the active override price for each id that has one
func (r *OverrideRepository) ActivePrices(ctx context.Context, eventIDs []string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal)
	if len(eventIDs) == 0 {
		return out, nil
	}

	rows, err := r.db.Pool().Query(ctx,
		`SELECT event_id, price_usd FROM cost_basis_overrides WHERE active AND event_id = ANY($1)`, eventIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var price decimal.Decimal
		if err := rows.Scan(&id, &price); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		out[id] = price
	}
	return out, rows.Err()
}

// Deactivate clears the active flag, keeping the row as history
func (r *OverrideRepository) Deactivate(ctx context.Context, eventID string) (bool, error) {
	tag, err := r.db.Pool().Exec(ctx,
		`UPDATE cost_basis_overrides SET active = FALSE WHERE event_id = $1 AND active`, eventID)
	if err != nil {
		return false, fmt.Errorf("failed to deactivate override: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListByEvent returns the event's override history, oldest first
func (r *OverrideRepository) ListByEvent(ctx context.Context, eventID string) ([]*models.CostBasisOverride, error) {
	rows, err := r.db.Pool().Query(ctx,
		`SELECT `+overrideColumns+` FROM cost_basis_overrides WHERE event_id = $1 ORDER BY created_at, id`, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	var out []*models.CostBasisOverride
	for rows.Next() {
		o, err := scanOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
