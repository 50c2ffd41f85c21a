package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// HoldingRepo persists per-user positions.
type HoldingRepo struct{ Pool PgxPool }

// NewHoldingRepo constructs a HoldingRepo with the given pool.
func NewHoldingRepo(p PgxPool) *HoldingRepo { return &HoldingRepo{Pool: p} }

// ListByUser returns all positions owned by userID.
func (r *HoldingRepo) ListByUser(ctx domain.Context, userID string) ([]domain.Holding, error) {
	q := `SELECT id, user_id, symbol, asset_type, quantity, cost_basis, current_price,
COALESCE(delta,0), COALESCE(theta,0), COALESCE(sector,''), updated_at
FROM holdings WHERE user_id=$1 ORDER BY symbol ASC`
	rows, err := r.Pool.Query(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("op=holding.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Holding
	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.ID, &h.UserID, &h.Symbol, &h.AssetType, &h.Quantity, &h.CostBasis, &h.CurrentPrice,
			&h.Delta, &h.Theta, &h.Sector, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("op=holding.list: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=holding.list: %w", err)
	}
	return out, nil
}

// UserIDs lists distinct users that hold at least one position.
func (r *HoldingRepo) UserIDs(ctx domain.Context) ([]string, error) {
	rows, err := r.Pool.Query(ctx, `SELECT DISTINCT user_id FROM holdings ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("op=holding.user_ids: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("op=holding.user_ids: %w", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=holding.user_ids: %w", err)
	}
	return out, nil
}

// Upsert writes a position keyed by (user_id, symbol, asset_type).
func (r *HoldingRepo) Upsert(ctx domain.Context, h domain.Holding) error {
	id := h.ID
	if id == "" {
		id = uuid.New().String()
	}
	q := `INSERT INTO holdings (id, user_id, symbol, asset_type, quantity, cost_basis, current_price, delta, theta, sector, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (user_id, symbol, asset_type) DO UPDATE SET
quantity=EXCLUDED.quantity, cost_basis=EXCLUDED.cost_basis, current_price=EXCLUDED.current_price,
delta=EXCLUDED.delta, theta=EXCLUDED.theta, sector=EXCLUDED.sector, updated_at=EXCLUDED.updated_at`
	_, err := r.Pool.Exec(ctx, q, id, h.UserID, h.Symbol, h.AssetType, h.Quantity, h.CostBasis, h.CurrentPrice,
		h.Delta, h.Theta, h.Sector, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=holding.upsert: %w", err)
	}
	return nil
}
