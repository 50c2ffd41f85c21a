package postgres

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// HistoricalRepo persists completed backtest runs.
type HistoricalRepo struct{ Pool PgxPool }

// NewHistoricalRepo constructs a HistoricalRepo with the given pool.
func NewHistoricalRepo(p PgxPool) *HistoricalRepo { return &HistoricalRepo{Pool: p} }

// Insert stores one run record.
func (r *HistoricalRepo) Insert(ctx domain.Context, h domain.HistoricalRun) (string, error) {
	id := h.ID
	if id == "" {
		id = uuid.New().String()
	}
	created := h.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	q := `INSERT INTO historical_runs (id, user_id, symbol, window_days, instrument_type, parameters,
return_pct, max_drawdown, win_rate, trades_count, passed, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.Pool.Exec(ctx, q, id, h.UserID, h.Symbol, h.WindowDays, h.InstrumentType, h.Parameters,
		h.ReturnPct, h.MaxDrawdown, h.WinRate, h.TradesCount, h.Passed, created.UTC())
	if err != nil {
		return "", fmt.Errorf("op=historical.insert: %w", err)
	}
	return id, nil
}

// ListByUser returns the newest runs for a user.
func (r *HistoricalRepo) ListByUser(ctx domain.Context, userID string, limit int) ([]domain.HistoricalRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 20
	}
	q := `SELECT id, user_id, symbol, window_days, instrument_type, parameters,
return_pct, max_drawdown, win_rate, trades_count, passed, created_at
FROM historical_runs WHERE user_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=historical.list: %w", err)
	}
	defer rows.Close()
	var out []domain.HistoricalRun
	for rows.Next() {
		var h domain.HistoricalRun
		if err := rows.Scan(&h.ID, &h.UserID, &h.Symbol, &h.WindowDays, &h.InstrumentType, &h.Parameters,
			&h.ReturnPct, &h.MaxDrawdown, &h.WinRate, &h.TradesCount, &h.Passed, &h.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=historical.list: %w", err)
		}
		out = append(out, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=historical.list: %w", err)
	}
	return out, nil
}
