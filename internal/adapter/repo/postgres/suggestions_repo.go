package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// SuggestionRepo persists suggestions and their append-only status audit.
type SuggestionRepo struct{ Pool PgxPool }

// NewSuggestionRepo constructs a SuggestionRepo with the given pool.
func NewSuggestionRepo(p PgxPool) *SuggestionRepo { return &SuggestionRepo{Pool: p} }

const suggestionColumns = `id, user_id, window_name, strategy, symbol, display_symbol, legs, limit_price,
metrics, iv_rank, COALESCE(iv_regime,''), score, status, COALESCE(blocked_reason,''), COALESCE(blocked_detail,''),
quality, sizing, trace_id, created_at, COALESCE(refreshed_at, 'epoch'::timestamptz)`

func scanSuggestion(row pgx.Row) (domain.Suggestion, error) {
	var s domain.Suggestion
	var legs, metrics, sizing []byte
	var quality []byte
	err := row.Scan(&s.ID, &s.UserID, &s.Window, &s.Strategy, &s.Symbol, &s.DisplaySymbol, &legs, &s.LimitPrice,
		&metrics, &s.IVRank, &s.IVRegime, &s.Score, &s.Status, &s.BlockedReason, &s.BlockedDetail,
		&quality, &sizing, &s.TraceID, &s.CreatedAt, &s.RefreshedAt)
	if err != nil {
		return domain.Suggestion{}, err
	}
	if err := json.Unmarshal(legs, &s.Legs); err != nil {
		return domain.Suggestion{}, err
	}
	if err := json.Unmarshal(metrics, &s.Metrics); err != nil {
		return domain.Suggestion{}, err
	}
	if err := json.Unmarshal(sizing, &s.Sizing); err != nil {
		return domain.Suggestion{}, err
	}
	if len(quality) > 0 && string(quality) != "null" {
		var q domain.QualityReport
		if err := json.Unmarshal(quality, &q); err != nil {
			return domain.Suggestion{}, err
		}
		s.Quality = &q
	}
	return s, nil
}

// Insert stores a new suggestion and its creation audit event.
func (r *SuggestionRepo) Insert(ctx domain.Context, s domain.Suggestion) (string, error) {
	tracer := otel.Tracer("repo.suggestions")
	ctx, span := tracer.Start(ctx, "suggestions.Insert")
	defer span.End()
	span.SetAttributes(attribute.String("suggestion.symbol", s.Symbol))

	if len(s.Legs) == 0 {
		return "", fmt.Errorf("op=suggestion.insert: %w: legs empty", domain.ErrInvalidArgument)
	}
	if s.Metrics.MaxLoss < 0 {
		return "", fmt.Errorf("op=suggestion.insert: %w: negative max loss", domain.ErrInvalidArgument)
	}
	id := s.ID
	if id == "" {
		id = uuid.New().String()
	}
	legs, _ := json.Marshal(s.Legs)
	metrics, _ := json.Marshal(s.Metrics)
	sizing, _ := json.Marshal(s.Sizing)
	var quality []byte
	if s.Quality != nil {
		quality, _ = json.Marshal(s.Quality)
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", fmt.Errorf("op=suggestion.insert: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `INSERT INTO suggestions (id, user_id, window_name, strategy, symbol, display_symbol, legs, limit_price,
metrics, iv_rank, iv_regime, score, status, blocked_reason, blocked_detail, quality, sizing, trace_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`
	if _, err := tx.Exec(ctx, q, id, s.UserID, s.Window, s.Strategy, s.Symbol, s.DisplaySymbol, legs, s.LimitPrice,
		metrics, s.IVRank, s.IVRegime, s.Score, s.Status, s.BlockedReason, s.BlockedDetail, quality, sizing, s.TraceID, s.CreatedAt.UTC()); err != nil {
		return "", fmt.Errorf("op=suggestion.insert: %w", err)
	}
	if err := appendEvent(ctx, tx, s.UserID, id, "", s.Status, "created"); err != nil {
		return "", fmt.Errorf("op=suggestion.insert: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("op=suggestion.insert: %w", err)
	}
	return id, nil
}

func appendEvent(ctx domain.Context, tx pgx.Tx, userID, suggestionID string, from, to domain.SuggestionStatus, reason string) error {
	q := `INSERT INTO suggestion_events (id, suggestion_id, user_id, from_status, to_status, reason, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := tx.Exec(ctx, q, uuid.New().String(), suggestionID, userID, string(from), string(to), reason, time.Now().UTC())
	return err
}

// Get loads one suggestion scoped to its owner.
func (r *SuggestionRepo) Get(ctx domain.Context, userID, id string) (domain.Suggestion, error) {
	q := `SELECT ` + suggestionColumns + ` FROM suggestions WHERE id=$1 AND user_id=$2`
	s, err := scanSuggestion(r.Pool.QueryRow(ctx, q, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Suggestion{}, fmt.Errorf("op=suggestion.get: %w", domain.ErrNotFound)
		}
		return domain.Suggestion{}, fmt.Errorf("op=suggestion.get: %w", err)
	}
	return s, nil
}

func (r *SuggestionRepo) list(ctx domain.Context, userID, day string, statuses []string) ([]domain.Suggestion, error) {
	q := `SELECT ` + suggestionColumns + ` FROM suggestions
WHERE user_id=$1 AND created_at >= $2::date AND created_at < ($2::date + INTERVAL '1 day') AND status = ANY($3)
ORDER BY created_at ASC`
	rows, err := r.Pool.Query(ctx, q, userID, day, statuses)
	if err != nil {
		return nil, fmt.Errorf("op=suggestion.list: %w", err)
	}
	defer rows.Close()
	var out []domain.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("op=suggestion.list: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=suggestion.list: %w", err)
	}
	return out, nil
}

// ListActive returns the day's non-terminal suggestions for a user.
func (r *SuggestionRepo) ListActive(ctx domain.Context, userID string, day string) ([]domain.Suggestion, error) {
	return r.list(ctx, userID, day, []string{string(domain.SuggestionExecutable), string(domain.SuggestionNotExecutable), string(domain.SuggestionStaged)})
}

// ListTerminal returns the day's completed and dismissed suggestions.
func (r *SuggestionRepo) ListTerminal(ctx domain.Context, userID string, day string) ([]domain.Suggestion, error) {
	return r.list(ctx, userID, day, []string{string(domain.SuggestionCompleted), string(domain.SuggestionDismissed)})
}

// UpdateStatus transitions from->to conditionally and records the audit
// event in the same transaction. ErrConflict when the row has moved on.
func (r *SuggestionRepo) UpdateStatus(ctx domain.Context, userID, id string, from, to domain.SuggestionStatus, reason string) error {
	tracer := otel.Tracer("repo.suggestions")
	ctx, span := tracer.Start(ctx, "suggestions.UpdateStatus")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=suggestion.update_status: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	q := `UPDATE suggestions SET status=$4 WHERE id=$1 AND user_id=$2 AND status=$3`
	tag, err := tx.Exec(ctx, q, id, userID, from, to)
	if err != nil {
		return fmt.Errorf("op=suggestion.update_status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=suggestion.update_status: %w", domain.ErrConflict)
	}
	if err := appendEvent(ctx, tx, userID, id, from, to, reason); err != nil {
		return fmt.Errorf("op=suggestion.update_status: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=suggestion.update_status: %w", err)
	}
	return nil
}

// RefreshQuality rewrites the gate verdict after a quote refresh. The
// EXECUTABLE<->NOT_EXECUTABLE flip is the one permitted non-monotone
// transition, so it bypasses the from-status guard but still audits.
func (r *SuggestionRepo) RefreshQuality(ctx domain.Context, userID, id string, rep domain.QualityReport, refreshedAt time.Time) error {
	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=suggestion.refresh_quality: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	status := domain.SuggestionExecutable
	reason, detail := "", ""
	if rep.Blocked() {
		status = domain.SuggestionNotExecutable
		reason = "marketdata_quality_gate"
		detail = qualityDetail(rep)
	}
	quality, _ := json.Marshal(rep)
	var prev domain.SuggestionStatus
	sel := `SELECT status FROM suggestions WHERE id=$1 AND user_id=$2 AND status IN ('EXECUTABLE','NOT_EXECUTABLE') FOR UPDATE`
	if err := tx.QueryRow(ctx, sel, id, userID).Scan(&prev); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("op=suggestion.refresh_quality: %w", domain.ErrConflict)
		}
		return fmt.Errorf("op=suggestion.refresh_quality: %w", err)
	}
	q := `UPDATE suggestions SET status=$3, blocked_reason=$4, blocked_detail=$5, quality=$6, refreshed_at=$7
WHERE id=$1 AND user_id=$2`
	if _, err := tx.Exec(ctx, q, id, userID, status, reason, detail, quality, refreshedAt.UTC()); err != nil {
		return fmt.Errorf("op=suggestion.refresh_quality: %w", err)
	}
	if prev != status {
		if err := appendEvent(ctx, tx, userID, id, prev, status, "quote_refresh"); err != nil {
			return fmt.Errorf("op=suggestion.refresh_quality: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=suggestion.refresh_quality: %w", err)
	}
	return nil
}

// OutcomeStats counts terminal outcomes since the cutoff. The staged-then-
// dismissed bucket follows the audit trail rather than the current row.
func (r *SuggestionRepo) OutcomeStats(ctx domain.Context, since time.Time) (domain.OutcomeStats, error) {
	q := `SELECT
	COUNT(*) FILTER (WHERE status='COMPLETED'),
	COUNT(*) FILTER (WHERE status='DISMISSED'),
	COUNT(*) FILTER (WHERE status='DISMISSED' AND EXISTS (
		SELECT 1 FROM suggestion_events e
		WHERE e.suggestion_id = suggestions.id AND e.to_status='STAGED'))
FROM suggestions
WHERE created_at >= $1 AND status IN ('COMPLETED','DISMISSED')`
	var out domain.OutcomeStats
	if err := r.Pool.QueryRow(ctx, q, since.UTC()).Scan(&out.Completed, &out.Dismissed, &out.StagedThenDismissed); err != nil {
		return domain.OutcomeStats{}, fmt.Errorf("op=suggestion.outcome_stats: %w", err)
	}
	return out, nil
}

func qualityDetail(rep domain.QualityReport) string {
	detail := ""
	for _, sq := range rep.Symbols {
		if sq.Code == domain.QualityOK {
			continue
		}
		if detail != "" {
			detail += ","
		}
		detail += sq.Symbol + ":" + string(sq.Code)
	}
	return detail
}
