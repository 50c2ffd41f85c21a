package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// ValidationRepo persists the per-user go-live readiness state and the
// append-only validation journal.
type ValidationRepo struct{ Pool PgxPool }

// NewValidationRepo constructs a ValidationRepo with the given pool.
func NewValidationRepo(p PgxPool) *ValidationRepo { return &ValidationRepo{Pool: p} }

// GetState loads the user's validation state; ErrNotFound when the user
// has never run a checkpoint.
func (r *ValidationRepo) GetState(ctx domain.Context, userID string) (domain.ValidationState, error) {
	q := `SELECT user_id, paper_window_start, paper_window_end, paper_consecutive_passes, paper_checkpoint_target,
paper_fail_fast_triggered, COALESCE(paper_fail_fast_reason,''),
COALESCE(historical_last_run_at, 'epoch'::timestamptz), historical_last_passed, historical_last_return_pct, overall_ready
FROM validation_states WHERE user_id=$1`
	var v domain.ValidationState
	err := r.Pool.QueryRow(ctx, q, userID).Scan(&v.UserID, &v.PaperWindowStart, &v.PaperWindowEnd,
		&v.PaperConsecutivePasses, &v.PaperCheckpointTarget, &v.PaperFailFastTriggered, &v.PaperFailFastReason,
		&v.HistoricalLastRunAt, &v.HistoricalLastPassed, &v.HistoricalLastReturn, &v.OverallReady)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ValidationState{}, fmt.Errorf("op=validation.get_state: %w", domain.ErrNotFound)
		}
		return domain.ValidationState{}, fmt.Errorf("op=validation.get_state: %w", err)
	}
	return v, nil
}

// SaveState upserts the whole state in one statement so fail-fast resets
// are atomic.
func (r *ValidationRepo) SaveState(ctx domain.Context, v domain.ValidationState) error {
	v.Recompute()
	q := `INSERT INTO validation_states (user_id, paper_window_start, paper_window_end, paper_consecutive_passes,
paper_checkpoint_target, paper_fail_fast_triggered, paper_fail_fast_reason,
historical_last_run_at, historical_last_passed, historical_last_return_pct, overall_ready, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (user_id) DO UPDATE SET
paper_window_start=EXCLUDED.paper_window_start, paper_window_end=EXCLUDED.paper_window_end,
paper_consecutive_passes=EXCLUDED.paper_consecutive_passes, paper_checkpoint_target=EXCLUDED.paper_checkpoint_target,
paper_fail_fast_triggered=EXCLUDED.paper_fail_fast_triggered, paper_fail_fast_reason=EXCLUDED.paper_fail_fast_reason,
historical_last_run_at=EXCLUDED.historical_last_run_at, historical_last_passed=EXCLUDED.historical_last_passed,
historical_last_return_pct=EXCLUDED.historical_last_return_pct, overall_ready=EXCLUDED.overall_ready,
updated_at=EXCLUDED.updated_at`
	_, err := r.Pool.Exec(ctx, q, v.UserID, v.PaperWindowStart.UTC(), v.PaperWindowEnd.UTC(), v.PaperConsecutivePasses,
		v.PaperCheckpointTarget, v.PaperFailFastTriggered, v.PaperFailFastReason,
		v.HistoricalLastRunAt.UTC(), v.HistoricalLastPassed, v.HistoricalLastReturn, v.OverallReady, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=validation.save_state: %w", err)
	}
	return nil
}

// JournalRepo appends and lists validation journal entries. Rows are
// never updated or deleted.
type JournalRepo struct{ Pool PgxPool }

// NewJournalRepo constructs a JournalRepo with the given pool.
func NewJournalRepo(p PgxPool) *JournalRepo { return &JournalRepo{Pool: p} }

// Append stores one journal entry.
func (r *JournalRepo) Append(ctx domain.Context, e domain.ValidationJournalEntry) error {
	id := e.ID
	if id == "" {
		id = uuid.New().String()
	}
	created := e.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	q := `INSERT INTO validation_journal (id, user_id, title, summary, details, created_at) VALUES ($1,$2,$3,$4,$5,$6)`
	if _, err := r.Pool.Exec(ctx, q, id, e.UserID, e.Title, e.Summary, e.Details, created.UTC()); err != nil {
		return fmt.Errorf("op=journal.append: %w", err)
	}
	return nil
}

// List returns the newest entries for a user, append-ordered descending.
func (r *JournalRepo) List(ctx domain.Context, userID string, limit int) ([]domain.ValidationJournalEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := `SELECT id, user_id, title, summary, details, created_at FROM validation_journal
WHERE user_id=$1 ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=journal.list: %w", err)
	}
	defer rows.Close()
	var out []domain.ValidationJournalEntry
	for rows.Next() {
		var e domain.ValidationJournalEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Title, &e.Summary, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("op=journal.list: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=journal.list: %w", err)
	}
	return out, nil
}
