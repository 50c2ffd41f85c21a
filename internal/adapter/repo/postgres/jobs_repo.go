package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// JobRepo is the durable queue substrate. The job_runs table carries a
// partial unique index on (job_name, idempotency_key) over non-terminal
// statuses, which is what makes cron enqueues exactly-once per trading day.
type JobRepo struct{ Pool PgxPool }

// NewJobRepo constructs a JobRepo with the given pool.
func NewJobRepo(p PgxPool) *JobRepo { return &JobRepo{Pool: p} }

const jobColumns = `id, job_name, COALESCE(idempotency_key,''), status, attempt_count, max_attempts,
scheduled_for, run_after, COALESCE(started_at, 'epoch'::timestamptz), COALESCE(finished_at, 'epoch'::timestamptz),
COALESCE(duration_ms,0), payload, result, COALESCE(error,''), created_at`

func scanJob(row pgx.Row) (domain.JobRun, error) {
	var j domain.JobRun
	err := row.Scan(&j.ID, &j.JobName, &j.IdempotencyKey, &j.Status, &j.AttemptCount, &j.MaxAttempts,
		&j.ScheduledFor, &j.RunAfter, &j.StartedAt, &j.FinishedAt,
		&j.DurationMS, &j.Payload, &j.Result, &j.Error, &j.CreatedAt)
	return j, err
}

// Enqueue inserts a pending run. A live duplicate of (job_name,
// idempotency_key) returns the existing run with ErrConflict so handlers
// can answer 409 with the original job id.
func (r *JobRepo) Enqueue(ctx domain.Context, req domain.EnqueueRequest) (domain.JobRun, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Enqueue")
	defer span.End()
	span.SetAttributes(attribute.String("job.name", req.JobName))

	if req.IdempotencyKey != "" {
		existing, err := r.findLive(ctx, req.JobName, req.IdempotencyKey)
		if err == nil {
			return existing, fmt.Errorf("op=job.enqueue: %w", domain.ErrConflict)
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.JobRun{}, fmt.Errorf("op=job.enqueue: %w", err)
		}
	}

	now := time.Now().UTC()
	j := domain.JobRun{
		ID:             uuid.New().String(),
		JobName:        req.JobName,
		IdempotencyKey: req.IdempotencyKey,
		Status:         domain.JobPending,
		MaxAttempts:    req.MaxAttempts,
		ScheduledFor:   now,
		RunAfter:       req.RunAfter,
		Payload:        req.Payload,
		CreatedAt:      now,
	}
	if j.MaxAttempts <= 0 {
		j.MaxAttempts = 5
	}
	if j.RunAfter.IsZero() || j.RunAfter.Before(now) {
		j.RunAfter = now
	}
	var idem *string
	if req.IdempotencyKey != "" {
		idem = &req.IdempotencyKey
	}
	q := `INSERT INTO job_runs (id, job_name, idempotency_key, status, attempt_count, max_attempts, scheduled_for, run_after, payload, created_at)
VALUES ($1,$2,$3,$4,0,$5,$6,$7,$8,$9)`
	_, err := r.Pool.Exec(ctx, q, j.ID, j.JobName, idem, j.Status, j.MaxAttempts, j.ScheduledFor, j.RunAfter, j.Payload, j.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			// Lost the race with a concurrent enqueue; surface the winner.
			if existing, ferr := r.findLive(ctx, req.JobName, req.IdempotencyKey); ferr == nil {
				return existing, fmt.Errorf("op=job.enqueue: %w", domain.ErrConflict)
			}
		}
		return domain.JobRun{}, fmt.Errorf("op=job.enqueue: %w", err)
	}
	return j, nil
}

func (r *JobRepo) findLive(ctx domain.Context, jobName, key string) (domain.JobRun, error) {
	q := `SELECT ` + jobColumns + ` FROM job_runs
WHERE job_name=$1 AND idempotency_key=$2 AND status NOT IN ('completed','failed','dead_lettered') LIMIT 1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, jobName, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobRun{}, domain.ErrNotFound
		}
		return domain.JobRun{}, err
	}
	return j, nil
}

// Get loads a run by id.
func (r *JobRepo) Get(ctx domain.Context, id string) (domain.JobRun, error) {
	q := `SELECT ` + jobColumns + ` FROM job_runs WHERE id=$1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobRun{}, fmt.Errorf("op=job.get: %w", domain.ErrNotFound)
		}
		return domain.JobRun{}, fmt.Errorf("op=job.get: %w", err)
	}
	return j, nil
}

// Claim atomically moves up to limit due runs to processing. SKIP LOCKED
// keeps concurrent workers from fighting over the same rows; ordering by
// run_after keeps cron work ahead of deprioritized scout/training work.
func (r *JobRepo) Claim(ctx domain.Context, workerID string, limit int, now time.Time) ([]domain.JobRun, error) {
	tracer := otel.Tracer("repo.jobs")
	ctx, span := tracer.Start(ctx, "jobs.Claim")
	defer span.End()

	q := `UPDATE job_runs SET status='processing', started_at=$3, worker_id=$1
WHERE id IN (
  SELECT id FROM job_runs
  WHERE status IN ('pending','failed_retryable') AND run_after <= $3
  ORDER BY run_after ASC
  LIMIT $2
  FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns
	rows, err := r.Pool.Query(ctx, q, workerID, limit, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("op=job.claim: %w", err)
	}
	defer rows.Close()
	var out []domain.JobRun
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("op=job.claim: %w", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=job.claim: %w", err)
	}
	span.SetAttributes(attribute.Int("jobs.claimed", len(out)))
	return out, nil
}

// MarkCompleted finishes a processing run. Conditional on the attempt
// count so a reclaimed duplicate cannot clobber a newer attempt.
func (r *JobRepo) MarkCompleted(ctx domain.Context, id string, attempt int, result map[string]any, finishedAt time.Time) error {
	q := `UPDATE job_runs SET status='completed', result=$3, finished_at=$4,
duration_ms=GREATEST(0, (EXTRACT(EPOCH FROM ($4 - started_at)) * 1000)::bigint)
WHERE id=$1 AND status='processing' AND attempt_count=$2`
	tag, err := r.Pool.Exec(ctx, q, id, attempt, result, finishedAt.UTC())
	if err != nil {
		return fmt.Errorf("op=job.mark_completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.mark_completed: %w", domain.ErrConflict)
	}
	return nil
}

// MarkRetryable records a transient failure and schedules the next attempt.
func (r *JobRepo) MarkRetryable(ctx domain.Context, id string, attempt int, errMsg string, runAfter time.Time) error {
	q := `UPDATE job_runs SET status='failed_retryable', attempt_count=$2, error=$3, run_after=$4
WHERE id=$1 AND status='processing' AND attempt_count=$2-1`
	tag, err := r.Pool.Exec(ctx, q, id, attempt, errMsg, runAfter.UTC())
	if err != nil {
		return fmt.Errorf("op=job.mark_retryable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.mark_retryable: %w", domain.ErrConflict)
	}
	return nil
}

// MarkTerminal fails the run permanently (failed or dead_lettered).
func (r *JobRepo) MarkTerminal(ctx domain.Context, id string, attempt int, status domain.JobStatus, errMsg string, finishedAt time.Time) error {
	if status != domain.JobFailed && status != domain.JobDeadLettered {
		return fmt.Errorf("op=job.mark_terminal: %w: status %s", domain.ErrInvalidArgument, status)
	}
	q := `UPDATE job_runs SET status=$3, attempt_count=$2, error=$4, finished_at=$5,
duration_ms=GREATEST(0, (EXTRACT(EPOCH FROM ($5 - started_at)) * 1000)::bigint)
WHERE id=$1 AND status='processing' AND attempt_count=$2-1`
	tag, err := r.Pool.Exec(ctx, q, id, attempt, status, errMsg, finishedAt.UTC())
	if err != nil {
		return fmt.Errorf("op=job.mark_terminal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("op=job.mark_terminal: %w", domain.ErrConflict)
	}
	return nil
}

// ReclaimExpired returns lapsed processing rows to pending so another
// worker can pick them up.
func (r *JobRepo) ReclaimExpired(ctx domain.Context, leaseTimeout time.Duration, now time.Time) (int, error) {
	cutoff := now.UTC().Add(-leaseTimeout)
	q := `UPDATE job_runs SET status='pending', run_after=$1, worker_id=NULL
WHERE status='processing' AND started_at < $2`
	tag, err := r.Pool.Exec(ctx, q, now.UTC(), cutoff)
	if err != nil {
		return 0, fmt.Errorf("op=job.reclaim: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// LastSuccess returns the most recent completed run of jobName.
func (r *JobRepo) LastSuccess(ctx domain.Context, jobName string) (domain.JobRun, error) {
	q := `SELECT ` + jobColumns + ` FROM job_runs WHERE job_name=$1 AND status='completed' ORDER BY finished_at DESC LIMIT 1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, jobName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobRun{}, fmt.Errorf("op=job.last_success: %w", domain.ErrNotFound)
		}
		return domain.JobRun{}, fmt.Errorf("op=job.last_success: %w", err)
	}
	return j, nil
}

// LastRun returns the most recently finished run of jobName regardless of
// how it ended.
func (r *JobRepo) LastRun(ctx domain.Context, jobName string) (domain.JobRun, error) {
	q := `SELECT ` + jobColumns + ` FROM job_runs
WHERE job_name=$1 AND status IN ('completed','failed','dead_lettered') ORDER BY finished_at DESC LIMIT 1`
	j, err := scanJob(r.Pool.QueryRow(ctx, q, jobName))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobRun{}, fmt.Errorf("op=job.last_run: %w", domain.ErrNotFound)
		}
		return domain.JobRun{}, fmt.Errorf("op=job.last_run: %w", err)
	}
	return j, nil
}

// CountNonTerminal counts live rows for an idempotency key.
func (r *JobRepo) CountNonTerminal(ctx domain.Context, jobName, idempotencyKey string) (int, error) {
	q := `SELECT COUNT(*) FROM job_runs WHERE job_name=$1 AND idempotency_key=$2 AND status NOT IN ('completed','failed','dead_lettered')`
	var n int
	if err := r.Pool.QueryRow(ctx, q, jobName, idempotencyKey).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=job.count_live: %w", err)
	}
	return n, nil
}

// CountByStatus counts rows in one lifecycle status, used by ops health to
// surface the dead-letter backlog.
func (r *JobRepo) CountByStatus(ctx domain.Context, status domain.JobStatus) (int, error) {
	var n int
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM job_runs WHERE status=$1`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("op=job.count_status: %w", err)
	}
	return n, nil
}
