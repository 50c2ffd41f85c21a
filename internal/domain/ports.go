package domain

import "time"

// Repositories (ports). Every per-user operation takes an explicit userID
// and implementations must never return another user's rows.

type HoldingRepository interface {
	ListByUser(ctx Context, userID string) ([]Holding, error)
	Upsert(ctx Context, h Holding) error
	// UserIDs lists the users with at least one position; cron cycles fan
	// out over this set.
	UserIDs(ctx Context) ([]string, error)
}

type SuggestionRepository interface {
	Insert(ctx Context, s Suggestion) (string, error)
	Get(ctx Context, userID, id string) (Suggestion, error)
	ListActive(ctx Context, userID string, day string) ([]Suggestion, error)
	ListTerminal(ctx Context, userID string, day string) ([]Suggestion, error)
	// UpdateStatus performs a conditional transition from->to and appends a
	// SuggestionEvent in the same transaction. ErrConflict when the row is
	// not in the from status.
	UpdateStatus(ctx Context, userID, id string, from, to SuggestionStatus, reason string) error
	// RefreshQuality rewrites the gate verdict and refreshed_at, flipping
	// EXECUTABLE<->NOT_EXECUTABLE as the report dictates.
	RefreshQuality(ctx Context, userID, id string, q QualityReport, refreshedAt time.Time) error
	// OutcomeStats aggregates terminal outcomes across all users since a
	// cutoff, feeding the health surface.
	OutcomeStats(ctx Context, since time.Time) (OutcomeStats, error)
}

// OutcomeStats counts how suggestions ended over a period.
// StagedThenDismissed are dismissals that had already passed through
// STAGED, i.e. entered the execution path but never completed.
type OutcomeStats struct {
	Completed           int
	Dismissed           int
	StagedThenDismissed int
}

type JobRepository interface {
	// Enqueue inserts a pending JobRun. When a non-terminal row already
	// exists for (JobName, IdempotencyKey) it returns that row and
	// ErrConflict.
	Enqueue(ctx Context, req EnqueueRequest) (JobRun, error)
	Get(ctx Context, id string) (JobRun, error)
	// Claim atomically moves up to limit due pending rows to processing,
	// ordered by run_after, and returns them.
	Claim(ctx Context, workerID string, limit int, now time.Time) ([]JobRun, error)
	// MarkCompleted, MarkRetryable and MarkTerminal are conditional on the
	// row still being processing at the recorded attempt count, preventing
	// lost updates under double delivery.
	MarkCompleted(ctx Context, id string, attempt int, result map[string]any, finishedAt time.Time) error
	MarkRetryable(ctx Context, id string, attempt int, errMsg string, runAfter time.Time) error
	MarkTerminal(ctx Context, id string, attempt int, status JobStatus, errMsg string, finishedAt time.Time) error
	// ReclaimExpired returns processing rows whose lease lapsed to pending.
	ReclaimExpired(ctx Context, leaseTimeout time.Duration, now time.Time) (int, error)
	// LastSuccess returns the most recent completed run of a job name.
	LastSuccess(ctx Context, jobName string) (JobRun, error)
	// LastRun returns the most recently finished run of a job name in any
	// terminal status, so health can surface latest failures.
	LastRun(ctx Context, jobName string) (JobRun, error)
	CountNonTerminal(ctx Context, jobName, idempotencyKey string) (int, error)
	CountByStatus(ctx Context, status JobStatus) (int, error)
}

type ValidationRepository interface {
	GetState(ctx Context, userID string) (ValidationState, error)
	// SaveState persists the whole state atomically (fail-fast resets must
	// not be observable half-applied).
	SaveState(ctx Context, v ValidationState) error
}

type JournalRepository interface {
	Append(ctx Context, e ValidationJournalEntry) error
	List(ctx Context, userID string, limit int) ([]ValidationJournalEntry, error)
}

type HistoricalRepository interface {
	Insert(ctx Context, r HistoricalRun) (string, error)
	ListByUser(ctx Context, userID string, limit int) ([]HistoricalRun, error)
}

type CredentialRepository interface {
	Store(ctx Context, c Credential) (string, error)
	Get(ctx Context, userID, provider string) (Credential, error)
	Delete(ctx Context, userID, provider string) error
}

// AnalyticsSink records append-only analytics events. Implementations must
// never fail the caller's operation; drop and log instead.
type AnalyticsSink interface {
	Emit(ctx Context, e AnalyticsEvent)
}

// SecretStore wraps authenticated symmetric encryption of credentials.
type SecretStore interface {
	Encrypt(plaintext []byte) ([]byte, error)
	Decrypt(ciphertext []byte) ([]byte, error)
}

// Queue is the enqueue-side port used by HTTP handlers and usecases.
type Queue interface {
	Enqueue(ctx Context, req EnqueueRequest) (JobRun, error)
}

// MarketData supplies quotes and gate verdicts.
type MarketData interface {
	Quotes(ctx Context, symbols []string) (map[string]Quote, error)
	Assess(ctx Context, symbols []string) (QualityReport, error)
	// BreakerState reports the provider circuit state for health output.
	BreakerState() string
	CacheStats() (hits, misses int64)
}

// Clock abstracts wall time so tests can drive cadence deterministically.
type Clock interface {
	Now() time.Time
	// TradingDay formats t as YYYY-MM-DD in the exchange timezone.
	TradingDay(t time.Time) string
}
