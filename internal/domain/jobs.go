package domain

import "time"

// JobStatus is the lifecycle state of a durable job run.
type JobStatus string

const (
	JobPending         JobStatus = "pending"
	JobProcessing      JobStatus = "processing"
	JobCompleted       JobStatus = "completed"
	JobFailed          JobStatus = "failed"
	JobFailedRetryable JobStatus = "failed_retryable"
	JobDeadLettered    JobStatus = "dead_lettered"
)

// Terminal reports whether the status admits no further attempts.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed || s == JobDeadLettered
}

// Job names dispatched through the queue. The deprecated morning-brief and
// midday-scan endpoints alias onto the open/close jobs.
const (
	JobSuggestionsOpen  = "suggestions_open"
	JobSuggestionsClose = "suggestions_close"
	JobRebalanceScan    = "suggestions_rebalance"
	JobScoutScan        = "suggestions_scout"
	JobWeeklyReport     = "weekly_report"
	JobUniverseSync     = "universe_sync"
	JobLearningIngest   = "learning_ingest"
	JobAutotune         = "strategy_autotune"
	JobPlaidBackfill    = "plaid_backfill_history"
	JobValidationRun    = "validation_run"
)

// JobRun is one durable unit of queued work.
// Invariants: AttemptCount <= MaxAttempts; at most one non-terminal row per
// (JobName, IdempotencyKey); RunAfter >= ScheduledFor.
type JobRun struct {
	ID             string
	JobName        string
	IdempotencyKey string
	Status         JobStatus
	AttemptCount   int
	MaxAttempts    int
	ScheduledFor   time.Time
	RunAfter       time.Time
	StartedAt      time.Time
	FinishedAt     time.Time
	DurationMS     int64
	Payload        map[string]any
	Result         map[string]any
	Error          string
	CreatedAt      time.Time
}

// EnqueueRequest describes a job to place on the queue.
type EnqueueRequest struct {
	JobName        string
	Payload        map[string]any
	IdempotencyKey string
	MaxAttempts    int
	RunAfter       time.Time
}
