package pgqueue

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

// Handler executes one job run. Returned errors are classified by
// domain.Classify; handlers must be idempotent because delivery is
// at-least-once.
type Handler func(ctx context.Context, job domain.JobRun) (map[string]any, error)

// Options tunes the worker pool.
type Options struct {
	Workers      int
	BatchSize    int
	PollInterval time.Duration
	// Deadline returns the per-job execution budget for a job name.
	Deadline func(jobName string) time.Duration
}

// Pool claims and executes jobs until its context is cancelled.
type Pool struct {
	jobs     domain.JobRepository
	clock    domain.Clock
	backoff  *Backoff
	opts     Options
	handlers map[string]Handler
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// NewPool constructs a worker pool over the jobs repository.
func NewPool(jobs domain.JobRepository, clk domain.Clock, backoff *Backoff, opts Options) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.Deadline == nil {
		opts.Deadline = func(string) time.Duration { return 5 * time.Minute }
	}
	return &Pool{jobs: jobs, clock: clk, backoff: backoff, opts: opts, handlers: map[string]Handler{}}
}

// Register binds a handler to a job name. Unknown job names fail terminally.
func (p *Pool) Register(jobName string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[jobName] = h
}

// Start launches the workers and returns immediately. Stop by cancelling
// ctx, then Wait.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.opts.Workers; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runWorker(ctx, workerID)
		}()
	}
	slog.Info("queue pool started", slog.Int("workers", p.opts.Workers))
}

// Wait blocks until all workers have exited.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) runWorker(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		claimed, err := p.jobs.Claim(ctx, workerID, p.opts.BatchSize, p.clock.Now())
		if err != nil {
			if ctx.Err() == nil {
				slog.Error("claim failed", slog.String("worker", workerID), slog.Any("error", err))
			}
			continue
		}
		for _, job := range claimed {
			p.execute(ctx, workerID, job)
		}
	}
}

// execute runs one claimed job to a status transition. Panics are
// contained and retried like any other unexpected failure.
func (p *Pool) execute(ctx context.Context, workerID string, job domain.JobRun) {
	tracer := otel.Tracer("queue.worker")
	ctx, span := tracer.Start(ctx, "worker.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.name", job.JobName),
		attribute.Int("job.attempt", job.AttemptCount+1),
	)
	observability.JobsProcessing.WithLabelValues(job.JobName).Inc()
	defer observability.JobsProcessing.WithLabelValues(job.JobName).Dec()

	p.mu.RLock()
	handler, ok := p.handlers[job.JobName]
	p.mu.RUnlock()
	if !ok {
		p.finishTerminal(ctx, job, fmt.Errorf("no handler registered for %s", job.JobName))
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, p.opts.Deadline(job.JobName))
	defer cancel()

	var result map[string]any
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("job handler panic",
					slog.String("job", job.JobName),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		result, err = handler(jobCtx, job)
		return err
	}()

	now := p.clock.Now()
	if err == nil {
		if merr := p.jobs.MarkCompleted(ctx, job.ID, job.AttemptCount, result, now); merr != nil {
			slog.Error("mark completed failed", slog.String("job_id", job.ID), slog.Any("error", merr))
			return
		}
		observability.JobsCompletedTotal.WithLabelValues(job.JobName, "completed").Inc()
		slog.Info("job completed", slog.String("job", job.JobName), slog.String("job_id", job.ID), slog.String("worker", workerID))
		return
	}

	if domain.Classify(err) == domain.ClassTerminal {
		p.finishTerminal(ctx, job, err)
		return
	}
	attempt := job.AttemptCount + 1
	if attempt >= job.MaxAttempts {
		// Attempt budget exhausted; park it for inspection.
		if merr := p.jobs.MarkTerminal(ctx, job.ID, attempt, domain.JobDeadLettered, err.Error(), now); merr != nil {
			slog.Error("dead letter failed", slog.String("job_id", job.ID), slog.Any("error", merr))
			return
		}
		observability.JobsCompletedTotal.WithLabelValues(job.JobName, "dead_lettered").Inc()
		slog.Warn("job dead lettered", slog.String("job", job.JobName), slog.String("job_id", job.ID), slog.Int("attempts", attempt))
		return
	}
	runAfter := now.Add(p.backoff.Delay(attempt))
	if merr := p.jobs.MarkRetryable(ctx, job.ID, attempt, err.Error(), runAfter); merr != nil {
		slog.Error("mark retryable failed", slog.String("job_id", job.ID), slog.Any("error", merr))
		return
	}
	observability.JobsRetriedTotal.WithLabelValues(job.JobName).Inc()
	slog.Warn("job retry scheduled",
		slog.String("job", job.JobName), slog.String("job_id", job.ID),
		slog.Int("attempt", attempt), slog.Time("run_after", runAfter), slog.Any("error", err))
}

func (p *Pool) finishTerminal(ctx context.Context, job domain.JobRun, err error) {
	attempt := job.AttemptCount + 1
	status := domain.JobFailed
	if attempt >= job.MaxAttempts {
		status = domain.JobDeadLettered
	}
	if merr := p.jobs.MarkTerminal(ctx, job.ID, attempt, status, err.Error(), p.clock.Now()); merr != nil {
		slog.Error("mark terminal failed", slog.String("job_id", job.ID), slog.Any("error", merr))
		return
	}
	observability.JobsCompletedTotal.WithLabelValues(job.JobName, string(status)).Inc()
	slog.Error("job failed", slog.String("job", job.JobName), slog.String("job_id", job.ID), slog.Any("error", err))
}
