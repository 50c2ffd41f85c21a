package usecase

import (
	"errors"
	"fmt"
	"time"

	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

// taskRoute maps one cron endpoint slug onto a queued job.
type taskRoute struct {
	jobName  string
	window   domain.Window
	cadence  time.Duration
	priority bool // false defers run_after so cron cycles claim first
}

// Routes for /tasks/*. Grouped paths (suggestions/open, universe/sync,
// strategy/autotune, ...) are canonical; the flat slugs and the deprecated
// morning-brief and midday-scan names alias onto the same job, sharing its
// name and idempotency key so a day that fired any alias still enqueues
// once.
var taskRoutes = map[string]taskRoute{
	"suggestions/open":       {jobName: domain.JobSuggestionsOpen, window: domain.WindowMorningLimit, cadence: 24 * time.Hour, priority: true},
	"suggestions/close":      {jobName: domain.JobSuggestionsClose, window: domain.WindowMiddayEntry, cadence: 24 * time.Hour, priority: true},
	"suggestions/rebalance":  {jobName: domain.JobRebalanceScan, window: domain.WindowRebalance, cadence: 24 * time.Hour, priority: true},
	"suggestions/scout":      {jobName: domain.JobScoutScan, window: domain.WindowScout, cadence: 24 * time.Hour},
	"suggestions-open":       {jobName: domain.JobSuggestionsOpen, window: domain.WindowMorningLimit, cadence: 24 * time.Hour, priority: true},
	"suggestions-close":      {jobName: domain.JobSuggestionsClose, window: domain.WindowMiddayEntry, cadence: 24 * time.Hour, priority: true},
	"rebalance":              {jobName: domain.JobRebalanceScan, window: domain.WindowRebalance, cadence: 24 * time.Hour, priority: true},
	"scout":                  {jobName: domain.JobScoutScan, window: domain.WindowScout, cadence: 24 * time.Hour},
	"morning-brief":          {jobName: domain.JobSuggestionsOpen, window: domain.WindowMorningLimit, cadence: 24 * time.Hour, priority: true},
	"midday-scan":            {jobName: domain.JobSuggestionsClose, window: domain.WindowMiddayEntry, cadence: 24 * time.Hour, priority: true},
	"weekly-report":          {jobName: domain.JobWeeklyReport, cadence: 7 * 24 * time.Hour, priority: true},
	"universe/sync":          {jobName: domain.JobUniverseSync, cadence: 24 * time.Hour, priority: true},
	"universe-sync":          {jobName: domain.JobUniverseSync, cadence: 24 * time.Hour, priority: true},
	"learning/ingest":        {jobName: domain.JobLearningIngest, cadence: 24 * time.Hour},
	"learning-ingest":        {jobName: domain.JobLearningIngest, cadence: 24 * time.Hour},
	"strategy/autotune":      {jobName: domain.JobAutotune, cadence: 7 * 24 * time.Hour},
	"autotune":               {jobName: domain.JobAutotune, cadence: 7 * 24 * time.Hour},
	"plaid/backfill-history": {jobName: domain.JobPlaidBackfill, cadence: 24 * time.Hour},
	"plaid-backfill":         {jobName: domain.JobPlaidBackfill, cadence: 24 * time.Hour},
}

// scoutDelay pushes low-priority work behind the cron cycles without
// starving it.
const scoutDelay = 2 * time.Minute

// TaskDispatcher turns authenticated cron hits into idempotent queue rows.
type TaskDispatcher struct {
	queue     domain.Queue
	analytics domain.AnalyticsSink
	clock     domain.Clock
	pause     *PauseState
}

// NewTaskDispatcher wires the dispatcher.
func NewTaskDispatcher(queue domain.Queue, analytics domain.AnalyticsSink, clk domain.Clock, pause *PauseState) *TaskDispatcher {
	return &TaskDispatcher{queue: queue, analytics: analytics, clock: clk, pause: pause}
}

// KnownTask reports whether slug names a dispatchable endpoint.
func KnownTask(slug string) bool {
	_, ok := taskRoutes[slug]
	return ok
}

// Cadences returns the health expectation per distinct job name.
func Cadences() []CadenceExpectation {
	seen := map[string]bool{}
	var out []CadenceExpectation
	for _, slug := range []string{"suggestions-open", "suggestions-close", "rebalance", "scout", "weekly-report", "universe-sync", "learning-ingest", "autotune", "plaid-backfill"} {
		r := taskRoutes[slug]
		if seen[r.jobName] {
			continue
		}
		seen[r.jobName] = true
		out = append(out, CadenceExpectation{JobName: r.jobName, Every: r.cadence})
	}
	return out
}

// Dispatch enqueues the job behind slug, keyed by (job name, trading day).
// A same-day duplicate returns the original run with ErrConflict so the
// HTTP layer can answer 409 with its id.
func (d *TaskDispatcher) Dispatch(ctx domain.Context, slug string) (domain.JobRun, error) {
	route, ok := taskRoutes[slug]
	if !ok {
		return domain.JobRun{}, fmt.Errorf("op=dispatch: %w: task %q", domain.ErrNotFound, slug)
	}
	if paused, reason := d.pause.Paused(); paused {
		return domain.JobRun{}, fmt.Errorf("op=dispatch: %w: generation paused (%s)", domain.ErrConflict, reason)
	}

	now := d.clock.Now()
	day := d.clock.TradingDay(now)
	req := domain.EnqueueRequest{
		JobName:        route.jobName,
		IdempotencyKey: fmt.Sprintf("%s:%s", route.jobName, day),
		Payload:        map[string]any{"trading_day": day},
	}
	if route.window != "" {
		req.Payload["window"] = string(route.window)
	}
	if !route.priority {
		req.RunAfter = now.Add(scoutDelay)
	}

	run, err := d.queue.Enqueue(ctx, req)
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			observability.LoggerFromContext(ctx).Info("duplicate dispatch",
				"task", slug, "job_id", run.ID, "trading_day", day)
			return run, err
		}
		return domain.JobRun{}, err
	}

	observability.JobsEnqueuedTotal.WithLabelValues(route.jobName).Inc()
	d.analytics.Emit(ctx, domain.AnalyticsEvent{
		EventName: "task_dispatched",
		Category:  "dispatch",
		Properties: map[string]any{
			"task": slug, "job_name": route.jobName, "job_id": run.ID, "trading_day": day,
		},
	})
	return run, nil
}

// DispatchValidation enqueues an ad-hoc historical validation run for one
// user. The key includes the user so concurrent users never collide, and a
// live run per user stays unique.
func (d *TaskDispatcher) DispatchValidation(ctx domain.Context, userID string, payload map[string]any) (domain.JobRun, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	payload["user_id"] = userID
	day := d.clock.TradingDay(d.clock.Now())
	run, err := d.queue.Enqueue(ctx, domain.EnqueueRequest{
		JobName:        domain.JobValidationRun,
		IdempotencyKey: fmt.Sprintf("%s:%s:%s", domain.JobValidationRun, userID, day),
		Payload:        payload,
	})
	if err != nil {
		return run, err
	}
	observability.JobsEnqueuedTotal.WithLabelValues(domain.JobValidationRun).Inc()
	return run, nil
}
