package usecase

import (
	"strings"
	"sync"
	"time"

	"github.com/fairyhunter13/options-assistant/internal/domain"
)

// CycleStats counts the outcomes of the current generation cycle. The
// worker rolls it at the start of every cycle so health reads reflect the
// most recent completed one.
type CycleStats struct {
	mu          sync.Mutex
	total       int
	blocked     int
	lastTotal   int
	lastBlocked int
}

// NewCycleStats returns an empty counter.
func NewCycleStats() *CycleStats { return &CycleStats{} }

// Roll snapshots the running counters as the last cycle and zeroes them.
func (c *CycleStats) Roll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTotal, c.lastBlocked = c.total, c.blocked
	c.total, c.blocked = 0, 0
}

// Record counts one generated suggestion.
func (c *CycleStats) Record(blocked bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.total++
	if blocked {
		c.blocked++
	}
}

// LastCycle returns the previous cycle's count and the share of generated
// suggestions the quality gate blocked, in percent.
func (c *CycleStats) LastCycle() (count int, notExecutablePct float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	count = c.lastTotal
	blocked := c.lastBlocked
	if count == 0 {
		count = c.total
		blocked = c.blocked
	}
	if count > 0 {
		notExecutablePct = float64(blocked) / float64(count) * 100
	}
	return count, round2(notExecutablePct)
}

// PauseState is the operator kill switch for automated generation.
type PauseState struct {
	mu      sync.RWMutex
	paused  bool
	reason  string
	since   time.Time
	counter int
}

// NewPauseState starts unpaused.
func NewPauseState() *PauseState { return &PauseState{} }

// Pause flips the switch on with a reason.
func (p *PauseState) Pause(reason string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	p.reason = reason
	p.since = now
	p.counter++
}

// Resume flips the switch off.
func (p *PauseState) Resume() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	p.reason = ""
}

// Paused reports the switch and its reason.
func (p *PauseState) Paused() (bool, string) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused, p.reason
}

// IntegrityStats counts access-control incidents: failed authentications
// and rejected attempts to reach another user's rows. Process-local, like
// CycleStats. Methods tolerate a nil receiver so handler tests need no
// wiring.
type IntegrityStats struct {
	mu           sync.Mutex
	authFailures int
	crossUser    int
	lastIncident time.Time
}

// NewIntegrityStats returns an empty counter.
func NewIntegrityStats() *IntegrityStats { return &IntegrityStats{} }

// RecordAuthFailure counts a failed cron-secret or token authentication.
func (i *IntegrityStats) RecordAuthFailure(now time.Time) {
	if i == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.authFailures++
	i.lastIncident = now
}

// RecordCrossUser counts a hard-rejected cross-user access attempt.
func (i *IntegrityStats) RecordCrossUser(now time.Time) {
	if i == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	i.crossUser++
	i.lastIncident = now
}

// Snapshot returns the counters for the ops health payload.
func (i *IntegrityStats) Snapshot() IntegrityView {
	if i == nil {
		return IntegrityView{}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return IntegrityView{
		AuthFailures:      i.authFailures,
		CrossUserAttempts: i.crossUser,
		LastIncidentAt:    i.lastIncident,
	}
}

// IntegrityView is the integrity section of the ops health payload.
type IntegrityView struct {
	AuthFailures      int       `json:"auth_failures"`
	CrossUserAttempts int       `json:"cross_user_attempts"`
	LastIncidentAt    time.Time `json:"last_incident_at,omitempty"`
}

// CadenceExpectation declares how often a job should complete.
type CadenceExpectation struct {
	JobName string
	Every   time.Duration
}

// JobHealth is one job's cadence verdict.
type JobHealth struct {
	JobName       string    `json:"job_name"`
	Status        string    `json:"status"` // ok, late, never_run, error
	LastSuccessAt time.Time `json:"last_success_at,omitempty"`
	ExpectedEvery string    `json:"expected_every"`
	LastError     string    `json:"last_error,omitempty"`
}

// OpsHealth is the operator dashboard payload.
type OpsHealth struct {
	Paused         bool          `json:"paused"`
	PausedReason   string        `json:"paused_reason,omitempty"`
	DataFreshness  string        `json:"data_freshness"` // fresh, stale, unknown
	LastCycleAt    time.Time     `json:"last_cycle_at,omitempty"`
	Jobs           []JobHealth   `json:"jobs"`
	DeadLetters    int           `json:"dead_letters"`
	LastCycleCount int           `json:"suggestions_last_cycle"`
	Integrity      IntegrityView `json:"integrity"`
}

// CacheStatsView is the quote cache portion of the health payload.
type CacheStatsView struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
}

// SystemHealth is the user-facing health payload.
type SystemHealth struct {
	Status             string         `json:"status"`          // ok, degraded
	ProviderHealth     string         `json:"provider_health"` // CLOSED, OPEN, HALF_OPEN
	CacheStats         CacheStatsView `json:"cache_stats"`
	VetoRate7d         float64        `json:"veto_rate_7d"`
	ActiveConstraints  []string       `json:"active_constraints"`
	NotExecutablePct   float64        `json:"not_executable_pct"`
	PartialOutcomesPct float64        `json:"partial_outcomes_pct"`
}

// HealthService aggregates queue, provider and cycle signals.
type HealthService struct {
	jobs        domain.JobRepository
	suggestions domain.SuggestionRepository
	market      domain.MarketData
	clock       domain.Clock
	stats       *CycleStats
	pause       *PauseState
	integrity   *IntegrityStats
	cadences    []CadenceExpectation
	constraints []string
}

// NewHealthService wires the health aggregator. constraints lists the
// standing sizing caps so the health payload can surface them verbatim.
func NewHealthService(
	jobs domain.JobRepository,
	suggestions domain.SuggestionRepository,
	market domain.MarketData,
	clk domain.Clock,
	stats *CycleStats,
	pause *PauseState,
	integrity *IntegrityStats,
	cadences []CadenceExpectation,
	constraints []string,
) *HealthService {
	return &HealthService{
		jobs:        jobs,
		suggestions: suggestions,
		market:      market,
		clock:       clk,
		stats:       stats,
		pause:       pause,
		integrity:   integrity,
		cadences:    cadences,
		constraints: constraints,
	}
}

// Ops builds the operator health view. Repo errors degrade to never_run
// rather than failing the endpoint.
func (h *HealthService) Ops(ctx domain.Context) OpsHealth {
	now := h.clock.Now()
	paused, reason := h.pause.Paused()
	out := OpsHealth{Paused: paused, PausedReason: reason, DataFreshness: "unknown"}

	for _, c := range h.cadences {
		jh := JobHealth{JobName: c.JobName, Status: "never_run", ExpectedEvery: c.Every.String()}
		run, err := h.jobs.LastSuccess(ctx, c.JobName)
		if err == nil {
			jh.LastSuccessAt = run.FinishedAt
			if now.Sub(run.FinishedAt) <= c.Every {
				jh.Status = "ok"
			} else {
				jh.Status = "late"
			}
			if c.JobName == domain.JobSuggestionsOpen {
				out.LastCycleAt = run.FinishedAt
				out.DataFreshness = "stale"
				if jh.Status == "ok" {
					out.DataFreshness = "fresh"
				}
			}
		}
		// A terminally failed latest run trumps the cadence verdict.
		if last, lerr := h.jobs.LastRun(ctx, c.JobName); lerr == nil &&
			(last.Status == domain.JobFailed || last.Status == domain.JobDeadLettered) {
			jh.Status = "error"
			jh.LastError = last.Error
		}
		out.Jobs = append(out.Jobs, jh)
	}

	if n, err := h.jobs.CountByStatus(ctx, domain.JobDeadLettered); err == nil {
		out.DeadLetters = n
	}
	out.LastCycleCount, _ = h.stats.LastCycle()
	out.Integrity = h.integrity.Snapshot()
	return out
}

// System builds the user-facing health view. The outcome stats query is
// best-effort; a repo error leaves the rates at zero rather than failing
// the endpoint.
func (h *HealthService) System(ctx domain.Context) SystemHealth {
	hits, misses := h.market.CacheStats()
	_, pct := h.stats.LastCycle()
	out := SystemHealth{
		Status:            "ok",
		ProviderHealth:    h.market.BreakerState(),
		CacheStats:        CacheStatsView{Hits: hits, Misses: misses},
		ActiveConstraints: append([]string(nil), h.constraints...),
		NotExecutablePct:  pct,
	}
	if paused, _ := h.pause.Paused(); paused {
		out.Status = "degraded"
		out.ActiveConstraints = append(out.ActiveConstraints, "generation_paused")
	}
	if out.ProviderHealth != "CLOSED" {
		out.Status = "degraded"
		out.ActiveConstraints = append(out.ActiveConstraints, "provider_breaker_"+strings.ToLower(out.ProviderHealth))
	}
	if stats, err := h.suggestions.OutcomeStats(ctx, h.clock.Now().Add(-7*24*time.Hour)); err == nil {
		if terminal := stats.Completed + stats.Dismissed; terminal > 0 {
			out.VetoRate7d = round2(float64(stats.Dismissed) / float64(terminal) * 100)
			out.PartialOutcomesPct = round2(float64(stats.StagedThenDismissed) / float64(terminal) * 100)
		}
	}
	return out
}
