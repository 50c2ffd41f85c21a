package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/options-assistant/internal/clock"
	"github.com/fairyhunter13/options-assistant/internal/domain"
)

func TestCycleStatsRollExposesLastCycle(t *testing.T) {
	s := NewCycleStats()
	s.Record(false)
	s.Record(true)
	s.Record(true)
	s.Record(true)

	// Before the first roll the running counters stand in.
	count, pct := s.LastCycle()
	assert.Equal(t, 4, count)
	assert.Equal(t, 75.0, pct)

	s.Roll()
	count, pct = s.LastCycle()
	assert.Equal(t, 4, count)
	assert.Equal(t, 75.0, pct)

	s.Record(false)
	count, pct = s.LastCycle()
	assert.Equal(t, 4, count, "current cycle is invisible until rolled")
	assert.Equal(t, 75.0, pct)

	s.Roll()
	count, pct = s.LastCycle()
	assert.Equal(t, 1, count)
	assert.Equal(t, 0.0, pct)
}

type healthFixture struct {
	svc         *HealthService
	jobs        *fakeJobs
	suggestions *fakeSuggestions
	stats       *CycleStats
	pause       *PauseState
	integrity   *IntegrityStats
	clk         *clock.Fake
}

func newHealthFixture(t *testing.T) healthFixture {
	t.Helper()
	f := healthFixture{
		jobs:        newFakeJobs(),
		suggestions: newFakeSuggestions(),
		stats:       NewCycleStats(),
		pause:       NewPauseState(),
		integrity:   NewIntegrityStats(),
		clk:         clock.NewFake(time.Date(2026, 2, 2, 16, 0, 0, 0, time.UTC)),
	}
	f.svc = NewHealthService(f.jobs, f.suggestions, newFakeMarket(), f.clk, f.stats, f.pause, f.integrity,
		[]CadenceExpectation{
			{JobName: domain.JobSuggestionsOpen, Every: 24 * time.Hour},
			{JobName: domain.JobWeeklyReport, Every: 7 * 24 * time.Hour},
		},
		[]string{"per_trade_risk_cap=2.0%", "portfolio_risk_cap=10.0%"})
	return f
}

func TestOpsHealthJobStatuses(t *testing.T) {
	f := newHealthFixture(t)
	f.jobs.lastSuccess[domain.JobSuggestionsOpen] = domain.JobRun{
		JobName: domain.JobSuggestionsOpen, FinishedAt: f.clk.Now().Add(-2 * time.Hour),
	}
	f.jobs.lastSuccess[domain.JobWeeklyReport] = domain.JobRun{
		JobName: domain.JobWeeklyReport, FinishedAt: f.clk.Now().Add(-8 * 24 * time.Hour),
	}

	out := f.svc.Ops(context.Background())
	require.Len(t, out.Jobs, 2)
	assert.Equal(t, "ok", out.Jobs[0].Status)
	assert.Equal(t, "late", out.Jobs[1].Status)
	assert.Equal(t, "fresh", out.DataFreshness)
	assert.Equal(t, f.clk.Now().Add(-2*time.Hour), out.LastCycleAt)
}

func TestOpsHealthNeverRun(t *testing.T) {
	f := newHealthFixture(t)
	out := f.svc.Ops(context.Background())
	for _, jh := range out.Jobs {
		assert.Equal(t, "never_run", jh.Status)
	}
	assert.Equal(t, "unknown", out.DataFreshness)
}

func TestOpsHealthStaleCycleFlagsFreshness(t *testing.T) {
	f := newHealthFixture(t)
	f.jobs.lastSuccess[domain.JobSuggestionsOpen] = domain.JobRun{
		JobName: domain.JobSuggestionsOpen, FinishedAt: f.clk.Now().Add(-48 * time.Hour),
	}
	out := f.svc.Ops(context.Background())
	assert.Equal(t, "stale", out.DataFreshness)
}

func TestOpsHealthErrorWhenLatestRunFailed(t *testing.T) {
	f := newHealthFixture(t)
	// An old success exists, but the most recent run dead-lettered.
	f.jobs.lastSuccess[domain.JobSuggestionsOpen] = domain.JobRun{
		JobName: domain.JobSuggestionsOpen, FinishedAt: f.clk.Now().Add(-2 * time.Hour),
	}
	f.jobs.lastRun[domain.JobSuggestionsOpen] = domain.JobRun{
		JobName: domain.JobSuggestionsOpen, Status: domain.JobDeadLettered,
		FinishedAt: f.clk.Now().Add(-time.Hour), Error: "provider unavailable",
	}

	out := f.svc.Ops(context.Background())
	require.Len(t, out.Jobs, 2)
	assert.Equal(t, "error", out.Jobs[0].Status)
	assert.Equal(t, "provider unavailable", out.Jobs[0].LastError)
	assert.Equal(t, "never_run", out.Jobs[1].Status)
}

func TestOpsHealthReportsIntegrityIncidents(t *testing.T) {
	f := newHealthFixture(t)
	f.integrity.RecordAuthFailure(f.clk.Now().Add(-time.Minute))
	f.integrity.RecordCrossUser(f.clk.Now())

	out := f.svc.Ops(context.Background())
	assert.Equal(t, 1, out.Integrity.AuthFailures)
	assert.Equal(t, 1, out.Integrity.CrossUserAttempts)
	assert.Equal(t, f.clk.Now(), out.Integrity.LastIncidentAt)
}

func TestOpsHealthSurfacesPauseAndDeadLetters(t *testing.T) {
	f := newHealthFixture(t)
	f.pause.Pause("provider incident", f.clk.Now())
	f.jobs.deadLetters = 4
	f.stats.Record(false)
	f.stats.Roll()

	out := f.svc.Ops(context.Background())
	assert.True(t, out.Paused)
	assert.Equal(t, "provider incident", out.PausedReason)
	assert.Equal(t, 4, out.DeadLetters)
	assert.Equal(t, 1, out.LastCycleCount)
}

func TestSystemHealthAggregates(t *testing.T) {
	f := newHealthFixture(t)
	f.stats.Record(true)
	f.stats.Record(false)
	f.stats.Roll()
	f.suggestions.outcomes = domain.OutcomeStats{Completed: 6, Dismissed: 2, StagedThenDismissed: 1}

	out := f.svc.System(context.Background())
	assert.Equal(t, "ok", out.Status)
	assert.Equal(t, "CLOSED", out.ProviderHealth)
	assert.Equal(t, int64(7), out.CacheStats.Hits)
	assert.Equal(t, int64(3), out.CacheStats.Misses)
	assert.Equal(t, 50.0, out.NotExecutablePct)
	assert.Equal(t, 25.0, out.VetoRate7d)
	assert.Equal(t, 12.5, out.PartialOutcomesPct)
	assert.Equal(t, []string{"per_trade_risk_cap=2.0%", "portfolio_risk_cap=10.0%"}, out.ActiveConstraints)
}

func TestSystemHealthDegradedWhenPaused(t *testing.T) {
	f := newHealthFixture(t)
	f.pause.Pause("drill", f.clk.Now())

	out := f.svc.System(context.Background())
	assert.Equal(t, "degraded", out.Status)
	assert.Contains(t, out.ActiveConstraints, "generation_paused")
	assert.Zero(t, out.VetoRate7d, "no terminal outcomes yet")
}

func TestPauseStateToggle(t *testing.T) {
	p := NewPauseState()
	paused, _ := p.Paused()
	assert.False(t, paused)

	p.Pause("drill", time.Now())
	paused, reason := p.Paused()
	assert.True(t, paused)
	assert.Equal(t, "drill", reason)

	p.Resume()
	paused, reason = p.Paused()
	assert.False(t, paused)
	assert.Empty(t, reason)
}
