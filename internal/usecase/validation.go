package usecase

import (
	"errors"
	"fmt"

	"github.com/fairyhunter13/options-assistant/internal/backtest"
	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

// ValidationPolicy parameterizes the paper window and fail-fast bounds.
type ValidationPolicy struct {
	WindowDays       int
	CheckpointTarget int
	MaxDrawdownPct   float64
	MaxLossPct       float64
}

// ValidationService drives historical runs and the go-live state machine.
type ValidationService struct {
	states     domain.ValidationRepository
	journal    domain.JournalRepository
	historical domain.HistoricalRepository
	engine     *backtest.Engine
	strategy   *StrategyHolder
	analytics  domain.AnalyticsSink
	clock      domain.Clock
	policy     ValidationPolicy
}

// NewValidationService wires the validation flows.
func NewValidationService(
	states domain.ValidationRepository,
	journal domain.JournalRepository,
	historical domain.HistoricalRepository,
	engine *backtest.Engine,
	strategy *StrategyHolder,
	analytics domain.AnalyticsSink,
	clk domain.Clock,
	policy ValidationPolicy,
) *ValidationService {
	if policy.WindowDays <= 0 {
		policy.WindowDays = 30
	}
	if policy.CheckpointTarget <= 0 {
		policy.CheckpointTarget = 3
	}
	return &ValidationService{states: states, journal: journal, historical: historical,
		engine: engine, strategy: strategy, analytics: analytics, clock: clk, policy: policy}
}

// Status returns the user's state, initializing a fresh window on first
// touch.
func (v *ValidationService) Status(ctx domain.Context, userID string) (domain.ValidationState, error) {
	st, err := v.states.GetState(ctx, userID)
	if err == nil {
		return st, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return domain.ValidationState{}, err
	}
	return v.initState(userID), nil
}

func (v *ValidationService) initState(userID string) domain.ValidationState {
	now := v.clock.Now()
	st := domain.ValidationState{
		UserID:                userID,
		PaperWindowStart:      now,
		PaperWindowEnd:        now.AddDate(0, 0, v.policy.WindowDays),
		PaperCheckpointTarget: v.policy.CheckpointTarget,
	}
	st.Recompute()
	return st
}

// CheckpointObservation is the measured outcome of one paper forward-test
// checkpoint.
type CheckpointObservation struct {
	ReturnPct   float64
	DrawdownPct float64
}

// Passed is true when the checkpoint return is non-negative.
func (o CheckpointObservation) Passed() bool { return o.ReturnPct >= 0 }

// RunPaperCheckpoint applies one checkpoint to the streak state machine.
// A fail-fast breach (drawdown or loss over threshold) resets the whole
// window atomically; an ordinary failure only resets the streak.
func (v *ValidationService) RunPaperCheckpoint(ctx domain.Context, userID string, obs CheckpointObservation) (domain.ValidationState, error) {
	st, err := v.Status(ctx, userID)
	if err != nil {
		return domain.ValidationState{}, err
	}
	now := v.clock.Now()

	switch {
	case obs.Passed():
		st.PaperConsecutivePasses++
		v.journalEntry(ctx, userID, "Checkpoint Passed",
			fmt.Sprintf("Paper checkpoint passed with %.2f%% return (streak %d/%d)",
				obs.ReturnPct, st.PaperConsecutivePasses, st.PaperCheckpointTarget),
			map[string]any{"return_pct": obs.ReturnPct, "streak": st.PaperConsecutivePasses})
	case v.failFast(obs):
		st.PaperWindowStart = now
		st.PaperWindowEnd = now.AddDate(0, 0, v.policy.WindowDays)
		st.PaperConsecutivePasses = 0
		st.PaperFailFastTriggered = true
		st.PaperFailFastReason = fmt.Sprintf("performance threshold breached: return %.2f%%, drawdown %.2f%%",
			obs.ReturnPct, obs.DrawdownPct)
		v.journalEntry(ctx, userID, "Window Reset Triggered",
			"Paper forward-test window reset after fail-fast breach",
			map[string]any{"return_pct": obs.ReturnPct, "drawdown_pct": obs.DrawdownPct})
	default:
		st.PaperConsecutivePasses = 0
		v.journalEntry(ctx, userID, "Checkpoint Failed",
			fmt.Sprintf("Paper checkpoint failed with %.2f%% return; streak reset", obs.ReturnPct),
			map[string]any{"return_pct": obs.ReturnPct})
	}

	st.Recompute()
	if err := v.states.SaveState(ctx, st); err != nil {
		return domain.ValidationState{}, err
	}
	if st.OverallReady {
		v.journalEntry(ctx, userID, "Ready For Live",
			"Checkpoint streak and historical validation both green", nil)
	}
	v.analytics.Emit(ctx, domain.AnalyticsEvent{
		EventName: "paper_checkpoint",
		Category:  "validation",
		Properties: map[string]any{
			"user_id": userID, "passed": obs.Passed(), "streak": st.PaperConsecutivePasses,
			"fail_fast": st.PaperFailFastTriggered,
		},
	})
	return st, nil
}

func (v *ValidationService) failFast(obs CheckpointObservation) bool {
	return obs.DrawdownPct > v.policy.MaxDrawdownPct || obs.ReturnPct < -v.policy.MaxLossPct
}

// ManualReset returns any state to a fresh PAPER_WARMUP window.
func (v *ValidationService) ManualReset(ctx domain.Context, userID string) (domain.ValidationState, error) {
	st, err := v.Status(ctx, userID)
	if err != nil {
		return domain.ValidationState{}, err
	}
	now := v.clock.Now()
	st.PaperWindowStart = now
	st.PaperWindowEnd = now.AddDate(0, 0, v.policy.WindowDays)
	st.PaperConsecutivePasses = 0
	st.PaperFailFastTriggered = false
	st.PaperFailFastReason = ""
	st.Recompute()
	if err := v.states.SaveState(ctx, st); err != nil {
		return domain.ValidationState{}, err
	}
	v.journalEntry(ctx, userID, "Manual Reset", "Paper window restarted by user", nil)
	return st, nil
}

// RunHistorical executes a backtest request, persists the run, and folds
// the outcome into the user's readiness state.
func (v *ValidationService) RunHistorical(ctx domain.Context, userID string, in backtest.Input) (backtest.Aggregate, error) {
	if in.Parameters == nil {
		in.Parameters = v.strategy.Params()
	}
	agg, err := v.engine.Run(ctx, in)
	if err != nil {
		return backtest.Aggregate{}, err
	}

	run := domain.HistoricalRun{
		UserID:         userID,
		Symbol:         in.Symbol,
		WindowDays:     in.WindowDays,
		InstrumentType: in.InstrumentType,
		Parameters:     in.Parameters,
		ReturnPct:      agg.Median,
		MaxDrawdown:    agg.MedianRun.MaxDrawdown,
		WinRate:        agg.MedianRun.WinRate,
		TradesCount:    agg.MedianRun.TradesCount,
		Passed:         agg.Passed,
		CreatedAt:      v.clock.Now(),
	}
	if _, err := v.historical.Insert(ctx, run); err != nil {
		return backtest.Aggregate{}, err
	}

	st, err := v.Status(ctx, userID)
	if err != nil {
		return backtest.Aggregate{}, err
	}
	st.HistoricalLastRunAt = v.clock.Now()
	st.HistoricalLastPassed = agg.Passed
	st.HistoricalLastReturn = agg.Median
	st.Recompute()
	if err := v.states.SaveState(ctx, st); err != nil {
		return backtest.Aggregate{}, err
	}

	title := "Historical Failed"
	if agg.Passed {
		title = "Historical Passed"
	}
	v.journalEntry(ctx, userID, title,
		fmt.Sprintf("%s over %d days: best %.2f%% / median %.2f%% / worst %.2f%% against goal %.2f%%",
			in.Symbol, in.WindowDays, agg.Best, agg.Median, agg.Worst, in.GoalReturnPct),
		map[string]any{
			"symbol": in.Symbol, "window_days": in.WindowDays,
			"best": agg.Best, "median": agg.Median, "worst": agg.Worst,
			"passed": agg.Passed, "concurrent_runs": in.ConcurrentRuns,
		})
	v.analytics.Emit(ctx, domain.AnalyticsEvent{
		EventName: "historical_run",
		Category:  "validation",
		Properties: map[string]any{
			"user_id": userID, "symbol": in.Symbol, "passed": agg.Passed, "return_pct": agg.Median,
		},
	})
	return agg, nil
}

// Journal lists the newest validation journal entries.
func (v *ValidationService) Journal(ctx domain.Context, userID string, limit int) ([]domain.ValidationJournalEntry, error) {
	return v.journal.List(ctx, userID, limit)
}

func (v *ValidationService) journalEntry(ctx domain.Context, userID, title, summary string, details map[string]any) {
	err := v.journal.Append(ctx, domain.ValidationJournalEntry{
		UserID:    userID,
		Title:     title,
		Summary:   summary,
		Details:   details,
		CreatedAt: v.clock.Now(),
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Error("journal append failed",
			"user_id", userID, "title", title, "error", err)
	}
}

// ObserveRecentWindow measures a short checkpoint window with the engine,
// used when a paper checkpoint arrives without external measurements.
func (v *ValidationService) ObserveRecentWindow(ctx domain.Context, symbol string, seed int64) (CheckpointObservation, error) {
	agg, err := v.engine.Run(ctx, backtest.Input{
		Symbol:         symbol,
		WindowDays:     10,
		InstrumentType: backtest.InstrumentEquity,
		ConcurrentRuns: 1,
		Seed:           seed,
		Parameters:     v.strategy.Params(),
	})
	if err != nil {
		return CheckpointObservation{}, err
	}
	return CheckpointObservation{
		ReturnPct:   agg.Median,
		DrawdownPct: agg.MedianRun.MaxDrawdown,
	}, nil
}
