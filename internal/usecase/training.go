package usecase

import (
	"fmt"
	"math/rand"

	"github.com/fairyhunter13/options-assistant/internal/backtest"
	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

// TunerPolicy bounds an autotune session.
type TunerPolicy struct {
	TargetStreak   int
	MaxAttempts    int
	Symbol         string
	WindowDays     int
	GoalReturnPct  float64
	ConcurrentRuns int
}

// TuneState is the progress of one autotune session. A snapshot must pass
// TargetStreak consecutive evaluations before it is accepted; any failure
// resets the streak and perturbs a fresh snapshot.
type TuneState struct {
	Snapshot map[string]float64
	Streak   int
	Attempts int
}

// Step advances the streak machine by one evaluation outcome. rng drives
// the perturbation on failure, so a fixed seed replays the same session.
func Step(st TuneState, passed bool, rng *rand.Rand) TuneState {
	st.Attempts++
	if passed {
		st.Streak++
		return st
	}
	st.Streak = 0
	st.Snapshot = perturb(st.Snapshot, rng)
	return st
}

func perturb(params map[string]float64, rng *rand.Rand) map[string]float64 {
	out := make(map[string]float64, len(params))
	for k, v := range params {
		out[k] = round2(v * (0.9 + rng.Float64()*0.2))
	}
	return out
}

// TuneResult reports how an autotune session ended.
type TuneResult struct {
	Accepted bool               `json:"accepted"`
	Attempts int                `json:"attempts"`
	Streak   int                `json:"streak"`
	Snapshot map[string]float64 `json:"snapshot"`
}

// TrainerService runs autotune sessions against the backtest engine and
// installs accepted snapshots as the active strategy.
type TrainerService struct {
	engine    *backtest.Engine
	strategy  *StrategyHolder
	journal   domain.JournalRepository
	analytics domain.AnalyticsSink
	clock     domain.Clock
	policy    TunerPolicy
}

// NewTrainerService wires the autotune loop.
func NewTrainerService(
	engine *backtest.Engine,
	strategy *StrategyHolder,
	journal domain.JournalRepository,
	analytics domain.AnalyticsSink,
	clk domain.Clock,
	policy TunerPolicy,
) *TrainerService {
	if policy.TargetStreak <= 0 {
		policy.TargetStreak = 3
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 20
	}
	if policy.WindowDays <= 0 {
		policy.WindowDays = 60
	}
	if policy.ConcurrentRuns <= 0 {
		policy.ConcurrentRuns = 3
	}
	return &TrainerService{engine: engine, strategy: strategy, journal: journal,
		analytics: analytics, clock: clk, policy: policy}
}

// Run drives one session over the policy's default backtest input. userID
// only scopes the journal entries; the accepted snapshot is process wide.
func (t *TrainerService) Run(ctx domain.Context, userID string, seed int64) (TuneResult, error) {
	return t.RunSession(ctx, userID, backtest.Input{
		Symbol:         t.policy.Symbol,
		WindowDays:     t.policy.WindowDays,
		InstrumentType: backtest.InstrumentEquity,
		ConcurrentRuns: t.policy.ConcurrentRuns,
		GoalReturnPct:  t.policy.GoalReturnPct,
		Seed:           seed,
	}, 0, 0)
}

// RunSession drives one session over an explicit backtest input.
// targetStreak and maxAttempts override the policy bounds when positive.
// The input's seed advances per attempt, so a fixed seed replays the
// whole session.
func (t *TrainerService) RunSession(ctx domain.Context, userID string, in backtest.Input, targetStreak, maxAttempts int) (TuneResult, error) {
	if targetStreak <= 0 {
		targetStreak = t.policy.TargetStreak
	}
	if maxAttempts <= 0 {
		maxAttempts = t.policy.MaxAttempts
	}
	seed := in.Seed
	rng := rand.New(rand.NewSource(seed))
	st := TuneState{Snapshot: t.strategy.Params()}

	for st.Attempts < maxAttempts && st.Streak < targetStreak {
		run := in
		run.Seed = seed + int64(st.Attempts)
		run.Parameters = st.Snapshot
		agg, err := t.engine.Run(ctx, run)
		if err != nil {
			return TuneResult{}, fmt.Errorf("op=trainer.run: %w", err)
		}
		st = Step(st, agg.Passed, rng)
	}

	res := TuneResult{
		Accepted: st.Streak >= targetStreak,
		Attempts: st.Attempts,
		Streak:   st.Streak,
		Snapshot: st.Snapshot,
	}
	if res.Accepted {
		t.strategy.Accept(st.Snapshot)
		t.appendJournal(ctx, userID, "Autotune Accepted",
			fmt.Sprintf("Snapshot accepted after %d attempts with a %d-pass streak", st.Attempts, st.Streak),
			map[string]any{"attempts": st.Attempts, "streak": st.Streak})
	} else {
		t.appendJournal(ctx, userID, "Autotune Rejected",
			fmt.Sprintf("No snapshot reached a %d-pass streak in %d attempts", targetStreak, st.Attempts),
			map[string]any{"attempts": st.Attempts})
	}
	t.analytics.Emit(ctx, domain.AnalyticsEvent{
		EventName: "autotune_session",
		Category:  "training",
		Properties: map[string]any{
			"user_id": userID, "accepted": res.Accepted, "attempts": res.Attempts,
		},
	})
	return res, nil
}

func (t *TrainerService) appendJournal(ctx domain.Context, userID, title, summary string, details map[string]any) {
	err := t.journal.Append(ctx, domain.ValidationJournalEntry{
		UserID:    userID,
		Title:     title,
		Summary:   summary,
		Details:   details,
		CreatedAt: t.clock.Now(),
	})
	if err != nil {
		observability.LoggerFromContext(ctx).Error("journal append failed",
			"user_id", userID, "title", title, "error", err)
	}
}
