package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/fairyhunter13/options-assistant/internal/adapter/queue/pgqueue"
	"github.com/fairyhunter13/options-assistant/internal/backtest"
	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/observability"
)

// RegisterJobHandlers binds every queue job name to its handler. Handlers
// are idempotent; the queue may deliver a job more than once.
func RegisterJobHandlers(pool *pgqueue.Pool, s *Services) {
	pool.Register(domain.JobSuggestionsOpen, s.generateHandler(domain.WindowMorningLimit))
	pool.Register(domain.JobSuggestionsClose, s.generateHandler(domain.WindowMiddayEntry))
	pool.Register(domain.JobRebalanceScan, s.generateHandler(domain.WindowRebalance))
	pool.Register(domain.JobScoutScan, s.generateHandler(domain.WindowScout))
	pool.Register(domain.JobValidationRun, s.validationRunHandler())
	pool.Register(domain.JobAutotune, s.autotuneHandler())
	pool.Register(domain.JobLearningIngest, s.learningIngestHandler())
	pool.Register(domain.JobUniverseSync, s.universeSyncHandler())
	pool.Register(domain.JobWeeklyReport, s.weeklyReportHandler())
	pool.Register(domain.JobPlaidBackfill, s.plaidBackfillHandler())
}

func (s *Services) generateHandler(window domain.Window) pgqueue.Handler {
	return func(ctx context.Context, job domain.JobRun) (map[string]any, error) {
		if paused, reason := s.Pause.Paused(); paused {
			return map[string]any{"skipped": "paused", "reason": reason}, nil
		}
		s.Stats.Roll()
		n, err := s.Generator.GenerateForAllUsers(ctx, window, job.ID)
		if err != nil {
			return nil, err
		}
		return map[string]any{"generated": n, "window": string(window)}, nil
	}
}

func (s *Services) validationRunHandler() pgqueue.Handler {
	return func(ctx context.Context, job domain.JobRun) (map[string]any, error) {
		userID := payloadString(job.Payload, "user_id")
		if userID == "" {
			return nil, domain.Terminal(fmt.Errorf("op=job.validation: missing user_id"))
		}
		if payloadString(job.Payload, "mode") == "paper" {
			obs, err := s.Validation.ObserveRecentWindow(ctx, "SPY", job.ScheduledFor.Unix())
			if err != nil {
				return nil, err
			}
			st, err := s.Validation.RunPaperCheckpoint(ctx, userID, obs)
			if err != nil {
				return nil, err
			}
			return map[string]any{
				"mode":          "paper",
				"passes":        st.PaperConsecutivePasses,
				"overall_ready": st.OverallReady,
			}, nil
		}

		in := backtest.Input{
			Symbol:              payloadString(job.Payload, "symbol"),
			WindowDays:          payloadInt(job.Payload, "window_days"),
			InstrumentType:      payloadString(job.Payload, "instrument_type"),
			OptionRight:         payloadString(job.Payload, "option_right"),
			OptionDTE:           payloadInt(job.Payload, "option_dte"),
			OptionMoneyness:     payloadFloat(job.Payload, "option_moneyness"),
			UseRollingContracts: payloadBool(job.Payload, "use_rolling_contracts"),
			StrictOptionMode:    payloadBool(job.Payload, "strict_option_mode"),
			SegmentTolerancePct: payloadFloat(job.Payload, "segment_tolerance_pct"),
			GoalReturnPct:       payloadFloat(job.Payload, "goal_return_pct"),
			ConcurrentRuns:      payloadInt(job.Payload, "concurrent_runs"),
			Seed:                int64(payloadInt(job.Payload, "seed")),
		}
		if in.WindowDays <= 0 {
			in.WindowDays = 90
		}
		if in.InstrumentType == "" {
			in.InstrumentType = backtest.InstrumentEquity
		}
		if in.ConcurrentRuns <= 0 {
			in.ConcurrentRuns = 3
		}
		agg, err := s.Validation.RunHistorical(ctx, userID, in)
		if err != nil {
			return nil, err
		}
		out := map[string]any{
			"mode":   "historical",
			"passed": agg.Passed,
			"best":   agg.Best,
			"median": agg.Median,
			"worst":  agg.Worst,
		}
		if payloadBool(job.Payload, "train") || payloadBool(job.Payload, "autotune") {
			res, err := s.Trainer.RunSession(ctx, userID, in,
				payloadInt(job.Payload, "train_target_streak"),
				payloadInt(job.Payload, "train_max_attempts"))
			if err != nil {
				return nil, err
			}
			out["autotune_accepted"] = res.Accepted
			out["autotune_attempts"] = res.Attempts
		}
		return out, nil
	}
}

func (s *Services) autotuneHandler() pgqueue.Handler {
	return func(ctx context.Context, job domain.JobRun) (map[string]any, error) {
		seed := int64(payloadInt(job.Payload, "seed"))
		if seed == 0 {
			seed = job.ScheduledFor.Unix()
		}
		res, err := s.Trainer.Run(ctx, payloadStringDefault(job.Payload, "user_id", "system"), seed)
		if err != nil {
			return nil, err
		}
		return map[string]any{"accepted": res.Accepted, "attempts": res.Attempts}, nil
	}
}

// learningIngestHandler measures a short recent window per user and feeds
// it into the paper checkpoint state machine.
func (s *Services) learningIngestHandler() pgqueue.Handler {
	return func(ctx context.Context, job domain.JobRun) (map[string]any, error) {
		users, err := s.Holdings.UserIDs(ctx)
		if err != nil {
			return nil, domain.Retryable(err)
		}
		processed := 0
		for _, userID := range users {
			obs, err := s.Validation.ObserveRecentWindow(ctx, "SPY", job.ScheduledFor.Unix())
			if err != nil {
				return nil, err
			}
			if _, err := s.Validation.RunPaperCheckpoint(ctx, userID, obs); err != nil {
				return nil, err
			}
			processed++
		}
		return map[string]any{"users": processed}, nil
	}
}

// universeSyncHandler warms the quote cache for every held symbol so the
// next generation cycle gates against fresh data.
func (s *Services) universeSyncHandler() pgqueue.Handler {
	return func(ctx context.Context, job domain.JobRun) (map[string]any, error) {
		users, err := s.Holdings.UserIDs(ctx)
		if err != nil {
			return nil, domain.Retryable(err)
		}
		seen := map[string]bool{}
		var symbols []string
		for _, userID := range users {
			holdings, err := s.Holdings.ListByUser(ctx, userID)
			if err != nil {
				return nil, domain.Retryable(err)
			}
			for _, h := range holdings {
				if h.AssetType == domain.AssetCash || seen[h.Symbol] {
					continue
				}
				seen[h.Symbol] = true
				symbols = append(symbols, h.Symbol)
			}
		}
		if len(symbols) == 0 {
			return map[string]any{"symbols": 0}, nil
		}
		if _, err := s.Market.Quotes(ctx, symbols); err != nil {
			if errors.Is(err, domain.ErrProviderDown) || errors.Is(err, domain.ErrRateLimited) {
				return nil, err
			}
			return nil, domain.Retryable(err)
		}
		return map[string]any{"symbols": len(symbols)}, nil
	}
}

func (s *Services) weeklyReportHandler() pgqueue.Handler {
	return func(ctx context.Context, job domain.JobRun) (map[string]any, error) {
		users, err := s.Holdings.UserIDs(ctx)
		if err != nil {
			return nil, domain.Retryable(err)
		}
		day := s.Clock.TradingDay(s.Clock.Now())
		reported := 0
		for _, userID := range users {
			completed, err := s.Suggestions.ListTerminal(ctx, userID, day)
			if err != nil {
				return nil, domain.Retryable(err)
			}
			st, err := s.Validation.Status(ctx, userID)
			if err != nil {
				return nil, err
			}
			s.Analytics.Emit(ctx, domain.AnalyticsEvent{
				EventName: "weekly_report",
				Category:  "reporting",
				Properties: map[string]any{
					"user_id":       userID,
					"terminal":      len(completed),
					"overall_ready": st.OverallReady,
					"trading_day":   day,
				},
			})
			reported++
		}
		return map[string]any{"users": reported}, nil
	}
}

// plaidBackfillHandler re-syncs positions for users holding a plaid
// credential. Without a live aggregator connection it verifies the stored
// token still decrypts and touches the holdings timestamps.
func (s *Services) plaidBackfillHandler() pgqueue.Handler {
	return func(ctx context.Context, job domain.JobRun) (map[string]any, error) {
		users, err := s.Holdings.UserIDs(ctx)
		if err != nil {
			return nil, domain.Retryable(err)
		}
		synced, skipped := 0, 0
		for _, userID := range users {
			cred, err := s.Credentials.Get(ctx, userID, "plaid")
			if err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					skipped++
					continue
				}
				return nil, domain.Retryable(err)
			}
			if _, err := s.Secrets.Decrypt(cred.Ciphertext); err != nil {
				observability.LoggerFromContext(ctx).Error("plaid credential unreadable",
					"user_id", userID, "error", err)
				skipped++
				continue
			}
			holdings, err := s.Holdings.ListByUser(ctx, userID)
			if err != nil {
				return nil, domain.Retryable(err)
			}
			for _, h := range holdings {
				if err := s.Holdings.Upsert(ctx, h); err != nil {
					return nil, domain.Retryable(err)
				}
			}
			synced++
		}
		return map[string]any{"synced": synced, "skipped": skipped}, nil
	}
}

func payloadString(p map[string]any, key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

func payloadStringDefault(p map[string]any, key, def string) string {
	if v := payloadString(p, key); v != "" {
		return v
	}
	return def
}

func payloadInt(p map[string]any, key string) int {
	switch v := p[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case int64:
		return int(v)
	}
	return 0
}

func payloadBool(p map[string]any, key string) bool {
	v, _ := p[key].(bool)
	return v
}

func payloadFloat(p map[string]any, key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}
