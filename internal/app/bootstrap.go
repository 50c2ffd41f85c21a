package app

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/options-assistant/internal/adapter/analytics"
	"github.com/fairyhunter13/options-assistant/internal/adapter/marketdata"
	"github.com/fairyhunter13/options-assistant/internal/adapter/queue/pgqueue"
	"github.com/fairyhunter13/options-assistant/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/options-assistant/internal/adapter/secrets"
	"github.com/fairyhunter13/options-assistant/internal/backtest"
	"github.com/fairyhunter13/options-assistant/internal/clock"
	"github.com/fairyhunter13/options-assistant/internal/config"
	"github.com/fairyhunter13/options-assistant/internal/domain"
	"github.com/fairyhunter13/options-assistant/internal/usecase"
)

// Services is the wired object graph shared by the server and worker
// binaries.
type Services struct {
	Cfg   config.Config
	Pool  *pgxpool.Pool
	Redis *redis.Client
	Clock *clock.Real

	Jobs        *postgres.JobRepo
	Holdings    *postgres.HoldingRepo
	Suggestions *postgres.SuggestionRepo
	States      *postgres.ValidationRepo
	Journal     *postgres.JournalRepo
	Historical  *postgres.HistoricalRepo
	Credentials *postgres.CredentialRepo

	Secrets   *secrets.Store
	Analytics domain.AnalyticsSink
	Market    *marketdata.Service
	Engine    *backtest.Engine

	Strategy   *usecase.StrategyHolder
	Stats      *usecase.CycleStats
	Pause      *usecase.PauseState
	Integrity  *usecase.IntegrityStats
	Generator  *usecase.GeneratorService
	Inbox      *usecase.InboxService
	Validation *usecase.ValidationService
	Trainer    *usecase.TrainerService
	Health     *usecase.HealthService
	Dispatcher *usecase.TaskDispatcher

	closers []func()
}

// Close releases broker and cache connections. The DB pool is closed by
// the caller that created the context.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// Bootstrap builds the full service graph. DB connectivity failure is the
// only fatal error; Redis and Kafka are optional and degrade to disabled.
func Bootstrap(ctx context.Context, cfg config.Config) (*Services, error) {
	clk, err := clock.NewReal()
	if err != nil {
		return nil, fmt.Errorf("op=app.bootstrap: %w", err)
	}

	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("op=app.bootstrap: db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("op=app.bootstrap: db ping: %w", err)
	}

	s := &Services{Cfg: cfg, Pool: pool, Clock: clk}
	s.Jobs = postgres.NewJobRepo(pool)
	s.Holdings = postgres.NewHoldingRepo(pool)
	s.Suggestions = postgres.NewSuggestionRepo(pool)
	s.States = postgres.NewValidationRepo(pool)
	s.Journal = postgres.NewJournalRepo(pool)
	s.Historical = postgres.NewHistoricalRepo(pool)
	s.Credentials = postgres.NewCredentialRepo(pool)

	s.Secrets = secrets.New(cfg.EncryptionKeyBytes(), nil)

	if cfg.RedisAddr != "" {
		s.Redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}
	cache := marketdata.NewQuoteCache(s.Redis, cfg.QuoteCacheTTL)
	breaker := marketdata.NewBreaker(cfg.BreakerMaxFailures, cfg.BreakerOpenFor, clk.Now)
	client := marketdata.NewClient(cfg.MarketDataBaseURL, cfg.MarketDataAPIKey, cfg.ProviderTimeout)
	s.Market = marketdata.NewService(client, cache, breaker, marketdata.GatePolicy{
		StaleAfter:   cfg.QuoteStaleAfter,
		MaxSpreadPct: cfg.MaxSpreadPct,
	}, clk)

	sinks := analytics.Multi{analytics.NewPGSink(pool)}
	if len(cfg.KafkaBrokers) > 0 {
		topic, err := analytics.NewTopicSink(cfg.KafkaBrokers, cfg.AnalyticsTopic)
		if err != nil {
			slog.Warn("analytics topic sink disabled", slog.Any("error", err))
		} else {
			sinks = append(sinks, topic)
			s.closers = append(s.closers, topic.Close)
		}
	}
	s.Analytics = sinks

	s.Engine = backtest.NewEngine(backtest.NewSyntheticSource())

	defaults, err := config.LoadStrategyDefaults(cfg.StrategyDefaultsPath)
	if err != nil {
		return nil, fmt.Errorf("op=app.bootstrap: strategy defaults: %w", err)
	}
	s.Strategy = usecase.NewStrategyHolder(defaults)
	s.Stats = usecase.NewCycleStats()
	s.Pause = usecase.NewPauseState()
	s.Integrity = usecase.NewIntegrityStats()

	s.Generator = usecase.NewGeneratorService(s.Holdings, s.Suggestions, s.Market, s.Analytics, clk, s.Strategy,
		usecase.SizingPolicy{
			MaxRiskPctPerTrade:  cfg.MaxRiskPctPerTrade,
			MaxRiskPctPortfolio: cfg.MaxRiskPctPortfolio,
		}, s.Stats)
	s.Inbox = usecase.NewInboxService(s.Suggestions, s.Holdings, s.Market, s.Analytics, clk,
		time.Duration(cfg.StaleAfterSeconds)*time.Second)
	s.Validation = usecase.NewValidationService(s.States, s.Journal, s.Historical, s.Engine, s.Strategy, s.Analytics, clk,
		usecase.ValidationPolicy{
			WindowDays:       cfg.PaperWindowDays,
			CheckpointTarget: cfg.PaperCheckpointTarget,
			MaxDrawdownPct:   cfg.PaperMaxDrawdownPct,
			MaxLossPct:       cfg.PaperMaxLossPct,
		})
	s.Trainer = usecase.NewTrainerService(s.Engine, s.Strategy, s.Journal, s.Analytics, clk, usecase.TunerPolicy{
		Symbol:        "SPY",
		GoalReturnPct: 0,
	})
	s.Health = usecase.NewHealthService(s.Jobs, s.Suggestions, s.Market, clk, s.Stats, s.Pause, s.Integrity, usecase.Cadences(),
		[]string{
			fmt.Sprintf("per_trade_risk_cap=%.1f%%", cfg.MaxRiskPctPerTrade),
			fmt.Sprintf("portfolio_risk_cap=%.1f%%", cfg.MaxRiskPctPortfolio),
		})
	s.Dispatcher = usecase.NewTaskDispatcher(s.Jobs, s.Analytics, clk, s.Pause)

	return s, nil
}

// NewWorkerPool builds the queue pool with per-job deadlines and a seeded
// backoff.
func (s *Services) NewWorkerPool() *pgqueue.Pool {
	cfg := s.Cfg
	bo := pgqueue.NewBackoff(cfg.BackoffBase, cfg.BackoffCap, rand.New(rand.NewSource(time.Now().UnixNano()))) //nolint:gosec // jitter does not need crypto randomness
	return pgqueue.NewPool(s.Jobs, s.Clock, bo, pgqueue.Options{
		Workers:      cfg.WorkerCount,
		BatchSize:    cfg.WorkerBatchSize,
		PollInterval: cfg.WorkerPollInterval,
		Deadline: func(jobName string) time.Duration {
			if jobName == domain.JobValidationRun || jobName == domain.JobAutotune {
				return cfg.HistoricalDeadline
			}
			return cfg.GeneratorDeadline
		},
	})
}
